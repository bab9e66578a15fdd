package proxy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// executeWithRetry 串行执行外发尝试。瞬时失败在预算内按指数退避重试，
// 返回最终 outcome、产生它的尝试序号（1 起）以及预算是否耗尽。
func (h *Handler) executeWithRetry(ctx context.Context, req Request) (attemptOutcome, int, bool) {
	totalAttempts := req.MaxRetries + 1
	var last attemptOutcome

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		outcome := h.dispatch(ctx, req)
		if outcome.kind != outcomeTransient {
			return outcome, attempt, false
		}

		last = outcome
		if attempt == totalAttempts {
			break
		}

		delay := backoffDelay(h.defaults.Backoff, attempt)
		h.logger.WithFields(logrus.Fields{
			"action":   "proxy_retry",
			"target":   req.Target,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"reason":   outcome.errorKind,
		}).Warn("proxy_retry")

		if !sleepBackoff(ctx, delay) {
			// 退避期间被取消：直接返回最后一次失败，不再计入耗尽。
			return last, attempt, false
		}
	}

	return last, totalAttempts, true
}

// backoffDelay 返回第 retry 次重试前的等待时长：initial * 2^retry。
// 默认 initial 为 1s 时依次为 2s、4s、8s，无抖动。
func backoffDelay(initial time.Duration, retry int) time.Duration {
	if retry > 30 {
		retry = 30
	}
	return initial << uint(retry)
}

// sleepBackoff 等待退避间隔，ctx 取消时提前返回 false。
func sleepBackoff(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
