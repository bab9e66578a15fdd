package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/api-relay/api-relay/internal/server"
)

// outcomeKind 标记单次尝试的结局，重试循环按标签分支而非捕获异常。
type outcomeKind int

const (
	// outcomeComplete 表示调用完成（含 2xx/3xx/4xx），由调用方检查 status。
	outcomeComplete outcomeKind = iota
	// outcomeTransient 表示超时/网络错误/5xx，可在预算内重试。
	outcomeTransient
	// outcomeAborted 表示上层取消了调用，不重试。
	outcomeAborted
)

// attemptOutcome 是一次外发尝试的完整结果。
type attemptOutcome struct {
	kind       outcomeKind
	status     int
	statusText string
	data       any
	headers    map[string]string
	cacheable  bool
	errorKind  string
	message    string
}

// dispatch 执行一次带硬超时的外发调用并分类结果。
func (h *Handler) dispatch(ctx context.Context, req Request) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := h.buildOutboundRequest(attemptCtx, req)
	if err != nil {
		return attemptOutcome{
			kind:      outcomeTransient,
			errorKind: ErrKindNetwork,
			message:   fmt.Sprintf("build request failed: %v", err),
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(ctx, attemptCtx, err, req.Timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		// 5xx 丢弃正文，仅保留状态用于重试决策与最终报告。
		_, _ = io.Copy(io.Discard, resp.Body)
		return attemptOutcome{
			kind:       outcomeTransient,
			status:     resp.StatusCode,
			statusText: http.StatusText(resp.StatusCode),
			errorKind:  ErrKindServerError,
			message:    fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		}
	}

	data, textual, err := classifyBody(resp)
	if err != nil {
		return attemptOutcome{
			kind:      outcomeTransient,
			errorKind: ErrKindNetwork,
			message:   fmt.Sprintf("read response body failed: %v", err),
		}
	}

	outcome := attemptOutcome{
		kind:       outcomeComplete,
		status:     resp.StatusCode,
		statusText: http.StatusText(resp.StatusCode),
		data:       data,
		headers:    flattenHeaders(resp.Header),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.cacheable = textual && data != nil
	} else {
		outcome.errorKind = ErrKindClientError
		outcome.message = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
	}
	return outcome
}

// buildOutboundRequest 构建外发请求：默认头可被调用方覆盖，
// hop-by-hop 头不透传。
func (h *Handler) buildOutboundRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.HasBody {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Target, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", h.defaults.UserAgent)
	for key, value := range req.Headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// classifyTransportError 区分超时、上层取消与一般网络错误。
func classifyTransportError(parent, attempt context.Context, err error, timeout time.Duration) attemptOutcome {
	if parent.Err() != nil {
		return attemptOutcome{
			kind:      outcomeAborted,
			errorKind: ErrKindTimeout,
			message:   "request aborted by caller",
		}
	}
	if attempt.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return attemptOutcome{
			kind:      outcomeTransient,
			errorKind: ErrKindTimeout,
			message:   fmt.Sprintf("attempt timed out after %s", timeout.String()),
		}
	}
	return attemptOutcome{
		kind:      outcomeTransient,
		errorKind: ErrKindNetwork,
		message:   err.Error(),
	}
}

// classifyBody 按声明的 Content-Type 解析正文：JSON 解析为结构化数据
// （解析失败降级为文本），文本按字符串读取，其余只记录摘要避免把二进制
// 载荷整体放进结果。textual 表示结果可进入缓存。
func classifyBody(resp *http.Response) (data any, textual bool, err error) {
	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		mediaType = parsed
	}

	switch {
	case isJSONMediaType(mediaType):
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, false, readErr
		}
		if len(raw) == 0 {
			return nil, true, nil
		}
		var decoded any
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			// 声明是 JSON 但解析失败，降级为文本而不是让整次尝试失败。
			return string(raw), true, nil
		}
		return decoded, true, nil
	case isTextMediaType(mediaType):
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, false, readErr
		}
		if len(raw) == 0 {
			return nil, true, nil
		}
		return string(raw), true, nil
	default:
		size, readErr := io.Copy(io.Discard, resp.Body)
		if readErr != nil {
			return nil, false, readErr
		}
		return map[string]any{
			"type":        "binary",
			"size":        size,
			"contentType": contentType,
		}, false, nil
	}
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isTextMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/xml", "application/javascript", "application/x-www-form-urlencoded", "":
		return true
	}
	return strings.HasSuffix(mediaType, "+xml")
}

// flattenHeaders 取每个响应头的首值，hop-by-hop 头不回传。
func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if server.IsHopByHopHeader(key) || len(values) == 0 {
			continue
		}
		flat[key] = values[0]
	}
	return flat
}
