package proxy

import "time"

// Result 是每次代理调用的统一出参。成功与失败共用一个结构，
// 通过 Success 与 ErrorKind 区分，JSON 字段按需省略。
type Result struct {
	Success          bool              `json:"success"`
	Status           int               `json:"status,omitempty"`
	StatusText       string            `json:"statusText,omitempty"`
	Data             any               `json:"data,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Cached           bool              `json:"cached"`
	Attempts         int               `json:"attempts"`
	ErrorKind        string            `json:"errorKind,omitempty"`
	Message          string            `json:"message,omitempty"`
	RetriesExhausted bool              `json:"retriesExhausted,omitempty"`
	TotalAttempts    int               `json:"totalAttempts,omitempty"`
	Timestamp        string            `json:"timestamp"`
}

func resultTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// validationResult 包装 fail-fast 校验失败，attempts 为 0 表示未发起调用。
func validationResult(verr *ValidationError) Result {
	return Result{
		ErrorKind: verr.Kind,
		Message:   verr.Message,
		Timestamp: resultTimestamp(),
	}
}

// cachedResult 包装缓存命中：绕过调度器，无实时响应元数据可带。
func cachedResult(data any) Result {
	return Result{
		Success:   true,
		Data:      data,
		Cached:    true,
		Timestamp: resultTimestamp(),
	}
}

// completeResult 包装一次完成的调用；非 2xx 时 Success 为 false，
// status 原样携带由调用方检查。
func completeResult(outcome attemptOutcome, attempts int) Result {
	return Result{
		Success:    outcome.status >= 200 && outcome.status < 300,
		Status:     outcome.status,
		StatusText: outcome.statusText,
		Data:       outcome.data,
		Headers:    outcome.headers,
		Attempts:   attempts,
		ErrorKind:  outcome.errorKind,
		Message:    outcome.message,
		Timestamp:  resultTimestamp(),
	}
}

// failureResult 包装瞬时失败的最终结果；预算耗尽时补充
// retriesExhausted 与 totalAttempts。
func failureResult(outcome attemptOutcome, attempts int, exhausted bool) Result {
	result := Result{
		Status:     outcome.status,
		StatusText: outcome.statusText,
		Attempts:   attempts,
		ErrorKind:  outcome.errorKind,
		Message:    outcome.message,
		Timestamp:  resultTimestamp(),
	}
	if exhausted {
		result.RetriesExhausted = true
		result.TotalAttempts = attempts
	}
	return result
}
