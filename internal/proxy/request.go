package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 校验阶段错误码：未发起任何网络调用即返回。
const (
	ErrKindMissingURL    = "missing_url"
	ErrKindInvalidURL    = "invalid_url"
	ErrKindInvalidMethod = "invalid_method"
	ErrKindInvalidBody   = "invalid_body"
)

// 调用阶段错误码。timeout/network_error/http_server_error 属于瞬时
// 失败可重试；http_client_error 原样返回由调用方检查 status。
const (
	ErrKindTimeout     = "timeout"
	ErrKindNetwork     = "network_error"
	ErrKindServerError = "http_server_error"
	ErrKindClientError = "http_client_error"
)

// RawRequest 对应入站 JSON 的原始形态，未经校验。
// MaxRetries/CacheTTLMs 使用指针区分“未提供”与显式 0。
type RawRequest struct {
	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	TimeoutMs  int64             `json:"timeoutMs,omitempty"`
	MaxRetries *int              `json:"maxRetries,omitempty"`
	CacheTTLMs *int64            `json:"cacheTtlMs,omitempty"`
}

// Request 是规范化后的代理请求：URL 已绝对化，method 合法，
// body 已序列化为文本，默认值全部填充。
type Request struct {
	Target     string
	Method     string
	Headers    map[string]string
	Body       string
	HasBody    bool
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// Defaults 汇总 Normalize 与重试循环需要的全局参数，由配置层构造。
type Defaults struct {
	BaseURL    *url.URL
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
	Backoff    time.Duration
	UserAgent  string
}

// ValidationError 描述 fail-fast 的校验失败。
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodDelete:  {},
	http.MethodPatch:   {},
	http.MethodHead:    {},
	http.MethodOptions: {},
}

const allowedMethodList = "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS"

// bodyMethods 列出允许携带 body 的方法，其余方法的 body 会被忽略。
var bodyMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// Normalize 校验原始请求并产出 Request，任何一步失败立即返回
// ValidationError，不发起网络调用。
func Normalize(raw RawRequest, defaults Defaults) (Request, *ValidationError) {
	target, verr := resolveTarget(raw.URL, defaults.BaseURL)
	if verr != nil {
		return Request{}, verr
	}

	method := strings.ToUpper(strings.TrimSpace(raw.Method))
	if method == "" {
		method = http.MethodGet
	}
	if _, ok := allowedMethods[method]; !ok {
		return Request{}, &ValidationError{
			Kind:    ErrKindInvalidMethod,
			Message: fmt.Sprintf("method %s not allowed, expected one of: %s", method, allowedMethodList),
		}
	}

	req := Request{
		Target:     target,
		Method:     method,
		Timeout:    defaults.Timeout,
		MaxRetries: defaults.MaxRetries,
		CacheTTL:   defaults.CacheTTL,
	}

	if len(raw.Headers) > 0 {
		req.Headers = make(map[string]string, len(raw.Headers))
		for key, value := range raw.Headers {
			req.Headers[key] = value
		}
	}

	if raw.Body != nil {
		if _, ok := bodyMethods[method]; ok {
			body, err := serializeBody(raw.Body)
			if err != nil {
				return Request{}, &ValidationError{
					Kind:    ErrKindInvalidBody,
					Message: fmt.Sprintf("body serialization failed: %v", err),
				}
			}
			req.Body = body
			req.HasBody = true
		}
	}

	if raw.TimeoutMs > 0 {
		req.Timeout = time.Duration(raw.TimeoutMs) * time.Millisecond
	}
	if raw.MaxRetries != nil && *raw.MaxRetries >= 0 {
		req.MaxRetries = *raw.MaxRetries
	}
	if raw.CacheTTLMs != nil && *raw.CacheTTLMs >= 0 {
		req.CacheTTL = time.Duration(*raw.CacheTTLMs) * time.Millisecond
	}

	return req, nil
}

// resolveTarget 将相对路径拼接到固定基地址，并确保结果是合法的
// http/https 绝对 URL。
func resolveTarget(raw string, base *url.URL) (string, *ValidationError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Kind: ErrKindMissingURL, Message: "url is required"}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{
			Kind:    ErrKindInvalidURL,
			Message: fmt.Sprintf("invalid url %q: %v", trimmed, err),
		}
	}

	if !parsed.IsAbs() {
		if base == nil {
			return "", &ValidationError{
				Kind:    ErrKindInvalidURL,
				Message: fmt.Sprintf("relative url %q requires a base address", trimmed),
			}
		}
		parsed = base.ResolveReference(parsed)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", &ValidationError{
			Kind:    ErrKindInvalidURL,
			Message: fmt.Sprintf("url %q does not resolve to an absolute http/https address", trimmed),
		}
	}

	return parsed.String(), nil
}

// serializeBody 把非字符串 body 序列化为 JSON 文本；字符串按字节原样透传。
func serializeBody(body any) (string, error) {
	if text, ok := body.(string); ok {
		return text, nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
