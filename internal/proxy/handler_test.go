package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/api-relay/api-relay/internal/cache"
)

// newTestHandler 构建指向 base 的测试 Handler：静默日志、独立缓存、
// 毫秒级退避让重试用例跑得快。
func newTestHandler(t *testing.T, base string, mutate func(*Defaults)) *Handler {
	t.Helper()

	baseURL, err := url.Parse(base)
	if err != nil {
		t.Fatalf("解析 base url 失败: %v", err)
	}

	defaults := Defaults{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		CacheTTL:   5 * time.Minute,
		Backoff:    time.Millisecond,
		UserAgent:  "api-relay/test",
	}
	if mutate != nil {
		mutate(&defaults)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := cache.New(cache.Options{SweepInterval: time.Hour})
	t.Cleanup(store.Close)

	return NewHandler(&http.Client{}, logger, store, defaults)
}

func jsonUpstream(t *testing.T, calls *atomic.Int32, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallCacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := jsonUpstream(t, &calls, `{"id":1,"title":"foo"}`)

	h := newTestHandler(t, srv.URL, nil)
	raw := RawRequest{URL: "/posts/1"}

	first := h.Call(context.Background(), raw)
	if !first.Success || first.Cached || first.Attempts != 1 {
		t.Fatalf("首次调用应走网络: %+v", first)
	}

	second := h.Call(context.Background(), raw)
	if !second.Success || !second.Cached || second.Attempts != 0 {
		t.Fatalf("二次调用应命中缓存且 attempts=0: %+v", second)
	}
	if second.Status != 0 || len(second.Headers) != 0 {
		t.Fatalf("缓存命中不应携带实时响应元数据: %+v", second)
	}
	if !reflect.DeepEqual(first.Data, second.Data) {
		t.Fatalf("缓存数据应与首次响应一致")
	}
	if calls.Load() != 1 {
		t.Fatalf("缓存命中不应触达上游，得到 %d 次", calls.Load())
	}
}

func TestCallExpiredEntryRefetches(t *testing.T) {
	var calls atomic.Int32
	srv := jsonUpstream(t, &calls, `{"fresh":true}`)

	h := newTestHandler(t, srv.URL, nil)
	ttl := int64(30)
	raw := RawRequest{URL: "/posts/1", CacheTTLMs: &ttl}

	h.Call(context.Background(), raw)
	time.Sleep(60 * time.Millisecond)

	result := h.Call(context.Background(), raw)
	if result.Cached {
		t.Fatalf("过期条目不应命中: %+v", result)
	}
	if calls.Load() != 2 {
		t.Fatalf("过期后应重新请求上游，得到 %d 次", calls.Load())
	}
}

func TestCallNonGetBypassesCache(t *testing.T) {
	var calls atomic.Int32
	srv := jsonUpstream(t, &calls, `{"created":true}`)

	h := newTestHandler(t, srv.URL, nil)
	raw := RawRequest{URL: "/posts", Method: "POST", Body: map[string]any{"title": "foo"}}

	h.Call(context.Background(), raw)
	h.Call(context.Background(), raw)

	if calls.Load() != 2 {
		t.Fatalf("POST 不应走缓存，得到 %d 次", calls.Load())
	}
	if h.store.Len() != 0 {
		t.Fatalf("POST 结果不应写入缓存，得到 %d 条", h.store.Len())
	}
}

func TestCallBinaryResponseNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(make([]byte, 64))
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	raw := RawRequest{URL: "/blob"}

	result := h.Call(context.Background(), raw)
	summary, ok := result.Data.(map[string]any)
	if !ok || summary["type"] != "binary" {
		t.Fatalf("二进制响应应返回摘要: %+v", result.Data)
	}

	h.Call(context.Background(), raw)
	if calls.Load() != 2 {
		t.Fatalf("二进制摘要不应缓存，得到 %d 次", calls.Load())
	}
}

func TestCallValidationFailsFast(t *testing.T) {
	h := newTestHandler(t, "https://api.builder.example.com", nil)
	result := h.Call(context.Background(), RawRequest{})
	if result.Success || result.ErrorKind != ErrKindMissingURL || result.Attempts != 0 {
		t.Fatalf("校验失败应 fail-fast 且 attempts=0: %+v", result)
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	retries := 1
	result := h.Call(context.Background(), RawRequest{URL: "/down", MaxRetries: &retries})
	if result.Success {
		t.Fatalf("持续 5xx 不应成功: %+v", result)
	}
	if result.ErrorKind != ErrKindServerError || result.Status != http.StatusServiceUnavailable {
		t.Fatalf("应携带最终状态与 http_server_error: %+v", result)
	}
	if !result.RetriesExhausted || result.TotalAttempts != 2 || result.Attempts != 2 {
		t.Fatalf("预算 2 次应标记耗尽: %+v", result)
	}
}

func TestCallTimeoutSurfacesKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	retries := 0
	result := h.Call(context.Background(), RawRequest{URL: "/slow", TimeoutMs: 30, MaxRetries: &retries})
	if result.Success || result.ErrorKind != ErrKindTimeout {
		t.Fatalf("超时应标记 timeout: %+v", result)
	}
	if !result.RetriesExhausted || result.TotalAttempts != 1 {
		t.Fatalf("无重试预算时首次超时即耗尽: %+v", result)
	}
}

func TestCallClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	result := h.Call(context.Background(), RawRequest{URL: "/missing"})
	if result.Success || result.Status != http.StatusNotFound {
		t.Fatalf("404 应透传状态: %+v", result)
	}
	if result.ErrorKind != ErrKindClientError || result.Attempts != 1 || result.RetriesExhausted {
		t.Fatalf("4xx 不应重试: %+v", result)
	}
	if calls.Load() != 1 {
		t.Fatalf("上游应只被调用 1 次，得到 %d", calls.Load())
	}
}

func TestCallPostBodyRoundTrip(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	body := map[string]any{"id": 1, "title": "foo"}
	result := h.Call(context.Background(), RawRequest{URL: "/posts", Method: "POST", Body: body})
	if !result.Success {
		t.Fatalf("POST 应成功: %+v", result)
	}

	want, _ := json.Marshal(body)
	if string(received) != string(want) {
		t.Fatalf("上游应收到序列化后的 JSON 正文，得到 %s", received)
	}
}

func newTestApp(h *Handler) *fiber.App {
	app := fiber.New()
	app.Post("/proxy", h.Handle)
	return app
}

func TestHandleMalformedJSON(t *testing.T) {
	h := newTestHandler(t, "https://api.builder.example.com", nil)
	app := newTestApp(h)

	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(`{not json`))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("非法 JSON 应返回 400，得到 %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析错误响应失败: %v", err)
	}
	if payload["error"] != "invalid_request_body" {
		t.Fatalf("错误码不符: %+v", payload)
	}
}

func TestHandleReturnsResultEnvelope(t *testing.T) {
	var calls atomic.Int32
	srv := jsonUpstream(t, &calls, `{"id":1}`)

	h := newTestHandler(t, srv.URL, nil)
	app := newTestApp(h)

	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(`{"url":"/posts/1"}`))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("代理层应始终返回 200，得到 %d", resp.StatusCode)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("解析 Result 失败: %v", err)
	}
	if !result.Success || result.Status != http.StatusOK || result.Attempts != 1 {
		t.Fatalf("Result 内容不符: %+v", result)
	}
	if result.Timestamp == "" {
		t.Fatalf("Result 应携带时间戳")
	}
}

func TestHandleUpstreamFailureStill200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler(t, srv.URL, nil)
	app := newTestApp(h)

	retriesZero := `{"url":"/down","maxRetries":0}`
	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(retriesZero))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("上游失败也应返回 200 包裹的 Result，得到 %d", resp.StatusCode)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("解析 Result 失败: %v", err)
	}
	if result.Success || result.ErrorKind != ErrKindServerError {
		t.Fatalf("Result 应编码上游失败: %+v", result)
	}
}
