package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/api-relay/api-relay/internal/cache"
	"github.com/api-relay/api-relay/internal/logging"
	"github.com/api-relay/api-relay/internal/server"
)

// Handler 负责 orchestrate “规范化 → 缓存查找 → 调度重试 → 结果封装”
// 的全流程，对外暴露 Fiber handler，内部复用共享 http.Client 与内存缓存。
type Handler struct {
	client   *http.Client
	logger   *logrus.Logger
	store    *cache.Store
	defaults Defaults
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store *cache.Store, defaults Defaults) *Handler {
	return &Handler{
		client:   client,
		logger:   logger,
		store:    store,
		defaults: defaults,
	}
}

// Handle 解析入站 JSON 请求并执行完整代理调用。代理层自身始终以
// HTTP 200 返回 Result；只有请求体不是合法 JSON 时返回 400。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	var raw RawRequest
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := h.Call(ctx, raw)
	h.logResult(raw, result, requestID, started)
	return c.JSON(result)
}

// Call 执行一次完整的代理调用（可能跨多次重试尝试），始终返回 Result
// 而不是 error：所有失败形态都已编码在 Result 中。
func (h *Handler) Call(ctx context.Context, raw RawRequest) Result {
	req, verr := Normalize(raw, h.defaults)
	if verr != nil {
		return validationResult(verr)
	}

	key := cache.Key(req.Method, req.Target, req.Body)
	useCache := req.Method == http.MethodGet && h.store != nil && req.CacheTTL > 0
	if useCache {
		if data, ok := h.store.Lookup(key, req.CacheTTL); ok {
			return cachedResult(data)
		}
	}

	outcome, attempts, exhausted := h.executeWithRetry(ctx, req)
	if outcome.kind == outcomeComplete {
		if useCache && outcome.cacheable {
			h.store.Put(key, outcome.data)
		}
		return completeResult(outcome, attempts)
	}
	return failureResult(outcome, attempts, exhausted)
}

func (h *Handler) logResult(raw RawRequest, result Result, requestID string, started time.Time) {
	fields := logging.CallFields(raw.Method, raw.URL, result.Cached, result.Attempts)
	fields["action"] = "proxy"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result.Status > 0 {
		fields["upstream_status"] = result.Status
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if !result.Success {
		fields["error"] = result.ErrorKind
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
