package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/api-relay/api-relay/internal/cache"
	"github.com/api-relay/api-relay/internal/proxy"
	"github.com/api-relay/api-relay/internal/server"
	"github.com/api-relay/api-relay/internal/server/routes"
)

// newRelayApp 按 main.go 的装配顺序搭建完整应用：共享 client、
// 内存缓存、代理 handler、诊断路由，上游指向测试桩。
func newRelayApp(t *testing.T, upstream string, mutate func(*proxy.Defaults)) (*fiber.App, *cache.Store) {
	t.Helper()

	base, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("解析上游地址失败: %v", err)
	}

	defaults := proxy.Defaults{
		BaseURL:    base,
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

	handler := proxy.NewHandler(server.NewUpstreamClient(), logger, store, defaults)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: 5100,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	routes.RegisterDiagnostics(app, store)
	return app, store
}

// doProxy 向 /proxy 提交一次调用并解析统一 Result 信封。
func doProxy(t *testing.T, app *fiber.App, body string) proxy.Result {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(body))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("代理层应始终返回 200，得到 %d", resp.StatusCode)
	}

	var result proxy.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("解析 Result 失败: %v", err)
	}
	return result
}
