package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/api-relay/api-relay/internal/cache"
	"github.com/api-relay/api-relay/internal/version"
)

// RegisterDiagnostics 暴露 /-/ 诊断接口，供 SRE 查询存活状态与缓存指标。
func RegisterDiagnostics(app *fiber.App, store *cache.Store) {
	if app == nil || store == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(store.Stats())
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		removed := store.Purge()
		return c.JSON(fiber.Map{
			"purged": removed,
		})
	})
}
