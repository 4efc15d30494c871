package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"tradepool.com/internal/config"
	"tradepool.com/internal/event"
)

// NewServer 组装命令协议的 HTTP 服务
func NewServer(cfg *config.Config, cp *ControlPlaneRef, bus *event.Bus) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.Server.AppName,
		DisableStartupMessage: true,
	})

	app.Use(fiberlogger.New())

	handler := NewDaemonHandler(cp)

	app.Get("/health", handler.Health)
	app.Get("/status", handler.Status)
	app.Post("/deploy", handler.Deploy)
	app.Post("/shutdown", handler.Shutdown)

	strategy := app.Group("/strategy")
	strategy.Post("/deploy", handler.Deploy)
	strategy.Post("/pause", handler.Pause)
	strategy.Post("/resume", handler.Resume)
	strategy.Post("/undeploy", handler.Undeploy)

	app.Post("/portfolio/rebalance", handler.Rebalance)

	hub := NewWsHub()
	hub.Attach(bus)
	hub.RegisterRoutes(app)

	return app
}
