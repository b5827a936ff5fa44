package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/EnrollSync/internal/pkg/middleware"
)

type OpsRouter struct {
	deps Dependencies
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.deps.Ops.HandleHealthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	ops := app.Group("/ops", middleware.OpsBasicAuth(h.deps.OpsUser, h.deps.OpsPasswordHash))
	ops.Get("/webhooks/:id", h.deps.Ops.HandleGetWebhookEvent)
	ops.Post("/webhooks/:id/replay", h.deps.Ops.HandleReplayWebhookEvent)
	ops.Get("/queue/stats", h.deps.Ops.HandleQueueStats)
	ops.Get("/settings", h.deps.Ops.HandleGetSettings)
	ops.Put("/settings/:key", h.deps.Ops.HandleUpdateSetting)
}

func NewOpsRouter(deps Dependencies) *OpsRouter {
	return &OpsRouter{deps: deps}
}
