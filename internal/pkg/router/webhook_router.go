package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/EnrollSync/internal/pkg/middleware"
)

type WebhookRouter struct {
	deps Dependencies
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks", middleware.WebhookRateLimiter(
		h.deps.RateLimitStorage,
		h.deps.RateLimitMax,
		h.deps.RateLimitWindow,
	))

	// Signature verified in controller
	webhooks.Post("/stripe", h.deps.Webhooks.HandleStripeWebhook)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
