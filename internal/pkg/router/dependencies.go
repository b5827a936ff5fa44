package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/EnrollSync/app/controllers"
)

// Dependencies carries everything the routers need from the application.
type Dependencies struct {
	Webhooks *controllers.WebhookController
	Ops      *controllers.OpsController

	// RateLimitStorage backs the webhook limiter. Nil keeps counters in memory.
	RateLimitStorage fiber.Storage
	RateLimitMax     int
	RateLimitWindow  time.Duration

	OpsUser         string
	OpsPasswordHash string
}
