package middleware

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/EnrollSync/internal/pkg/cache"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/env"
)

const (
	DefaultWebhookRateLimit  = 300
	DefaultWebhookRateWindow = time.Minute
	rateLimitDatabase        = 1
)

// NewRedisLimiterStorage builds limiter storage on the cache server so that
// every instance shares one counter. It uses database 1, the cache uses 0.
func NewRedisLimiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnvInt("CACHE_PORT", 6379)
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: rateLimitDatabase,
		Reset:    false,
	})
}

// WebhookRateLimiter limits deliveries per client IP. A nil storage keeps
// counters in memory.
func WebhookRateLimiter(storage fiber.Storage, limit int, window time.Duration) fiber.Handler {
	if limit <= 0 {
		limit = DefaultWebhookRateLimit
	}
	if window <= 0 {
		window = DefaultWebhookRateWindow
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warnf("[Webhook] Rate limit reached for %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}
