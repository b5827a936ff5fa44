package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/EnrollSync/app/controllers"
	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/app/repository"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/cache"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/database"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/env"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/mail"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/middleware"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down")
		manager.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	if err := models.LoadSettings(db, settingsFromEnv()); err != nil {
		panic(err)
	}
	settings := models.GetAppSettings()
	repository.InitializeFactory(db)

	opts := []billing.Option{billing.WithProviderTimeout(settings.GetProviderTimeout())}
	// Keep a nil *HTTPProviderClient out of the interface.
	if client := billing.NewProviderClientFromEnv(); client != nil {
		opts = append(opts, billing.WithProviderClient(client))
	} else {
		log.Warn("[Billing] STRIPE_SECRET_KEY not set, incomplete invoices will not be re-fetched")
	}
	if mailer := mail.NewAlertMailerFromEnv(); mailer != nil {
		opts = append(opts, billing.WithFailureNotifier(mailer))
	}
	svc := billing.NewServiceFromDB(db, opts...)

	queue := jobqueue.NewQueue(cache.GetClient(), svc, jobqueue.QueueConfigFromSettings(settings))
	manager := jobqueue.InitManager(queue)
	manager.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhooks: &controllers.WebhookController{
			Service:       svc,
			Queue:         queue,
			WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			AllowUnsigned: env.IsDev() && strings.EqualFold(env.GetEnv("WEBHOOK_ALLOW_UNSIGNED", ""), "true"),
		},
		Ops: &controllers.OpsController{
			Service:  svc,
			Queue:    queue,
			DB:       db,
			Redis:    cache.GetClient(),
			Settings: repository.GetGlobalFactory().GetSettingRepository(),
		},
		RateLimitStorage: middleware.NewRedisLimiterStorage(),
		RateLimitMax:     env.GetEnvInt("WEBHOOK_RATE_LIMIT", middleware.DefaultWebhookRateLimit),
		RateLimitWindow:  middleware.DefaultWebhookRateWindow,
		OpsUser:          env.GetEnv("OPS_USER", ""),
		OpsPasswordHash:  env.GetEnv("OPS_PASSWORD_HASH", ""),
	})

	return app, manager
}

// settingsFromEnv returns env overrides used until the settings table holds a
// value for the key.
func settingsFromEnv() *models.AppSettings {
	return &models.AppSettings{
		WebhookWorkerCount:     env.GetEnvInt("WEBHOOK_WORKER_COUNT", 0),
		WebhookMaxAttempts:     env.GetEnvInt("WEBHOOK_MAX_ATTEMPTS", 0),
		WebhookRetryDelays:     env.GetEnv("WEBHOOK_RETRY_DELAYS", ""),
		ProviderTimeoutSeconds: env.GetEnvInt("BILLING_PROVIDER_TIMEOUT", 0),
	}
}
