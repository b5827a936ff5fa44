package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/EnrollSync/app/repository"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/jobqueue"
)

// QueueInspector exposes queue counters to the ops API.
type QueueInspector interface {
	WebhookEnqueuer
	Stats(ctx context.Context) (*jobqueue.QueueStats, error)
}

// OpsController serves ledger inspection, manual replay and health checks.
type OpsController struct {
	Service  *billing.Service
	Queue    QueueInspector
	DB       *gorm.DB
	Redis    *redis.Client
	Settings repository.SettingRepository
}

func (o *OpsController) HandleGetWebhookEvent(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	entry, err := o.Service.GetWebhookEvent(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Errorf("[Ops] Failed to load ledger entry %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(entry)
}

// HandleReplayWebhookEvent resets a ledger entry to pending and enqueues it.
func (o *OpsController) HandleReplayWebhookEvent(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	entry, err := o.Service.ReplayWebhookEvent(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Errorf("[Ops] Failed to reset ledger entry %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "replay_failed"})
	}

	job, err := o.Queue.EnqueueWebhookEvent(c.UserContext(), entry)
	if err != nil {
		log.Errorf("[Ops] Failed to enqueue replay of ledger entry %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_enqueue_failed"})
	}
	log.Infof("[Ops] Replaying ledger entry %d as job %s", entry.ID, job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "job_id": job.ID, "entry": entry})
}

func (o *OpsController) HandleQueueStats(c *fiber.Ctx) error {
	stats, err := o.Queue.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[Ops] Failed to read queue stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (o *OpsController) HandleGetSettings(c *fiber.Ctx) error {
	current, err := o.Settings.Get()
	if err != nil {
		log.Errorf("[Ops] Failed to load settings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_failed"})
	}
	stored, err := o.Settings.All()
	if err != nil {
		log.Errorf("[Ops] Failed to list settings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"effective": current, "stored": stored})
}

// HandleUpdateSetting stores one setting. Queue tunables apply on restart.
func (o *OpsController) HandleUpdateSetting(c *fiber.Ctx) error {
	var body struct {
		Value string `json:"value"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	key := c.Params("key")
	if err := o.Settings.SetValue(key, body.Value); err != nil {
		if errors.Is(err, repository.ErrInvalidSetting) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_setting", "message": err.Error()})
		}
		log.Errorf("[Ops] Failed to store setting %s: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_failed"})
	}
	log.Infof("[Ops] Setting %s updated", key)

	current, err := o.Settings.Get()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settings_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "effective": current})
}

// HandleHealthz reports database and cache reachability.
func (o *OpsController) HandleHealthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{"database": "ok", "cache": "ok"}
	healthy := true

	if o.DB == nil {
		checks["database"] = "not configured"
		healthy = false
	} else if sqlDB, err := o.DB.DB(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if o.Redis == nil {
		checks["cache"] = "not configured"
		healthy = false
	} else if err := o.Redis.Ping(ctx).Err(); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": checks})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "checks": checks})
}

func parseLedgerID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid ledger id")
	}
	return uint(id), nil
}
