package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/jobqueue"
)

const webhookRequestTimeout = 15 * time.Second

// WebhookEnqueuer schedules a recorded ledger entry for dispatch. When the
// entry already has a live job, that job is returned and nothing is queued.
type WebhookEnqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, entry *models.WebhookEvent) (*jobqueue.Job, error)
}

// WebhookController accepts provider webhooks, records them in the ledger and
// hands them to the queue.
type WebhookController struct {
	Service            *billing.Service
	Queue              WebhookEnqueuer
	WebhookSecret      string
	SignatureTolerance time.Duration
	// AllowUnsigned accepts deliveries without verification when no secret is
	// configured. Entries are then recorded with signature_valid=false.
	AllowUnsigned bool
	Now           func() time.Time
}

func (w *WebhookController) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	eventType := firstHeaderValue(c, "X-Event-Type", "X-Stripe-Event-Type")
	eventID := firstHeaderValue(c, "X-Event-ID", "X-Stripe-Event-ID")

	signatureValid := false
	secret := strings.TrimSpace(w.WebhookSecret)
	switch {
	case secret != "":
		tolerance := w.SignatureTolerance
		if tolerance == 0 {
			tolerance = billing.DefaultSignatureTolerance
		}
		if !billing.VerifyWebhookSignature(rawBody, signature, secret, tolerance, w.now()) {
			log.Warnf("[Webhook] Rejected delivery with invalid signature from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		signatureValid = true
	case !w.AllowUnsigned:
		log.Error("[Webhook] STRIPE_WEBHOOK_SECRET is not configured, rejecting delivery")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	default:
		log.Warn("[Webhook] Accepting unsigned delivery, no webhook secret configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookRequestTimeout)
	defer cancel()

	created, stored, err := w.Service.IngestWebhook(ctx, rawBody, eventType, eventID, signatureValid)
	if err != nil {
		if billing.IsInvalidPayload(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		log.Errorf("[Webhook] Failed to record delivery: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	// A duplicate of an entry that never left pending is handed to the queue
	// again in case the first enqueue was lost.
	if !created && stored.Status != models.WebhookStatusPending {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if _, err := w.Queue.EnqueueWebhookEvent(ctx, stored); err != nil {
		log.Errorf("[Webhook] Failed to enqueue ledger entry %d: %v", stored.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_enqueue_failed"})
	}

	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
