package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const defaultProviderTimeout = 90 * time.Second

// Service records provider webhooks and reconciles them into enrollments and
// orders.
type Service struct {
	repo            Repository
	provider        ProviderClient
	orders          OrderMaterializer
	providerTimeout time.Duration
	notifier        FailureNotifier
	now             func() time.Time
}

// FailureNotifier is told when a ledger entry fails permanently after retries.
type FailureNotifier interface {
	NotifyRetriesExhausted(ctx context.Context, entry *models.WebhookEvent, subscriptionID, reason string) error
}

// Option configures a Service.
type Option func(*Service)

// WithProviderClient enables re-fetching incomplete invoices.
func WithProviderClient(c ProviderClient) Option {
	return func(s *Service) { s.provider = c }
}

func WithOrderMaterializer(m OrderMaterializer) Option {
	return func(s *Service) { s.orders = m }
}

func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

func WithFailureNotifier(n FailureNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		providerTimeout: defaultProviderTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orders == nil {
		s.orders = NewOrderMaterializer(repo)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, opts ...Option) *Service {
	return NewService(NewRepository(db), opts...)
}

// RecordWebhookEvent stores an inbound event once. A repeated provider event
// id returns the stored entry with created=false.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = models.WebhookProviderStripe
	}
	eventType := strings.TrimSpace(in.EventType)
	if eventType == "" {
		eventType = "unknown"
	}

	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(eventType + "|" + string(in.PayloadJSON)))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	payload := in.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     payload,
		RawPayloadJSON:  in.RawPayloadJSON,
		SignatureValid:  in.SignatureValid,
		Status:          models.WebhookStatusPending,
		CreatedAt:       s.now().UTC(),
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// IngestWebhook normalizes a raw body and records it in the ledger.
func (s *Service) IngestWebhook(ctx context.Context, raw []byte, headerType, headerEventID string, signatureValid bool) (bool, *models.WebhookEvent, error) {
	normalized, err := NormalizeWebhookPayload(raw, headerType, headerEventID)
	if err != nil {
		return false, nil, err
	}
	created, entry, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.WebhookProviderStripe,
		ProviderEventID: normalized.EventID,
		EventType:       normalized.EventType,
		PayloadJSON:     normalized.PayloadJSON,
		RawPayloadJSON:  string(raw),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return false, nil, err
	}
	outcome := "duplicate"
	if created {
		outcome = "created"
	}
	metrics.WebhooksReceived.WithLabelValues(entry.EventType, outcome).Inc()
	return created, entry, nil
}

// GetWebhookEvent returns a ledger entry by id.
func (s *Service) GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, id)
}

// ReplayWebhookEvent resets a ledger entry to pending so it can be enqueued
// again. This is the only way to leave a terminal state.
func (s *Service) ReplayWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	entry, err := s.repo.ResetWebhookEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Ledger entry %d (%s) reset for replay", entry.ID, entry.ProviderEventID)
	return entry, nil
}

// ProcessWebhookEvent claims a ledger entry, dispatches it and persists the
// outcome. It is safe to call more than once for the same entry.
func (s *Service) ProcessWebhookEvent(ctx context.Context, id uint) Result {
	entry, claimed, err := s.repo.ClaimWebhookEvent(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return PermanentFailure("ledger entry not found")
		}
		return TransientFailure(err)
	}
	if !claimed {
		if entry.Status == models.WebhookStatusProcessed {
			log.Debugf("[Billing] Ledger entry %d already processed", entry.ID)
			return ProcessedWithNote("already processed")
		}
		return PermanentFailure(entry.ErrorText())
	}

	started := time.Now()
	res := s.Dispatch(ctx, entry)
	metrics.WebhookProcessingDuration.WithLabelValues(entry.EventType).Observe(time.Since(started).Seconds())

	if err := s.recordOutcome(ctx, entry, res); err != nil {
		log.Errorf("[Billing] Failed to record outcome for ledger entry %d: %v", entry.ID, err)
		return TransientFailure(err)
	}
	metrics.WebhooksProcessed.WithLabelValues(entry.EventType, res.Kind.String()).Inc()
	return res
}

func (s *Service) recordOutcome(ctx context.Context, entry *models.WebhookEvent, res Result) error {
	switch res.Kind {
	case ResultProcessed:
		if res.Reason != "" {
			log.Infof("[Billing] Ledger entry %d processed: %s", entry.ID, res.Reason)
		}
		return s.repo.MarkWebhookProcessed(ctx, entry.ID)
	case ResultPermanentFailure:
		log.Warnf("[Billing] Ledger entry %d (%s) failed permanently: %s", entry.ID, entry.EventType, res.Reason)
		return s.repo.MarkWebhookFailed(ctx, entry.ID, res.Reason, true)
	default:
		log.Errorf("[Billing] Ledger entry %d (%s) failed (attempt %d): %s", entry.ID, entry.EventType, entry.AttemptCount, res.Reason)
		return s.repo.MarkWebhookFailed(ctx, entry.ID, res.Reason, false)
	}
}

// HandleRetriesExhausted makes the entry's failure permanent and annotates the
// owning enrollment with the last failure.
func (s *Service) HandleRetriesExhausted(ctx context.Context, id uint, lastErr string) error {
	entry, err := s.repo.GetWebhookEvent(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == models.WebhookStatusProcessed {
		return nil
	}

	reason := strings.TrimSpace(lastErr)
	if reason == "" {
		reason = entry.ErrorText()
	}
	if reason == "" {
		reason = "retries exhausted"
	}
	if err := s.repo.MarkWebhookFailed(ctx, entry.ID, reason, true); err != nil {
		return err
	}

	subscriptionID := owningSubscriptionID(entry)
	defer s.notifyExhausted(ctx, entry, subscriptionID, reason)
	if subscriptionID == "" {
		log.Warnf("[Billing] Retries exhausted for ledger entry %d without owning subscription", entry.ID)
		return nil
	}
	now := s.now()
	_, err = s.repo.UpdateEnrollment(ctx, subscriptionID, func(e *models.Enrollment) (bool, error) {
		e.RecordSyncFailure(now, reason)
		return true, nil
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	log.Errorf("[Billing] Retries exhausted for ledger entry %d (subscription %s): %s", entry.ID, subscriptionID, reason)
	return nil
}

func (s *Service) notifyExhausted(ctx context.Context, entry *models.WebhookEvent, subscriptionID, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRetriesExhausted(ctx, entry, subscriptionID, reason); err != nil {
		log.Warnf("[Billing] Failed to send exhausted-retries alert for ledger entry %d: %v", entry.ID, err)
	}
}

func owningSubscriptionID(entry *models.WebhookEvent) string {
	switch {
	case isSubscriptionEvent(entry.EventType):
		var sub SubscriptionPayload
		if err := json.Unmarshal(entry.PayloadJSON, &sub); err == nil {
			return sub.ID
		}
	case isInvoiceEvent(entry.EventType):
		var inv InvoicePayload
		if err := json.Unmarshal(entry.PayloadJSON, &inv); err == nil {
			return inv.Subscription
		}
	}
	return ""
}

// IsInvalidPayload reports whether err comes from payload normalization.
func IsInvalidPayload(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}
