package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	WebhookProviderStripe = "stripe"
)

// WebhookEventStatus is the processing state of a ledger entry.
type WebhookEventStatus string

const (
	WebhookStatusPending    WebhookEventStatus = "pending"
	WebhookStatusProcessing WebhookEventStatus = "processing"
	WebhookStatusProcessed  WebhookEventStatus = "processed"
	WebhookStatusFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is the ledger row for one inbound provider event. Rows are
// deduplicated on (provider, provider_event_id) and never deleted.
type WebhookEvent struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	Provider            string             `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID     string             `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType           string             `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON         datatypes.JSON     `gorm:"not null" json:"payload_json"`
	RawPayloadJSON      string             `gorm:"type:longtext" json:"-"`
	SignatureValid      bool               `gorm:"default:false" json:"signature_valid"`
	Status              WebhookEventStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	AttemptCount        int                `gorm:"not null;default:0" json:"attempt_count"`
	LastError           *string            `gorm:"type:text" json:"last_error,omitempty"`
	ProcessedAt         *time.Time         `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	PermanentlyFailedAt *time.Time         `gorm:"type:timestamp;default:null" json:"permanently_failed_at,omitempty"`
	CreatedAt           time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the entry may only change through a manual replay.
func (e *WebhookEvent) IsTerminal() bool {
	if e.Status == WebhookStatusProcessed {
		return true
	}
	return e.Status == WebhookStatusFailed && e.PermanentlyFailedAt != nil
}

// ErrorText returns LastError or an empty string.
func (e *WebhookEvent) ErrorText() string {
	if e.LastError == nil {
		return ""
	}
	return *e.LastError
}
