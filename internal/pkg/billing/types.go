package billing

import "time"

// Provider event types handled by Dispatch.
const (
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventSubscriptionTrialEnds = "customer.subscription.trial_will_end"
	EventInvoicePaid           = "invoice.paid"
	EventInvoiceSucceeded      = "invoice.payment_succeeded"
	EventInvoiceFailed         = "invoice.payment_failed"
)

// Raw provider subscription statuses.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusPastDue           = "past_due"
)

// PauseBehaviorVoid is the pause_collection behavior that suspends collection.
const PauseBehaviorVoid = "void"

// PauseCollection mirrors the provider's pause_collection object.
type PauseCollection struct {
	Behavior  string `json:"behavior"`
	ResumesAt *int64 `json:"resumes_at,omitempty"`
}

// SubscriptionPayload is the canonical subscription shape every subscription
// handler reads. ID is always the subscription id.
type SubscriptionPayload struct {
	ID               string           `json:"id"`
	Status           string           `json:"status"`
	Customer         string           `json:"customer,omitempty"`
	CurrentPeriodEnd *int64           `json:"current_period_end,omitempty"`
	CancelAt         *int64           `json:"cancel_at,omitempty"`
	TrialEnd         *int64           `json:"trial_end,omitempty"`
	PauseCollection  *PauseCollection `json:"pause_collection,omitempty"`
}

type InvoiceLine struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount"`
	PeriodEnd   *int64 `json:"period_end,omitempty"`
}

type FinalizationError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// InvoicePayload is the canonical invoice shape. A nil Lines slice marks an
// incomplete payload that should be re-fetched; an empty slice is complete.
type InvoicePayload struct {
	ID                    string             `json:"id"`
	Subscription          string             `json:"subscription,omitempty"`
	Customer              string             `json:"customer,omitempty"`
	Lines                 []InvoiceLine      `json:"lines"`
	PeriodEnd             *int64             `json:"period_end,omitempty"`
	AmountDue             int64              `json:"amount_due"`
	AmountPaid            int64              `json:"amount_paid"`
	Currency              string             `json:"currency,omitempty"`
	LastFinalizationError *FinalizationError `json:"last_finalization_error,omitempty"`
}

// IsComplete reports whether line-item detail is present.
func (p *InvoicePayload) IsComplete() bool {
	return p.Lines != nil
}

// WebhookEventInput is the normalized input for ledger persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     []byte
	RawPayloadJSON  string
	SignatureValid  bool
}

func epochToTime(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
