package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// DefaultPaymentFailureMessage is used when the provider gives no finalization error.
const DefaultPaymentFailureMessage = "Payment failed"

// FailureReason describes why an invoice payment failed.
type FailureReason struct {
	Code    string `gorm:"type:varchar(100)" json:"code,omitempty"`
	Message string `gorm:"type:text" json:"message,omitempty"`
}

// Order is the local billing outcome of one provider invoice.
type Order struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SourceInvoiceID string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"source_invoice_id" validate:"required,max=191"`
	EnrollmentID    *uint          `gorm:"index" json:"enrollment_id,omitempty"`
	SubscriptionID  string         `gorm:"type:varchar(191);index" json:"subscription_id,omitempty"`
	CustomerID      string         `gorm:"type:varchar(191)" json:"customer_id,omitempty"`
	AmountDue       int64          `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid      int64          `gorm:"not null;default:0" json:"amount_paid"`
	Currency        string         `gorm:"type:varchar(3)" json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentStatus   PaymentStatus  `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status" validate:"oneof=pending paid failed"`
	FailureReason   FailureReason  `gorm:"embedded;embeddedPrefix:failure_" json:"failure_reason"`
	PeriodEnd       *time.Time     `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	PaidAt          *time.Time     `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	RawInvoiceJSON  datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) Validate() error {
	validate := validator.New()
	return validate.Struct(o)
}

// MarkPaid sets the paid state and keeps the first PaidAt.
func (o *Order) MarkPaid(now time.Time) {
	o.PaymentStatus = PaymentStatusPaid
	o.FailureReason = FailureReason{}
	if o.PaidAt == nil {
		now = now.UTC().Truncate(time.Second)
		o.PaidAt = &now
	}
}

// MarkFailed sets the failed state with reason, defaulting the message. A paid
// order is final and is left untouched; the return value reports whether the
// failure was applied.
func (o *Order) MarkFailed(reason FailureReason) bool {
	if o.PaymentStatus == PaymentStatusPaid {
		return false
	}
	if reason.Message == "" {
		reason.Message = DefaultPaymentFailureMessage
	}
	o.PaymentStatus = PaymentStatusFailed
	o.FailureReason = reason
	return true
}
