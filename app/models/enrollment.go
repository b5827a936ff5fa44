package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// AcademicStatus is the access state of an enrollment, independent of the
// provider's billing status.
type AcademicStatus string

const (
	AcademicStatusActive    AcademicStatus = "ACTIVE"
	AcademicStatusSuspended AcademicStatus = "SUSPENDED"
	AcademicStatusCompleted AcademicStatus = "COMPLETED"
	AcademicStatusWithdrawn AcademicStatus = "WITHDRAWN"
)

// IsAbsorbing reports whether no automated transition may leave the status.
func (s AcademicStatus) IsAbsorbing() bool {
	return s == AcademicStatusCompleted || s == AcademicStatusWithdrawn
}

// Enrollment links a student to subscription-backed course access. Rows are
// created by the enrollment flow; billing webhooks only mutate them.
type Enrollment struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	StudentID             uint           `gorm:"not null;index" json:"student_id"`
	CourseID              uint           `gorm:"not null;index" json:"course_id"`
	SubscriptionID        string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"subscription_id" validate:"required,max=191"`
	SubscriptionStatus    string         `gorm:"type:varchar(50);not null;default:''" json:"subscription_status" validate:"max=50"`
	AcademicStatus        AcademicStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"academic_status" validate:"oneof=ACTIVE SUSPENDED COMPLETED WITHDRAWN"`
	NextPaymentDate       *time.Time     `gorm:"type:date;default:null" json:"next_payment_date,omitempty"`
	SubscriptionCancelAt  *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_cancel_at,omitempty"`
	CollectionPaused      bool           `gorm:"not null;default:false" json:"collection_paused"`
	CollectionPausedAt    *time.Time     `gorm:"type:timestamp;default:null" json:"collection_paused_at,omitempty"`
	TrialEndsAt           *time.Time     `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	SubscriptionDeletedAt *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_deleted_at,omitempty"`
	LastSyncFailureAt     *time.Time     `gorm:"type:timestamp;default:null" json:"last_sync_failure_at,omitempty"`
	LastSyncFailureReason string         `gorm:"type:text" json:"last_sync_failure_reason,omitempty"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *Enrollment) Validate() error {
	validate := validator.New()
	return validate.Struct(e)
}

// IsSubscriptionDeleted reports whether the provider deleted the subscription.
func (e *Enrollment) IsSubscriptionDeleted() bool {
	return e.SubscriptionDeletedAt != nil
}

// UpdateSubscriptionStatus mirrors the provider's raw status string.
func (e *Enrollment) UpdateSubscriptionStatus(status string) bool {
	if e.SubscriptionStatus == status {
		return false
	}
	e.SubscriptionStatus = status
	return true
}

// SetAcademicStatus moves the enrollment to a new academic status unless the
// current one is absorbing.
func (e *Enrollment) SetAcademicStatus(status AcademicStatus) bool {
	if e.AcademicStatus.IsAbsorbing() || e.AcademicStatus == status {
		return false
	}
	e.AcademicStatus = status
	return true
}

func (e *Enrollment) PauseCollection(now time.Time) bool {
	if e.CollectionPaused {
		return false
	}
	e.CollectionPaused = true
	e.CollectionPausedAt = &now
	return true
}

func (e *Enrollment) ResumeCollection() bool {
	if !e.CollectionPaused {
		return false
	}
	e.CollectionPaused = false
	e.CollectionPausedAt = nil
	return true
}

// UpdateNextPaymentDate stores the date portion of d in UTC; nil clears it.
func (e *Enrollment) UpdateNextPaymentDate(d *time.Time) bool {
	if d == nil {
		if e.NextPaymentDate == nil {
			return false
		}
		e.NextPaymentDate = nil
		return true
	}
	u := d.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if e.NextPaymentDate != nil && sameDay(*e.NextPaymentDate, day) {
		return false
	}
	e.NextPaymentDate = &day
	return true
}

func (e *Enrollment) UpdateSubscriptionCancellation(at time.Time) bool {
	at = at.UTC().Truncate(time.Second)
	if e.SubscriptionCancelAt != nil && e.SubscriptionCancelAt.Equal(at) {
		return false
	}
	e.SubscriptionCancelAt = &at
	return true
}

// ClearSubscriptionCancellation drops a scheduled cancellation that the
// provider withdrew.
func (e *Enrollment) ClearSubscriptionCancellation() bool {
	if e.SubscriptionCancelAt == nil {
		return false
	}
	e.SubscriptionCancelAt = nil
	return true
}

func (e *Enrollment) UpdateTrialEnd(at time.Time) bool {
	at = at.UTC().Truncate(time.Second)
	if e.TrialEndsAt != nil && e.TrialEndsAt.Equal(at) {
		return false
	}
	e.TrialEndsAt = &at
	return true
}

// MarkSubscriptionDeleted records the first deletion time only.
func (e *Enrollment) MarkSubscriptionDeleted(now time.Time) bool {
	if e.SubscriptionDeletedAt != nil {
		return false
	}
	now = now.UTC().Truncate(time.Second)
	e.SubscriptionDeletedAt = &now
	return true
}

func (e *Enrollment) RecordSyncFailure(now time.Time, reason string) {
	now = now.UTC().Truncate(time.Second)
	e.LastSyncFailureAt = &now
	e.LastSyncFailureReason = reason
}

func sameDay(a, b time.Time) bool {
	a = a.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
