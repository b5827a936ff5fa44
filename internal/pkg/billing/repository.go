package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollmentMutator changes an enrollment in memory and reports whether it
// needs to be saved.
type EnrollmentMutator func(e *models.Enrollment) (bool, error)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error)
	ClaimWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, bool, error)
	MarkWebhookProcessed(ctx context.Context, id uint) error
	MarkWebhookFailed(ctx context.Context, id uint, reason string, permanent bool) error
	ResetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error)

	FindEnrollmentBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Enrollment, error)
	UpdateEnrollment(ctx context.Context, subscriptionID string, fn EnrollmentMutator) (*models.Enrollment, error)
	UpdateEnrollmentByID(ctx context.Context, id uint, fn EnrollmentMutator) (*models.Enrollment, error)

	UpsertOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	UpdateOrder(ctx context.Context, sourceInvoiceID string, fn func(o *models.Order)) (*models.Order, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// forUpdate adds a row lock where the dialect supports it. SQLite serializes
// writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ClaimWebhookEvent moves a non-terminal entry to processing and counts the
// attempt. Terminal entries are returned unchanged with claimed=false.
func (r *gormRepository) ClaimWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, bool, error) {
	var event models.WebhookEvent
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&event, id).Error; err != nil {
			return err
		}
		if event.IsTerminal() {
			return nil
		}
		event.Status = models.WebhookStatusProcessing
		event.AttemptCount++
		event.ProcessedAt = nil
		claimed = true
		return tx.Model(&event).Updates(map[string]interface{}{
			"status":        event.Status,
			"attempt_count": event.AttemptCount,
			"processed_at":  nil,
		}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &event, claimed, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.WebhookStatusProcessed,
		"processed_at": &now,
		"last_error":   nil,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) MarkWebhookFailed(ctx context.Context, id uint, reason string, permanent bool) error {
	updates := map[string]interface{}{
		"status":       models.WebhookStatusFailed,
		"processed_at": nil,
		"last_error":   reason,
	}
	if permanent {
		updates["permanently_failed_at"] = gorm.Expr("COALESCE(permanently_failed_at, ?)", time.Now().UTC())
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ResetWebhookEvent returns an entry to pending for a manual replay. The
// attempt count and last error are kept for the audit trail.
func (r *gormRepository) ResetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&event, id).Error; err != nil {
			return err
		}
		event.Status = models.WebhookStatusPending
		event.ProcessedAt = nil
		event.PermanentlyFailedAt = nil
		return tx.Model(&event).Updates(map[string]interface{}{
			"status":                event.Status,
			"processed_at":          nil,
			"permanently_failed_at": nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) FindEnrollmentBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEnrollment runs fn against the locked enrollment row and saves it when
// fn reports a change. gorm.ErrRecordNotFound is returned unwrapped.
func (r *gormRepository) UpdateEnrollment(ctx context.Context, subscriptionID string, fn EnrollmentMutator) (*models.Enrollment, error) {
	return r.updateEnrollmentWhere(ctx, fn, "subscription_id = ?", subscriptionID)
}

func (r *gormRepository) UpdateEnrollmentByID(ctx context.Context, id uint, fn EnrollmentMutator) (*models.Enrollment, error) {
	return r.updateEnrollmentWhere(ctx, fn, "id = ?", id)
}

func (r *gormRepository) updateEnrollmentWhere(ctx context.Context, fn EnrollmentMutator, query string, args ...interface{}) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where(query, args...).First(&e).Error; err != nil {
			return err
		}
		changed, err := fn(&e)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := e.Validate(); err != nil {
			return err
		}
		return tx.Save(&e).Error
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertOrder inserts an order or refreshes its invoice fields, keyed on
// source_invoice_id. Payment state is left to UpdateOrder.
func (r *gormRepository) UpsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	columns := []string{
		"subscription_id",
		"customer_id",
		"amount_due",
		"amount_paid",
		"currency",
		"period_end",
		"raw_invoice_json",
		"updated_at",
	}
	if order.EnrollmentID != nil {
		columns = append(columns, "enrollment_id")
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_invoice_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(order).Error; err != nil {
		return nil, err
	}

	var stored models.Order
	if err := r.db.WithContext(ctx).Where("source_invoice_id = ?", order.SourceInvoiceID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) UpdateOrder(ctx context.Context, sourceInvoiceID string, fn func(o *models.Order)) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("source_invoice_id = ?", sourceInvoiceID).First(&o).Error; err != nil {
			return err
		}
		fn(&o)
		if err := o.Validate(); err != nil {
			return err
		}
		return tx.Save(&o).Error
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
