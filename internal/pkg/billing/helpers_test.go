package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}, &models.Enrollment{}, &models.Order{}))
	return db
}

func newTestService(t *testing.T, opts ...Option) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewServiceFromDB(db, opts...), db
}

func seedEnrollment(t *testing.T, db *gorm.DB, subscriptionID string, status models.AcademicStatus) *models.Enrollment {
	t.Helper()
	e := &models.Enrollment{
		StudentID:          1,
		CourseID:           1,
		SubscriptionID:     subscriptionID,
		SubscriptionStatus: "active",
		AcademicStatus:     status,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

func loadEnrollment(t *testing.T, db *gorm.DB, subscriptionID string) *models.Enrollment {
	t.Helper()
	var e models.Enrollment
	require.NoError(t, db.Where("subscription_id = ?", subscriptionID).First(&e).Error)
	return &e
}

func loadEvent(t *testing.T, db *gorm.DB, id uint) *models.WebhookEvent {
	t.Helper()
	var e models.WebhookEvent
	require.NoError(t, db.First(&e, id).Error)
	return &e
}

func recordEvent(t *testing.T, svc *Service, eventID, eventType string, payload interface{}) *models.WebhookEvent {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	_, entry, err := svc.RecordWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.WebhookProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     body,
		SignatureValid:  true,
	})
	require.NoError(t, err)
	return entry
}

func epoch(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

type stubProvider struct {
	invoice *InvoicePayload
	err     error
	calls   int
}

func (p *stubProvider) RetrieveInvoice(ctx context.Context, invoiceID string, expand []string) (*InvoicePayload, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.invoice, nil
}

type failingMaterializer struct {
	err error
}

func (m failingMaterializer) CreateOrUpdateOrderFromInvoice(ctx context.Context, invoice *InvoicePayload) (*models.Order, error) {
	return nil, m.err
}
