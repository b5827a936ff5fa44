package controllers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/app/repository"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/jobqueue"
)

const testSecret = "whsec_test"

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}, &models.Enrollment{}, &models.Order{}, &models.Setting{}))
	return db
}

type fakeEnqueuer struct {
	mu      sync.Mutex
	entries []uint
	err     error
}

func (f *fakeEnqueuer) EnqueueWebhookEvent(ctx context.Context, entry *models.WebhookEvent) (*jobqueue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, entry.ID)
	return &jobqueue.Job{ID: "job-" + strconv.Itoa(int(entry.ID))}, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func newWebhookApp(t *testing.T, ctrl *WebhookController) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Post("/webhooks/stripe", ctrl.HandleStripeWebhook)
	return app
}

func newWebhookController(t *testing.T) (*WebhookController, *fakeEnqueuer, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	enq := &fakeEnqueuer{}
	svc := billing.NewServiceFromDB(db, billing.WithClock(func() time.Time { return testNow }))
	return &WebhookController{
		Service:       svc,
		Queue:         enq,
		WebhookSecret: testSecret,
		Now:           func() time.Time { return testNow },
	}, enq, db
}

func signedHeader(body []byte, ts time.Time) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + stamp + ",v1=" + hex.EncodeToString(billing.ComputeWebhookSignature(body, stamp, testSecret))
}

func subscriptionEvent(eventID string) []byte {
	return []byte(`{"id":"` + eventID + `","object":"event","type":"customer.subscription.updated",` +
		`"data":{"object":{"id":"sub_1","object":"subscription","status":"active","current_period_end":1744156800}}}`)
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func TestHandleStripeWebhook_RecordsAndEnqueues(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	app := newWebhookApp(t, ctrl)
	body := subscriptionEvent("evt_1")

	status, resp := postWebhook(t, app, body, signedHeader(body, testNow))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["ok"])
	assert.Nil(t, resp["duplicate"])
	assert.Equal(t, 1, enq.count())

	var entry models.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_1").First(&entry).Error)
	assert.True(t, entry.SignatureValid)
	assert.Equal(t, models.WebhookStatusPending, entry.Status)
	assert.Equal(t, billing.EventSubscriptionUpdated, entry.EventType)
}

func TestHandleStripeWebhook_DuplicateDelivery(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	app := newWebhookApp(t, ctrl)
	body := subscriptionEvent("evt_dup")

	status, _ := postWebhook(t, app, body, signedHeader(body, testNow))
	require.Equal(t, fiber.StatusOK, status)

	// Still pending: the duplicate is enqueued again.
	status, resp := postWebhook(t, app, body, signedHeader(body, testNow))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, 2, enq.count())

	require.NoError(t, db.Model(&models.WebhookEvent{}).
		Where("provider_event_id = ?", "evt_dup").
		Update("status", models.WebhookStatusProcessed).Error)

	status, resp = postWebhook(t, app, body, signedHeader(body, testNow))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, 2, enq.count(), "processed duplicates are not enqueued")

	var count int64
	db.Model(&models.WebhookEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestHandleStripeWebhook_DuplicateDeliveryQueuesOneJob(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := billing.NewServiceFromDB(db, billing.WithClock(func() time.Time { return testNow }))
	queue := jobqueue.NewQueue(client, svc, jobqueue.QueueConfig{})
	app := newWebhookApp(t, &WebhookController{
		Service:       svc,
		Queue:         queue,
		WebhookSecret: testSecret,
		Now:           func() time.Time { return testNow },
	})
	body := subscriptionEvent("evt_dup")

	for i := 0; i < 3; i++ {
		status, _ := postWebhook(t, app, body, signedHeader(body, testNow))
		require.Equal(t, fiber.StatusOK, status)
	}

	size, err := queue.GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	app := newWebhookApp(t, ctrl)
	body := subscriptionEvent("evt_bad")

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", "t=" + strconv.FormatInt(testNow.Unix(), 10) + ",v1=" + strings.Repeat("ab", 32)},
		{"expired timestamp", signedHeader(body, testNow.Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := postWebhook(t, app, body, tt.signature)
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, "invalid_signature", resp["error"])
		})
	}

	var count int64
	db.Model(&models.WebhookEvent{}).Count(&count)
	assert.Zero(t, count)
	assert.Zero(t, enq.count())
}

func TestHandleStripeWebhook_UnsignedMode(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	ctrl.WebhookSecret = ""
	app := newWebhookApp(t, ctrl)
	body := subscriptionEvent("evt_unsigned")

	status, resp := postWebhook(t, app, body, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", resp["error"])

	ctrl.AllowUnsigned = true
	status, _ = postWebhook(t, app, body, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, enq.count())

	var entry models.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_unsigned").First(&entry).Error)
	assert.False(t, entry.SignatureValid)
}

func TestHandleStripeWebhook_InvalidPayload(t *testing.T) {
	ctrl, enq, _ := newWebhookController(t)
	app := newWebhookApp(t, ctrl)
	body := []byte(`{"id":"evt_x","type":`)

	status, resp := postWebhook(t, app, body, signedHeader(body, testNow))

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_payload", resp["error"])
	assert.Zero(t, enq.count())
}

func TestHandleStripeWebhook_EnqueueFailure(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	enq.err = errors.New("redis down")
	app := newWebhookApp(t, ctrl)
	body := subscriptionEvent("evt_enqueue")

	status, resp := postWebhook(t, app, body, signedHeader(body, testNow))

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "webhook_enqueue_failed", resp["error"])

	var entry models.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_enqueue").First(&entry).Error)
	assert.Equal(t, models.WebhookStatusPending, entry.Status)

	// The provider redelivers; the pending entry is enqueued this time.
	enq.err = nil
	status, resp = postWebhook(t, app, body, signedHeader(body, testNow))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, 1, enq.count())
}

func TestHandleStripeWebhook_HeaderFallbacks(t *testing.T) {
	ctrl, enq, db := newWebhookController(t)
	app := newWebhookApp(t, ctrl)
	body := []byte(`{"id":"in_9","object":"invoice","subscription":"sub_9","status":"paid"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", signedHeader(body, testNow))
	req.Header.Set("X-Event-Type", billing.EventInvoiceSucceeded)
	req.Header.Set("X-Event-ID", "evt_header")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, enq.count())

	var entry models.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_header").First(&entry).Error)
	assert.Equal(t, billing.EventInvoiceSucceeded, entry.EventType)
}

type opsFixture struct {
	app   *fiber.App
	db    *gorm.DB
	svc   *billing.Service
	queue *jobqueue.Queue
	mr    *miniredis.Miniredis
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := billing.NewServiceFromDB(db, billing.WithClock(func() time.Time { return testNow }))
	queue := jobqueue.NewQueue(client, svc, jobqueue.QueueConfig{})
	ctrl := &OpsController{
		Service:  svc,
		Queue:    queue,
		DB:       db,
		Redis:    client,
		Settings: repository.NewSettingRepository(db),
	}

	app := fiber.New()
	app.Get("/healthz", ctrl.HandleHealthz)
	app.Get("/ops/webhooks/:id", ctrl.HandleGetWebhookEvent)
	app.Post("/ops/webhooks/:id/replay", ctrl.HandleReplayWebhookEvent)
	app.Get("/ops/queue/stats", ctrl.HandleQueueStats)
	app.Get("/ops/settings", ctrl.HandleGetSettings)
	app.Put("/ops/settings/:key", ctrl.HandleUpdateSetting)
	return &opsFixture{app: app, db: db, svc: svc, queue: queue, mr: mr}
}

func (f *opsFixture) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := f.app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func (f *opsFixture) putJSON(t *testing.T, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func (f *opsFixture) seedFailedEntry(t *testing.T) *models.WebhookEvent {
	t.Helper()
	reason := "Payment failed"
	permanent := testNow
	entry := &models.WebhookEvent{
		Provider:            models.WebhookProviderStripe,
		ProviderEventID:     "evt_failed",
		EventType:           billing.EventInvoiceFailed,
		PayloadJSON:         []byte(`{"id":"in_1"}`),
		SignatureValid:      true,
		Status:              models.WebhookStatusFailed,
		AttemptCount:        3,
		LastError:           &reason,
		PermanentlyFailedAt: &permanent,
	}
	require.NoError(t, f.db.Create(entry).Error)
	return entry
}

func TestOps_GetWebhookEvent(t *testing.T) {
	f := newOpsFixture(t)
	entry := f.seedFailedEntry(t)

	status, body := f.do(t, http.MethodGet, "/ops/webhooks/"+strconv.Itoa(int(entry.ID)))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "evt_failed", body["provider_event_id"])
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "Payment failed", body["last_error"])

	status, _ = f.do(t, http.MethodGet, "/ops/webhooks/999")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/ops/webhooks/abc")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_id", body["error"])
}

func TestOps_ReplayWebhookEvent(t *testing.T) {
	f := newOpsFixture(t)
	entry := f.seedFailedEntry(t)

	status, body := f.do(t, http.MethodPost, "/ops/webhooks/"+strconv.Itoa(int(entry.ID))+"/replay")
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.NotEmpty(t, body["job_id"])

	var reloaded models.WebhookEvent
	require.NoError(t, f.db.First(&reloaded, entry.ID).Error)
	assert.Equal(t, models.WebhookStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.PermanentlyFailedAt)

	size, err := f.queue.GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	status, _ = f.do(t, http.MethodPost, "/ops/webhooks/999/replay")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestOps_QueueStats(t *testing.T) {
	f := newOpsFixture(t)
	_, err := f.queue.EnqueueWebhookEvent(context.Background(), &models.WebhookEvent{
		ID:              7,
		ProviderEventID: "evt_7",
		EventType:       billing.EventInvoiceSucceeded,
	})
	require.NoError(t, err)

	status, body := f.do(t, http.MethodGet, "/ops/queue/stats")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["pending"])
	assert.Equal(t, float64(0), body["delayed"])
}

func TestOps_Healthz(t *testing.T) {
	f := newOpsFixture(t)

	status, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	f.mr.Close()
	status, body = f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])
}

func TestOps_Settings(t *testing.T) {
	f := newOpsFixture(t)
	require.NoError(t, models.LoadSettings(f.db, models.DefaultAppSettings()))

	status, body := f.putJSON(t, "/ops/settings/webhook_max_attempts", `{"value":"5"}`)
	require.Equal(t, fiber.StatusOK, status)
	effective := body["effective"].(map[string]interface{})
	assert.Equal(t, float64(5), effective["webhook_max_attempts"])

	status, body = f.do(t, http.MethodGet, "/ops/settings")
	assert.Equal(t, fiber.StatusOK, status)
	stored := body["stored"].([]interface{})
	require.Len(t, stored, 1)
	assert.Equal(t, "webhook_max_attempts", stored[0].(map[string]interface{})["key"])

	tests := []struct {
		name string
		path string
		body string
	}{
		{"out of range", "/ops/settings/webhook_max_attempts", `{"value":"0"}`},
		{"not a number", "/ops/settings/webhook_worker_count", `{"value":"many"}`},
		{"bad delays", "/ops/settings/webhook_retry_delays", `{"value":"30s,-1s"}`},
		{"unknown key", "/ops/settings/color", `{"value":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.putJSON(t, tt.path, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "invalid_setting", body["error"])
		})
	}

	value, err := repository.NewSettingRepository(f.db).GetValue("webhook_max_attempts")
	require.NoError(t, err)
	assert.Equal(t, "5", value)
}
