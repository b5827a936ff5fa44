package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// fakeProcessor returns results in order; the last one repeats.
type fakeProcessor struct {
	mu        sync.Mutex
	results   []billing.Result
	processed []uint
	exhausted []uint
	lastErrs  []string
}

func (p *fakeProcessor) ProcessWebhookEvent(ctx context.Context, id uint) billing.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, id)
	if len(p.results) == 0 {
		return billing.Processed()
	}
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return res
}

func (p *fakeProcessor) HandleRetriesExhausted(ctx context.Context, id uint, lastErr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted = append(p.exhausted, id)
	p.lastErrs = append(p.lastErrs, lastErr)
	return nil
}

func (p *fakeProcessor) processedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func (p *fakeProcessor) processedIDs() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint(nil), p.processed...)
}

func (p *fakeProcessor) exhaustedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exhausted)
}

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, processor WebhookProcessor, cfg QueueConfig) (*Queue, *redis.Client, *fakeClock) {
	t.Helper()
	_, client := setupTestRedis(t)
	q := NewQueue(client, processor, cfg)
	clock := newFakeClock()
	q.now = clock.Now
	return q, client, clock
}

func enqueueEntry(t *testing.T, q *Queue, id uint) *Job {
	t.Helper()
	job, err := q.EnqueueWebhookEvent(context.Background(), &models.WebhookEvent{
		ID:              id,
		ProviderEventID: "evt_test",
		EventType:       billing.EventInvoiceSucceeded,
	})
	require.NoError(t, err)
	return job
}

// runNext dequeues and processes one job synchronously.
func runNext(t *testing.T, q *Queue) {
	t.Helper()
	job, err := q.dequeueJob(context.Background())
	require.NoError(t, err)
	q.processJob(context.Background(), job)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
