package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/billing"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/cache"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/metrics"
)

const (
	// Redis key prefixes
	JobKeyPrefix        = "job:"
	JobQueueKey         = "job_queue"
	JobProcessingKey    = "job_processing"
	JobDelayedKey       = "job_delayed"
	JobStatsKey         = "job_stats"
	TerminalGuardPrefix = "webhook_terminal:"
	EntryJobPrefix      = "webhook_job:"

	// Job settings
	DefaultWorkers      = 3
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 30 * time.Second
	DefaultStuckAge     = 10 * time.Minute
	DefaultSweepEvery   = 1 * time.Minute
	JobTTL              = 24 * time.Hour // Jobs expire after 24 hours
	dequeueBlockTimeout = time.Second
)

// releaseEntryScript deletes an entry marker only while it still names the
// given job.
var releaseEntryScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func entryJobKey(entryID uint) string {
	return EntryJobPrefix + strconv.FormatUint(uint64(entryID), 10)
}

func terminalGuardKey(entryID uint) string {
	return TerminalGuardPrefix + strconv.FormatUint(uint64(entryID), 10)
}

// WebhookProcessor runs ledger entries. ProcessWebhookEvent must be safe to
// call repeatedly; HandleRetriesExhausted is called once per exhausted entry.
type WebhookProcessor interface {
	ProcessWebhookEvent(ctx context.Context, id uint) billing.Result
	HandleRetriesExhausted(ctx context.Context, id uint, lastErr string) error
}

// QueueConfig holds the supervisor tunables. Zero values fall back to the
// package defaults.
type QueueConfig struct {
	Workers       int
	MaxAttempts   int
	RetryDelays   []time.Duration
	StuckAge      time.Duration
	SweepInterval time.Duration
}

// QueueConfigFromSettings maps the stored application settings.
func QueueConfigFromSettings(s *models.AppSettings) QueueConfig {
	if s == nil {
		return QueueConfig{}
	}
	return QueueConfig{
		Workers:     s.GetWebhookWorkerCount(),
		MaxAttempts: s.GetWebhookMaxAttempts(),
		RetryDelays: s.GetWebhookRetryDelays(),
		StuckAge:    s.GetStuckJobAge(),
	}
}

// QueueStats is a snapshot of the queue for the ops API.
type QueueStats struct {
	Pending    int64               `json:"pending"`
	Processing int64               `json:"processing"`
	Delayed    int64               `json:"delayed"`
	Counters   map[JobStatus]int64 `json:"counters"`
}

// Queue manages background jobs using Redis
type Queue struct {
	client        *redis.Client
	processor     WebhookProcessor
	workers       int
	maxAttempts   int
	retryDelays   []time.Duration
	stuckAge      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a new job queue. A nil client uses the shared cache client.
func NewQueue(client *redis.Client, processor WebhookProcessor, cfg QueueConfig) *Queue {
	if client == nil {
		client = cache.GetClient()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = []time.Duration{DefaultRetryDelay}
	}
	if cfg.StuckAge <= 0 {
		cfg.StuckAge = DefaultStuckAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepEvery
	}

	return &Queue{
		client:        client,
		processor:     processor,
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		retryDelays:   cfg.RetryDelays,
		stuckAge:      cfg.StuckAge,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		workerPool:    make(chan struct{}, cfg.Workers),
		stopCh:        make(chan struct{}),
	}
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.workerPool = make(chan struct{}, q.workers)
	q.running = true
	log.Infof("[JobQueue] Starting %d workers (max attempts %d)", q.workers, q.maxAttempts)

	// Initialize worker pool
	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	// Start workers
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Start stuck-processing sweeper (recovers jobs stuck in processing due to crashes)
	q.wg.Add(1)
	go q.stuckSweeper(q.stuckAge, q.sweepInterval)
}

// Stop stops the job queue workers. In-flight jobs finish first.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning reports whether workers are active.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			if n := q.sweepStuckJobs(ctx, maxAge); n > 0 {
				log.Warnf("[JobQueue] Sweeper recovered %d stuck jobs", n)
			}
		}
	}
}

// sweepStuckJobs moves jobs that stayed in processing longer than maxAge back
// to the pending queue and returns how many were recovered.
func (q *Queue) sweepStuckJobs(ctx context.Context, maxAge time.Duration) int {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
		return 0
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing or corrupt; remove from processing list
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper could not load job %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			// Clean up stray entry
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		// Determine when processing started
		started := job.ProcessedAt
		if started == nil || started.IsZero() {
			tmp := job.UpdatedAt
			if tmp.IsZero() {
				tmp = job.CreatedAt
			}
			started = &tmp
		}
		if now.Sub(*started) <= maxAge {
			continue
		}
		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(*started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		// Move from processing back to pending
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		_ = q.client.RPush(ctx, JobQueueKey, id).Err()
		recovered++
	}
	return recovered
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
			// Acquire worker slot
			<-q.workerPool

			// Try to get a job from the queue
			job, err := q.dequeueJob(ctx)
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
					q.workerPool <- struct{}{}
					time.Sleep(time.Second)
					continue
				}
				q.workerPool <- struct{}{}
				continue
			}

			if job != nil {
				log.Infof("[JobQueue] Worker %d processing job %s (Type: %s, attempt %d/%d)", id, job.ID, job.Type, job.RetryCount+1, job.MaxRetries)
				q.processJob(ctx, job)
			}

			// Release worker slot
			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.enqueue(ctx, q.newJob(uuid.New().String(), jobType, payload), nil)
}

func (q *Queue) newJob(id string, jobType JobType, payload map[string]interface{}) *Job {
	now := q.now()
	return &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: q.maxAttempts,
	}
}

// enqueue stores the job and pushes it onto the pending list. prepare may add
// commands to the same pipeline.
func (q *Queue) enqueue(ctx context.Context, job *Job, prepare func(pipe redis.Pipeliner)) (*Job, error) {
	// Store job data
	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID

	// Use a pipeline for atomic operations
	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobKey, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if prepare != nil {
		prepare(pipe)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// EnqueueWebhookEvent schedules dispatch of a ledger entry. An entry has at
// most one live job; while it exists that job is returned instead of a new one.
func (q *Queue) EnqueueWebhookEvent(ctx context.Context, entry *models.WebhookEvent) (*Job, error) {
	if entry == nil || entry.ID == 0 {
		return nil, errors.New("cannot enqueue ledger entry without id")
	}

	markerKey := entryJobKey(entry.ID)
	jobID := uuid.New().String()
	acquired, err := q.client.SetNX(ctx, markerKey, jobID, JobTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve ledger entry %d: %w", entry.ID, err)
	}
	if !acquired {
		existing, err := q.liveJobForEntry(ctx, markerKey)
		if err != nil {
			return nil, fmt.Errorf("lookup job for ledger entry %d: %w", entry.ID, err)
		}
		if existing != nil {
			log.Infof("[JobQueue] Ledger entry %d already queued as job %s", entry.ID, existing.ID)
			return existing, nil
		}
		// The marker outlived its job.
		if err := q.client.Set(ctx, markerKey, jobID, JobTTL).Err(); err != nil {
			return nil, fmt.Errorf("reserve ledger entry %d: %w", entry.ID, err)
		}
	}

	payload := WebhookJobPayload{
		WebhookEventID:  entry.ID,
		EventType:       entry.EventType,
		ProviderEventID: entry.ProviderEventID,
	}
	job, err := q.enqueue(ctx, q.newJob(jobID, JobTypeBillingWebhook, payload.ToMap()), func(pipe redis.Pipeliner) {
		// A new job starts a new retry cycle for the entry.
		pipe.Del(ctx, terminalGuardKey(entry.ID))
	})
	if err != nil {
		q.releaseEntryJob(ctx, entry.ID, jobID)
		return nil, fmt.Errorf("enqueue ledger entry %d: %w", entry.ID, err)
	}
	return job, nil
}

// liveJobForEntry returns the job named by the marker unless it is gone or
// already finished.
func (q *Queue) liveJobForEntry(ctx context.Context, markerKey string) (*Job, error) {
	jobID, err := q.client.Get(ctx, markerKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job, err := q.GetJob(ctx, jobID)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
		return nil, nil
	}
	return job, nil
}

func (q *Queue) releaseEntryJob(ctx context.Context, entryID uint, jobID string) {
	if err := releaseEntryScript.Run(ctx, q.client, []string{entryJobKey(entryID)}, jobID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Errorf("[JobQueue] Failed to release ledger entry %d from job %s: %v", entryID, jobID, err)
	}
}

// releaseJobEntry frees the entry marker held by a finished webhook job.
func (q *Queue) releaseJobEntry(ctx context.Context, job *Job) {
	if job.Type != JobTypeBillingWebhook {
		return
	}
	payload, err := WebhookJobPayloadFromMap(job.Payload)
	if err != nil || payload.WebhookEventID == 0 {
		return
	}
	q.releaseEntryJob(ctx, payload.WebhookEventID, job.ID)
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, dequeueBlockTimeout).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		// Job data not found or invalid, remove from processing queue
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

// processJob runs a single job and applies the retry policy to its result
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	res := q.runJob(ctx, job)

	switch {
	case res.IsProcessed():
		log.Infof("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeFromProcessing(ctx, job.ID)
		q.releaseJobEntry(ctx, job)
		// Remove completed job from Redis entirely
		q.removeCompletedJob(ctx, job.ID)

	case res.Retryable():
		job.MarkAsFailed(res.Reason)
		if job.IsRetryable() {
			q.scheduleRetry(ctx, job)
			return
		}
		log.Errorf("[JobQueue] Job %s permanently failed after %d attempts: %s", job.ID, job.RetryCount, res.Reason)
		q.runTerminalHook(ctx, job)
		q.finalizeFailed(ctx, job)

	default:
		job.MarkAsFailed(res.Reason)
		log.Warnf("[JobQueue] Job %s failed without retry: %s", job.ID, res.Reason)
		q.finalizeFailed(ctx, job)
	}
}

func (q *Queue) runJob(ctx context.Context, job *Job) billing.Result {
	switch job.Type {
	case JobTypeBillingWebhook:
		payload, err := WebhookJobPayloadFromMap(job.Payload)
		if err != nil || payload.WebhookEventID == 0 {
			return billing.PermanentFailure("invalid webhook job payload")
		}
		if q.processor == nil {
			return billing.TransientFailure(errors.New("no webhook processor configured"))
		}
		return q.processor.ProcessWebhookEvent(ctx, payload.WebhookEventID)
	default:
		return billing.PermanentFailure(fmt.Sprintf("unknown job type: %s", job.Type))
	}
}

// retryDelay returns the backoff before the given retry. The last configured
// delay repeats.
func (q *Queue) retryDelay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > len(q.retryDelays) {
		return q.retryDelays[len(q.retryDelays)-1]
	}
	return q.retryDelays[retry-1]
}

// scheduleRetry parks the job in the delayed set until its backoff elapses
func (q *Queue) scheduleRetry(ctx context.Context, job *Job) {
	runAt := q.now().Add(q.retryDelay(job.RetryCount))
	job.MarkAsRetrying(runAt)
	q.updateJob(ctx, job)

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusRetrying), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to schedule retry for job %s: %v", job.ID, err)
		return
	}
	metrics.JobRetries.Inc()
	log.Infof("[JobQueue] Retrying job %s at %s (Attempt %d/%d): %s", job.ID, runAt.Format(time.RFC3339), job.RetryCount+1, job.MaxRetries, job.ErrorMsg)
}

// runTerminalHook hands an exhausted webhook job to the processor. The guard
// key makes the hook run at most once per ledger entry and retry cycle,
// across workers and sweeps. If the guard cannot be checked the hook runs
// anyway; HandleRetriesExhausted tolerates a second call.
func (q *Queue) runTerminalHook(ctx context.Context, job *Job) {
	if job.TerminalHookRan {
		return
	}
	job.TerminalHookRan = true
	q.updateJob(ctx, job)

	payload, err := WebhookJobPayloadFromMap(job.Payload)
	if err != nil || payload.WebhookEventID == 0 {
		log.Errorf("[JobQueue] Terminal hook for job %s: invalid payload: %v", job.ID, err)
		return
	}

	acquired, err := q.client.SetNX(ctx, terminalGuardKey(payload.WebhookEventID), job.ID, JobTTL).Result()
	if err != nil {
		log.Warnf("[JobQueue] Terminal guard for ledger entry %d unavailable, running hook: %v", payload.WebhookEventID, err)
		acquired = true
	}
	if !acquired {
		log.Debugf("[JobQueue] Terminal hook for ledger entry %d already ran", payload.WebhookEventID)
		return
	}

	metrics.JobTerminalFailures.Inc()
	if q.processor == nil {
		return
	}
	if err := q.processor.HandleRetriesExhausted(ctx, payload.WebhookEventID, job.ErrorMsg); err != nil {
		log.Errorf("[JobQueue] Terminal hook for ledger entry %d failed: %v", payload.WebhookEventID, err)
	}
}

func (q *Queue) finalizeFailed(ctx context.Context, job *Job) {
	q.updateJobStats(ctx, JobStatusFailed, 1)
	q.updateJob(ctx, job)
	q.removeFromProcessing(ctx, job.ID)
	q.releaseJobEntry(ctx, job)
}

// PromoteDueJobs moves delayed jobs whose backoff elapsed back onto the
// pending queue. Only the caller that removes a member promotes it.
func (q *Queue) PromoteDueJobs(ctx context.Context) (int, error) {
	maxScore := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dropping delayed job %s: %v", id, err)
			continue
		}
		job.Status = JobStatusPending
		job.UpdatedAt = q.now()
		q.updateJob(ctx, job)
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	jobKey := JobKeyPrefix + job.ID
	if err := q.client.Set(ctx, jobKey, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	jobKey := JobKeyPrefix + jobID
	if err := q.client.Del(ctx, jobKey).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	} else {
		log.Debugf("[JobQueue] Successfully removed completed job %s from Redis", jobID)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobKey := JobKeyPrefix + jobID
	jobData, err := q.client.Get(ctx, jobKey).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for their backoff
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}

// Stats collects queue sizes and status counters.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	pending, err := q.GetQueueSize(ctx)
	if err != nil {
		return nil, err
	}
	processing, err := q.GetProcessingSize(ctx)
	if err != nil {
		return nil, err
	}
	delayed, err := q.GetDelayedSize(ctx)
	if err != nil {
		return nil, err
	}
	counters, err := q.GetJobStats(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Pending:    pending,
		Processing: processing,
		Delayed:    delayed,
		Counters:   counters,
	}, nil
}
