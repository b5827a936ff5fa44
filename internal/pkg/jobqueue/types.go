package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBillingWebhook JobType = "billing_webhook"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job. RetryCount counts failed attempts and
// MaxRetries is the attempt ceiling.
type Job struct {
	ID              string                 `json:"id"`
	Type            JobType                `json:"type"`
	Status          JobStatus              `json:"status"`
	Payload         map[string]interface{} `json:"payload"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	NextRunAt       *time.Time             `json:"next_run_at,omitempty"`
	ErrorMsg        string                 `json:"error_msg,omitempty"`
	RetryCount      int                    `json:"retry_count"`
	MaxRetries      int                    `json:"max_retries"`
	TerminalHookRan bool                   `json:"terminal_hook_ran"`
}

// WebhookJobPayload references a ledger entry to dispatch.
type WebhookJobPayload struct {
	WebhookEventID  uint   `json:"webhook_event_id"`
	EventType       string `json:"event_type"`
	ProviderEventID string `json:"provider_event_id"`
}

// ToMap converts the payload to a map for storage
func (p WebhookJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id":  p.WebhookEventID,
		"event_type":        p.EventType,
		"provider_event_id": p.ProviderEventID,
	}
}

// WebhookJobPayloadFromMap creates a payload from a map
func WebhookJobPayloadFromMap(data map[string]interface{}) (*WebhookJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookJobPayload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
	j.NextRunAt = nil
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying schedules the job for another attempt at runAt
func (j *Job) MarkAsRetrying(runAt time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
	j.NextRunAt = &runAt
}
