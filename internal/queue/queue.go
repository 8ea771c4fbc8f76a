package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType defines the type of job
type JobType string

const (
	// Job types
	JobTypeRecordClick          JobType = "record_click"
	JobTypeDispatchWebhook      JobType = "dispatch_webhook"
	JobTypeCreateCommission     JobType = "create_commission"
	JobTypeRefreshLinkCache     JobType = "refresh_link_cache"
	JobTypeReconcileEnrollments JobType = "reconcile_enrollments"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents a background job
type Job struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Type       JobType         `json:"type" gorm:"index"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status" gorm:"index"`
	RetryCount int             `json:"retry_count" gorm:"default:0"`
	MaxRetries int             `json:"max_retries" gorm:"default:3"`
	NextRetry  *time.Time      `json:"next_retry,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job Job) (interface{}, error)

// Enqueuer is the narrow interface services use to hand work to the queue
type Enqueuer interface {
	Enqueue(jobType JobType, payload interface{}, opts ...EnqueueOption) (string, error)
}
