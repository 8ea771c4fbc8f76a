package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Redis key prefixes
const (
	queuePrefix      = "queue:"
	processingPrefix = "processing:"
	delayedPrefix    = "delayed:"
	recurringPrefix  = "recurring:"
	failedPrefix     = "failed:"
	completedPrefix  = "completed:"
)

// RedisQueue is a Redis-backed job queue. Job state is durable in the
// relational store; Redis carries the ready, delayed, and processing sets.
type RedisQueue struct {
	client *redis.Client
	db     *gorm.DB
	ctx    context.Context
}

// NewRedisQueue creates a new Redis-backed queue
func NewRedisQueue(client *redis.Client, db *gorm.DB) *RedisQueue {
	q := &RedisQueue{
		client: client,
		db:     db,
		ctx:    context.Background(),
	}

	// Start moving delayed jobs that come due
	go q.processDelayedJobs()

	return q
}

// Close closes the Redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(jobType JobType, payload interface{}, opts ...EnqueueOption) (string, error) {
	options := &EnqueueOptions{
		delay:    0,
		maxRetry: 3,
	}
	for _, opt := range opts {
		opt(options)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := Job{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		RetryCount: 0,
		MaxRetries: options.maxRetry,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	// Save job to database first so the queue entry only ever references a
	// durable record
	if err := q.db.Create(&job).Error; err != nil {
		return "", err
	}

	if options.delay > 0 {
		return q.enqueueDelayed(job, options.delay)
	}
	return q.enqueueImmediate(job)
}

// enqueueImmediate adds a job to the immediate queue
func (q *RedisQueue) enqueueImmediate(job Job) (string, error) {
	data, err := json.Marshal(map[string]interface{}{
		"id":   job.ID.String(),
		"type": string(job.Type),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	queueName := queuePrefix + string(job.Type)
	if err := q.client.LPush(q.ctx, queueName, data).Err(); err != nil {
		return "", fmt.Errorf("failed to add job to queue: %w", err)
	}

	return job.ID.String(), nil
}

// enqueueDelayed adds a job to the delayed queue
func (q *RedisQueue) enqueueDelayed(job Job, delay time.Duration) (string, error) {
	processAt := time.Now().Add(delay)

	delayedQueue := delayedPrefix + string(job.Type)
	if err := q.client.ZAdd(q.ctx, delayedQueue, &redis.Z{
		Score:  float64(processAt.Unix()),
		Member: job.ID.String(),
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to add job to delayed queue: %w", err)
	}

	return job.ID.String(), nil
}

// Dequeue gets a job from the queue
func (q *RedisQueue) Dequeue(queueName string, timeout time.Duration) (*Job, error) {
	queueKey := queuePrefix + queueName

	result, err := q.client.BRPop(q.ctx, timeout, queueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // No jobs in queue
		}
		return nil, fmt.Errorf("error popping job from queue %s: %w", queueName, err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from BRPOP for queue %s", queueName)
	}

	var jobInfo map[string]string
	if err := json.Unmarshal([]byte(result[1]), &jobInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	jobID, ok := jobInfo["id"]
	if !ok {
		return nil, fmt.Errorf("job data missing ID")
	}

	jobUUID, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	var job Job
	if err := q.db.First(&job, "id = ?", jobUUID).Error; err != nil {
		return nil, fmt.Errorf("failed to find job %s: %w", jobID, err)
	}

	if err := q.db.Model(&job).Updates(map[string]interface{}{
		"status":     JobStatusProcessing,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	processingKey := processingPrefix + queueName
	if err := q.client.HSet(q.ctx, processingKey, job.ID.String(), time.Now().String()).Err(); err != nil {
		log.Printf("Warning: failed to add job to processing set: %v", err)
	}

	return &job, nil
}

// processDelayedJobs moves delayed jobs that are ready to the main queue
func (q *RedisQueue) processDelayedJobs() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	jobTypes := []JobType{
		JobTypeRecordClick,
		JobTypeDispatchWebhook,
		JobTypeCreateCommission,
		JobTypeRefreshLinkCache,
		JobTypeReconcileEnrollments,
	}

	for range ticker.C {
		for _, jobType := range jobTypes {
			q.moveDelayedJobs(string(jobType))
		}
	}
}

// moveDelayedJobs moves due jobs from the delayed set to the main queue
func (q *RedisQueue) moveDelayedJobs(jobType string) {
	delayedQueue := delayedPrefix + jobType
	queueName := queuePrefix + jobType
	now := float64(time.Now().Unix())

	jobs, err := q.client.ZRangeByScore(q.ctx, delayedQueue, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		log.Printf("Error getting delayed jobs: %v", err)
		return
	}

	for _, jobID := range jobs {
		jobUUID, err := uuid.Parse(jobID)
		if err != nil {
			log.Printf("Invalid job ID: %v", err)
			continue
		}

		var job Job
		if err := q.db.First(&job, "id = ?", jobUUID).Error; err != nil {
			log.Printf("Failed to find job %s: %v", jobID, err)
			continue
		}

		data, err := json.Marshal(map[string]interface{}{
			"id":   job.ID.String(),
			"type": string(job.Type),
		})
		if err != nil {
			log.Printf("Failed to marshal job: %v", err)
			continue
		}

		if err := q.client.LPush(q.ctx, queueName, data).Err(); err != nil {
			log.Printf("Failed to add job to queue: %v", err)
			continue
		}

		if err := q.client.ZRem(q.ctx, delayedQueue, jobID).Err(); err != nil {
			log.Printf("Failed to remove job from delayed queue: %v", err)
		}
	}
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(queueName string, jobID uuid.UUID, result interface{}) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
	}

	if err := q.db.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     JobStatusCompleted,
		"result":     resultJSON,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	processingKey := processingPrefix + queueName
	if err := q.client.HDel(q.ctx, processingKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing set: %w", err)
	}

	completedKey := completedPrefix + queueName
	if err := q.client.HSet(q.ctx, completedKey, jobID.String(), time.Now().String()).Err(); err != nil {
		return fmt.Errorf("failed to add job to completed set: %w", err)
	}

	// Completed bookkeeping is short-lived
	if err := q.client.Expire(q.ctx, completedKey, 24*time.Hour).Err(); err != nil {
		log.Printf("Warning: failed to set TTL on completed job %s: %v", jobID, err)
	}

	return nil
}

// Fail marks a job as failed, scheduling a retry with backoff while
// attempts remain
func (q *RedisQueue) Fail(queueName string, job *Job, jobErr error) error {
	processingKey := processingPrefix + queueName
	if err := q.client.HDel(q.ctx, processingKey, job.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing set: %w", err)
	}

	retryCount := job.RetryCount + 1
	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	}

	if retryCount < job.MaxRetries {
		backoff := calculateBackoff(retryCount)
		nextRetry := time.Now().Add(backoff)

		if err := q.db.Model(job).Updates(map[string]interface{}{
			"retry_count": retryCount,
			"next_retry":  nextRetry,
			"error":       errMsg,
			"status":      JobStatusPending,
			"updated_at":  time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to update job for retry: %w", err)
		}

		delayedQueue := delayedPrefix + string(job.Type)
		if err := q.client.ZAdd(q.ctx, delayedQueue, &redis.Z{
			Score:  float64(nextRetry.Unix()),
			Member: job.ID.String(),
		}).Err(); err != nil {
			return fmt.Errorf("failed to add job to delayed queue for retry: %w", err)
		}

		return nil
	}

	if err := q.db.Model(job).Updates(map[string]interface{}{
		"status":      JobStatusFailed,
		"retry_count": retryCount,
		"error":       errMsg,
		"updated_at":  time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to update job as failed: %w", err)
	}

	failedKey := failedPrefix + string(job.Type)
	if err := q.client.HSet(q.ctx, failedKey, job.ID.String(), time.Now().String()).Err(); err != nil {
		return fmt.Errorf("failed to add job to failed set: %w", err)
	}

	log.Printf("Job %s of type %s permanently failed after %d attempts: %s", job.ID, job.Type, retryCount, errMsg)
	return nil
}

// ScheduleRecurring schedules a recurring job
func (q *RedisQueue) ScheduleRecurring(name string, jobType JobType, payload interface{}, schedule string) error {
	job := RecurringJob{
		Name:     name,
		Queue:    string(jobType),
		Payload:  payload,
		Schedule: schedule,
		Enabled:  true,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal recurring job: %w", err)
	}

	if err := q.client.HSet(q.ctx, recurringPrefix+"jobs", name, data).Err(); err != nil {
		return fmt.Errorf("failed to add recurring job: %w", err)
	}

	return nil
}

// updateRecurringJob persists bookkeeping changes to a recurring job
func (q *RedisQueue) updateRecurringJob(job RecurringJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal recurring job: %w", err)
	}
	if err := q.client.HSet(q.ctx, recurringPrefix+"jobs", job.Name, data).Err(); err != nil {
		return fmt.Errorf("failed to update recurring job: %w", err)
	}
	return nil
}

// RemoveRecurring removes a recurring job
func (q *RedisQueue) RemoveRecurring(name string) error {
	if err := q.client.HDel(q.ctx, recurringPrefix+"jobs", name).Err(); err != nil {
		return fmt.Errorf("failed to remove recurring job: %w", err)
	}
	return nil
}

// GetRecurringJobs gets all recurring jobs
func (q *RedisQueue) GetRecurringJobs() ([]RecurringJob, error) {
	result, err := q.client.HGetAll(q.ctx, recurringPrefix+"jobs").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring jobs: %w", err)
	}

	jobs := make([]RecurringJob, 0, len(result))
	for _, data := range result {
		var job RecurringJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			log.Printf("Error unmarshaling recurring job: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// GetQueueStats gets statistics for a queue
func (q *RedisQueue) GetQueueStats(queueName string) (*QueueStats, error) {
	stats := &QueueStats{
		Queue: queueName,
	}

	waiting, err := q.client.LLen(q.ctx, queuePrefix+queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get waiting count: %w", err)
	}
	stats.Waiting = int(waiting)

	delayed, err := q.client.ZCard(q.ctx, delayedPrefix+queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get delayed count: %w", err)
	}
	stats.Delayed = int(delayed)

	processing, err := q.client.HLen(q.ctx, processingPrefix+queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get processing count: %w", err)
	}
	stats.Processing = int(processing)

	failed, err := q.client.HLen(q.ctx, failedPrefix+queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed count: %w", err)
	}
	stats.Failed = int(failed)

	completed, err := q.client.HLen(q.ctx, completedPrefix+queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get completed count: %w", err)
	}
	stats.Completed = int(completed)

	return stats, nil
}
