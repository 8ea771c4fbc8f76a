package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Worker processes jobs from a queue
type Worker struct {
	queue      *RedisQueue
	jobType    string
	handler    JobHandler
	numWorkers int
	wg         sync.WaitGroup
	quit       chan struct{}
}

// NewWorker creates a new worker
func NewWorker(queue *RedisQueue, jobType string, handler JobHandler, numWorkers int) *Worker {
	return &Worker{
		queue:      queue,
		jobType:    jobType,
		handler:    handler,
		numWorkers: numWorkers,
		quit:       make(chan struct{}),
	}
}

// Start starts the worker
func (w *Worker) Start() {
	log.Printf("Starting %d workers for queue %s", w.numWorkers, w.jobType)

	for i := 0; i < w.numWorkers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	log.Printf("Stopping workers for queue %s", w.jobType)
	close(w.quit)
	w.wg.Wait()
}

// process processes jobs from the queue
func (w *Worker) process(workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.quit:
			log.Printf("Worker %d for queue %s stopped", workerID, w.jobType)
			return
		default:
			job, err := w.queue.Dequeue(w.jobType, 1*time.Second)
			if err != nil {
				log.Printf("Error dequeueing job: %v", err)
				time.Sleep(1 * time.Second)
				continue
			}

			if job == nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			result, err := w.handler(context.Background(), *job)
			if err != nil {
				log.Printf("Error processing job %s: %v", job.ID, err)
				if err := w.queue.Fail(w.jobType, job, err); err != nil {
					log.Printf("Error marking job %s as failed: %v", job.ID, err)
				}
				continue
			}

			if err := w.queue.Complete(w.jobType, job.ID, result); err != nil {
				log.Printf("Error marking job %s as completed: %v", job.ID, err)
			}
		}
	}
}

// WorkerManager manages the workers and the recurring-job scheduler
type WorkerManager struct {
	queue     *RedisQueue
	workers   map[string]*Worker
	scheduler *gocron.Scheduler
	mu        sync.Mutex
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(queue *RedisQueue) *WorkerManager {
	return &WorkerManager{
		queue:     queue,
		workers:   make(map[string]*Worker),
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// RegisterWorker registers a worker pool for a job type
func (m *WorkerManager) RegisterWorker(jobType JobType, handler JobHandler, numWorkers int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[string(jobType)]; exists {
		log.Printf("Worker for queue %s already registered", jobType)
		return
	}

	m.workers[string(jobType)] = NewWorker(m.queue, string(jobType), handler, numWorkers)
}

// StartAll starts all registered workers and the recurring-job scheduler
func (m *WorkerManager) StartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, worker := range m.workers {
		worker.Start()
	}

	// Re-enqueue recurring jobs every minute
	m.scheduler.Every(1).Minute().Do(func() {
		m.processRecurringJobs()
	})
	m.scheduler.StartAsync()
}

// StopAll stops all registered workers
func (m *WorkerManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scheduler.Stop()
	for _, worker := range m.workers {
		worker.Stop()
	}
}

// processRecurringJobs enqueues recurring jobs whose interval has elapsed
func (m *WorkerManager) processRecurringJobs() {
	jobs, err := m.queue.GetRecurringJobs()
	if err != nil {
		log.Printf("Error getting recurring jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}

		interval, err := time.ParseDuration(job.Schedule)
		if err != nil {
			log.Printf("Recurring job %s has invalid schedule %q: %v", job.Name, job.Schedule, err)
			continue
		}
		if job.LastRun != nil && time.Since(*job.LastRun) < interval {
			continue
		}

		if _, err := m.queue.Enqueue(JobType(job.Queue), job.Payload); err != nil {
			log.Printf("Error enqueueing recurring job %s: %v", job.Name, err)
			continue
		}

		now := time.Now()
		job.LastRun = &now
		if err := m.queue.updateRecurringJob(job); err != nil {
			log.Printf("Error updating recurring job %s: %v", job.Name, err)
		}
	}
}
