package jobs

import (
	"github.com/dubinc/dub-sub034/internal/events"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/services/commission"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/dubinc/dub-sub034/internal/webhook"
	"gorm.io/gorm"
)

// RegisterAllJobHandlers wires every job handler into the worker manager
func RegisterAllJobHandlers(
	manager *queue.WorkerManager,
	db *gorm.DB,
	sink events.Sink,
	linkSvc *links.Service,
	engine *commission.Engine,
	dispatcher *webhook.Dispatcher,
	q queue.Enqueuer,
	numWorkers int,
) {
	clickJob := NewClickRecordJob(sink, linkSvc, q)
	webhookJob := NewWebhookDispatchJob(dispatcher)
	commissionJob := NewCommissionJob(engine)
	cacheJob := NewCacheRefreshJob(linkSvc)
	reconcileJob := NewReconcileJob(db)

	manager.RegisterWorker(queue.JobTypeRecordClick, clickJob.Handle, numWorkers)
	manager.RegisterWorker(queue.JobTypeDispatchWebhook, webhookJob.Handle, numWorkers)
	manager.RegisterWorker(queue.JobTypeCreateCommission, commissionJob.Handle, numWorkers)
	manager.RegisterWorker(queue.JobTypeRefreshLinkCache, cacheJob.Handle, 1)
	manager.RegisterWorker(queue.JobTypeReconcileEnrollments, reconcileJob.Handle, 1)
}

// ScheduleRecurringJobs registers the periodic maintenance jobs
func ScheduleRecurringJobs(q *queue.RedisQueue) error {
	return q.ScheduleRecurring(
		"reconcile-enrollments",
		queue.JobTypeReconcileEnrollments,
		map[string]string{},
		"24h",
	)
}
