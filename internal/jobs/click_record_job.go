package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/dubinc/dub-sub034/internal/events"
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/services/links"
)

// ClickRecordJob appends enqueued click events to the sink, bumps the
// link's click counter, and hands partner clicks to the commission engine
type ClickRecordJob struct {
	sink  events.Sink
	links *links.Service
	q     queue.Enqueuer
}

// NewClickRecordJob creates a new click record job handler
func NewClickRecordJob(sink events.Sink, linkSvc *links.Service, q queue.Enqueuer) *ClickRecordJob {
	return &ClickRecordJob{sink: sink, links: linkSvc, q: q}
}

// Handle processes a record_click job. The sink dedups by click id, so
// at-least-once delivery from the queue cannot double-record.
func (j *ClickRecordJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var click models.ClickEvent
	if err := json.Unmarshal(job.Payload, &click); err != nil {
		return nil, fmt.Errorf("failed to unmarshal click payload: %w", err)
	}

	if err := j.sink.AppendClick(ctx, &click); err != nil {
		if errors.Is(err, events.ErrDuplicateClick) {
			log.Printf("Click %s already recorded, skipping", click.ClickID)
			// Re-enqueue the commission anyway; the first delivery may
			// have died before the enqueue, and the engine dedups by
			// event id
			return nil, j.enqueueClickCommission(&click)
		}
		return nil, err
	}

	if err := j.links.IncrementClicks(ctx, click.LinkID); err != nil {
		return nil, err
	}

	if err := j.enqueueClickCommission(&click); err != nil {
		return nil, err
	}

	return map[string]string{"click_id": click.ClickID}, nil
}

// enqueueClickCommission queues a create_commission job for a click on a
// partner link. The click id doubles as the commission's event id, so
// redelivery is absorbed by the unique constraint.
func (j *ClickRecordJob) enqueueClickCommission(click *models.ClickEvent) error {
	if click.ProgramID == nil || click.PartnerID == nil {
		return nil
	}

	payload := map[string]interface{}{
		"event_id":   click.ClickID,
		"type":       models.EventTypeClick,
		"program_id": click.ProgramID.String(),
		"partner_id": click.PartnerID.String(),
		"link_id":    click.LinkID.String(),
		"quantity":   int64(1),
		"event_time": click.Timestamp,
	}
	if _, err := j.q.Enqueue(queue.JobTypeCreateCommission, payload); err != nil {
		return fmt.Errorf("failed to enqueue click commission for %s: %w", click.ClickID, err)
	}
	return nil
}
