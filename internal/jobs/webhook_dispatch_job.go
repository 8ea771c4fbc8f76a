package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/webhook"
	"github.com/google/uuid"
)

// WebhookDispatchPayload is the payload for a dispatch_webhook job
type WebhookDispatchPayload struct {
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	LinkID      uuid.UUID       `json:"link_id"`
	Trigger     string          `json:"trigger"`
	Event       json.RawMessage `json:"event"`
}

// WebhookDispatchJob delivers correlated events to workspace webhooks
type WebhookDispatchJob struct {
	dispatcher *webhook.Dispatcher
}

// NewWebhookDispatchJob creates a new webhook dispatch job handler
func NewWebhookDispatchJob(dispatcher *webhook.Dispatcher) *WebhookDispatchJob {
	return &WebhookDispatchJob{dispatcher: dispatcher}
}

// Handle processes a dispatch_webhook job. Delivery failures surface as
// errors so the queue retries with backoff; receivers dedup by event id.
func (j *WebhookDispatchJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var payload WebhookDispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook payload: %w", err)
	}

	var event interface{}
	if len(payload.Event) > 0 {
		if err := json.Unmarshal(payload.Event, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event body: %w", err)
		}
	}

	if err := j.dispatcher.Dispatch(ctx, payload.WorkspaceID, payload.Trigger, event); err != nil {
		return nil, err
	}
	return nil, nil
}
