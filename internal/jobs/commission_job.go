package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/services/commission"
	"github.com/google/uuid"
)

// CommissionJobPayload is the payload for a create_commission job
type CommissionJobPayload struct {
	EventID    string           `json:"event_id"`
	Type       models.EventType `json:"type"`
	ProgramID  uuid.UUID        `json:"program_id"`
	PartnerID  uuid.UUID        `json:"partner_id"`
	LinkID     *uuid.UUID       `json:"link_id,omitempty"`
	CustomerID *uuid.UUID       `json:"customer_id,omitempty"`
	Amount     int64            `json:"amount"`
	Currency   string           `json:"currency"`
	Quantity   int64            `json:"quantity"`
	EventTime  time.Time        `json:"event_time"`
}

// CommissionJob turns attributed events into commission records
type CommissionJob struct {
	engine *commission.Engine
}

// NewCommissionJob creates a new commission job handler
func NewCommissionJob(engine *commission.Engine) *CommissionJob {
	return &CommissionJob{engine: engine}
}

// Handle processes a create_commission job. A duplicate commission or an
// ineligible enrollment is a soft outcome: logged and completed, never
// retried.
func (j *CommissionJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var payload CommissionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commission payload: %w", err)
	}

	created, err := j.engine.CreateCommission(ctx, commission.CreateInput{
		EventID:    payload.EventID,
		Type:       payload.Type,
		ProgramID:  payload.ProgramID,
		PartnerID:  payload.PartnerID,
		LinkID:     payload.LinkID,
		CustomerID: payload.CustomerID,
		Amount:     payload.Amount,
		Currency:   payload.Currency,
		Quantity:   payload.Quantity,
		EventTime:  payload.EventTime,
	})
	if err != nil {
		if errors.Is(err, commission.ErrDuplicateCommission) {
			log.Printf("Commission for event %s already exists, skipping", payload.EventID)
			return nil, nil
		}
		if errors.Is(err, commission.ErrEnrollmentNotEligible) {
			log.Printf("Partner %s not eligible for commissions in program %s, skipping event %s",
				payload.PartnerID, payload.ProgramID, payload.EventID)
			return nil, nil
		}
		return nil, err
	}

	if created == nil {
		// No reward configured, or the reward's duration has lapsed for
		// this customer
		return nil, nil
	}

	return map[string]interface{}{
		"commission_id": created.ID.String(),
		"earnings":      created.Earnings,
	}, nil
}
