package events

import (
	"context"
	"errors"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateClick is returned when a click id was already recorded
	ErrDuplicateClick = errors.New("click already recorded")
	// ErrDuplicateSale is returned when a (processor, invoice id) pair was
	// already recorded
	ErrDuplicateSale = errors.New("sale already recorded for invoice")
)

// Sink is the append-only event store consumed by the attribution pipeline.
// The core appends and queries; retention and schema evolution belong to
// the sink itself.
type Sink interface {
	// AppendClick records a click event exactly once per click id.
	// Re-appending the same click id returns ErrDuplicateClick, which
	// protects against double-recording on at-least-once retries.
	AppendClick(ctx context.Context, click *models.ClickEvent) error

	// GetClick returns the click event for the given id, or (nil, nil)
	// when the click is unknown or has aged out of retention.
	GetClick(ctx context.Context, clickID string) (*models.ClickEvent, error)

	// ClicksByLink returns click events for a link over a time range.
	ClicksByLink(ctx context.Context, linkID uuid.UUID, from, to time.Time) ([]*models.ClickEvent, error)

	// AppendLead records a lead event. The returned bool is false when a
	// lead for the same (click id, event name, customer) was already
	// recorded; re-sends are tolerated, not distinct conversions.
	AppendLead(ctx context.Context, lead *models.LeadEvent) (bool, error)

	// GetLead returns the lead event recorded for a (click id, event
	// name, customer) triple, or (nil, nil) when none was recorded.
	GetLead(ctx context.Context, clickID, eventName string, customerID uuid.UUID) (*models.LeadEvent, error)

	// LeadCount returns the number of distinct leads recorded for a
	// (click id, event name) pair.
	LeadCount(ctx context.Context, clickID, eventName string) (int64, error)

	// AppendSale records a sale event, keyed by (processor, invoice id).
	// A duplicate pair returns ErrDuplicateSale.
	AppendSale(ctx context.Context, sale *models.SaleEvent) error

	// RecordedSale reports whether a (processor, invoice id) pair has
	// already been recorded.
	RecordedSale(ctx context.Context, processor, invoiceID string) (bool, error)
}
