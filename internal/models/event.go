package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the business event a reward or commission applies to
type EventType string

const (
	EventTypeClick  EventType = "click"
	EventTypeLead   EventType = "lead"
	EventTypeSale   EventType = "sale"
	EventTypeCustom EventType = "custom"
)

// ClickEvent is the immutable record of a short-link visit. It is written
// once to the event sink and never mutated.
type ClickEvent struct {
	ClickID     string     `json:"click_id"`
	LinkID      uuid.UUID  `json:"link_id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	ProgramID   *uuid.UUID `json:"program_id,omitempty"`
	PartnerID   *uuid.UUID `json:"partner_id,omitempty"`
	Domain      string     `json:"domain"`
	Key         string     `json:"key"`
	URL         string     `json:"url"`
	IP          string     `json:"ip,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	Referrer    string     `json:"referrer,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`

	// ConversionEligible carries the link's track_conversion flag so that
	// downstream attribution does not need to re-read the link.
	ConversionEligible bool `json:"conversion_eligible"`
}

// LeadEvent is a conversion event correlated back to the click that
// originated it.
type LeadEvent struct {
	EventID     string     `json:"event_id"`
	EventName   string     `json:"event_name"`
	ClickID     string     `json:"click_id"`
	LinkID      uuid.UUID  `json:"link_id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	ProgramID   *uuid.UUID `json:"program_id,omitempty"`
	PartnerID   *uuid.UUID `json:"partner_id,omitempty"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Quantity    int64      `json:"quantity"`
	Referrer    string     `json:"referrer,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// SaleEvent is a monetary conversion event correlated back to its click.
// The (PaymentProcessor, InvoiceID) pair is its idempotency key.
type SaleEvent struct {
	EventID          string     `json:"event_id"`
	EventName        string     `json:"event_name"`
	ClickID          string     `json:"click_id"`
	LinkID           uuid.UUID  `json:"link_id"`
	WorkspaceID      uuid.UUID  `json:"workspace_id"`
	ProgramID        *uuid.UUID `json:"program_id,omitempty"`
	PartnerID        *uuid.UUID `json:"partner_id,omitempty"`
	CustomerID       uuid.UUID  `json:"customer_id"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	PaymentProcessor string     `json:"payment_processor"`
	InvoiceID        string     `json:"invoice_id"`
	Recurring        bool       `json:"recurring"`
	Quantity         int64      `json:"quantity"`
	Referrer         string     `json:"referrer,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}
