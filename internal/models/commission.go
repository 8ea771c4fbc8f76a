package models

import "github.com/google/uuid"

// CommissionStatus is the lifecycle status of a commission
type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusProcessed CommissionStatus = "processed"
	CommissionStatusPaid      CommissionStatus = "paid"
	CommissionStatusCanceled  CommissionStatus = "canceled"
)

// Commission is a persisted record of earnings owed to a partner for one
// attributed event. The unique index on EventID enforces at most one
// commission per originating event; rows are immutable after creation
// except for status transitions and payout assignment.
type Commission struct {
	Base
	ProgramID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"program_id"`
	PartnerID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"partner_id"`
	LinkID     *uuid.UUID `gorm:"type:uuid;index" json:"link_id,omitempty"`
	CustomerID *uuid.UUID `gorm:"type:uuid;index" json:"customer_id,omitempty"`
	EventID    string     `gorm:"type:varchar(190);not null;uniqueIndex" json:"event_id"`
	Type       EventType  `gorm:"type:varchar(20);not null" json:"type"`

	// Amount is the underlying sale amount (zero for click/lead);
	// Earnings is the computed payout owed to the partner.
	Amount   int64 `gorm:"default:0" json:"amount"`
	Earnings int64 `gorm:"default:0" json:"earnings"`
	Quantity int64 `gorm:"default:1" json:"quantity"`

	Currency string           `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status   CommissionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PayoutID *uuid.UUID       `gorm:"type:uuid;index" json:"payout_id,omitempty"`
}

// CanTransitionTo reports whether the commission may move to the given
// status. Pending commissions may be processed or canceled; processed
// commissions may be paid or canceled; paid and canceled are terminal.
func (c *Commission) CanTransitionTo(status CommissionStatus) bool {
	switch c.Status {
	case CommissionStatusPending:
		return status == CommissionStatusProcessed || status == CommissionStatusCanceled
	case CommissionStatusProcessed:
		return status == CommissionStatusPaid || status == CommissionStatusCanceled
	}
	return false
}
