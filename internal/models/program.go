package models

import "github.com/google/uuid"

// EnrollmentStatus is the status of a partner's enrollment in a program
type EnrollmentStatus string

const (
	EnrollmentStatusPending  EnrollmentStatus = "pending"
	EnrollmentStatusApproved EnrollmentStatus = "approved"
	EnrollmentStatusRejected EnrollmentStatus = "rejected"
	EnrollmentStatusBanned   EnrollmentStatus = "banned"
)

// Program represents an affiliate program owned by a workspace
type Program struct {
	Base
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"type:varchar(190);not null" json:"name"`
	Slug        string    `gorm:"type:varchar(190);uniqueIndex;not null" json:"slug"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
}

// Partner represents an affiliate who promotes programs through links
type Partner struct {
	Base
	Name    string     `gorm:"type:varchar(190);not null" json:"name"`
	Email   string     `gorm:"type:varchar(190);uniqueIndex" json:"email"`
	GroupID *uuid.UUID `gorm:"type:uuid;index" json:"group_id,omitempty"`
}

// PartnerGroup scopes reward and discount overrides to a subset of a
// program's partners.
type PartnerGroup struct {
	Base
	ProgramID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"program_id"`
	Name          string     `gorm:"type:varchar(190);not null" json:"name"`
	ClickRewardID *uuid.UUID `gorm:"type:uuid" json:"click_reward_id,omitempty"`
	LeadRewardID  *uuid.UUID `gorm:"type:uuid" json:"lead_reward_id,omitempty"`
	SaleRewardID  *uuid.UUID `gorm:"type:uuid" json:"sale_reward_id,omitempty"`
	DiscountID    *uuid.UUID `gorm:"type:uuid" json:"discount_id,omitempty"`
}

// ProgramEnrollment is the relationship between a Partner and a Program.
// Its reward/discount pointers are per-partner overrides; its counters are
// aggregates maintained by the commission engine.
type ProgramEnrollment struct {
	Base
	ProgramID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_enrollments_program_partner" json:"program_id"`
	PartnerID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_enrollments_program_partner" json:"partner_id"`
	Status    EnrollmentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	ClickRewardID *uuid.UUID `gorm:"type:uuid" json:"click_reward_id,omitempty"`
	LeadRewardID  *uuid.UUID `gorm:"type:uuid" json:"lead_reward_id,omitempty"`
	SaleRewardID  *uuid.UUID `gorm:"type:uuid" json:"sale_reward_id,omitempty"`
	DiscountID    *uuid.UUID `gorm:"type:uuid" json:"discount_id,omitempty"`

	TotalClicks      int64 `gorm:"default:0" json:"total_clicks"`
	TotalLeads       int64 `gorm:"default:0" json:"total_leads"`
	TotalSales       int64 `gorm:"default:0" json:"total_sales"`
	TotalSaleAmount  int64 `gorm:"default:0" json:"total_sale_amount"`
	TotalCommissions int64 `gorm:"default:0" json:"total_commissions"`
}

// RewardID returns the enrollment's reward override for the given event
// type, if any.
func (e *ProgramEnrollment) RewardID(event EventType) *uuid.UUID {
	switch event {
	case EventTypeClick:
		return e.ClickRewardID
	case EventTypeLead:
		return e.LeadRewardID
	case EventTypeSale:
		return e.SaleRewardID
	}
	return nil
}

// RewardID returns the group's reward override for the given event type,
// if any.
func (g *PartnerGroup) RewardID(event EventType) *uuid.UUID {
	switch event {
	case EventTypeClick:
		return g.ClickRewardID
	case EventTypeLead:
		return g.LeadRewardID
	case EventTypeSale:
		return g.SaleRewardID
	}
	return nil
}
