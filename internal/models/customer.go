package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents a referred end customer, identified by the unique
// (workspace_id, external_id) pair. Created on the first lead event for a
// given external id; updated on every subsequent sale event.
type Customer struct {
	Base
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_customers_workspace_external" json:"workspace_id"`
	ExternalID  string     `gorm:"type:varchar(190);not null;uniqueIndex:idx_customers_workspace_external" json:"external_id"`
	Name        string     `gorm:"type:varchar(190)" json:"name"`
	Email       string     `gorm:"type:varchar(190)" json:"email"`
	ClickID     string     `gorm:"type:varchar(190);index" json:"click_id"`
	LinkID      *uuid.UUID `gorm:"type:uuid;index" json:"link_id,omitempty"`
	ProgramID   *uuid.UUID `gorm:"type:uuid;index" json:"program_id,omitempty"`
	PartnerID   *uuid.UUID `gorm:"type:uuid;index" json:"partner_id,omitempty"`

	// Metadata carries caller-supplied attributes from the first lead event
	Metadata JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	Sales       int64      `gorm:"default:0" json:"sales"`
	SaleAmount  int64      `gorm:"default:0" json:"sale_amount"`
	FirstSaleAt *time.Time `json:"first_sale_at,omitempty"`
}
