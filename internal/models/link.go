package models

import (
	"time"

	"github.com/google/uuid"
)

// Link represents a short link owned by a workspace, identified by (domain, key)
type Link struct {
	Base
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Domain      string     `gorm:"type:varchar(190);not null;uniqueIndex:idx_links_domain_key" json:"domain"`
	Key         string     `gorm:"type:varchar(190);not null;uniqueIndex:idx_links_domain_key" json:"key"`
	URL         string     `gorm:"type:text;not null" json:"url"`
	ProgramID   *uuid.UUID `gorm:"type:uuid;index" json:"program_id,omitempty"`
	PartnerID   *uuid.UUID `gorm:"type:uuid;index" json:"partner_id,omitempty"`
	FolderID    *uuid.UUID `gorm:"type:uuid;index" json:"folder_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// TrackConversion marks the link as eligible for lead/sale attribution
	TrackConversion bool `gorm:"default:false" json:"track_conversion"`

	// Aggregate counters incremented on every attributed event
	Clicks     int64 `gorm:"default:0" json:"clicks"`
	Leads      int64 `gorm:"default:0" json:"leads"`
	Sales      int64 `gorm:"default:0" json:"sales"`
	SaleAmount int64 `gorm:"default:0" json:"sale_amount"`

	Tags     []Tag     `gorm:"many2many:link_tags" json:"tags,omitempty"`
	Webhooks []Webhook `gorm:"many2many:link_webhooks" json:"webhooks,omitempty"`
}

// Tag represents a workspace-level label attached to links
type Tag struct {
	Base
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"type:varchar(190);not null" json:"name"`
	Color       string    `gorm:"type:varchar(20)" json:"color"`
}

// Webhook represents an outbound webhook endpoint subscribed to workspace events
type Webhook struct {
	Base
	WorkspaceID uuid.UUID   `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string      `gorm:"type:varchar(190);not null" json:"name"`
	URL         string      `gorm:"type:text;not null" json:"url"`
	Secret      string      `gorm:"type:varchar(190);not null" json:"-"`
	Triggers    StringSlice `gorm:"type:text" json:"triggers"`
	Disabled    bool        `gorm:"default:false" json:"disabled"`
}

// LinkView is the denormalized cache projection of a Link and its related
// entities. It is rebuilt from the relational store whenever the link, its
// tags, webhooks, discount, or partner enrollment change; the store always
// wins on disagreement.
type LinkView struct {
	ID              uuid.UUID   `json:"id"`
	WorkspaceID     uuid.UUID   `json:"workspace_id"`
	Domain          string      `json:"domain"`
	Key             string      `json:"key"`
	URL             string      `json:"url"`
	ProgramID       *uuid.UUID  `json:"program_id,omitempty"`
	PartnerID       *uuid.UUID  `json:"partner_id,omitempty"`
	DiscountID      *uuid.UUID  `json:"discount_id,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	TrackConversion bool        `json:"track_conversion"`
	TagIDs          []uuid.UUID `json:"tag_ids,omitempty"`
	WebhookIDs      []uuid.UUID `json:"webhook_ids,omitempty"`
}

// Expired reports whether the link has passed its expiration time.
func (v *LinkView) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}
