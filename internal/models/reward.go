package models

import "github.com/google/uuid"

// RewardType distinguishes the two mutually exclusive amount
// representations a reward can carry.
type RewardType string

const (
	RewardTypeFlat       RewardType = "flat"
	RewardTypePercentage RewardType = "percentage"
)

// Reward describes how much a partner earns for a given event type. A flat
// reward carries Amount in minor currency units; a percentage reward
// carries Percentage. A nil MaxDuration means the reward applies for the
// lifetime of the referred customer.
type Reward struct {
	Base
	ProgramID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"program_id"`
	Event      EventType  `gorm:"type:varchar(20);not null;index" json:"event"`
	Type       RewardType `gorm:"type:varchar(20);not null;default:'flat'" json:"type"`
	Amount     int64      `gorm:"default:0" json:"amount"`
	Percentage float64    `gorm:"type:decimal(10,4);default:0" json:"percentage"`

	// MaxDuration bounds the reward to this many billing cycles after the
	// referred customer's first sale; nil means lifetime.
	MaxDuration *int `json:"max_duration,omitempty"`

	// Default marks the program-wide reward for this event type, used when
	// neither the partner's enrollment nor their group overrides it.
	Default bool `gorm:"default:false" json:"default"`
}

// Discount describes a price reduction for the referred customer. It
// applies to the customer's own price, not the partner's commission.
type Discount struct {
	Base
	ProgramID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"program_id"`
	Type        RewardType `gorm:"type:varchar(20);not null;default:'flat'" json:"type"`
	Amount      int64      `gorm:"default:0" json:"amount"`
	Percentage  float64    `gorm:"type:decimal(10,4);default:0" json:"percentage"`
	MaxDuration *int       `json:"max_duration,omitempty"`
	Default     bool       `gorm:"default:false" json:"default"`
}
