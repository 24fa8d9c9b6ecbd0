package models

import (
	"time"

	"gorm.io/datatypes"
)

// RewardRule maps a domain event to a credit grant. Conditions hold a
// JSON-encoded predicate tree evaluated against the event payload.
type RewardRule struct {
	BaseModel

	Name         string         `gorm:"type:varchar(128);not null" json:"name"`
	EventType    string         `gorm:"type:varchar(64);index;not null" json:"event_type"`
	RewardType   string         `gorm:"type:varchar(64);not null" json:"reward_type"`
	RewardAmount int64          `gorm:"not null" json:"reward_amount"`
	Conditions   datatypes.JSON `json:"conditions"`
	Priority     int            `gorm:"default:0;index" json:"priority"`

	// No column default on IsActive: gorm skips zero-value fields that
	// carry one, which would store an explicit false as true.
	IsActive bool `gorm:"index" json:"is_active"`
}

// ApprovalStatus tracks the lifecycle of a risk-gated reward.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// RewardApproval is created instead of a ledger write when a grant is deemed
// risky. Approving one performs the deferred earn; rejecting is terminal.
type RewardApproval struct {
	BaseModel

	UserID      string         `gorm:"type:uuid;index;not null" json:"user_id"`
	RewardType  string         `gorm:"type:varchar(64);not null" json:"reward_type"`
	Amount      int64          `gorm:"not null" json:"amount"`
	Description string         `gorm:"type:text" json:"description"`
	Status      ApprovalStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	AdminID     string         `gorm:"type:uuid" json:"admin_id"`
	Notes       string         `gorm:"type:text" json:"notes"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}
