package models

import "gorm.io/datatypes"

// Domain event types carried on the inbound queue.
const (
	EventUserRegistered = "user_registered"
	EventUserActivated  = "user_activated"
	EventMilestone      = "milestone_reached"
	EventRewardGranted  = "reward_granted"
)

// InviteEvent is the audit row written for every processed invitation domain
// event, recording the fingerprint verdict and reward outcome.
type InviteEvent struct {
	BaseModel

	EventType       string         `gorm:"type:varchar(64);index;not null" json:"event_type"`
	UserID          string         `gorm:"type:uuid;index;not null" json:"user_id"`
	Payload         datatypes.JSON `json:"payload"`
	FingerprintHash string         `gorm:"type:varchar(64);index" json:"fingerprint_hash"`
	Suspicious      bool           `gorm:"default:false" json:"suspicious"`
	Outcome         string         `gorm:"type:varchar(32)" json:"outcome"`
}
