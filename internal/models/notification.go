package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationStatus tracks message delivery state.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
)

// Notification channels supported by the dispatcher.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// NotificationMessage is a persisted notification for a user. A pending row
// with a future ScheduledAt represents a quiet-hours deferral.
type NotificationMessage struct {
	BaseModel

	UserID   string             `gorm:"type:uuid;index:idx_notification_user_status;not null" json:"user_id"`
	Type     string             `gorm:"type:varchar(64);not null" json:"type"`
	Title    string             `gorm:"type:varchar(255);not null" json:"title"`
	Content  string             `gorm:"type:text" json:"content"`
	Channel  string             `gorm:"type:varchar(32);index;not null" json:"channel"`
	Status   NotificationStatus `gorm:"type:varchar(16);index:idx_notification_user_status;default:'pending'" json:"status"`
	Metadata datatypes.JSON     `json:"metadata"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// NotificationPreference stores a user's delivery choices for one
// notification type. Quiet hours are wall-clock "HH:MM" strings and the
// window may wrap midnight (start > end).
type NotificationPreference struct {
	BaseModel

	UserID     string         `gorm:"type:uuid;uniqueIndex:idx_pref_user_type;not null" json:"user_id"`
	Type       string         `gorm:"type:varchar(64);uniqueIndex:idx_pref_user_type;not null" json:"type"`
	Channels   datatypes.JSON `json:"channels"`
	Frequency  string         `gorm:"type:varchar(32);default:'immediate'" json:"frequency"`

	// No column default on IsEnabled: gorm skips zero-value fields that
	// carry one, which would store an explicit false as true.
	IsEnabled  bool   `json:"is_enabled"`
	QuietStart string `gorm:"type:varchar(5)" json:"quiet_start"`
	QuietEnd   string `gorm:"type:varchar(5)" json:"quiet_end"`
}
