package models

// UserContact stores the delivery addresses for a user. The invitation
// service does not own user accounts; the upstream system pushes contact
// details here so outward channels have somewhere to deliver.
type UserContact struct {
	BaseModel

	UserID string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Email  string `gorm:"type:varchar(255)" json:"email"`
	Phone  string `gorm:"type:varchar(32)" json:"phone"`
}
