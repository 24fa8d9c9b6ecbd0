package database

import (
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CreditRecord{},
		&models.CreditBalance{},
		&models.RewardRule{},
		&models.RewardApproval{},
		&models.NotificationMessage{},
		&models.NotificationPreference{},
		&models.InviteEvent{},
		&models.UserContact{},
		&models.CacheEntry{},
	)
}

// SeedData populates the default invitation reward rules. Each rule is only
// created when no rule with the same ID exists, so reseeding is safe.
func SeedData(db *gorm.DB) error {
	rules := []models.RewardRule{
		{
			BaseModel:    models.BaseModel{ID: "rule-invitee-registered"},
			Name:         "Invitee registration bonus",
			EventType:    models.EventUserRegistered,
			RewardType:   "invite_reward",
			RewardAmount: 50,
			Priority:     10,
			IsActive:     true,
		},
		{
			BaseModel:    models.BaseModel{ID: "rule-inviter-activated"},
			Name:         "Inviter activation bonus",
			EventType:    models.EventUserActivated,
			RewardType:   "invite_reward",
			RewardAmount: 100,
			Priority:     10,
			IsActive:     true,
		},
		{
			BaseModel:    models.BaseModel{ID: "rule-milestone"},
			Name:         "Invitation milestone bonus",
			EventType:    models.EventMilestone,
			RewardType:   "milestone_reward",
			RewardAmount: 200,
			Priority:     10,
			IsActive:     true,
		},
	}

	for _, rule := range rules {
		err := db.Where(models.RewardRule{BaseModel: models.BaseModel{ID: rule.ID}}).
			Attrs(rule).
			FirstOrCreate(&models.RewardRule{}).Error
		if err != nil {
			return err
		}
	}

	return nil
}
