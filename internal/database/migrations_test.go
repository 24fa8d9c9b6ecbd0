package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenclass/inviteledger/internal/models"
)

func TestAutoMigrateCreatesLedgerTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.CreditRecord{},
		&models.CreditBalance{},
		&models.RewardRule{},
		&models.RewardApproval{},
		&models.NotificationMessage{},
		&models.NotificationPreference{},
		&models.InviteEvent{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestAutoMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))

	require.True(t, db.Migrator().HasColumn(&models.CreditRecord{}, "expires_at"))
	require.True(t, db.Migrator().HasColumn(&models.CreditBalance{}, "available_credits"))
}
