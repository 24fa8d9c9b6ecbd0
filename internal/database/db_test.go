package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	if err := AutoMigrateAndSeed(db); err != nil {
		t.Fatalf("auto migrate and seed failed: %v", err)
	}

	var ruleCount int64
	if err := db.Model(&models.RewardRule{}).Count(&ruleCount).Error; err != nil {
		t.Fatalf("count reward rules: %v", err)
	}
	if ruleCount < 3 {
		t.Fatalf("expected at least 3 seeded reward rules, got %d", ruleCount)
	}

	// Reseeding must not duplicate rules.
	if err := SeedData(db); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	var again int64
	if err := db.Model(&models.RewardRule{}).Count(&again).Error; err != nil {
		t.Fatalf("recount reward rules: %v", err)
	}
	if again != ruleCount {
		t.Fatalf("expected %d rules after reseed, got %d", ruleCount, again)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := Open(Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
