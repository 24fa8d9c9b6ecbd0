package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumenclass/inviteledger/internal/database/testutil"
	"github.com/lumenclass/inviteledger/internal/models"
)

func TestCreditServiceAddAndAvailable(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	record, err := svc.Add(context.Background(), userID, 50, models.SourceInviteReward, "rule-1", "welcome bonus")
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	require.Equal(t, models.CreditEarned, record.Kind)
	require.NotNil(t, record.ExpiresAt)

	available, err := svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(50), available)
}

func TestCreditServiceAddRejectsInvalidInput(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	_, err = svc.Add(context.Background(), "", 10, models.SourceInviteReward, "", "")
	require.Error(t, err)

	_, err = svc.Add(context.Background(), uuid.NewString(), 0, models.SourceInviteReward, "", "")
	require.Error(t, err)

	_, err = svc.Add(context.Background(), uuid.NewString(), -5, models.SourceInviteReward, "", "")
	require.Error(t, err)
}

func TestCreditServiceUseInsufficientThenExact(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 10, models.SourceInviteReward, "", "")
	require.NoError(t, err)

	ok, err := svc.Use(context.Background(), userID, 15, "checkout")
	require.NoError(t, err)
	require.False(t, ok)

	// The failed attempt must leave no trace in the ledger.
	available, err := svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(10), available)

	ok, err = svc.Use(context.Background(), userID, 10, "checkout")
	require.NoError(t, err)
	require.True(t, ok)

	available, err = svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, available)
}

func TestCreditServiceUseConsumesOldestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// The clock drives gorm's timestamps too, so created_at ordering is the
	// insertion order the test dictates rather than wall-clock luck.
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(), testutil.WithNowFunc(clock))
	svc, err := NewCreditService(db, WithCreditClock(clock))
	require.NoError(t, err)

	userID := uuid.NewString()
	first, err := svc.Add(context.Background(), userID, 30, models.SourceInviteReward, "", "first")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	second, err := svc.Add(context.Background(), userID, 30, models.SourceMilestoneReward, "", "second")
	require.NoError(t, err)

	ok, err := svc.Use(context.Background(), userID, 40, "purchase")
	require.NoError(t, err)
	require.True(t, ok)

	var usedRows []models.CreditRecord
	err = db.Where("user_id = ? AND kind = ?", userID, models.CreditUsed).
		Order("created_at ASC, id ASC").
		Find(&usedRows).Error
	require.NoError(t, err)
	require.Len(t, usedRows, 2)

	// The older record is drained completely before the newer one is touched.
	require.Equal(t, first.ID, usedRows[0].SourceID)
	require.Equal(t, int64(-30), usedRows[0].Amount)
	require.Equal(t, second.ID, usedRows[1].SourceID)
	require.Equal(t, int64(-10), usedRows[1].Amount)

	// Fresh destination per lookup: gorm folds a populated primary key into
	// the next query's conditions.
	var drained models.CreditRecord
	require.NoError(t, db.Take(&drained, "id = ?", first.ID).Error)
	require.NotNil(t, drained.UsedAt)

	var untouched models.CreditRecord
	require.NoError(t, db.Take(&untouched, "id = ?", second.ID).Error)
	require.Nil(t, untouched.UsedAt)
}

func TestCreditServiceConcurrentUseSpendsAtMostOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	// A single pooled connection serializes the transactions, which is how
	// sqlite behaves under write load anyway.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 100, models.SourceInviteReward, "", "")
	require.NoError(t, err)

	const attempts = 4
	results := make([]bool, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Use(context.Background(), userID, 100, "race")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)

	available, err := svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, available)
}

func TestCreditServiceBalanceMatchesLedger(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 80, models.SourceInviteReward, "", "")
	require.NoError(t, err)
	_, err = svc.Add(context.Background(), userID, 20, models.SourcePurchase, "", "")
	require.NoError(t, err)

	ok, err := svc.Use(context.Background(), userID, 30, "spend")
	require.NoError(t, err)
	require.True(t, ok)

	balance, err := svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.TotalEarned)
	require.Equal(t, int64(30), balance.TotalUsed)
	require.Zero(t, balance.TotalExpired)
	require.Equal(t, int64(70), balance.AvailableCredits)

	available, err := svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, balance.AvailableCredits, available)
}

func TestCreditServiceBalanceRecomputesOnMiss(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 40, models.SourceInviteReward, "", "")
	require.NoError(t, err)

	// Drop the cached row; the next read must rebuild it from the ledger.
	require.NoError(t, db.Delete(&models.CreditBalance{}, "user_id = ?", userID).Error)

	balance, err := svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(40), balance.AvailableCredits)

	var stored models.CreditBalance
	require.NoError(t, db.Take(&stored, "user_id = ?", userID).Error)
	require.Equal(t, int64(40), stored.AvailableCredits)
}

func TestCreditServiceExpireAllIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := NewCreditService(db, WithCreditClock(clock), WithCreditExpiryDays(30))
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 60, models.SourceInviteReward, "", "")
	require.NoError(t, err)

	ok, err := svc.Use(context.Background(), userID, 25, "partial spend")
	require.NoError(t, err)
	require.True(t, ok)

	// Jump past the expiry window.
	now = now.AddDate(0, 0, 31)

	expired, err := svc.ExpireAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	available, err := svc.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, available)

	var expiredRow models.CreditRecord
	require.NoError(t, db.Take(&expiredRow, "user_id = ? AND kind = ?", userID, models.CreditExpired).Error)
	require.Equal(t, int64(-35), expiredRow.Amount)

	// A second sweep finds nothing left to expire and writes nothing.
	expired, err = svc.ExpireAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, expired)

	var count int64
	require.NoError(t, db.Model(&models.CreditRecord{}).
		Where("user_id = ? AND kind = ?", userID, models.CreditExpired).
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreditServiceUseSkipsExpiredRecords(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := NewCreditService(db, WithCreditClock(clock), WithCreditExpiryDays(10))
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 50, models.SourceInviteReward, "", "expires soon")
	require.NoError(t, err)

	now = now.AddDate(0, 0, 11)
	_, err = svc.Add(context.Background(), userID, 20, models.SourcePurchase, "", "fresh")
	require.NoError(t, err)

	// The first record is past expiry even though no sweep has run yet.
	ok, err := svc.Use(context.Background(), userID, 30, "too much")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Use(context.Background(), userID, 20, "fits")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCreditServiceExpiring(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := NewCreditService(db, WithCreditClock(clock), WithCreditExpiryDays(5))
	require.NoError(t, err)

	userID := uuid.NewString()
	soon, err := svc.Add(context.Background(), userID, 15, models.SourceInviteReward, "", "")
	require.NoError(t, err)

	later, err := NewCreditService(db, WithCreditClock(clock), WithCreditExpiryDays(60))
	require.NoError(t, err)
	_, err = later.Add(context.Background(), userID, 25, models.SourcePurchase, "", "")
	require.NoError(t, err)

	records, err := svc.Expiring(context.Background(), userID, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, soon.ID, records[0].ID)
}

func TestCreditServiceStats(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewCreditService(db)
	require.NoError(t, err)

	userID := uuid.NewString()
	_, err = svc.Add(context.Background(), userID, 100, models.SourceInviteReward, "", "")
	require.NoError(t, err)
	_, err = svc.Add(context.Background(), userID, 40, models.SourceMilestoneReward, "", "")
	require.NoError(t, err)

	ok, err := svc.Use(context.Background(), userID, 50, "spend")
	require.NoError(t, err)
	require.True(t, ok)

	stats, err := svc.Stats(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(140), stats.TotalEarned)
	require.Equal(t, int64(50), stats.TotalUsed)
	require.Zero(t, stats.TotalExpired)
	require.NotEmpty(t, stats.TopSources)
	require.Equal(t, models.SourceInviteReward, stats.TopSources[0].Source)
	require.Equal(t, int64(100), stats.TopSources[0].Amount)
	require.Greater(t, stats.AverageDaily, float64(0))
}
