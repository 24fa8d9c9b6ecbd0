package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/metrics"
)

const (
	defaultCreditExpiryDays = 90
	expiringWindowDays      = 7
)

// errInsufficientCredits aborts the consume transaction without surfacing an
// error to callers; insufficient funds is a business outcome, not a failure.
var errInsufficientCredits = errors.New("credit: insufficient balance")

// CreditOption customises CreditService behaviour.
type CreditOption func(*CreditService)

// WithCreditExpiryDays overrides the default expiry window for earned credits.
func WithCreditExpiryDays(days int) CreditOption {
	return func(s *CreditService) {
		if days > 0 {
			s.expiryDays = days
		}
	}
}

// WithCreditClock injects a custom clock, primarily for testing.
func WithCreditClock(clock func() time.Time) CreditOption {
	return func(s *CreditService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// CreditService owns the append-only credit ledger and its materialized
// balance. Every mutation runs inside a single transaction that also rewrites
// the balance row, so readers never observe a balance the ledger cannot back.
type CreditService struct {
	db         *gorm.DB
	expiryDays int
	now        func() time.Time
	log        *zap.Logger
}

// NewCreditService constructs a CreditService.
func NewCreditService(db *gorm.DB, opts ...CreditOption) (*CreditService, error) {
	if db == nil {
		return nil, errors.New("credit service: db is required")
	}

	service := &CreditService{
		db:         db,
		expiryDays: defaultCreditExpiryDays,
		now:        time.Now,
		log:        logger.WithModule("credits"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreditStats summarises a user's ledger history.
type CreditStats struct {
	TotalEarned  int64         `json:"total_earned"`
	TotalUsed    int64         `json:"total_used"`
	TotalExpired int64         `json:"total_expired"`
	AverageDaily float64       `json:"average_daily"`
	TopSources   []SourceTotal `json:"top_sources"`
}

// SourceTotal pairs a credit source with its earned total.
type SourceTotal struct {
	Source models.CreditSource `json:"source"`
	Amount int64               `json:"amount"`
}

// Add appends an EARNED record with the default expiry window and refreshes
// the cached balance within the same transaction.
func (s *CreditService) Add(ctx context.Context, userID string, amount int64, source models.CreditSource, sourceID, description string) (*models.CreditRecord, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("credit service: user id is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("credit service: amount must be positive, got %d", amount)
	}

	var record *models.CreditRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		record, txErr = s.add(tx, userID, amount, source, sourceID, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsMutated.WithLabelValues(string(models.CreditEarned), string(source)).Add(float64(amount))
	return record, nil
}

// add performs the earn inside an existing transaction. The reward service
// reuses it to keep approval decisions and their deferred earns atomic.
func (s *CreditService) add(tx *gorm.DB, userID string, amount int64, source models.CreditSource, sourceID, description string) (*models.CreditRecord, error) {
	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, s.expiryDays)

	record := models.CreditRecord{
		UserID:      userID,
		Amount:      amount,
		Kind:        models.CreditEarned,
		Source:      source,
		SourceID:    sourceID,
		Description: strings.TrimSpace(description),
		ExpiresAt:   &expiresAt,
	}

	if err := tx.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("credit service: create earn record: %w", err)
	}

	if err := s.recomputeBalance(tx, userID); err != nil {
		return nil, err
	}

	return &record, nil
}

// Use consumes credits oldest-first across unexpired EARNED records. It
// returns false with no side effects when the balance is insufficient. The
// whole operation holds the user's EARNED rows under a row lock so two
// concurrent spends cannot both succeed on the same credits.
func (s *CreditService) Use(ctx context.Context, userID string, amount int64, purpose string) (bool, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("credit service: user id is required")
	}
	if amount <= 0 {
		return false, fmt.Errorf("credit service: amount must be positive, got %d", amount)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var earned []models.CreditRecord
		if err := lockForUpdate(tx).
			Where("user_id = ? AND kind = ? AND (expires_at IS NULL OR expires_at > ?)", userID, models.CreditEarned, now).
			Order("created_at ASC, id ASC").
			Find(&earned).Error; err != nil {
			return fmt.Errorf("credit service: load earned records: %w", err)
		}

		remaining, err := s.remainingByRecord(tx, userID, earned)
		if err != nil {
			return err
		}

		var available int64
		for _, record := range earned {
			available += remaining[record.ID]
		}
		if available < amount {
			return errInsufficientCredits
		}

		left := amount
		for i := range earned {
			if left == 0 {
				break
			}
			record := &earned[i]
			take := remaining[record.ID]
			if take == 0 {
				continue
			}
			if take > left {
				take = left
			}

			used := models.CreditRecord{
				UserID:      userID,
				Amount:      -take,
				Kind:        models.CreditUsed,
				Source:      models.SourceSpend,
				SourceID:    record.ID,
				Description: strings.TrimSpace(purpose),
			}
			if err := tx.Create(&used).Error; err != nil {
				return fmt.Errorf("credit service: create use record: %w", err)
			}

			if remaining[record.ID] == take {
				// Fully consumed; stamp the source record.
				usedAt := now
				if err := tx.Model(&models.CreditRecord{}).
					Where("id = ?", record.ID).
					Update("used_at", usedAt).Error; err != nil {
					return fmt.Errorf("credit service: mark record consumed: %w", err)
				}
			}

			left -= take
		}

		return s.recomputeBalance(tx, userID)
	})
	if errors.Is(err, errInsufficientCredits) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.CreditsMutated.WithLabelValues(string(models.CreditUsed), string(models.SourceSpend)).Add(float64(amount))
	return true, nil
}

// Available computes the spendable balance from the authoritative ledger.
// EARNED rows are positive and USED/EXPIRED rows negative, so the plain sum
// is exactly earned minus used minus expired.
func (s *CreditService) Available(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.CreditRecord{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("credit service: sum ledger: %w", err)
	}
	return total, nil
}

// Balance returns the cached balance, recomputing it from the ledger and
// writing it back on a miss.
func (s *CreditService) Balance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("credit service: user id is required")
	}

	var balance models.CreditBalance
	err := s.db.WithContext(ctx).Take(&balance, "user_id = ?", userID).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("credit service: load balance: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recomputeBalance(tx, userID); err != nil {
			return err
		}
		return tx.Take(&balance, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("credit service: recompute balance: %w", err)
	}

	return &balance, nil
}

// ExpireAll sweeps every EARNED record whose expiry has passed and still has
// an unconsumed remainder, emitting a matching EXPIRED record. Running it
// again without new earns writes nothing: already-expired records have a zero
// remainder. Returns the number of records expired.
func (s *CreditService) ExpireAll(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.CreditRecord{}).
		Where("kind = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.CreditEarned, now).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, fmt.Errorf("credit service: find users with expired credits: %w", err)
	}

	expired := 0
	for _, userID := range userIDs {
		count, err := s.expireForUser(ctx, userID, now)
		if err != nil {
			return expired, err
		}
		expired += count
	}

	if expired > 0 {
		s.log.Info("expired credits", zap.Int("records", expired), zap.Int("users", len(userIDs)))
	}
	return expired, nil
}

func (s *CreditService) expireForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	count := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var earned []models.CreditRecord
		if err := lockForUpdate(tx).
			Where("user_id = ? AND kind = ? AND expires_at IS NOT NULL AND expires_at <= ?", userID, models.CreditEarned, now).
			Order("created_at ASC, id ASC").
			Find(&earned).Error; err != nil {
			return fmt.Errorf("credit service: load expired records: %w", err)
		}

		remaining, err := s.remainingByRecord(tx, userID, earned)
		if err != nil {
			return err
		}

		for _, record := range earned {
			rest := remaining[record.ID]
			if rest <= 0 {
				continue
			}

			entry := models.CreditRecord{
				UserID:      userID,
				Amount:      -rest,
				Kind:        models.CreditExpired,
				Source:      models.SourceExpiry,
				SourceID:    record.ID,
				Description: "credit expiry sweep",
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("credit service: create expiry record: %w", err)
			}

			metrics.CreditsMutated.WithLabelValues(string(models.CreditExpired), string(models.SourceExpiry)).Add(float64(rest))
			count++
		}

		if count == 0 {
			return nil
		}
		return s.recomputeBalance(tx, userID)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Expiring lists EARNED records whose expiry falls within the next `days`.
func (s *CreditService) Expiring(ctx context.Context, userID string, days int) ([]models.CreditRecord, error) {
	ctx = ensureContext(ctx)
	if days <= 0 {
		days = expiringWindowDays
	}

	now := s.now().UTC()
	until := now.AddDate(0, 0, days)

	var records []models.CreditRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
			userID, models.CreditEarned, now, until).
		Order("expires_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("credit service: list expiring records: %w", err)
	}
	return records, nil
}

// Stats aggregates ledger history for a user.
func (s *CreditService) Stats(ctx context.Context, userID string) (*CreditStats, error) {
	ctx = ensureContext(ctx)

	totals, err := s.totalsByKind(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}

	stats := &CreditStats{
		TotalEarned:  totals[models.CreditEarned],
		TotalUsed:    -totals[models.CreditUsed],
		TotalExpired: -totals[models.CreditExpired],
	}

	var first models.CreditRecord
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Take(&first).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("credit service: load first record: %w", err)
	}
	if err == nil {
		days := int64(s.now().UTC().Sub(first.CreatedAt).Hours() / 24)
		if days < 1 {
			days = 1
		}
		stats.AverageDaily = float64(stats.TotalEarned) / float64(days)
	}

	type sourceRow struct {
		Source models.CreditSource
		Total  int64
	}
	var rows []sourceRow
	err = s.db.WithContext(ctx).
		Model(&models.CreditRecord{}).
		Where("user_id = ? AND kind = ?", userID, models.CreditEarned).
		Select("source, SUM(amount) AS total").
		Group("source").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("credit service: aggregate sources: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Total > rows[j].Total })
	for i, row := range rows {
		if i == 5 {
			break
		}
		stats.TopSources = append(stats.TopSources, SourceTotal{Source: row.Source, Amount: row.Total})
	}

	return stats, nil
}

// remainingByRecord returns the unconsumed remainder of each supplied EARNED
// record, derived from the USED/EXPIRED rows referencing it.
func (s *CreditService) remainingByRecord(tx *gorm.DB, userID string, earned []models.CreditRecord) (map[string]int64, error) {
	remaining := make(map[string]int64, len(earned))
	if len(earned) == 0 {
		return remaining, nil
	}

	ids := make([]string, 0, len(earned))
	for _, record := range earned {
		remaining[record.ID] = record.Amount
		ids = append(ids, record.ID)
	}

	type consumedRow struct {
		SourceID string
		Total    int64
	}
	var rows []consumedRow
	err := tx.Model(&models.CreditRecord{}).
		Where("user_id = ? AND kind IN ? AND source_id IN ?", userID,
			[]models.CreditKind{models.CreditUsed, models.CreditExpired}, ids).
		Select("source_id, SUM(amount) AS total").
		Group("source_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("credit service: aggregate consumption: %w", err)
	}

	for _, row := range rows {
		// Consumption rows are negative.
		remaining[row.SourceID] += row.Total
	}

	for id, rest := range remaining {
		if rest < 0 {
			s.log.Error("record over-consumed", zap.String("record_id", id), zap.Int64("remaining", rest))
			return nil, ErrLedgerIntegrity
		}
	}

	return remaining, nil
}

func (s *CreditService) totalsByKind(tx *gorm.DB, userID string) (map[models.CreditKind]int64, error) {
	type kindRow struct {
		Kind  models.CreditKind
		Total int64
	}
	var rows []kindRow
	err := tx.Model(&models.CreditRecord{}).
		Where("user_id = ?", userID).
		Select("kind, SUM(amount) AS total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("credit service: aggregate kinds: %w", err)
	}

	totals := make(map[models.CreditKind]int64, len(rows))
	for _, row := range rows {
		totals[row.Kind] = row.Total
	}
	return totals, nil
}

// recomputeBalance rewrites the materialized balance from the ledger. It must
// run inside the same transaction as the mutation that invalidated it.
func (s *CreditService) recomputeBalance(tx *gorm.DB, userID string) error {
	totals, err := s.totalsByKind(tx, userID)
	if err != nil {
		return err
	}

	earned := totals[models.CreditEarned]
	used := -totals[models.CreditUsed]
	expired := -totals[models.CreditExpired]
	available := earned - used - expired

	if available < 0 {
		s.log.Error("negative available balance",
			zap.String("user_id", userID),
			zap.Int64("earned", earned),
			zap.Int64("used", used),
			zap.Int64("expired", expired),
		)
		return ErrLedgerIntegrity
	}

	now := s.now().UTC()
	expiring, err := s.expiringRemainder(tx, userID, now)
	if err != nil {
		return err
	}

	balance := models.CreditBalance{
		UserID:           userID,
		TotalEarned:      earned,
		TotalUsed:        used,
		TotalExpired:     expired,
		AvailableCredits: available,
		ExpiringCredits:  expiring,
		LastUpdated:      now,
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&balance).Error
	if err != nil {
		return fmt.Errorf("credit service: write balance: %w", err)
	}
	return nil
}

// expiringRemainder sums the unconsumed remainder of EARNED records expiring
// within the near-term window shown on the balance.
func (s *CreditService) expiringRemainder(tx *gorm.DB, userID string, now time.Time) (int64, error) {
	until := now.AddDate(0, 0, expiringWindowDays)

	var earned []models.CreditRecord
	err := tx.Where("user_id = ? AND kind = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
		userID, models.CreditEarned, now, until).
		Find(&earned).Error
	if err != nil {
		return 0, fmt.Errorf("credit service: load near-expiry records: %w", err)
	}

	remaining, err := s.remainingByRecord(tx, userID, earned)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, rest := range remaining {
		total += rest
	}
	return total, nil
}
