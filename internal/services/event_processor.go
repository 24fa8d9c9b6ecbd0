package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/cache"
	"github.com/lumenclass/inviteledger/internal/fingerprint"
	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/metrics"
)

const (
	defaultDedupThreshold = 5
	defaultDedupWindow    = 24 * time.Hour
)

// ProcessInput is one inbound domain event plus the client fingerprint
// captured alongside it.
type ProcessInput struct {
	EventType   string
	UserID      string
	Payload     map[string]any
	Fingerprint fingerprint.Fingerprint
}

// ProcessResult summarises what happened to one event.
type ProcessResult struct {
	EventID    string        `json:"event_id"`
	Suspicious bool          `json:"suspicious"`
	Reasons    []string      `json:"reasons,omitempty"`
	Grants     []GrantResult `json:"grants"`
}

// EventProcessor runs the invitation pipeline: inspect the fingerprint,
// evaluate reward rules, execute grants, notify the user, and record an audit
// row. Reward failures abort processing; notification failures only log.
type EventProcessor struct {
	db             *gorm.DB
	rewards        *RewardService
	notifications  *NotificationService
	dedupStore     cache.Store
	dedupThreshold int
	dedupWindow    time.Duration
	log            *zap.Logger
}

// ProcessorOption customises an EventProcessor.
type ProcessorOption func(*EventProcessor)

// WithFingerprintDedup enables reuse tracking for fingerprint hashes. An
// event whose fingerprint was seen more than threshold times within the
// window is treated as suspicious even when the fingerprint itself is clean.
func WithFingerprintDedup(store cache.Store, threshold int, window time.Duration) ProcessorOption {
	return func(p *EventProcessor) {
		p.dedupStore = store
		if threshold > 0 {
			p.dedupThreshold = threshold
		}
		if window > 0 {
			p.dedupWindow = window
		}
	}
}

// NewEventProcessor constructs an EventProcessor. The notification service
// may be nil when the pipeline runs without user-facing messaging.
func NewEventProcessor(db *gorm.DB, rewards *RewardService, notifications *NotificationService, opts ...ProcessorOption) (*EventProcessor, error) {
	if db == nil {
		return nil, errors.New("event processor: db is required")
	}
	if rewards == nil {
		return nil, errors.New("event processor: reward service is required")
	}

	p := &EventProcessor{
		db:             db,
		rewards:        rewards,
		notifications:  notifications,
		dedupThreshold: defaultDedupThreshold,
		dedupWindow:    defaultDedupWindow,
		log:            logger.WithModule("events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs the full pipeline for one event.
func (p *EventProcessor) Process(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	ctx = ensureContext(ctx)
	eventType := strings.TrimSpace(input.EventType)
	if eventType == "" {
		return nil, errors.New("event processor: event type is required")
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("event processor: user id is required")
	}

	report := fingerprint.Inspect(input.Fingerprint)
	if reason := p.checkFingerprintReuse(ctx, input.Fingerprint.Hash); reason != "" {
		report.Suspicious = true
		report.Reasons = append(report.Reasons, reason)
	}
	if report.Suspicious {
		metrics.SuspiciousFingerprints.Inc()
		p.log.Warn("suspicious fingerprint on event",
			zap.String("event_type", eventType),
			zap.String("user_id", userID),
			zap.Strings("reasons", report.Reasons),
		)
	}

	instructions, err := p.rewards.Evaluate(ctx, RewardEvent{
		Type:    eventType,
		UserID:  userID,
		Payload: input.Payload,
	})
	if err != nil {
		return nil, err
	}

	risk := RiskContext{
		FingerprintHash: input.Fingerprint.Hash,
		Suspicious:      report.Suspicious,
		Reasons:         report.Reasons,
	}

	grants := make([]GrantResult, 0, len(instructions))
	for _, instr := range instructions {
		result, err := p.rewards.Grant(ctx, instr, risk)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *result)
		p.notifyGrant(ctx, instr, result)
	}

	eventID, err := p.recordEvent(ctx, eventType, userID, input.Payload, risk, grants)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		EventID:    eventID,
		Suspicious: report.Suspicious,
		Reasons:    report.Reasons,
		Grants:     grants,
	}, nil
}

// checkFingerprintReuse counts events per fingerprint hash within the dedup
// window. Counter failures degrade to "not reused" rather than blocking the
// pipeline.
func (p *EventProcessor) checkFingerprintReuse(ctx context.Context, hash string) string {
	if p.dedupStore == nil || hash == "" {
		return ""
	}

	count, _, err := p.dedupStore.IncrementWithTTL(ctx, "fp:"+hash, p.dedupWindow)
	if err != nil {
		p.log.Warn("fingerprint reuse counter unavailable", zap.Error(err))
		return ""
	}
	if count > int64(p.dedupThreshold) {
		return fmt.Sprintf("fingerprint seen %d times within %s", count, p.dedupWindow)
	}
	return ""
}

// notifyGrant tells the user what happened to their reward. Failures are
// logged but never fail the pipeline.
func (p *EventProcessor) notifyGrant(ctx context.Context, instr RewardInstruction, result *GrantResult) {
	if p.notifications == nil {
		return
	}

	input := SendInput{
		UserID: instr.UserID,
		Metadata: map[string]any{
			"rule_id": instr.RuleID,
			"amount":  instr.Amount,
		},
	}

	if result.Granted {
		input.Type = "reward_granted"
		input.Title = "Credits added"
		input.Content = fmt.Sprintf("You earned %d credits: %s", instr.Amount, instr.RuleName)
	} else {
		input.Type = "reward_pending"
		input.Title = "Reward under review"
		input.Content = fmt.Sprintf("Your %d-credit reward for %s is awaiting review", instr.Amount, instr.RuleName)
		input.Metadata["approval_id"] = result.ApprovalID
	}

	if _, err := p.notifications.Send(ctx, input); err != nil {
		p.log.Warn("grant notification failed",
			zap.String("user_id", instr.UserID),
			zap.String("rule_id", instr.RuleID),
			zap.Error(err),
		)
	}
}

// recordEvent writes the audit row for a processed event.
func (p *EventProcessor) recordEvent(ctx context.Context, eventType, userID string, payload map[string]any, risk RiskContext, grants []GrantResult) (string, error) {
	event := models.InviteEvent{
		EventType:       eventType,
		UserID:          userID,
		FingerprintHash: risk.FingerprintHash,
		Suspicious:      risk.Suspicious,
		Outcome:         outcomeFor(grants),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("event processor: marshal payload: %w", err)
		}
		event.Payload = datatypes.JSON(data)
	}

	if err := p.db.WithContext(ctx).Create(&event).Error; err != nil {
		return "", fmt.Errorf("event processor: record event: %w", err)
	}
	return event.ID, nil
}

// History returns recent audit rows, optionally filtered by user.
func (p *EventProcessor) History(ctx context.Context, userID string, limit, offset int) ([]models.InviteEvent, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	query := p.db.WithContext(ctx).Model(&models.InviteEvent{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var events []models.InviteEvent
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("event processor: list events: %w", err)
	}
	return events, nil
}

func outcomeFor(grants []GrantResult) string {
	if len(grants) == 0 {
		return "no_match"
	}
	granted, pending := 0, 0
	for _, grant := range grants {
		if grant.Granted {
			granted++
		} else {
			pending++
		}
	}
	switch {
	case pending == 0:
		return "granted"
	case granted == 0:
		return "pending"
	default:
		return "partial"
	}
}
