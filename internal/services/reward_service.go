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

	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/metrics"
)

const defaultAutoApproveLimit = 200

// StackingPolicy decides how many simultaneously-matching rules fire.
type StackingPolicy string

const (
	// StackHighest applies only the top-priority matching rule.
	StackHighest StackingPolicy = "highest"
	// StackAll applies every matching rule.
	StackAll StackingPolicy = "all"
)

// RewardEvent is an inbound domain event to evaluate against reward rules.
type RewardEvent struct {
	Type    string
	UserID  string
	Payload map[string]any
}

// RewardInstruction describes a grant to perform before the ledger is touched.
type RewardInstruction struct {
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	UserID      string `json:"user_id"`
	EventType   string `json:"event_type"`
	RewardType  string `json:"reward_type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// RiskContext carries the fingerprint verdict consulted at grant time.
type RiskContext struct {
	FingerprintHash string
	Suspicious      bool
	Reasons         []string
}

// GrantResult reports whether the reward hit the ledger or the approval queue.
type GrantResult struct {
	Granted    bool                 `json:"granted"`
	ApprovalID string               `json:"approval_id,omitempty"`
	Record     *models.CreditRecord `json:"record,omitempty"`
}

// RewardOption customises RewardService behaviour.
type RewardOption func(*RewardService)

// WithStackingPolicy selects whether all matching rules fire or only the
// highest-priority one.
func WithStackingPolicy(policy StackingPolicy) RewardOption {
	return func(s *RewardService) {
		if policy == StackAll || policy == StackHighest {
			s.stacking = policy
		}
	}
}

// WithAutoApproveLimit overrides the largest amount granted without review.
func WithAutoApproveLimit(limit int64) RewardOption {
	return func(s *RewardService) {
		if limit > 0 {
			s.autoApproveLimit = limit
		}
	}
}

// WithRewardClock injects a custom clock, primarily for testing.
func WithRewardClock(clock func() time.Time) RewardOption {
	return func(s *RewardService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RewardService matches domain events against configured rules and routes
// risky grants through an approval queue. It depends on the credit service;
// the dependency never runs the other way.
type RewardService struct {
	db               *gorm.DB
	credits          *CreditService
	stacking         StackingPolicy
	autoApproveLimit int64
	now              func() time.Time
	log              *zap.Logger
}

// NewRewardService constructs a RewardService.
func NewRewardService(db *gorm.DB, credits *CreditService, opts ...RewardOption) (*RewardService, error) {
	if db == nil {
		return nil, errors.New("reward service: db is required")
	}
	if credits == nil {
		return nil, errors.New("reward service: credit service is required")
	}

	service := &RewardService{
		db:               db,
		credits:          credits,
		stacking:         StackHighest,
		autoApproveLimit: defaultAutoApproveLimit,
		now:              time.Now,
		log:              logger.WithModule("rewards"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Evaluate returns reward instructions for the active rules matching the
// event, ordered by priority descending. Under the highest policy only the
// first match survives.
func (s *RewardService) Evaluate(ctx context.Context, event RewardEvent) ([]RewardInstruction, error) {
	ctx = ensureContext(ctx)
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return nil, errors.New("reward service: event type is required")
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return nil, errors.New("reward service: user id is required")
	}

	var rules []models.RewardRule
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND is_active = ?", eventType, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("reward service: load rules: %w", err)
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var instructions []RewardInstruction
	for _, rule := range rules {
		cond, err := ParseConditions(rule.Conditions)
		if err != nil {
			s.log.Warn("skipping rule with malformed conditions",
				zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if !cond.Eval(event.Payload) {
			continue
		}

		instructions = append(instructions, RewardInstruction{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			UserID:      userID,
			EventType:   eventType,
			RewardType:  rule.RewardType,
			Amount:      rule.RewardAmount,
			Description: fmt.Sprintf("%s (%s)", rule.Name, eventType),
		})

		if s.stacking == StackHighest {
			break
		}
	}

	return instructions, nil
}

// Grant executes a reward instruction. Suspicious risk context or an amount
// above the auto-approve limit parks the grant in the approval queue instead
// of touching the ledger.
func (s *RewardService) Grant(ctx context.Context, instr RewardInstruction, risk RiskContext) (*GrantResult, error) {
	ctx = ensureContext(ctx)
	if instr.UserID == "" {
		return nil, errors.New("reward service: instruction user id is required")
	}
	if instr.Amount <= 0 {
		return nil, fmt.Errorf("reward service: instruction amount must be positive, got %d", instr.Amount)
	}

	if risk.Suspicious || instr.Amount > s.autoApproveLimit {
		approval := models.RewardApproval{
			UserID:      instr.UserID,
			RewardType:  instr.RewardType,
			Amount:      instr.Amount,
			Description: s.describeHold(instr, risk),
			Status:      models.ApprovalPending,
		}
		if err := s.db.WithContext(ctx).Create(&approval).Error; err != nil {
			return nil, fmt.Errorf("reward service: create approval: %w", err)
		}

		metrics.RewardGrants.WithLabelValues("pending").Inc()
		s.log.Info("reward held for approval",
			zap.String("user_id", instr.UserID),
			zap.Int64("amount", instr.Amount),
			zap.Bool("suspicious", risk.Suspicious),
			zap.String("fingerprint", risk.FingerprintHash),
		)
		return &GrantResult{Granted: false, ApprovalID: approval.ID}, nil
	}

	record, err := s.credits.Add(ctx, instr.UserID, instr.Amount, sourceForRewardType(instr.RewardType), instr.RuleID, instr.Description)
	if err != nil {
		return nil, err
	}

	metrics.RewardGrants.WithLabelValues("granted").Inc()
	return &GrantResult{Granted: true, Record: record}, nil
}

// Approve transitions a pending approval and performs the deferred earn in
// the same transaction, so a crash cannot approve without crediting.
func (s *RewardService) Approve(ctx context.Context, approvalID, adminID, notes string) error {
	ctx = ensureContext(ctx)
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return errors.New("reward service: admin id is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		approval, err := s.loadPendingApproval(tx, approvalID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		err = tx.Model(approval).Updates(map[string]any{
			"status":     models.ApprovalApproved,
			"admin_id":   adminID,
			"notes":      strings.TrimSpace(notes),
			"decided_at": now,
		}).Error
		if err != nil {
			return fmt.Errorf("reward service: update approval: %w", err)
		}

		_, err = s.credits.add(tx, approval.UserID, approval.Amount, models.SourceApprovalGrant, approval.ID, approval.Description)
		return err
	})
	if err != nil {
		return err
	}

	metrics.RewardGrants.WithLabelValues("approved").Inc()
	return nil
}

// Reject transitions a pending approval to rejected. The reason is mandatory
// and stored in the approval notes; the ledger is never touched.
func (s *RewardService) Reject(ctx context.Context, approvalID, adminID, reason string) error {
	ctx = ensureContext(ctx)
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return errors.New("reward service: admin id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.New("reward service: rejection reason is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		approval, err := s.loadPendingApproval(tx, approvalID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		err = tx.Model(approval).Updates(map[string]any{
			"status":     models.ApprovalRejected,
			"admin_id":   adminID,
			"notes":      reason,
			"decided_at": now,
		}).Error
		if err != nil {
			return fmt.Errorf("reward service: update approval: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RewardGrants.WithLabelValues("rejected").Inc()
	return nil
}

// ListApprovals returns approvals filtered by status, newest first.
func (s *RewardService) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit, offset int) ([]models.RewardApproval, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.RewardApproval{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var approvals []models.RewardApproval
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&approvals).Error
	if err != nil {
		return nil, fmt.Errorf("reward service: list approvals: %w", err)
	}
	return approvals, nil
}

// RuleInput defines the administrator-editable attributes of a reward rule.
type RuleInput struct {
	Name         string     `json:"name"`
	EventType    string     `json:"event_type"`
	RewardType   string     `json:"reward_type"`
	RewardAmount int64      `json:"reward_amount"`
	Conditions   *Condition `json:"conditions,omitempty"`
	Priority     int        `json:"priority"`
	IsActive     *bool      `json:"is_active,omitempty"`
}

// CreateRule persists a new reward rule.
func (s *RewardService) CreateRule(ctx context.Context, input RuleInput) (*models.RewardRule, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("reward service: rule name is required")
	}
	if strings.TrimSpace(input.EventType) == "" {
		return nil, errors.New("reward service: rule event type is required")
	}
	if input.RewardAmount <= 0 {
		return nil, fmt.Errorf("reward service: rule amount must be positive, got %d", input.RewardAmount)
	}

	conditions, err := MarshalConditions(input.Conditions)
	if err != nil {
		return nil, err
	}

	rule := models.RewardRule{
		Name:         strings.TrimSpace(input.Name),
		EventType:    strings.TrimSpace(input.EventType),
		RewardType:   defaultIfEmpty(input.RewardType, "invite_reward"),
		RewardAmount: input.RewardAmount,
		Conditions:   conditions,
		Priority:     input.Priority,
		IsActive:     true,
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}

	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("reward service: create rule: %w", err)
	}
	return &rule, nil
}

// UpdateRule applies changes to an existing rule.
func (s *RewardService) UpdateRule(ctx context.Context, ruleID string, input RuleInput) (*models.RewardRule, error) {
	ctx = ensureContext(ctx)

	var rule models.RewardRule
	err := s.db.WithContext(ctx).Take(&rule, "id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reward service: load rule: %w", err)
	}

	updates := map[string]any{}
	if name := strings.TrimSpace(input.Name); name != "" {
		updates["name"] = name
	}
	if eventType := strings.TrimSpace(input.EventType); eventType != "" {
		updates["event_type"] = eventType
	}
	if rewardType := strings.TrimSpace(input.RewardType); rewardType != "" {
		updates["reward_type"] = rewardType
	}
	if input.RewardAmount > 0 {
		updates["reward_amount"] = input.RewardAmount
	}
	if input.Conditions != nil {
		conditions, err := MarshalConditions(input.Conditions)
		if err != nil {
			return nil, err
		}
		updates["conditions"] = conditions
	}
	if input.Priority != 0 {
		updates["priority"] = input.Priority
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&rule).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("reward service: update rule: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Take(&rule, "id = ?", ruleID).Error; err != nil {
		return nil, fmt.Errorf("reward service: reload rule: %w", err)
	}
	return &rule, nil
}

// DeleteRule deactivates a rule. Rules are never hard-deleted so historical
// grants keep a valid audit trail.
func (s *RewardService) DeleteRule(ctx context.Context, ruleID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.RewardRule{}).
		Where("id = ?", ruleID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("reward service: deactivate rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ListRules returns configured rules, optionally including deactivated ones.
func (s *RewardService) ListRules(ctx context.Context, includeInactive bool) ([]models.RewardRule, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.RewardRule{})
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var rules []models.RewardRule
	if err := query.Order("priority DESC, created_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("reward service: list rules: %w", err)
	}
	return rules, nil
}

func (s *RewardService) loadPendingApproval(tx *gorm.DB, approvalID string) (*models.RewardApproval, error) {
	var approval models.RewardApproval
	err := lockForUpdate(tx).Take(&approval, "id = ?", approvalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reward service: load approval: %w", err)
	}
	if approval.Status != models.ApprovalPending {
		return nil, ErrApprovalDecided
	}
	return &approval, nil
}

func (s *RewardService) describeHold(instr RewardInstruction, risk RiskContext) string {
	desc := instr.Description
	if risk.Suspicious && len(risk.Reasons) > 0 {
		desc = fmt.Sprintf("%s [flagged: %s]", desc, strings.Join(risk.Reasons, "; "))
	} else if instr.Amount > s.autoApproveLimit {
		desc = fmt.Sprintf("%s [amount above auto-approve limit %d]", desc, s.autoApproveLimit)
	}
	return desc
}

func sourceForRewardType(rewardType string) models.CreditSource {
	switch rewardType {
	case "milestone_reward":
		return models.SourceMilestoneReward
	case "referral_bonus":
		return models.SourceReferralBonus
	default:
		return models.SourceInviteReward
	}
}
