package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/database/testutil"
	"github.com/lumenclass/inviteledger/internal/models"
)

func newRewardFixture(t *testing.T, opts ...RewardOption) (*gorm.DB, *RewardService, *CreditService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	credits, err := NewCreditService(db)
	require.NoError(t, err)
	rewards, err := NewRewardService(db, credits, opts...)
	require.NoError(t, err)
	return db, rewards, credits
}

func mustCreateRule(t *testing.T, svc *RewardService, input RuleInput) *models.RewardRule {
	t.Helper()
	rule, err := svc.CreateRule(context.Background(), input)
	require.NoError(t, err)
	return rule
}

func TestRewardServiceEvaluateHighestPolicy(t *testing.T) {
	_, rewards, _ := newRewardFixture(t)

	mustCreateRule(t, rewards, RuleInput{
		Name: "base", EventType: "user_activated", RewardAmount: 50, Priority: 1,
	})
	mustCreateRule(t, rewards, RuleInput{
		Name: "boosted", EventType: "user_activated", RewardAmount: 120, Priority: 10,
	})

	instructions, err := rewards.Evaluate(context.Background(), RewardEvent{
		Type:   "user_activated",
		UserID: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, "boosted", instructions[0].RuleName)
	require.Equal(t, int64(120), instructions[0].Amount)
}

func TestRewardServiceEvaluateStackAll(t *testing.T) {
	_, rewards, _ := newRewardFixture(t, WithStackingPolicy(StackAll))

	mustCreateRule(t, rewards, RuleInput{
		Name: "base", EventType: "user_activated", RewardAmount: 50, Priority: 1,
	})
	mustCreateRule(t, rewards, RuleInput{
		Name: "boosted", EventType: "user_activated", RewardAmount: 120, Priority: 10,
	})

	instructions, err := rewards.Evaluate(context.Background(), RewardEvent{
		Type:   "user_activated",
		UserID: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, instructions, 2)
	// Highest priority first.
	require.Equal(t, "boosted", instructions[0].RuleName)
	require.Equal(t, "base", instructions[1].RuleName)
}

func TestRewardServiceEvaluateFiltersByConditions(t *testing.T) {
	_, rewards, _ := newRewardFixture(t)

	mustCreateRule(t, rewards, RuleInput{
		Name:         "milestone-5",
		EventType:    "milestone_reached",
		RewardAmount: 80,
		Conditions: &Condition{
			Field: "invites", Op: OpGte, Value: 5,
		},
	})

	instructions, err := rewards.Evaluate(context.Background(), RewardEvent{
		Type:    "milestone_reached",
		UserID:  uuid.NewString(),
		Payload: map[string]any{"invites": float64(3)},
	})
	require.NoError(t, err)
	require.Empty(t, instructions)

	instructions, err = rewards.Evaluate(context.Background(), RewardEvent{
		Type:    "milestone_reached",
		UserID:  uuid.NewString(),
		Payload: map[string]any{"invites": float64(5)},
	})
	require.NoError(t, err)
	require.Len(t, instructions, 1)
}

func TestRewardServiceEvaluateIgnoresInactiveRules(t *testing.T) {
	_, rewards, _ := newRewardFixture(t)

	rule := mustCreateRule(t, rewards, RuleInput{
		Name: "retired", EventType: "user_registered", RewardAmount: 50,
	})
	require.NoError(t, rewards.DeleteRule(context.Background(), rule.ID))

	instructions, err := rewards.Evaluate(context.Background(), RewardEvent{
		Type:   "user_registered",
		UserID: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Empty(t, instructions)
}

func TestRewardServiceCreateRuleDisabledStaysDisabled(t *testing.T) {
	db, rewards, _ := newRewardFixture(t)

	disabled := false
	rule := mustCreateRule(t, rewards, RuleInput{
		Name: "draft", EventType: "user_registered", RewardAmount: 50,
		IsActive: &disabled,
	})
	require.False(t, rule.IsActive)

	// The stored row must be inactive too, not just the returned struct.
	var stored models.RewardRule
	require.NoError(t, db.Take(&stored, "id = ?", rule.ID).Error)
	require.False(t, stored.IsActive)

	instructions, err := rewards.Evaluate(context.Background(), RewardEvent{
		Type:   "user_registered",
		UserID: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Empty(t, instructions)
}

func TestRewardServiceGrantBelowLimit(t *testing.T) {
	_, rewards, credits := newRewardFixture(t)

	userID := uuid.NewString()
	result, err := rewards.Grant(context.Background(), RewardInstruction{
		RuleID: uuid.NewString(), RuleName: "welcome", UserID: userID,
		RewardType: "invite_reward", Amount: 50, Description: "welcome",
	}, RiskContext{})
	require.NoError(t, err)
	require.True(t, result.Granted)
	require.NotNil(t, result.Record)
	require.Equal(t, models.SourceInviteReward, result.Record.Source)

	available, err := credits.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(50), available)
}

func TestRewardServiceGrantAboveLimitQueuesApproval(t *testing.T) {
	db, rewards, credits := newRewardFixture(t, WithAutoApproveLimit(100))

	userID := uuid.NewString()
	result, err := rewards.Grant(context.Background(), RewardInstruction{
		RuleID: uuid.NewString(), RuleName: "jackpot", UserID: userID,
		RewardType: "milestone_reward", Amount: 500, Description: "big one",
	}, RiskContext{})
	require.NoError(t, err)
	require.False(t, result.Granted)
	require.NotEmpty(t, result.ApprovalID)

	// Nothing hits the ledger until an admin decides.
	available, err := credits.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, available)

	var approval models.RewardApproval
	require.NoError(t, db.Take(&approval, "id = ?", result.ApprovalID).Error)
	require.Equal(t, models.ApprovalPending, approval.Status)
	require.Equal(t, int64(500), approval.Amount)
}

func TestRewardServiceGrantSuspiciousQueuesApproval(t *testing.T) {
	db, rewards, _ := newRewardFixture(t)

	result, err := rewards.Grant(context.Background(), RewardInstruction{
		RuleID: uuid.NewString(), RuleName: "welcome", UserID: uuid.NewString(),
		RewardType: "invite_reward", Amount: 10, Description: "welcome",
	}, RiskContext{
		FingerprintHash: "abc123",
		Suspicious:      true,
		Reasons:         []string{"automation signature in user agent"},
	})
	require.NoError(t, err)
	require.False(t, result.Granted)

	var approval models.RewardApproval
	require.NoError(t, db.Take(&approval, "id = ?", result.ApprovalID).Error)
	require.Contains(t, approval.Description, "automation signature")
}

func TestRewardServiceApprovePerformsDeferredEarn(t *testing.T) {
	db, rewards, credits := newRewardFixture(t, WithAutoApproveLimit(100))

	userID := uuid.NewString()
	result, err := rewards.Grant(context.Background(), RewardInstruction{
		RuleID: uuid.NewString(), RuleName: "jackpot", UserID: userID,
		RewardType: "milestone_reward", Amount: 500, Description: "big one",
	}, RiskContext{})
	require.NoError(t, err)

	adminID := uuid.NewString()
	require.NoError(t, rewards.Approve(context.Background(), result.ApprovalID, adminID, "looks legit"))

	var approval models.RewardApproval
	require.NoError(t, db.Take(&approval, "id = ?", result.ApprovalID).Error)
	require.Equal(t, models.ApprovalApproved, approval.Status)
	require.Equal(t, adminID, approval.AdminID)
	require.NotNil(t, approval.DecidedAt)

	available, err := credits.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), available)

	var record models.CreditRecord
	require.NoError(t, db.Take(&record, "user_id = ? AND source = ?", userID, models.SourceApprovalGrant).Error)
	require.Equal(t, result.ApprovalID, record.SourceID)

	// Deciding twice is rejected.
	err = rewards.Approve(context.Background(), result.ApprovalID, adminID, "again")
	require.ErrorIs(t, err, ErrApprovalDecided)
}

func TestRewardServiceRejectRequiresReason(t *testing.T) {
	_, rewards, credits := newRewardFixture(t, WithAutoApproveLimit(100))

	userID := uuid.NewString()
	result, err := rewards.Grant(context.Background(), RewardInstruction{
		RuleID: uuid.NewString(), RuleName: "jackpot", UserID: userID,
		RewardType: "invite_reward", Amount: 500, Description: "big one",
	}, RiskContext{})
	require.NoError(t, err)

	adminID := uuid.NewString()
	err = rewards.Reject(context.Background(), result.ApprovalID, adminID, "")
	require.Error(t, err)

	require.NoError(t, rewards.Reject(context.Background(), result.ApprovalID, adminID, "fingerprint reuse"))

	// Rejection never touches the ledger.
	available, err := credits.Available(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, available)

	err = rewards.Approve(context.Background(), result.ApprovalID, adminID, "changed my mind")
	require.ErrorIs(t, err, ErrApprovalDecided)
}

func TestRewardServiceApproveUnknownID(t *testing.T) {
	_, rewards, _ := newRewardFixture(t)

	err := rewards.Approve(context.Background(), uuid.NewString(), uuid.NewString(), "")
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestRewardServiceListApprovals(t *testing.T) {
	_, rewards, _ := newRewardFixture(t, WithAutoApproveLimit(10))

	for i := 0; i < 3; i++ {
		_, err := rewards.Grant(context.Background(), RewardInstruction{
			RuleID: uuid.NewString(), RuleName: "big", UserID: uuid.NewString(),
			RewardType: "invite_reward", Amount: 100, Description: "held",
		}, RiskContext{})
		require.NoError(t, err)
	}

	pending, err := rewards.ListApprovals(context.Background(), models.ApprovalPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	approved, err := rewards.ListApprovals(context.Background(), models.ApprovalApproved, 10, 0)
	require.NoError(t, err)
	require.Empty(t, approved)
}

func TestRewardServiceRuleCRUD(t *testing.T) {
	_, rewards, _ := newRewardFixture(t)

	rule := mustCreateRule(t, rewards, RuleInput{
		Name: "original", EventType: "user_registered", RewardAmount: 50, Priority: 1,
	})
	require.True(t, rule.IsActive)
	require.Equal(t, "invite_reward", rule.RewardType)

	updated, err := rewards.UpdateRule(context.Background(), rule.ID, RuleInput{
		Name:         "renamed",
		RewardAmount: 75,
		Conditions:   &Condition{Field: "invites", Op: OpGte, Value: 2},
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, int64(75), updated.RewardAmount)
	require.NotEmpty(t, updated.Conditions)

	rules, err := rewards.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, rewards.DeleteRule(context.Background(), rule.ID))

	rules, err = rewards.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, rules)

	rules, err = rewards.ListRules(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.False(t, rules[0].IsActive)

	err = rewards.DeleteRule(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrRuleNotFound)

	_, err = rewards.UpdateRule(context.Background(), uuid.NewString(), RuleInput{Name: "x"})
	require.ErrorIs(t, err, ErrRuleNotFound)
}
