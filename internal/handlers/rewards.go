package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/middleware"
	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/errors"
	"github.com/lumenclass/inviteledger/pkg/response"
)

// RewardHandler exposes HTTP endpoints for reward rules and the approval queue.
type RewardHandler struct {
	service *services.RewardService
}

// NewRewardHandler constructs a reward handler around an existing service.
func NewRewardHandler(service *services.RewardService) (*RewardHandler, error) {
	if service == nil {
		return nil, errors.New("VALIDATION_ERROR", "reward service is required", http.StatusInternalServerError)
	}
	return &RewardHandler{service: service}, nil
}

type ruleRequest struct {
	Name         string              `json:"name" validate:"max=128"`
	EventType    string              `json:"event_type" validate:"max=64"`
	RewardType   string              `json:"reward_type" validate:"max=64"`
	RewardAmount int64               `json:"reward_amount" validate:"min=0"`
	Conditions   *services.Condition `json:"conditions,omitempty"`
	Priority     int                 `json:"priority"`
	IsActive     *bool               `json:"is_active,omitempty"`
}

func (r ruleRequest) toInput() services.RuleInput {
	return services.RuleInput{
		Name:         r.Name,
		EventType:    r.EventType,
		RewardType:   r.RewardType,
		RewardAmount: r.RewardAmount,
		Conditions:   r.Conditions,
		Priority:     r.Priority,
		IsActive:     r.IsActive,
	}
}

// ListRules returns configured reward rules.
func (h *RewardHandler) ListRules(c *gin.Context) {
	includeInactive := strings.EqualFold(c.Query("include_inactive"), "true")

	rules, err := h.service.ListRules(requestContext(c), includeInactive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rules)
}

// CreateRule persists a new reward rule.
func (h *RewardHandler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	rule, err := h.service.CreateRule(requestContext(c), req.toInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rule)
}

// UpdateRule applies changes to an existing rule.
func (h *RewardHandler) UpdateRule(c *gin.Context) {
	ruleID := strings.TrimSpace(c.Param("id"))

	var req ruleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	rule, err := h.service.UpdateRule(requestContext(c), ruleID, req.toInput())
	if err != nil {
		response.Error(c, mapRewardErr(err))
		return
	}
	response.Success(c, http.StatusOK, rule)
}

// DeleteRule deactivates a rule.
func (h *RewardHandler) DeleteRule(c *gin.Context) {
	ruleID := strings.TrimSpace(c.Param("id"))

	if err := h.service.DeleteRule(requestContext(c), ruleID); err != nil {
		response.Error(c, mapRewardErr(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type evaluateRequest struct {
	EventType string         `json:"event_type" validate:"required,max=64"`
	UserID    string         `json:"user_id" validate:"required,max=64"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Evaluate runs rule matching for a hypothetical event without granting
// anything. Useful for verifying rule conditions before activating them.
func (h *RewardHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	instructions, err := h.service.Evaluate(requestContext(c), services.RewardEvent{
		Type:    req.EventType,
		UserID:  req.UserID,
		Payload: req.Payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"instructions": instructions})
}

// ListApprovals returns queued approvals filtered by status.
func (h *RewardHandler) ListApprovals(c *gin.Context) {
	status := models.ApprovalStatus(strings.TrimSpace(c.DefaultQuery("status", string(models.ApprovalPending))))
	limit := parseIntQuery(c, "limit", 25)
	offset := parseIntQuery(c, "offset", 0)

	approvals, err := h.service.ListApprovals(requestContext(c), status, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, approvals)
}

type approveRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// Approve grants a queued reward.
func (h *RewardHandler) Approve(c *gin.Context) {
	approvalID := strings.TrimSpace(c.Param("id"))
	adminID := c.GetString(middleware.CtxUserIDKey)

	var req approveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Approve(requestContext(c), approvalID, adminID, req.Notes); err != nil {
		response.Error(c, mapRewardErr(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"approved": true})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// Reject declines a queued reward. A reason is mandatory.
func (h *RewardHandler) Reject(c *gin.Context) {
	approvalID := strings.TrimSpace(c.Param("id"))
	adminID := c.GetString(middleware.CtxUserIDKey)

	var req rejectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Reject(requestContext(c), approvalID, adminID, req.Reason); err != nil {
		response.Error(c, mapRewardErr(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rejected": true})
}

// mapRewardErr converts service sentinels into API errors with proper status codes.
func mapRewardErr(err error) error {
	switch err {
	case services.ErrApprovalNotFound, services.ErrRuleNotFound:
		return errors.ErrNotFound
	case services.ErrApprovalDecided:
		return errors.NewConflict("approval has already been decided")
	default:
		return err
	}
}
