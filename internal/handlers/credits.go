package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/middleware"
	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/errors"
	"github.com/lumenclass/inviteledger/pkg/response"
)

// CreditHandler exposes HTTP endpoints for the credit ledger.
type CreditHandler struct {
	service *services.CreditService
}

// NewCreditHandler constructs a credit handler around an existing service.
func NewCreditHandler(service *services.CreditService) (*CreditHandler, error) {
	if service == nil {
		return nil, errors.New("VALIDATION_ERROR", "credit service is required", http.StatusInternalServerError)
	}
	return &CreditHandler{service: service}, nil
}

// Balance returns the cached balance for a user.
func (h *CreditHandler) Balance(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	balance, err := h.service.Balance(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, balance)
}

type grantCreditsRequest struct {
	Amount      int64  `json:"amount" validate:"required,min=1"`
	Description string `json:"description" validate:"max=500"`
}

// Grant adds credits to a user's ledger on behalf of an administrator.
func (h *CreditHandler) Grant(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	var req grantCreditsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	adminID := c.GetString(middleware.CtxUserIDKey)
	record, err := h.service.Add(requestContext(c), userID, req.Amount, models.SourceAdminGrant, adminID, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, record)
}

type useCreditsRequest struct {
	Amount  int64  `json:"amount" validate:"required,min=1"`
	Purpose string `json:"purpose" validate:"max=500"`
}

// Use consumes credits from the user's balance oldest-first.
func (h *CreditHandler) Use(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	var req useCreditsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ok, err := h.service.Use(requestContext(c), userID, req.Amount, req.Purpose)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Insufficient balance is a business outcome, not an HTTP failure.
	response.Success(c, http.StatusOK, gin.H{"used": ok})
}

// Expiring lists credits expiring within the requested window.
func (h *CreditHandler) Expiring(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	days := parseIntQuery(c, "days", 7)
	records, err := h.service.Expiring(requestContext(c), userID, days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}

// Stats returns aggregated ledger history for a user.
func (h *CreditHandler) Stats(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	stats, err := h.service.Stats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Health returns a simple status payload useful for readiness checks. It pings
// the database so load balancers stop routing to an instance that lost it.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
