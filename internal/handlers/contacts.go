package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/models"
	appErrors "github.com/lumenclass/inviteledger/pkg/errors"
	"github.com/lumenclass/inviteledger/pkg/response"
)

// ContactHandler stores the delivery addresses pushed by the upstream account
// system.
type ContactHandler struct {
	db *gorm.DB
}

// NewContactHandler constructs a contact handler.
func NewContactHandler(db *gorm.DB) (*ContactHandler, error) {
	if db == nil {
		return nil, appErrors.New("VALIDATION_ERROR", "db is required", http.StatusInternalServerError)
	}
	return &ContactHandler{db: db}, nil
}

// Get returns the stored contact for a user.
func (h *ContactHandler) Get(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	var contact models.UserContact
	err := h.db.WithContext(requestContext(c)).Take(&contact, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, contact)
}

type contactRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=255"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// Put upserts the contact row for a user.
func (h *ContactHandler) Put(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	var req contactRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	var contact models.UserContact
	err := h.db.WithContext(ctx).Take(&contact, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, err)
		return
	}

	contact.UserID = userID
	contact.Email = strings.TrimSpace(req.Email)
	contact.Phone = strings.TrimSpace(req.Phone)

	if err := h.db.WithContext(ctx).Save(&contact).Error; err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, contact)
}
