package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/errors"
	"github.com/lumenclass/inviteledger/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notifications and preferences.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler around an existing service.
func NewNotificationHandler(service *services.NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("VALIDATION_ERROR", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{service: service}, nil
}

// List returns notifications for a user.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	items, err := h.service.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID:  userID,
		Channel: strings.TrimSpace(c.Query("channel")),
		Status:  models.NotificationStatus(strings.TrimSpace(c.Query("status"))),
		Limit:   parseIntQuery(c, "limit", 25),
		Offset:  parseIntQuery(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// UnreadCount returns the number of unread notifications for a user.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	count := h.service.UnreadCount(requestContext(c), userID, strings.TrimSpace(c.Query("channel")))
	response.Success(c, http.StatusOK, gin.H{"unread": count})
}

// MarkRead marks one notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	id := strings.TrimSpace(c.Param("id"))
	if userID == "" || id == "" {
		response.Error(c, errors.NewBadRequest("user id and notification id are required"))
		return
	}

	if err := h.service.MarkRead(requestContext(c), userID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// MarkAllRead marks every unread notification for the user as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	if err := h.service.MarkAllRead(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// Preferences returns the user's notification preferences, including defaults.
func (h *NotificationHandler) Preferences(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	prefs, err := h.service.Preferences(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

type preferenceRequest struct {
	Type       string   `json:"type" validate:"required,max=64"`
	Channels   []string `json:"channels" validate:"omitempty,dive,oneof=in_app email sms push"`
	Frequency  string   `json:"frequency" validate:"omitempty,oneof=immediate daily weekly"`
	IsEnabled  *bool    `json:"is_enabled,omitempty"`
	QuietStart string   `json:"quiet_start" validate:"max=5"`
	QuietEnd   string   `json:"quiet_end" validate:"max=5"`
}

// UpdatePreference upserts one preference row for a user.
func (h *NotificationHandler) UpdatePreference(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	var req preferenceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pref, err := h.service.UpdatePreference(requestContext(c), userID, services.PreferenceInput{
		Type:       req.Type,
		Channels:   req.Channels,
		Frequency:  req.Frequency,
		IsEnabled:  req.IsEnabled,
		QuietStart: req.QuietStart,
		QuietEnd:   req.QuietEnd,
	})
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}
	response.Success(c, http.StatusOK, pref)
}
