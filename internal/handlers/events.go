package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/fingerprint"
	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/errors"
	"github.com/lumenclass/inviteledger/pkg/response"
)

// EventHandler ingests invitation domain events.
type EventHandler struct {
	processor *services.EventProcessor
}

// NewEventHandler constructs an event handler around an existing processor.
func NewEventHandler(processor *services.EventProcessor) (*EventHandler, error) {
	if processor == nil {
		return nil, errors.New("VALIDATION_ERROR", "event processor is required", http.StatusInternalServerError)
	}
	return &EventHandler{processor: processor}, nil
}

type eventRequest struct {
	EventType   string                  `json:"event_type" validate:"required,max=64"`
	UserID      string                  `json:"user_id" validate:"required,uuid4"`
	Payload     map[string]any          `json:"payload,omitempty"`
	Fingerprint *fingerprint.ClientInfo `json:"fingerprint,omitempty"`
}

// Ingest runs the reward pipeline for one event. The fingerprint may arrive in
// the body; when absent it is derived from request headers.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req eventRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var fp fingerprint.Fingerprint
	if req.Fingerprint != nil {
		fp = fingerprint.Generate(*req.Fingerprint)
	} else {
		fp = fingerprint.FromHeaders(c.Request.Header)
	}

	result, err := h.processor.Process(requestContext(c), services.ProcessInput{
		EventType:   req.EventType,
		UserID:      req.UserID,
		Payload:     req.Payload,
		Fingerprint: fp,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// History lists processed events, optionally filtered by user.
func (h *EventHandler) History(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	limit := parseIntQuery(c, "limit", 25)
	offset := parseIntQuery(c, "offset", 0)

	events, err := h.processor.History(requestContext(c), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}

// InspectFingerprint runs the suspicion heuristics without touching the
// pipeline, for client-side debugging and admin tooling.
func (h *EventHandler) InspectFingerprint(c *gin.Context) {
	var info fingerprint.ClientInfo
	if !bindAndValidate(c, &info) {
		return
	}

	fp := fingerprint.Generate(info)
	report := fingerprint.Inspect(fp)
	response.Success(c, http.StatusOK, gin.H{
		"fingerprint": fp,
		"report":      report,
	})
}
