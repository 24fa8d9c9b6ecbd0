package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/dispatch"
	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/metrics"
)

// DefaultNotificationTypes are the types a user gets preferences for when
// none are stored yet.
var DefaultNotificationTypes = []string{
	"reward_granted",
	"reward_pending",
	"credits_expiring",
	"invite_accepted",
}

// SendInput defines the attributes of an outbound notification.
type SendInput struct {
	UserID   string
	Type     string
	Title    string
	Content  string
	Channel  string
	Metadata map[string]any
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID  string
	Channel string
	Status  models.NotificationStatus
	Limit   int
	Offset  int
}

// PreferenceInput defines the user-editable attributes of one preference row.
type PreferenceInput struct {
	Type       string   `json:"type"`
	Channels   []string `json:"channels"`
	Frequency  string   `json:"frequency"`
	IsEnabled  *bool    `json:"is_enabled,omitempty"`
	QuietStart string   `json:"quiet_start"`
	QuietEnd   string   `json:"quiet_end"`
}

// NotificationOption customises NotificationService behaviour.
type NotificationOption func(*NotificationService)

// WithNotificationClock injects a custom clock, primarily for testing.
func WithNotificationClock(clock func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NotificationService schedules and stores user notifications, honoring
// per-type preferences and quiet hours. Delivery is fire-and-forget through
// the dispatcher; a failed dispatch leaves the row pending for the next
// DispatchDue sweep.
type NotificationService struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
	log        *zap.Logger
}

// NewNotificationService constructs a NotificationService. The dispatcher may
// be nil, in which case messages are persisted without outward delivery.
func NewNotificationService(db *gorm.DB, dispatcher *dispatch.Dispatcher, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}

	service := &NotificationService{
		db:         db,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        logger.WithModule("notifications"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Send persists a notification for the user unless the matching preference is
// disabled, in which case it returns an empty id and writes nothing. When the
// current time falls inside the user's quiet hours the message is stored
// pending with ScheduledAt set to the end of the window instead of being
// dispatched immediately.
func (s *NotificationService) Send(ctx context.Context, input SendInput) (string, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return "", errors.New("notification service: user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return "", errors.New("notification service: type is required")
	}

	pref, err := s.preference(ctx, userID, notificationType)
	if err != nil {
		return "", err
	}
	if !pref.IsEnabled {
		// Silent suppression, not an error.
		return "", nil
	}

	channel := strings.TrimSpace(input.Channel)
	if channel == "" {
		channel = firstChannel(pref)
	}

	message := models.NotificationMessage{
		UserID:  userID,
		Type:    notificationType,
		Title:   strings.TrimSpace(input.Title),
		Content: strings.TrimSpace(input.Content),
		Channel: channel,
		Status:  models.NotificationPending,
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return "", fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		message.Metadata = datatypes.JSON(data)
	}

	now := s.now()
	deferred := false
	if pref.QuietStart != "" && pref.QuietEnd != "" {
		if inQuietWindow(now, pref.QuietStart, pref.QuietEnd) {
			release := nextWindowEnd(now, pref.QuietEnd)
			message.ScheduledAt = &release
			deferred = true
		}
	}

	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return "", fmt.Errorf("notification service: create message: %w", err)
	}

	metrics.NotificationsSent.WithLabelValues(channel, string(message.Status)).Inc()

	if !deferred {
		s.dispatch(ctx, &message)
	}

	return message.ID, nil
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]models.NotificationMessage, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.Channel != "" {
		query = query.Where("channel = ?", input.Channel)
	}
	if input.Status != "" {
		query = query.Where("status = ?", input.Status)
	}

	var rows []models.NotificationMessage
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: list messages: %w", err)
	}
	return rows, nil
}

// MarkRead transitions one of the user's messages into the read state.
func (s *NotificationService) MarkRead(ctx context.Context, userID, messageID string) error {
	return s.MarkManyRead(ctx, userID, []string{messageID})
}

// MarkManyRead marks the given messages as read. An empty id list is a no-op
// with zero writes.
func (s *NotificationService) MarkManyRead(ctx context.Context, userID string, messageIDs []string) error {
	ctx = ensureContext(ctx)
	ids := normaliseIDs(messageIDs)
	if len(ids) == 0 {
		return nil
	}

	now := s.now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.NotificationMessage{}).
		Where("user_id = ? AND id IN ? AND status <> ?", userID, ids, models.NotificationRead).
		Updates(map[string]any{
			"status":  models.NotificationRead,
			"read_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("notification service: mark read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread message for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).
		Model(&models.NotificationMessage{}).
		Where("user_id = ? AND status <> ?", userID, models.NotificationRead).
		Updates(map[string]any{
			"status":  models.NotificationRead,
			"read_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("notification service: mark all read: %w", err)
	}
	return nil
}

// MarkDelivered records outward delivery of a message.
func (s *NotificationService) MarkDelivered(ctx context.Context, messageID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.NotificationMessage{}).
		Where("id = ? AND status IN ?", messageID,
			[]models.NotificationStatus{models.NotificationPending, models.NotificationSent}).
		Update("status", models.NotificationDelivered)
	if result.Error != nil {
		return fmt.Errorf("notification service: mark delivered: %w", result.Error)
	}
	return nil
}

// UnreadCount is a best-effort counter: any lookup failure yields zero rather
// than an error.
func (s *NotificationService) UnreadCount(ctx context.Context, userID, channel string) int64 {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Model(&models.NotificationMessage{}).
		Where("user_id = ? AND status <> ?", userID, models.NotificationRead)
	if channel != "" {
		query = query.Where("channel = ?", channel)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		s.log.Warn("unread count failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return count
}

// CleanupExpired deletes read or delivered messages older than the retention
// window and returns the number removed, zero on failure.
func (s *NotificationService) CleanupExpired(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)
	if retentionDays <= 0 {
		retentionDays = 30
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff,
			[]models.NotificationStatus{models.NotificationRead, models.NotificationDelivered}).
		Delete(&models.NotificationMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DispatchDue releases quiet-hours deferrals whose scheduled time has passed
// and retries messages whose first dispatch failed. Returns the number of
// messages handed to the dispatcher.
func (s *NotificationService) DispatchDue(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var due []models.NotificationMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", models.NotificationPending, now).
		Order("created_at ASC").
		Limit(200).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("notification service: load due messages: %w", err)
	}

	dispatched := 0
	for i := range due {
		if s.dispatch(ctx, &due[i]) {
			dispatched++
		}
	}
	return dispatched, nil
}

// Preferences returns the user's stored preferences, synthesizing enabled
// in-app defaults for any known type without a row.
func (s *NotificationService) Preferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	var stored []models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: load preferences: %w", err)
	}

	have := make(map[string]struct{}, len(stored))
	for _, pref := range stored {
		have[pref.Type] = struct{}{}
	}

	for _, notificationType := range DefaultNotificationTypes {
		if _, ok := have[notificationType]; !ok {
			stored = append(stored, defaultPreference(userID, notificationType))
		}
	}
	return stored, nil
}

// UpdatePreference upserts one preference row for the user.
func (s *NotificationService) UpdatePreference(ctx context.Context, userID string, input PreferenceInput) (*models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, errors.New("notification service: preference type is required")
	}

	if err := validateQuietHours(input.QuietStart, input.QuietEnd); err != nil {
		return nil, err
	}

	pref := models.NotificationPreference{}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, notificationType).
		Take(&pref).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("notification service: load preference: %w", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = defaultPreference(userID, notificationType)
	}

	if input.Channels != nil {
		channels, err := json.Marshal(normaliseIDs(input.Channels))
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal channels: %w", err)
		}
		pref.Channels = datatypes.JSON(channels)
	}
	if input.Frequency != "" {
		pref.Frequency = input.Frequency
	}
	if input.IsEnabled != nil {
		pref.IsEnabled = *input.IsEnabled
	}
	pref.QuietStart = strings.TrimSpace(input.QuietStart)
	pref.QuietEnd = strings.TrimSpace(input.QuietEnd)

	if err := s.db.WithContext(ctx).Save(&pref).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("notification service: concurrent preference update: %w", err)
		}
		return nil, fmt.Errorf("notification service: save preference: %w", err)
	}
	return &pref, nil
}

// dispatch hands a message to the dispatcher and marks it sent on success.
// Failures are logged and leave the row pending for the next sweep.
func (s *NotificationService) dispatch(ctx context.Context, message *models.NotificationMessage) bool {
	if s.dispatcher == nil {
		return false
	}

	var metadata map[string]any
	if len(message.Metadata) > 0 {
		_ = json.Unmarshal(message.Metadata, &metadata)
	}

	err := s.dispatcher.Deliver(ctx, dispatch.Delivery{
		UserID:   message.UserID,
		Channel:  message.Channel,
		Title:    message.Title,
		Content:  message.Content,
		Metadata: metadata,
	})
	if err != nil {
		s.log.Warn("dispatch failed",
			zap.String("message_id", message.ID),
			zap.String("channel", message.Channel),
			zap.Error(err),
		)
		return false
	}

	now := s.now().UTC()
	err = s.db.WithContext(ctx).
		Model(message).
		Updates(map[string]any{
			"status":  models.NotificationSent,
			"sent_at": now,
		}).Error
	if err != nil {
		s.log.Warn("mark sent failed", zap.String("message_id", message.ID), zap.Error(err))
	}

	metrics.NotificationsSent.WithLabelValues(message.Channel, string(models.NotificationSent)).Inc()
	return true
}

// preference loads the stored row for (user, type) or the enabled in-app
// default when none exists.
func (s *NotificationService) preference(ctx context.Context, userID, notificationType string) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, notificationType).
		Take(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultPreference(userID, notificationType), nil
	}
	if err != nil {
		return pref, fmt.Errorf("notification service: load preference: %w", err)
	}
	return pref, nil
}

func defaultPreference(userID, notificationType string) models.NotificationPreference {
	return models.NotificationPreference{
		UserID:    userID,
		Type:      notificationType,
		Channels:  datatypes.JSON(fmt.Sprintf(`[%q]`, models.ChannelInApp)),
		Frequency: "immediate",
		IsEnabled: true,
	}
}

func firstChannel(pref models.NotificationPreference) string {
	var channels []string
	if len(pref.Channels) > 0 {
		_ = json.Unmarshal(pref.Channels, &channels)
	}
	if len(channels) > 0 {
		return channels[0]
	}
	return models.ChannelInApp
}

func validateQuietHours(start, end string) error {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil
	}
	if start == "" || end == "" {
		return errors.New("notification service: quiet hours need both start and end")
	}
	if _, err := parseClock(start); err != nil {
		return fmt.Errorf("notification service: quiet start: %w", err)
	}
	if _, err := parseClock(end); err != nil {
		return fmt.Errorf("notification service: quiet end: %w", err)
	}
	return nil
}

// parseClock converts an "HH:MM" wall-clock string to minutes after midnight.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hours*60 + minutes, nil
}

// inQuietWindow reports whether now falls inside [start, end). A start after
// the end means the window wraps midnight.
func inQuietWindow(now time.Time, start, end string) bool {
	startMin, err := parseClock(start)
	if err != nil {
		return false
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false
	}
	if startMin == endMin {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Wraps midnight: inside when after start or before end.
	return nowMin >= startMin || nowMin < endMin
}

// nextWindowEnd returns the next occurrence of the quiet-hours end time.
func nextWindowEnd(now time.Time, end string) time.Time {
	endMin, err := parseClock(end)
	if err != nil {
		return now
	}

	release := time.Date(now.Year(), now.Month(), now.Day(), endMin/60, endMin%60, 0, 0, now.Location())
	if !release.After(now) {
		release = release.AddDate(0, 0, 1)
	}
	return release
}
