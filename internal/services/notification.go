package services

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"gorm.io/gorm"
)

// Default retry budget for realtime delivery, overridable by configuration
const (
	RetryLimit = 3
	RetryDelay = 60 * time.Second
)

var (
	// ErrRetryExhausted is returned when a notification has consumed its
	// whole retry budget; the notification is permanently failed.
	ErrRetryExhausted = errors.New("notification retry budget exhausted")
	// ErrRetryTooSoon is returned when a resend is attempted before the
	// retry delay has elapsed; the attempt consumes no budget.
	ErrRetryTooSoon = errors.New("retry delay has not elapsed")
)

// Referenced entity kinds for notification subject references. A closed set
// resolved through refURLs, not runtime reflection.
const (
	RefProject = "project"
	RefTask    = "task"
	RefComment = "comment"
	RefUser    = "user"
	RefRequest = "status_change_request"
)

// EntityRef points a notification at the entity it is about.
type EntityRef struct {
	Kind string
	ID   uint
}

// PushMessage is the payload delivered over the realtime channel.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Pusher fans a payload out to every active connection of a user's delivery
// group. A recipient with no connections is not an error; only channel-level
// failures are.
type Pusher interface {
	Push(userID uint, data []byte) error
}

// NotificationService persists notifications and attempts realtime delivery
// with a bounded retry budget.
type NotificationService struct {
	db         *gorm.DB
	pusher     Pusher
	queue      TaskQueue
	retryLimit int
	retryDelay time.Duration
}

// NewNotificationService wires the dispatcher. A nil cfg keeps the default
// retry budget.
func NewNotificationService(db *gorm.DB, pusher Pusher, queue TaskQueue, cfg *config.NotificationConfig) *NotificationService {
	s := &NotificationService{
		db:         db,
		pusher:     pusher,
		queue:      queue,
		retryLimit: RetryLimit,
		retryDelay: RetryDelay,
	}
	if cfg != nil {
		if cfg.RetryLimit > 0 {
			s.retryLimit = cfg.RetryLimit
		}
		if cfg.RetryDelaySeconds > 0 {
			s.retryDelay = time.Duration(cfg.RetryDelaySeconds) * time.Second
		}
	}
	return s
}

// Dispatch persists a notification and attempts realtime delivery. The row
// is written before any delivery attempt so a crash mid-dispatch still
// leaves an auditable pending record. On push failure the notification is
// marked failed and a one-shot retry is scheduled after the retry delay. Dispatch
// never waits for client acknowledgment.
func (s *NotificationService) Dispatch(recipientID uint, senderID *uint, msg PushMessage, notificationType string, ref EntityRef) (*models.Notification, error) {
	if !s.preferenceEnabled(recipientID, notificationType) {
		return nil, nil
	}

	notification := &models.Notification{
		RecipientID:      recipientID,
		SenderID:         senderID,
		Message:          msg.Body,
		NotificationType: notificationType,
		Status:           models.NotificationPending,
		Priority:         models.PriorityMedium,
		RefKind:          ref.Kind,
		RefID:            ref.ID,
	}
	if err := s.db.Create(notification).Error; err != nil {
		return nil, err
	}

	if err := s.push(recipientID, msg); err != nil {
		logger.Warn().Err(err).Uint("notification_id", notification.ID).
			Uint("recipient_id", recipientID).Msg("realtime push failed, scheduling retry")
		notification.Status = models.NotificationFailed
		if qerr := s.queue.ScheduleRetry(notification.ID, s.retryDelay); qerr != nil {
			// Scheduling is best-effort; the periodic sweep backstops it.
			logger.Error().Err(qerr).Uint("notification_id", notification.ID).
				Msg("failed to schedule notification retry")
		}
	} else {
		notification.Status = models.NotificationDelivered
	}

	if err := s.db.Save(notification).Error; err != nil {
		return nil, err
	}
	return notification, nil
}

// Resend retries delivery of a previously failed notification. Attempts past
// the retry budget permanently fail the notification; attempts inside the
// retry delay window are no-ops that consume no budget. On success the retry
// count resets to zero.
func (s *NotificationService) Resend(notificationID uint) error {
	var notification models.Notification
	if err := s.db.First(&notification, notificationID).Error; err != nil {
		return err
	}

	if notification.Status == models.NotificationDelivered {
		return nil
	}

	if notification.RetryCount >= s.retryLimit {
		notification.Status = models.NotificationFailed
		s.db.Save(&notification)
		return ErrRetryExhausted
	}

	if notification.LastAttemptAt != nil && time.Since(*notification.LastAttemptAt) < s.retryDelay {
		return ErrRetryTooSoon
	}

	msg := PushMessage{
		Title: "Retry Notification",
		Body:  notification.Message,
		URL:   RefURL(notification.RefKind, notification.RefID),
	}

	var attemptErr error
	if attemptErr = s.push(notification.RecipientID, msg); attemptErr != nil {
		notification.RetryCount++
		if notification.RetryCount >= s.retryLimit {
			notification.Status = models.NotificationFailed
		} else {
			notification.Status = models.NotificationPending
		}
	} else {
		notification.Status = models.NotificationDelivered
		notification.RetryCount = 0
	}

	now := time.Now()
	notification.LastAttemptAt = &now
	if err := s.db.Save(&notification).Error; err != nil {
		return err
	}
	return attemptErr
}

func (s *NotificationService) push(recipientID uint, msg PushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.pusher.Push(recipientID, data)
}

// ProcessUndelivered sweeps notifications that are neither delivered nor
// permanently failed and re-runs Resend on each. Backstops retry tasks lost
// to scheduler failures. Resend's own time gate prevents retry storms.
func (s *NotificationService) ProcessUndelivered(batchSize int) {
	var notifications []models.Notification
	err := s.db.Where("status != ? AND retry_count < ?", models.NotificationDelivered, s.retryLimit).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&notifications).Error
	if err != nil {
		logger.Errorf("[NotificationSweep] failed to fetch undelivered notifications: %v", err)
		return
	}

	for _, n := range notifications {
		if err := s.Resend(n.ID); err != nil && !errors.Is(err, ErrRetryTooSoon) && !errors.Is(err, ErrRetryExhausted) {
			logger.Warnf("[NotificationSweep] resend of notification %d failed: %v", n.ID, err)
		}
	}
}

// MarkRead marks a notification as read. Only the recipient may do so.
func (s *NotificationService) MarkRead(notificationID, userID uint) error {
	result := s.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// NotificationListRequest filters a user's notification feed.
type NotificationListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Unread   bool   `form:"unread"`
}

type NotificationListResponse struct {
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Items    []models.Notification `json:"items"`
}

// List returns the recipient's notifications, newest first.
func (s *NotificationService) List(userID uint, req *NotificationListRequest) (*NotificationListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.Notification{}).Where("recipient_id = ?", userID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Unread {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Notification
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &NotificationListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Prune deletes everything beyond each user's most recent keep notifications.
func (s *NotificationService) Prune(keep int) error {
	var recipientIDs []uint
	if err := s.db.Model(&models.Notification{}).Distinct("recipient_id").Pluck("recipient_id", &recipientIDs).Error; err != nil {
		return err
	}

	for _, userID := range recipientIDs {
		var cutoffIDs []uint
		err := s.db.Model(&models.Notification{}).
			Where("recipient_id = ?", userID).
			Order("created_at DESC").
			Offset(keep).
			Pluck("id", &cutoffIDs).Error
		if err != nil {
			return err
		}
		if len(cutoffIDs) == 0 {
			continue
		}
		if err := s.db.Delete(&models.Notification{}, cutoffIDs).Error; err != nil {
			return err
		}
	}
	return nil
}

// preferenceEnabled reports whether the recipient accepts this notification
// type. Missing preference rows or keys default to enabled.
func (s *NotificationService) preferenceEnabled(userID uint, notificationType string) bool {
	var pref models.NotificationPreference
	if err := s.db.Where("user_id = ?", userID).First(&pref).Error; err != nil {
		return true
	}

	var prefs map[string]bool
	if err := json.Unmarshal([]byte(pref.Preferences), &prefs); err != nil {
		return true
	}

	enabled, ok := prefs[notificationType]
	if !ok {
		return true
	}
	return enabled
}

// refURLs maps each referenced entity kind to its frontend path prefix.
var refURLs = map[string]string{
	RefProject: "/projects/",
	RefTask:    "/tasks/",
	RefComment: "/comments/",
	RefUser:    "/users/",
	RefRequest: "/status-change-requests/",
}

// RefURL resolves an entity reference to a frontend-relative URL. Unknown
// kinds resolve to an empty URL.
func RefURL(kind string, id uint) string {
	prefix, ok := refURLs[kind]
	if !ok || id == 0 {
		return ""
	}
	return prefix + strconv.FormatUint(uint64(id), 10)
}
