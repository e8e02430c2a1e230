package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	db                  *gorm.DB
}

func NewNotificationHandler(db *gorm.DB, notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService, db: db}
}

// List returns the caller's notification feed
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	var req services.NotificationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	resp, err := h.notificationService.List(userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}

// MarkRead marks one notification read
// PUT /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.notificationService.MarkRead(id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "notification not found")
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Resend retries delivery of the caller's notification
// POST /api/notifications/:id/resend
func (h *NotificationHandler) Resend(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}

	userID := middleware.GetUserID(c)

	var n models.Notification
	if err := h.db.First(&n, id).Error; err != nil {
		response.NotFound(c, "notification not found")
		return
	}
	if n.RecipientID != userID {
		response.Forbidden(c, "not your notification")
		return
	}

	if err := h.notificationService.Resend(id); err != nil {
		switch {
		case errors.Is(err, services.ErrRetryExhausted):
			response.Error(c, response.NewConflict("retry budget exhausted"))
		case errors.Is(err, services.ErrRetryTooSoon):
			response.Error(c, response.NewConflict("retried too recently"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, nil)
}

// UpdatePreferences replaces the caller's per-type notification switches
// PUT /api/notifications/preferences
func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	var req struct {
		Preferences string `json:"preferences" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	pref := models.NotificationPreference{UserID: userID, Preferences: req.Preferences}
	err := h.db.Where("user_id = ?", userID).
		Assign(map[string]interface{}{"preferences": req.Preferences}).
		FirstOrCreate(&pref).Error
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, pref)
}
