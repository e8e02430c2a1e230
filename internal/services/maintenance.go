package services

import (
	"fmt"
	"time"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DueSoonWindow is how far ahead the overdue check warns about approaching
// due dates.
const DueSoonWindow = 24 * time.Hour

// MaintenanceService runs the periodic jobs: overdue detection with
// due-soon warnings, notification pruning, the failed-delivery sweep and
// last-seen flushing.
type MaintenanceService struct {
	db            *gorm.DB
	notifications *NotificationService
	ledger        *LedgerService
	cfg           *config.Config
	cronScheduler *cron.Cron
}

func NewMaintenanceService(db *gorm.DB, notifications *NotificationService, ledger *LedgerService, cfg *config.Config) *MaintenanceService {
	return &MaintenanceService{db: db, notifications: notifications, ledger: ledger, cfg: cfg}
}

func (s *MaintenanceService) StartScheduler() {
	s.cronScheduler = cron.New()

	jobs := []struct {
		expr string
		name string
		fn   func()
	}{
		{"*/10 * * * *", "overdue check", s.CheckOverdue},
		{"*/5 * * * *", "delivery sweep", s.SweepUndelivered},
		{"0 3 * * *", "notification prune", s.PruneNotifications},
		{"* * * * *", "last-seen flush", s.FlushLastSeen},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cronScheduler.AddFunc(job.expr, job.fn); err != nil {
			logger.Errorf("[Maintenance] Failed to schedule %s: %v", job.name, err)
		}
	}

	s.cronScheduler.Start()
	logger.Infof("[Maintenance] Scheduler started with %d jobs", len(jobs))
}

func (s *MaintenanceService) StopScheduler() {
	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

// CheckOverdue warns assignees of tasks due within DueSoonWindow, then
// marks past-due tasks and projects overdue. Completed items are left
// alone.
func (s *MaintenanceService) CheckOverdue() {
	now := time.Now()
	soon := now.Add(DueSoonWindow)

	var dueSoon []models.Task
	s.db.Where("due_date IS NOT NULL AND due_date > ? AND due_date <= ? AND status NOT IN ?",
		now, soon, []string{models.TaskCompleted, models.TaskOverdue}).Find(&dueSoon)
	for _, task := range dueSoon {
		var assigneeIDs []uint
		s.db.Model(&models.TaskAssignment{}).Where("task_id = ?", task.ID).Pluck("user_id", &assigneeIDs)
		for _, userID := range assigneeIDs {
			if s.alreadyWarned(userID, task.ID) {
				continue
			}
			s.notifications.Dispatch(userID, nil, PushMessage{
				Title: "Task Due Soon",
				Body:  fmt.Sprintf("The task '%s' is due within 24 hours.", task.Name),
				URL:   RefURL(RefTask, task.ID),
			}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
		}
	}

	result := s.db.Model(&models.Task{}).
		Where("due_date IS NOT NULL AND due_date < ? AND status NOT IN ?",
			now, []string{models.TaskCompleted, models.TaskOverdue}).
		Update("status", models.TaskOverdue)
	if result.Error != nil {
		logger.Errorf("[Maintenance] overdue task update failed: %v", result.Error)
	} else if result.RowsAffected > 0 {
		logger.Infof("[Maintenance] Marked %d tasks overdue", result.RowsAffected)
	}

	var overdueProjectIDs []uint
	s.db.Model(&models.Project{}).
		Where("due_date IS NOT NULL AND due_date < ? AND status NOT IN ?",
			now, []string{models.ProjectCompleted, models.ProjectOverdue}).
		Pluck("id", &overdueProjectIDs)
	if len(overdueProjectIDs) > 0 {
		err := s.db.Model(&models.Project{}).Where("id IN ?", overdueProjectIDs).
			Update("status", models.ProjectOverdue).Error
		if err != nil {
			logger.Errorf("[Maintenance] overdue project update failed: %v", err)
		} else {
			for _, id := range overdueProjectIDs {
				s.ledger.ProjectChanged(id)
			}
			logger.Infof("[Maintenance] Marked %d projects overdue", len(overdueProjectIDs))
		}
	}
}

// alreadyWarned suppresses duplicate due-soon warnings within the window.
func (s *MaintenanceService) alreadyWarned(userID, taskID uint) bool {
	var count int64
	s.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND ref_kind = ? AND ref_id = ? AND created_at > ?",
			userID, RefTask, taskID, time.Now().Add(-DueSoonWindow)).
		Where("message LIKE ?", "%due within%").
		Count(&count)
	return count > 0
}

// SweepUndelivered retries notifications stuck short of their budget.
func (s *MaintenanceService) SweepUndelivered() {
	s.notifications.ProcessUndelivered(100)
}

// PruneNotifications trims each user's history to the configured keep count.
func (s *MaintenanceService) PruneNotifications() {
	keep := s.cfg.Notification.PruneKeep
	if keep <= 0 {
		keep = 50
	}
	if err := s.notifications.Prune(keep); err != nil {
		logger.Errorf("[Maintenance] notification prune failed: %v", err)
	}
}

// FlushLastSeen persists buffered activity timestamps.
func (s *MaintenanceService) FlushLastSeen() {
	GetLastSeenTracker().Flush(s.db)
}
