package services

import (
	"github.com/planforge/backend/internal/models"
	"gorm.io/gorm"
)

// LedgerService keeps the cached aggregates on projects and memberships
// consistent with the authoritative task/assignment/membership tables.
// Counters are always full recounts scoped to the affected rows, never
// incremental updates, so a partial failure cannot leave drift behind.
type LedgerService struct {
	db              *gorm.DB
	onProjectChange []func(projectID uint)
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// OnProjectChange registers a hook fired after any write to the projects
// table, so read caches can drop the stale row. Registration happens during
// wiring, before any concurrent use.
func (s *LedgerService) OnProjectChange(fn func(projectID uint)) {
	s.onProjectChange = append(s.onProjectChange, fn)
}

// ProjectChanged fires the registered hooks. Callers that write the
// projects table outside this service invoke it themselves.
func (s *LedgerService) ProjectChanged(projectID uint) {
	for _, fn := range s.onProjectChange {
		fn(projectID)
	}
}

// RecountProjectTasks refreshes project.total_tasks from the tasks table.
func (s *LedgerService) RecountProjectTasks(projectID uint) error {
	var count int64
	if err := s.db.Model(&models.Task{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return err
	}
	if err := s.db.Model(&models.Project{}).Where("id = ?", projectID).
		Update("total_tasks", count).Error; err != nil {
		return err
	}
	s.ProjectChanged(projectID)
	return nil
}

// RecountProjectMembers refreshes project.total_member_count from the
// memberships table.
func (s *LedgerService) RecountProjectMembers(projectID uint) error {
	var count int64
	if err := s.db.Model(&models.ProjectMembership{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return err
	}
	if err := s.db.Model(&models.Project{}).Where("id = ?", projectID).
		Update("total_member_count", count).Error; err != nil {
		return err
	}
	s.ProjectChanged(projectID)
	return nil
}

// RecountMembership refreshes the per-user task counters of a single
// (project, user) membership. Missing memberships are ignored: an
// assignment can outlive the membership row briefly during removal.
func (s *LedgerService) RecountMembership(projectID, userID uint) error {
	var membership models.ProjectMembership
	err := s.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&membership).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	var total, completed int64
	if err := s.db.Model(&models.Task{}).
		Joins("JOIN task_assignments ON task_assignments.task_id = tasks.id").
		Where("tasks.project_id = ? AND task_assignments.user_id = ? AND tasks.deleted_at IS NULL", projectID, userID).
		Count(&total).Error; err != nil {
		return err
	}
	if err := s.db.Model(&models.Task{}).
		Joins("JOIN task_assignments ON task_assignments.task_id = tasks.id").
		Where("tasks.project_id = ? AND task_assignments.user_id = ? AND tasks.status = ? AND tasks.deleted_at IS NULL",
			projectID, userID, models.TaskCompleted).
		Count(&completed).Error; err != nil {
		return err
	}

	return s.db.Model(&models.ProjectMembership{}).Where("id = ?", membership.ID).
		Updates(map[string]interface{}{
			"total_tasks":     total,
			"completed_tasks": completed,
		}).Error
}

// RecountAllMemberships refreshes the task counters of every membership in
// the project. O(memberships) per call, bounded by plan member limits.
func (s *LedgerService) RecountAllMemberships(projectID uint) error {
	var memberships []models.ProjectMembership
	if err := s.db.Where("project_id = ?", projectID).Find(&memberships).Error; err != nil {
		return err
	}
	for _, m := range memberships {
		if err := s.RecountMembership(projectID, m.UserID); err != nil {
			return err
		}
	}
	return nil
}

// AfterTaskChange runs the recounts required after a task is created,
// deleted or changes status. All memberships are refreshed because an
// assignment set is not known to the caller at this point.
func (s *LedgerService) AfterTaskChange(projectID uint) error {
	if err := s.RecountProjectTasks(projectID); err != nil {
		return err
	}
	return s.RecountAllMemberships(projectID)
}

// AfterAssignmentChange runs the recounts required after assignments for
// the given users changed. Only the affected memberships are refreshed.
func (s *LedgerService) AfterAssignmentChange(projectID uint, userIDs []uint) error {
	for _, id := range userIDs {
		if err := s.RecountMembership(projectID, id); err != nil {
			return err
		}
	}
	return nil
}
