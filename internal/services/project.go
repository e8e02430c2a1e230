package services

import (
	"fmt"
	"time"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

// ProjectService manages project lifecycle and the owner's plan limits.
// Reads go through an in-process cache invalidated on every write, including
// writes made by the ledger recounts and the overdue sweep.
type ProjectService struct {
	db            *gorm.DB
	ledger        *LedgerService
	notifications *NotificationService
	cache         *projectCache
}

func NewProjectService(db *gorm.DB, ledger *LedgerService, notifications *NotificationService) *ProjectService {
	cache := newProjectCache()
	ledger.OnProjectChange(cache.invalidate)
	return &ProjectService{db: db, ledger: ledger, notifications: notifications, cache: cache}
}

// CreateProjectRequest carries the fields of a new project.
type CreateProjectRequest struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

// Create persists a project with its owner membership in one transaction,
// enforcing the owner's plan project limit first.
func (s *ProjectService) Create(ownerID uint, req *CreateProjectRequest) (*models.Project, error) {
	limit, err := s.projectLimit(ownerID)
	if err != nil {
		return nil, err
	}

	var owned int64
	s.db.Model(&models.Project{}).Where("owner_id = ?", ownerID).Count(&owned)
	if int(owned) >= limit {
		return nil, response.NewConflict(fmt.Sprintf("your plan allows at most %d projects", limit))
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
		Status:      models.ProjectNotStarted,
		DueDate:     req.DueDate,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		membership := models.ProjectMembership{
			ProjectID: project.ID,
			UserID:    ownerID,
			Role:      models.RoleOwner,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.RecountProjectMembers(project.ID); err != nil {
		logger.Errorf("[Project] member recount for new project %d failed: %v", project.ID, err)
	}

	return project, nil
}

// GetByID reads through the cache.
func (s *ProjectService) GetByID(projectID uint) (*models.Project, error) {
	if p, ok := s.cache.get(projectID); ok {
		return p, nil
	}

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	s.cache.set(&project)
	return &project, nil
}

// UpdateStatus moves the project through its lifecycle. Members are told
// when the project completes or goes on hold, since both freeze activity.
func (s *ProjectService) UpdateStatus(projectID, actorID uint, newStatus string) (*models.Project, error) {
	switch newStatus {
	case models.ProjectNotStarted, models.ProjectInProgress, models.ProjectCompleted,
		models.ProjectOnHold, models.ProjectOverdue:
	default:
		return nil, response.NewBadRequest(fmt.Sprintf("unknown project status %q", newStatus))
	}

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	if project.OwnerID != actorID {
		return nil, response.NewForbidden("only the project owner can change project status")
	}
	if project.Status == newStatus {
		return &project, nil
	}

	if err := s.db.Model(&models.Project{}).Where("id = ?", projectID).
		Update("status", newStatus).Error; err != nil {
		return nil, err
	}
	s.cache.invalidate(projectID)
	project.Status = newStatus

	if newStatus == models.ProjectCompleted || newStatus == models.ProjectOnHold {
		var memberIDs []uint
		s.db.Model(&models.ProjectMembership{}).Where("project_id = ?", projectID).
			Pluck("user_id", &memberIDs)
		for _, id := range memberIDs {
			if id == actorID {
				continue
			}
			s.notifications.Dispatch(id, &actorID, PushMessage{
				Title: "Project Status Changed",
				Body:  fmt.Sprintf("The project '%s' is now %s.", project.Name, newStatus),
				URL:   RefURL(RefProject, projectID),
			}, models.NotifyProject, EntityRef{Kind: RefProject, ID: projectID})
		}
	}

	return &project, nil
}

// Update edits name, description and due date. Owner only.
type UpdateProjectRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *ProjectService) Update(projectID, actorID uint, req *UpdateProjectRequest) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	if project.OwnerID != actorID {
		return nil, response.NewForbidden("only the project owner can edit the project")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
	}
	if len(updates) == 0 {
		return &project, nil
	}

	if err := s.db.Model(&models.Project{}).Where("id = ?", projectID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	s.cache.invalidate(projectID)

	if err := s.db.First(&project, projectID).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// Delete removes a project with its memberships, tasks, assignments and
// comments. Members are notified before the rows disappear.
func (s *ProjectService) Delete(projectID, actorID uint) error {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NewNotFound("project not found")
		}
		return err
	}
	if project.OwnerID != actorID {
		return response.NewForbidden("only the project owner can delete the project")
	}

	var memberIDs []uint
	s.db.Model(&models.ProjectMembership{}).Where("project_id = ?", projectID).
		Pluck("user_id", &memberIDs)
	for _, id := range memberIDs {
		if id == actorID {
			continue
		}
		s.notifications.Dispatch(id, &actorID, PushMessage{
			Title: "Project Deleted",
			Body:  fmt.Sprintf("The project '%s' has been deleted.", project.Name),
			URL:   "/projects",
		}, models.NotifyProject, EntityRef{Kind: RefProject, ID: projectID})
	}

	taskIDs := s.db.Model(&models.Task{}).Select("id").Where("project_id = ?", projectID)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id IN (?)", taskIDs).Delete(&models.TaskAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id IN (?)", taskIDs).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id IN (?)", taskIDs).Delete(&models.StatusChangeRequest{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectMembership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectInvitation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, projectID).Error
	})
	if err != nil {
		return err
	}

	s.cache.invalidate(projectID)
	return nil
}

// List returns projects the user belongs to, newest first.
func (s *ProjectService) List(userID uint) ([]models.Project, error) {
	var projects []models.Project
	err := s.db.
		Joins("JOIN project_memberships ON project_memberships.project_id = projects.id").
		Where("project_memberships.user_id = ?", userID).
		Order("projects.created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// SetAdminOverride toggles the plan member-limit bypass. Admin only; the
// handler enforces the role.
func (s *ProjectService) SetAdminOverride(projectID uint, override bool) error {
	result := s.db.Model(&models.Project{}).Where("id = ?", projectID).
		Update("admin_override", override)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("project not found")
	}
	s.cache.invalidate(projectID)
	return nil
}

func (s *ProjectService) projectLimit(ownerID uint) (int, error) {
	var owner models.User
	if err := s.db.First(&owner, ownerID).Error; err != nil {
		return 0, err
	}

	var plan models.SubscriptionPlan
	if owner.PlanID != nil {
		if err := s.db.First(&plan, *owner.PlanID).Error; err != nil {
			return 0, err
		}
	} else {
		if err := s.db.Where("is_default = ?", true).First(&plan).Error; err != nil {
			return 0, err
		}
	}
	return plan.MaxProjects, nil
}
