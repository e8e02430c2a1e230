package services

import (
	"fmt"
	"time"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

// TaskService governs task lifecycle: creation, assignment changes, direct
// status changes and deletion. Every mutation commits first, then the ledger
// recounts, then notifications fan out, so a notification always reflects
// post-mutation state.
type TaskService struct {
	db            *gorm.DB
	ledger        *LedgerService
	notifications *NotificationService
}

func NewTaskService(db *gorm.DB, ledger *LedgerService, notifications *NotificationService) *TaskService {
	return &TaskService{db: db, ledger: ledger, notifications: notifications}
}

// CreateTaskRequest carries the fields of a new task.
type CreateTaskRequest struct {
	ProjectID    uint       `json:"project_id" binding:"required"`
	Name         string     `json:"name" binding:"required"`
	Description  string     `json:"description"`
	DueDate      *time.Time `json:"due_date"`
	NeedApproval bool       `json:"need_approval"`
	AssigneeIDs  []uint     `json:"assignees"`
}

// Create persists a task with its initial assignment set. The project must
// be in an activity state that allows task creation and every assignee must
// already hold a membership; a single non-member fails the whole operation
// with no partial writes.
func (s *TaskService) Create(creatorID uint, req *CreateTaskRequest) (*models.Task, error) {
	var project models.Project
	if err := s.db.First(&project, req.ProjectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}

	if !project.CanCreateTasks() {
		return nil, response.NewConflict(fmt.Sprintf("cannot create tasks when project is %s", project.Status))
	}

	if !s.isMember(project.ID, creatorID) {
		return nil, response.NewForbidden("you are not a member of this project")
	}

	if nonMembers := s.nonMembers(project.ID, req.AssigneeIDs); len(nonMembers) > 0 {
		return nil, response.NewBadRequest(fmt.Sprintf("assignees are not project members: %v", nonMembers))
	}

	task := &models.Task{
		ProjectID:      project.ID,
		Name:           req.Name,
		Description:    req.Description,
		Status:         models.TaskNotStarted,
		DueDate:        req.DueDate,
		AssignedBy:     creatorID,
		NeedApproval:   req.NeedApproval,
		TotalAssignees: len(req.AssigneeIDs),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		for _, userID := range req.AssigneeIDs {
			assignment := models.TaskAssignment{TaskID: task.ID, UserID: userID}
			if err := tx.Create(&assignment).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.AfterTaskChange(project.ID); err != nil {
		logger.Errorf("[Task] ledger recount after create of task %d failed: %v", task.ID, err)
	}

	for _, userID := range req.AssigneeIDs {
		s.notifications.Dispatch(userID, &creatorID, PushMessage{
			Title: "New Task Assigned",
			Body:  fmt.Sprintf("You have been assigned to the task '%s'.", task.Name),
			URL:   RefURL(RefTask, task.ID),
		}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
	}

	return task, nil
}

// AssigneeDiff reports the result of an assignment-set update.
type AssigneeDiff struct {
	Added   []uint
	Removed []uint
}

// UpdateAssignees replaces the task's assignment set with newSet. The
// symmetric difference against current assignments drives row deletes and
// inserts; those and the total_assignees write commit atomically. Added
// users get an "assigned" notification, removed users an "unassigned" one.
func (s *TaskService) UpdateAssignees(taskID, actorID uint, newSet []uint) (*AssigneeDiff, error) {
	task, project, err := s.taskWithProject(taskID)
	if err != nil {
		return nil, err
	}

	if project.OwnerID != actorID {
		return nil, response.NewForbidden("only the project owner can update task assignees")
	}
	if !project.CanPerformActivity() {
		return nil, response.NewConflict(fmt.Sprintf("cannot update task of %s project", project.Status))
	}

	if nonMembers := s.nonMembers(project.ID, newSet); len(nonMembers) > 0 {
		return nil, response.NewBadRequest(fmt.Sprintf("assignees are not project members: %v", nonMembers))
	}

	var currentIDs []uint
	if err := s.db.Model(&models.TaskAssignment{}).Where("task_id = ?", taskID).
		Pluck("user_id", &currentIDs).Error; err != nil {
		return nil, err
	}

	current := make(map[uint]bool, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = true
	}
	desired := make(map[uint]bool, len(newSet))
	for _, id := range newSet {
		desired[id] = true
	}

	diff := &AssigneeDiff{}
	for id := range desired {
		if !current[id] {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range current {
		if !desired[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if len(diff.Removed) > 0 {
			if err := tx.Where("task_id = ? AND user_id IN ?", taskID, diff.Removed).
				Delete(&models.TaskAssignment{}).Error; err != nil {
				return err
			}
		}
		for _, userID := range diff.Added {
			assignment := models.TaskAssignment{TaskID: taskID, UserID: userID}
			if err := tx.Create(&assignment).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Task{}).Where("id = ?", taskID).
			Update("total_assignees", len(desired)).Error
	})
	if err != nil {
		return nil, err
	}

	affected := append(append([]uint{}, diff.Added...), diff.Removed...)
	if err := s.ledger.AfterAssignmentChange(project.ID, affected); err != nil {
		logger.Errorf("[Task] ledger recount after assignee update of task %d failed: %v", taskID, err)
	}

	for _, userID := range diff.Added {
		s.notifications.Dispatch(userID, &actorID, PushMessage{
			Title: "Task Assigned",
			Body:  fmt.Sprintf("You have been assigned to the task '%s'.", task.Name),
			URL:   RefURL(RefTask, task.ID),
		}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
	}
	for _, userID := range diff.Removed {
		s.notifications.Dispatch(userID, &actorID, PushMessage{
			Title: "Task Unassigned",
			Body:  fmt.Sprintf("You have been unassigned from the task '%s'.", task.Name),
			URL:   RefURL(RefProject, project.ID),
		}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
	}

	return diff, nil
}

// DirectStatusChange sets a task's status without the approval workflow.
// Only legal on tasks that do not require approval; the only accepted target
// from this path is completed.
func (s *TaskService) DirectStatusChange(taskID, actorID uint, newStatus string) error {
	task, project, err := s.taskWithProject(taskID)
	if err != nil {
		return err
	}

	if task.NeedApproval {
		return response.NewForbidden("task requires approval to change status")
	}
	if !project.CanPerformActivity() {
		return response.NewConflict(fmt.Sprintf("cannot update task of %s project", project.Status))
	}
	if newStatus != models.TaskCompleted {
		return response.NewBadRequest(fmt.Sprintf("status %q is not an accepted target for a direct change", newStatus))
	}
	if !s.isAssignee(taskID, actorID) && project.OwnerID != actorID {
		return response.NewForbidden("you must be assigned to the task to change its status")
	}

	if err := s.db.Model(&models.Task{}).Where("id = ?", taskID).
		Update("status", newStatus).Error; err != nil {
		return err
	}

	if err := s.ledger.AfterTaskChange(project.ID); err != nil {
		logger.Errorf("[Task] ledger recount after status change of task %d failed: %v", taskID, err)
	}

	for _, userID := range s.assigneeIDs(taskID) {
		s.notifications.Dispatch(userID, &actorID, PushMessage{
			Title: "Task Status Updated",
			Body:  fmt.Sprintf("The status of the task '%s' has been updated to '%s'.", task.Name, newStatus),
			URL:   RefURL(RefTask, task.ID),
		}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
	}

	return nil
}

// Delete removes a task and its assignments. Removal notifications fire
// before the rows disappear so recipients can still be resolved.
func (s *TaskService) Delete(taskID, actorID uint) error {
	task, project, err := s.taskWithProject(taskID)
	if err != nil {
		return err
	}

	if project.OwnerID != actorID {
		return response.NewForbidden("only the project owner can delete this task")
	}

	for _, userID := range s.assigneeIDs(taskID) {
		s.notifications.Dispatch(userID, &actorID, PushMessage{
			Title: "Task Deleted",
			Body:  fmt.Sprintf("The task '%s' has been deleted.", task.Name),
			URL:   RefURL(RefProject, project.ID),
		}, models.NotifyTask, EntityRef{Kind: RefTask, ID: task.ID})
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&models.TaskAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Task{}, taskID).Error
	})
	if err != nil {
		return err
	}

	if err := s.ledger.AfterTaskChange(project.ID); err != nil {
		logger.Errorf("[Task] ledger recount after delete of task %d failed: %v", taskID, err)
	}
	return nil
}

// GetByID loads a task or returns a not-found error.
func (s *TaskService) GetByID(taskID uint) (*models.Task, error) {
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("task not found")
		}
		return nil, err
	}
	return &task, nil
}

// TaskListRequest filters the task list.
type TaskListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	ProjectID *uint  `form:"project_id"`
	Status    string `form:"status"`
}

type TaskListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.Task `json:"items"`
}

// List returns tasks visible to the user: ones they are assigned to, plus
// every task of projects they own.
func (s *TaskService) List(userID uint, req *TaskListRequest) (*TaskListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.Task{}).
		Joins("JOIN projects ON projects.id = tasks.project_id").
		Where("projects.owner_id = ? OR tasks.id IN (?)", userID,
			s.db.Model(&models.TaskAssignment{}).Select("task_id").Where("user_id = ?", userID))

	if req.ProjectID != nil {
		query = query.Where("tasks.project_id = ?", *req.ProjectID)
	}
	if req.Status != "" {
		query = query.Where("tasks.status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Task
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("tasks.due_date DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &TaskListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// --- shared lookups ---

func (s *TaskService) taskWithProject(taskID uint) (*models.Task, *models.Project, error) {
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, response.NewNotFound("task not found")
		}
		return nil, nil, err
	}
	var project models.Project
	if err := s.db.First(&project, task.ProjectID).Error; err != nil {
		return nil, nil, err
	}
	return &task, &project, nil
}

func (s *TaskService) isMember(projectID, userID uint) bool {
	var count int64
	s.db.Model(&models.ProjectMembership{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).Count(&count)
	return count > 0
}

func (s *TaskService) isAssignee(taskID, userID uint) bool {
	var count int64
	s.db.Model(&models.TaskAssignment{}).
		Where("task_id = ? AND user_id = ?", taskID, userID).Count(&count)
	return count > 0
}

func (s *TaskService) assigneeIDs(taskID uint) []uint {
	var ids []uint
	s.db.Model(&models.TaskAssignment{}).Where("task_id = ?", taskID).Pluck("user_id", &ids)
	return ids
}

// nonMembers returns the subset of userIDs holding no membership in the
// project, validated against the live membership table.
func (s *TaskService) nonMembers(projectID uint, userIDs []uint) []uint {
	if len(userIDs) == 0 {
		return nil
	}
	var memberIDs []uint
	s.db.Model(&models.ProjectMembership{}).
		Where("project_id = ? AND user_id IN ?", projectID, userIDs).
		Pluck("user_id", &memberIDs)

	members := make(map[uint]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}

	var missing []uint
	for _, id := range userIDs {
		if !members[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
