package services

import (
	"fmt"
	"time"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

// ApprovalService handles the completion-approval workflow for tasks marked
// need_approval. An assignee requests completion; the task's creator
// approves or rejects. Requests resolve exactly once.
type ApprovalService struct {
	db            *gorm.DB
	ledger        *LedgerService
	notifications *NotificationService
}

func NewApprovalService(db *gorm.DB, ledger *LedgerService, notifications *NotificationService) *ApprovalService {
	return &ApprovalService{db: db, ledger: ledger, notifications: notifications}
}

// Request opens a status-change request for a task. The requester must be
// an assignee, the task must require approval and be in progress or
// overdue, and the project must allow activity.
func (s *ApprovalService) Request(taskID, requesterID uint, reason string) (*models.StatusChangeRequest, error) {
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("task not found")
		}
		return nil, err
	}

	if !task.NeedApproval {
		return nil, response.NewBadRequest("task does not require approval")
	}
	if task.Status != models.TaskInProgress && task.Status != models.TaskOverdue {
		return nil, response.NewConflict(fmt.Sprintf("cannot request completion of a %s task", task.Status))
	}

	var project models.Project
	if err := s.db.First(&project, task.ProjectID).Error; err != nil {
		return nil, err
	}
	if !project.CanPerformActivity() {
		return nil, response.NewConflict(fmt.Sprintf("cannot request completion in a %s project", project.Status))
	}

	var assigned int64
	s.db.Model(&models.TaskAssignment{}).
		Where("task_id = ? AND user_id = ?", taskID, requesterID).Count(&assigned)
	if assigned == 0 {
		return nil, response.NewForbidden("only an assignee can request completion")
	}

	// Several assignees may hold pending requests on the same task at once;
	// the resolution guard picks the winner. Only a duplicate from the same
	// requester is refused.
	var pending int64
	s.db.Model(&models.StatusChangeRequest{}).
		Where("task_id = ? AND user_id = ? AND status = ?", taskID, requesterID, models.RequestPending).
		Count(&pending)
	if pending > 0 {
		return nil, response.NewConflict("you already have a pending request for this task")
	}

	request := &models.StatusChangeRequest{
		TaskID: taskID,
		UserID: requesterID,
		Reason: reason,
		Status: models.RequestPending,
	}
	if err := s.db.Create(request).Error; err != nil {
		return nil, err
	}

	s.notifications.Dispatch(task.AssignedBy, &requesterID, PushMessage{
		Title: "Completion Approval Requested",
		Body:  fmt.Sprintf("A completion request was submitted for the task '%s'.", task.Name),
		URL:   RefURL(RefRequest, request.ID),
	}, models.NotifyTask, EntityRef{Kind: RefRequest, ID: request.ID})

	return request, nil
}

// Resolve approves or rejects a pending request. Approval completes the
// task and stamps the resolver; rejection sends the task back to pending
// and clears any approver. A request that is no longer pending is a
// conflict, so concurrent resolvers cannot both win.
func (s *ApprovalService) Resolve(requestID, resolverID uint, approve bool) (*models.StatusChangeRequest, error) {
	var request models.StatusChangeRequest
	if err := s.db.First(&request, requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("request not found")
		}
		return nil, err
	}

	var task models.Task
	if err := s.db.First(&task, request.TaskID).Error; err != nil {
		return nil, err
	}
	if task.AssignedBy != resolverID {
		var project models.Project
		if err := s.db.First(&project, task.ProjectID).Error; err != nil {
			return nil, err
		}
		if project.OwnerID != resolverID {
			return nil, response.NewForbidden("only the task creator or project owner can resolve this request")
		}
	}

	if request.Status != models.RequestPending {
		return nil, response.NewConflict(fmt.Sprintf("request already %s", request.Status))
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Guard the transition inside the transaction: only one resolver
		// flips pending to a terminal status.
		now := time.Now()
		target := models.RequestApproved
		if !approve {
			target = models.RequestRejected
		}
		result := tx.Model(&models.StatusChangeRequest{}).
			Where("id = ? AND status = ?", requestID, models.RequestPending).
			Updates(map[string]interface{}{
				"status":          target,
				"approved_by":     resolverID,
				"resolution_time": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return response.NewConflict("request was already resolved")
		}

		request.Status = target
		request.ApprovedBy = &resolverID
		request.ResolutionTime = &now

		if approve {
			return tx.Model(&models.Task{}).Where("id = ?", task.ID).
				Updates(map[string]interface{}{
					"status":      models.TaskCompleted,
					"approved_by": resolverID,
				}).Error
		}
		return tx.Model(&models.Task{}).Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":      models.TaskPending,
				"approved_by": nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.AfterTaskChange(task.ProjectID); err != nil {
		logger.Errorf("[Approval] ledger recount after resolving request %d failed: %v", requestID, err)
	}

	verdict := "approved"
	if !approve {
		verdict = "rejected"
	}
	s.notifications.Dispatch(request.UserID, &resolverID, PushMessage{
		Title: "Completion Request " + verdict,
		Body:  fmt.Sprintf("Your completion request for the task '%s' was %s.", task.Name, verdict),
		URL:   RefURL(RefTask, task.ID),
	}, models.NotifyTask, EntityRef{Kind: RefRequest, ID: request.ID})

	return &request, nil
}

// BulkResolveResult reports the outcome of a bulk resolution.
type BulkResolveResult struct {
	Resolved []uint `json:"resolved"`
	Skipped  []uint `json:"skipped"`
}

// BulkResolve resolves every pending request in ids with the same verdict.
// Non-pending or missing requests are skipped, not errors; the resolved
// subset commits in one transaction.
func (s *ApprovalService) BulkResolve(ids []uint, resolverID uint, approve bool) (*BulkResolveResult, error) {
	result := &BulkResolveResult{}
	projectIDs := make(map[uint]bool)
	projectOwners := make(map[uint]uint)
	type notify struct {
		recipient uint
		taskID    uint
		taskName  string
		requestID uint
	}
	var pendingNotify []notify

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			var request models.StatusChangeRequest
			if err := tx.First(&request, id).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					result.Skipped = append(result.Skipped, id)
					continue
				}
				return err
			}
			if request.Status != models.RequestPending {
				result.Skipped = append(result.Skipped, id)
				continue
			}

			var task models.Task
			if err := tx.First(&task, request.TaskID).Error; err != nil {
				return err
			}
			if task.AssignedBy != resolverID {
				// Same rule as single resolution: the project owner may
				// resolve too.
				owner, ok := projectOwners[task.ProjectID]
				if !ok {
					var project models.Project
					if err := tx.First(&project, task.ProjectID).Error; err != nil {
						return err
					}
					owner = project.OwnerID
					projectOwners[task.ProjectID] = owner
				}
				if owner != resolverID {
					result.Skipped = append(result.Skipped, id)
					continue
				}
			}

			now := time.Now()
			target := models.RequestApproved
			if !approve {
				target = models.RequestRejected
			}
			if err := tx.Model(&models.StatusChangeRequest{}).
				Where("id = ? AND status = ?", id, models.RequestPending).
				Updates(map[string]interface{}{
					"status":          target,
					"approved_by":     resolverID,
					"resolution_time": now,
				}).Error; err != nil {
				return err
			}

			taskUpdates := map[string]interface{}{
				"status":      models.TaskCompleted,
				"approved_by": resolverID,
			}
			if !approve {
				taskUpdates = map[string]interface{}{
					"status":      models.TaskPending,
					"approved_by": nil,
				}
			}
			if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).
				Updates(taskUpdates).Error; err != nil {
				return err
			}

			result.Resolved = append(result.Resolved, id)
			projectIDs[task.ProjectID] = true
			pendingNotify = append(pendingNotify, notify{
				recipient: request.UserID,
				taskID:    task.ID,
				taskName:  task.Name,
				requestID: id,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for projectID := range projectIDs {
		if err := s.ledger.AfterTaskChange(projectID); err != nil {
			logger.Errorf("[Approval] ledger recount after bulk resolve for project %d failed: %v", projectID, err)
		}
	}

	verdict := "approved"
	if !approve {
		verdict = "rejected"
	}
	for _, n := range pendingNotify {
		s.notifications.Dispatch(n.recipient, &resolverID, PushMessage{
			Title: "Completion Request " + verdict,
			Body:  fmt.Sprintf("Your completion request for the task '%s' was %s.", n.taskName, verdict),
			URL:   RefURL(RefTask, n.taskID),
		}, models.NotifyTask, EntityRef{Kind: RefRequest, ID: n.requestID})
	}

	return result, nil
}

// ListPending returns open requests awaiting a resolver across tasks the
// user created.
func (s *ApprovalService) ListPending(resolverID uint) ([]models.StatusChangeRequest, error) {
	var requests []models.StatusChangeRequest
	err := s.db.
		Joins("JOIN tasks ON tasks.id = status_change_requests.task_id").
		Where("tasks.assigned_by = ? AND status_change_requests.status = ?", resolverID, models.RequestPending).
		Order("status_change_requests.request_time ASC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
