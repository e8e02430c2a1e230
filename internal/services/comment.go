package services

import (
	"fmt"
	"strings"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

// MaxCommentDepth is the deepest a reply chain may grow. A top-level
// comment sits at depth 1.
const MaxCommentDepth = 3

// CommentService manages threaded comments on tasks, including @username
// mention extraction and the resulting notifications.
type CommentService struct {
	db            *gorm.DB
	notifications *NotificationService
}

func NewCommentService(db *gorm.DB, notifications *NotificationService) *CommentService {
	return &CommentService{db: db, notifications: notifications}
}

// CreateCommentRequest carries a new comment or reply.
type CreateCommentRequest struct {
	TaskID   uint   `json:"task_id" binding:"required"`
	ParentID *uint  `json:"parent_id"`
	Content  string `json:"content" binding:"required"`
}

// Create posts a comment. A reply must reference a parent on the same task
// and may not push the thread past MaxCommentDepth. Mentioned users, the
// parent author and the task's assignees each receive a notification;
// overlapping recipients are de-duplicated mention-first.
func (s *CommentService) Create(authorID uint, req *CreateCommentRequest) (*models.Comment, error) {
	var task models.Task
	if err := s.db.First(&task, req.TaskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("task not found")
		}
		return nil, err
	}

	var project models.Project
	if err := s.db.First(&project, task.ProjectID).Error; err != nil {
		return nil, err
	}
	if project.IsReadOnly() {
		return nil, response.NewConflict(fmt.Sprintf("cannot comment in a %s project", project.Status))
	}

	var member int64
	s.db.Model(&models.ProjectMembership{}).
		Where("project_id = ? AND user_id = ?", project.ID, authorID).Count(&member)
	if member == 0 && project.OwnerID != authorID {
		return nil, response.NewForbidden("you are not a member of this project")
	}

	var parent *models.Comment
	if req.ParentID != nil {
		var p models.Comment
		if err := s.db.First(&p, *req.ParentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, response.NewNotFound("parent comment not found")
			}
			return nil, err
		}
		if p.TaskID != req.TaskID {
			return nil, response.NewBadRequest("parent comment belongs to a different task")
		}
		depth, err := s.depthOf(&p)
		if err != nil {
			return nil, err
		}
		if depth >= MaxCommentDepth {
			return nil, response.NewBadRequest(fmt.Sprintf("reply depth exceeds maximum of %d", MaxCommentDepth))
		}
		parent = &p
	}

	mentioned := s.resolveMentions(req.Content, project.ID)

	comment := &models.Comment{
		TaskID:       req.TaskID,
		AuthorID:     authorID,
		ParentID:     req.ParentID,
		Content:      req.Content,
		MentionCount: len(mentioned),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		for _, user := range mentioned {
			mention := models.CommentMention{CommentID: comment.ID, UserID: user.ID}
			if err := tx.Create(&mention).Error; err != nil {
				return err
			}
		}
		if parent != nil {
			return tx.Model(&models.Comment{}).Where("id = ?", parent.ID).
				UpdateColumn("reply_count", gorm.Expr("reply_count + 1")).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notified := map[uint]bool{authorID: true}

	for _, user := range mentioned {
		if notified[user.ID] {
			continue
		}
		notified[user.ID] = true
		s.notifications.Dispatch(user.ID, &authorID, PushMessage{
			Title: "You Were Mentioned",
			Body:  fmt.Sprintf("You were mentioned in a comment on the task '%s'.", task.Name),
			URL:   RefURL(RefComment, comment.ID),
		}, models.NotifyComment, EntityRef{Kind: RefComment, ID: comment.ID})
	}

	if parent != nil && !notified[parent.AuthorID] {
		notified[parent.AuthorID] = true
		s.notifications.Dispatch(parent.AuthorID, &authorID, PushMessage{
			Title: "New Reply",
			Body:  fmt.Sprintf("Someone replied to your comment on the task '%s'.", task.Name),
			URL:   RefURL(RefComment, comment.ID),
		}, models.NotifyComment, EntityRef{Kind: RefComment, ID: comment.ID})
	}

	var assigneeIDs []uint
	s.db.Model(&models.TaskAssignment{}).Where("task_id = ?", task.ID).Pluck("user_id", &assigneeIDs)
	for _, id := range assigneeIDs {
		if notified[id] {
			continue
		}
		notified[id] = true
		s.notifications.Dispatch(id, &authorID, PushMessage{
			Title: "New Comment",
			Body:  fmt.Sprintf("A new comment was posted on the task '%s'.", task.Name),
			URL:   RefURL(RefComment, comment.ID),
		}, models.NotifyComment, EntityRef{Kind: RefComment, ID: comment.ID})
	}

	return comment, nil
}

// Delete removes a comment authored by the actor and decrements the parent
// reply counter.
func (s *CommentService) Delete(commentID, actorID uint) error {
	var comment models.Comment
	if err := s.db.First(&comment, commentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NewNotFound("comment not found")
		}
		return err
	}
	if comment.AuthorID != actorID {
		return response.NewForbidden("only the author can delete this comment")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("comment_id = ?", commentID).Delete(&models.CommentMention{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Comment{}, commentID).Error; err != nil {
			return err
		}
		if comment.ParentID != nil {
			return tx.Model(&models.Comment{}).Where("id = ? AND reply_count > 0", *comment.ParentID).
				UpdateColumn("reply_count", gorm.Expr("reply_count - 1")).Error
		}
		return nil
	})
}

// ListByTask returns a task's comments oldest-first; callers assemble the
// thread tree from parent_id.
func (s *CommentService) ListByTask(taskID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.Where("task_id = ?", taskID).Order("created_at ASC").Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// depthOf walks the parent chain and returns the depth the parent sits at,
// counting top-level comments as depth 1.
func (s *CommentService) depthOf(c *models.Comment) (int, error) {
	depth := 1
	current := c
	for current.ParentID != nil {
		var parent models.Comment
		if err := s.db.First(&parent, *current.ParentID).Error; err != nil {
			return 0, err
		}
		depth++
		current = &parent
	}
	return depth, nil
}

// resolveMentions scans content for @username tokens and returns their
// users, kept only when the user is a member of the project. Unresolvable
// names are ignored.
func (s *CommentService) resolveMentions(content string, projectID uint) []models.User {
	seen := make(map[string]bool)
	var names []string
	for _, token := range strings.Fields(content) {
		if !strings.HasPrefix(token, "@") || len(token) < 2 {
			continue
		}
		name := strings.TrimRight(token[1:], ".,!?:;")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}

	var users []models.User
	s.db.
		Joins("JOIN project_memberships ON project_memberships.user_id = users.id").
		Where("project_memberships.project_id = ? AND users.username IN ?", projectID, names).
		Find(&users)
	return users
}
