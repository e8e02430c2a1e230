package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/pkg/response"
)

type CommentHandler struct {
	commentService *services.CommentService
}

func NewCommentHandler(commentService *services.CommentService) *CommentHandler {
	return &CommentHandler{commentService: commentService}
}

// ListByTask returns a task's comments oldest-first
// GET /api/tasks/:id/comments
func (h *CommentHandler) ListByTask(c *gin.Context) {
	taskID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid task id")
		return
	}

	comments, err := h.commentService.ListByTask(taskID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, comments)
}

// Create posts a comment or reply
// POST /api/comments
func (h *CommentHandler) Create(c *gin.Context) {
	var req services.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	comment, err := h.commentService.Create(userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, comment)
}

// Delete removes the caller's comment
// DELETE /api/comments/:id
func (h *CommentHandler) Delete(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid comment id")
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.commentService.Delete(id, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
