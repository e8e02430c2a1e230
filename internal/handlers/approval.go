package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/pkg/response"
)

type ApprovalHandler struct {
	approvalService *services.ApprovalService
}

func NewApprovalHandler(approvalService *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

// Request opens a completion request for a task
// POST /api/tasks/:id/requests
func (h *ApprovalHandler) Request(c *gin.Context) {
	taskID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid task id")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	request, err := h.approvalService.Request(taskID, userID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, request)
}

// Resolve approves or rejects one request
// PUT /api/requests/:id
func (h *ApprovalHandler) Resolve(c *gin.Context) {
	requestID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	request, err := h.approvalService.Resolve(requestID, userID, req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, request)
}

// BulkResolve resolves several requests with one verdict
// PUT /api/requests/bulk
func (h *ApprovalHandler) BulkResolve(c *gin.Context) {
	var req struct {
		IDs     []uint `json:"ids" binding:"required"`
		Approve bool   `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	result, err := h.approvalService.BulkResolve(req.IDs, userID, req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ListPending returns requests awaiting the caller
// GET /api/requests/pending
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	userID := middleware.GetUserID(c)

	requests, err := h.approvalService.ListPending(userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, requests)
}
