package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/pkg/response"
)

type MemberHandler struct {
	membershipService *services.MembershipService
}

func NewMemberHandler(membershipService *services.MembershipService) *MemberHandler {
	return &MemberHandler{membershipService: membershipService}
}

// List returns a project's members
// GET /api/projects/:id/members
func (h *MemberHandler) List(c *gin.Context) {
	projectID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	members, err := h.membershipService.ListMembers(projectID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, members)
}

// Invite creates an invitation
// POST /api/projects/:id/invitations
func (h *MemberHandler) Invite(c *gin.Context) {
	projectID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	invitation, err := h.membershipService.Invite(projectID, userID, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, invitation)
}

// Accept redeems an invitation token for the caller
// POST /api/invitations/:token/accept
func (h *MemberHandler) Accept(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "missing invitation token")
		return
	}

	userID := middleware.GetUserID(c)
	membership, err := h.membershipService.AcceptInvitation(token, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, membership)
}

// Remove deletes a membership
// DELETE /api/projects/:id/members/:userId
func (h *MemberHandler) Remove(c *gin.Context) {
	projectID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	memberID, err := parseID(c, "userId")
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.membershipService.RemoveMember(projectID, userID, memberID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
