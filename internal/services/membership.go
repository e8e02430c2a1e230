package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"github.com/planforge/backend/pkg/response"
	"gorm.io/gorm"
)

// InvitationTTL is how long a project invitation stays redeemable.
const InvitationTTL = 7 * 24 * time.Hour

// MembershipService manages project membership: tokenized invitations,
// acceptance under plan limits, and member removal.
type MembershipService struct {
	db            *gorm.DB
	ledger        *LedgerService
	notifications *NotificationService
	email         *EmailService
}

func NewMembershipService(db *gorm.DB, ledger *LedgerService, notifications *NotificationService, email *EmailService) *MembershipService {
	return &MembershipService{db: db, ledger: ledger, notifications: notifications, email: email}
}

// Invite creates an invitation for the given email. Only the project owner
// may invite. Project and inviter names are denormalized onto the row so
// the invite mail stays accurate even if either is renamed later.
func (s *MembershipService) Invite(projectID, inviterID uint, email string) (*models.ProjectInvitation, error) {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	if project.OwnerID != inviterID {
		return nil, response.NewForbidden("only the project owner can invite members")
	}

	var inviter models.User
	if err := s.db.First(&inviter, inviterID).Error; err != nil {
		return nil, err
	}

	var existingMember models.User
	err := s.db.
		Joins("JOIN project_memberships ON project_memberships.user_id = users.id").
		Where("project_memberships.project_id = ? AND users.email = ?", projectID, email).
		First(&existingMember).Error
	if err == nil {
		return nil, response.NewConflict("user is already a member of this project")
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	invitation := &models.ProjectInvitation{
		ProjectID:   projectID,
		Email:       email,
		Token:       uuid.NewString(),
		InvitedBy:   inviterID,
		ExpiresAt:   time.Now().Add(InvitationTTL),
		ProjectName: project.Name,
		InviterName: inviter.Username,
	}
	if err := s.db.Create(invitation).Error; err != nil {
		return nil, err
	}

	if err := s.email.SendInvitation(invitation); err != nil {
		logger.Errorf("[Membership] invitation mail for %s failed: %v", email, err)
	}

	return invitation, nil
}

// AcceptInvitation redeems a token for the given user. The invitation must
// be unexpired and unredeemed, and the project must have headroom under the
// owner's plan member limit unless admin_override is set.
func (s *MembershipService) AcceptInvitation(token string, userID uint) (*models.ProjectMembership, error) {
	var invitation models.ProjectInvitation
	if err := s.db.Where("token = ?", token).First(&invitation).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("invitation not found")
		}
		return nil, err
	}

	if invitation.Accepted {
		return nil, response.NewConflict("invitation has already been accepted")
	}
	if invitation.IsExpired() {
		return nil, response.NewConflict("invitation has expired")
	}

	var project models.Project
	if err := s.db.First(&project, invitation.ProjectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("project no longer exists")
		}
		return nil, err
	}

	var existing int64
	s.db.Model(&models.ProjectMembership{}).
		Where("project_id = ? AND user_id = ?", project.ID, userID).Count(&existing)
	if existing > 0 {
		return nil, response.NewConflict("you are already a member of this project")
	}

	if !project.AdminOverride {
		limit, err := s.memberLimit(project.OwnerID)
		if err != nil {
			return nil, err
		}
		var members int64
		s.db.Model(&models.ProjectMembership{}).
			Where("project_id = ?", project.ID).Count(&members)
		if int(members) >= limit {
			return nil, response.NewConflict(fmt.Sprintf("project has reached its member limit of %d", limit))
		}
	}

	membership := &models.ProjectMembership{
		ProjectID: project.ID,
		UserID:    userID,
		Role:      models.RoleMember,
	}
	now := time.Now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(membership).Error; err != nil {
			return err
		}
		return tx.Model(&models.ProjectInvitation{}).Where("id = ?", invitation.ID).
			Updates(map[string]interface{}{"accepted": true, "accepted_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.RecountProjectMembers(project.ID); err != nil {
		logger.Errorf("[Membership] member recount for project %d failed: %v", project.ID, err)
	}

	s.notifications.Dispatch(project.OwnerID, &userID, PushMessage{
		Title: "Invitation Accepted",
		Body:  fmt.Sprintf("A new member joined the project '%s'.", project.Name),
		URL:   RefURL(RefProject, project.ID),
	}, models.NotifyProject, EntityRef{Kind: RefProject, ID: project.ID})

	return membership, nil
}

// RemoveMember deletes a membership. Only the owner may remove members and
// the owner's own membership is irremovable. The member's task assignments
// inside the project are dropped with the membership.
func (s *MembershipService) RemoveMember(projectID, actorID, memberID uint) error {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NewNotFound("project not found")
		}
		return err
	}
	if project.OwnerID != actorID {
		return response.NewForbidden("only the project owner can remove members")
	}
	if memberID == project.OwnerID {
		return response.NewBadRequest("the project owner cannot be removed")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND user_id = ?", projectID, memberID).
			Delete(&models.ProjectMembership{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return response.NewNotFound("membership not found")
		}
		return tx.Where("user_id = ? AND task_id IN (?)", memberID,
			tx.Model(&models.Task{}).Select("id").Where("project_id = ?", projectID)).
			Delete(&models.TaskAssignment{}).Error
	})
	if err != nil {
		return err
	}

	if err := s.ledger.AfterTaskChange(projectID); err != nil {
		logger.Errorf("[Membership] recount after removing member %d failed: %v", memberID, err)
	}
	if err := s.ledger.RecountProjectMembers(projectID); err != nil {
		logger.Errorf("[Membership] member recount for project %d failed: %v", projectID, err)
	}

	s.notifications.Dispatch(memberID, &actorID, PushMessage{
		Title: "Removed From Project",
		Body:  fmt.Sprintf("You have been removed from the project '%s'.", project.Name),
		URL:   "/projects",
	}, models.NotifyProject, EntityRef{Kind: RefProject, ID: projectID})

	return nil
}

// ListMembers returns a project's memberships with users preloaded.
func (s *MembershipService) ListMembers(projectID uint) ([]models.ProjectMembership, error) {
	var memberships []models.ProjectMembership
	err := s.db.Preload("User").Where("project_id = ?", projectID).
		Order("joined_at ASC").Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// memberLimit resolves the per-project member cap from the owner's plan,
// falling back to the default plan when none is assigned.
func (s *MembershipService) memberLimit(ownerID uint) (int, error) {
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
	return plan.MaxMembersPerProject, nil
}
