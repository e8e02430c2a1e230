package models

import (
	"time"

	"gorm.io/gorm"
)

// Project statuses
const (
	ProjectNotStarted = "not_started"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
	ProjectOnHold     = "on_hold"
	ProjectOverdue    = "overdue"
)

// Task statuses. TaskPending is the state a task reverts to when a
// status change request is rejected.
const (
	TaskNotStarted = "not_started"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskOverdue    = "overdue"
	TaskPending    = "pending"
)

// Membership roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Status change request states
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Notification delivery statuses
const (
	NotificationPending   = "pending"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// Notification types
const (
	NotifyAccount      = "account"
	NotifyProject      = "project"
	NotifyTask         = "task"
	NotifyComment      = "comment"
	NotifySubscription = "subscription"
)

// Notification priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// User represents a system user
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password  string         `gorm:"size:255" json:"-"` // Hashed password
	Email     string         `gorm:"uniqueIndex;size:255" json:"email"`
	Nickname  string         `gorm:"size:100" json:"nickname"`
	Role      string         `gorm:"size:50;default:user" json:"role"` // admin, user
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	PlanID    *uint          `json:"plan_id"` // Subscription plan, nil means default plan
	LastSeen  *time.Time     `json:"last_seen"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// SubscriptionPlan gates per-user resource limits
type SubscriptionPlan struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	MaxProjects          int       `gorm:"default:3" json:"max_projects"`
	MaxMembersPerProject int       `gorm:"default:5" json:"max_members_per_project"`
	PriceCents           int       `gorm:"default:0" json:"price_cents"`
	IsDefault            bool      `gorm:"default:false" json:"is_default"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Project owns its tasks, memberships and comments. TotalTasks and
// TotalMemberCount are cached aggregates recomputed by the ledger on every
// structural change, never hand-edited elsewhere.
type Project struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	Description      string         `gorm:"type:text" json:"description"`
	OwnerID          uint           `gorm:"index;not null" json:"owner_id"`
	Owner            *User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Status           string         `gorm:"size:20;default:not_started;index" json:"status"`
	DueDate          *time.Time     `gorm:"index" json:"due_date"`
	TotalTasks       int            `gorm:"default:0" json:"total_tasks"`
	TotalMemberCount int            `gorm:"default:1" json:"total_member_count"`
	AdminOverride    bool           `gorm:"default:false" json:"admin_override"` // Bypasses plan member limits
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// CanCreateTasks reports whether tasks may be created given project status.
func (p *Project) CanCreateTasks() bool {
	return p.Status == ProjectInProgress || p.Status == ProjectOverdue
}

// CanPerformActivity reports whether task-level activity is allowed.
func (p *Project) CanPerformActivity() bool {
	switch p.Status {
	case ProjectNotStarted, ProjectOnHold, ProjectCompleted:
		return false
	}
	return true
}

// IsReadOnly reports whether the project is frozen.
func (p *Project) IsReadOnly() bool {
	return p.Status == ProjectCompleted
}

// ProjectMembership links a user to a project. TotalTasks/CompletedTasks are
// per-user counters within the project, derived from task assignments.
type ProjectMembership struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProjectID      uint      `gorm:"uniqueIndex:idx_project_user;not null" json:"project_id"`
	Project        *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID         uint      `gorm:"uniqueIndex:idx_project_user;not null" json:"user_id"`
	User           *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role           string    `gorm:"size:10;default:member" json:"role"` // owner, member
	TotalTasks     int       `gorm:"default:0" json:"total_tasks"`
	CompletedTasks int       `gorm:"default:0" json:"completed_tasks"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// ProjectInvitation is a tokenized invite to join a project. Denormalized
// project/inviter fields survive later edits to either.
type ProjectInvitation struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index;not null" json:"project_id"`
	Email       string     `gorm:"size:255;index;not null" json:"email"`
	Token       string     `gorm:"uniqueIndex;size:36;not null" json:"token"`
	InvitedBy   uint       `json:"invited_by"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Accepted    bool       `gorm:"default:false" json:"accepted"`
	AcceptedAt  *time.Time `json:"accepted_at"`
	ProjectName string     `gorm:"size:255" json:"project_name"`
	InviterName string     `gorm:"size:255" json:"inviter_name"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsExpired reports whether the invitation is past its expiry.
func (i *ProjectInvitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// Task belongs to exactly one project. TotalAssignees is a cached aggregate
// maintained by the assignment operations.
type Task struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProjectID      uint           `gorm:"index;not null" json:"project_id"`
	Project        *Project       `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	Description    string         `gorm:"type:text" json:"description"`
	Status         string         `gorm:"size:20;default:not_started;index" json:"status"`
	DueDate        *time.Time     `gorm:"index" json:"due_date"`
	AssignedBy     uint           `gorm:"index;not null" json:"assigned_by"` // Creator
	ApprovedBy     *uint          `json:"approved_by"`                       // Set only through the approval flow
	NeedApproval   bool           `gorm:"default:false" json:"need_approval"`
	TotalAssignees int            `gorm:"default:0" json:"total_assignees"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// TaskAssignment grants a user visibility/actionability on a task
type TaskAssignment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     uint      `gorm:"uniqueIndex:idx_task_user;not null" json:"task_id"`
	Task       *Task     `gorm:"foreignKey:TaskID" json:"task,omitempty"`
	UserID     uint      `gorm:"uniqueIndex:idx_task_user;not null" json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AssignedAt time.Time `gorm:"autoCreateTime" json:"assigned_at"`
}

// StatusChangeRequest gates task completion when the task requires approval.
// Pending is the only mutable state; approved/rejected are terminal.
type StatusChangeRequest struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TaskID         uint       `gorm:"index;not null" json:"task_id"`
	Task           *Task      `gorm:"foreignKey:TaskID" json:"task,omitempty"`
	UserID         uint       `gorm:"index;not null" json:"user_id"` // Requester
	Reason         string     `gorm:"type:text" json:"reason"`
	Status         string     `gorm:"size:20;default:pending;index" json:"status"`
	ApprovedBy     *uint      `json:"approved_by"` // Resolver, set on resolution
	RequestTime    time.Time  `gorm:"autoCreateTime;index" json:"request_time"`
	ResolutionTime *time.Time `json:"resolution_time"`
}

// IsResolved reports whether the request reached a terminal state.
func (r *StatusChangeRequest) IsResolved() bool {
	return r.Status != RequestPending
}

// Comment is task-scoped, optionally threaded via ParentID (max depth 3).
type Comment struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TaskID       uint           `gorm:"index;not null" json:"task_id"`
	AuthorID     uint           `gorm:"index;not null" json:"author_id"`
	Author       *User          `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Content      string         `gorm:"size:1000;not null" json:"content"`
	ParentID     *uint          `gorm:"index" json:"parent_id"`
	ReplyCount   int            `gorm:"default:0" json:"reply_count"`
	MentionCount int            `gorm:"default:0" json:"mention_count"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// CommentMention records a user mentioned via an "@username" token.
type CommentMention struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	CommentID uint `gorm:"uniqueIndex:idx_comment_user;not null" json:"comment_id"`
	UserID    uint `gorm:"uniqueIndex:idx_comment_user;not null" json:"user_id"`
}

// Notification is a durable per-recipient record of an event. Status moves
// pending -> delivered|failed only; RetryCount is bounded by the retry budget.
type Notification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	RecipientID      uint       `gorm:"index;not null" json:"recipient_id"`
	SenderID         *uint      `json:"sender_id"`
	Message          string     `gorm:"type:text;not null" json:"message"`
	NotificationType string     `gorm:"size:50;index" json:"notification_type"`
	Status           string     `gorm:"size:20;default:pending;index" json:"status"`
	Priority         string     `gorm:"size:10;default:medium" json:"priority"`
	RefKind          string     `gorm:"size:50" json:"ref_kind"` // Referenced entity kind
	RefID            uint       `json:"ref_id"`
	IsRead           bool       `gorm:"default:false;index" json:"is_read"`
	RetryCount       int        `gorm:"default:0" json:"retry_count"`
	LastAttemptAt    *time.Time `json:"last_attempt_at"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
}

// NotificationPreference stores per-type enable flags as a JSON object.
// Missing keys default to enabled.
type NotificationPreference struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Preferences string `gorm:"type:text;default:'{}'" json:"preferences"`
}

// TableName overrides
func (User) TableName() string                   { return "users" }
func (SubscriptionPlan) TableName() string       { return "subscription_plans" }
func (Project) TableName() string                { return "projects" }
func (ProjectMembership) TableName() string      { return "project_memberships" }
func (ProjectInvitation) TableName() string      { return "project_invitations" }
func (Task) TableName() string                   { return "tasks" }
func (TaskAssignment) TableName() string         { return "task_assignments" }
func (StatusChangeRequest) TableName() string    { return "status_change_requests" }
func (Comment) TableName() string                { return "comments" }
func (CommentMention) TableName() string         { return "comment_mentions" }
func (Notification) TableName() string           { return "notifications" }
func (NotificationPreference) TableName() string { return "notification_preferences" }
