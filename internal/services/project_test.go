package services

import (
	"errors"
	"testing"
	"time"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/response"
)

func TestProjectCreate_OwnerMembershipAndLimit(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	svc := NewProjectService(db, NewLedgerService(db), notifications)

	plan := models.SubscriptionPlan{Name: "tiny", MaxProjects: 1, MaxMembersPerProject: 5, IsDefault: true}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	owner := createUser(t, db, "owner")

	project, err := svc.Create(owner.ID, &CreateProjectRequest{Name: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if project.Status != models.ProjectNotStarted {
		t.Errorf("status = %q, want not_started", project.Status)
	}

	var m models.ProjectMembership
	if err := db.Where("project_id = ? AND user_id = ?", project.ID, owner.ID).First(&m).Error; err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
	if m.Role != models.RoleOwner {
		t.Errorf("owner role = %q, want owner", m.Role)
	}

	var p models.Project
	db.First(&p, project.ID)
	if p.TotalMemberCount != 1 {
		t.Errorf("total_member_count = %d, want 1", p.TotalMemberCount)
	}

	// Second project exceeds the one-project plan.
	_, err = svc.Create(owner.ID, &CreateProjectRequest{Name: "second"})
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != 409 {
		t.Fatalf("create over plan limit: err = %v, want 409", err)
	}
}

func TestProjectUpdateStatus_ValidationAndNotify(t *testing.T) {
	db := newTestDB(t)
	seedPlans(t, db)
	notifications, pusher, _ := newNotificationStack(db)
	svc := NewProjectService(db, NewLedgerService(db), notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)

	if _, err := svc.UpdateStatus(project.ID, owner.ID, "bogus"); err == nil {
		t.Fatal("bogus status accepted")
	}
	if _, err := svc.UpdateStatus(project.ID, member.ID, models.ProjectOnHold); err == nil {
		t.Fatal("status change by non-owner succeeded")
	}

	updated, err := svc.UpdateStatus(project.ID, owner.ID, models.ProjectCompleted)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != models.ProjectCompleted {
		t.Errorf("status = %q, want completed", updated.Status)
	}

	// Members hear about completion, the actor does not.
	if pusher.count(member.ID) != 1 {
		t.Errorf("pushes to member = %d, want 1", pusher.count(member.ID))
	}
	if pusher.count(owner.ID) != 0 {
		t.Errorf("pushes to actor = %d, want 0", pusher.count(owner.ID))
	}
}

func TestProjectGetByID_CacheInvalidatedOnWrite(t *testing.T) {
	db := newTestDB(t)
	seedPlans(t, db)
	notifications, _, _ := newNotificationStack(db)
	svc := NewProjectService(db, NewLedgerService(db), notifications)

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectInProgress)

	first, err := svc.GetByID(project.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Status != models.ProjectInProgress {
		t.Errorf("status = %q, want in_progress", first.Status)
	}

	if _, err := svc.UpdateStatus(project.ID, owner.ID, models.ProjectOnHold); err != nil {
		t.Fatalf("update status: %v", err)
	}

	// The write invalidated the cached row; the next read sees the new
	// status immediately.
	second, err := svc.GetByID(project.ID)
	if err != nil {
		t.Fatalf("get after write: %v", err)
	}
	if second.Status != models.ProjectOnHold {
		t.Errorf("status after write = %q, want on_hold", second.Status)
	}
}

func TestProjectGetByID_ReflectsLedgerRecount(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	ledger := NewLedgerService(db)
	projects := NewProjectService(db, ledger, notifications)
	tasks := NewTaskService(db, ledger, notifications)

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectInProgress)

	// Warm the cache.
	warm, err := projects.GetByID(project.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if warm.TotalTasks != 0 {
		t.Fatalf("total_tasks = %d, want 0", warm.TotalTasks)
	}

	// A task created through another service recounts the project row; the
	// cached copy must not survive that write.
	if _, err := tasks.Create(owner.ID, &CreateTaskRequest{
		ProjectID:   project.ID,
		Name:        "wire shelf",
		AssigneeIDs: []uint{owner.ID},
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	fresh, err := projects.GetByID(project.ID)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if fresh.TotalTasks != 1 {
		t.Errorf("cached total_tasks = %d, want 1", fresh.TotalTasks)
	}
}

func TestProjectGetByID_ReflectsOverdueSweep(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	ledger := NewLedgerService(db)
	projects := NewProjectService(db, ledger, notifications)
	maintenance := NewMaintenanceService(db, notifications, ledger, testConfig())

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectInProgress)
	past := time.Now().Add(-48 * time.Hour)
	db.Model(&models.Project{}).Where("id = ?", project.ID).Update("due_date", past)

	if _, err := projects.GetByID(project.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	maintenance.CheckOverdue()

	fresh, err := projects.GetByID(project.ID)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if fresh.Status != models.ProjectOverdue {
		t.Errorf("cached status = %q, want overdue", fresh.Status)
	}
}

func TestProjectDelete_CascadesAndNotifies(t *testing.T) {
	db := newTestDB(t)
	seedPlans(t, db)
	notifications, pusher, _ := newNotificationStack(db)
	svc := NewProjectService(db, NewLedgerService(db), notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false, member.ID)

	if err := svc.Delete(project.ID, member.ID); err == nil {
		t.Fatal("delete by non-owner succeeded")
	}
	if err := svc.Delete(project.ID, owner.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if pusher.count(member.ID) != 1 {
		t.Errorf("pushes to member = %d, want 1", pusher.count(member.ID))
	}

	var tasks, memberships, assignments int64
	db.Model(&models.Task{}).Where("project_id = ?", project.ID).Count(&tasks)
	db.Model(&models.ProjectMembership{}).Where("project_id = ?", project.ID).Count(&memberships)
	db.Model(&models.TaskAssignment{}).Where("task_id = ?", task.ID).Count(&assignments)
	if tasks != 0 || memberships != 0 || assignments != 0 {
		t.Errorf("tasks = %d, memberships = %d, assignments = %d, want 0 each", tasks, memberships, assignments)
	}
}

func TestProjectList_MemberScoped(t *testing.T) {
	db := newTestDB(t)
	seedPlans(t, db)
	notifications, _, _ := newNotificationStack(db)
	svc := NewProjectService(db, NewLedgerService(db), notifications)

	owner := createUser(t, db, "owner")
	other := createUser(t, db, "other")
	mine := createProject(t, db, owner, models.ProjectInProgress)
	createProject(t, db, other, models.ProjectInProgress)

	projects, err := svc.List(owner.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != mine.ID {
		t.Errorf("projects = %+v, want only project %d", projects, mine.ID)
	}
}
