package services

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBCounter int64

// testConfig returns the stock defaults, enough for services that only read
// constants from configuration.
func testConfig() *config.Config {
	return config.DefaultConfig()
}

// newTestDB opens a private in-memory database and migrates the schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	n := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:svctest%d?mode=memory&cache=shared", n)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.SubscriptionPlan{},
		&models.Project{},
		&models.ProjectMembership{},
		&models.ProjectInvitation{},
		&models.Task{},
		&models.TaskAssignment{},
		&models.StatusChangeRequest{},
		&models.Comment{},
		&models.CommentMention{},
		&models.Notification{},
		&models.NotificationPreference{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seedPlans(t *testing.T, db *gorm.DB) {
	t.Helper()
	plans := []models.SubscriptionPlan{
		{Name: "free", MaxProjects: 3, MaxMembersPerProject: 5, IsDefault: true},
		{Name: "pro", MaxProjects: 25, MaxMembersPerProject: 25, PriceCents: 900},
	}
	for i := range plans {
		if err := db.Create(&plans[i]).Error; err != nil {
			t.Fatalf("seed plans: %v", err)
		}
	}
}

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func createProject(t *testing.T, db *gorm.DB, owner *models.User, status string) *models.Project {
	t.Helper()
	project := &models.Project{
		Name:    "project-" + owner.Username,
		OwnerID: owner.ID,
		Status:  status,
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	addMember(t, db, project.ID, owner.ID, models.RoleOwner)
	return project
}

func addMember(t *testing.T, db *gorm.DB, projectID, userID uint, role string) {
	t.Helper()
	m := &models.ProjectMembership{ProjectID: projectID, UserID: userID, Role: role}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func createTask(t *testing.T, db *gorm.DB, project *models.Project, creatorID uint, status string, needApproval bool, assigneeIDs ...uint) *models.Task {
	t.Helper()
	task := &models.Task{
		ProjectID:      project.ID,
		Name:           "task",
		Status:         status,
		AssignedBy:     creatorID,
		NeedApproval:   needApproval,
		TotalAssignees: len(assigneeIDs),
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	for _, id := range assigneeIDs {
		a := &models.TaskAssignment{TaskID: task.ID, UserID: id}
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("create assignment: %v", err)
		}
	}
	return task
}

// fakePusher is a Pusher that can be told to fail, recording every push.
type fakePusher struct {
	mu     sync.Mutex
	fail   bool
	pushes map[uint][][]byte
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushes: make(map[uint][][]byte)}
}

func (p *fakePusher) Push(userID uint, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("pusher: forced failure")
	}
	p.pushes[userID] = append(p.pushes[userID], data)
	return nil
}

func (p *fakePusher) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *fakePusher) count(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[userID])
}

// stubQueue records scheduled retries without executing them.
type stubQueue struct {
	mu        sync.Mutex
	scheduled []uint
	delays    []time.Duration
	err       error
}

func (q *stubQueue) ScheduleRetry(notificationID uint, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.scheduled = append(q.scheduled, notificationID)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *stubQueue) IsAsync() bool { return false }
func (q *stubQueue) Close() error  { return nil }

func (q *stubQueue) scheduledCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scheduled)
}

// newNotificationStack wires a NotificationService against fakes.
func newNotificationStack(db *gorm.DB) (*NotificationService, *fakePusher, *stubQueue) {
	pusher := newFakePusher()
	queue := &stubQueue{}
	return NewNotificationService(db, pusher, queue, nil), pusher, queue
}
