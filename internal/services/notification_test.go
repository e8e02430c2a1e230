package services

import (
	"errors"
	"testing"
	"time"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/gateway"
	"github.com/planforge/backend/internal/models"
	"gorm.io/gorm"
)

func TestDispatch_DeliveredOnPushSuccess(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, queue := newNotificationStack(db)
	user := createUser(t, db, "alice")

	n, err := svc.Dispatch(user.ID, nil, PushMessage{Title: "T", Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.Status != models.NotificationDelivered {
		t.Errorf("status = %q, want delivered", n.Status)
	}
	if pusher.count(user.ID) != 1 {
		t.Errorf("pushes = %d, want 1", pusher.count(user.ID))
	}
	if queue.scheduledCount() != 0 {
		t.Errorf("scheduled retries = %d, want 0", queue.scheduledCount())
	}
}

func TestDispatch_OfflineRecipientIsDelivered(t *testing.T) {
	db := newTestDB(t)
	queue := &stubQueue{}
	svc := NewNotificationService(db, gateway.NewHub(), queue, nil)
	user := createUser(t, db, "alice")

	n, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.Status != models.NotificationDelivered {
		t.Errorf("status = %q, want delivered", n.Status)
	}
	if queue.scheduledCount() != 0 {
		t.Errorf("scheduled retries = %d, want 0", queue.scheduledCount())
	}
}

func TestDispatch_FailedPushSchedulesRetry(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, queue := newNotificationStack(db)
	user := createUser(t, db, "alice")
	pusher.setFail(true)

	n, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.Status != models.NotificationFailed {
		t.Errorf("status = %q, want failed", n.Status)
	}
	if queue.scheduledCount() != 1 {
		t.Fatalf("scheduled retries = %d, want 1", queue.scheduledCount())
	}
	if queue.delays[0] != RetryDelay {
		t.Errorf("retry delay = %v, want %v", queue.delays[0], RetryDelay)
	}

	// The durable record survives the failed delivery.
	var stored models.Notification
	if err := db.First(&stored, n.ID).Error; err != nil {
		t.Fatalf("stored notification: %v", err)
	}
	if stored.Status != models.NotificationFailed {
		t.Errorf("stored status = %q, want failed", stored.Status)
	}
}

func TestDispatch_ConfiguredRetryDelayIsHonored(t *testing.T) {
	db := newTestDB(t)
	pusher := newFakePusher()
	pusher.setFail(true)
	queue := &stubQueue{}
	cfg := &config.NotificationConfig{RetryLimit: 5, RetryDelaySeconds: 1}
	svc := NewNotificationService(db, pusher, queue, cfg)
	user := createUser(t, db, "alice")

	if _, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queue.scheduledCount() != 1 {
		t.Fatalf("scheduled retries = %d, want 1", queue.scheduledCount())
	}
	if queue.delays[0] != time.Second {
		t.Errorf("retry delay = %v, want %v", queue.delays[0], time.Second)
	}
	if svc.retryLimit != 5 {
		t.Errorf("retry limit = %d, want 5", svc.retryLimit)
	}
}

func TestDispatch_SchedulingFailureStillPersists(t *testing.T) {
	db := newTestDB(t)
	pusher := newFakePusher()
	pusher.setFail(true)
	queue := &stubQueue{err: errors.New("queue down")}
	svc := NewNotificationService(db, pusher, queue, nil)
	user := createUser(t, db, "alice")

	n, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.Status != models.NotificationFailed {
		t.Errorf("status = %q, want failed", n.Status)
	}
}

func TestDispatch_DisabledPreferenceSkips(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	pref := models.NotificationPreference{
		UserID:      user.ID,
		Preferences: `{"task": false}`,
	}
	if err := db.Create(&pref).Error; err != nil {
		t.Fatalf("create preference: %v", err)
	}

	n, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != nil {
		t.Fatalf("notification = %+v, want nil", n)
	}
	if pusher.count(user.ID) != 0 {
		t.Errorf("pushes = %d, want 0", pusher.count(user.ID))
	}

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 0 {
		t.Errorf("stored notifications = %d, want 0", count)
	}

	// Other types stay enabled.
	if _, err := svc.Dispatch(user.ID, nil, PushMessage{Body: "hi"},
		models.NotifyProject, EntityRef{Kind: RefProject, ID: 1}); err != nil {
		t.Fatalf("dispatch project type: %v", err)
	}
	if pusher.count(user.ID) != 1 {
		t.Errorf("pushes = %d, want 1", pusher.count(user.ID))
	}
}

func TestResend_DeliveredIsNoOp(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	n, _ := svc.Dispatch(user.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})

	if err := svc.Resend(n.ID); err != nil {
		t.Fatalf("resend delivered: %v", err)
	}
	if pusher.count(user.ID) != 1 {
		t.Errorf("pushes = %d, want 1 (no re-push)", pusher.count(user.ID))
	}
}

func TestResend_BudgetExhausted(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	n := models.Notification{
		RecipientID: user.ID,
		Message:     "hello",
		Status:      models.NotificationPending,
		RetryCount:  RetryLimit,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	err := svc.Resend(n.ID)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if stored.Status != models.NotificationFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
}

func TestResend_TimeGateConsumesNoBudget(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	recent := time.Now().Add(-time.Second)
	n := models.Notification{
		RecipientID:   user.ID,
		Message:       "hello",
		Status:        models.NotificationFailed,
		RetryCount:    1,
		LastAttemptAt: &recent,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	err := svc.Resend(n.ID)
	if !errors.Is(err, ErrRetryTooSoon) {
		t.Fatalf("err = %v, want ErrRetryTooSoon", err)
	}
	if pusher.count(user.ID) != 0 {
		t.Errorf("pushes = %d, want 0", pusher.count(user.ID))
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if stored.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1 (unchanged)", stored.RetryCount)
	}
}

func TestResend_FailureIncrementsAndStampsAttempt(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")
	pusher.setFail(true)

	n := models.Notification{
		RecipientID: user.ID,
		Message:     "hello",
		Status:      models.NotificationFailed,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	before := time.Now()
	if err := svc.Resend(n.ID); err == nil {
		t.Fatal("resend with failing pusher returned nil error")
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if stored.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", stored.RetryCount)
	}
	if stored.Status != models.NotificationPending {
		t.Errorf("status = %q, want pending while budget remains", stored.Status)
	}
	if stored.LastAttemptAt == nil || stored.LastAttemptAt.Before(before) {
		t.Error("last_attempt_at not stamped by the attempt")
	}
}

func TestResend_FinalFailureMarksFailed(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")
	pusher.setFail(true)

	n := models.Notification{
		RecipientID: user.ID,
		Message:     "hello",
		Status:      models.NotificationPending,
		RetryCount:  RetryLimit - 1,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	if err := svc.Resend(n.ID); err == nil {
		t.Fatal("resend with failing pusher returned nil error")
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if stored.RetryCount != RetryLimit {
		t.Errorf("retry_count = %d, want %d", stored.RetryCount, RetryLimit)
	}
	if stored.Status != models.NotificationFailed {
		t.Errorf("status = %q, want failed at exhausted budget", stored.Status)
	}
}

func TestResend_SuccessResetsRetryCount(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	past := time.Now().Add(-2 * RetryDelay)
	n := models.Notification{
		RecipientID:   user.ID,
		Message:       "hello",
		Status:        models.NotificationPending,
		RetryCount:    2,
		LastAttemptAt: &past,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	if err := svc.Resend(n.ID); err != nil {
		t.Fatalf("resend: %v", err)
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if stored.Status != models.NotificationDelivered {
		t.Errorf("status = %q, want delivered", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0 after success", stored.RetryCount)
	}
	if pusher.count(user.ID) != 1 {
		t.Errorf("pushes = %d, want 1", pusher.count(user.ID))
	}
}

func TestMarkRead_RecipientScoped(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newNotificationStack(db)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	n, _ := svc.Dispatch(alice.ID, nil, PushMessage{Body: "hello"},
		models.NotifyTask, EntityRef{Kind: RefTask, ID: 1})

	if err := svc.MarkRead(n.ID, bob.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("mark read by non-recipient: err = %v, want record not found", err)
	}
	if err := svc.MarkRead(n.ID, alice.ID); err != nil {
		t.Fatalf("mark read by recipient: %v", err)
	}

	var stored models.Notification
	db.First(&stored, n.ID)
	if !stored.IsRead {
		t.Error("notification not marked read")
	}
}

func TestProcessUndelivered_SweepsFailed(t *testing.T) {
	db := newTestDB(t)
	svc, pusher, _ := newNotificationStack(db)
	user := createUser(t, db, "alice")

	past := time.Now().Add(-2 * RetryDelay)
	rows := []models.Notification{
		{RecipientID: user.ID, Message: "a", Status: models.NotificationFailed, RetryCount: 1, LastAttemptAt: &past},
		{RecipientID: user.ID, Message: "b", Status: models.NotificationDelivered},
		{RecipientID: user.ID, Message: "c", Status: models.NotificationFailed, RetryCount: RetryLimit},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}

	svc.ProcessUndelivered(10)

	// Only the retryable row was attempted; delivered and exhausted rows
	// were left alone.
	if pusher.count(user.ID) != 1 {
		t.Errorf("pushes = %d, want 1", pusher.count(user.ID))
	}

	var stored models.Notification
	db.First(&stored, rows[0].ID)
	if stored.Status != models.NotificationDelivered {
		t.Errorf("swept notification status = %q, want delivered", stored.Status)
	}
}

func TestPrune_KeepsNewestPerRecipient(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newNotificationStack(db)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	for i := 0; i < 8; i++ {
		n := models.Notification{
			RecipientID: alice.ID,
			Message:     "a",
			Status:      models.NotificationDelivered,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		n := models.Notification{RecipientID: bob.ID, Message: "b", Status: models.NotificationDelivered}
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}

	if err := svc.Prune(5); err != nil {
		t.Fatalf("prune: %v", err)
	}

	var aliceCount, bobCount int64
	db.Model(&models.Notification{}).Where("recipient_id = ?", alice.ID).Count(&aliceCount)
	db.Model(&models.Notification{}).Where("recipient_id = ?", bob.ID).Count(&bobCount)
	if aliceCount != 5 {
		t.Errorf("alice notifications = %d, want 5", aliceCount)
	}
	if bobCount != 3 {
		t.Errorf("bob notifications = %d, want 3 (under the keep limit)", bobCount)
	}

	// The survivors are the newest ones.
	var oldest models.Notification
	db.Where("recipient_id = ?", alice.ID).Order("created_at ASC").First(&oldest)
	if time.Since(oldest.CreatedAt) > 6*time.Minute {
		t.Error("prune removed newer rows instead of older ones")
	}
}

func TestRefURL(t *testing.T) {
	tests := []struct {
		kind string
		id   uint
		want string
	}{
		{RefProject, 7, "/projects/7"},
		{RefTask, 3, "/tasks/3"},
		{"bogus", 1, ""},
	}
	for _, tt := range tests {
		if got := RefURL(tt.kind, tt.id); got != tt.want {
			t.Errorf("RefURL(%q, %d) = %q, want %q", tt.kind, tt.id, got, tt.want)
		}
	}
}
