package services

import (
	"errors"
	"testing"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/response"
)

func TestCommentCreate_MentionsResolveToMembers(t *testing.T) {
	db := newTestDB(t)
	notifications, pusher, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	outsider := createUser(t, db, "outsider")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false)

	comment, err := svc.Create(owner.ID, &CreateCommentRequest{
		TaskID:  task.ID,
		Content: "ping @member and @outsider and @nobody.",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Only the project member resolves; the outsider and the unknown name
	// are dropped silently.
	if comment.MentionCount != 1 {
		t.Errorf("mention_count = %d, want 1", comment.MentionCount)
	}

	var mentions []models.CommentMention
	db.Where("comment_id = ?", comment.ID).Find(&mentions)
	if len(mentions) != 1 || mentions[0].UserID != member.ID {
		t.Errorf("mentions = %+v, want one row for user %d", mentions, member.ID)
	}

	if pusher.count(member.ID) != 1 {
		t.Errorf("pushes to mentioned member = %d, want 1", pusher.count(member.ID))
	}
	if pusher.count(outsider.ID) != 0 {
		t.Errorf("pushes to outsider = %d, want 0", pusher.count(outsider.ID))
	}
}

func TestCommentCreate_ReplyDepthLimit(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectInProgress)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false)

	top, err := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, Content: "depth 1"})
	if err != nil {
		t.Fatalf("depth 1: %v", err)
	}
	second, err := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, ParentID: &top.ID, Content: "depth 2"})
	if err != nil {
		t.Fatalf("depth 2: %v", err)
	}
	third, err := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, ParentID: &second.ID, Content: "depth 3"})
	if err != nil {
		t.Fatalf("depth 3: %v", err)
	}

	_, err = svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, ParentID: &third.ID, Content: "depth 4"})
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != 400 {
		t.Fatalf("depth 4: err = %v, want 400", err)
	}
}

func TestCommentCreate_ReplyBookkeeping(t *testing.T) {
	db := newTestDB(t)
	notifications, pusher, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false)

	parent, _ := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, Content: "top"})
	if _, err := svc.Create(member.ID, &CreateCommentRequest{TaskID: task.ID, ParentID: &parent.ID, Content: "reply"}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	var stored models.Comment
	db.First(&stored, parent.ID)
	if stored.ReplyCount != 1 {
		t.Errorf("reply_count = %d, want 1", stored.ReplyCount)
	}

	// The parent author hears about the reply.
	if pusher.count(owner.ID) != 1 {
		t.Errorf("pushes to parent author = %d, want 1", pusher.count(owner.ID))
	}
}

func TestCommentCreate_ParentMustShareTask(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectInProgress)
	taskA := createTask(t, db, project, owner.ID, models.TaskInProgress, false)
	taskB := createTask(t, db, project, owner.ID, models.TaskInProgress, false)

	parent, _ := svc.Create(owner.ID, &CreateCommentRequest{TaskID: taskA.ID, Content: "top"})
	_, err := svc.Create(owner.ID, &CreateCommentRequest{TaskID: taskB.ID, ParentID: &parent.ID, Content: "cross"})
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != 400 {
		t.Fatalf("cross-task reply: err = %v, want 400", err)
	}
}

func TestCommentCreate_AssigneesNotifiedOnce(t *testing.T) {
	db := newTestDB(t)
	notifications, pusher, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false, member.ID)

	// The member is both mentioned and an assignee; overlapping recipients
	// get a single push.
	if _, err := svc.Create(owner.ID, &CreateCommentRequest{
		TaskID:  task.ID,
		Content: "hey @member check this",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if pusher.count(member.ID) != 1 {
		t.Errorf("pushes to member = %d, want 1", pusher.count(member.ID))
	}
	// The author never notifies themselves.
	if pusher.count(owner.ID) != 0 {
		t.Errorf("pushes to author = %d, want 0", pusher.count(owner.ID))
	}
}

func TestCommentDelete_DecrementsReplyCount(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	project := createProject(t, db, owner, models.ProjectInProgress)
	addMember(t, db, project.ID, member.ID, models.RoleMember)
	task := createTask(t, db, project, owner.ID, models.TaskInProgress, false)

	parent, _ := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, Content: "top"})
	reply, _ := svc.Create(member.ID, &CreateCommentRequest{TaskID: task.ID, ParentID: &parent.ID, Content: "reply"})

	if err := svc.Delete(reply.ID, owner.ID); err == nil {
		t.Fatal("delete by non-author succeeded")
	}
	if err := svc.Delete(reply.ID, member.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var stored models.Comment
	db.First(&stored, parent.ID)
	if stored.ReplyCount != 0 {
		t.Errorf("reply_count = %d, want 0", stored.ReplyCount)
	}
}

func TestCommentCreate_FrozenProjectRejected(t *testing.T) {
	db := newTestDB(t)
	notifications, _, _ := newNotificationStack(db)
	svc := NewCommentService(db, notifications)

	owner := createUser(t, db, "owner")
	project := createProject(t, db, owner, models.ProjectCompleted)
	task := createTask(t, db, project, owner.ID, models.TaskCompleted, false)

	_, err := svc.Create(owner.ID, &CreateCommentRequest{TaskID: task.ID, Content: "late"})
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != 409 {
		t.Fatalf("comment on completed project: err = %v, want 409", err)
	}
}
