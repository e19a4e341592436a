package access_test

import (
	"context"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	fixed := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng.Now = fixed
	eng.Access.Now = fixed
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func addUser(t *testing.T, env testEnv, name string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func addTask(t *testing.T, env testEnv, owner domain.User, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   title,
		OwnerID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func TestPermissionMatrix(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assignee := addUser(t, env, "assignee")
	stranger := addUser(t, env, "stranger")
	task := addTask(t, env, owner, "Shared work")
	acc := env.Engine.Access

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{assignee.ID}, owner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	checks := []struct {
		name   string
		userID int64
		access bool
		edit   bool
		del    bool
	}{
		{"owner", owner.ID, true, true, true},
		{"assignee", assignee.ID, true, false, false},
		{"stranger", stranger.ID, false, false, false},
	}
	for _, c := range checks {
		if got, err := acc.CanAccess(env.Ctx, task.ID, c.userID); err != nil || got != c.access {
			t.Errorf("%s CanAccess = %v, %v; want %v", c.name, got, err, c.access)
		}
		if got, err := acc.CanEdit(env.Ctx, task.ID, c.userID); err != nil || got != c.edit {
			t.Errorf("%s CanEdit = %v, %v; want %v", c.name, got, err, c.edit)
		}
		if got, err := acc.CanDelete(env.Ctx, task.ID, c.userID); err != nil || got != c.del {
			t.Errorf("%s CanDelete = %v, %v; want %v", c.name, got, err, c.del)
		}
		if got, err := acc.CanAssign(env.Ctx, task.ID, c.userID); err != nil || got != c.del {
			t.Errorf("%s CanAssign = %v, %v; want %v", c.name, got, err, c.del)
		}
	}
}

func TestCanAccessUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	u := addUser(t, env, "alice")
	ok, err := env.Engine.Access.CanAccess(env.Ctx, 9999, u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("unknown task should not be accessible")
	}
}

func TestOriginalAssignerKeepsAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assigner := addUser(t, env, "assigner")
	worker := addUser(t, env, "worker")
	task := addTask(t, env, owner, "Delegated work")
	acc := env.Engine.Access

	// assignment recorded by a non-owner assigner
	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{worker.ID}, assigner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ok, _ := acc.CanAccess(env.Ctx, task.ID, assigner.ID); !ok {
		t.Fatalf("assigner should retain access")
	}
	if ok, _ := acc.CanEdit(env.Ctx, task.ID, assigner.ID); !ok {
		t.Fatalf("original assigner should be able to edit")
	}
	if ok, _ := acc.CanDelete(env.Ctx, task.ID, assigner.ID); ok {
		t.Fatalf("only the owner may delete")
	}
}

func TestCanAssignTaskGuard(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	other := addUser(t, env, "other")
	worker := addUser(t, env, "worker")
	task := addTask(t, env, owner, "Guarded work")
	acc := env.Engine.Access

	// unassigned tasks are open
	if ok, err := acc.CanAssignTask(env.Ctx, task.ID, []int64{worker.ID}, other.ID); err != nil || !ok {
		t.Fatalf("unassigned task should allow assignment: %v, %v", ok, err)
	}
	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{worker.ID}, owner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// original assigner may reshuffle, or resubmit the same set
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{other.ID}, owner.ID); !ok {
		t.Fatalf("original assigner should be allowed to reassign")
	}
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{worker.ID}, owner.ID); !ok {
		t.Fatalf("original assigner should be allowed to resubmit the current set")
	}
	// everyone else is locked out, even with the identical set
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{worker.ID}, other.ID); ok {
		t.Fatalf("non-assigner must be denied even for the identical set")
	}
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{other.ID}, other.ID); ok {
		t.Fatalf("non-assigner must not change the assignee set")
	}
}

func TestStatusProjection(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	a := addUser(t, env, "worker_a")
	b := addUser(t, env, "worker_b")
	task := addTask(t, env, owner, "Projected work")
	acc := env.Engine.Access

	status, err := acc.Status(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsAssigned || status.AssignmentCount != 0 || !status.CanBeReassigned {
		t.Fatalf("fresh task should be unassigned and reassignable: %+v", status)
	}
	if status.AssignedUserIDs == nil || status.AssignedUserNames == nil {
		t.Fatalf("projection slices must be non-nil")
	}

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{a.ID, b.ID}, owner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	status, err = acc.Status(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.IsAssigned || status.AssignmentCount != 2 || status.CanBeReassigned {
		t.Fatalf("assigned task projection wrong: %+v", status)
	}
	if len(status.AssignedUserIDs) != 2 || status.FirstAssignmentDate == nil {
		t.Fatalf("expected two assignees with a first assignment date: %+v", status)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Access.Status(env.Ctx, 4242); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestSyncAssignmentsDiff(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	a := addUser(t, env, "worker_a")
	b := addUser(t, env, "worker_b")
	c := addUser(t, env, "worker_c")
	task := addTask(t, env, owner, "Diffed work")
	acc := env.Engine.Access

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{a.ID, b.ID}, owner.ID); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before, err := env.Engine.Repo.ListAssignments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keptID int64
	for _, asg := range before {
		if asg.UserID == b.ID {
			keptID = asg.ID
		}
	}
	if keptID == 0 {
		t.Fatalf("expected an assignment row for b")
	}

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{b.ID, c.ID}, owner.ID); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	after, err := env.Engine.Repo.ListAssignments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(after))
	}
	for _, asg := range after {
		if asg.UserID == a.ID {
			t.Fatalf("a should have been removed")
		}
		// unchanged assignments keep their original row
		if asg.UserID == b.ID && asg.ID != keptID {
			t.Fatalf("b's assignment row was recreated: %d != %d", asg.ID, keptID)
		}
	}
}

func TestSyncAssignmentsExcludesOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	a := addUser(t, env, "worker_a")
	task := addTask(t, env, owner, "Owner excluded")
	acc := env.Engine.Access

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{owner.ID, a.ID}, owner.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	status, err := acc.Status(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AssignmentCount != 1 || status.AssignedUserIDs[0] != a.ID {
		t.Fatalf("owner must never appear as assignee: %+v", status)
	}
}

func TestReleaseThenReassign(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	a := addUser(t, env, "worker_a")
	b := addUser(t, env, "worker_b")
	task := addTask(t, env, owner, "Released work")
	acc := env.Engine.Access

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{a.ID}, owner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// clearing the set releases the reassignment lock
	if err := acc.SyncAssignments(env.Ctx, task.ID, nil, owner.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	status, err := acc.Status(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsAssigned || !status.CanBeReassigned {
		t.Fatalf("released task should be reassignable: %+v", status)
	}
	// the lock is gone: a user other than the original assigner may now assign
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{b.ID}, b.ID); !ok {
		t.Fatalf("released task should accept a fresh assignment from a new assigner")
	}
	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{b.ID}, b.ID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if ok, _ := acc.CanAccess(env.Ctx, task.ID, a.ID); ok {
		t.Fatalf("removed assignee should lose access")
	}
	// the lock now belongs to the new assigner
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{a.ID}, owner.ID); ok {
		t.Fatalf("previous assigner must not hold the new lock")
	}
	if ok, _ := acc.CanAssignTask(env.Ctx, task.ID, []int64{a.ID}, b.ID); !ok {
		t.Fatalf("new assigner should hold the reassignment lock")
	}
}

func TestSyncAssignmentsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	a := addUser(t, env, "worker_a")
	task := addTask(t, env, owner, "Idempotent work")
	acc := env.Engine.Access

	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{a.ID}, owner.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := acc.SyncAssignments(env.Ctx, task.ID, []int64{a.ID}, owner.ID); err != nil {
		t.Fatalf("resync: %v", err)
	}
	status, err := acc.Status(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AssignmentCount != 1 {
		t.Fatalf("resync must not duplicate rows: %+v", status)
	}
}
