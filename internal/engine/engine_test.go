package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/access"
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
	cfg := config.Default()
	cfg.Uploads.MaxDocumentBytes = 64
	cfg.Uploads.MaxDocumentsPerTask = 2
	eng := engine.New(conn, cfg)
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

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Write report",
		OwnerID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Priority != "Normal" || task.Status != "Pending" {
		t.Fatalf("defaults wrong: %+v", task)
	}
	if task.DueDate != "2026-03-08T12:00:00Z" {
		t.Fatalf("due date should default a week out, got %s", task.DueDate)
	}
	if task.CompletedAt != nil {
		t.Fatalf("pending task must not have a completion date")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	cases := []engine.TaskCreateOptions{
		{Title: "", OwnerID: owner.ID},
		{Title: "bad!title", OwnerID: owner.ID},
		{Title: strings.Repeat("a", 101), OwnerID: owner.ID},
		{Title: "ok title", Description: strings.Repeat("d", 501), OwnerID: owner.ID},
		{Title: "ok title", Priority: "Urgent", OwnerID: owner.ID},
		{Title: "ok title", Status: "Done", OwnerID: owner.ID},
		{Title: "ok title", DueDate: "not a date", OwnerID: owner.ID},
		{Title: "ok title"},
	}
	for i, opts := range cases {
		if _, err := env.Engine.CreateTask(env.Ctx, opts); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestCreateCompletedTask(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Already done",
		Status:  "Completed",
		OwnerID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatalf("completed task should carry a completion date")
	}
}

func TestUpdateTaskPermissions(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assignee := addUser(t, env, "assignee")
	stranger := addUser(t, env, "stranger")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:           "Team work",
		OwnerID:         owner.ID,
		AssignedUserIDs: []int64{assignee.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: "New title", UserID: assignee.ID})
	var editErr access.EditError
	if !errors.As(err, &editErr) {
		t.Fatalf("assignee edit should be forbidden, got %v", err)
	}

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: "New title", UserID: stranger.ID})
	var accErr access.AccessError
	if !errors.As(err, &accErr) {
		t.Fatalf("stranger should see not-found, got %v", err)
	}

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: "New title", UserID: owner.ID})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Title != "New title" || updated.UpdatedAt == nil {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestUpdateTaskCompletionToggle(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Toggle me", OwnerID: owner.ID})

	done, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Completed", UserID: owner.ID})
	if err != nil || done.CompletedAt == nil {
		t.Fatalf("completing should set completion date: %v %+v", err, done)
	}
	reopened, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Pending", UserID: owner.ID})
	if err != nil || reopened.CompletedAt != nil {
		t.Fatalf("reopening should clear completion date: %v %+v", err, reopened)
	}
}

func TestUpdateTaskStatusByAssignee(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assignee := addUser(t, env, "assignee")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:           "Status work",
		OwnerID:         owner.ID,
		AssignedUserIDs: []int64{assignee.ID},
	})

	updated, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "Completed", assignee.ID)
	if err != nil {
		t.Fatalf("assignee status update: %v", err)
	}
	if updated.Status != "Completed" || updated.CompletedAt == nil {
		t.Fatalf("status not applied: %+v", updated)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "Stalled", assignee.ID); err == nil {
		t.Fatalf("invalid status should be rejected")
	}
}

func TestDeleteTaskOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assignee := addUser(t, env, "assignee")
	stranger := addUser(t, env, "stranger")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:           "Delete me",
		OwnerID:         owner.ID,
		AssignedUserIDs: []int64{assignee.ID},
	})

	var delErr access.DeleteError
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, assignee.ID); !errors.As(err, &delErr) {
		t.Fatalf("assignee delete should be forbidden, got %v", err)
	}
	var accErr access.AccessError
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, stranger.ID); !errors.As(err, &accErr) {
		t.Fatalf("stranger should see not-found, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, owner.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID, owner.ID); !errors.As(err, &accErr) {
		t.Fatalf("deleted task should be gone, got %v", err)
	}
}

func TestFilterTasks(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	mk := func(title, priority, status string) {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Title: title, Priority: priority, Status: status, OwnerID: owner.ID,
		}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mk("Pay invoices", "High", "Pending")
	mk("Water plants", "Low", "Completed")
	mk("Review invoices", "High", "Completed")

	high, err := env.Engine.FilterTasks(env.Ctx, engine.FilterOptions{Priority: "High"}, owner.ID)
	if err != nil || len(high) != 2 {
		t.Fatalf("high filter: %v, %d", err, len(high))
	}
	completedHigh, err := env.Engine.FilterTasks(env.Ctx, engine.FilterOptions{Priority: "High", Status: "Completed"}, owner.ID)
	if err != nil || len(completedHigh) != 1 {
		t.Fatalf("combined filter: %v, %d", err, len(completedHigh))
	}
	invoices, err := env.Engine.FilterTasks(env.Ctx, engine.FilterOptions{Search: "INVOICE"}, owner.ID)
	if err != nil || len(invoices) != 2 {
		t.Fatalf("search should be case-insensitive: %v, %d", err, len(invoices))
	}
	if _, err := env.Engine.FilterTasks(env.Ctx, engine.FilterOptions{Priority: "Urgent"}, owner.ID); err == nil {
		t.Fatalf("invalid priority should be rejected")
	}
}

func TestFilterTasksByDateRange(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	mk := func(title, due string) {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: title, DueDate: due, OwnerID: owner.ID}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mk("Early task", "2026-03-02")
	mk("Late task", "2026-03-20")

	got, err := env.Engine.FilterTasksByDateRange(env.Ctx, "2026-03-01", "2026-03-02", owner.ID)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	// bare end dates cover the whole day
	if len(got) != 1 || got[0].Title != "Early task" {
		t.Fatalf("expected only the early task, got %+v", got)
	}
	if _, err := env.Engine.FilterTasksByDateRange(env.Ctx, "2026-03-10", "2026-03-01", owner.ID); err == nil {
		t.Fatalf("inverted range should be rejected")
	}
}

func TestComments(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	stranger := addUser(t, env, "stranger")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Discussed work", OwnerID: owner.ID})

	if _, err := env.Engine.AddComment(env.Ctx, task.ID, owner.ID, "", ""); err == nil {
		t.Fatalf("empty comment should be rejected")
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, owner.ID, strings.Repeat("x", 1001), ""); err == nil {
		t.Fatalf("oversized comment should be rejected")
	}
	var accErr access.AccessError
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, stranger.ID, "hello", ""); !errors.As(err, &accErr) {
		t.Fatalf("stranger comment should be denied, got %v", err)
	}
	c, err := env.Engine.AddComment(env.Ctx, task.ID, owner.ID, "looks good", "notes.txt")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.ID == 0 || c.FileName == nil || *c.FileName != "notes.txt" {
		t.Fatalf("comment not stored as expected: %+v", c)
	}
	list, err := env.Engine.ListComments(env.Ctx, task.ID, owner.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list comments: %v, %d", err, len(list))
	}
}

func TestDocumentCaps(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	assignee := addUser(t, env, "assignee")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:           "Documented work",
		OwnerID:         owner.ID,
		AssignedUserIDs: []int64{assignee.ID},
	})
	small := func(name string) engine.DocumentUpload {
		return engine.DocumentUpload{Name: name, ContentType: "text/plain", Data: []byte("payload")}
	}

	// uploads need edit rights
	var editErr access.EditError
	if _, err := env.Engine.UploadDocuments(env.Ctx, task.ID, assignee.ID, []engine.DocumentUpload{small("a.txt")}); !errors.As(err, &editErr) {
		t.Fatalf("assignee upload should be forbidden, got %v", err)
	}

	big := engine.DocumentUpload{Name: "big.bin", Data: make([]byte, 65)}
	if _, err := env.Engine.UploadDocuments(env.Ctx, task.ID, owner.ID, []engine.DocumentUpload{big}); err == nil {
		t.Fatalf("oversized upload should be rejected")
	}

	docs, err := env.Engine.UploadDocuments(env.Ctx, task.ID, owner.ID, []engine.DocumentUpload{small("a.txt"), small("b.txt")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(docs) != 2 || docs[0].ID == 0 {
		t.Fatalf("uploads not stored: %+v", docs)
	}
	if _, err := env.Engine.UploadDocuments(env.Ctx, task.ID, owner.ID, []engine.DocumentUpload{small("c.txt")}); err == nil {
		t.Fatalf("per-task document cap should hold")
	}

	replaced, err := env.Engine.ReplaceDocument(env.Ctx, docs[0].ID, owner.ID, small("a2.txt"))
	if err != nil || replaced.DocumentName != "a2.txt" {
		t.Fatalf("replace: %v %+v", err, replaced)
	}
	if err := env.Engine.DeleteDocument(env.Ctx, docs[1].ID, owner.ID); err != nil {
		t.Fatalf("delete doc: %v", err)
	}
	remaining, err := env.Engine.ListDocuments(env.Ctx, task.ID, assignee.ID)
	if err != nil || len(remaining) != 1 {
		t.Fatalf("list docs: %v, %d", err, len(remaining))
	}
	full, err := env.Engine.GetDocument(env.Ctx, remaining[0].ID, assignee.ID)
	if err != nil || string(full.Data) != "payload" {
		t.Fatalf("download: %v", err)
	}
}

func TestExportImportCSV(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Existing task", OwnerID: owner.ID}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := env.Engine.ExportCSV(env.Ctx, owner.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(string(out), "Title,Description,Priority,Status,DueDate,CreatedDate,CreatedBy,IsAssigned") {
		t.Fatalf("unexpected header: %s", string(out))
	}

	csv := strings.Join([]string{
		"Title,Description,Priority,Status,DueDate,CreatedDate,CreatedBy,IsAssigned",
		"Existing task,dup row,High,Pending,2026-03-05,,,",
		"Fresh task,new row,bogus,bogus,bogus,,,",
		"bad!title,invalid,,,,,,",
	}, "\n")
	res, err := env.Engine.ImportCSV(env.Ctx, owner.ID, []byte(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	fresh, err := env.Engine.FilterTasks(env.Ctx, engine.FilterOptions{Search: "fresh"}, owner.ID)
	if err != nil || len(fresh) != 1 {
		t.Fatalf("imported task missing: %v, %d", err, len(fresh))
	}
	// unparseable values fall back to defaults
	if fresh[0].Priority != "Normal" || fresh[0].Status != "Pending" {
		t.Fatalf("fallback defaults not applied: %+v", fresh[0])
	}
}

func TestDuplicateTitleCheck(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	other := addUser(t, env, "other")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Unique title", OwnerID: owner.ID})

	dup, err := env.Engine.CheckDuplicateTitle(env.Ctx, "unique TITLE", 0, owner.ID)
	if err != nil || !dup {
		t.Fatalf("case-insensitive duplicate expected: %v %v", dup, err)
	}
	dup, err = env.Engine.CheckDuplicateTitle(env.Ctx, "Unique title", task.ID, owner.ID)
	if err != nil || dup {
		t.Fatalf("excluded task should not count: %v %v", dup, err)
	}
	dup, err = env.Engine.CheckDuplicateTitle(env.Ctx, "Unique title", 0, other.ID)
	if err != nil || dup {
		t.Fatalf("titles are scoped per owner: %v %v", dup, err)
	}
}

func TestDashboardStatistics(t *testing.T) {
	env := newTestEnv(t)
	owner := addUser(t, env, "owner")
	helper := addUser(t, env, "helper")
	mk := func(title, status, due string) domain.Task {
		task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Title: title, Status: status, DueDate: due, OwnerID: owner.ID,
		})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		return task
	}
	mk("Done task", "Completed", "2026-03-10")
	mk("Overdue task", "Pending", "2026-02-20")
	upcoming := mk("Upcoming task", "Pending", "2026-03-05")
	if _, err := env.Engine.AssignTask(env.Ctx, upcoming.ID, []int64{helper.ID}, owner.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	stats, err := env.Engine.DashboardStatistics(env.Ctx, owner.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTasks != 3 || stats.CompletedTasks != 1 || stats.PendingTasks != 2 {
		t.Fatalf("totals wrong: %+v", stats)
	}
	if stats.OverdueTasks != 1 || stats.UpcomingTasks != 1 {
		t.Fatalf("due buckets wrong: %+v", stats)
	}
	if len(stats.DailyActivity) != 21 {
		t.Fatalf("expected a 21 day activity window, got %d", len(stats.DailyActivity))
	}
	if len(stats.RecentTasks) != 3 || len(stats.Upcoming) != 1 {
		t.Fatalf("top lists wrong: %+v", stats)
	}

	helperStats, err := env.Engine.DashboardStatistics(env.Ctx, helper.ID)
	if err != nil {
		t.Fatalf("helper stats: %v", err)
	}
	if helperStats.TotalTasks != 1 || len(helperStats.AssignedToMe) != 1 {
		t.Fatalf("helper should see the assigned task: %+v", helperStats)
	}
}
