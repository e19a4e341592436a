package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/access"
	"taskline/internal/events"
	"taskline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Access access.Engine
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Access: access.New(db),
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var titleRE = regexp.MustCompile(`^[a-zA-Z0-9\s]+$`)

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title is required")
	}
	if len(title) > 100 {
		return errors.New("title must be 100 characters or fewer")
	}
	if !titleRE.MatchString(title) {
		return errors.New("title may only contain letters, numbers and spaces")
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > 500 {
		return errors.New("description must be 500 characters or fewer")
	}
	return nil
}

// parseDueDate accepts RFC3339 or a bare date, defaulting to a week out.
func (e Engine) parseDueDate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return e.now().UTC().Add(7 * 24 * time.Hour).Format(time.RFC3339), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("invalid due date %q", raw)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title           string
	Description     string
	Priority        string
	Status          string
	DueDate         string
	AssignedUserIDs []int64
	OwnerID         int64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := validateTitle(opts.Title); err != nil {
		return domain.Task{}, err
	}
	if err := validateDescription(opts.Description); err != nil {
		return domain.Task{}, err
	}
	if opts.OwnerID == 0 {
		return domain.Task{}, errors.New("owner is required")
	}
	if opts.Priority == "" {
		opts.Priority = "Normal"
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.Status == "" {
		opts.Status = "Pending"
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %q", opts.Status)
	}
	dueDate, err := e.parseDueDate(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      opts.Status,
		DueDate:     dueDate,
		CreatedAt:   now,
		OwnerID:     opts.OwnerID,
	}
	if t.Status == "Completed" {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	if err := e.Events.Append(ctx, tx, "task.created", t.ID, opts.OwnerID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	for _, userID := range dedupeIDs(opts.AssignedUserIDs) {
		if userID == opts.OwnerID {
			continue
		}
		if err := e.Repo.InsertAssignment(ctx, tx, t.ID, userID, opts.OwnerID, now); err != nil {
			return domain.Task{}, fmt.Errorf("assign task: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.assigned", t.ID, opts.OwnerID, events.EventPayload{"user_id": userID}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. Zero-value fields keep
// their stored values; SetAssignments marks that AssignedUserIDs carries the
// full intended assignee set.
type TaskUpdateOptions struct {
	ID              int64
	Title           string
	Description     *string
	Priority        string
	Status          string
	DueDate         string
	AssignedUserIDs []int64
	SetAssignments  bool
	UserID          int64
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if err := e.requireEdit(ctx, opts.ID, opts.UserID); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != "" {
		if err := validateTitle(opts.Title); err != nil {
			return t, err
		}
		t.Title = opts.Title
	}
	if opts.Description != nil {
		if err := validateDescription(*opts.Description); err != nil {
			return t, err
		}
		t.Description = *opts.Description
	}
	if opts.Priority != "" {
		if !domain.ValidPriority(opts.Priority) {
			return t, fmt.Errorf("invalid priority %q", opts.Priority)
		}
		t.Priority = opts.Priority
	}
	if opts.Status != "" {
		if !domain.ValidStatus(opts.Status) {
			return t, fmt.Errorf("invalid status %q", opts.Status)
		}
		t.Status = opts.Status
	}
	if opts.DueDate != "" {
		dueDate, err := e.parseDueDate(opts.DueDate)
		if err != nil {
			return t, err
		}
		t.DueDate = dueDate
	}
	now := e.now().UTC().Format(time.RFC3339)
	t.UpdatedAt = &now
	if t.Status == "Completed" {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	} else {
		t.CompletedAt = nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, fmt.Errorf("update task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ID, opts.UserID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	if opts.SetAssignments {
		canAssign, err := e.Access.CanAssign(ctx, t.ID, opts.UserID)
		if err != nil {
			return t, err
		}
		// non-owners may edit content but their assignment set is ignored
		if canAssign {
			allowed, err := e.Access.CanAssignTask(ctx, t.ID, opts.AssignedUserIDs, opts.UserID)
			if err != nil {
				return t, err
			}
			if !allowed {
				return t, access.AssignError{TaskID: t.ID, UserID: opts.UserID}
			}
			if err := e.Access.SyncAssignments(ctx, t.ID, opts.AssignedUserIDs, opts.UserID); err != nil {
				return t, err
			}
		}
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e Engine) DeleteTask(ctx context.Context, id, userID int64) error {
	ok, err := e.Access.CanDelete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		canSee, err := e.Access.CanAccess(ctx, id, userID)
		if err != nil {
			return err
		}
		if !canSee {
			return access.AccessError{TaskID: id, UserID: userID}
		}
		return access.DeleteError{TaskID: id, UserID: userID}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", id, userID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTaskStatus lets any user with access toggle the status.
func (e Engine) UpdateTaskStatus(ctx context.Context, id int64, status string, userID int64) (domain.Task, error) {
	if !domain.ValidStatus(status) {
		return domain.Task{}, fmt.Errorf("invalid status %q", status)
	}
	ok, err := e.Access.CanAccess(ctx, id, userID)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, access.AccessError{TaskID: id, UserID: userID}
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	var completedAt *string
	if status == "Completed" {
		completedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, id, status, now, completedAt); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.status", id, userID, events.EventPayload{"from": t.Status, "to": status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) GetTask(ctx context.Context, id, userID int64) (domain.TaskSummary, error) {
	ok, err := e.Access.CanAccess(ctx, id, userID)
	if err != nil {
		return domain.TaskSummary{}, err
	}
	if !ok {
		return domain.TaskSummary{}, access.AccessError{TaskID: id, UserID: userID}
	}
	return e.Repo.GetTaskSummary(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, userID int64) ([]domain.TaskSummary, error) {
	tasks, err := e.Repo.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.TaskSummary{}
	}
	return tasks, nil
}

// FilterOptions narrow the accessible task list.
type FilterOptions struct {
	Priority string
	Status   string
	Search   string
}

func (e Engine) FilterTasks(ctx context.Context, opts FilterOptions, userID int64) ([]domain.TaskSummary, error) {
	if opts.Priority != "" && !domain.ValidPriority(opts.Priority) {
		return nil, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.Status != "" && !domain.ValidStatus(opts.Status) {
		return nil, fmt.Errorf("invalid status %q", opts.Status)
	}
	tasks, err := e.Repo.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(opts.Search))
	res := []domain.TaskSummary{}
	for _, t := range tasks {
		if opts.Priority != "" && t.Priority != opts.Priority {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			continue
		}
		res = append(res, t)
	}
	return res, nil
}

func (e Engine) FilterTasksByDateRange(ctx context.Context, start, end string, userID int64) ([]domain.TaskSummary, error) {
	from, err := parseDay(start, false)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q", start)
	}
	to, err := parseDay(end, true)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q", end)
	}
	if from.After(to) {
		return nil, errors.New("start date must not be after end date")
	}
	tasks, err := e.Repo.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := []domain.TaskSummary{}
	for _, t := range tasks {
		due, err := time.Parse(time.RFC3339, t.DueDate)
		if err != nil {
			continue
		}
		if due.Before(from) || due.After(to) {
			continue
		}
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DueDate < res[j].DueDate })
	return res, nil
}

// parseDay reads RFC3339 or bare dates; bare end dates cover the whole day.
func parseDay(raw string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Second)
	}
	return ts.UTC(), nil
}

// CheckDuplicateTitle reports whether the user already owns a task with the
// same title. excludeID skips the task being updated; pass 0 for creates.
func (e Engine) CheckDuplicateTitle(ctx context.Context, title string, excludeID, userID int64) (bool, error) {
	return e.Repo.TitleExists(ctx, userID, title, excludeID)
}

func (e Engine) AssignableUsers(ctx context.Context, userID int64) ([]domain.User, error) {
	users, err := e.Repo.ListAssignableUsers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

func (e Engine) Assignments(ctx context.Context, taskID, userID int64) ([]domain.Assignment, error) {
	ok, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, access.AccessError{TaskID: taskID, UserID: userID}
	}
	assignments, err := e.Repo.ListAssignments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []domain.Assignment{}
	}
	return assignments, nil
}

// AssignTask replaces the assignee set of a task. Only the owner may assign,
// and an already-assigned task may only be reassigned by its original
// assigner.
func (e Engine) AssignTask(ctx context.Context, taskID int64, userIDs []int64, userID int64) (domain.AssignmentStatus, error) {
	ok, err := e.Access.CanAssign(ctx, taskID, userID)
	if err != nil {
		return domain.AssignmentStatus{}, err
	}
	if !ok {
		canSee, err := e.Access.CanAccess(ctx, taskID, userID)
		if err != nil {
			return domain.AssignmentStatus{}, err
		}
		if !canSee {
			return domain.AssignmentStatus{}, access.AccessError{TaskID: taskID, UserID: userID}
		}
		return domain.AssignmentStatus{}, access.AssignError{TaskID: taskID, UserID: userID}
	}
	allowed, err := e.Access.CanAssignTask(ctx, taskID, userIDs, userID)
	if err != nil {
		return domain.AssignmentStatus{}, err
	}
	if !allowed {
		return domain.AssignmentStatus{}, access.AssignError{TaskID: taskID, UserID: userID}
	}
	if err := e.Access.SyncAssignments(ctx, taskID, userIDs, userID); err != nil {
		return domain.AssignmentStatus{}, err
	}
	return e.Access.Status(ctx, taskID)
}

func (e Engine) AssignmentStatus(ctx context.Context, taskID, userID int64) (domain.AssignmentStatus, error) {
	ok, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return domain.AssignmentStatus{}, err
	}
	if !ok {
		return domain.AssignmentStatus{}, access.AccessError{TaskID: taskID, UserID: userID}
	}
	return e.Access.Status(ctx, taskID)
}

func (e Engine) requireEdit(ctx context.Context, taskID, userID int64) error {
	ok, err := e.Access.CanEdit(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	canSee, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if !canSee {
		return access.AccessError{TaskID: taskID, UserID: userID}
	}
	return access.EditError{TaskID: taskID, UserID: userID}
}

func dedupeIDs(ids []int64) []int64 {
	seen := map[int64]bool{}
	var res []int64
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}
