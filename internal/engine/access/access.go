// Package access decides who may see and change a task, and keeps the
// assignment set in sync. Every check takes the acting user's id explicitly;
// nothing is read from ambient state.
package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
)

// AccessError indicates the user has no relationship to the task.
type AccessError struct {
	TaskID int64
	UserID int64
}

func (e AccessError) Error() string {
	return fmt.Sprintf("user %d cannot access task %d", e.UserID, e.TaskID)
}

// EditError indicates the user may see but not modify the task.
type EditError struct {
	TaskID int64
	UserID int64
}

func (e EditError) Error() string {
	return fmt.Sprintf("user %d cannot edit task %d", e.UserID, e.TaskID)
}

// DeleteError indicates the user is not the task owner.
type DeleteError struct {
	TaskID int64
	UserID int64
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("user %d cannot delete task %d", e.UserID, e.TaskID)
}

// AssignError indicates a reassignment attempt by someone other than the
// original assigner while the task is already assigned.
type AssignError struct {
	TaskID int64
	UserID int64
}

func (e AssignError) Error() string {
	return fmt.Sprintf("task %d is already assigned; only the original assigner may change assignments", e.TaskID)
}

// Engine evaluates task permissions against the database.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CanAccess reports whether the user is the owner, an assignee, or the
// assigner of any surviving assignment. Unknown tasks read as no access.
func (e Engine) CanAccess(ctx context.Context, taskID, userID int64) (bool, error) {
	row := e.DB.QueryRowContext(ctx, `
SELECT 1 FROM tasks t
WHERE t.id=? AND (
	t.user_id=?
	OR EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id=t.id AND a.assigned_user_id=?)
	OR EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id=t.id AND a.assigned_by_user_id=?)
) LIMIT 1`, taskID, userID, userID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CanEdit reports whether the user is the owner or the original assigner.
// Plain assignees can see the task but not change its content.
func (e Engine) CanEdit(ctx context.Context, taskID, userID int64) (bool, error) {
	row := e.DB.QueryRowContext(ctx, `
SELECT 1 FROM tasks t
WHERE t.id=? AND (
	t.user_id=?
	OR ? = (SELECT a.assigned_by_user_id FROM task_assignments a WHERE a.task_id=t.id ORDER BY a.assigned_date ASC, a.id ASC LIMIT 1)
) LIMIT 1`, taskID, userID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CanDelete is owner-only.
func (e Engine) CanDelete(ctx context.Context, taskID, userID int64) (bool, error) {
	return e.isOwner(ctx, taskID, userID)
}

// CanAssign is owner-only. The original assigner keeps edit rights but may
// not initiate assignment changes through this gate; reassignment is guarded
// separately by CanAssignTask.
func (e Engine) CanAssign(ctx context.Context, taskID, userID int64) (bool, error) {
	return e.isOwner(ctx, taskID, userID)
}

func (e Engine) isOwner(ctx context.Context, taskID, userID int64) (bool, error) {
	row := e.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=? AND user_id=? LIMIT 1`, taskID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Status returns the derived assignment projection for the task.
func (e Engine) Status(ctx context.Context, taskID int64) (domain.AssignmentStatus, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.AssignmentStatus{}, err
	}
	assignments, err := e.Repo.ListAssignments(ctx, taskID)
	if err != nil {
		return domain.AssignmentStatus{}, err
	}
	st := domain.AssignmentStatus{
		TaskID:            taskID,
		AssignmentCount:   len(assignments),
		IsAssigned:        len(assignments) > 0,
		AssignedUserIDs:   []int64{},
		AssignedUserNames: []string{},
	}
	for _, a := range assignments {
		st.AssignedUserIDs = append(st.AssignedUserIDs, a.UserID)
		st.AssignedUserNames = append(st.AssignedUserNames, a.Username)
	}
	if len(assignments) > 0 {
		first := assignments[0].AssignedDate
		st.FirstAssignmentDate = &first
	}
	st.CanBeReassigned = st.AssignmentCount == 0
	return st, nil
}

// CanAssignTask guards reassignment. An unassigned task may be assigned by
// anyone who passed the CanAssign gate. Once assigned, only the original
// assigner may change the set; everyone else is denied, even when the
// proposed set equals the current one.
func (e Engine) CanAssignTask(ctx context.Context, taskID int64, proposed []int64, userID int64) (bool, error) {
	st, err := e.Status(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !st.IsAssigned {
		return true, nil
	}
	assigner, err := e.Repo.OriginalAssigner(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// assigned but assigner untraceable: fail closed
			return false, nil
		}
		return false, err
	}
	return assigner == userID, nil
}

// SyncAssignments reconciles the stored assignee set with the proposed one in
// a single transaction. The owner is never stored as an assignee. Unchanged
// assignments keep their original rows and dates.
func (e Engine) SyncAssignments(ctx context.Context, taskID int64, proposed []int64, assignedBy int64) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	target := map[int64]bool{}
	for _, id := range proposed {
		if id == t.OwnerID || id == 0 {
			continue
		}
		target[id] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := e.Repo.AssignedUserIDsTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	currentSet := map[int64]bool{}
	for _, id := range current {
		currentSet[id] = true
	}

	var toRemove, toAdd []int64
	for _, id := range current {
		if !target[id] {
			toRemove = append(toRemove, id)
		}
	}
	for id := range target {
		if !currentSet[id] {
			toAdd = append(toAdd, id)
		}
	}
	sort.Slice(toAdd, func(i, j int) bool { return toAdd[i] < toAdd[j] })

	now := e.now().UTC().Format(time.RFC3339)
	for _, id := range toRemove {
		if err := e.Repo.DeleteAssignment(ctx, tx, taskID, id); err != nil {
			return fmt.Errorf("remove assignment: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.unassigned", taskID, assignedBy, events.EventPayload{"user_id": id}); err != nil {
			return err
		}
	}
	for _, id := range toAdd {
		if err := e.Repo.InsertAssignment(ctx, tx, taskID, id, assignedBy, now); err != nil {
			return fmt.Errorf("add assignment: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.assigned", taskID, assignedBy, events.EventPayload{"user_id": id}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

