package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

const assignmentQuery = `
SELECT a.id, a.task_id, a.assigned_user_id, u.username, a.assigned_by_user_id, ub.username, a.assigned_date
FROM task_assignments a
JOIN users u ON u.id=a.assigned_user_id
JOIN users ub ON ub.id=a.assigned_by_user_id
WHERE a.task_id=?
ORDER BY a.assigned_date ASC, a.id ASC`

func (r Repo) ListAssignments(ctx context.Context, taskID int64) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, assignmentQuery, taskID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func collectAssignments(rows *sql.Rows) ([]domain.Assignment, error) {
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.Username, &a.AssignedByID, &a.AssignedByName, &a.AssignedDate); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AssignedUserIDsTx returns the current assignee set inside a transaction.
func (r Repo) AssignedUserIDsTx(ctx context.Context, tx *sql.Tx, taskID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT assigned_user_id FROM task_assignments WHERE task_id=? ORDER BY assigned_user_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, taskID, userID, assignedBy int64, assignedDate string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_assignments(task_id,assigned_user_id,assigned_by_user_id,assigned_date) VALUES (?,?,?,?)`,
		taskID, userID, assignedBy, assignedDate)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, taskID, userID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE task_id=? AND assigned_user_id=?`, taskID, userID)
	return err
}

// OriginalAssigner returns who made the earliest surviving assignment.
// ErrNotFound means the task is currently unassigned.
func (r Repo) OriginalAssigner(ctx context.Context, taskID int64) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT assigned_by_user_id FROM task_assignments WHERE task_id=? ORDER BY assigned_date ASC, id ASC LIMIT 1`, taskID)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

// AssignmentDatesTo returns assignment timestamps for a user inside a window.
// Bounds are inclusive RFC3339 strings.
func (r Repo) AssignmentDatesTo(ctx context.Context, userID int64, from, to string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT assigned_date FROM task_assignments WHERE assigned_user_id=? AND assigned_date>=? AND assigned_date<=?`,
		userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
