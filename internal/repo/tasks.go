package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

const taskColumns = `id,title,COALESCE(description,''),priority,status,due_date,created_at,updated_at,completed_at,user_id`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var updatedAt, completedAt sql.NullString
	err := scan(&t.ID, &t.Title, &t.Description, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &updatedAt, &completedAt, &t.OwnerID)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if updatedAt.Valid {
		t.UpdatedAt = &updatedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,priority,status,due_date,created_at,updated_at,completed_at,user_id)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.Title, nullable(t.Description), t.Priority, t.Status, t.DueDate, t.CreatedAt,
		nullableStringPtr(t.UpdatedAt), nullableStringPtr(t.CompletedAt), t.OwnerID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, status=?, due_date=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Priority, t.Status, t.DueDate,
		nullableStringPtr(t.UpdatedAt), nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id int64, status, updatedAt string, completedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=?, completed_at=? WHERE id=?`,
		status, updatedAt, nullableStringPtr(completedAt), id)
	return err
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

const summaryQuery = `
SELECT t.id, t.title, COALESCE(t.description,''), t.priority, t.status, t.due_date, t.created_at, t.updated_at, t.completed_at, t.user_id,
       u.username,
       (SELECT COUNT(*) FROM task_assignments a2 WHERE a2.task_id=t.id)
FROM tasks t
JOIN users u ON u.id=t.user_id`

func scanSummary(scan func(dest ...any) error) (domain.TaskSummary, error) {
	var s domain.TaskSummary
	var updatedAt, completedAt sql.NullString
	err := scan(&s.ID, &s.Title, &s.Description, &s.Priority, &s.Status, &s.DueDate, &s.CreatedAt, &updatedAt, &completedAt, &s.OwnerID,
		&s.OwnerUsername, &s.AssignmentCount)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if updatedAt.Valid {
		s.UpdatedAt = &updatedAt.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	s.IsAssigned = s.AssignmentCount > 0
	return s, nil
}

func (r Repo) GetTaskSummary(ctx context.Context, id int64) (domain.TaskSummary, error) {
	row := r.DB.QueryRowContext(ctx, summaryQuery+` WHERE t.id=?`, id)
	return scanSummary(row.Scan)
}

// ListAccessibleTasks returns tasks the user owns, is assigned to, or
// originally assigned, newest first.
func (r Repo) ListAccessibleTasks(ctx context.Context, userID int64) ([]domain.TaskSummary, error) {
	query := summaryQuery + `
WHERE t.user_id=?
   OR EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id=t.id AND a.assigned_user_id=?)
   OR EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id=t.id AND a.assigned_by_user_id=?)
ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSummary
	for rows.Next() {
		s, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListAssignedTasks returns tasks assigned to the user with assigner info,
// newest assignment first.
func (r Repo) ListAssignedTasks(ctx context.Context, userID int64) ([]domain.TaskSummary, error) {
	query := `
SELECT t.id, t.title, COALESCE(t.description,''), t.priority, t.status, t.due_date, t.created_at, t.updated_at, t.completed_at, t.user_id,
       u.username,
       (SELECT COUNT(*) FROM task_assignments a2 WHERE a2.task_id=t.id),
       ub.username, a.assigned_date
FROM task_assignments a
JOIN tasks t ON t.id=a.task_id
JOIN users u ON u.id=t.user_id
JOIN users ub ON ub.id=a.assigned_by_user_id
WHERE a.assigned_user_id=?
ORDER BY a.assigned_date DESC, a.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSummary
	for rows.Next() {
		var s domain.TaskSummary
		var updatedAt, completedAt sql.NullString
		var assignedBy, assignedDate string
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.Priority, &s.Status, &s.DueDate, &s.CreatedAt, &updatedAt, &completedAt, &s.OwnerID,
			&s.OwnerUsername, &s.AssignmentCount, &assignedBy, &assignedDate); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			s.UpdatedAt = &updatedAt.String
		}
		if completedAt.Valid {
			s.CompletedAt = &completedAt.String
		}
		s.IsAssigned = true
		s.AssignedBy = &assignedBy
		s.AssignedDate = &assignedDate
		res = append(res, s)
	}
	return res, rows.Err()
}

// TitleExists reports whether the user already owns a task with this title,
// compared case-insensitively. excludeID skips the task being updated.
func (r Repo) TitleExists(ctx context.Context, userID int64, title string, excludeID int64) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE user_id=? AND lower(title)=lower(?) AND id<>? LIMIT 1`,
		userID, title, excludeID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
