package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func (r Repo) ListComments(ctx context.Context, taskID int64) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id, c.task_id, c.user_id, u.username, c.comment, c.file_name, c.created_at, c.updated_at
FROM task_comments c
JOIN users u ON u.id=c.user_id
WHERE c.task_id=?
ORDER BY c.created_at ASC, c.id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var fileName, updatedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Username, &c.Comment, &fileName, &c.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if fileName.Valid {
			c.FileName = &fileName.String
		}
		if updatedAt.Valid {
			c.UpdatedAt = &updatedAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO task_comments(task_id,user_id,comment,file_name,created_at) VALUES (?,?,?,?,?)`,
		c.TaskID, c.UserID, c.Comment, nullableStringPtr(c.FileName), c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
