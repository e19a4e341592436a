package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

const documentMetaColumns = `id,task_id,document_name,file_size,content_type,upload_date`

// ListDocuments returns document metadata without blob data.
func (r Repo) ListDocuments(ctx context.Context, taskID int64) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentMetaColumns+` FROM task_documents WHERE task_id=? ORDER BY upload_date ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.TaskID, &d.DocumentName, &d.FileSize, &d.ContentType, &d.UploadDate); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDocumentsTx(ctx context.Context, tx *sql.Tx, taskID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_documents WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

func (r Repo) GetDocumentMeta(ctx context.Context, id int64) (domain.Document, error) {
	var d domain.Document
	err := r.DB.QueryRowContext(ctx, `SELECT `+documentMetaColumns+` FROM task_documents WHERE id=?`, id).
		Scan(&d.ID, &d.TaskID, &d.DocumentName, &d.FileSize, &d.ContentType, &d.UploadDate)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

// GetDocument loads the full document including blob data.
func (r Repo) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	var d domain.Document
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_id,document_name,data,file_size,content_type,upload_date FROM task_documents WHERE id=?`, id).
		Scan(&d.ID, &d.TaskID, &d.DocumentName, &d.Data, &d.FileSize, &d.ContentType, &d.UploadDate)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO task_documents(task_id,document_name,data,file_size,content_type,upload_date) VALUES (?,?,?,?,?,?)`,
		d.TaskID, d.DocumentName, d.Data, d.FileSize, d.ContentType, d.UploadDate)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ReplaceDocument swaps the stored file in place, keeping the task link.
func (r Repo) ReplaceDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_documents SET document_name=?, data=?, file_size=?, content_type=?, upload_date=? WHERE id=?`,
		d.DocumentName, d.Data, d.FileSize, d.ContentType, d.UploadDate, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
