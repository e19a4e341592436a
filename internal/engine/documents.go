package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine/access"
	"taskline/internal/events"
)

// DocumentUpload is one incoming file.
type DocumentUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (e Engine) maxDocumentBytes() int64 {
	if e.Config != nil && e.Config.Uploads.MaxDocumentBytes > 0 {
		return e.Config.Uploads.MaxDocumentBytes
	}
	return 5 << 20
}

func (e Engine) maxDocumentsPerTask() int {
	if e.Config != nil && e.Config.Uploads.MaxDocumentsPerTask > 0 {
		return e.Config.Uploads.MaxDocumentsPerTask
	}
	return 5
}

func (e Engine) ListDocuments(ctx context.Context, taskID, userID int64) ([]domain.Document, error) {
	ok, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, access.AccessError{TaskID: taskID, UserID: userID}
	}
	docs, err := e.Repo.ListDocuments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// GetDocument loads a document with its data for download. Read access to
// the owning task is enough.
func (e Engine) GetDocument(ctx context.Context, docID, userID int64) (domain.Document, error) {
	meta, err := e.Repo.GetDocumentMeta(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	ok, err := e.Access.CanAccess(ctx, meta.TaskID, userID)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, access.AccessError{TaskID: meta.TaskID, UserID: userID}
	}
	return e.Repo.GetDocument(ctx, docID)
}

func (e Engine) validateUpload(f DocumentUpload) error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("document name is required")
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("document %s is empty", f.Name)
	}
	if int64(len(f.Data)) > e.maxDocumentBytes() {
		return fmt.Errorf("document %s exceeds the maximum size of %d bytes", f.Name, e.maxDocumentBytes())
	}
	return nil
}

// UploadDocuments attaches files to a task. Mutation requires edit rights on
// the task, and the per-task document cap holds across the whole batch.
func (e Engine) UploadDocuments(ctx context.Context, taskID, userID int64, files []DocumentUpload) ([]domain.Document, error) {
	if len(files) == 0 {
		return nil, errors.New("at least one document is required")
	}
	if err := e.requireEdit(ctx, taskID, userID); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := e.validateUpload(f); err != nil {
			return nil, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.CountDocumentsTx(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if existing+len(files) > e.maxDocumentsPerTask() {
		return nil, fmt.Errorf("task may have at most %d documents", e.maxDocumentsPerTask())
	}
	var res []domain.Document
	for _, f := range files {
		d := domain.Document{
			TaskID:       taskID,
			DocumentName: f.Name,
			Data:         f.Data,
			FileSize:     int64(len(f.Data)),
			ContentType:  contentTypeOrDefault(f.ContentType),
			UploadDate:   now,
		}
		id, err := e.Repo.InsertDocument(ctx, tx, d)
		if err != nil {
			return nil, fmt.Errorf("insert document: %w", err)
		}
		d.ID = id
		d.Data = nil
		res = append(res, d)
		if err := e.Events.Append(ctx, tx, "document.uploaded", taskID, userID, events.EventPayload{"document_id": id, "name": f.Name}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ReplaceDocument swaps the stored file while keeping the task link.
func (e Engine) ReplaceDocument(ctx context.Context, docID, userID int64, file DocumentUpload) (domain.Document, error) {
	meta, err := e.Repo.GetDocumentMeta(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.requireEdit(ctx, meta.TaskID, userID); err != nil {
		return domain.Document{}, err
	}
	if err := e.validateUpload(file); err != nil {
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:           docID,
		TaskID:       meta.TaskID,
		DocumentName: file.Name,
		Data:         file.Data,
		FileSize:     int64(len(file.Data)),
		ContentType:  contentTypeOrDefault(file.ContentType),
		UploadDate:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.replaced", meta.TaskID, userID, events.EventPayload{"document_id": docID, "name": file.Name}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	d.Data = nil
	return d, nil
}

func (e Engine) DeleteDocument(ctx context.Context, docID, userID int64) error {
	meta, err := e.Repo.GetDocumentMeta(ctx, docID)
	if err != nil {
		return err
	}
	if err := e.requireEdit(ctx, meta.TaskID, userID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDocument(ctx, tx, docID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.deleted", meta.TaskID, userID, events.EventPayload{"document_id": docID}); err != nil {
		return err
	}
	return tx.Commit()
}

func contentTypeOrDefault(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}
