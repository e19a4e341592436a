package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List task comments",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := e.ListComments(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: comments}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Add a comment to a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body CreateCommentRequest
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.TaskID, userID, input.Body.Comment, input.Body.FileName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

type DocumentPath struct {
	DocumentID int64 `path:"document_id"`
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/documents",
		Summary:     "List task documents",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.ListDocuments(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upload-documents",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/documents",
		Summary:       "Attach documents to a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TaskPath
		RawBody multipart.Form
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		uploads, err := collectUploads(input.RawBody.File["files"])
		if err != nil {
			return nil, handleError(err)
		}
		docs, err := e.UploadDocuments(ctx, input.TaskID, userID, uploads)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/download",
		Summary:     "Download a document",
	}, func(ctx context.Context, input *DocumentPath) (*fileOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.GetDocument(ctx, input.DocumentID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &fileOut{
			ContentType:        doc.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", doc.DocumentName),
			Body:               doc.Data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-document",
		Method:      http.MethodPut,
		Path:        "/documents/{document_id}",
		Summary:     "Replace a document's stored file",
	}, func(ctx context.Context, input *struct {
		DocumentPath
		RawBody multipart.Form
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		files := input.RawBody.File["file"]
		if len(files) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "replacement file is required", nil)
		}
		uploads, err := collectUploads(files[:1])
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := e.ReplaceDocument(ctx, input.DocumentID, userID, uploads[0])
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-document",
		Method:        http.MethodDelete,
		Path:          "/documents/{document_id}",
		Summary:       "Delete a document",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DocumentPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.DocumentID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func collectUploads(files []*multipart.FileHeader) ([]engine.DocumentUpload, error) {
	var uploads []engine.DocumentUpload
	for _, fh := range files {
		data, err := readMultipartFile(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, engine.DocumentUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}
