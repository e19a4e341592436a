package server

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

type TaskPath struct {
	TaskID int64 `path:"task_id"`
}

type taskOut struct {
	Body domain.Task `json:"body"`
}

type taskSummaryOut struct {
	Body domain.TaskSummary `json:"body"`
}

type taskListOut struct {
	Body []domain.TaskSummary `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*taskOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Priority:        input.Body.Priority,
			Status:          input.Body.Status,
			DueDate:         input.Body.DueDate,
			AssignedUserIDs: input.Body.AssignedUserIDs,
			OwnerID:         userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List accessible tasks",
	}, func(ctx context.Context, _ *struct{}) (*taskListOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListTasks(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskListOut{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *TaskPath) (*taskSummaryOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskSummaryOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body UpdateTaskRequest
	}) (*taskOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskUpdateOptions{
			ID:          input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Status:      input.Body.Status,
			DueDate:     input.Body.DueDate,
			UserID:      userID,
		}
		if input.Body.AssignedUserIDs != nil {
			opts.AssignedUserIDs = *input.Body.AssignedUserIDs
			opts.SetAssignments = true
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *TaskPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Update task status",
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body StatusUpdateRequest
	}) (*taskOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, input.Body.Status, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "filter-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/filter",
		Summary:     "Filter tasks by priority, status and text",
	}, func(ctx context.Context, input *struct {
		Body FilterRequest
	}) (*taskListOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.FilterTasks(ctx, engine.FilterOptions{
			Priority: input.Body.Priority,
			Status:   input.Body.Status,
			Search:   input.Body.Search,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskListOut{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "filter-tasks-by-dates",
		Method:      http.MethodPost,
		Path:        "/tasks/filter/dates",
		Summary:     "Filter tasks by due date range",
	}, func(ctx context.Context, input *struct {
		Body DateRangeRequest
	}) (*taskListOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.FilterTasksByDateRange(ctx, input.Body.StartDate, input.Body.EndDate, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskListOut{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/export",
		Summary:     "Export accessible tasks as CSV",
	}, func(ctx context.Context, _ *struct{}) (*fileOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.ExportCSV(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &fileOut{
			ContentType:        "text/csv",
			ContentDisposition: `attachment; filename="tasks.csv"`,
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/import",
		Summary:     "Import tasks from a CSV upload",
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		files := input.RawBody.File["file"]
		if len(files) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "csv file is required", nil)
		}
		data, err := readMultipartFile(files[0])
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ImportCSV(ctx, userID, data)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-options",
		Method:      http.MethodGet,
		Path:        "/tasks/options",
		Summary:     "Valid priorities and statuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskOptions `json:"body"`
	}, error) {
		return &struct {
			Body TaskOptions `json:"body"`
		}{Body: TaskOptions{Priorities: domain.Priorities, Statuses: domain.Statuses}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-duplicate-title",
		Method:      http.MethodGet,
		Path:        "/tasks/check-title",
		Summary:     "Check whether the caller already owns a task with this title",
	}, func(ctx context.Context, input *struct {
		Title     string `query:"title" required:"true"`
		ExcludeID int64  `query:"exclude_id"`
	}) (*struct {
		Body DuplicateCheckResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dup, err := e.CheckDuplicateTitle(ctx, input.Title, input.ExcludeID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DuplicateCheckResponse `json:"body"`
		}{Body: DuplicateCheckResponse{Title: input.Title, Duplicate: dup}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignable-users",
		Method:      http.MethodGet,
		Path:        "/users/assignable",
		Summary:     "Users available for assignment",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.AssignableUsers(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/assignments",
		Summary:     "List task assignments",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		assignments, err := e.Assignments(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: assignments}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/assignments",
		Summary:     "Replace the assignee set of a task",
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AssignRequest
	}) (*struct {
		Body domain.AssignmentStatus `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := e.AssignTask(ctx, input.TaskID, input.Body.AssignedUserIDs, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssignmentStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assignment-status",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/assignment-status",
		Summary:     "Assignment projection for a task",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body domain.AssignmentStatus `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := e.AssignmentStatus(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssignmentStatus `json:"body"`
		}{Body: status}, nil
	})
}

// fileOut serves raw file payloads with download headers.
type fileOut struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
