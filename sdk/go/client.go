package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
	OwnerID     int64  `json:"owner_id"`
}

// TaskSummary is a task with its assignment counters.
type TaskSummary struct {
	Task
	OwnerUsername   string `json:"owner_username"`
	IsAssigned      bool   `json:"is_assigned"`
	AssignmentCount int    `json:"assignment_count"`
}

// AssignmentStatus mirrors the server's assignment projection.
type AssignmentStatus struct {
	TaskID              int64    `json:"task_id"`
	IsAssigned          bool     `json:"is_assigned"`
	AssignmentCount     int      `json:"assignment_count"`
	AssignedUserIDs     []int64  `json:"assigned_user_ids"`
	AssignedUserNames   []string `json:"assigned_user_names"`
	FirstAssignmentDate *string  `json:"first_assignment_date,omitempty"`
	CanBeReassigned     bool     `json:"can_be_reassigned"`
}

// User represents an account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider"`
}

// Comment represents a task comment.
type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// LoginResult carries the issued token.
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// CreateTask creates a task owned by the authenticated user.
func (c *Client) CreateTask(ctx context.Context, title, priority, dueDate string, assignees []int64) (Task, error) {
	body := map[string]any{
		"title": title,
	}
	if priority != "" {
		body["priority"] = priority
	}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	if len(assignees) > 0 {
		body["assigned_user_ids"] = assignees
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// Tasks lists the tasks the authenticated user can access.
func (c *Client) Tasks(ctx context.Context) ([]TaskSummary, error) {
	var resp []TaskSummary
	err := c.do(ctx, http.MethodGet, "v1/tasks", nil, &resp)
	return resp, err
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id int64) (TaskSummary, error) {
	var resp TaskSummary
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/tasks/%d", id), nil, &resp)
	return resp, err
}

// UpdateStatus flips a task's status.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v1/tasks/%d/status", id), map[string]any{"status": status}, &resp)
	return resp, err
}

// AssignTask replaces the assignee set of a task.
func (c *Client) AssignTask(ctx context.Context, id int64, userIDs []int64) (AssignmentStatus, error) {
	var resp AssignmentStatus
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("v1/tasks/%d/assignments", id), map[string]any{"assigned_user_ids": userIDs}, &resp)
	return resp, err
}

// GetAssignmentStatus returns the assignment projection for a task.
func (c *Client) GetAssignmentStatus(ctx context.Context, id int64) (AssignmentStatus, error) {
	var resp AssignmentStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/tasks/%d/assignment-status", id), nil, &resp)
	return resp, err
}

// AddComment comments on a task.
func (c *Client) AddComment(ctx context.Context, taskID int64, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/tasks/%d/comments", taskID), map[string]any{"comment": text}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
