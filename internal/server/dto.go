package server

import (
	"taskline/internal/domain"
)

// Request payloads

type SignupRequest struct {
	Username string `json:"username" minLength:"3" maxLength:"50" example:"alice"`
	Email    string `json:"email" format:"email" example:"alice@example.com"`
	Password string `json:"password" minLength:"6"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// GoogleLoginRequest carries the verified Google profile. Token verification
// happens upstream; the server trusts the email it is handed.
type GoogleLoginRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
}

type APIKeyCreateRequest struct {
	Name string `json:"name,omitempty" maxLength:"100"`
}

type CreateTaskRequest struct {
	Title           string  `json:"title" maxLength:"100" example:"Quarterly report"`
	Description     string  `json:"description,omitempty" maxLength:"500"`
	Priority        string  `json:"priority,omitempty" enum:"High,Normal,Low"`
	Status          string  `json:"status,omitempty" enum:"Pending,Hold,Completed"`
	DueDate         string  `json:"due_date,omitempty" example:"2026-09-15"`
	AssignedUserIDs []int64 `json:"assigned_user_ids,omitempty"`
}

// UpdateTaskRequest uses pointers where absence must be distinguishable from
// a cleared value. A present assigned_user_ids carries the full intended set.
type UpdateTaskRequest struct {
	Title           string   `json:"title,omitempty" maxLength:"100"`
	Description     *string  `json:"description,omitempty" maxLength:"500"`
	Priority        string   `json:"priority,omitempty" enum:"High,Normal,Low"`
	Status          string   `json:"status,omitempty" enum:"Pending,Hold,Completed"`
	DueDate         string   `json:"due_date,omitempty"`
	AssignedUserIDs *[]int64 `json:"assigned_user_ids,omitempty"`
}

type StatusUpdateRequest struct {
	Status string `json:"status" enum:"Pending,Hold,Completed"`
}

type FilterRequest struct {
	Priority string `json:"priority,omitempty" enum:"High,Normal,Low"`
	Status   string `json:"status,omitempty" enum:"Pending,Hold,Completed"`
	Search   string `json:"search,omitempty"`
}

type DateRangeRequest struct {
	StartDate string `json:"start_date" example:"2026-09-01"`
	EndDate   string `json:"end_date" example:"2026-09-30"`
}

type AssignRequest struct {
	AssignedUserIDs []int64 `json:"assigned_user_ids"`
}

type CreateCommentRequest struct {
	Comment  string `json:"comment" maxLength:"1000"`
	FileName string `json:"file_name,omitempty"`
}

// Response payloads

type AuthResponseBody struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type AuthResponse struct {
	Body AuthResponseBody `json:"body"`
}

type UsernameCheckResponse struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
}

// APIKeyCreateResponse is the only place the plaintext key ever appears.
type APIKeyCreateResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyView struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DuplicateCheckResponse struct {
	Title     string `json:"title"`
	Duplicate bool   `json:"duplicate"`
}

// TaskOptions feeds form dropdowns.
type TaskOptions struct {
	Priorities []string `json:"priorities"`
	Statuses   []string `json:"statuses"`
}
