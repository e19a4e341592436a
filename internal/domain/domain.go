package domain

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"-"`
	Provider     string `json:"provider" enum:"local,google"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority" enum:"High,Normal,Low"`
	Status      string  `json:"status" enum:"Pending,Hold,Completed"`
	DueDate     string  `json:"due_date" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   *string `json:"updated_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	OwnerID     int64   `json:"owner_id"`
}

// TaskSummary is a task joined with its owner and assignment counters for
// listings. AssignedBy and AssignedDate are only populated on queries scoped
// to a single assignee.
type TaskSummary struct {
	Task
	OwnerUsername   string  `json:"owner_username"`
	IsAssigned      bool    `json:"is_assigned"`
	AssignmentCount int     `json:"assignment_count"`
	AssignedBy      *string `json:"assigned_by,omitempty"`
	AssignedDate    *string `json:"assigned_date,omitempty" format:"date-time"`
}

type Assignment struct {
	ID             int64  `json:"id"`
	TaskID         int64  `json:"task_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username,omitempty"`
	AssignedByID   int64  `json:"assigned_by_id"`
	AssignedByName string `json:"assigned_by_name,omitempty"`
	AssignedDate   string `json:"assigned_date" format:"date-time"`
}

// AssignmentStatus is the derived assignment projection for a task. It is
// computed from task_assignments rows and never stored.
type AssignmentStatus struct {
	TaskID              int64    `json:"task_id"`
	IsAssigned          bool     `json:"is_assigned"`
	AssignmentCount     int      `json:"assignment_count"`
	AssignedUserIDs     []int64  `json:"assigned_user_ids"`
	AssignedUserNames   []string `json:"assigned_user_names"`
	FirstAssignmentDate *string  `json:"first_assignment_date,omitempty" format:"date-time"`
	CanBeReassigned     bool     `json:"can_be_reassigned"`
}

type Comment struct {
	ID        int64   `json:"id"`
	TaskID    int64   `json:"task_id"`
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username,omitempty"`
	Comment   string  `json:"comment"`
	FileName  *string `json:"file_name,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt *string `json:"updated_at,omitempty" format:"date-time"`
}

// Document metadata. Data is only loaded for downloads.
type Document struct {
	ID           int64  `json:"id"`
	TaskID       int64  `json:"task_id"`
	DocumentName string `json:"document_name"`
	FileSize     int64  `json:"file_size"`
	ContentType  string `json:"content_type"`
	UploadDate   string `json:"upload_date" format:"date-time"`
	Data         []byte `json:"-"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	TaskID  *int64 `json:"task_id,omitempty"`
	ActorID int64  `json:"actor_id"`
	Payload string `json:"payload_json"`
}

var Priorities = []string{"High", "Normal", "Low"}

var Statuses = []string{"Pending", "Hold", "Completed"}

func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}
