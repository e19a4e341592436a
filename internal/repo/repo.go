package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// LatestEvents returns the newest events, optionally filtered by task and type.
func (r Repo) LatestEvents(ctx context.Context, limit int, taskID int64, evtType string) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if taskID > 0 {
		clauses = append(clauses, "task_id=?")
		args = append(args, taskID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,ts,type,task_id,actor_id,payload_json FROM events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		var task sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &task, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if task.Valid {
			e.TaskID = &task.Int64
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Event mirrors a row of the event log.
type Event struct {
	ID      int64
	TS      string
	Type    string
	TaskID  *int64
	ActorID int64
	Payload string
}
