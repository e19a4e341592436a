package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/domain"
)

var csvHeader = []string{"Title", "Description", "Priority", "Status", "DueDate", "CreatedDate", "CreatedBy", "IsAssigned"}

// ExportCSV renders the caller's accessible tasks as CSV.
func (e Engine) ExportCSV(ctx context.Context, userID int64) ([]byte, error) {
	tasks, err := e.Repo.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		rec := []string{
			t.Title,
			t.Description,
			t.Priority,
			t.Status,
			csvDate(t.DueDate),
			csvDate(t.CreatedAt),
			t.OwnerUsername,
			fmt.Sprintf("%t", t.IsAssigned),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ImportResult summarizes a CSV import run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

const maxImportErrors = 5

// ImportCSV creates tasks owned by the caller from CSV rows. Rows whose title
// duplicates an existing task of the same owner are skipped, invalid rows are
// reported without aborting the run.
func (e Engine) ImportCSV(ctx context.Context, userID int64, data []byte) (ImportResult, error) {
	res := ImportResult{Errors: []string{}}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return res, fmt.Errorf("invalid csv: %w", err)
	}
	if len(records) == 0 {
		return res, errors.New("csv file is empty")
	}
	start := 0
	if strings.EqualFold(strings.TrimSpace(records[0][0]), "Title") {
		start = 1
	}
	if len(records) == start {
		return res, errors.New("csv file has no task rows")
	}
	seen := map[string]bool{}
	for i, rec := range records[start:] {
		line := start + i + 1
		title := strings.TrimSpace(field(rec, 0))
		if err := validateTitle(title); err != nil {
			res.Failed++
			res.recordError(line, err)
			continue
		}
		key := strings.ToLower(title)
		dup, err := e.Repo.TitleExists(ctx, userID, title, 0)
		if err != nil {
			return res, err
		}
		if dup || seen[key] {
			res.Skipped++
			continue
		}
		opts := TaskCreateOptions{
			Title:       title,
			Description: strings.TrimSpace(field(rec, 1)),
			Priority:    normalizePriority(field(rec, 2)),
			Status:      normalizeStatus(field(rec, 3)),
			DueDate:     normalizeDueDate(field(rec, 4)),
			OwnerID:     userID,
		}
		if _, err := e.CreateTask(ctx, opts); err != nil {
			res.Failed++
			res.recordError(line, err)
			continue
		}
		seen[key] = true
		res.Imported++
	}
	return res, nil
}

func (r *ImportResult) recordError(line int, err error) {
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", line, err))
	}
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// normalizePriority maps unknown values to the default rather than failing
// the row.
func normalizePriority(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range domain.Priorities {
		if strings.EqualFold(s, p) {
			return p
		}
	}
	return "Normal"
}

func normalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	for _, st := range domain.Statuses {
		if strings.EqualFold(s, st) {
			return st
		}
	}
	return "Pending"
}

// normalizeDueDate keeps parseable dates and blanks the rest so CreateTask
// falls back to its default.
func normalizeDueDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return s
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return s
	}
	return ""
}

func csvDate(s string) string {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC().Format("2006-01-02")
	}
	return s
}
