package engine

import (
	"context"
	"sort"
	"time"

	"taskline/internal/domain"
)

type PriorityCount struct {
	Priority   string  `json:"priority"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type StatusCount struct {
	Status     string  `json:"status"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DailyActivity counts tasks created and assignments received per day.
type DailyActivity struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Assigned int    `json:"assigned"`
}

type DashboardStats struct {
	TotalTasks     int                  `json:"total_tasks"`
	CompletedTasks int                  `json:"completed_tasks"`
	PendingTasks   int                  `json:"pending_tasks"`
	HoldTasks      int                  `json:"hold_tasks"`
	OverdueTasks   int                  `json:"overdue_tasks"`
	UpcomingTasks  int                  `json:"upcoming_tasks"`
	ByPriority     []PriorityCount      `json:"by_priority"`
	ByStatus       []StatusCount        `json:"by_status"`
	DailyActivity  []DailyActivity      `json:"daily_activity"`
	RecentTasks    []domain.TaskSummary `json:"recent_tasks"`
	AssignedToMe   []domain.TaskSummary `json:"assigned_to_me"`
	Upcoming       []domain.TaskSummary `json:"upcoming"`
}

const dashboardWindowDays = 10

const dashboardTopN = 5

// DashboardStatistics aggregates the caller's accessible tasks.
func (e Engine) DashboardStatistics(ctx context.Context, userID int64) (DashboardStats, error) {
	tasks, err := e.Repo.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return DashboardStats{}, err
	}
	now := e.now().UTC()
	today := now.Truncate(24 * time.Hour)

	stats := DashboardStats{
		RecentTasks:  []domain.TaskSummary{},
		AssignedToMe: []domain.TaskSummary{},
		Upcoming:     []domain.TaskSummary{},
	}
	stats.TotalTasks = len(tasks)
	statusCounts := map[string]int{}
	priorityCounts := map[string]int{}
	var upcoming []domain.TaskSummary
	for _, t := range tasks {
		statusCounts[t.Status]++
		priorityCounts[t.Priority]++
		due, err := time.Parse(time.RFC3339, t.DueDate)
		if err != nil {
			continue
		}
		if t.Status != "Completed" {
			if due.Before(today) {
				stats.OverdueTasks++
			} else {
				stats.UpcomingTasks++
				upcoming = append(upcoming, t)
			}
		}
	}
	stats.CompletedTasks = statusCounts["Completed"]
	stats.PendingTasks = statusCounts["Pending"]
	stats.HoldTasks = statusCounts["Hold"]
	for _, s := range domain.Statuses {
		stats.ByStatus = append(stats.ByStatus, StatusCount{
			Status:     s,
			Count:      statusCounts[s],
			Percentage: percentage(statusCounts[s], stats.TotalTasks),
		})
	}
	for _, p := range domain.Priorities {
		stats.ByPriority = append(stats.ByPriority, PriorityCount{
			Priority:   p,
			Count:      priorityCounts[p],
			Percentage: percentage(priorityCounts[p], stats.TotalTasks),
		})
	}

	daily, err := e.dailyActivity(ctx, userID, tasks, today)
	if err != nil {
		return stats, err
	}
	stats.DailyActivity = daily

	for i, t := range tasks {
		if i == dashboardTopN {
			break
		}
		stats.RecentTasks = append(stats.RecentTasks, t)
	}

	assigned, err := e.Repo.ListAssignedTasks(ctx, userID)
	if err != nil {
		return stats, err
	}
	for _, t := range assigned {
		if t.Status == "Completed" {
			continue
		}
		stats.AssignedToMe = append(stats.AssignedToMe, t)
		if len(stats.AssignedToMe) == dashboardTopN {
			break
		}
	}

	sortByDueDate(upcoming)
	for i, t := range upcoming {
		if i == dashboardTopN {
			break
		}
		stats.Upcoming = append(stats.Upcoming, t)
	}
	return stats, nil
}

// dailyActivity builds the window around today from task creations and
// assignments received by the user.
func (e Engine) dailyActivity(ctx context.Context, userID int64, tasks []domain.TaskSummary, today time.Time) ([]DailyActivity, error) {
	from := today.AddDate(0, 0, -dashboardWindowDays)
	to := today.AddDate(0, 0, dashboardWindowDays+1).Add(-time.Second)

	created := map[string]int{}
	for _, t := range tasks {
		ts, err := time.Parse(time.RFC3339, t.CreatedAt)
		if err != nil {
			continue
		}
		created[ts.UTC().Format("2006-01-02")]++
	}
	assignedDates, err := e.Repo.AssignmentDatesTo(ctx, userID,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	assigned := map[string]int{}
	for _, d := range assignedDates {
		ts, err := time.Parse(time.RFC3339, d)
		if err != nil {
			continue
		}
		assigned[ts.UTC().Format("2006-01-02")]++
	}

	var res []DailyActivity
	for day := from; !day.After(today.AddDate(0, 0, dashboardWindowDays)); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		res = append(res, DailyActivity{
			Date:     key,
			Created:  created[key],
			Assigned: assigned[key],
		})
	}
	return res, nil
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

func sortByDueDate(tasks []domain.TaskSummary) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].DueDate < tasks[j].DueDate })
}
