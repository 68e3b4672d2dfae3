// Package metrics derives progress, schedule and cost figures from task
// snapshots. All functions are pure; callers hand in the snapshot they got
// from the store.
package metrics

import (
	"math"
	"time"

	"buildline/internal/domain"
)

// Rollup computes the effective progress of a task. Leaves report their own
// Progress field; a parent reports the mean of its direct subtasks' rolled-up
// values, rounded half away from zero. A completed task is always 100.
func Rollup(t domain.Task, byID map[string]domain.Task) int {
	if t.Status == domain.StatusCompleted {
		return 100
	}
	if len(t.SubtaskIDs) == 0 {
		return t.Progress
	}
	sum, n := 0, 0
	for _, id := range t.SubtaskIDs {
		sub, ok := byID[id]
		if !ok {
			continue
		}
		sum += Rollup(sub, byID)
		n++
	}
	if n == 0 {
		return t.Progress
	}
	return int(math.Round(float64(sum) / float64(n)))
}

// DateVariance is the distance in whole days from ref to the task's due
// date. Negative means the due date has passed. Tasks without a parseable
// due date report zero.
func DateVariance(t domain.Task, ref time.Time) int {
	if t.DueDate == "" {
		return 0
	}
	due, err := domain.ParseDate(t.DueDate)
	if err != nil {
		return 0
	}
	return domain.DaysBetween(ref, due)
}

// CostVariance is how far the task's actual spend deviates from its
// estimate, as a rounded percent. Tasks without a positive estimate report
// zero.
func CostVariance(t domain.Task) int {
	if t.Budget.Estimated <= 0 {
		return 0
	}
	return int(math.Round((t.Budget.Actual - t.Budget.Estimated) / t.Budget.Estimated * 100))
}

// Variance is a schedule, effort or budget delta for one task.
type Variance struct {
	TaskID  string  `json:"task_id"`
	Code    string  `json:"code"`
	Title   string  `json:"title"`
	Days    int     `json:"days,omitempty"`
	Hours   float64 `json:"hours,omitempty"`
	Percent int     `json:"percent,omitempty"`
}

// Schedule reports the days remaining until the due date for every
// unresolved task that has one. Negative days mean the task is already late.
func Schedule(tasks []domain.Task, ref time.Time) []Variance {
	var out []Variance
	for _, t := range tasks {
		if t.DueDate == "" || domain.Resolved(t.Status) {
			continue
		}
		out = append(out, Variance{
			TaskID: t.ID, Code: t.Code, Title: t.Title,
			Days: DateVariance(t, ref),
		})
	}
	return out
}

// Slippage reports, for every task with both a due date and an actual end
// date, how many days late (positive) or early (negative) it finished.
func Slippage(tasks []domain.Task) []Variance {
	var out []Variance
	for _, t := range tasks {
		if t.DueDate == "" || t.ActualEndDate == "" {
			continue
		}
		due, err := domain.ParseDate(t.DueDate)
		if err != nil {
			continue
		}
		end, err := domain.ParseDate(t.ActualEndDate)
		if err != nil {
			continue
		}
		out = append(out, Variance{
			TaskID: t.ID, Code: t.Code, Title: t.Title,
			Days: domain.DaysBetween(due, end),
		})
	}
	return out
}

// EffortVariance reports actual minus estimated hours for tasks carrying an
// estimate.
func EffortVariance(tasks []domain.Task) []Variance {
	var out []Variance
	for _, t := range tasks {
		if t.EstimatedHours == 0 {
			continue
		}
		out = append(out, Variance{
			TaskID: t.ID, Code: t.Code, Title: t.Title,
			Hours: t.ActualHours - t.EstimatedHours,
		})
	}
	return out
}

// BudgetVariance reports the cost variance percent for every task with an
// estimated budget.
func BudgetVariance(tasks []domain.Task) []Variance {
	var out []Variance
	for _, t := range tasks {
		if t.Budget.Estimated <= 0 {
			continue
		}
		out = append(out, Variance{
			TaskID: t.ID, Code: t.Code, Title: t.Title,
			Percent: CostVariance(t),
		})
	}
	return out
}

// CostSummary sums estimated and actual budget over the snapshot.
type CostSummary struct {
	Estimated float64 `json:"estimated"`
	Actual    float64 `json:"actual"`
	Delta     float64 `json:"delta"`
	Currency  string  `json:"currency,omitempty"`
}

func Cost(tasks []domain.Task) CostSummary {
	var cs CostSummary
	for _, t := range tasks {
		cs.Estimated += t.Budget.Estimated
		cs.Actual += t.Budget.Actual
		if cs.Currency == "" {
			cs.Currency = t.Budget.Currency
		}
	}
	cs.Delta = cs.Actual - cs.Estimated
	return cs
}

// Aggregate produces the project-level dashboard counters. An empty snapshot
// yields zero values, never a division by zero.
func Aggregate(tasks []domain.Task, now time.Time) domain.Stats {
	var st domain.Stats
	st.Total = len(tasks)
	today := domain.Day(now)
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusCompleted:
			st.Completed++
		case domain.StatusInProgress:
			st.InProgress++
		case domain.StatusBlocked:
			st.Blocked++
		}
		if t.EffectivelyBlocked && t.Status != domain.StatusBlocked && !domain.Resolved(t.Status) {
			st.Blocked++
		}
		if t.DueDate != "" && !domain.Resolved(t.Status) {
			if due, err := domain.ParseDate(t.DueDate); err == nil && domain.Day(due).Before(today) {
				st.OverdueCount++
			}
		}
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) / float64(st.Total) * 100))
	}
	return st
}
