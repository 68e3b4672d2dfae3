package metrics

import (
	"testing"
	"time"

	"buildline/internal/domain"
)

func TestRollupLeaf(t *testing.T) {
	task := domain.Task{ID: "a", Status: domain.StatusInProgress, Progress: 40}
	if got := Rollup(task, domain.Index([]domain.Task{task})); got != 40 {
		t.Fatalf("Rollup = %d, want 40", got)
	}
}

func TestRollupMeanOfSubtasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "p", Status: domain.StatusInProgress, SubtaskIDs: []string{"a", "b", "c"}},
		{ID: "a", Status: domain.StatusCompleted, Progress: 100},
		{ID: "b", Status: domain.StatusInProgress, Progress: 50},
		{ID: "c", Status: domain.StatusTodo, Progress: 0},
	}
	byID := domain.Index(tasks)
	if got := Rollup(byID["p"], byID); got != 50 {
		t.Fatalf("Rollup = %d, want 50", got)
	}
}

func TestRollupRecursesAndRounds(t *testing.T) {
	tasks := []domain.Task{
		{ID: "root", Status: domain.StatusInProgress, SubtaskIDs: []string{"mid", "leaf"}},
		{ID: "mid", Status: domain.StatusInProgress, SubtaskIDs: []string{"x", "y"}},
		{ID: "x", Status: domain.StatusInProgress, Progress: 100},
		{ID: "y", Status: domain.StatusInProgress, Progress: 1},
		{ID: "leaf", Status: domain.StatusInProgress, Progress: 0},
	}
	byID := domain.Index(tasks)
	// mid = round(101/2) = 51, root = round(51/2) = 26
	if got := Rollup(byID["mid"], byID); got != 51 {
		t.Fatalf("mid = %d, want 51", got)
	}
	if got := Rollup(byID["root"], byID); got != 26 {
		t.Fatalf("root = %d, want 26", got)
	}
}

func TestRollupCompletedOverridesChildren(t *testing.T) {
	tasks := []domain.Task{
		{ID: "p", Status: domain.StatusCompleted, Progress: 100, SubtaskIDs: []string{"a"}},
		{ID: "a", Status: domain.StatusTodo, Progress: 0},
	}
	byID := domain.Index(tasks)
	if got := Rollup(byID["p"], byID); got != 100 {
		t.Fatalf("Rollup = %d, want 100", got)
	}
}

func TestDateVarianceDaysToDue(t *testing.T) {
	ref := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	cases := []struct {
		due  string
		want int
	}{
		{"2024-03-16", 1},
		{"2024-03-15", 0},
		{"2024-03-10", -5},
		{"", 0},
	}
	for _, c := range cases {
		task := domain.Task{ID: "a", Status: domain.StatusInProgress, DueDate: c.due}
		if got := DateVariance(task, ref); got != c.want {
			t.Errorf("DateVariance(due=%q) = %d, want %d", c.due, got, c.want)
		}
	}
}

func TestSchedule(t *testing.T) {
	ref := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	got := Schedule([]domain.Task{
		{ID: "open", Status: domain.StatusTodo, DueDate: "2024-03-20"},
		{ID: "done", Status: domain.StatusCompleted, DueDate: "2024-03-20"},
		{ID: "undated", Status: domain.StatusTodo},
	}, ref)
	if len(got) != 1 || got[0].TaskID != "open" || got[0].Days != 5 {
		t.Fatalf("got %+v, want one open entry of 5 days", got)
	}
}

func TestSlippage(t *testing.T) {
	got := Slippage([]domain.Task{
		{ID: "late", DueDate: "2024-03-10", ActualEndDate: "2024-03-14"},
		{ID: "early", DueDate: "2024-03-10", ActualEndDate: "2024-03-08"},
		{ID: "open", DueDate: "2024-03-10"},
		{ID: "undated", ActualEndDate: "2024-03-10"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Days != 4 || got[1].Days != -2 {
		t.Fatalf("days = %d, %d, want 4, -2", got[0].Days, got[1].Days)
	}
}

func TestEffortVariance(t *testing.T) {
	got := EffortVariance([]domain.Task{
		{ID: "over", EstimatedHours: 10, ActualHours: 14},
		{ID: "unestimated", ActualHours: 5},
	})
	if len(got) != 1 || got[0].Hours != 4 {
		t.Fatalf("got %v", got)
	}
}

func TestCostVariancePercent(t *testing.T) {
	cases := []struct {
		budget domain.Budget
		want   int
	}{
		{domain.Budget{Estimated: 1000, Actual: 1200}, 20},
		{domain.Budget{Estimated: 1000, Actual: 850}, -15},
		{domain.Budget{Estimated: 3000, Actual: 3100}, 3},
		{domain.Budget{Actual: 500}, 0},
	}
	for _, c := range cases {
		if got := CostVariance(domain.Task{Budget: c.budget}); got != c.want {
			t.Errorf("CostVariance(%+v) = %d, want %d", c.budget, got, c.want)
		}
	}
}

func TestBudgetVariance(t *testing.T) {
	got := BudgetVariance([]domain.Task{
		{ID: "over", Budget: domain.Budget{Estimated: 1000, Actual: 1200}},
		{ID: "unestimated", Budget: domain.Budget{Actual: 900}},
	})
	if len(got) != 1 || got[0].TaskID != "over" || got[0].Percent != 20 {
		t.Fatalf("got %+v, want one entry at 20 percent", got)
	}
}

func TestCost(t *testing.T) {
	got := Cost([]domain.Task{
		{Budget: domain.Budget{Estimated: 1000, Actual: 1200, Currency: "EUR"}},
		{Budget: domain.Budget{Estimated: 500, Actual: 300}},
	})
	if got.Estimated != 1500 || got.Actual != 1500 || got.Delta != 0 {
		t.Fatalf("got %+v", got)
	}
	if got.Currency != "EUR" {
		t.Fatalf("currency = %q", got.Currency)
	}
}

func TestAggregate(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	st := Aggregate([]domain.Task{
		{ID: "a", Status: domain.StatusCompleted, DueDate: "2024-03-01"},
		{ID: "b", Status: domain.StatusInProgress, DueDate: "2024-03-10"},
		{ID: "c", Status: domain.StatusBlocked},
		{ID: "d", Status: domain.StatusTodo, EffectivelyBlocked: true},
	}, now)
	if st.Total != 4 || st.Completed != 1 || st.InProgress != 1 {
		t.Fatalf("got %+v", st)
	}
	if st.Blocked != 2 {
		t.Fatalf("Blocked = %d, want 2 (status plus derived)", st.Blocked)
	}
	if st.OverdueCount != 1 {
		t.Fatalf("OverdueCount = %d, want 1 (completed never overdue)", st.OverdueCount)
	}
	if st.CompletionRate != 25 {
		t.Fatalf("CompletionRate = %d, want 25", st.CompletionRate)
	}
}

func TestAggregateRoundsCompletionRate(t *testing.T) {
	st := Aggregate([]domain.Task{
		{ID: "a", Status: domain.StatusCompleted},
		{ID: "b", Status: domain.StatusTodo},
		{ID: "c", Status: domain.StatusTodo},
	}, time.Now())
	if st.CompletionRate != 33 {
		t.Fatalf("CompletionRate = %d, want 33", st.CompletionRate)
	}
}

func TestAggregateEmpty(t *testing.T) {
	st := Aggregate(nil, time.Now())
	if st.Total != 0 || st.CompletionRate != 0 {
		t.Fatalf("got %+v, want zero values", st)
	}
}
