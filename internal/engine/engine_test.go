package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/migrate"
	"buildline/internal/query"
	"buildline/internal/store"
	"buildline/internal/view"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("riverside")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "riverside", "Riverside Tower", "RIV", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// reopen builds a second engine over the same database, forcing the next
// read to reload state from SQLite instead of the cached store.
func reopen(t *testing.T, env testEnv) *engine.Engine {
	t.Helper()
	fresh := engine.New(env.Engine.DB, env.Engine.Config)
	fresh.Now = env.Engine.Now
	return fresh
}

func create(t *testing.T, env testEnv, in store.CreateInput, parentID string) string {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "riverside",
		ParentID:  parentID,
		ActorID:   "tester",
		Input:     in,
	})
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return task.ID
}

func TestCreateTaskWriteThrough(t *testing.T) {
	env := newTestEnv(t)
	first := create(t, env, store.CreateInput{Title: "Pour foundation"}, "")
	second := create(t, env, store.CreateInput{Title: "Frame walls", Dependencies: []string{first}}, "")

	fresh := reopen(t, env)
	task, err := fresh.GetTask(env.Ctx, "riverside", second)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if task.Code != "RIV-TSK-002" {
		t.Fatalf("Code = %q, want RIV-TSK-002", task.Code)
	}
	if len(task.Dependencies) != 1 || task.Dependencies[0] != first {
		t.Fatalf("Dependencies = %v, want [%s]", task.Dependencies, first)
	}
	if !task.EffectivelyBlocked {
		t.Fatal("task with an unresolved dependency should be effectively blocked")
	}
}

func TestSubtaskOrderSurvivesReload(t *testing.T) {
	env := newTestEnv(t)
	parent := create(t, env, store.CreateInput{Title: "Foundation"}, "")
	a := create(t, env, store.CreateInput{Title: "Excavate"}, parent)
	b := create(t, env, store.CreateInput{Title: "Rebar"}, parent)

	fresh := reopen(t, env)
	got, err := fresh.GetTask(env.Ctx, "riverside", parent)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if len(got.SubtaskIDs) != 2 || got.SubtaskIDs[0] != a || got.SubtaskIDs[1] != b {
		t.Fatalf("SubtaskIDs = %v, want [%s %s]", got.SubtaskIDs, a, b)
	}
}

func TestSetStatusPersistsAndLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	id := create(t, env, store.CreateInput{Title: "Inspect wiring"}, "")

	task, err := env.Engine.SetStatus(env.Ctx, "riverside", id, "tester", "in-progress")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if task.ActualStartDate != "2024-03-15" {
		t.Fatalf("ActualStartDate = %q, want 2024-03-15", task.ActualStartDate)
	}

	evts, err := env.Engine.LatestEvents(env.Ctx, "riverside", 5)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) == 0 || evts[0].Type != "task.status" {
		t.Fatalf("latest event = %+v, want task.status first", evts)
	}
	if !strings.Contains(evts[0].Payload, "in-progress") {
		t.Fatalf("payload %q should carry the new status", evts[0].Payload)
	}

	fresh := reopen(t, env)
	got, err := fresh.GetTask(env.Ctx, "riverside", id)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Status != "in-progress" {
		t.Fatalf("Status after reload = %q, want in-progress", got.Status)
	}
}

func TestDeleteTaskCascadesThroughPersistence(t *testing.T) {
	env := newTestEnv(t)
	parent := create(t, env, store.CreateInput{Title: "Framing"}, "")
	child := create(t, env, store.CreateInput{Title: "Studs"}, parent)
	keep := create(t, env, store.CreateInput{Title: "Roofing"}, "")

	removed, err := env.Engine.DeleteTask(env.Ctx, "riverside", parent, "tester")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %d tasks, want 2", len(removed))
	}

	fresh := reopen(t, env)
	if _, err := fresh.GetTask(env.Ctx, "riverside", child); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get deleted subtask: err = %v, want ErrNotFound", err)
	}
	if _, err := fresh.GetTask(env.Ctx, "riverside", keep); err != nil {
		t.Fatalf("unrelated task should survive: %v", err)
	}
}

func TestWindowAdvisoryEventEmitted(t *testing.T) {
	env := newTestEnv(t)
	parent := create(t, env, store.CreateInput{Title: "Phase one", StartDate: "2024-03-01", DueDate: "2024-03-20"}, "")
	create(t, env, store.CreateInput{Title: "Late finish", DueDate: "2024-04-05"}, parent)

	evts, err := env.Engine.LatestEvents(env.Ctx, "riverside", 10)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	var found bool
	for _, evt := range evts {
		if evt.Type == "task.dates.out_of_window" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an out_of_window advisory event")
	}
}

func TestListTasksViewAndStats(t *testing.T) {
	env := newTestEnv(t)
	done := create(t, env, store.CreateInput{Title: "Permits"}, "")
	create(t, env, store.CreateInput{Title: "Excavation"}, "")
	create(t, env, store.CreateInput{Title: "Inspection", DueDate: "2024-03-10"}, "")
	if _, err := env.Engine.SetStatus(env.Ctx, "riverside", done, "tester", "completed"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	data, err := env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if data.View.Kind != view.List || data.View.List == nil {
		t.Fatalf("default view = %q, want list payload", data.View.Kind)
	}
	// completed tasks are hidden unless asked for
	if data.Total != 2 {
		t.Fatalf("Total = %d, want 2", data.Total)
	}
	if data.Stats.Total != 3 || data.Stats.Completed != 1 {
		t.Fatalf("Stats = %+v, want total 3 completed 1", data.Stats)
	}
	if data.Stats.OverdueCount != 1 {
		t.Fatalf("OverdueCount = %d, want 1 (due 2024-03-10, today 2024-03-15)", data.Stats.OverdueCount)
	}

	all, err := env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Query: query.Options{ShowCompleted: true}})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.Total != 3 {
		t.Fatalf("Total with completed = %d, want 3", all.Total)
	}
}

func TestListTasksGanttWindow(t *testing.T) {
	env := newTestEnv(t)
	create(t, env, store.CreateInput{Title: "Framing", StartDate: "2024-03-12", DueDate: "2024-03-20"}, "")

	// default window opens a week before the engine clock (2024-03-15)
	data, err := env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Kind: view.Gantt})
	if err != nil {
		t.Fatalf("gantt: %v", err)
	}
	if data.View.Gantt.Start != "2024-03-08" {
		t.Fatalf("default window start = %s, want 2024-03-08", data.View.Gantt.Start)
	}
	if data.View.Gantt.Bars[0].Offset != 4 {
		t.Fatalf("offset = %d, want 4", data.View.Gantt.Bars[0].Offset)
	}

	data, err = env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Kind: view.Gantt, WindowStart: "2024-03-10"})
	if err != nil {
		t.Fatalf("gantt with window: %v", err)
	}
	if data.View.Gantt.Start != "2024-03-10" || data.View.Gantt.Bars[0].Offset != 2 {
		t.Fatalf("window = %s offset = %d, want 2024-03-10 and 2",
			data.View.Gantt.Start, data.View.Gantt.Bars[0].Offset)
	}

	if _, err := env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Kind: view.Gantt, WindowStart: "March 10"}); err == nil {
		t.Fatal("expected an error for a malformed window start")
	}
}

func TestListTasksCollapsedParents(t *testing.T) {
	env := newTestEnv(t)
	parent := create(t, env, store.CreateInput{Title: "Foundation"}, "")
	create(t, env, store.CreateInput{Title: "Excavate"}, parent)

	data, err := env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Expanded: []string{"nothing"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	rows := data.View.List.Groups[0].Rows
	if len(rows) != 1 || rows[0].Task.ID != parent || !rows[0].HasSubs {
		t.Fatalf("rows = %+v, want just the collapsed parent", rows)
	}

	data, err = env.Engine.ListTasks(env.Ctx, "riverside", engine.ViewOptions{Expanded: []string{parent}})
	if err != nil {
		t.Fatalf("list expanded: %v", err)
	}
	if got := len(data.View.List.Groups[0].Rows); got != 2 {
		t.Fatalf("expanded rows = %d, want 2", got)
	}
}

func TestGetStatsVariances(t *testing.T) {
	env := newTestEnv(t)
	id := create(t, env, store.CreateInput{
		Title: "Drywall", DueDate: "2024-03-10", EstimatedHours: 10,
		Budget: domain.Budget{Estimated: 1000, Actual: 1200, Currency: "EUR"},
	}, "")
	actualHours := 14.0
	actualEnd := "2024-03-14"
	if _, err := env.Engine.UpdateTask(env.Ctx, "riverside", id, "tester", store.Patch{
		ActualHours: &actualHours,
		ActualEnd:   &actualEnd,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	m, err := env.Engine.GetStats(env.Ctx, "riverside")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// due 2024-03-10 against the fixed clock of 2024-03-15
	if len(m.Schedule) != 1 || m.Schedule[0].Days != -5 {
		t.Fatalf("Schedule = %+v, want one entry of -5 days", m.Schedule)
	}
	if len(m.Slippage) != 1 || m.Slippage[0].Days != 4 {
		t.Fatalf("Slippage = %+v, want one entry of 4 days", m.Slippage)
	}
	if len(m.EffortVariance) != 1 || m.EffortVariance[0].Hours != 4 {
		t.Fatalf("EffortVariance = %+v, want one entry of 4 hours", m.EffortVariance)
	}
	if len(m.BudgetVariance) != 1 || m.BudgetVariance[0].Percent != 20 {
		t.Fatalf("BudgetVariance = %+v, want one entry of 20 percent", m.BudgetVariance)
	}
}

func TestCyclesCleanGraph(t *testing.T) {
	env := newTestEnv(t)
	a := create(t, env, store.CreateInput{Title: "First"}, "")
	create(t, env, store.CreateInput{Title: "Second", Dependencies: []string{a}}, "")

	cycles, err := env.Engine.Cycles(env.Ctx, "riverside")
	if err != nil {
		t.Fatalf("cycles: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("cycles = %v, want none", cycles)
	}
}

func TestInitProjectLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	evts, err := env.Engine.LatestEvents(env.Ctx, "riverside", 5)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != "project.init" {
		t.Fatalf("events = %+v, want a single project.init", evts)
	}
	if evts[0].ActorID != "tester" {
		t.Fatalf("ActorID = %q, want tester", evts[0].ActorID)
	}
}
