// Package engine is the mutation and query façade over the per-project task
// stores. Mutations go through the in-memory store first, then write through
// to SQLite in one transaction together with an event log entry. Reads never
// touch the database; they run over an annotated snapshot.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"buildline/internal/config"
	"buildline/internal/domain"
	"buildline/internal/events"
	"buildline/internal/graph"
	"buildline/internal/metrics"
	"buildline/internal/query"
	"buildline/internal/repo"
	"buildline/internal/store"
	"buildline/internal/view"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	mu     sync.Mutex
	stores map[string]*store.Store
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		stores: make(map[string]*store.Store),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitProject creates a project row, seeds its config and registers an empty
// store. Migrations must already have run.
func (e *Engine) InitProject(ctx context.Context, projectID, name, codePrefix, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:         projectID,
		Name:       name,
		CodePrefix: codePrefix,
		Currency:   e.currency(),
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,code_prefix,currency,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.CodePrefix, p.Currency, p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.mu.Lock()
	e.stores[p.ID] = e.newStore(p.ID, p.CodePrefix)
	e.mu.Unlock()
	return p, nil
}

func (e *Engine) currency() string {
	if e.Config != nil && e.Config.Project.Currency != "" {
		return e.Config.Project.Currency
	}
	return "EUR"
}

func (e *Engine) newStore(projectID, codePrefix string) *store.Store {
	s := store.New(projectID, codePrefix)
	s.Now = e.now
	return s
}

// storeFor returns the project's store, loading it from the database on
// first use.
func (e *Engine) storeFor(ctx context.Context, projectID string) (*store.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stores[projectID]; ok {
		return s, nil
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	tasks, err := e.Repo.LoadTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load tasks for %s: %w", projectID, err)
	}
	s := e.newStore(p.ID, p.CodePrefix)
	if err := s.Load(tasks); err != nil {
		return nil, fmt.Errorf("restore %s: %w", projectID, err)
	}
	e.stores[projectID] = s
	return s, nil
}

// evict drops a cached store so the next access reloads from the database.
// Called when a write-through fails and memory may be ahead of disk.
func (e *Engine) evict(projectID string) {
	e.mu.Lock()
	delete(e.stores, projectID)
	e.mu.Unlock()
}

type TaskCreateOptions struct {
	ProjectID string
	ParentID  string
	ActorID   string
	Input     store.CreateInput
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	s, err := e.storeFor(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if opts.ParentID == "" {
		t, err = s.Create(opts.Input)
	} else {
		t, err = s.AddSubtask(opts.ParentID, opts.Input)
	}
	if err != nil {
		return domain.Task{}, err
	}
	evts := []pendingEvent{{"task.created", t.ID, events.EventPayload{"code": t.Code, "title": t.Title}}}
	evts = append(evts, e.windowAdvisory(s, t)...)
	if err := e.persist(ctx, s, opts.ActorID, nil, evts); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e *Engine) UpdateTask(ctx context.Context, projectID, taskID, actorID string, p store.Patch) (domain.Task, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := s.Update(taskID, p)
	if err != nil {
		return domain.Task{}, err
	}
	evts := []pendingEvent{{"task.updated", t.ID, events.EventPayload{"code": t.Code}}}
	evts = append(evts, e.windowAdvisory(s, t)...)
	if err := e.persist(ctx, s, actorID, nil, evts); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e *Engine) SetStatus(ctx context.Context, projectID, taskID, actorID string, st domain.Status) (domain.Task, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := s.SetStatus(taskID, st)
	if err != nil {
		return domain.Task{}, err
	}
	evts := []pendingEvent{{"task.status", t.ID, events.EventPayload{"code": t.Code, "status": string(t.Status)}}}
	if err := e.persist(ctx, s, actorID, nil, evts); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e *Engine) ReparentTask(ctx context.Context, projectID, taskID, newParentID, actorID string) (domain.Task, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := s.Reparent(taskID, newParentID)
	if err != nil {
		return domain.Task{}, err
	}
	evts := []pendingEvent{{"task.reparented", t.ID, events.EventPayload{"code": t.Code, "parent_id": newParentID}}}
	evts = append(evts, e.windowAdvisory(s, t)...)
	if err := e.persist(ctx, s, actorID, nil, evts); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e *Engine) DeleteTask(ctx context.Context, projectID, taskID, actorID string) ([]string, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	removed, err := s.Delete(taskID)
	if err != nil {
		return nil, err
	}
	evts := []pendingEvent{{"task.deleted", taskID, events.EventPayload{"removed": len(removed)}}}
	if err := e.persist(ctx, s, actorID, removed, evts); err != nil {
		return nil, err
	}
	return removed, nil
}

type pendingEvent struct {
	Type    string
	TaskID  string
	Payload events.EventPayload
}

// persist writes the store's current state through to SQLite in one
// transaction: upserts for every live task, deletes for removed rows, fresh
// positions and the mutation's events. On failure the cached store is
// dropped so memory re-syncs with disk on next access.
func (e *Engine) persist(ctx context.Context, s *store.Store, actorID string, removed []string, evts []pendingEvent) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(removed) > 0 {
		if err := e.Repo.DeleteTasks(ctx, tx, removed); err != nil {
			e.evict(s.ProjectID())
			return fmt.Errorf("delete tasks: %w", err)
		}
	}
	for i, t := range s.List() {
		if err := e.Repo.UpsertTask(ctx, tx, t, i); err != nil {
			e.evict(s.ProjectID())
			return fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	for _, evt := range evts {
		if err := e.Events.Append(ctx, tx, evt.Type, s.ProjectID(), "task", evt.TaskID, actorID, evt.Payload); err != nil {
			e.evict(s.ProjectID())
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		e.evict(s.ProjectID())
		return err
	}
	return nil
}

// windowAdvisory emits an informational event when a task's dates fall
// outside its parent's window. The mutation itself is never rejected for
// this.
func (e *Engine) windowAdvisory(s *store.Store, t domain.Task) []pendingEvent {
	if t.ParentID == "" {
		return nil
	}
	parent, err := s.Get(t.ParentID)
	if err != nil {
		return nil
	}
	if !store.OutOfParentWindow(parent, t) {
		return nil
	}
	return []pendingEvent{{"task.dates.out_of_window", t.ID, events.EventPayload{
		"code":         t.Code,
		"parent_code":  parent.Code,
		"parent_start": parent.StartDate,
		"parent_due":   parent.DueDate,
		"start":        t.StartDate,
		"due":          t.DueDate,
	}}}
}

// GetTask returns one task with derived blocking state filled in.
func (e *Engine) GetTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.Get(taskID); err != nil {
		return domain.Task{}, err
	}
	for _, t := range e.snapshot(s) {
		if t.ID == taskID {
			return t, nil
		}
	}
	return domain.Task{}, store.ErrNotFound
}

// snapshot returns the annotated task list the read paths share.
func (e *Engine) snapshot(s *store.Store) []domain.Task {
	return graph.Annotate(s.List())
}

type ViewOptions struct {
	Kind        view.Kind
	Query       query.Options
	WindowStart string   // gantt window start date; empty means a week before now
	Expanded    []string // list view: parent ids whose subtasks to emit; empty means all
}

type ViewData struct {
	View  view.Data    `json:"view"`
	Stats domain.Stats `json:"stats"`
	Total int          `json:"total"`
}

// ListTasks runs the query pipeline and projects the result into the
// requested view, list by default.
func (e *Engine) ListTasks(ctx context.Context, projectID string, opts ViewOptions) (ViewData, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return ViewData{}, err
	}
	if opts.Kind == "" {
		opts.Kind = view.List
	}
	vopts := view.Options{Now: e.now()}
	if opts.WindowStart != "" {
		d, err := domain.ParseDate(opts.WindowStart)
		if err != nil {
			return ViewData{}, fmt.Errorf("window_start: %w", err)
		}
		vopts.WindowStart = d
	}
	if len(opts.Expanded) > 0 {
		vopts.Expanded = make(map[string]bool, len(opts.Expanded))
		for _, id := range opts.Expanded {
			vopts.Expanded[id] = true
		}
	}
	snap := e.snapshot(s)
	res := query.Run(snap, opts.Query)
	return ViewData{
		View:  view.Build(opts.Kind, res, vopts),
		Stats: metrics.Aggregate(snap, e.now()),
		Total: res.FlatCount,
	}, nil
}

// ProjectMetrics bundles the dashboard numbers. Schedule counts days until
// each open due date; Slippage compares finish dates against due dates after
// the fact.
type ProjectMetrics struct {
	Stats          domain.Stats        `json:"stats"`
	Schedule       []metrics.Variance  `json:"schedule,omitempty"`
	Slippage       []metrics.Variance  `json:"slippage,omitempty"`
	EffortVariance []metrics.Variance  `json:"effort_variance,omitempty"`
	BudgetVariance []metrics.Variance  `json:"budget_variance,omitempty"`
	Cost           metrics.CostSummary `json:"cost"`
}

func (e *Engine) GetStats(ctx context.Context, projectID string) (ProjectMetrics, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return ProjectMetrics{}, err
	}
	snap := e.snapshot(s)
	return ProjectMetrics{
		Stats:          metrics.Aggregate(snap, e.now()),
		Schedule:       metrics.Schedule(snap, e.now()),
		Slippage:       metrics.Slippage(snap),
		EffortVariance: metrics.EffortVariance(snap),
		BudgetVariance: metrics.BudgetVariance(snap),
		Cost:           metrics.Cost(snap),
	}, nil
}

// Cycles reports dependency cycles in the stored graph. The store rejects
// cycle-forming writes, so a non-empty answer means the database was edited
// out of band.
func (e *Engine) Cycles(ctx context.Context, projectID string) ([][]string, error) {
	s, err := e.storeFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return graph.Validate(s.List()), nil
}

// LatestEvents tails the project event log.
func (e *Engine) LatestEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.Repo.LatestEvents(ctx, limit, projectID, "", "", "")
}
