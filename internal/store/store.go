// Package store holds the canonical task forest for one project. It is the
// sole mutator: every write goes through the store mutex, so invariants
// (unique ids, parent/child consistency, acyclic dependencies) hold after
// every operation. Reads hand out deep copies; query, metrics and view all
// work on those immutable snapshots.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"buildline/internal/domain"
	"buildline/internal/graph"
)

type Store struct {
	mu        sync.Mutex
	projectID string
	prefix    string
	seq       int
	tasks     map[string]*domain.Task
	roots     []string

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func New(projectID, codePrefix string) *Store {
	if codePrefix == "" {
		codePrefix = strings.ToUpper(projectID)
	}
	return &Store{
		projectID: projectID,
		prefix:    codePrefix,
		tasks:     map[string]*domain.Task{},
		Now:       time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateInput carries the caller-settable fields of a new task. Identity,
// status and progress are assigned by the store.
type CreateInput struct {
	Type           domain.TaskType
	Title          string
	Detail         string
	Priority       domain.Priority
	Assignee       domain.Person
	Reporter       domain.Person
	Watchers       []string
	StartDate      string
	DueDate        string
	EstimatedHours float64
	RemainingHours float64
	Dependencies   []string
	Tags           []string
	Labels         []string
	Checklist      []domain.ChecklistItem
	Budget         domain.Budget
	CustomFields   map[string]domain.CustomValue
}

// Patch overwrites exactly the fields that are set; nil pointers leave the
// task untouched. Nested objects (Budget, Assignee, ...) are replaced whole,
// never deep-merged, so partial updates stay unambiguous.
type Patch struct {
	Type           *domain.TaskType
	Title          *string
	Detail         *string
	Status         *domain.Status
	Priority       *domain.Priority
	Assignee       *domain.Person
	Reporter       *domain.Person
	Watchers       *[]string
	StartDate      *string
	DueDate        *string
	ActualStart    *string
	ActualEnd      *string
	EstimatedHours *float64
	ActualHours    *float64
	RemainingHours *float64
	Progress       *int
	Dependencies   *[]string
	BlockedBy      *[]string
	Budget         *domain.Budget
	Tags           *[]string
	Labels         *[]string
	Checklist      *[]domain.ChecklistItem
	CustomFields   *map[string]domain.CustomValue
	Attachments    *int
}

// Load seeds the store from the persistence collaborator's flattened list.
// Parent/child links are rebuilt from ParentID in input order, which makes
// invariant 2 hold by construction; duplicate ids, dangling parents and
// dependency cycles are rejected.
func (s *Store) Load(tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return invalid("id", "empty id in loaded task %q", t.Title)
		}
		if _, dup := fresh[t.ID]; dup {
			return invalid("id", "duplicate id %s", t.ID)
		}
		c := t.Clone()
		c.SubtaskIDs = nil
		fresh[t.ID] = &c
	}
	var roots []string
	for _, t := range tasks {
		if t.ParentID == "" {
			roots = append(roots, t.ID)
			continue
		}
		parent, ok := fresh[t.ParentID]
		if !ok {
			return fmt.Errorf("task %s parent %s: %w", t.ID, t.ParentID, ErrNotFound)
		}
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := fresh[dep]; !ok {
				return fmt.Errorf("task %s dependency %s: %w", t.ID, dep, ErrNotFound)
			}
		}
	}
	if cycles := graph.Validate(tasks); len(cycles) > 0 {
		return fmt.Errorf("dependency cycle %v: %w", cycles[0], ErrCycleDetected)
	}

	s.tasks = fresh
	s.roots = roots
	s.seq = 0
	for _, t := range tasks {
		if n := codeNumber(t.Code); n > s.seq {
			s.seq = n
		}
	}
	return nil
}

// Create adds a root-level task.
func (s *Store) Create(in CreateInput) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(in, "")
}

// AddSubtask adds a child under parentID, appended to the parent's subtask
// order.
func (s *Store) AddSubtask(parentID string, in CreateInput) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[parentID]; !ok {
		return domain.Task{}, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	return s.create(in, parentID)
}

func (s *Store) create(in CreateInput, parentID string) (domain.Task, error) {
	if err := s.validateInput(in); err != nil {
		return domain.Task{}, err
	}
	if in.Type == "" {
		in.Type = domain.TypeTask
		if parentID != "" {
			in.Type = domain.TypeSubtask
		}
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	now := s.now().UTC().Format(time.RFC3339)

	s.seq++
	t := domain.Task{
		ID:             s.idFor(s.seq),
		Code:           fmt.Sprintf("%s-TSK-%03d", s.prefix, s.seq),
		ProjectID:      s.projectID,
		Type:           in.Type,
		Title:          in.Title,
		Detail:         in.Detail,
		Status:         domain.StatusTodo,
		Priority:       in.Priority,
		Assignee:       in.Assignee,
		Reporter:       in.Reporter,
		Watchers:       in.Watchers,
		StartDate:      in.StartDate,
		DueDate:        in.DueDate,
		EstimatedHours: in.EstimatedHours,
		RemainingHours: in.RemainingHours,
		Dependencies:   in.Dependencies,
		Tags:           in.Tags,
		Labels:         in.Labels,
		Checklist:      in.Checklist,
		Budget:         in.Budget,
		CustomFields:   in.CustomFields,
		ParentID:       parentID,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	if err := s.checkDependencies(t.ID, in.Dependencies); err != nil {
		s.seq--
		return domain.Task{}, err
	}
	c := t.Clone()
	s.tasks[t.ID] = &c
	if parentID == "" {
		s.roots = append(s.roots, t.ID)
	} else {
		parent := s.tasks[parentID]
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		parent.LastUpdated = now
	}
	return t, nil
}

// Update applies a field-level patch and stamps LastUpdated.
func (s *Store) Update(id string, p Patch) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	next := cur.Clone()
	if err := applyPatch(&next, p); err != nil {
		return domain.Task{}, err
	}
	if p.Dependencies != nil {
		if err := s.checkDependencies(id, next.Dependencies); err != nil {
			return domain.Task{}, err
		}
	}
	if p.Status != nil {
		s.applyStatus(&next, *p.Status)
	}
	next.LastUpdated = s.now().UTC().Format(time.RFC3339)
	*cur = next
	return next.Clone(), nil
}

// SetStatus changes only the status, maintaining the completed => progress
// 100 invariant and stamping actual dates on first entry.
func (s *Store) SetStatus(id string, st domain.Status) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !domain.ValidStatus(st) {
		return domain.Task{}, invalid("status", "unknown status %q", st)
	}
	cur, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	next := cur.Clone()
	s.applyStatus(&next, st)
	next.LastUpdated = s.now().UTC().Format(time.RFC3339)
	*cur = next
	return next.Clone(), nil
}

func (s *Store) applyStatus(t *domain.Task, st domain.Status) {
	t.Status = st
	today := s.now().UTC().Format(domain.DateLayout)
	switch st {
	case domain.StatusCompleted:
		t.Progress = 100
		if t.ActualEndDate == "" {
			t.ActualEndDate = today
		}
	case domain.StatusInProgress:
		if t.ActualStartDate == "" {
			t.ActualStartDate = today
		}
	}
}

// Reparent moves a task (and implicitly its subtree) under newParentID, or
// to the root when newParentID is empty. Moving a task under itself or any
// of its descendants fails with ErrCycleDetected and leaves the tree
// unchanged.
func (s *Store) Reparent(id, newParentID string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if newParentID != "" {
		if _, ok := s.tasks[newParentID]; !ok {
			return domain.Task{}, fmt.Errorf("parent %s: %w", newParentID, ErrNotFound)
		}
		if newParentID == id || s.isDescendant(newParentID, id) {
			return domain.Task{}, fmt.Errorf("reparent %s under %s: %w", id, newParentID, ErrCycleDetected)
		}
	}
	if t.ParentID == newParentID {
		return t.Clone(), nil
	}
	now := s.now().UTC().Format(time.RFC3339)
	if t.ParentID == "" {
		s.roots = removeID(s.roots, id)
	} else if old, ok := s.tasks[t.ParentID]; ok {
		old.SubtaskIDs = removeID(old.SubtaskIDs, id)
		old.LastUpdated = now
	}
	if newParentID == "" {
		s.roots = append(s.roots, id)
	} else {
		np := s.tasks[newParentID]
		np.SubtaskIDs = append(np.SubtaskIDs, id)
		np.LastUpdated = now
	}
	t.ParentID = newParentID
	t.LastUpdated = now
	return t.Clone(), nil
}

// Delete removes a task and its whole subtree atomically, returning the
// removed ids (depth-first). It fails with ErrHasDependents while any task
// outside the subtree still lists a member as a dependency.
func (s *Store) Delete(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	doomed := map[string]bool{}
	order := s.collect(id, doomed)
	for _, other := range s.tasks {
		if doomed[other.ID] {
			continue
		}
		for _, dep := range other.Dependencies {
			if doomed[dep] {
				return nil, fmt.Errorf("task %s depends on %s: %w", other.ID, dep, ErrHasDependents)
			}
		}
	}
	if t.ParentID == "" {
		s.roots = removeID(s.roots, id)
	} else if parent, ok := s.tasks[t.ParentID]; ok {
		parent.SubtaskIDs = removeID(parent.SubtaskIDs, id)
		parent.LastUpdated = s.now().UTC().Format(time.RFC3339)
	}
	for _, did := range order {
		delete(s.tasks, did)
	}
	return order, nil
}

// Get returns a copy of one task.
func (s *Store) Get(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// List flattens the forest depth-first: roots in creation order, subtasks in
// their parent's order. The result is a deep copy safe for concurrent reads.
func (s *Store) List() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.tasks))
	var walk func(id string)
	walk = func(id string) {
		t, ok := s.tasks[id]
		if !ok {
			return
		}
		out = append(out, t.Clone())
		for _, cid := range t.SubtaskIDs {
			walk(cid)
		}
	}
	for _, rid := range s.roots {
		walk(rid)
	}
	return out
}

// Len reports the number of tasks including subtasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ProjectID returns the owning project id.
func (s *Store) ProjectID() string { return s.projectID }

// --- internals ---

func (s *Store) idFor(seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/task/%d", s.projectID, seq))).String()
}

func (s *Store) collect(id string, seen map[string]bool) []string {
	seen[id] = true
	order := []string{id}
	if t, ok := s.tasks[id]; ok {
		for _, cid := range t.SubtaskIDs {
			order = append(order, s.collect(cid, seen)...)
		}
	}
	return order
}

func (s *Store) isDescendant(id, ancestor string) bool {
	cur := id
	for cur != "" {
		t, ok := s.tasks[cur]
		if !ok {
			return false
		}
		if t.ParentID == ancestor {
			return true
		}
		cur = t.ParentID
	}
	return false
}

// checkDependencies verifies every dependency exists and that adding the
// edges keeps the graph acyclic, via the standard coloring DFS.
func (s *Store) checkDependencies(id string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	seen := map[string]bool{}
	for _, dep := range deps {
		if dep == id {
			return fmt.Errorf("task %s depends on itself: %w", id, ErrCycleDetected)
		}
		if seen[dep] {
			return invalid("dependencies", "duplicate dependency %s", dep)
		}
		seen[dep] = true
		if _, ok := s.tasks[dep]; !ok {
			return fmt.Errorf("dependency %s: %w", dep, ErrNotFound)
		}
	}
	snapshot := make([]domain.Task, 0, len(s.tasks)+1)
	for _, t := range s.tasks {
		if t.ID == id {
			continue
		}
		snapshot = append(snapshot, *t)
	}
	snapshot = append(snapshot, domain.Task{ID: id, Dependencies: deps})
	if cycles := graph.Validate(snapshot); len(cycles) > 0 {
		return fmt.Errorf("dependency cycle %v: %w", cycles[0], ErrCycleDetected)
	}
	return nil
}

func (s *Store) validateInput(in CreateInput) error {
	if in.Title == "" {
		return invalid("title", "title is required")
	}
	if in.Type != "" && !domain.ValidType(in.Type) {
		return invalid("type", "unknown type %q", in.Type)
	}
	if in.Priority != "" && !domain.ValidPriority(in.Priority) {
		return invalid("priority", "unknown priority %q", in.Priority)
	}
	if in.EstimatedHours < 0 {
		return invalid("estimated_hours", "must be non-negative")
	}
	if in.RemainingHours < 0 {
		return invalid("remaining_hours", "must be non-negative")
	}
	if in.Budget.Estimated < 0 || in.Budget.Actual < 0 {
		return invalid("budget", "amounts must be non-negative")
	}
	if in.StartDate != "" {
		if _, err := domain.ParseDate(in.StartDate); err != nil {
			return invalid("start_date", "%v", err)
		}
	}
	if in.DueDate != "" {
		if _, err := domain.ParseDate(in.DueDate); err != nil {
			return invalid("due_date", "%v", err)
		}
	}
	if in.StartDate != "" && in.DueDate != "" {
		if domain.DateOf(in.DueDate).Before(domain.DateOf(in.StartDate)) {
			return invalid("due_date", "due %s before start %s", in.DueDate, in.StartDate)
		}
	}
	for k, v := range in.CustomFields {
		if !domain.ValidCustomKind(v.Kind) {
			return invalid("custom_fields", "field %s has unknown kind %q", k, v.Kind)
		}
	}
	return nil
}

func applyPatch(t *domain.Task, p Patch) error {
	if p.Type != nil {
		if !domain.ValidType(*p.Type) {
			return invalid("type", "unknown type %q", *p.Type)
		}
		t.Type = *p.Type
	}
	if p.Title != nil {
		if *p.Title == "" {
			return invalid("title", "title is required")
		}
		t.Title = *p.Title
	}
	if p.Detail != nil {
		t.Detail = *p.Detail
	}
	if p.Status != nil && !domain.ValidStatus(*p.Status) {
		return invalid("status", "unknown status %q", *p.Status)
	}
	if p.Priority != nil {
		if !domain.ValidPriority(*p.Priority) {
			return invalid("priority", "unknown priority %q", *p.Priority)
		}
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Reporter != nil {
		t.Reporter = *p.Reporter
	}
	if p.Watchers != nil {
		t.Watchers = append([]string(nil), (*p.Watchers)...)
	}
	for _, d := range []struct {
		field string
		val   *string
		dst   *string
	}{
		{"start_date", p.StartDate, &t.StartDate},
		{"due_date", p.DueDate, &t.DueDate},
		{"actual_start_date", p.ActualStart, &t.ActualStartDate},
		{"actual_end_date", p.ActualEnd, &t.ActualEndDate},
	} {
		if d.val == nil {
			continue
		}
		if *d.val != "" {
			if _, err := domain.ParseDate(*d.val); err != nil {
				return invalid(d.field, "%v", err)
			}
		}
		*d.dst = *d.val
	}
	if t.StartDate != "" && t.DueDate != "" && domain.DateOf(t.DueDate).Before(domain.DateOf(t.StartDate)) {
		return invalid("due_date", "due %s before start %s", t.DueDate, t.StartDate)
	}
	for _, h := range []struct {
		field string
		val   *float64
		dst   *float64
	}{
		{"estimated_hours", p.EstimatedHours, &t.EstimatedHours},
		{"actual_hours", p.ActualHours, &t.ActualHours},
		{"remaining_hours", p.RemainingHours, &t.RemainingHours},
	} {
		if h.val == nil {
			continue
		}
		if *h.val < 0 {
			return invalid(h.field, "must be non-negative")
		}
		*h.dst = *h.val
	}
	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return invalid("progress", "must be within [0,100], got %d", *p.Progress)
		}
		t.Progress = *p.Progress
	}
	if p.Dependencies != nil {
		t.Dependencies = append([]string(nil), (*p.Dependencies)...)
	}
	if p.BlockedBy != nil {
		t.BlockedBy = append([]string(nil), (*p.BlockedBy)...)
	}
	if p.Budget != nil {
		if p.Budget.Estimated < 0 || p.Budget.Actual < 0 {
			return invalid("budget", "amounts must be non-negative")
		}
		t.Budget = *p.Budget
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Labels != nil {
		t.Labels = append([]string(nil), (*p.Labels)...)
	}
	if p.Checklist != nil {
		t.Checklist = append([]domain.ChecklistItem(nil), (*p.Checklist)...)
	}
	if p.CustomFields != nil {
		for k, v := range *p.CustomFields {
			if !domain.ValidCustomKind(v.Kind) {
				return invalid("custom_fields", "field %s has unknown kind %q", k, v.Kind)
			}
		}
		cf := make(map[string]domain.CustomValue, len(*p.CustomFields))
		for k, v := range *p.CustomFields {
			cf[k] = v
		}
		t.CustomFields = cf
	}
	if p.Attachments != nil {
		if *p.Attachments < 0 {
			return invalid("attachments", "must be non-negative")
		}
		t.Attachments = *p.Attachments
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func codeNumber(code string) int {
	i := strings.LastIndex(code, "-")
	if i < 0 {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(code[i+1:], "%d", &n); err != nil {
		return 0
	}
	return n
}

// OutOfParentWindow reports subtask schedule fields that fall outside the
// parent's [start, due] window. Advisory only: callers surface it (the
// engine logs an event), the store never rejects the write.
func OutOfParentWindow(parent, child domain.Task) bool {
	if parent.StartDate == "" || parent.DueDate == "" {
		return false
	}
	ps, pd := domain.DateOf(parent.StartDate), domain.DateOf(parent.DueDate)
	if child.StartDate != "" {
		if cs := domain.DateOf(child.StartDate); cs.Before(ps) || cs.After(pd) {
			return true
		}
	}
	if child.DueDate != "" {
		if cd := domain.DateOf(child.DueDate); cd.Before(ps) || cd.After(pd) {
			return true
		}
	}
	return false
}
