// Package query filters, sorts and groups an immutable task snapshot. It is
// a pure function of its inputs and safe to run concurrently against the
// same snapshot.
package query

import (
	"sort"
	"strings"

	"buildline/internal/domain"
)

const All = "all"

type GroupKey string

const (
	GroupNone     GroupKey = "none"
	GroupStatus   GroupKey = "status"
	GroupPriority GroupKey = "priority"
	GroupAssignee GroupKey = "assignee"
)

type SortKey string

const (
	SortDueDate   SortKey = "due_date"
	SortPriority  SortKey = "priority"
	SortStatus    SortKey = "status"
	SortTitle     SortKey = "title"
	SortProgress  SortKey = "progress"
	SortCreatedAt SortKey = "created_at"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// NoneBucket labels the single group produced by GroupBy none.
const NoneBucket = "All Tasks"

type Options struct {
	Search        string
	Status        string
	Priority      string
	AssigneeID    string
	ShowCompleted bool
	GroupBy       GroupKey
	Sort          SortKey
	Dir           Direction
}

type Group struct {
	Key   string        `json:"key"`
	Tasks []domain.Task `json:"tasks"`
}

// Result carries the grouped top-level tasks plus the full visible set.
// Groups hold only visible root-level tasks; Visible additionally includes
// the subtasks of visible parents, which the projectors need.
type Result struct {
	Groups    []Group       `json:"groups"`
	Visible   []domain.Task `json:"visible"`
	FlatCount int           `json:"flat_count"`
}

// Run applies the filter predicates (AND semantics), sorts with a stable
// id tiebreak, and buckets by the group key in first-seen order.
//
// Visibility is strict down the tree: a subtask whose parent is filtered
// out is not promoted to the top level; it is reachable only while the
// parent is visible.
func Run(tasks []domain.Task, o Options) Result {
	if o.GroupBy == "" {
		o.GroupBy = GroupNone
	}
	if o.Sort == "" {
		o.Sort = SortDueDate
	}
	if o.Dir == "" {
		o.Dir = Asc
	}

	matches := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		matches[t.ID] = passes(t, o)
	}
	// A task is visible only if it and every ancestor pass the filter.
	byID := domain.Index(tasks)
	visibleByID := make(map[string]bool, len(tasks))
	var visible func(id string) bool
	visible = func(id string) bool {
		if v, ok := visibleByID[id]; ok {
			return v
		}
		t := byID[id]
		v := matches[id]
		if v && t.ParentID != "" {
			if _, ok := byID[t.ParentID]; ok {
				v = visible(t.ParentID)
			}
		}
		visibleByID[id] = v
		return v
	}

	var kept []domain.Task
	for _, t := range tasks {
		if visible(t.ID) {
			kept = append(kept, t)
		}
	}
	sortTasks(kept, o.Sort, o.Dir)

	var groups []Group
	at := map[string]int{}
	for _, t := range kept {
		if t.ParentID != "" {
			continue
		}
		key := bucketKey(t, o.GroupBy)
		i, ok := at[key]
		if !ok {
			i = len(groups)
			at[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return Result{Groups: groups, Visible: kept, FlatCount: len(kept)}
}

func passes(t domain.Task, o Options) bool {
	if !o.ShowCompleted && t.Status == domain.StatusCompleted {
		return false
	}
	if o.Status != "" && o.Status != All && string(t.Status) != o.Status {
		return false
	}
	if o.Priority != "" && o.Priority != All && string(t.Priority) != o.Priority {
		return false
	}
	if o.AssigneeID != "" && o.AssigneeID != All && t.Assignee.ID != o.AssigneeID {
		return false
	}
	if o.Search != "" {
		needle := strings.ToLower(o.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Code), needle) {
			return false
		}
	}
	return true
}

func bucketKey(t domain.Task, g GroupKey) string {
	switch g {
	case GroupStatus:
		return string(t.Status)
	case GroupPriority:
		return string(t.Priority)
	case GroupAssignee:
		if t.Assignee.Name == "" {
			return "Unassigned"
		}
		return t.Assignee.Name
	default:
		return NoneBucket
	}
}

// sortTasks sorts stably by the requested key; equal keys fall back to id so
// the ordering is reproducible across runs.
func sortTasks(tasks []domain.Task, key SortKey, dir Direction) {
	less := lessFor(key)
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if dir == Desc {
			a, b = b, a
		}
		switch c := less(a, b); c {
		case -1:
			return true
		case 1:
			return false
		}
		return a.ID < b.ID
	})
}

func lessFor(key SortKey) func(a, b domain.Task) int {
	switch key {
	case SortPriority:
		return func(a, b domain.Task) int {
			return cmpInt(domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority))
		}
	case SortStatus:
		return func(a, b domain.Task) int { return strings.Compare(string(a.Status), string(b.Status)) }
	case SortTitle:
		return func(a, b domain.Task) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	case SortProgress:
		return func(a, b domain.Task) int { return cmpInt(a.Progress, b.Progress) }
	case SortCreatedAt:
		return func(a, b domain.Task) int { return strings.Compare(a.CreatedAt, b.CreatedAt) }
	default: // SortDueDate; empty due dates sort last
		return func(a, b domain.Task) int {
			switch {
			case a.DueDate == "" && b.DueDate == "":
				return 0
			case a.DueDate == "":
				return 1
			case b.DueDate == "":
				return -1
			}
			return strings.Compare(a.DueDate, b.DueDate)
		}
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
