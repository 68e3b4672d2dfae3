// Package view turns a query result into one of the four read models the
// renderers consume: list, kanban, gantt or calendar. Projections never
// mutate the snapshot they are built from.
package view

import (
	"time"

	"buildline/internal/domain"
	"buildline/internal/metrics"
	"buildline/internal/query"
)

type Kind string

const (
	List     Kind = "list"
	Kanban   Kind = "kanban"
	Gantt    Kind = "gantt"
	Calendar Kind = "calendar"
)

func ValidKind(k Kind) bool {
	switch k {
	case List, Kanban, Gantt, Calendar:
		return true
	}
	return false
}

// Data is the union payload returned by Build. Exactly one of the view
// fields is set, matching Kind.
type Data struct {
	Kind     Kind          `json:"kind"`
	List     *ListView     `json:"list,omitempty"`
	Kanban   *KanbanView   `json:"kanban,omitempty"`
	Gantt    *GanttView    `json:"gantt,omitempty"`
	Calendar *CalendarView `json:"calendar,omitempty"`
}

// Options tune a projection. Now anchors the calendar month and the gantt
// overdue marker. Zero values give the defaults: the gantt window opens
// seven days before Now, and every parent in the list is expanded.
type Options struct {
	Now         time.Time
	WindowStart time.Time
	Expanded    map[string]bool
}

// Build projects the query result into the requested view.
func Build(kind Kind, res query.Result, opts Options) Data {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	switch kind {
	case Kanban:
		return Data{Kind: kind, Kanban: buildKanban(res)}
	case Gantt:
		return Data{Kind: kind, Gantt: buildGantt(res, opts)}
	case Calendar:
		return Data{Kind: kind, Calendar: buildCalendar(res, opts.Now)}
	default:
		return Data{Kind: List, List: buildList(res, opts.Expanded)}
	}
}

type ListView struct {
	Groups []ListGroup `json:"groups"`
	Total  int         `json:"total"`
}

type ListGroup struct {
	Key   string    `json:"key"`
	Rows  []ListRow `json:"rows"`
	Count int       `json:"count"`
}

// ListRow is one rendered line. Subtasks appear nested under their parent
// with Depth > 0, in the parent's SubtaskIDs order.
type ListRow struct {
	Task    domain.Task `json:"task"`
	Depth   int         `json:"depth"`
	Rollup  int         `json:"rollup"`
	HasSubs bool        `json:"has_subs"`
}

// buildList emits one row per task. A parent's subtasks appear only when the
// parent is in expanded; a nil set expands everything.
func buildList(res query.Result, expanded map[string]bool) *ListView {
	byID := domain.Index(res.Visible)
	lv := &ListView{Total: res.FlatCount}
	for _, g := range res.Groups {
		lg := ListGroup{Key: g.Key}
		for _, t := range g.Tasks {
			appendRows(&lg.Rows, t, 0, byID, expanded)
		}
		lg.Count = len(lg.Rows)
		lv.Groups = append(lv.Groups, lg)
	}
	return lv
}

func appendRows(rows *[]ListRow, t domain.Task, depth int, byID map[string]domain.Task, expanded map[string]bool) {
	*rows = append(*rows, ListRow{
		Task:    t,
		Depth:   depth,
		Rollup:  metrics.Rollup(t, byID),
		HasSubs: len(t.SubtaskIDs) > 0,
	})
	if expanded != nil && !expanded[t.ID] {
		return
	}
	for _, id := range t.SubtaskIDs {
		sub, ok := byID[id]
		if !ok {
			continue
		}
		appendRows(rows, sub, depth+1, byID, expanded)
	}
}

type KanbanView struct {
	Lanes []KanbanLane `json:"lanes"`
}

type KanbanLane struct {
	Status domain.Status `json:"status"`
	Cards  []domain.Task `json:"cards"`
	Count  int           `json:"count"`
}

// buildKanban buckets every visible task, subtasks included, into the five
// fixed lanes. Cancelled tasks have no lane and are omitted. Lanes keep
// their place even when empty so the board shape is stable.
func buildKanban(res query.Result) *KanbanView {
	kv := &KanbanView{}
	at := make(map[domain.Status]int, len(domain.KanbanLanes))
	for i, s := range domain.KanbanLanes {
		at[s] = i
		kv.Lanes = append(kv.Lanes, KanbanLane{Status: s})
	}
	for _, t := range res.Visible {
		i, ok := at[t.Status]
		if !ok {
			continue
		}
		kv.Lanes[i].Cards = append(kv.Lanes[i].Cards, t)
	}
	for i := range kv.Lanes {
		kv.Lanes[i].Count = len(kv.Lanes[i].Cards)
	}
	return kv
}

type GanttView struct {
	Start string     `json:"start"`
	End   string     `json:"end"`
	Days  int        `json:"days"`
	Bars  []GanttBar `json:"bars"`
}

// GanttBar is one timeline row. Offset counts days from the window start
// and is negative for tasks starting before it; Duration is inclusive of
// both endpoints and never below one, so a task starting and ending on the
// same day still draws a bar.
type GanttBar struct {
	Task      domain.Task `json:"task"`
	Offset    int         `json:"offset"`
	Duration  int         `json:"duration"`
	Milestone bool        `json:"milestone"`
	Overdue   bool        `json:"overdue"`
}

// buildGantt lays one bar per dated task against a window opening at
// opts.WindowStart, or seven days before Now when unset. Offsets count days
// from the window start and go negative for tasks that began before it.
func buildGantt(res query.Result, opts Options) *GanttView {
	ws := domain.Day(opts.WindowStart)
	if opts.WindowStart.IsZero() {
		ws = domain.Day(opts.Now).AddDate(0, 0, -7)
	}
	var max time.Time
	var dated []domain.Task
	for _, t := range res.Visible {
		_, end, ok := span(t)
		if !ok {
			continue
		}
		dated = append(dated, t)
		if max.IsZero() || end.After(max) {
			max = end
		}
	}
	gv := &GanttView{}
	if len(dated) == 0 {
		return gv
	}
	if max.Before(ws) {
		max = ws
	}
	gv.Start = ws.Format(domain.DateLayout)
	gv.End = max.Format(domain.DateLayout)
	gv.Days = domain.DaysBetween(ws, max) + 1
	today := domain.Day(opts.Now)
	for _, t := range dated {
		start, end, _ := span(t)
		dur := domain.DaysBetween(start, end) + 1
		if dur < 1 {
			dur = 1
		}
		gv.Bars = append(gv.Bars, GanttBar{
			Task:      t,
			Offset:    domain.DaysBetween(ws, start),
			Duration:  dur,
			Milestone: t.Type == domain.TypeMilestone,
			Overdue:   !domain.Resolved(t.Status) && end.Before(today),
		})
	}
	return gv
}

// span resolves a task's bar endpoints. A task with only one of the two
// dates collapses to a single-day bar on that date.
func span(t domain.Task) (start, end time.Time, ok bool) {
	if t.StartDate != "" {
		if d, err := domain.ParseDate(t.StartDate); err == nil {
			start = d
		}
	}
	if t.DueDate != "" {
		if d, err := domain.ParseDate(t.DueDate); err == nil {
			end = d
		}
	}
	switch {
	case start.IsZero() && end.IsZero():
		return start, end, false
	case start.IsZero():
		start = end
	case end.IsZero():
		end = start
	}
	if end.Before(start) {
		end = start
	}
	return start, end, true
}

type CalendarView struct {
	Year  int           `json:"year"`
	Month time.Month    `json:"month"`
	Start string        `json:"start"`
	End   string        `json:"end"`
	Days  []CalendarDay `json:"days"`
}

type CalendarDay struct {
	Date     string        `json:"date"`
	InMonth  bool          `json:"in_month"`
	Today    bool          `json:"today"`
	Starting []domain.Task `json:"starting,omitempty"`
	Due      []domain.Task `json:"due,omitempty"`
}

// buildCalendar lays out the month containing now as a full-week grid,
// padded back to the Sunday on or before the 1st and forward to the
// Saturday on or after the last day. March 2024 therefore spans
// 2024-02-25 through 2024-04-06.
func buildCalendar(res query.Result, now time.Time) *CalendarView {
	year, month := now.Year(), now.Month()
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	gridStart := first.AddDate(0, 0, -int(first.Weekday()))
	gridEnd := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	starting := map[string][]domain.Task{}
	due := map[string][]domain.Task{}
	for _, t := range res.Visible {
		if t.StartDate != "" {
			starting[t.StartDate] = append(starting[t.StartDate], t)
		}
		if t.DueDate != "" {
			due[t.DueDate] = append(due[t.DueDate], t)
		}
	}

	cv := &CalendarView{
		Year:  year,
		Month: month,
		Start: gridStart.Format(domain.DateLayout),
		End:   gridEnd.Format(domain.DateLayout),
	}
	today := domain.Day(now).Format(domain.DateLayout)
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		key := d.Format(domain.DateLayout)
		cv.Days = append(cv.Days, CalendarDay{
			Date:     key,
			InMonth:  d.Month() == month,
			Today:    key == today,
			Starting: starting[key],
			Due:      due[key],
		})
	}
	return cv
}
