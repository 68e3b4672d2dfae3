package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"buildline/internal/engine"
	"buildline/internal/query"
	"buildline/internal/view"
)

func listOptions(e *engine.Engine) query.Options {
	if e.Config == nil {
		return query.Options{}
	}
	return e.Config.QueryDefaults()
}

func queryGroup(s string) query.GroupKey { return query.GroupKey(s) }
func querySort(s string) query.SortKey   { return query.SortKey(s) }
func queryDir(s string) query.Direction  { return query.Direction(s) }

func renderView(data engine.ViewData) {
	switch data.View.Kind {
	case view.Kanban:
		renderKanban(data.View.Kanban)
	case view.Gantt:
		renderGantt(data.View.Gantt)
	case view.Calendar:
		renderCalendar(data.View.Calendar)
	default:
		renderList(data.View.List)
	}
	fmt.Printf("%d task(s)\n", data.Total)
}

func renderList(lv *view.ListView) {
	if lv == nil {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Code", "Title", "Status", "Priority", "Assignee", "Due", "Progress"})
	for _, g := range lv.Groups {
		if g.Key != query.NoneBucket {
			tw.AppendRow(table.Row{"", strings.ToUpper(g.Key), "", "", "", "", ""})
		}
		for _, row := range g.Rows {
			indent := strings.Repeat("  ", row.Depth)
			blocked := ""
			if row.Task.EffectivelyBlocked {
				blocked = " !"
			}
			tw.AppendRow(table.Row{
				row.Task.Code,
				indent + row.Task.Title + blocked,
				row.Task.Status,
				row.Task.Priority,
				row.Task.Assignee.Name,
				row.Task.DueDate,
				fmt.Sprintf("%d%%", row.Rollup),
			})
		}
	}
	tw.Render()
}

func renderKanban(kv *view.KanbanView) {
	if kv == nil {
		return
	}
	for _, lane := range kv.Lanes {
		fmt.Printf("== %s (%d)\n", strings.ToUpper(string(lane.Status)), lane.Count)
		if lane.Count == 0 {
			continue
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Code", "Title", "Priority", "Assignee", "Due"})
		for _, c := range lane.Cards {
			tw.AppendRow(table.Row{c.Code, c.Title, c.Priority, c.Assignee.Name, c.DueDate})
		}
		tw.Render()
	}
}

func renderGantt(gv *view.GanttView) {
	if gv == nil || len(gv.Bars) == 0 {
		fmt.Println("no dated tasks")
		return
	}
	fmt.Printf("%s .. %s (%d days)\n", gv.Start, gv.End, gv.Days)
	width := gv.Days
	for _, bar := range gv.Bars {
		mark := "█"
		if bar.Milestone {
			mark = "◆"
		}
		// bars starting before the window are clipped to its left edge
		offset, dur := bar.Offset, bar.Duration
		if offset < 0 {
			dur += offset
			offset = 0
		}
		if dur < 1 {
			dur = 1
		}
		line := strings.Repeat(" ", offset) + strings.Repeat(mark, dur)
		if pad := width - len([]rune(line)); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		flag := ""
		if bar.Overdue {
			flag = " (overdue)"
		}
		fmt.Printf("%-12s |%s| %s%s\n", bar.Task.Code, line, bar.Task.Title, flag)
	}
}

func renderCalendar(cv *view.CalendarView) {
	if cv == nil {
		return
	}
	fmt.Printf("%s %d\n", cv.Month, cv.Year)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"})
	var week table.Row
	for _, day := range cv.Days {
		cell := day.Date[8:]
		if !day.InMonth {
			cell = "(" + cell + ")"
		}
		if day.Today {
			cell = "*" + cell
		}
		if n := len(day.Starting); n > 0 {
			cell += fmt.Sprintf(" ▸%d", n)
		}
		if n := len(day.Due); n > 0 {
			cell += fmt.Sprintf(" ●%d", n)
		}
		week = append(week, cell)
		if len(week) == 7 {
			tw.AppendRow(week)
			week = nil
		}
	}
	tw.Render()
}
