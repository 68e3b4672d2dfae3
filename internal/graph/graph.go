// Package graph derives blocking state from task dependency edges and guards
// the store against dependency cycles. All functions are pure over a
// flattened snapshot; nothing here mutates stored status.
package graph

import "buildline/internal/domain"

type color uint8

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // fully explored
)

// Validate walks the dependency edges (task -> depends-on) and reports every
// cycle as the ordered id list forming it. Unknown dependency ids are
// ignored here; the store rejects them before they reach the graph.
// Runs in O(V+E).
func Validate(tasks []domain.Task) [][]string {
	byID := domain.Index(tasks)
	colors := make(map[string]color, len(tasks))
	var cycles [][]string
	var path []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		path = append(path, id)
		t := byID[id]
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch colors[dep] {
			case white:
				visit(dep)
			case gray:
				// Found a back edge: the cycle is the path suffix from dep.
				for i, pid := range path {
					if pid == dep {
						cycles = append(cycles, append([]string(nil), path[i:]...))
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		colors[id] = black
	}

	for _, t := range tasks {
		if colors[t.ID] == white {
			visit(t.ID)
		}
	}
	return cycles
}

// Annotate returns a copy of the snapshot with EffectivelyBlocked computed
// and the informational Blocks reverse edges filled in. A task is
// effectively blocked when any dependency resolves to a task that is neither
// completed nor cancelled, or when its BlockedBy set is non-empty.
func Annotate(tasks []domain.Task) []domain.Task {
	byID := domain.Index(tasks)
	blocks := make(map[string][]string)
	for _, t := range tasks {
		for _, b := range t.BlockedBy {
			blocks[b] = append(blocks[b], t.ID)
		}
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		c := t.Clone()
		c.EffectivelyBlocked = len(t.BlockedBy) > 0
		if !c.EffectivelyBlocked {
			for _, dep := range t.Dependencies {
				if d, ok := byID[dep]; ok && !domain.Resolved(d.Status) {
					c.EffectivelyBlocked = true
					break
				}
			}
		}
		c.Blocks = blocks[t.ID]
		out[i] = c
	}
	return out
}
