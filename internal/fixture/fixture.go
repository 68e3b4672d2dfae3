// Package fixture builds a small deterministic construction project used by
// bl seed and by tests that want a populated store.
package fixture

import (
	"time"

	"buildline/internal/domain"
	"buildline/internal/store"
)

// Clock is the fixed instant the fixture is built against, a Friday.
var Clock = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

// Seed fills the store with a two-level task tree carrying dependencies,
// dates, budgets and every status. It panics on error: the data is static
// and a failure means the store's rules changed.
func Seed(s *store.Store) map[string]domain.Task {
	s.Now = func() time.Time { return Clock }
	out := map[string]domain.Task{}
	create := func(key string, parent string, in store.CreateInput) domain.Task {
		var t domain.Task
		var err error
		if parent == "" {
			t, err = s.Create(in)
		} else {
			t, err = s.AddSubtask(out[parent].ID, in)
		}
		if err != nil {
			panic("fixture: " + err.Error())
		}
		out[key] = t
		return t
	}
	status := func(key string, st domain.Status) {
		t, err := s.SetStatus(out[key].ID, st)
		if err != nil {
			panic("fixture: " + err.Error())
		}
		out[key] = t
	}

	create("permits", "", store.CreateInput{
		Title:     "Secure building permits",
		Type:      domain.TypeMilestone,
		Priority:  domain.PriorityCritical,
		Assignee:  domain.Person{ID: "dana", Name: "Dana Ortiz", Role: "Project Manager"},
		StartDate: "2024-02-01",
		DueDate:   "2024-02-28",
		Budget:    domain.Budget{Estimated: 4500, Actual: 5100, Currency: "EUR"},
		Tags:      []string{"legal"},
	})
	status("permits", domain.StatusCompleted)

	create("foundation", "", store.CreateInput{
		Title:          "Pour foundation",
		Priority:       domain.PriorityCritical,
		Assignee:       domain.Person{ID: "marco", Name: "Marco Silva", Role: "Site Lead"},
		StartDate:      "2024-03-01",
		DueDate:        "2024-03-20",
		EstimatedHours: 160,
		Dependencies:   []string{out["permits"].ID},
		Budget:         domain.Budget{Estimated: 32000, Actual: 21000, Currency: "EUR"},
	})
	status("foundation", domain.StatusInProgress)

	create("excavate", "foundation", store.CreateInput{
		Title:     "Excavate and grade site",
		StartDate: "2024-03-01",
		DueDate:   "2024-03-07",
	})
	status("excavate", domain.StatusCompleted)
	create("rebar", "foundation", store.CreateInput{
		Title:     "Set rebar and forms",
		StartDate: "2024-03-08",
		DueDate:   "2024-03-14",
	})
	status("rebar", domain.StatusInProgress)
	create("pour", "foundation", store.CreateInput{
		Title:        "Pour and cure concrete",
		StartDate:    "2024-03-15",
		DueDate:      "2024-03-20",
		Dependencies: []string{out["rebar"].ID},
	})

	create("framing", "", store.CreateInput{
		Title:          "Frame structure",
		Priority:       domain.PriorityHigh,
		Assignee:       domain.Person{ID: "marco", Name: "Marco Silva", Role: "Site Lead"},
		StartDate:      "2024-03-21",
		DueDate:        "2024-04-15",
		EstimatedHours: 320,
		Dependencies:   []string{out["foundation"].ID},
		Budget:         domain.Budget{Estimated: 48000, Currency: "EUR"},
	})

	create("electrical", "", store.CreateInput{
		Title:        "Electrical rough-in",
		Priority:     domain.PriorityMedium,
		Assignee:     domain.Person{ID: "ines", Name: "Ines Laurent", Role: "Electrician"},
		StartDate:    "2024-04-10",
		DueDate:      "2024-04-25",
		Dependencies: []string{out["framing"].ID},
	})

	create("inspection", "", store.CreateInput{
		Title:    "Schedule county inspection",
		Type:     domain.TypeTask,
		Priority: domain.PriorityLow,
		DueDate:  "2024-03-12",
	})
	status("inspection", domain.StatusBlocked)

	return out
}
