package fixture_test

import (
	"testing"

	"buildline/internal/domain"
	"buildline/internal/fixture"
	"buildline/internal/graph"
	"buildline/internal/store"
)

func TestSeedIsDeterministic(t *testing.T) {
	a := store.New("riverside", "RIV")
	b := store.New("riverside", "RIV")
	fixture.Seed(a)
	fixture.Seed(b)

	la, lb := a.List(), b.List()
	if len(la) != len(lb) || len(la) != 8 {
		t.Fatalf("lists = %d and %d tasks, want 8 each", len(la), len(lb))
	}
	for i := range la {
		if la[i].ID != lb[i].ID || la[i].Code != lb[i].Code {
			t.Fatalf("run mismatch at %d: %s/%s vs %s/%s", i, la[i].ID, la[i].Code, lb[i].ID, lb[i].Code)
		}
	}
}

func TestSeedShapes(t *testing.T) {
	s := store.New("riverside", "RIV")
	out := fixture.Seed(s)

	foundation, err := s.Get(out["foundation"].ID)
	if err != nil {
		t.Fatalf("get foundation: %v", err)
	}
	if len(foundation.SubtaskIDs) != 3 {
		t.Fatalf("foundation subtasks = %d, want 3", len(foundation.SubtaskIDs))
	}
	if foundation.Status != domain.StatusInProgress {
		t.Fatalf("foundation status = %s", foundation.Status)
	}
	if out["permits"].Type != domain.TypeMilestone {
		t.Fatalf("permits type = %s", out["permits"].Type)
	}

	// every dependency edge resolves and the graph stays acyclic
	tasks := s.List()
	byID := domain.Index(tasks)
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if _, ok := byID[dep]; !ok {
				t.Fatalf("task %s has dangling dependency %s", task.Code, dep)
			}
		}
	}
	if cycles := graph.Validate(tasks); len(cycles) != 0 {
		t.Fatalf("cycles = %v", cycles)
	}

	// framing waits on the in-progress foundation
	annotated := domain.Index(graph.Annotate(tasks))
	if !annotated[out["framing"].ID].EffectivelyBlocked {
		t.Fatal("framing should be effectively blocked by foundation")
	}
	// permits is done, so nothing holds foundation back
	if annotated[foundation.ID].EffectivelyBlocked {
		t.Fatal("foundation should not be blocked by completed permits")
	}
}
