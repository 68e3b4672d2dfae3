package graph

import (
	"reflect"
	"testing"

	"buildline/internal/domain"
)

func task(id string, deps ...string) domain.Task {
	return domain.Task{ID: id, Status: domain.StatusTodo, Dependencies: deps}
}

func TestValidateNoCycle(t *testing.T) {
	tasks := []domain.Task{task("a"), task("b", "a"), task("c", "a", "b")}
	if got := Validate(tasks); got != nil {
		t.Fatalf("Validate() = %v, want nil", got)
	}
}

func TestValidateTwoCycle(t *testing.T) {
	tasks := []domain.Task{task("a", "b"), task("b", "a")}
	got := Validate(tasks)
	if len(got) != 1 {
		t.Fatalf("Validate() = %v, want one cycle", got)
	}
	if len(got[0]) != 2 {
		t.Fatalf("cycle = %v, want two members", got[0])
	}
	members := map[string]bool{got[0][0]: true, got[0][1]: true}
	if !members["a"] || !members["b"] {
		t.Fatalf("cycle = %v, want [a b]", got[0])
	}
}

func TestValidateSelfCycle(t *testing.T) {
	got := Validate([]domain.Task{task("a", "a")})
	if len(got) != 1 || !reflect.DeepEqual(got[0], []string{"a"}) {
		t.Fatalf("Validate() = %v, want [[a]]", got)
	}
}

func TestValidateLongCycleIgnoresBranches(t *testing.T) {
	tasks := []domain.Task{
		task("a", "b"),
		task("b", "c"),
		task("c", "a"),
		task("d", "a"), // outside the cycle
	}
	got := Validate(tasks)
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("Validate() = %v, want one cycle of three", got)
	}
	for _, id := range got[0] {
		if id == "d" {
			t.Fatalf("cycle %v contains non-member d", got[0])
		}
	}
}

func TestValidateIgnoresUnknownDependencies(t *testing.T) {
	if got := Validate([]domain.Task{task("a", "ghost")}); got != nil {
		t.Fatalf("Validate() = %v, want nil", got)
	}
}

func TestAnnotateEffectivelyBlocked(t *testing.T) {
	tasks := []domain.Task{
		{ID: "done", Status: domain.StatusCompleted},
		{ID: "open", Status: domain.StatusTodo},
		{ID: "t1", Status: domain.StatusTodo, Dependencies: []string{"done"}},
		{ID: "t2", Status: domain.StatusTodo, Dependencies: []string{"open"}},
		{ID: "t3", Status: domain.StatusTodo, BlockedBy: []string{"open"}},
	}
	out := Annotate(tasks)
	byID := domain.Index(out)

	if byID["t1"].EffectivelyBlocked {
		t.Error("t1 blocked despite resolved dependency")
	}
	if !byID["t2"].EffectivelyBlocked {
		t.Error("t2 not blocked despite open dependency")
	}
	if !byID["t3"].EffectivelyBlocked {
		t.Error("t3 not blocked despite manual blocker")
	}
	if got := byID["open"].Blocks; !reflect.DeepEqual(got, []string{"t3"}) {
		t.Errorf("open.Blocks = %v, want [t3]", got)
	}
	// input untouched
	if tasks[3].EffectivelyBlocked {
		t.Error("Annotate mutated its input")
	}
}

func TestAnnotateCancelledDependencyUnblocks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "gone", Status: domain.StatusCancelled},
		{ID: "t", Status: domain.StatusTodo, Dependencies: []string{"gone"}},
	}
	out := Annotate(tasks)
	if domain.Index(out)["t"].EffectivelyBlocked {
		t.Error("cancelled dependency should not block")
	}
}
