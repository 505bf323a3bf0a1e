package dag

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func linear(t *testing.T) *Graph {
	t.Helper()
	g := New()
	must(t, g.AddTask("a", nil))
	must(t, g.AddTask("b", map[string]RequiredState{"a": RequiredStateSuccess}))
	must(t, g.AddTask("c", map[string]RequiredState{"a": RequiredStateAny}))
	must(t, g.Validate())
	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyNoCompletions(t *testing.T) {
	g := linear(t)
	ready, skipped, blocked := g.Classify(nil)

	if diff := cmp.Diff([]string{"a"}, ready); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped tasks, got %v", skipped)
	}
	if diff := cmp.Diff([]string{"b", "c"}, blocked); diff != "" {
		t.Fatalf("blocked mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifySuccessDependency(t *testing.T) {
	g := linear(t)
	ready, skipped, _ := g.Classify(map[string]Completion{
		"a": {Done: true, Outcome: OutcomeSuccessful},
	})

	if diff := cmp.Diff([]string{"b", "c"}, ready); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skips, got %v", skipped)
	}
}

func TestClassifySkipOnFailedPredecessor(t *testing.T) {
	g := linear(t)
	ready, skipped, _ := g.Classify(map[string]Completion{
		"a": {Done: true, Outcome: OutcomeFailed},
	})

	if diff := cmp.Diff([]string{"c"}, ready); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyTransitiveSkip(t *testing.T) {
	g := New()
	must(t, g.AddTask("a", nil))
	must(t, g.AddTask("b", map[string]RequiredState{"a": RequiredStateSuccess}))
	must(t, g.AddTask("c", map[string]RequiredState{"b": RequiredStateAny}))
	must(t, g.Validate())

	_, skipped, _ := g.Classify(map[string]Completion{
		"a": {Done: true, Outcome: OutcomeFailed},
		"b": {Done: true, Outcome: OutcomeSkipped},
	})

	if diff := cmp.Diff([]string{"c"}, skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateUnknownPredecessor(t *testing.T) {
	g := New()
	must(t, g.AddTask("a", map[string]RequiredState{"ghost": RequiredStateAny}))

	err := g.Validate()
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestValidateCycle(t *testing.T) {
	g := New()
	must(t, g.AddTask("a", map[string]RequiredState{"b": RequiredStateSuccess}))
	must(t, g.AddTask("b", map[string]RequiredState{"a": RequiredStateSuccess}))

	err := g.Validate()
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestValidateSelfDependencyIsCycle(t *testing.T) {
	g := New()
	must(t, g.AddTask("a", map[string]RequiredState{"a": RequiredStateAny}))

	err := g.Validate()
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle for self-dependency, got %v", err)
	}
}
