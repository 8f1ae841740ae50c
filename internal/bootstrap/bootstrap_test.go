package bootstrap

import (
	"context"
	"errors"
	"testing"

	platformerrors "streamhive-server-go/internal/platform/errors"
)

func TestInitGraphDependenciesAreOrdered(t *testing.T) {
	steps := InitGraph()
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				t.Fatalf("step %s depends on %s which is not declared earlier", step.ID, dep)
			}
		}
		seen[step.ID] = struct{}{}
	}
}

func TestExecuteInitStepsRejectsUnsatisfiedDependency(t *testing.T) {
	steps := []initStep{
		{
			ID:        "b",
			DependsOn: []string{"a"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if err == nil {
		t.Fatal("expected dependency error")
	}
	if !platformerrors.IsKind(err, platformerrors.KindBootstrap) {
		t.Fatalf("expected bootstrap kind, got %v", err)
	}
}

func TestExecuteInitStepsWrapsStepFailure(t *testing.T) {
	boom := errors.New("boom")
	steps := []initStep{
		{
			ID:      "a",
			Kind:    platformerrors.KindStorage,
			Execute: func(context.Context, *appState) error { return boom },
		},
	}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !platformerrors.IsKind(err, platformerrors.KindStorage) {
		t.Fatalf("expected storage kind, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestExecuteInitStepsRunsInOrder(t *testing.T) {
	var order []string
	record := func(id string) stepFn {
		return func(context.Context, *appState) error {
			order = append(order, id)
			return nil
		}
	}
	steps := []initStep{
		{ID: "a", Execute: record("a")},
		{ID: "b", DependsOn: []string{"a"}, Execute: record("b")},
		{ID: "c", DependsOn: []string{"a", "b"}, Execute: record("c")},
	}
	if err := executeInitSteps(context.Background(), steps, &appState{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}
