package pipeline

import (
	"context"
	"strings"
	"testing"
)

func noop(_ context.Context, _ *RunContext) (*Outcome, error) {
	return nil, nil
}

func TestNewRejectsInvalidGraphs(t *testing.T) {
	cases := []struct {
		name    string
		tasks   []*Task
		wantErr string
	}{
		{
			name:    "no tasks",
			tasks:   nil,
			wantErr: "at least one task",
		},
		{
			name:    "empty task ID",
			tasks:   []*Task{{ID: "", Run: noop}},
			wantErr: "task ID is required",
		},
		{
			name:    "missing body",
			tasks:   []*Task{{ID: "a"}},
			wantErr: "no body",
		},
		{
			name: "duplicate ID",
			tasks: []*Task{
				{ID: "a", Run: noop},
				{ID: "a", Run: noop},
			},
			wantErr: "duplicate task ID",
		},
		{
			name: "unknown dependency",
			tasks: []*Task{
				{ID: "a", Run: noop, DependsOn: []string{"ghost"}},
			},
			wantErr: "unknown task",
		},
		{
			name: "self dependency",
			tasks: []*Task{
				{ID: "a", Run: noop, DependsOn: []string{"a"}},
			},
			wantErr: "depends on itself",
		},
		{
			name: "duplicate dependency",
			tasks: []*Task{
				{ID: "a", Run: noop},
				{ID: "b", Run: noop, DependsOn: []string{"a", "a"}},
			},
			wantErr: "twice",
		},
		{
			name: "unknown trigger rule",
			tasks: []*Task{
				{ID: "a", Run: noop, Trigger: "one_failed"},
			},
			wantErr: "unknown trigger rule",
		},
		{
			name: "cycle",
			tasks: []*Task{
				{ID: "a", Run: noop, DependsOn: []string{"c"}},
				{ID: "b", Run: noop, DependsOn: []string{"a"}},
				{ID: "c", Run: noop, DependsOn: []string{"b"}},
			},
			wantErr: "cycle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("test", tc.tasks)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestNewOrdersTasksTopologically(t *testing.T) {
	// Declared out of order on purpose.
	p, err := New("test", []*Task{
		{ID: "c", Run: noop, DependsOn: []string{"b"}},
		{ID: "a", Run: noop},
		{ID: "b", Run: noop, DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	pos := make(map[string]int)
	for i, task := range p.Tasks() {
		pos[task.ID] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Fatalf("tasks not in dependency order: %v", pos)
	}
}

func TestSuccessors(t *testing.T) {
	p, err := New("test", []*Task{
		{ID: "gate", Run: noop},
		{ID: "left", Run: noop, DependsOn: []string{"gate"}},
		{ID: "right", Run: noop, DependsOn: []string{"gate"}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	succ := p.Successors("gate")
	if len(succ) != 2 || succ[0] != "left" || succ[1] != "right" {
		t.Fatalf("got successors %v, want [left right]", succ)
	}
	if len(p.Successors("left")) != 0 {
		t.Fatal("leaf task must have no successors")
	}
}

func TestWithOwnerAndTags(t *testing.T) {
	p, err := New("test", []*Task{{ID: "a", Run: noop}},
		WithOwner("mlops"), WithTags("ml", "retrain"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Owner != "mlops" {
		t.Fatalf("owner = %q", p.Owner)
	}
	if len(p.Tags) != 2 {
		t.Fatalf("tags = %v", p.Tags)
	}
}
