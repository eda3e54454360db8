package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// RunContext is handed to every task body. It carries the run identity, the
// run-scoped store, and a logger already tagged with run attributes.
type RunContext struct {
	RunID  string
	TaskID string
	Store  *Store
	Logger *slog.Logger
}

// Outcome is what a task body reports on success.
type Outcome struct {
	// Status is a short label recorded in the run history ("trained",
	// "deployed", "skipped", ...).
	Status string

	// Branch, when set, names the single direct successor to activate.
	// Every sibling successor is marked skipped.
	Branch string
}

// TaskFunc executes a task body. Returning an error fails the task (after
// the runner's retry budget is exhausted); a nil Outcome is treated as a
// plain success.
type TaskFunc func(ctx context.Context, rc *RunContext) (*Outcome, error)

// Task declares one node of a pipeline.
type Task struct {
	ID        string
	Run       TaskFunc
	DependsOn []string

	// Trigger decides when the task runs relative to its dependencies.
	// The zero value is AllSuccess.
	Trigger TriggerRule
}

// Pipeline is an immutable, validated task graph. It is safe for concurrent
// read access; per-run state lives in RunResult.
type Pipeline struct {
	Name  string
	Owner string
	Tags  []string

	tasks []*Task // topological order
	byID  map[string]*Task
	succ  map[string][]string // direct successors, in declaration order
}

// Option configures optional pipeline metadata.
type Option func(*Pipeline)

// WithOwner sets the owning team recorded in run history.
func WithOwner(owner string) Option {
	return func(p *Pipeline) { p.Owner = owner }
}

// WithTags attaches descriptive tags recorded in run history.
func WithTags(tags ...string) Option {
	return func(p *Pipeline) { p.Tags = tags }
}

// New builds and validates a Pipeline.
//
// Validation rejects empty or duplicate task IDs, missing task bodies,
// dependencies on unknown tasks, self-dependencies, unknown trigger rules,
// and cycles.
func New(name string, tasks []*Task, opts ...Option) (*Pipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("pipeline must define at least one task")
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task ID is required")
		}
		if t.Run == nil {
			return nil, fmt.Errorf("task %s has no body", t.ID)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task ID: %s", t.ID)
		}
		switch t.Trigger {
		case "", AllSuccess, NoneFailedMinOneSuccess:
		default:
			return nil, fmt.Errorf("task %s has unknown trigger rule %q", t.ID, t.Trigger)
		}
		byID[t.ID] = t
	}

	succ := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		seen := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return nil, fmt.Errorf("task %s depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, fmt.Errorf("task %s declares dependency %s twice", t.ID, dep)
			}
			seen[dep] = struct{}{}
			succ[dep] = append(succ[dep], t.ID)
		}
	}

	ordered, err := topoSort(tasks)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Name:  name,
		tasks: ordered,
		byID:  byID,
		succ:  succ,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Tasks returns the tasks in topological order.
func (p *Pipeline) Tasks() []*Task {
	out := make([]*Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// Task looks up a task by ID.
func (p *Pipeline) Task(id string) (*Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// Successors returns the direct successors of a task.
func (p *Pipeline) Successors(id string) []string {
	out := make([]string, len(p.succ[id]))
	copy(out, p.succ[id])
	return out
}

// topoSort orders tasks so every dependency precedes its dependents.
// Declaration order is the tie-breaker, which keeps serial execution
// deterministic.
func topoSort(tasks []*Task) ([]*Task, error) {
	indeg := make(map[string]int, len(tasks))
	for _, t := range tasks {
		indeg[t.ID] = len(t.DependsOn)
	}

	succ := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			succ[dep] = append(succ[dep], t.ID)
		}
	}

	ordered := make([]*Task, 0, len(tasks))
	for len(ordered) < len(tasks) {
		var next *Task
		for _, t := range tasks {
			if indeg[t.ID] == 0 {
				next = t
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("pipeline contains a cycle")
		}
		ordered = append(ordered, next)
		indeg[next.ID] = -1
		for _, s := range succ[next.ID] {
			indeg[s]--
		}
	}
	return ordered, nil
}
