package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunOptions configures a single pipeline execution.
type RunOptions struct {
	// Logger receives run progress. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxRetries is the number of extra attempts a task gets after its
	// first failure. Negative values are treated as zero.
	MaxRetries int

	// RunID identifies the run. A UUID is generated when empty.
	RunID string
}

// TaskResult records how a single task ended.
type TaskResult struct {
	ID       string
	State    State
	Status   string
	Branch   string
	Attempts int
	Duration time.Duration
	Err      error
}

// RunResult is the summary of one pipeline execution.
type RunResult struct {
	RunID      string
	Pipeline   string
	StartedAt  time.Time
	FinishedAt time.Time

	// Order lists the tasks that actually started, in execution order.
	Order []string

	Tasks map[string]*TaskResult

	// Store is the run-scoped store, kept for post-run inspection.
	Store *Store
}

// State returns the final state of a task, or empty for unknown IDs.
func (r *RunResult) State(id string) State {
	if tr, ok := r.Tasks[id]; ok {
		return tr.State
	}
	return ""
}

// Succeeded reports whether the run ended without any failed task.
// Skipped branches do not count against success.
func (r *RunResult) Succeeded() bool {
	for _, tr := range r.Tasks {
		if tr.State.Bad() {
			return false
		}
	}
	return true
}

// resolution is the scheduling decision for a pending task whose
// dependencies are all terminal.
type resolution int

const (
	notReady resolution = iota
	runNow
	settleSkipped
	settleUpstreamFailed
)

// Execute runs the pipeline serially until every task reaches a terminal
// state. The business graph has no internal parallelism; retries and
// branch/trigger semantics are handled here.
func (p *Pipeline) Execute(ctx context.Context, opts RunOptions) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("pipeline", p.Name, "run_id", runID)

	states := make(map[string]State, len(p.tasks))
	result := &RunResult{
		RunID:     runID,
		Pipeline:  p.Name,
		StartedAt: time.Now().UTC(),
		Tasks:     make(map[string]*TaskResult, len(p.tasks)),
		Store:     NewStore(),
	}
	for _, t := range p.tasks {
		states[t.ID] = StatePending
		result.Tasks[t.ID] = &TaskResult{ID: t.ID, State: StatePending}
	}

	logger.Info("run started", "tasks", len(p.tasks))

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run %s interrupted: %w", runID, err)
		}

		settled := false
		var next *Task
		for _, t := range p.tasks {
			if states[t.ID] != StatePending {
				continue
			}
			switch p.resolve(t, states) {
			case settleSkipped:
				states[t.ID] = StateSkipped
				logger.Info("task skipped", "task", t.ID)
				settled = true
			case settleUpstreamFailed:
				states[t.ID] = StateUpstreamFailed
				logger.Error("task not run, upstream failure", "task", t.ID)
				settled = true
			case runNow:
				if next == nil {
					next = t
				}
			}
		}

		if next == nil {
			if settled {
				continue
			}
			break
		}

		p.runTask(ctx, next, states, result, logger, opts.MaxRetries)
	}

	for id, st := range states {
		if !st.Terminal() {
			return nil, fmt.Errorf("run %s stalled: task %s left in state %s", runID, id, st)
		}
		result.Tasks[id].State = st
	}
	result.FinishedAt = time.Now().UTC()

	logger.Info("run finished",
		"succeeded", result.Succeeded(),
		"duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// resolve applies the task's trigger rule to its dependencies' states.
// Tasks with no dependencies are always ready.
func (p *Pipeline) resolve(t *Task, states map[string]State) resolution {
	var succeeded, skipped, failed int
	for _, dep := range t.DependsOn {
		st := states[dep]
		if !st.Terminal() {
			return notReady
		}
		switch {
		case st == StateSucceeded:
			succeeded++
		case st == StateSkipped:
			skipped++
		case st.Bad():
			failed++
		}
	}

	rule := t.Trigger
	if rule == "" {
		rule = AllSuccess
	}

	switch rule {
	case NoneFailedMinOneSuccess:
		if failed > 0 {
			return settleUpstreamFailed
		}
		if len(t.DependsOn) == 0 || succeeded > 0 {
			return runNow
		}
		return settleSkipped
	default: // AllSuccess
		if failed > 0 {
			return settleUpstreamFailed
		}
		if skipped > 0 {
			return settleSkipped
		}
		return runNow
	}
}

func (p *Pipeline) runTask(ctx context.Context, t *Task, states map[string]State, result *RunResult, logger *slog.Logger, maxRetries int) {
	states[t.ID] = StateRunning
	result.Order = append(result.Order, t.ID)

	rc := &RunContext{
		RunID:  result.RunID,
		TaskID: t.ID,
		Store:  result.Store,
		Logger: logger.With("task", t.ID),
	}

	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	tr := result.Tasks[t.ID]
	start := time.Now()

	var out *Outcome
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		tr.Attempts = attempt
		out, err = t.Run(ctx, rc)
		if err == nil {
			break
		}
		if attempt < attempts {
			logger.Warn("task failed, retrying", "task", t.ID, "attempt", attempt, "err", err)
		}
	}
	tr.Duration = time.Since(start)

	if err != nil {
		states[t.ID] = StateFailed
		tr.Err = err
		logger.Error("task failed", "task", t.ID, "attempts", tr.Attempts, "err", err)
		return
	}

	if out != nil {
		tr.Status = out.Status
		tr.Branch = out.Branch
	}

	if out != nil && out.Branch != "" {
		if err := p.activateBranch(t, out.Branch, states, logger); err != nil {
			states[t.ID] = StateFailed
			tr.Err = err
			logger.Error("task failed", "task", t.ID, "err", err)
			return
		}
	}

	states[t.ID] = StateSucceeded
	logger.Info("task succeeded", "task", t.ID, "status", tr.Status, "duration", tr.Duration)
}

// activateBranch keeps the chosen direct successor pending and marks every
// sibling successor skipped. Skips then ripple further through the trigger
// rules of downstream tasks.
func (p *Pipeline) activateBranch(t *Task, branch string, states map[string]State, logger *slog.Logger) error {
	chosen := false
	for _, s := range p.succ[t.ID] {
		if s == branch {
			chosen = true
			break
		}
	}
	if !chosen {
		return fmt.Errorf("task %s selected branch %s, which is not a direct successor", t.ID, branch)
	}

	for _, s := range p.succ[t.ID] {
		if s == branch || states[s] != StatePending {
			continue
		}
		states[s] = StateSkipped
		logger.Info("branch not taken", "task", s, "chosen", branch)
	}
	return nil
}
