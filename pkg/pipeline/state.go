package pipeline

// State is the runtime execution state of a single task within a run.
//
// This is intentionally separate from the Pipeline definition, which is
// immutable: the same Pipeline can be executed many times.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"

	// StateSkipped marks a task whose branch was not taken. Skipped is not
	// a failure: trigger rules treat it as a neutral outcome.
	StateSkipped State = "skipped"

	// StateUpstreamFailed marks a task that never ran because one of its
	// dependencies failed.
	StateUpstreamFailed State = "upstream_failed"
)

// Terminal reports whether the state is final for the run.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped, StateUpstreamFailed:
		return true
	default:
		return false
	}
}

// Bad reports whether the state counts as a failure for trigger rules
// and for the overall run outcome.
func (s State) Bad() bool {
	return s == StateFailed || s == StateUpstreamFailed
}

// TriggerRule decides whether a task runs once all its dependencies have
// reached a terminal state.
type TriggerRule string

const (
	// AllSuccess runs the task only if every dependency succeeded. A failed
	// dependency marks the task upstream_failed; a skipped dependency marks
	// it skipped.
	AllSuccess TriggerRule = "all_success"

	// NoneFailedMinOneSuccess runs the task if no dependency failed and at
	// least one succeeded. Skipped dependencies count as neither — this is
	// what lets a join report success after a branch was intentionally
	// skipped.
	NoneFailedMinOneSuccess TriggerRule = "none_failed_min_one_success"
)
