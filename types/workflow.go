package types

// StepStatus is the lifecycle state of a single workflow step.
// Transitions: Pending -> Running -> {Succeeded | Failed}. Skipped is
// reachable only from Pending, when a dependency failed under
// AbortOnFailure or the chain was cancelled before the step started.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// ChainStatus is the lifecycle state of a workflow chain.
type ChainStatus string

const (
	ChainRunning            ChainStatus = "running"
	ChainCompleted          ChainStatus = "completed"
	ChainPartiallyCompleted ChainStatus = "partially_completed"
	ChainFailed             ChainStatus = "failed"
)

// FailurePolicy controls how a chain reacts to a failed step.
type FailurePolicy string

const (
	// AbortOnFailure marks all un-started dependents Skipped and the
	// chain Failed on the first step failure.
	AbortOnFailure FailurePolicy = "abort_on_failure"

	// ContinueWithDegradedContext keeps executing dependents with the
	// failed step contributing empty context; the chain finishes
	// PartiallyCompleted if any step failed.
	ContinueWithDegradedContext FailurePolicy = "continue_with_degraded_context"
)

// Valid reports whether the policy is one of the known values.
func (p FailurePolicy) Valid() bool {
	return p == AbortOnFailure || p == ContinueWithDegradedContext
}
