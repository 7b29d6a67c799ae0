package domain

import "time"

// ExecutionStatus is the lifecycle status reported by the runtime.
type ExecutionStatus string

const (
	StatusIdle    ExecutionStatus = "idle"
	StatusWaiting ExecutionStatus = "waiting"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
)

// Terminal reports whether the status ends an execution.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Active reports whether the status describes work in flight.
func (s ExecutionStatus) Active() bool {
	return s == StatusWaiting || s == StatusRunning
}

// Timestamps holds the instants reported alongside an execution state.
type Timestamps struct {
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExecutionState is the state of the workflow or of one component.
type ExecutionState struct {
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Timestamps Timestamps      `json:"timestamps"`

	// UntilNodeID scopes a partial run: the workflow runs up to this component.
	UntilNodeID string `json:"until_node_id,omitempty"`
}

// IdleExecution is the zero state used before the runtime reports anything.
func IdleExecution() ExecutionState {
	return ExecutionState{Status: StatusIdle}
}

// RunState is the state of an evaluation or optimization run.
// A new RunID always supersedes the previous run.
type RunState struct {
	Status   ExecutionStatus `json:"status"`
	RunID    string          `json:"run_id,omitempty"`
	Progress int             `json:"progress"`
	Total    int             `json:"total"`
	Stdout   string          `json:"stdout,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// IdleRun is the zero run state.
func IdleRun() RunState {
	return RunState{Status: StatusIdle}
}
