package domain

import "time"

// Severity decides how a notification is rendered.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Scope identifies which execution entity a notification is about.
type Scope string

const (
	ScopeWorkflow     Scope = "workflow"
	ScopeComponent    Scope = "component"
	ScopeEvaluation   Scope = "evaluation"
	ScopeOptimization Scope = "optimization"
	ScopeRuntime      Scope = "runtime"
)

// Notification is a discrete user-facing message (a toast).
type Notification struct {
	Severity    Severity `json:"severity"`
	Scope       Scope    `json:"scope"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	ComponentID string   `json:"component_id,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
}

// IntentKind names a UI action requested by the client.
type IntentKind string

const (
	IntentSelectComponent         IntentKind = "select_component"
	IntentOpenEvaluationResults   IntentKind = "open_evaluation_results"
	IntentOpenOptimizationResults IntentKind = "open_optimization_results"
)

// Intent asks the UI layer to do something. Delay postpones delivery.
type Intent struct {
	Kind        IntentKind    `json:"kind"`
	ComponentID string        `json:"component_id,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
}
