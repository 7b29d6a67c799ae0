package dispatch

import (
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
)

// DefaultResultsDelay postpones the results-panel intent after a run ends.
const DefaultResultsDelay = 500 * time.Millisecond

// Liveness is the signal an event sends to the liveness monitor.
type Liveness int

const (
	LivenessNone Liveness = iota
	// LivenessAlive: the runtime answered a probe.
	LivenessAlive
	// LivenessUnreachable: the runtime reported itself unreachable.
	LivenessUnreachable
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessUnreachable:
		return "unreachable"
	default:
		return "none"
	}
}

// Mutation is one store write. Execution is used for the workflow and
// component targets, Run for the run slots. A non-empty Retire marks that run
// id superseded in its slot without touching the current run.
type Mutation struct {
	Target      store.Target
	ComponentID string
	Execution   domain.ExecutionState
	Run         domain.RunState
	Retire      string
}

// Anomaly describes a message the dispatcher could not act on.
type Anomaly struct {
	Reason string
	Detail string
}

const (
	AnomalyUnknownKind = "unknown_kind"
	AnomalyMalformed   = "malformed"
)

// Outcome is everything an event causes besides store writes.
type Outcome struct {
	Liveness      Liveness
	Notifications []domain.Notification
	Intents       []domain.Intent
	Anomaly       *Anomaly

	// StaleRunID is set when a run update was dropped because its run was superseded.
	StaleRunID string
}

// Result pairs the store writes with the outcome.
type Result struct {
	Mutations []Mutation
	Outcome
}

// Config tunes the reducer.
type Config struct {
	ResultsDelay time.Duration
}

// Reduce computes the effect of ev on snap. now stamps cascaded stops that
// carry no finish time of their own. Reduce never fails: events it cannot use
// come back as an anomaly.
func Reduce(snap store.Snapshot, ev protocol.ServerEvent, now time.Time, cfg Config) Result {
	switch e := ev.(type) {
	case protocol.IsAliveResponse:
		return Result{Outcome: Outcome{Liveness: LivenessAlive}}
	case protocol.ComponentStateChange:
		return reduceComponent(snap, e)
	case protocol.ExecutionStateChange:
		return reduceWorkflow(snap, e.ExecutionState, now)
	case protocol.EvaluationStateChange:
		return reduceRun(snap, store.TargetEvaluation, e.EvaluationState, snap.Evaluation, cfg)
	case protocol.OptimizationStateChange:
		return reduceRun(snap, store.TargetOptimization, e.OptimizationState, snap.Optimization, cfg)
	case protocol.Error:
		return reduceRuntimeError(snap, e.Message, now)
	case protocol.Debug, protocol.Done:
		return Result{}
	case protocol.Unknown:
		return Result{Outcome: Outcome{Anomaly: &Anomaly{Reason: AnomalyUnknownKind, Detail: e.Type}}}
	default:
		return Result{Outcome: Outcome{Anomaly: &Anomaly{Reason: AnomalyUnknownKind, Detail: string(ev.Kind())}}}
	}
}

func reduceComponent(snap store.Snapshot, e protocol.ComponentStateChange) Result {
	next := e.ExecutionState
	prev, known := snap.Components[e.ComponentID]

	res := Result{Mutations: []Mutation{{
		Target:      store.TargetComponent,
		ComponentID: e.ComponentID,
		Execution:   next,
	}}}

	if next.Status == domain.StatusError {
		if domain.IsRuntimeUnreachable(next.Error) {
			res.Liveness = LivenessUnreachable
		}
		if !(known && sameFailure(prev, next)) {
			res.Notifications = append(res.Notifications, domain.Notification{
				Severity:    domain.SeverityFor(next.Error),
				Scope:       domain.ScopeComponent,
				Title:       titleFor(next.Error, "Component"),
				Message:     next.Error,
				ComponentID: e.ComponentID,
			})
		}
	}

	until := snap.Workflow.UntilNodeID
	if known &&
		prev.Status == domain.StatusRunning &&
		next.Status != domain.StatusRunning &&
		next.Status != domain.StatusSuccess &&
		(until == "" || until == e.ComponentID) {
		res.Intents = append(res.Intents, domain.Intent{
			Kind:        domain.IntentSelectComponent,
			ComponentID: e.ComponentID,
		})
	}
	return res
}

func reduceWorkflow(snap store.Snapshot, next domain.ExecutionState, now time.Time) Result {
	prev := snap.Workflow
	res := Result{Mutations: []Mutation{{Target: store.TargetWorkflow, Execution: next}}}
	if next.Status != domain.StatusError {
		return res
	}

	if domain.IsRuntimeUnreachable(next.Error) {
		res.Liveness = LivenessUnreachable
	}
	if !sameFailure(prev, next) {
		res.Notifications = append(res.Notifications, domain.Notification{
			Severity: domain.SeverityFor(next.Error),
			Scope:    domain.ScopeWorkflow,
			Title:    titleFor(next.Error, "Workflow"),
			Message:  next.Error,
		})
	}

	finished := now
	if next.Timestamps.FinishedAt != nil {
		finished = *next.Timestamps.FinishedAt
	}
	res.Mutations = append(res.Mutations, cascadeStop(snap, next.Error, finished)...)
	return res
}

func reduceRuntimeError(snap store.Snapshot, msg string, now time.Time) Result {
	var res Result
	if domain.IsRuntimeUnreachable(msg) {
		res.Liveness = LivenessUnreachable
	}

	if snap.Workflow.Status.Active() {
		stopped := snap.Workflow
		stopped.Status = domain.StatusError
		stopped.Error = msg
		stopped.Timestamps.FinishedAt = &now
		res.Mutations = append(res.Mutations, Mutation{Target: store.TargetWorkflow, Execution: stopped})
	}
	res.Mutations = append(res.Mutations, cascadeStop(snap, msg, now)...)

	res.Notifications = append(res.Notifications, domain.Notification{
		Severity: domain.SeverityFor(msg),
		Scope:    domain.ScopeRuntime,
		Title:    titleFor(msg, "Runtime"),
		Message:  msg,
	})
	return res
}

// cascadeStop forces every running component to error. Idle and waiting
// components are left alone.
func cascadeStop(snap store.Snapshot, msg string, finished time.Time) []Mutation {
	var out []Mutation
	for _, id := range snap.ComponentIDs() {
		st := snap.Components[id]
		if st.Status != domain.StatusRunning {
			continue
		}
		at := finished
		st.Status = domain.StatusError
		st.Error = msg
		st.Timestamps.FinishedAt = &at
		out = append(out, Mutation{Target: store.TargetComponent, ComponentID: id, Execution: st})
	}
	return out
}

func reduceRun(snap store.Snapshot, target store.Target, next, current domain.RunState, cfg Config) Result {
	if next.RunID != "" && next.RunID != current.RunID {
		if snap.Retired(target, next.RunID) {
			return Result{Outcome: Outcome{StaleRunID: next.RunID}}
		}
		// While a run is live, an unseen run id may only replace it by starting.
		// Anything else is a late message from an earlier run.
		if current.Status.Active() && !next.Status.Active() {
			return Result{
				Mutations: []Mutation{{Target: target, Retire: next.RunID}},
				Outcome:   Outcome{StaleRunID: next.RunID},
			}
		}
	}

	res := Result{Mutations: []Mutation{{Target: target, Run: next}}}

	prevStatus := domain.StatusIdle
	if next.RunID == current.RunID {
		prevStatus = current.Status
	}
	repeated := next.RunID == current.RunID &&
		next.Status == current.Status &&
		next.Error == current.Error
	if repeated {
		return res
	}

	scope, intent := domain.ScopeEvaluation, domain.IntentOpenEvaluationResults
	if target == store.TargetOptimization {
		scope, intent = domain.ScopeOptimization, domain.IntentOpenOptimizationResults
	}

	if next.Status == domain.StatusError {
		if domain.IsRuntimeUnreachable(next.Error) {
			res.Liveness = LivenessUnreachable
		}
		res.Notifications = append(res.Notifications, domain.Notification{
			Severity: domain.SeverityFor(next.Error),
			Scope:    scope,
			Title:    titleFor(next.Error, runTitle(target)),
			Message:  next.Error,
			RunID:    next.RunID,
		})
	}

	if next.Status.Terminal() && prevStatus != domain.StatusWaiting {
		res.Intents = append(res.Intents, domain.Intent{
			Kind:  intent,
			RunID: next.RunID,
			Delay: cfg.ResultsDelay,
		})
	}
	return res
}

func sameFailure(prev, next domain.ExecutionState) bool {
	return prev.Status == next.Status && prev.Error == next.Error
}

func titleFor(msg, subject string) string {
	if domain.IsStopMessage(msg) {
		return subject + " stopped"
	}
	return subject + " failed"
}

func runTitle(target store.Target) string {
	if target == store.TargetOptimization {
		return "Optimization"
	}
	return "Evaluation"
}
