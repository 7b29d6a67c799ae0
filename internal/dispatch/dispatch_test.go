package dispatch

import (
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func running() domain.ExecutionState { return domain.ExecutionState{Status: domain.StatusRunning} }

func newDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st := store.New()
	return New(st), st
}

func TestDispatch_IsAliveResponse(t *testing.T) {
	d, _ := newDispatcher(t)
	out := d.Dispatch(protocol.IsAliveResponse{}, now)
	assert.Equal(t, LivenessAlive, out.Liveness)
	assert.Empty(t, out.Notifications)
}

func TestDispatch_WorkflowErrorCascadesToRunningComponentsOnly(t *testing.T) {
	d, st := newDispatcher(t)
	st.SetWorkflowExecutionState(running())
	st.SetComponentExecutionState("a", running())
	st.SetComponentExecutionState("b", running())
	st.SetComponentExecutionState("w", domain.ExecutionState{Status: domain.StatusWaiting})
	st.SetComponentExecutionState("s", domain.ExecutionState{Status: domain.StatusSuccess})

	finished := now.Add(-time.Second)
	out := d.Dispatch(protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{
		Status:     domain.StatusError,
		Error:      "division by zero",
		Timestamps: domain.Timestamps{FinishedAt: &finished},
	}}, now)

	assert.Equal(t, domain.StatusError, st.Workflow().Status)
	for _, id := range []string{"a", "b"} {
		comp, _ := st.Component(id)
		assert.Equal(t, domain.StatusError, comp.Status, id)
		assert.Equal(t, "division by zero", comp.Error, id)
		require.NotNil(t, comp.Timestamps.FinishedAt, id)
		assert.Equal(t, finished, *comp.Timestamps.FinishedAt, id)
	}
	w, _ := st.Component("w")
	assert.Equal(t, domain.StatusWaiting, w.Status)
	s, _ := st.Component("s")
	assert.Equal(t, domain.StatusSuccess, s.Status)

	require.Len(t, out.Notifications, 1)
	assert.Equal(t, domain.SeverityError, out.Notifications[0].Severity)
	assert.Equal(t, domain.ScopeWorkflow, out.Notifications[0].Scope)
	assert.Equal(t, "Workflow failed", out.Notifications[0].Title)
	assert.Equal(t, LivenessNone, out.Liveness)
}

func TestDispatch_WorkflowErrorWithoutFinishTimeUsesNow(t *testing.T) {
	d, st := newDispatcher(t)
	st.SetComponentExecutionState("a", running())

	d.Dispatch(protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{
		Status: domain.StatusError, Error: "boom",
	}}, now)

	comp, _ := st.Component("a")
	require.NotNil(t, comp.Timestamps.FinishedAt)
	assert.Equal(t, now, *comp.Timestamps.FinishedAt)
}

func TestDispatch_UnreachableWorkflowErrorNotifiesOnce(t *testing.T) {
	d, st := newDispatcher(t)
	st.SetWorkflowExecutionState(running())
	st.SetComponentExecutionState("llm", running())

	out := d.Dispatch(protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{
		Status: domain.StatusError, Error: "LLM provider runtime is unreachable",
	}}, now)

	assert.Equal(t, domain.StatusError, st.Workflow().Status)
	comp, _ := st.Component("llm")
	assert.Equal(t, domain.StatusError, comp.Status)
	assert.Equal(t, LivenessUnreachable, out.Liveness)
	assert.Len(t, out.Notifications, 1)
}

func TestDispatch_StoppedWorkflowIsInformational(t *testing.T) {
	d, _ := newDispatcher(t)
	out := d.Dispatch(protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{
		Status: domain.StatusError, Error: "Execution stopped by user",
	}}, now)

	require.Len(t, out.Notifications, 1)
	assert.Equal(t, domain.SeverityInfo, out.Notifications[0].Severity)
	assert.Equal(t, "Workflow stopped", out.Notifications[0].Title)
}

func TestDispatch_RepeatedWorkflowErrorIsNotRenotified(t *testing.T) {
	d, _ := newDispatcher(t)
	ev := protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{Status: domain.StatusError, Error: "boom"}}

	first := d.Dispatch(ev, now)
	second := d.Dispatch(ev, now)

	assert.Len(t, first.Notifications, 1)
	assert.Empty(t, second.Notifications)
}

func TestDispatch_TopLevelError(t *testing.T) {
	t.Run("stops an active workflow", func(t *testing.T) {
		d, st := newDispatcher(t)
		st.SetWorkflowExecutionState(domain.ExecutionState{Status: domain.StatusWaiting, UntilNodeID: "judge"})
		st.SetComponentExecutionState("a", running())

		out := d.Dispatch(protocol.Error{Message: "worker crashed"}, now)

		wf := st.Workflow()
		assert.Equal(t, domain.StatusError, wf.Status)
		assert.Equal(t, "worker crashed", wf.Error)
		assert.Equal(t, "judge", wf.UntilNodeID)
		require.NotNil(t, wf.Timestamps.FinishedAt)
		comp, _ := st.Component("a")
		assert.Equal(t, domain.StatusError, comp.Status)

		require.Len(t, out.Notifications, 1)
		assert.Equal(t, domain.ScopeRuntime, out.Notifications[0].Scope)
		assert.Equal(t, LivenessNone, out.Liveness)
	})

	t.Run("leaves a finished workflow alone", func(t *testing.T) {
		d, st := newDispatcher(t)
		st.SetWorkflowExecutionState(domain.ExecutionState{Status: domain.StatusSuccess})

		out := d.Dispatch(protocol.Error{Message: "runtime is unreachable"}, now)

		assert.Equal(t, domain.StatusSuccess, st.Workflow().Status)
		assert.Equal(t, LivenessUnreachable, out.Liveness)
	})
}

func TestDispatch_ComponentError(t *testing.T) {
	d, st := newDispatcher(t)
	st.SetComponentExecutionState("llm", running())

	out := d.Dispatch(protocol.ComponentStateChange{
		ComponentID:    "llm",
		ExecutionState: domain.ExecutionState{Status: domain.StatusError, Error: "runtime is unreachable"},
	}, now)

	assert.Equal(t, LivenessUnreachable, out.Liveness)
	require.Len(t, out.Notifications, 1)
	assert.Equal(t, domain.ScopeComponent, out.Notifications[0].Scope)
	assert.Equal(t, "llm", out.Notifications[0].ComponentID)
}

func TestDispatch_ComponentAutoSelect(t *testing.T) {
	tests := []struct {
		name       string
		prev       *domain.ExecutionState
		next       domain.ExecutionStatus
		until      string
		wantSelect bool
	}{
		{"stopped running with error", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusError, "", true},
		{"stopped running back to idle", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusIdle, "", true},
		{"succeeded", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusSuccess, "", false},
		{"still running", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusRunning, "", false},
		{"was waiting", &domain.ExecutionState{Status: domain.StatusWaiting}, domain.StatusError, "", false},
		{"never seen", nil, domain.StatusError, "", false},
		{"is the run-until target", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusError, "c", true},
		{"another run-until target", &domain.ExecutionState{Status: domain.StatusRunning}, domain.StatusError, "judge", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, st := newDispatcher(t)
			st.SetWorkflowExecutionState(domain.ExecutionState{Status: domain.StatusRunning, UntilNodeID: tt.until})
			if tt.prev != nil {
				st.SetComponentExecutionState("c", *tt.prev)
			}

			out := d.Dispatch(protocol.ComponentStateChange{
				ComponentID:    "c",
				ExecutionState: domain.ExecutionState{Status: tt.next, Error: "x"},
			}, now)

			if tt.wantSelect {
				assert.Equal(t, []domain.Intent{{Kind: domain.IntentSelectComponent, ComponentID: "c"}}, out.Intents)
			} else {
				assert.Empty(t, out.Intents)
			}
		})
	}
}

func TestDispatch_StaleRunIsDropped(t *testing.T) {
	d, st := newDispatcher(t)

	d.Dispatch(protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "B"}}, now)
	d.Dispatch(protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "A"}}, now)

	out := d.Dispatch(protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusSuccess, RunID: "B", Progress: 9}}, now)

	assert.Equal(t, "B", out.StaleRunID)
	assert.Empty(t, out.Intents)
	assert.Equal(t, "A", st.Evaluation().RunID)
	assert.Equal(t, domain.StatusRunning, st.Evaluation().Status)

	out = d.Dispatch(protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "A", Progress: 4, Total: 10}}, now)
	assert.Empty(t, out.StaleRunID)
	assert.Equal(t, 4, st.Evaluation().Progress)
}

func TestDispatch_LateUnseenRunDoesNotReplaceLiveRun(t *testing.T) {
	d, st := newDispatcher(t)
	eval := func(rs domain.RunState) Outcome {
		return d.Dispatch(protocol.EvaluationStateChange{EvaluationState: rs}, now)
	}

	eval(domain.RunState{Status: domain.StatusRunning, RunID: "A", Total: 10})

	out := eval(domain.RunState{Status: domain.StatusError, RunID: "B", Error: "Evaluation stopped"})
	assert.Equal(t, "B", out.StaleRunID)
	assert.Empty(t, out.Notifications)
	assert.Empty(t, out.Intents)
	assert.Equal(t, "A", st.Evaluation().RunID)
	assert.Equal(t, domain.StatusRunning, st.Evaluation().Status)

	out = eval(domain.RunState{Status: domain.StatusRunning, RunID: "A", Progress: 5, Total: 10})
	assert.Empty(t, out.StaleRunID)
	assert.Equal(t, 5, st.Evaluation().Progress)

	out = eval(domain.RunState{Status: domain.StatusSuccess, RunID: "A", Progress: 10, Total: 10})
	assert.Empty(t, out.StaleRunID)
	assert.Equal(t, domain.StatusSuccess, st.Evaluation().Status)
	assert.Equal(t, []domain.Intent{{Kind: domain.IntentOpenEvaluationResults, RunID: "A", Delay: DefaultResultsDelay}}, out.Intents)

	// B stays stale after A has finished.
	out = eval(domain.RunState{Status: domain.StatusError, RunID: "B", Error: "boom"})
	assert.Equal(t, "B", out.StaleRunID)
	assert.Equal(t, "A", st.Evaluation().RunID)
}

func TestDispatch_NewRunReplacesLiveRun(t *testing.T) {
	d, st := newDispatcher(t)
	d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusRunning, RunID: "o1"}}, now)

	out := d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusWaiting, RunID: "o2"}}, now)
	assert.Empty(t, out.StaleRunID)
	assert.Equal(t, "o2", st.Optimization().RunID)
	assert.True(t, st.Snapshot().Retired(store.TargetOptimization, "o1"))
}

func TestDispatch_RunResults(t *testing.T) {
	t.Run("terminal run opens results after the delay", func(t *testing.T) {
		st := store.New()
		d := New(st, WithResultsDelay(time.Second))
		d.Dispatch(protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "r1"}}, now)

		ev := protocol.EvaluationStateChange{EvaluationState: domain.RunState{Status: domain.StatusSuccess, RunID: "r1", Progress: 10, Total: 10}}
		out := d.Dispatch(ev, now)
		assert.Equal(t, []domain.Intent{{Kind: domain.IntentOpenEvaluationResults, RunID: "r1", Delay: time.Second}}, out.Intents)
		assert.Empty(t, out.Notifications)

		out = d.Dispatch(ev, now)
		assert.Empty(t, out.Intents, "repeated terminal state")
	})

	t.Run("error while waiting notifies without results", func(t *testing.T) {
		d, _ := newDispatcher(t)
		d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusWaiting, RunID: "o1"}}, now)

		out := d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusError, RunID: "o1", Error: "bad dataset"}}, now)

		require.Len(t, out.Notifications, 1)
		assert.Equal(t, domain.ScopeOptimization, out.Notifications[0].Scope)
		assert.Equal(t, "o1", out.Notifications[0].RunID)
		assert.Equal(t, "Optimization failed", out.Notifications[0].Title)
		assert.Empty(t, out.Intents)
	})

	t.Run("stopped run is informational", func(t *testing.T) {
		d, _ := newDispatcher(t)
		d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusRunning, RunID: "o2"}}, now)

		out := d.Dispatch(protocol.OptimizationStateChange{OptimizationState: domain.RunState{Status: domain.StatusError, RunID: "o2", Error: "Optimization interrupted"}}, now)

		require.Len(t, out.Notifications, 1)
		assert.Equal(t, domain.SeverityInfo, out.Notifications[0].Severity)
		assert.Equal(t, []domain.Intent{{Kind: domain.IntentOpenOptimizationResults, RunID: "o2", Delay: DefaultResultsDelay}}, out.Intents)
	})
}

func TestDispatch_IgnoredAndUnknownKinds(t *testing.T) {
	d, st := newDispatcher(t)
	var changes int
	st.Subscribe(func(store.Change) { changes++ })

	assert.Equal(t, Outcome{}, d.Dispatch(protocol.Debug{Message: "x"}, now))
	assert.Equal(t, Outcome{}, d.Dispatch(protocol.Done{}, now))

	out := d.Dispatch(protocol.Unknown{Type: "telemetry"}, now)
	require.NotNil(t, out.Anomaly)
	assert.Equal(t, AnomalyUnknownKind, out.Anomaly.Reason)
	assert.Equal(t, "telemetry", out.Anomaly.Detail)
	assert.Zero(t, changes)
}

func TestDispatchRaw(t *testing.T) {
	d, st := newDispatcher(t)

	kind, out := d.DispatchRaw([]byte(`{"type":"component_state_change","component_id":"a","execution_state":{"status":"running"}}`), now)
	assert.Equal(t, protocol.KindComponentStateChange, kind)
	assert.Nil(t, out.Anomaly)
	comp, ok := st.Component("a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, comp.Status)

	_, out = d.DispatchRaw([]byte(`{{`), now)
	require.NotNil(t, out.Anomaly)
	assert.Equal(t, AnomalyMalformed, out.Anomaly.Reason)
}

func TestReduce_DoesNotTouchTheSnapshot(t *testing.T) {
	st := store.New()
	st.SetComponentExecutionState("a", running())
	snap := st.Snapshot()

	res := Reduce(snap, protocol.ExecutionStateChange{ExecutionState: domain.ExecutionState{Status: domain.StatusError, Error: "x"}}, now, Config{})

	assert.Len(t, res.Mutations, 2)
	assert.Equal(t, domain.StatusRunning, snap.Components["a"].Status)
	assert.Equal(t, domain.StatusIdle, snap.Workflow.Status)
}
