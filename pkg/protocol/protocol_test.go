package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ServerEvents(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want protocol.ServerEvent
	}{
		{
			name: "is_alive_response",
			in:   `{"type":"is_alive_response"}`,
			want: protocol.IsAliveResponse{},
		},
		{
			name: "component_state_change",
			in: `{"type":"component_state_change","component_id":"llm-1",
				"execution_state":{"status":"error","error":"boom","timestamps":{"finished_at":"2026-03-01T12:30:00Z"}}}`,
			want: protocol.ComponentStateChange{
				ComponentID: "llm-1",
				ExecutionState: domain.ExecutionState{
					Status:     domain.StatusError,
					Error:      "boom",
					Timestamps: domain.Timestamps{FinishedAt: &finished},
				},
			},
		},
		{
			name: "execution_state_change with until node",
			in:   `{"type":"execution_state_change","execution_state":{"status":"running","until_node_id":"judge"}}`,
			want: protocol.ExecutionStateChange{
				ExecutionState: domain.ExecutionState{Status: domain.StatusRunning, UntilNodeID: "judge"},
			},
		},
		{
			name: "evaluation_state_change",
			in:   `{"type":"evaluation_state_change","evaluation_state":{"status":"running","run_id":"r1","progress":3,"total":10,"stdout":"ok"}}`,
			want: protocol.EvaluationStateChange{
				EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "r1", Progress: 3, Total: 10, Stdout: "ok"},
			},
		},
		{
			name: "optimization_state_change",
			in:   `{"type":"optimization_state_change","optimization_state":{"status":"success","run_id":"o1","progress":5,"total":5}}`,
			want: protocol.OptimizationStateChange{
				OptimizationState: domain.RunState{Status: domain.StatusSuccess, RunID: "o1", Progress: 5, Total: 5},
			},
		},
		{
			name: "error",
			in:   `{"type":"error","message":"runtime is unreachable"}`,
			want: protocol.Error{Message: "runtime is unreachable"},
		},
		{
			name: "debug",
			in:   `{"type":"debug","message":"tick"}`,
			want: protocol.Debug{Message: "tick"},
		},
		{
			name: "done",
			in:   `{"type":"done"}`,
			want: protocol.Done{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecode_Unknown(t *testing.T) {
	raw := []byte(`{"type":"telemetry","x":1}`)
	ev, err := protocol.Decode(raw)
	require.NoError(t, err)

	unknown, ok := ev.(protocol.Unknown)
	require.True(t, ok)
	assert.Equal(t, "telemetry", unknown.Type)
	assert.Equal(t, raw, unknown.Raw)

	ev, err = protocol.Decode([]byte(`{"no_type":true}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.Kind(""), ev.Kind())
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"component_state_change","execution_state":{"status":"running"}}`,
		`{"type":"execution_state_change","execution_state":{"status":"error","timestamps":{"finished_at":"yesterday"}}}`,
	} {
		_, err := protocol.Decode([]byte(in))
		assert.True(t, errors.Is(err, domain.ErrMalformedMessage), "input %s", in)
	}
}

func TestClientEvent_Encode(t *testing.T) {
	data, err := protocol.Encode(protocol.IsAlive())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"is_alive"}`, string(data))

	ev := protocol.NewClientEvent(protocol.ClientStartExecution, map[string]any{"until_node_id": "judge"})
	data, err = protocol.Encode(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start_execution","until_node_id":"judge"}`, string(data))

	var back protocol.ClientEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev, back)

	_, err = protocol.Encode(protocol.ClientEvent{})
	assert.Error(t, err)
}

func TestParseClientKind(t *testing.T) {
	kind, err := protocol.ParseClientKind("stop_optimization")
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientStopOptimization, kind)

	_, err = protocol.ParseClientKind("reboot")
	assert.Error(t, err)
}
