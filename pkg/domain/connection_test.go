package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ConnectionState
		to      ConnectionState
		allowed bool
	}{
		{"dial starts", Disconnected, ConnectingTransport, true},
		{"transport opens", ConnectingTransport, ConnectingRuntime, true},
		{"open from disconnected", Disconnected, ConnectingRuntime, true},
		{"runtime answers", ConnectingRuntime, Connected, true},
		{"liveness timeout", Connected, ConnectingRuntime, true},
		{"transport lost while connected", Connected, Disconnected, true},
		{"transport lost while probing", ConnectingRuntime, Disconnected, true},
		{"dial fails", ConnectingTransport, Disconnected, true},
		{"skip to connected", Disconnected, Connected, false},
		{"connected before open", ConnectingTransport, Connected, false},
		{"connected back to dialing", Connected, ConnectingTransport, false},
		{"self", Connected, Connected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))

			err := Transition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			}
		})
	}
}

func TestConnectionState_Text(t *testing.T) {
	data, err := json.Marshal(map[string]ConnectionState{"status": ConnectingRuntime})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"connecting_runtime"}`, string(data))

	var decoded map[string]ConnectionState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ConnectingRuntime, decoded["status"])

	var bad ConnectionState
	assert.Error(t, bad.UnmarshalText([]byte("half-open")))
	assert.Equal(t, "unknown(42)", ConnectionState(42).String())
}

func TestConnectionState_TransportOpen(t *testing.T) {
	assert.False(t, Disconnected.TransportOpen())
	assert.False(t, ConnectingTransport.TransportOpen())
	assert.True(t, ConnectingRuntime.TransportOpen())
	assert.True(t, Connected.TransportOpen())
}
