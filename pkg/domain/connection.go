package domain

import "fmt"

// ConnectionState is the state of the single logical connection to the runtime.
// Only the connection manager mutates it.
type ConnectionState int32

const (
	// Disconnected means no transport is open.
	Disconnected ConnectionState = iota
	// ConnectingTransport means the transport is being established.
	ConnectingTransport
	// ConnectingRuntime means the transport is open but the runtime has not answered a probe yet
	// (or has stopped answering them).
	ConnectingRuntime
	// Connected means the transport is open and the runtime answers probes.
	Connected
)

var connectionStateNames = map[ConnectionState]string{
	Disconnected:        "disconnected",
	ConnectingTransport: "connecting_transport",
	ConnectingRuntime:   "connecting_runtime",
	Connected:           "connected",
}

// String returns the wire/log representation of the state.
func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// MarshalText renders the state as its name in JSON and YAML.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for state, name := range connectionStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", string(text))
}

// transitions lists every allowed edge of the connection state machine.
// Disconnected -> ConnectingRuntime exists because the transport open handler
// accepts either Disconnected or ConnectingTransport as the prior state.
var transitions = map[ConnectionState][]ConnectionState{
	Disconnected:        {ConnectingTransport, ConnectingRuntime},
	ConnectingTransport: {ConnectingRuntime, Disconnected},
	ConnectingRuntime:   {Connected, Disconnected},
	Connected:           {ConnectingRuntime, Disconnected},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Self transitions are not edges; callers treat them as no-ops.
func CanTransition(from, to ConnectionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrInvalidTransition when the edge does not exist.
func Transition(from, to ConnectionState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TransportOpen reports whether the physical transport is open in this state.
func (s ConnectionState) TransportOpen() bool {
	return s == ConnectingRuntime || s == Connected
}
