package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientKind tags a client -> server event.
type ClientKind string

const (
	ClientIsAlive           ClientKind = "is_alive"
	ClientStartExecution    ClientKind = "start_execution"
	ClientStopExecution     ClientKind = "stop_execution"
	ClientStartEvaluation   ClientKind = "start_evaluation"
	ClientStopEvaluation    ClientKind = "stop_evaluation"
	ClientStartOptimization ClientKind = "start_optimization"
	ClientStopOptimization  ClientKind = "stop_optimization"
)

// ClientKinds lists every client event kind the runtime understands.
var ClientKinds = []ClientKind{
	ClientIsAlive,
	ClientStartExecution,
	ClientStopExecution,
	ClientStartEvaluation,
	ClientStopEvaluation,
	ClientStartOptimization,
	ClientStopOptimization,
}

// ClientEvent is a client -> server message. Payload fields are sent flat,
// next to "type". Payload shapes belong to the caller.
type ClientEvent struct {
	Type    ClientKind
	Payload map[string]any
}

// NewClientEvent builds an event of the given kind.
func NewClientEvent(kind ClientKind, payload map[string]any) ClientEvent {
	return ClientEvent{Type: kind, Payload: payload}
}

// IsAlive is the liveness probe.
func IsAlive() ClientEvent {
	return ClientEvent{Type: ClientIsAlive}
}

// ParseClientKind validates a kind name.
func ParseClientKind(name string) (ClientKind, error) {
	for _, k := range ClientKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown client event kind %q", name)
}

// MarshalJSON flattens the payload next to the type tag.
func (e ClientEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, _ := raw["type"].(string)
	if kind == "" {
		return fmt.Errorf("client event missing type")
	}
	delete(raw, "type")
	e.Type = ClientKind(kind)
	e.Payload = nil
	if len(raw) > 0 {
		e.Payload = raw
	}
	return nil
}

// Encode serializes a client event for the transport.
func Encode(e ClientEvent) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("client event missing type")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", e.Type, err)
	}
	return data, nil
}
