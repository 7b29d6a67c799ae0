package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Kind tags a server -> client event.
type Kind string

const (
	KindIsAliveResponse         Kind = "is_alive_response"
	KindComponentStateChange    Kind = "component_state_change"
	KindExecutionStateChange    Kind = "execution_state_change"
	KindEvaluationStateChange   Kind = "evaluation_state_change"
	KindOptimizationStateChange Kind = "optimization_state_change"
	KindError                   Kind = "error"
	KindDebug                   Kind = "debug"
	KindDone                    Kind = "done"
)

// ServerEvent is the closed set of server -> client events.
// Unrecognized kinds decode to Unknown rather than failing.
type ServerEvent interface {
	Kind() Kind
	serverEvent()
}

type IsAliveResponse struct{}

type ComponentStateChange struct {
	ComponentID    string                `json:"component_id"`
	ExecutionState domain.ExecutionState `json:"execution_state"`
}

type ExecutionStateChange struct {
	ExecutionState domain.ExecutionState `json:"execution_state"`
}

type EvaluationStateChange struct {
	EvaluationState domain.RunState `json:"evaluation_state"`
}

type OptimizationStateChange struct {
	OptimizationState domain.RunState `json:"optimization_state"`
}

// Error is a runtime error not scoped to a run.
type Error struct {
	Message string `json:"message"`
}

type Debug struct {
	Message string `json:"message,omitempty"`
}

type Done struct{}

// Unknown carries a message whose type tag is not recognized.
type Unknown struct {
	Type string
	Raw  []byte
}

func (IsAliveResponse) Kind() Kind         { return KindIsAliveResponse }
func (ComponentStateChange) Kind() Kind    { return KindComponentStateChange }
func (ExecutionStateChange) Kind() Kind    { return KindExecutionStateChange }
func (EvaluationStateChange) Kind() Kind   { return KindEvaluationStateChange }
func (OptimizationStateChange) Kind() Kind { return KindOptimizationStateChange }
func (Error) Kind() Kind                   { return KindError }
func (Debug) Kind() Kind                   { return KindDebug }
func (Done) Kind() Kind                    { return KindDone }
func (u Unknown) Kind() Kind               { return Kind(u.Type) }

func (IsAliveResponse) serverEvent()         {}
func (ComponentStateChange) serverEvent()    {}
func (ExecutionStateChange) serverEvent()    {}
func (EvaluationStateChange) serverEvent()   {}
func (OptimizationStateChange) serverEvent() {}
func (Error) serverEvent()                   {}
func (Debug) serverEvent()                   {}
func (Done) serverEvent()                    {}
func (Unknown) serverEvent()                 {}

// Decode parses one server message. The envelope is a JSON object tagged by
// "type" with the payload fields next to it. Timestamps are RFC 3339 strings.
func Decode(data []byte) (ServerEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	kind, _ := raw["type"].(string)

	var ev ServerEvent
	var err error
	switch Kind(kind) {
	case KindIsAliveResponse:
		ev = IsAliveResponse{}
	case KindComponentStateChange:
		var v ComponentStateChange
		err = decodePayload(raw, &v)
		if err == nil && v.ComponentID == "" {
			err = fmt.Errorf("%w: %s without component_id", domain.ErrMalformedMessage, kind)
		}
		ev = v
	case KindExecutionStateChange:
		var v ExecutionStateChange
		err = decodePayload(raw, &v)
		ev = v
	case KindEvaluationStateChange:
		var v EvaluationStateChange
		err = decodePayload(raw, &v)
		ev = v
	case KindOptimizationStateChange:
		var v OptimizationStateChange
		err = decodePayload(raw, &v)
		ev = v
	case KindError:
		var v Error
		err = decodePayload(raw, &v)
		ev = v
	case KindDebug:
		var v Debug
		err = decodePayload(raw, &v)
		ev = v
	case KindDone:
		ev = Done{}
	default:
		return Unknown{Type: kind, Raw: data}, nil
	}

	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return nil
}
