package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTransition       EventType = "transition"
	EventMessage          EventType = "message"
	EventProbe            EventType = "probe"
	EventLivenessTimeout  EventType = "liveness_timeout"
	EventReconnect        EventType = "reconnect_scheduled"
	EventAnomaly          EventType = "anomaly"
	EventNotification     EventType = "notification"
	EventStaleRunRejected EventType = "stale_run_rejected"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Project   string    `json:"project,omitempty"`
}

// TransitionEvent records a connection state change.
type TransitionEvent struct {
	EventBase
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
}

// ProtocolEvent records protocol traffic and recovery activity.
// Kind carries the message kind for EventMessage, the severity for
// EventNotification and a short reason for EventAnomaly.
type ProtocolEvent struct {
	EventBase
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// LifecycleHooks defines callbacks for client observability.
// Hooks run on the connection manager's loop and must not block.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
	OnProtocol   func(context.Context, *ProtocolEvent)
}
