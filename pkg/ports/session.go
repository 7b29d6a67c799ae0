package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
)

// Session is the consumer-facing view of one project's connection.
// Driving adapters (HTTP, MCP, Redis mirror) depend on this, never on the
// connection manager itself.
type Session interface {
	// Project is the identifier the connection is scoped to.
	Project() string

	// Status returns the current connection state.
	Status() domain.ConnectionState

	// Snapshot returns the reconciled execution state.
	Snapshot() store.Snapshot

	// Send transmits a client event. It returns domain.ErrNotConnected when
	// no transport is open.
	Send(ctx context.Context, ev protocol.ClientEvent) error

	// SubscribeStatus calls fn on every connection state change and returns an
	// unsubscribe function.
	SubscribeStatus(fn func(domain.ConnectionState)) func()

	// SubscribeChanges calls fn after every store write and returns an
	// unsubscribe function.
	SubscribeChanges(fn func(store.Change)) func()
}
