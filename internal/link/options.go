package link

import (
	"log/slog"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/store"
	"github.com/jonboulle/clockwork"
)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures the base logger. The manager adds project and conn_id.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock injects the clock used for every timer.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithTiming overrides the protocol timing. Zero fields keep their default.
func WithTiming(t Timing) Option {
	return func(m *Manager) {
		m.timing = t.withDefaults()
	}
}

// WithHooks registers observability callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// WithStore makes the manager reconcile into an existing store.
func WithStore(st *store.Store) Option {
	return func(m *Manager) {
		m.store = st
	}
}
