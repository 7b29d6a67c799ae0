package ports

import (
	"context"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// Sink receives the discrete, user-facing side effects of the protocol:
// notifications (toasts) and UI intents. Only the most recent attachment of a
// session receives them.
type Sink interface {
	Notify(ctx context.Context, n domain.Notification)
	Request(ctx context.Context, intent domain.Intent)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnNotify  func(context.Context, domain.Notification)
	OnRequest func(context.Context, domain.Intent)
}

func (s SinkFuncs) Notify(ctx context.Context, n domain.Notification) {
	if s.OnNotify != nil {
		s.OnNotify(ctx, n)
	}
}

func (s SinkFuncs) Request(ctx context.Context, intent domain.Intent) {
	if s.OnRequest != nil {
		s.OnRequest(ctx, intent)
	}
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) Notify(context.Context, domain.Notification) {}
func (NopSink) Request(context.Context, domain.Intent)      {}

// Fanout forwards to every added sink, in order. Sinks can be added after the
// Fanout was attached, which lets adapters built on the session join later.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout returns a Fanout over sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) snapshot() []Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Sink(nil), f.sinks...)
}

func (f *Fanout) Notify(ctx context.Context, n domain.Notification) {
	for _, s := range f.snapshot() {
		s.Notify(ctx, n)
	}
}

func (f *Fanout) Request(ctx context.Context, intent domain.Intent) {
	for _, s := range f.snapshot() {
		s.Request(ctx, intent)
	}
}
