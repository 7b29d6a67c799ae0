package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tether/internal/link"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
)

// Handle is one attachment to a project's shared connection.
type Handle struct {
	c     *Coordinator
	mgr   *link.Manager
	fence uint64

	once     sync.Once
	detached atomic.Bool
}

var _ ports.Session = (*Handle)(nil)

// Project returns the project identifier.
func (h *Handle) Project() string { return h.mgr.Project() }

// Fence is the attachment fence assigned to this handle.
func (h *Handle) Fence() uint64 { return h.fence }

// Connect opens the shared connection if it is not already open.
func (h *Handle) Connect(ctx context.Context) error {
	if h.isDetached() {
		return domain.ErrClosed
	}
	return h.mgr.Connect(ctx)
}

// Disconnect closes the shared connection for every handle.
func (h *Handle) Disconnect(ctx context.Context) error {
	if h.isDetached() {
		return domain.ErrClosed
	}
	return h.mgr.Disconnect(ctx)
}

// Send transmits a client event on the shared connection.
func (h *Handle) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if h.isDetached() {
		return domain.ErrClosed
	}
	return h.mgr.Send(ctx, ev)
}

func (h *Handle) Status() domain.ConnectionState { return h.mgr.Status() }

func (h *Handle) Store() *store.Store { return h.mgr.Store() }

func (h *Handle) Snapshot() store.Snapshot { return h.mgr.Store().Snapshot() }

func (h *Handle) SubscribeStatus(fn func(domain.ConnectionState)) func() {
	return h.mgr.SubscribeStatus(fn)
}

func (h *Handle) SubscribeChanges(fn func(store.Change)) func() {
	return h.mgr.Store().Subscribe(fn)
}

// Detach releases the handle. The last detach for a project closes its
// connection. Safe to call more than once.
func (h *Handle) Detach(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		h.detached.Store(true)
		if derr := h.mgr.Detach(ctx, h.fence); derr != nil && !errors.Is(derr, domain.ErrClosed) {
			err = derr
		}
		h.c.release(h.Project())
	})
	return err
}

func (h *Handle) isDetached() bool {
	return h.detached.Load()
}
