package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/tether/internal/link"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

// Factory builds the connection manager for a project.
type Factory func(project string) *link.Manager

// entry holds the manager and the reference count.
type entry struct {
	mgr  *link.Manager
	refs int
}

// Coordinator shares one Manager per project between attachments.
// It uses reference counting to close managers nobody holds.
type Coordinator struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger configures a logger for the Coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator building managers with factory.
func NewCoordinator(factory Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		factory: factory,
		entries: make(map[string]*entry),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach returns a handle on project's connection and makes sink the
// receiver of its notifications and intents. A nil sink discards them.
func (c *Coordinator) Attach(ctx context.Context, project string, sink ports.Sink) (*Handle, error) {
	e, err := c.acquire(project)
	if err != nil {
		return nil, err
	}

	fence, err := e.mgr.Attach(ctx, sink)
	if err != nil {
		c.release(project)
		return nil, err
	}
	c.logger.Debug("attached", "project", project, "fence", fence)
	return &Handle{c: c, mgr: e.mgr, fence: fence}, nil
}

// acquire gets or creates the entry and increments its reference count.
// The caller MUST call release(project) when done.
func (c *Coordinator) acquire(project string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, domain.ErrClosed
	}
	e, ok := c.entries[project]
	if !ok {
		e = &entry{mgr: c.factory(project)}
		c.entries[project] = e
		c.logger.Info("connection manager created", "project", project)
	}
	e.refs++
	return e, nil
}

// release decrements the reference count and closes the manager at zero.
func (c *Coordinator) release(project string) {
	c.mu.Lock()
	e, ok := c.entries[project]
	if !ok {
		c.mu.Unlock()
		return // Should not happen if paired correctly
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, project)
	c.mu.Unlock()

	if err := e.mgr.Close(); err != nil {
		c.logger.Warn("failed to close connection manager", "project", project, "err", err)
	}
	c.logger.Info("connection manager closed", "project", project)
}

// Projects lists projects with a live manager.
func (c *Coordinator) Projects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Refs returns how many handles hold project's manager.
func (c *Coordinator) Refs(project string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[project]; ok {
		return e.refs
	}
	return 0
}

// Close closes every manager. Outstanding handles fail with domain.ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.closed = true
	c.mu.Unlock()

	for _, e := range entries {
		_ = e.mgr.Close()
	}
	return nil
}
