package tether

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/internal/link"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/adapters/websocket"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/session"
	"github.com/jonboulle/clockwork"
)

// Timing holds the protocol cadences and timeouts.
type Timing = link.Timing

// DefaultTiming returns the standard protocol timing.
func DefaultTiming() Timing { return link.DefaultTiming() }

// Client owns one connection per project and hands out attachments to them.
type Client struct {
	coord *session.Coordinator

	endpoint func(project string) (string, error)
	dialer   ports.Dialer
	clock    clockwork.Clock
	timing   Timing
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
}

// Option defines a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL derives each project's endpoint from base. http and https
// bases map to ws and wss.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.endpoint = func(project string) (string, error) {
			return websocket.EndpointFor(base, project)
		}
	}
}

// WithEndpointFunc sets how a project maps to an endpoint.
func WithEndpointFunc(fn func(project string) (string, error)) Option {
	return func(c *Client) {
		c.endpoint = fn
	}
}

// WithDialer replaces the websocket transport.
func WithDialer(d ports.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithClock drives every timer from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithTiming overrides the protocol timing. Zero or negative fields keep their
// defaults.
func WithTiming(t Timing) Option {
	return func(c *Client) {
		c.timing = t
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Client) {
		c.hooks = hooks
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. An endpoint is required, through WithBaseURL or
// WithEndpointFunc.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		clock:  clockwork.NewRealClock(),
		timing: link.DefaultTiming(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.endpoint == nil {
		return nil, errors.New("an endpoint is required (WithBaseURL or WithEndpointFunc)")
	}
	if c.dialer == nil {
		c.dialer = websocket.NewDialer()
	}

	c.coord = session.NewCoordinator(c.newManager, session.WithLogger(c.logger))
	return c, nil
}

func (c *Client) newManager(project string) *link.Manager {
	endpoint, err := c.endpoint(project)
	if err != nil {
		// The manager reports the dial failure and keeps retrying.
		c.logger.Error("invalid endpoint", "project", project, "err", err)
	}
	return link.New(project, endpoint, c.dialer,
		link.WithLogger(c.logger),
		link.WithClock(c.clock),
		link.WithTiming(c.timing),
		link.WithHooks(c.hooks),
	)
}

// Attach binds sink to the project's connection and returns a handle for it.
// The latest attachment of a project is the one that receives notifications
// and intents. A nil sink discards them.
func (c *Client) Attach(ctx context.Context, project string, sink ports.Sink) (*session.Handle, error) {
	if project == "" {
		return nil, errors.New("project is required")
	}
	if _, err := c.endpoint(project); err != nil {
		return nil, fmt.Errorf("invalid endpoint for %q: %w", project, err)
	}
	if sink == nil {
		sink = ports.NopSink{}
	}
	return c.coord.Attach(ctx, project, sink)
}

// Projects lists the projects with a live connection.
func (c *Client) Projects() []string {
	return c.coord.Projects()
}

// Close tears down every connection.
func (c *Client) Close() error {
	return c.coord.Close()
}
