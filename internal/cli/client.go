package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/pkg/adapters/process"
	"github.com/aretw0/tether/pkg/adapters/websocket"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/session"
	"github.com/jonboulle/clockwork"
)

// DefaultWait bounds how long one-shot commands wait for the runtime.
const DefaultWait = 15 * time.Second

// Options carries what every command needs.
type Options struct {
	Config config.Config
	Debug  bool
	JSON   bool
	Out    io.Writer

	// Wait bounds how long status and send wait for the runtime.
	Wait time.Duration

	// Dialer and Clock replace the websocket transport and the real clock.
	Dialer ports.Dialer
	Clock  clockwork.Clock
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) wait() time.Duration {
	if o.Wait <= 0 {
		return DefaultWait
	}
	return o.Wait
}

func (o Options) project() (string, error) {
	if o.Config.Project == "" {
		return "", fmt.Errorf("a project is required (--project, config file or TETHER_PROJECT)")
	}
	return o.Config.Project, nil
}

func newClient(opts Options, logger *slog.Logger, hooks domain.LifecycleHooks) (*tether.Client, error) {
	clientOpts := []tether.Option{
		tether.WithBaseURL(opts.Config.Endpoint),
		tether.WithTiming(opts.Config.LinkTiming()),
		tether.WithLogger(logger),
		tether.WithLifecycleHooks(hooks),
	}
	if strings.HasPrefix(opts.Config.Endpoint, process.Scheme) {
		processOpts, err := processTransport(opts)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, processOpts...)
	} else {
		clientOpts = append(clientOpts, tether.WithDialer(websocketDialer(opts.Config)))
	}
	if opts.Dialer != nil {
		clientOpts = append(clientOpts, tether.WithDialer(opts.Dialer))
	}
	if opts.Clock != nil {
		clientOpts = append(clientOpts, tether.WithClock(opts.Clock))
	}
	return tether.New(clientOpts...)
}

// websocketDialer applies the configured upgrade headers.
func websocketDialer(cfg config.Config) *websocket.Dialer {
	var opts []websocket.Option
	for key, value := range cfg.Headers {
		opts = append(opts, websocket.WithHeader(key, value))
	}
	return websocket.NewDialer(opts...)
}

// processTransport launches the runtime named by a process:// endpoint
// instead of dialing a websocket.
func processTransport(opts Options) ([]tether.Option, error) {
	runtimes, err := process.LoadRuntimes(opts.Config.Runtimes)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(strings.TrimPrefix(opts.Config.Endpoint, process.Scheme), "/")
	if _, ok := runtimes[name]; !ok && opts.Dialer == nil {
		return nil, fmt.Errorf("runtime %q is not listed in %s", name, opts.Config.Runtimes)
	}

	dialer := process.NewDialer(process.WithRegistry(runtimes), process.WithStderr(os.Stderr))
	return []tether.Option{
		tether.WithDialer(dialer),
		tether.WithEndpointFunc(func(project string) (string, error) {
			return process.Endpoint(name) + "/" + project, nil
		}),
	}, nil
}

// waitConnected blocks until the session is Connected.
func waitConnected(ctx context.Context, h *session.Handle, timeout time.Duration) error {
	ready := make(chan struct{}, 1)
	stop := h.SubscribeStatus(func(s domain.ConnectionState) {
		if s == domain.Connected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer stop()

	if h.Status() == domain.Connected {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("runtime did not answer within %s (state %s)", timeout, h.Status())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connectOnce attaches, connects and waits for the runtime.
func connectOnce(ctx context.Context, opts Options, logger *slog.Logger) (*tether.Client, *session.Handle, error) {
	project, err := opts.project()
	if err != nil {
		return nil, nil, err
	}

	hooks := domain.LifecycleHooks{}
	if opts.Debug {
		hooks = createDebugHooks(logger)
	}
	client, err := newClient(opts, logger, hooks)
	if err != nil {
		return nil, nil, err
	}

	h, err := client.Attach(ctx, project, nil)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if err := h.Connect(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	if err := waitConnected(ctx, h, opts.wait()); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, h, nil
}
