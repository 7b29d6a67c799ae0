package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/presentation/tui"
	httpadapter "github.com/aretw0/tether/pkg/adapters/http"
	"github.com/aretw0/tether/pkg/adapters/redis"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/observability"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backend "github.com/redis/go-redis/v9"
)

// leaseTTL bounds how long a crashed watcher blocks other mirrors.
const leaseTTL = 30 * time.Second

// WatchOptions adds the long-running surfaces to Options.
type WatchOptions struct {
	Options

	// Serve exposes the session over HTTP at Config.HTTP.Addr.
	Serve bool
	// Mirror writes the session to Redis at Config.Redis.Addr.
	Mirror bool
}

// RunWatch keeps the project connected and prints status changes,
// notifications and intents until ctx is done.
func RunWatch(ctx context.Context, opts WatchOptions) error {
	logger, err := createLogger(opts.Config.LogLevel, opts.Debug)
	if err != nil {
		return err
	}
	project, err := opts.project()
	if err != nil {
		return err
	}
	out := &lockedWriter{w: opts.out()}

	if !opts.JSON {
		tui.PrintBanner(out, tether.Version)
	}

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	hooks := metrics.Hooks()
	if opts.Debug {
		hooks = observability.Chain(hooks, createDebugHooks(logger))
	}

	client, err := newClient(opts.Options, logger, hooks)
	if err != nil {
		return err
	}
	defer client.Close()

	fanout := ports.NewFanout(printerSink(out, opts.JSON))
	h, err := client.Attach(ctx, project, fanout)
	if err != nil {
		return err
	}

	stop := h.SubscribeStatus(func(s domain.ConnectionState) {
		if opts.JSON {
			out.writeJSON(map[string]any{"event": "status", "project": project, "state": s})
			return
		}
		fmt.Fprintln(out, tui.StatusLine(project, s))
	})
	defer stop()

	if opts.Serve {
		shutdown, err := serveHTTP(ctx, opts.Config.HTTP.Addr, h, fanout, registry, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		if !opts.JSON {
			printSystemMessage(out, "Serving on http://%s", opts.Config.HTTP.Addr)
		}
	}

	if opts.Mirror && opts.Config.Redis.Addr != "" {
		closeMirror, err := startMirror(ctx, opts, h, fanout, logger)
		if err != nil {
			logger.Warn("Redis mirror disabled", "err", err)
		} else {
			defer closeMirror()
		}
	}

	if err := h.Connect(ctx); err != nil {
		return err
	}
	logger.Info("Watching", "project", project, "endpoint", opts.Config.Endpoint)

	<-ctx.Done()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Detach(disconnectCtx); err != nil {
		logger.Warn("Detach failed", "err", err)
	}
	if !opts.JSON {
		fmt.Fprintln(out)
		printSystemMessage(out, "Stopped watching '%s'.", project)
	}
	return handleExecutionError(ctx.Err())
}

func printerSink(out *lockedWriter, jsonMode bool) ports.Sink {
	return ports.SinkFuncs{
		OnNotify: func(_ context.Context, n domain.Notification) {
			if jsonMode {
				out.writeJSON(map[string]any{"event": "notification", "notification": n})
				return
			}
			fmt.Fprintln(out, tui.NotificationLine(n))
		},
		OnRequest: func(_ context.Context, intent domain.Intent) {
			if jsonMode {
				out.writeJSON(map[string]any{"event": "intent", "intent": intent})
				return
			}
			fmt.Fprintln(out, tui.IntentLine(intent))
		},
	}
}

func serveHTTP(ctx context.Context, addr string, h *session.Handle, fanout *ports.Fanout, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	srv := httpadapter.NewServer(h,
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	fanout.Add(srv)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
		}
	}()

	return func() {
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("could not stop HTTP server gracefully", "err", err)
		}
	}, nil
}

func startMirror(ctx context.Context, opts WatchOptions, h *session.Handle, fanout *ports.Fanout, logger *slog.Logger) (func(), error) {
	cfg := opts.Config.Redis
	mirror := redis.NewFromClient(
		backend.NewClient(&backend.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		redis.WithPrefix(cfg.Prefix),
		redis.WithTTL(cfg.TTL),
		redis.WithLogger(logger),
	)

	acquireCtx, cancel := context.WithTimeout(ctx, opts.wait())
	defer cancel()
	lease, err := mirror.Acquire(acquireCtx, h.Project(), leaseTTL)
	if err != nil {
		mirror.Close()
		return nil, fmt.Errorf("another process mirrors %q: %w", h.Project(), err)
	}

	binding := mirror.Bind(ctx, h)
	fanout.Add(binding)

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		ticker := time.NewTicker(lease.TTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := lease.Refresh(refreshCtx); err != nil {
					logger.Warn("Redis mirror lease refresh failed", "err", err)
				}
			}
		}
	}()

	return func() {
		stopRefresh()
		<-refreshed
		binding.Close()
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("Redis mirror lease release failed", "err", err)
		}
		mirror.Close()
	}, nil
}

// lockedWriter serializes output from status callbacks and the sink.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = l.Write(append(data, '\n'))
}
