package cli

import (
	"context"

	mcpadapter "github.com/aretw0/tether/pkg/adapters/mcp"
	"github.com/aretw0/tether/pkg/ports"
)

// RunMCP serves the project over MCP. With an empty sseAddr it speaks over
// Stdin/Stdout; logs go to Stderr either way.
func RunMCP(ctx context.Context, opts Options, sseAddr string) error {
	logger, err := createLogger(opts.Config.LogLevel, opts.Debug)
	if err != nil {
		return err
	}
	project, err := opts.project()
	if err != nil {
		return err
	}

	client, err := newClient(opts, logger, createDebugHooks(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	fanout := ports.NewFanout()
	h, err := client.Attach(ctx, project, fanout)
	if err != nil {
		return err
	}

	srv := mcpadapter.NewServer(h, logger)
	fanout.Add(srv)

	if err := h.Connect(ctx); err != nil {
		return err
	}

	if sseAddr != "" {
		return handleExecutionError(srv.ServeSSE(ctx, sseAddr))
	}
	return srv.ServeStdio()
}
