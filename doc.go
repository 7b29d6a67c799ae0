/*
Package tether keeps a dashboard in sync with a remote LLM-application runtime.

It maintains one logical connection per project, probes the runtime for
liveness, reconnects after transport loss and reconciles the execution state
the runtime streams back (workflow, components, evaluation and optimization
runs) into a Store that consumers read and subscribe to.

# Concept

A connection has four states: disconnected, connecting_transport,
connecting_runtime and connected. The transport (a websocket by default) being
open is not enough to be connected: the runtime must also answer an is_alive
probe. Probes are sent every 5s while connecting and every 30s once connected;
an unanswered probe demotes the connection after 10s. A lost transport is
retried every 5s until Disconnect.

Server messages are reduced into store mutations, user-facing notifications
and UI intents. Notifications and intents go to the most recent attachment of
a project only, so a stale view never receives them.

# Usage

	client, err := tether.New(tether.WithBaseURL("https://studio.example.com/ws"))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	h, err := client.Attach(ctx, "my-flow", ports.SinkFuncs{
		OnNotify: func(ctx context.Context, n domain.Notification) {
			log.Printf("[%s] %s: %s", n.Severity, n.Title, n.Message)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer h.Detach(ctx)

	if err := h.Connect(ctx); err != nil {
		log.Fatal(err)
	}

	h.SubscribeChanges(func(c store.Change) {
		log.Printf("%s changed: %+v", c.Target, h.Snapshot().Workflow)
	})

	err = h.Send(ctx, protocol.NewClientEvent(protocol.ClientStartExecution, nil))

# Adapters

The same session can be exposed over HTTP with SSE (pkg/adapters/http), as an
MCP server (pkg/adapters/mcp) and mirrored into Redis (pkg/adapters/redis).
*/
package tether
