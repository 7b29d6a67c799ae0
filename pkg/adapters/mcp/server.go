package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StateURI is the resource exposing the reconciled snapshot.
const StateURI = "tether://state"

// StatusResponse is the result of the connection_status tool.
type StatusResponse struct {
	Project string                 `json:"project" jsonschema_description:"Project the connection is scoped to"`
	State   domain.ConnectionState `json:"state" jsonschema_description:"Connection state"`
}

// Server exposes a session to MCP clients. It also implements ports.Sink and
// forwards notifications as MCP log messages.
type Server struct {
	session   ports.Session
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

var _ ports.Sink = (*Server)(nil)

// NewServer creates a new MCP Server instance.
func NewServer(session ports.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		session: session,
		logger:  logger,
		mcpServer: server.NewMCPServer("tether-mcp", strings.TrimSpace(tether.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithLogging(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Notify implements ports.Sink.
func (s *Server) Notify(_ context.Context, n domain.Notification) {
	level := "info"
	if n.Severity == domain.SeverityError {
		level = "error"
	}
	s.mcpServer.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  level,
		"logger": "tether",
		"data":   n,
	})
}

// Request implements ports.Sink. UI intents have no MCP counterpart.
func (s *Server) Request(context.Context, domain.Intent) {}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("connection_status",
		mcp.WithDescription("Get the state of the connection to the runtime."),
		mcp.WithOutputSchema[StatusResponse](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("execution_state",
		mcp.WithDescription("Get the reconciled execution state: workflow, components, evaluation and optimization."),
		mcp.WithString("component_id", mcp.Description("Return only this component (optional)")),
	), s.handleExecutionState)

	kinds := make([]string, 0, len(protocol.ClientKinds))
	for _, k := range protocol.ClientKinds {
		kinds = append(kinds, string(k))
	}
	s.mcpServer.AddTool(mcp.NewTool("send_event",
		mcp.WithDescription("Send a control event to the runtime."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Event type"), mcp.Enum(kinds...)),
		mcp.WithString("payload", mcp.Description("JSON object sent next to the type (optional)")),
	), s.handleSend)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StatusResponse, error) {
	return StatusResponse{Project: s.session.Project(), State: s.session.Status()}, nil
}

func (s *Server) handleExecutionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.session.Snapshot()

	var v any = snap
	if id := request.GetString("component_id", ""); id != "" {
		st, ok := snap.Components[id]
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown component %q", id)), nil
		}
		v = st
	}

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := protocol.ParseClientKind(request.GetString("type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload map[string]any
	if raw := request.GetString("payload", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("payload is not a JSON object: %v", err)), nil
		}
	}

	if err := s.session.Send(ctx, protocol.NewClientEvent(kind, payload)); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			return mcp.NewToolResultError("runtime is not connected"), nil
		}
		s.logger.Error("MCP send failed", "type", kind, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("sent %s", kind)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StateURI, "Execution State",
		mcp.WithMIMEType("application/json"),
	), s.readState)
}

func (s *Server) readState(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.session.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StateURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
