package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
	"github.com/go-chi/chi/v5"
)

// SSE topics.
const (
	TopicStatus       = "status"
	TopicState        = "state"
	TopicNotification = "notification"
	TopicIntent       = "intent"
)

// Server exposes one session over HTTP: read-only status and snapshot, a live
// event stream, and a send endpoint for control events. It also implements
// ports.Sink so notifications and intents reach stream subscribers.
type Server struct {
	Session ports.Session
	Streams *StreamManager

	logger  *slog.Logger
	metrics http.Handler
	stop    []func()
}

var _ ports.Sink = (*Server)(nil)

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a server and subscribes it to session updates.
// Call Close to unsubscribe.
func NewServer(session ports.Session, opts ...Option) *Server {
	s := &Server{
		Session: session,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger

	s.stop = append(s.stop,
		session.SubscribeStatus(func(state domain.ConnectionState) {
			s.publish(TopicStatus, statusBody{Project: session.Project(), State: state})
		}),
		session.SubscribeChanges(func(c store.Change) {
			s.publish(TopicState, stateBody{Change: c, Snapshot: session.Snapshot()})
		}),
	)
	return s
}

// Close detaches the server from the session.
func (s *Server) Close() {
	for _, stop := range s.stop {
		stop()
	}
	s.stop = nil
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/status", s.GetStatus)
	r.Get("/snapshot", s.GetSnapshot)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/send", s.Send)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusBody struct {
	Project string                 `json:"project"`
	State   domain.ConnectionState `json:"state"`
}

type stateBody struct {
	Change   store.Change   `json:"change"`
	Snapshot store.Snapshot `json:"snapshot"`
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tether-http",
		"version": strings.TrimSpace(tether.Version),
		"project": s.Session.Project(),
	})
}

// GetStatus handles the GET /status request.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusBody{Project: s.Session.Project(), State: s.Session.Status()})
}

// GetSnapshot handles the GET /snapshot request.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

// Send handles the POST /send request. The body is a client event envelope.
func (s *Server) Send(w http.ResponseWriter, r *http.Request) {
	var ev protocol.ClientEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Send: Invalid request body", "error", err)
		return
	}
	if _, err := protocol.ParseClientKind(string(ev.Type)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Session.Send(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Send error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Send failed", "type", ev.Type, "error", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "type": string(ev.Type)})
}

// Notify implements ports.Sink.
func (s *Server) Notify(_ context.Context, n domain.Notification) {
	s.publish(TopicNotification, n)
}

// Request implements ports.Sink.
func (s *Server) Request(_ context.Context, intent domain.Intent) {
	s.publish(TopicIntent, intent)
}

func (s *Server) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("SSE: encode failed", "topic", topic, "error", err)
		return
	}
	s.Streams.Broadcast(Message{Topic: topic, Data: string(data)})
}

// SubscribeEvents handles the GET /events request (SSE). The optional watch
// query parameter is a comma separated list of topics.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	watch := map[string]bool{}
	if raw := r.URL.Query().Get("watch"); raw != "" {
		for _, topic := range strings.Split(raw, ",") {
			watch[strings.TrimSpace(topic)] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE Client Disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watch) > 0 && !watch[msg.Topic] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
