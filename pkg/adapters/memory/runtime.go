package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
)

// Server is a scripted, in-process runtime. It implements ports.Dialer; every
// successful Dial yields a Peer the test drives by hand.
// Safe for concurrent use.
type Server struct {
	mu        sync.Mutex
	refuse    error
	endpoints []string

	peers     chan *Peer
	dials     atomic.Int64
	autoAlive bool
	echo      bool
}

// Option configures the Server.
type Option func(*Server)

// WithAutoAlive makes every peer answer is_alive probes on its own.
func WithAutoAlive() Option {
	return func(s *Server) {
		s.autoAlive = true
	}
}

// WithEcho makes every peer send each received message straight back.
func WithEcho() Option {
	return func(s *Server) {
		s.echo = true
	}
}

// NewServer creates an in-memory runtime.
func NewServer(opts ...Option) *Server {
	s := &Server{
		peers: make(chan *Peer, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.Dialer = (*Server)(nil)

// Dial opens a new in-memory connection unless the server is refusing.
func (s *Server) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dials.Add(1)

	s.mu.Lock()
	refuse := s.refuse
	s.endpoints = append(s.endpoints, endpoint)
	s.mu.Unlock()
	if refuse != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, refuse)
	}

	p := newPipe()
	peer := &Peer{
		p:        p,
		endpoint: endpoint,
		received: make(chan []byte, 256),
		echo:     s.echo,
	}
	peer.autoAlive.Store(s.autoAlive)
	go peer.pump()

	select {
	case s.peers <- peer:
	default:
		// Nobody is accepting; the peer still serves the connection.
	}
	return &clientConn{p: p}, nil
}

// Refuse makes subsequent dials fail with err. Refuse(nil) accepts again.
func (s *Server) Refuse(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = err
}

// Accept waits for the next dialed connection.
func (s *Server) Accept(ctx context.Context) (*Peer, error) {
	select {
	case peer := <-s.peers:
		return peer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dials counts every Dial call, refused ones included.
func (s *Server) Dials() int {
	return int(s.dials.Load())
}

// Endpoints lists the endpoints dialed so far.
func (s *Server) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endpoints...)
}

// Peer is the runtime end of one connection.
type Peer struct {
	p         *pipe
	endpoint  string
	received  chan []byte
	echo      bool
	autoAlive atomic.Bool
	probes    atomic.Int64
}

// Endpoint is the endpoint the client dialed.
func (pe *Peer) Endpoint() string { return pe.endpoint }

// SetAutoAlive toggles automatic is_alive responses. Turning it off simulates
// a runtime that hangs behind an open transport.
func (pe *Peer) SetAutoAlive(on bool) { pe.autoAlive.Store(on) }

// Probes counts is_alive messages received.
func (pe *Peer) Probes() int { return int(pe.probes.Load()) }

// Send writes a raw message to the client.
func (pe *Peer) Send(data []byte) error {
	return pe.p.write(pe.p.toClient, data)
}

// SendEvent JSON-encodes v (a server event struct or map) and sends it with
// the given type tag.
func (pe *Peer) SendEvent(kind protocol.Kind, v any) error {
	fields := map[string]any{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
	}
	fields["type"] = kind
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return pe.Send(data)
}

// Receive waits for the next message the client sent.
func (pe *Peer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-pe.received:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveEvent waits for the next client message and decodes it.
func (pe *Peer) ReceiveEvent(ctx context.Context) (protocol.ClientEvent, error) {
	var ev protocol.ClientEvent
	data, err := pe.Receive(ctx)
	if err != nil {
		return ev, err
	}
	err = json.Unmarshal(data, &ev)
	return ev, err
}

// Close drops the transport, as a crashed runtime or network would.
func (pe *Peer) Close() { pe.p.close() }

// Closed is closed once either side closes the connection.
func (pe *Peer) Closed() <-chan struct{} { return pe.p.closed }

func (pe *Peer) pump() {
	for {
		data, err := pe.p.read(pe.p.toServer)
		if err != nil {
			return
		}
		if pe.echo {
			_ = pe.Send(data)
			continue
		}

		var ev protocol.ClientEvent
		if json.Unmarshal(data, &ev) == nil && ev.Type == protocol.ClientIsAlive {
			pe.probes.Add(1)
			if pe.autoAlive.Load() {
				_ = pe.SendEvent(protocol.KindIsAliveResponse, nil)
				continue
			}
		}

		select {
		case pe.received <- data:
		case <-pe.p.closed:
			return
		}
	}
}
