// Package websocket is the production transport: a gorilla/websocket client
// implementing ports.Dialer.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tether/pkg/ports"
	"github.com/gorilla/websocket"
)

const (
	// MaxMessageSize caps a single server message (1MB).
	MaxMessageSize = 1024 * 1024

	// WriteTimeout bounds a single message write.
	WriteTimeout = 10 * time.Second
)

// Dialer opens websocket connections to the runtime.
type Dialer struct {
	// Header is sent with the upgrade request (e.g. cookies set by the host).
	Header http.Header

	dialer websocket.Dialer
}

// Option configures the Dialer.
type Option func(*Dialer)

// WithHeader adds a header to every upgrade request.
func WithHeader(key, value string) Option {
	return func(d *Dialer) {
		if d.Header == nil {
			d.Header = http.Header{}
		}
		d.Header.Add(key, value)
	}
}

// WithHandshakeTimeout bounds the websocket handshake. Zero means no limit.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.dialer.HandshakeTimeout = timeout
	}
}

// NewDialer creates a websocket dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ ports.Dialer = (*Dialer)(nil)

// Dial performs the websocket handshake.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return &Conn{conn: conn}, nil
}

// Conn wraps a gorilla connection. Reads and writes may run concurrently with
// each other; gorilla allows one of each.
type Conn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ReadMessage returns the next text or binary message. A clean close from the
// peer is reported as io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil && IsNormalClose(err) {
		return nil, fmt.Errorf("%w: %v", io.EOF, err)
	}
	return data, err
}

// WriteMessage sends data as one text message.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

// EndpointFor builds the project-scoped endpoint from a base URL. http(s)
// schemes are mapped to ws(s).
func EndpointFor(base, project string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", base, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if project != "" {
		u = u.JoinPath(project)
	}
	return u.String(), nil
}
