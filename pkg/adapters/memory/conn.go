package memory

import (
	"fmt"
	"io"
	"sync"
)

// ErrConnClosed is returned by a closed in-memory connection. It wraps io.EOF
// like any clean close.
var ErrConnClosed = fmt.Errorf("memory: connection closed: %w", io.EOF)

const pipeBuffer = 64

// pipe is the shared state of one in-memory connection.
type pipe struct {
	toClient chan []byte
	toServer chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipe() *pipe {
	return &pipe{
		toClient: make(chan []byte, pipeBuffer),
		toServer: make(chan []byte, pipeBuffer),
		closed:   make(chan struct{}),
	}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

func (p *pipe) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *pipe) write(ch chan []byte, data []byte) error {
	if p.isClosed() {
		return ErrConnClosed
	}
	buf := append([]byte(nil), data...)
	select {
	case ch <- buf:
		return nil
	case <-p.closed:
		return ErrConnClosed
	}
}

func (p *pipe) read(ch chan []byte) ([]byte, error) {
	if p.isClosed() {
		return nil, ErrConnClosed
	}
	select {
	case data := <-ch:
		return data, nil
	case <-p.closed:
		return nil, ErrConnClosed
	}
}

// clientConn is the client end of a pipe; it implements ports.Conn.
type clientConn struct {
	p *pipe
}

func (c *clientConn) ReadMessage() ([]byte, error) { return c.p.read(c.p.toClient) }

func (c *clientConn) WriteMessage(data []byte) error { return c.p.write(c.p.toServer, data) }

func (c *clientConn) Close() error {
	c.p.close()
	return nil
}
