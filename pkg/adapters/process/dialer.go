package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/aretw0/tether/pkg/ports"
)

// Scheme prefixes endpoints served by this adapter: process://<name>.
const Scheme = "process://"

// MaxMessageSize bounds one line read from the runtime.
const MaxMessageSize = 1 << 20

// ErrUnknownRuntime is returned when dialing a name that was never registered.
var ErrUnknownRuntime = errors.New("process runtime not registered")

// Dialer launches registered local runtimes. Each Dial starts one child
// process; messages are single JSON lines on its stdin and stdout.
// It follows a strict registry (allow-list): only registered commands run.
type Dialer struct {
	mu       sync.RWMutex
	registry map[string]RuntimeConfig
	baseDir  string
	stderr   io.Writer
}

// Option configures the Dialer.
type Option func(*Dialer)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(runtimes map[string]RuntimeConfig) Option {
	return func(d *Dialer) {
		for name, rt := range runtimes {
			rt.Name = name
			d.registry[name] = rt
		}
	}
}

// WithBaseDir sets the working directory for launched processes.
func WithBaseDir(dir string) Option {
	return func(d *Dialer) {
		d.baseDir = dir
	}
}

// WithStderr forwards the runtime's stderr. Discarded by default.
func WithStderr(w io.Writer) Option {
	return func(d *Dialer) {
		d.stderr = w
	}
}

// NewDialer creates a new process Dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		registry: make(map[string]RuntimeConfig),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ ports.Dialer = (*Dialer)(nil)

// Register adds a trusted command to the allow-list.
func (d *Dialer) Register(name string, command string, args ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry[name] = RuntimeConfig{Name: name, Command: command, Args: args}
}

// Endpoint returns the endpoint that dials the runtime registered as name.
func Endpoint(name string) string {
	return Scheme + name
}

// Dial starts the runtime named by endpoint. The process lives until the
// connection is closed; ctx only bounds the start.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A project suffix (process://name/project) is passed through the environment.
	name, project, _ := strings.Cut(strings.TrimPrefix(endpoint, Scheme), "/")

	d.mu.RLock()
	rt, ok := d.registry[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuntime, name)
	}

	cmd := exec.Command(rt.Command, rt.Args...)
	cmd.Dir = d.baseDir
	cmd.Stderr = d.stderr

	env := cmd.Environ()
	for k, v := range rt.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if project != "" {
		env = append(env, "TETHER_PROJECT="+project)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin of %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout of %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)

	return &Conn{cmd: cmd, stdin: stdin, scanner: scanner}, nil
}

// Conn is one running runtime process.
type Conn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	writeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// ReadMessage returns the next line the runtime printed.
func (c *Conn) ReadMessage() ([]byte, error) {
	if c.scanner.Scan() {
		return append([]byte(nil), c.scanner.Bytes()...), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// WriteMessage writes data as one line.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return os.ErrClosed
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to runtime: %w", err)
	}
	return nil
}

// Close stops the process. Pending reads return an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		_ = c.stdin.Close()
		c.writeMu.Unlock()

		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	})
	return nil
}
