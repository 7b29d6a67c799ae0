package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/store"
	backend "github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned by Lease.Refresh once another owner took over.
var ErrLeaseLost = errors.New("mirror lease lost")

const (
	DefaultPrefix = "tether:"
	DefaultTTL    = 24 * time.Hour
)

// Mirror writes snapshots and publishes session events.
type Mirror struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures the Mirror.
type Option func(*Mirror)

// WithPrefix sets the key prefix. Defaults to "tether:".
func WithPrefix(prefix string) Option {
	return func(m *Mirror) {
		m.prefix = prefix
	}
}

// WithTTL sets the snapshot expiration. Zero keeps keys forever.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mirror) {
		m.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = logger
	}
}

// New connects to the Redis server at addr.
func New(addr string, opts ...Option) *Mirror {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Mirror {
	m := &Mirror{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close closes the underlying client.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func (m *Mirror) key(project string) string {
	return m.prefix + project
}

func (m *Mirror) indexKey() string {
	return m.prefix + "index"
}

// Channel returns the pub/sub channel events for project are published on.
func (m *Mirror) Channel(project string) string {
	return m.prefix + project + ":events"
}

// Save stores the snapshot of project.
func (m *Mirror) Save(ctx context.Context, project string, snap store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.key(project), data, m.ttl)
	pipe.SAdd(ctx, m.indexKey(), project)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error saving snapshot: %w", err)
	}
	return nil
}

// Load returns the last saved snapshot of project, or
// domain.ErrSnapshotNotFound.
func (m *Mirror) Load(ctx context.Context, project string) (store.Snapshot, error) {
	data, err := m.client.Get(ctx, m.key(project)).Bytes()
	if errors.Is(err, backend.Nil) {
		return store.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("redis error loading snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// List returns the projects with a live snapshot. Expired entries are pruned
// from the index.
func (m *Mirror) List(ctx context.Context) ([]string, error) {
	projects, err := m.client.SMembers(ctx, m.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error listing projects: %w", err)
	}

	live := make([]string, 0, len(projects))
	for _, project := range projects {
		n, err := m.client.Exists(ctx, m.key(project)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error listing projects: %w", err)
		}
		if n == 0 {
			m.client.SRem(ctx, m.indexKey(), project)
			continue
		}
		live = append(live, project)
	}
	sort.Strings(live)
	return live, nil
}

// Envelope is the payload published on the events channel.
type Envelope struct {
	Topic   string          `json:"topic"`
	Project string          `json:"project"`
	Data    json.RawMessage `json:"data"`
}

// Publish sends one event on the project channel.
func (m *Mirror) Publish(ctx context.Context, project, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", topic, err)
	}
	msg, err := json.Marshal(Envelope{Topic: topic, Project: project, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", topic, err)
	}
	if err := m.client.Publish(ctx, m.Channel(project), msg).Err(); err != nil {
		return fmt.Errorf("redis error publishing %s: %w", topic, err)
	}
	return nil
}
