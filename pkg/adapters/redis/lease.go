package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Lease is exclusive writer ownership of one project's mirror.
type Lease struct {
	client *backend.Client
	key    string
	token  string
	ttl    time.Duration
}

// TTL is the lease lifetime, renewed by Refresh.
func (l *Lease) TTL() time.Duration { return l.ttl }

// Release gives the lease back. Releasing a lease that expired and was taken
// by someone else is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}

// Refresh extends the lease by its TTL. It returns ErrLeaseLost if the lease
// expired in the meantime.
func (l *Lease) Refresh(ctx context.Context) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis error refreshing lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Acquire blocks until this process owns the writer lease for project, so
// only one mirror writes a given project at a time. The lease expires after
// ttl unless refreshed.
func (m *Mirror) Acquire(ctx context.Context, project string, ttl time.Duration) (*Lease, error) {
	l := &Lease{
		client: m.client,
		key:    m.prefix + "lease:" + project,
		token:  uuid.NewString(),
		ttl:    ttl,
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := m.client.SetNX(ctx, l.key, l.token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lease: %w", err)
		}
		if ok {
			return l, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
