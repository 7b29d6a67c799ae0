package redis

import (
	"context"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/store"
)

// Event topics.
const (
	TopicStatus       = "status"
	TopicState        = "state"
	TopicNotification = "notification"
	TopicIntent       = "intent"
)

type event struct {
	topic string
	data  any
}

// Binding keeps a mirror in sync with one session. Session callbacks only
// enqueue; a single goroutine does the Redis round trips so the connection
// loop never waits on the network.
type Binding struct {
	m       *Mirror
	sess    ports.Session
	project string

	dirty  chan struct{}
	events chan event
	stop   []func()

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ ports.Sink = (*Binding)(nil)

// Bind starts mirroring sess. The current snapshot is saved right away.
func (m *Mirror) Bind(ctx context.Context, sess ports.Session) *Binding {
	ctx, cancel := context.WithCancel(ctx)
	b := &Binding{
		m:       m,
		sess:    sess,
		project: sess.Project(),
		dirty:   make(chan struct{}, 1),
		events:  make(chan event, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.stop = append(b.stop,
		sess.SubscribeStatus(func(state domain.ConnectionState) {
			b.enqueue(event{topic: TopicStatus, data: state})
		}),
		sess.SubscribeChanges(func(c store.Change) {
			b.markDirty()
			b.enqueue(event{topic: TopicState, data: c})
		}),
	)
	b.markDirty()

	go b.run(ctx)
	return b
}

// Notify implements ports.Sink.
func (b *Binding) Notify(_ context.Context, n domain.Notification) {
	b.enqueue(event{topic: TopicNotification, data: n})
}

// Request implements ports.Sink.
func (b *Binding) Request(_ context.Context, intent domain.Intent) {
	b.enqueue(event{topic: TopicIntent, data: intent})
}

// Close stops mirroring after a final save.
func (b *Binding) Close() {
	b.once.Do(func() {
		for _, stop := range b.stop {
			stop()
		}
		b.cancel()
		<-b.done
	})
}

func (b *Binding) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Binding) enqueue(ev event) {
	select {
	case b.events <- ev:
	default:
		b.m.logger.Warn("redis mirror queue full, dropping event", "project", b.project, "topic", ev.topic)
	}
}

func (b *Binding) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.save(context.Background())
			return
		case <-b.dirty:
			b.save(ctx)
		case ev := <-b.events:
			if err := b.m.Publish(ctx, b.project, ev.topic, ev.data); err != nil {
				b.m.logger.Warn("redis publish failed", "project", b.project, "topic", ev.topic, "error", err)
			}
		}
	}
}

func (b *Binding) save(ctx context.Context) {
	if err := b.m.Save(ctx, b.project, b.sess.Snapshot()); err != nil {
		b.m.logger.Warn("redis snapshot save failed", "project", b.project, "error", err)
	}
}
