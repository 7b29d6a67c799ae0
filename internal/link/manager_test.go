package link

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type harness struct {
	t     *testing.T
	m     *Manager
	srv   *memory.Server
	clock *clockwork.FakeClock
	ctx   context.Context

	mu          sync.Mutex
	states      []domain.ConnectionState
	notes       []domain.Notification
	intents     []domain.Intent
	transitions []domain.TransitionEvent
}

func newHarness(t *testing.T, srvOpts ...memory.Option) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	h := &harness{t: t, srv: memory.NewServer(srvOpts...), clock: clockwork.NewFakeClock(), ctx: ctx}
	h.m = New("proj-1", "memory://proj-1", h.srv,
		WithClock(h.clock),
		WithHooks(domain.LifecycleHooks{
			OnTransition: func(_ context.Context, ev *domain.TransitionEvent) {
				h.mu.Lock()
				h.transitions = append(h.transitions, *ev)
				h.mu.Unlock()
			},
		}),
	)
	t.Cleanup(func() { _ = h.m.Close() })

	h.m.SubscribeStatus(func(s domain.ConnectionState) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	_, err := h.m.Attach(ctx, h.sink())
	require.NoError(t, err)
	return h
}

func (h *harness) sink() ports.Sink {
	return ports.SinkFuncs{
		OnNotify: func(_ context.Context, n domain.Notification) {
			h.mu.Lock()
			h.notes = append(h.notes, n)
			h.mu.Unlock()
		},
		OnRequest: func(_ context.Context, i domain.Intent) {
			h.mu.Lock()
			h.intents = append(h.intents, i)
			h.mu.Unlock()
		},
	}
}

func (h *harness) seen(s domain.ConnectionState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, st := range h.states {
		if st == s {
			n++
		}
	}
	return n
}

func (h *harness) notifications() []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Notification(nil), h.notes...)
}

func (h *harness) requested() []domain.Intent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Intent(nil), h.intents...)
}

func (h *harness) waitStatus(want domain.ConnectionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.m.Status() == want }, wait, time.Millisecond,
		"want %s, have %s", want, h.m.Status())
}

func (h *harness) accept() *memory.Peer {
	h.t.Helper()
	peer, err := h.srv.Accept(h.ctx)
	require.NoError(h.t, err)
	return peer
}

func (h *harness) expectProbe(peer *memory.Peer) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, wait)
	defer cancel()
	ev, err := peer.ReceiveEvent(ctx)
	require.NoError(h.t, err, "expected a probe")
	require.Equal(h.t, protocol.ClientIsAlive, ev.Type)
}

func (h *harness) alive(peer *memory.Peer) {
	h.t.Helper()
	require.NoError(h.t, peer.SendEvent(protocol.KindIsAliveResponse, nil))
}

// sync waits until the loop has finished every event queued so far.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.m.Detach(h.ctx, 0))
}

// connected brings the manager to Connected through a manual probe round trip.
func (h *harness) connected() *memory.Peer {
	h.t.Helper()
	require.NoError(h.t, h.m.Connect(h.ctx))
	peer := h.accept()
	h.expectProbe(peer)
	h.waitStatus(domain.ConnectingRuntime)
	h.alive(peer)
	h.waitStatus(domain.Connected)
	return peer
}

func TestManager_LivenessScenario(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Connect(h.ctx))
	peer := h.accept()
	h.expectProbe(peer)
	h.waitStatus(domain.ConnectingRuntime)
	assert.Equal(t, 1, h.seen(domain.ConnectingTransport))

	h.clock.Advance(200 * time.Millisecond)
	h.alive(peer)
	h.waitStatus(domain.Connected)

	h.clock.Advance(30 * time.Second)
	h.expectProbe(peer)

	h.clock.Advance(10 * time.Second)
	h.waitStatus(domain.ConnectingRuntime)
	h.expectProbe(peer)

	h.clock.Advance(time.Second)
	h.alive(peer)
	h.waitStatus(domain.Connected)

	select {
	case <-peer.Closed():
		t.Fatal("liveness must never close the transport")
	default:
	}
	assert.Equal(t, 1, h.srv.Dials())
}

func TestManager_LivenessTimeoutSwitchesCadence(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	h.clock.Advance(30 * time.Second)
	h.expectProbe(peer)
	h.clock.Advance(10 * time.Second)
	h.waitStatus(domain.ConnectingRuntime)
	h.expectProbe(peer)

	h.clock.Advance(5 * time.Second)
	h.expectProbe(peer)
	h.clock.Advance(5 * time.Second)
	h.expectProbe(peer)
	assert.Equal(t, domain.ConnectingRuntime, h.m.Status())
}

func TestManager_AnswerCancelsLivenessTimer(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	h.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h.m.Status() != domain.Connected }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, peer.Probes(), "only the opening probe was sent")
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, peer.SendEvent(protocol.KindComponentStateChange, protocol.ComponentStateChange{
		ComponentID:    "llm",
		ExecutionState: domain.ExecutionState{Status: domain.StatusRunning},
	}))
	require.Eventually(t, func() bool {
		_, ok := h.m.Store().Component("llm")
		return ok
	}, wait, time.Millisecond)

	require.NoError(t, h.m.Connect(h.ctx))
	require.NoError(t, h.m.Connect(h.ctx))

	assert.Equal(t, 1, h.srv.Dials())
	assert.Equal(t, domain.Connected, h.m.Status())
	comp, ok := h.m.Store().Component("llm")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, comp.Status)
}

func TestManager_ReconnectsAfterTransportLoss(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	peer.Close()
	require.Eventually(t, func() bool { return h.seen(domain.Disconnected) == 1 }, wait, time.Millisecond)

	h.clock.Advance(4 * time.Second)
	assert.Never(t, func() bool { return h.srv.Dials() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Advance(time.Second)
	peer = h.accept()
	h.expectProbe(peer)
	h.alive(peer)
	h.waitStatus(domain.Connected)
	assert.Equal(t, 2, h.srv.Dials())
}

func TestManager_RetriesIndefinitelyWithFixedDelay(t *testing.T) {
	h := newHarness(t)
	h.srv.Refuse(errors.New("connection refused"))

	require.NoError(t, h.m.Connect(h.ctx))
	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool { return h.seen(domain.Disconnected) == attempt }, wait, time.Millisecond)
		assert.Equal(t, attempt, h.srv.Dials())
		if attempt == 3 {
			h.srv.Refuse(nil)
		}
		h.clock.Advance(5 * time.Second)
	}

	peer := h.accept()
	h.expectProbe(peer)
	h.alive(peer)
	h.waitStatus(domain.Connected)
	assert.Equal(t, 4, h.srv.Dials())
}

func TestManager_DisconnectCancelsEverything(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, h.m.Disconnect(h.ctx))
	require.NoError(t, h.m.Disconnect(h.ctx))
	assert.Equal(t, domain.Disconnected, h.m.Status())

	select {
	case <-peer.Closed():
	case <-time.After(wait):
		t.Fatal("transport still open")
	}

	// A late probe answer is ignored.
	_ = peer.SendEvent(protocol.KindIsAliveResponse, nil)

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.srv.Dials() > 1 || h.m.Status() != domain.Disconnected },
		100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_Send(t *testing.T) {
	h := newHarness(t)

	err := h.m.Send(h.ctx, protocol.NewClientEvent(protocol.ClientStartExecution, nil))
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	peer := h.connected()
	require.NoError(t, h.m.Send(h.ctx, protocol.NewClientEvent(protocol.ClientStopExecution, map[string]any{"reason": "user"})))

	ctx, cancel := context.WithTimeout(h.ctx, wait)
	defer cancel()
	ev, err := peer.ReceiveEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientStopExecution, ev.Type)
	assert.Equal(t, "user", ev.Payload["reason"])
}

func TestManager_UnreachableErrorDemotesAndNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, peer.SendEvent(protocol.KindComponentStateChange, protocol.ComponentStateChange{
		ComponentID:    "llm",
		ExecutionState: domain.ExecutionState{Status: domain.StatusRunning},
	}))
	require.NoError(t, peer.SendEvent(protocol.KindExecutionStateChange, protocol.ExecutionStateChange{
		ExecutionState: domain.ExecutionState{Status: domain.StatusError, Error: "LLM provider runtime is unreachable"},
	}))

	h.waitStatus(domain.ConnectingRuntime)
	require.Eventually(t, func() bool { return len(h.notifications()) == 1 }, wait, time.Millisecond)

	comp, _ := h.m.Store().Component("llm")
	assert.Equal(t, domain.StatusError, comp.Status)
	assert.Equal(t, domain.StatusError, h.m.Store().Workflow().Status)
	assert.Never(t, func() bool { return len(h.notifications()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	select {
	case <-peer.Closed():
		t.Fatal("transport must stay open")
	default:
	}
}

func TestManager_SupersededAttachmentIsFenced(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, peer.SendEvent(protocol.KindEvaluationStateChange, protocol.EvaluationStateChange{
		EvaluationState: domain.RunState{Status: domain.StatusRunning, RunID: "r1"},
	}))
	require.NoError(t, peer.SendEvent(protocol.KindEvaluationStateChange, protocol.EvaluationStateChange{
		EvaluationState: domain.RunState{Status: domain.StatusSuccess, RunID: "r1"},
	}))
	require.Eventually(t, func() bool { return h.m.Store().Evaluation().Status == domain.StatusSuccess }, wait, time.Millisecond)

	var mu sync.Mutex
	var second []domain.Intent
	_, err := h.m.Attach(h.ctx, ports.SinkFuncs{OnRequest: func(_ context.Context, i domain.Intent) {
		mu.Lock()
		second = append(second, i)
		mu.Unlock()
	}})
	require.NoError(t, err)

	// The intent was scheduled under the first attachment.
	h.clock.Advance(DefaultResultsDelay)
	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(h.requested()) > 0 || len(second) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_DelayedIntentReachesCurrentAttachment(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, peer.SendEvent(protocol.KindOptimizationStateChange, protocol.OptimizationStateChange{
		OptimizationState: domain.RunState{Status: domain.StatusRunning, RunID: "o1"},
	}))
	require.NoError(t, peer.SendEvent(protocol.KindOptimizationStateChange, protocol.OptimizationStateChange{
		OptimizationState: domain.RunState{Status: domain.StatusSuccess, RunID: "o1"},
	}))
	require.Eventually(t, func() bool { return h.m.Store().Optimization().Status == domain.StatusSuccess }, wait, time.Millisecond)
	h.sync()
	assert.Empty(t, h.requested())

	h.clock.Advance(DefaultResultsDelay)
	require.Eventually(t, func() bool { return len(h.requested()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, domain.IntentOpenOptimizationResults, h.requested()[0].Kind)
}

func TestManager_ReattachKeepsOneProbeCycle(t *testing.T) {
	h := newHarness(t, memory.WithAutoAlive())
	require.NoError(t, h.m.Connect(h.ctx))
	peer := h.accept()
	h.waitStatus(domain.Connected)

	for i := 0; i < 3; i++ {
		_, err := h.m.Attach(h.ctx, ports.NopSink{})
		require.NoError(t, err)
	}

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return peer.Probes() == 2 }, wait, time.Millisecond)
	assert.Never(t, func() bool { return peer.Probes() > 2 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_DetachDropsDeliveries(t *testing.T) {
	h := newHarness(t)
	fence, err := h.m.Attach(h.ctx, h.sink())
	require.NoError(t, err)
	require.NoError(t, h.m.Detach(h.ctx, fence))

	peer := h.connected()
	require.NoError(t, peer.SendEvent(protocol.KindError, protocol.Error{Message: "boom"}))
	assert.Never(t, func() bool { return len(h.notifications()) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_TransitionsFollowTheTable(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()
	peer.Close()
	require.Eventually(t, func() bool { return h.seen(domain.Disconnected) == 1 }, wait, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.transitions)
	for _, tr := range h.transitions {
		assert.True(t, domain.CanTransition(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
		assert.Equal(t, "proj-1", tr.Project)
	}
	assert.Equal(t, []domain.ConnectionState{
		domain.ConnectingTransport, domain.ConnectingRuntime, domain.Connected, domain.Disconnected,
	}, h.states)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	peer := h.connected()

	require.NoError(t, h.m.Close())
	require.NoError(t, h.m.Close())

	select {
	case <-peer.Closed():
	case <-time.After(wait):
		t.Fatal("transport still open after Close")
	}
	assert.ErrorIs(t, h.m.Connect(context.Background()), domain.ErrClosed)
	assert.ErrorIs(t, h.m.Send(context.Background(), protocol.IsAlive()), domain.ErrClosed)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetConn fails its first read like a dropped socket.
type resetConn struct{ ports.Conn }

func (resetConn) ReadMessage() ([]byte, error) { return nil, errors.New("connection reset by peer") }

type resetDialer struct{ ports.Dialer }

func (d resetDialer) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	conn, err := d.Dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return resetConn{conn}, nil
}

func TestManager_LogsCleanCloseAtDebug(t *testing.T) {
	logs := &lockedBuffer{}
	srv := memory.NewServer()
	m := New("proj-1", "memory://proj-1", srv,
		WithClock(clockwork.NewFakeClock()),
		WithLogger(logging.NewWriter(logs, slog.LevelDebug)),
	)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	peer, err := srv.Accept(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Status() == domain.ConnectingRuntime }, wait, time.Millisecond)

	peer.Close()
	require.Eventually(t, func() bool { return strings.Contains(logs.String(), "transport closed by peer") }, wait, time.Millisecond)
	assert.NotContains(t, logs.String(), "transport lost")
	assert.Contains(t, logs.String(), "level=DEBUG msg=\"transport closed by peer\"")
}

func TestManager_LogsTransportFaultAtWarn(t *testing.T) {
	logs := &lockedBuffer{}
	m := New("proj-1", "memory://proj-1", resetDialer{memory.NewServer()},
		WithClock(clockwork.NewFakeClock()),
		WithLogger(logging.NewWriter(logs, slog.LevelDebug)),
	)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return strings.Contains(logs.String(), "transport lost") }, wait, time.Millisecond)
	assert.Contains(t, logs.String(), "level=WARN msg=\"transport lost\"")
	assert.Contains(t, logs.String(), "connection reset by peer")
}
