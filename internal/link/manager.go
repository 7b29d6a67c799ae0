package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tether/internal/dispatch"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const inboxSize = 64

// Manager owns one physical connection per project and drives its
// ConnectionState. All mutable fields below the inbox are owned by the loop
// goroutine.
type Manager struct {
	project  string
	endpoint string
	dialer   ports.Dialer

	clock  clockwork.Clock
	timing Timing
	hooks  domain.LifecycleHooks
	logger *slog.Logger
	store  *store.Store

	inbox  chan event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	status  atomic.Int32
	subMu   sync.Mutex
	subs    map[int]func(domain.ConnectionState)
	nextSub int

	// loop-owned
	state       domain.ConnectionState
	dispatcher  *dispatch.Dispatcher
	liveness    *Liveness
	reconnector *Reconnector
	conn        ports.Conn
	connGen     uint64
	connLog     *slog.Logger
	dialing     bool
	dialCancel  context.CancelFunc
	fence       uint64
	sink        ports.Sink
	intents     map[uint64]clockwork.Timer
	nextIntent  uint64
	closed      bool
}

// New creates a manager for project and starts its loop. It does not connect.
func New(project, endpoint string, dialer ports.Dialer, opts ...Option) *Manager {
	m := &Manager{
		project:  project,
		endpoint: endpoint,
		dialer:   dialer,
		clock:    clockwork.NewRealClock(),
		timing:   DefaultTiming(),
		logger:   logging.NewNop(),
		inbox:    make(chan event, inboxSize),
		done:     make(chan struct{}),
		subs:     make(map[int]func(domain.ConnectionState)),
		sink:     ports.NopSink{},
		intents:  make(map[uint64]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = store.New()
	}
	m.logger = m.logger.With("project", project)
	m.connLog = m.logger
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.dispatcher = dispatch.New(m.store,
		dispatch.WithLogger(m.logger),
		dispatch.WithResultsDelay(m.timing.ResultsDelay),
	)
	m.liveness = NewLiveness(m.clock, m.timing, m.post)
	m.reconnector = NewReconnector(m.clock, m.timing.ReconnectDelay, m.post)

	go m.run()
	return m
}

// Project returns the project the connection is scoped to.
func (m *Manager) Project() string { return m.project }

// Store returns the reconciled execution state.
func (m *Manager) Store() *store.Store { return m.store }

// Status returns the current connection state. Safe from any goroutine.
func (m *Manager) Status() domain.ConnectionState {
	return domain.ConnectionState(m.status.Load())
}

// SubscribeStatus calls fn on every state change, on the manager loop.
// fn must not block or call back into the manager.
func (m *Manager) SubscribeStatus(fn func(domain.ConnectionState)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// Connect opens the transport unless one is already open or opening. It
// returns once the dial has started; the outcome shows up in Status.
func (m *Manager) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.do(ctx, cmdConnect{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Disconnect closes the transport and cancels pending timers. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := m.do(ctx, cmdDisconnect{reply: reply}); err != nil {
		return err
	}
	_, err := awaitValue(ctx, m.done, reply)
	return err
}

// Send transmits ev. It returns domain.ErrNotConnected when no transport is
// open; the event is neither queued nor retried.
func (m *Manager) Send(ctx context.Context, ev protocol.ClientEvent) error {
	reply := make(chan error, 1)
	if err := m.do(ctx, cmdSend{ev: ev, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Attach makes sink the receiver of notifications and intents and returns the
// new attachment fence. Every earlier attachment is superseded: its timers
// and deliveries become no-ops.
func (m *Manager) Attach(ctx context.Context, sink ports.Sink) (uint64, error) {
	reply := make(chan uint64, 1)
	if err := m.do(ctx, cmdAttach{sink: sink, reply: reply}); err != nil {
		return 0, err
	}
	return awaitValue(ctx, m.done, reply)
}

// Detach drops the sink of attachment fence if it is still the current one.
func (m *Manager) Detach(ctx context.Context, fence uint64) error {
	reply := make(chan struct{}, 1)
	if err := m.do(ctx, cmdDetach{fence: fence, reply: reply}); err != nil {
		return err
	}
	_, err := awaitValue(ctx, m.done, reply)
	return err
}

// Close disconnects and stops the loop. Further calls return domain.ErrClosed.
func (m *Manager) Close() error {
	reply := make(chan struct{}, 1)
	select {
	case m.inbox <- cmdClose{reply: reply}:
	case <-m.done:
		return nil
	}
	<-m.done
	return nil
}

// Done is closed once the loop has stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) do(ctx context.Context, ev event) error {
	select {
	case m.inbox <- ev:
		return nil
	case <-m.done:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitValue[T any](ctx context.Context, done <-chan struct{}, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// post is used by goroutines other than the loop. It never blocks past Close
// and reports whether the event was queued.
func (m *Manager) post(ev event) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for ev := range m.inbox {
		if m.handle(ev) {
			return
		}
	}
}

// handle processes one event to completion. It reports true when the loop
// must stop.
func (m *Manager) handle(ev event) bool {
	switch e := ev.(type) {
	case cmdConnect:
		e.reply <- m.connect()
	case cmdDisconnect:
		m.disconnect()
		e.reply <- struct{}{}
	case cmdSend:
		e.reply <- m.send(e.ev)
	case cmdAttach:
		e.reply <- m.attach(e.sink)
	case cmdDetach:
		if e.fence == m.fence {
			m.sink = ports.NopSink{}
		}
		e.reply <- struct{}{}
	case cmdClose:
		m.shutdown()
		e.reply <- struct{}{}
		return true

	case evOpened:
		m.opened(e.gen, e.conn)
	case evClosed:
		m.lost(e.gen, e.err)
	case evMessage:
		m.message(e.gen, e.data)

	case evProbeDue:
		if e.tok.fence == m.fence && m.liveness.ProbeDue(e.tok) {
			m.cycle()
		}
	case evLivenessTimeout:
		if m.liveness.Expired(e.tok) {
			m.livenessTimeout()
		}
	case evReconnect:
		if m.reconnector.Fire(e.seq) {
			m.logger.Info("reconnecting")
			if err := m.connect(); err != nil {
				m.logger.Error("reconnect failed", "err", err)
			}
		}
	case evIntentDue:
		delete(m.intents, e.id)
		if e.fence == m.fence {
			m.sink.Request(m.ctx, e.intent)
		}
	}
	return false
}

func (m *Manager) connect() error {
	if m.closed {
		return domain.ErrClosed
	}
	if m.conn != nil || m.dialing {
		return nil
	}
	m.reconnector.Cancel()
	if err := m.setState(domain.ConnectingTransport); err != nil {
		return err
	}

	m.connGen++
	gen := m.connGen
	m.dialing = true
	ctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel

	go func() {
		conn, err := m.dialer.Dial(ctx, m.endpoint)
		if err != nil {
			m.post(evClosed{gen: gen, err: err})
			return
		}
		if !m.post(evOpened{gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
	return nil
}

func (m *Manager) opened(gen uint64, conn ports.Conn) {
	if gen != m.connGen || m.closed {
		_ = conn.Close()
		return
	}
	m.dialing = false
	m.conn = conn
	m.connLog = m.logger.With("conn_id", uuid.NewString())
	m.connLog.Debug("transport open")

	go m.read(gen, conn)

	m.liveness.Reset()
	if m.state == domain.Disconnected || m.state == domain.ConnectingTransport {
		_ = m.setState(domain.ConnectingRuntime)
		return
	}
	m.rearm()
}

func (m *Manager) read(gen uint64, conn ports.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.post(evClosed{gen: gen, err: err})
			return
		}
		m.post(evMessage{gen: gen, data: data})
	}
}

// lost handles transport close and transport error alike.
func (m *Manager) lost(gen uint64, err error) {
	if gen != m.connGen || m.closed {
		return
	}
	// Later events from this generation are stale.
	m.connGen++
	m.closeTransport()
	if errors.Is(err, io.EOF) {
		m.connLog.Debug("transport closed by peer", "err", err)
	} else {
		m.connLog.Warn("transport lost", "err", err)
	}
	m.connLog = m.logger

	if m.reconnector.Schedule() {
		m.logger.Info("reconnect scheduled", "delay", m.reconnector.Delay())
		m.emit(domain.EventReconnect, "", m.reconnector.Delay().String())
	}
	_ = m.setState(domain.Disconnected)
}

func (m *Manager) disconnect() {
	m.connGen++
	m.closeTransport()
	m.connLog = m.logger
	m.reconnector.Cancel()
	m.liveness.Stop()
	_ = m.setState(domain.Disconnected)
}

func (m *Manager) closeTransport() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.dialing = false
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) shutdown() {
	m.disconnect()
	for id, t := range m.intents {
		t.Stop()
		delete(m.intents, id)
	}
	m.closed = true
	m.cancel()
}

func (m *Manager) send(ev protocol.ClientEvent) error {
	if m.conn == nil {
		m.logger.Error("send while disconnected", "type", ev.Type)
		return fmt.Errorf("send %s: %w", ev.Type, domain.ErrNotConnected)
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if err := m.conn.WriteMessage(data); err != nil {
		// The reader sees the close and reports the loss through the inbox.
		_ = m.conn.Close()
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

func (m *Manager) attach(sink ports.Sink) uint64 {
	if sink == nil {
		sink = ports.NopSink{}
	}
	m.fence++
	m.sink = sink
	// Restart the probe cycle under the new fence.
	m.rearm()
	return m.fence
}

// rearm restarts the probe cycle for the current state. Probing only happens
// while the transport is open.
func (m *Manager) rearm() {
	if m.conn == nil || !m.state.TransportOpen() {
		m.liveness.Stop()
		return
	}
	if d := m.liveness.Until(m.state); d > 0 {
		m.liveness.ArmProbe(d, m.fence)
		return
	}
	m.cycle()
}

// cycle sends one probe and arms the next cycle. Timers are armed before the
// write so that an observer of the probe sees them in place.
func (m *Manager) cycle() {
	if m.conn == nil || !m.state.TransportOpen() {
		return
	}
	m.liveness.Probed(m.fence)
	m.liveness.ArmProbe(m.liveness.Cadence(m.state), m.fence)

	m.connLog.Debug("probe", "state", m.state)
	m.emit(domain.EventProbe, string(protocol.ClientIsAlive), "")
	if err := m.send(protocol.IsAlive()); err != nil {
		m.connLog.Warn("probe failed", "err", err)
	}
}

func (m *Manager) livenessTimeout() {
	m.connLog.Warn("runtime did not answer probe", "timeout", m.timing.LivenessTimeout)
	m.emit(domain.EventLivenessTimeout, "", m.timing.LivenessTimeout.String())
	if m.state == domain.Connected {
		_ = m.setState(domain.ConnectingRuntime)
	}
}

func (m *Manager) message(gen uint64, data []byte) {
	if gen != m.connGen || m.conn == nil {
		return
	}

	kind, out := m.dispatcher.DispatchRaw(data, m.clock.Now())
	m.emit(domain.EventMessage, string(kind), "")

	switch out.Liveness {
	case dispatch.LivenessAlive:
		m.liveness.Answered()
		if m.state == domain.ConnectingRuntime {
			_ = m.setState(domain.Connected)
		}
	case dispatch.LivenessUnreachable:
		if m.state == domain.Connected {
			m.connLog.Warn("runtime reported unreachable")
			_ = m.setState(domain.ConnectingRuntime)
		}
	}

	for _, n := range out.Notifications {
		m.emit(domain.EventNotification, string(n.Severity), n.Title)
		m.sink.Notify(m.ctx, n)
	}
	for _, intent := range out.Intents {
		m.request(intent)
	}
	if out.Anomaly != nil {
		m.emit(domain.EventAnomaly, out.Anomaly.Reason, out.Anomaly.Detail)
	}
	if out.StaleRunID != "" {
		m.emit(domain.EventStaleRunRejected, string(kind), out.StaleRunID)
	}
}

// request delivers an intent to the current attachment, after its delay.
func (m *Manager) request(intent domain.Intent) {
	if intent.Delay <= 0 {
		m.sink.Request(m.ctx, intent)
		return
	}
	m.nextIntent++
	id, fence := m.nextIntent, m.fence
	m.intents[id] = m.clock.AfterFunc(intent.Delay, func() {
		m.post(evIntentDue{id: id, fence: fence, intent: intent})
	})
}

// setState applies one edge of the state machine. Self transitions are
// no-ops; edges outside the table are rejected and logged.
func (m *Manager) setState(to domain.ConnectionState) error {
	from := m.state
	if from == to {
		return nil
	}
	if err := domain.Transition(from, to); err != nil {
		m.logger.Error("rejected state transition", "err", err)
		return err
	}
	m.state = to
	m.rearm()
	m.status.Store(int32(to))

	m.connLog.Debug("state", "from", from, "to", to)
	if m.hooks.OnTransition != nil {
		m.hooks.OnTransition(m.ctx, &domain.TransitionEvent{
			EventBase: domain.EventBase{Timestamp: m.clock.Now(), Type: domain.EventTransition, Project: m.project},
			From:      from,
			To:        to,
		})
	}

	m.subMu.Lock()
	fns := make([]func(domain.ConnectionState), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(to)
	}
	return nil
}

func (m *Manager) emit(typ domain.EventType, kind, detail string) {
	if m.hooks.OnProtocol == nil {
		return
	}
	m.hooks.OnProtocol(m.ctx, &domain.ProtocolEvent{
		EventBase: domain.EventBase{Timestamp: m.clock.Now(), Type: typ, Project: m.project},
		Kind:      kind,
		Detail:    detail,
	})
}
