package dispatch

import (
	"log/slog"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/protocol"
	"github.com/aretw0/tether/pkg/store"
)

// Dispatcher applies reduced events to a store.
// It is not safe for concurrent use; the connection loop is its only caller.
type Dispatcher struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for anomalies and dropped runs.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithResultsDelay overrides DefaultResultsDelay.
func WithResultsDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.cfg.ResultsDelay = delay
	}
}

// New creates a dispatcher writing into st.
func New(st *store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  st,
		cfg:    Config{ResultsDelay: DefaultResultsDelay},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch reduces ev against the current store contents and applies the
// resulting mutations in order.
func (d *Dispatcher) Dispatch(ev protocol.ServerEvent, now time.Time) Outcome {
	res := Reduce(d.store.Snapshot(), ev, now, d.cfg)
	for _, m := range res.Mutations {
		d.apply(m)
	}

	if res.Anomaly != nil {
		d.logger.Warn("protocol anomaly", "reason", res.Anomaly.Reason, "detail", res.Anomaly.Detail)
	}
	if res.StaleRunID != "" {
		d.logger.Debug("dropped update for superseded run", "kind", ev.Kind(), "run_id", res.StaleRunID)
	}
	return res.Outcome
}

// DispatchRaw decodes data and dispatches it. Messages that fail to decode are
// reported as an anomaly; they never stop the caller.
func (d *Dispatcher) DispatchRaw(data []byte, now time.Time) (protocol.Kind, Outcome) {
	ev, err := protocol.Decode(data)
	if err != nil {
		d.logger.Warn("protocol anomaly", "reason", AnomalyMalformed, "err", err)
		return "", Outcome{Anomaly: &Anomaly{Reason: AnomalyMalformed, Detail: err.Error()}}
	}
	return ev.Kind(), d.Dispatch(ev, now)
}

func (d *Dispatcher) apply(m Mutation) {
	if m.Retire != "" {
		d.store.RetireRun(m.Target, m.Retire)
		return
	}
	switch m.Target {
	case store.TargetWorkflow:
		d.store.SetWorkflowExecutionState(m.Execution)
	case store.TargetComponent:
		d.store.SetComponentExecutionState(m.ComponentID, m.Execution)
	case store.TargetEvaluation:
		d.store.SetEvaluationState(m.Run)
	case store.TargetOptimization:
		d.store.SetOptimizationState(m.Run)
	}
}
