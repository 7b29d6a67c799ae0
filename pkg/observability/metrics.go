package observability

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tether"

// Metrics holds the Prometheus collectors of the protocol client.
type Metrics struct {
	State           *prometheus.GaugeVec
	Transitions     *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	Probes          *prometheus.CounterVec
	LivenessTimeout *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	Anomalies       *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	StaleRuns       *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state of each project, 0 otherwise.",
		}, []string{"project", "state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		}, []string{"project", "from", "to"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Server messages received, by kind.",
		}, []string{"project", "kind"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_sent_total",
			Help:      "Liveness probes sent.",
		}, []string{"project"}),
		LivenessTimeout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_timeouts_total",
			Help:      "Probes left unanswered past the liveness timeout.",
		}, []string{"project"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a transport loss.",
		}, []string{"project"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_anomalies_total",
			Help:      "Server messages that could not be handled.",
		}, []string{"project", "reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User-facing notifications raised, by severity.",
		}, []string{"project", "severity"}),
		StaleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_run_updates_total",
			Help:      "Run updates dropped because a newer run superseded them.",
		}, []string{"project", "kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.State, m.Transitions, m.Messages, m.Probes, m.LivenessTimeout,
		m.Reconnects, m.Anomalies, m.Notifications, m.StaleRuns,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.Project, e.From.String(), e.To.String()).Inc()
			m.State.WithLabelValues(e.Project, e.From.String()).Set(0)
			m.State.WithLabelValues(e.Project, e.To.String()).Set(1)
		},
		OnProtocol: func(_ context.Context, e *domain.ProtocolEvent) {
			switch e.Type {
			case domain.EventMessage:
				m.Messages.WithLabelValues(e.Project, e.Kind).Inc()
			case domain.EventProbe:
				m.Probes.WithLabelValues(e.Project).Inc()
			case domain.EventLivenessTimeout:
				m.LivenessTimeout.WithLabelValues(e.Project).Inc()
			case domain.EventReconnect:
				m.Reconnects.WithLabelValues(e.Project).Inc()
			case domain.EventAnomaly:
				m.Anomalies.WithLabelValues(e.Project, e.Kind).Inc()
			case domain.EventNotification:
				m.Notifications.WithLabelValues(e.Project, e.Kind).Inc()
			case domain.EventStaleRunRejected:
				m.StaleRuns.WithLabelValues(e.Project, e.Kind).Inc()
			}
		},
	}
}

// Chain combines hooks; each callback runs in order.
func Chain(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			for _, h := range hooks {
				if h.OnTransition != nil {
					h.OnTransition(ctx, e)
				}
			}
		},
		OnProtocol: func(ctx context.Context, e *domain.ProtocolEvent) {
			for _, h := range hooks {
				if h.OnProtocol != nil {
					h.OnProtocol(ctx, e)
				}
			}
		},
	}
}
