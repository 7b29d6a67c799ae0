package link

import "time"

const (
	DefaultProbeConnected  = 30 * time.Second
	DefaultProbeConnecting = 5 * time.Second
	DefaultLivenessTimeout = 10 * time.Second
	DefaultReconnectDelay  = 5 * time.Second
	DefaultResultsDelay    = 500 * time.Millisecond
)

// Timing holds every cadence and timeout of the protocol.
type Timing struct {
	// ProbeConnected is the probe cadence while Connected.
	ProbeConnected time.Duration
	// ProbeConnecting is the probe cadence while ConnectingRuntime.
	ProbeConnecting time.Duration
	// LivenessTimeout is how long a probe may go unanswered.
	LivenessTimeout time.Duration
	// ReconnectDelay is the fixed wait between a transport loss and the redial.
	ReconnectDelay time.Duration
	// ResultsDelay postpones the results-panel intent after a run ends.
	ResultsDelay time.Duration
}

// DefaultTiming returns the standard protocol timing.
func DefaultTiming() Timing {
	return Timing{
		ProbeConnected:  DefaultProbeConnected,
		ProbeConnecting: DefaultProbeConnecting,
		LivenessTimeout: DefaultLivenessTimeout,
		ReconnectDelay:  DefaultReconnectDelay,
		ResultsDelay:    DefaultResultsDelay,
	}
}

// withDefaults fills zero and negative fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.ProbeConnected <= 0 {
		t.ProbeConnected = d.ProbeConnected
	}
	if t.ProbeConnecting <= 0 {
		t.ProbeConnecting = d.ProbeConnecting
	}
	if t.LivenessTimeout <= 0 {
		t.LivenessTimeout = d.LivenessTimeout
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = d.ReconnectDelay
	}
	if t.ResultsDelay <= 0 {
		t.ResultsDelay = d.ResultsDelay
	}
	return t
}
