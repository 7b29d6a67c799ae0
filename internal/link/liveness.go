package link

import (
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/jonboulle/clockwork"
)

// Liveness tracks the probe cycle and the single outstanding liveness timer.
// It only arms timers; the manager decides what a due probe or an expired
// timer means. Not safe for concurrent use.
type Liveness struct {
	clock  clockwork.Clock
	timing Timing
	post   func(event) bool

	lastProbe time.Time

	probeTimer clockwork.Timer
	probeSeq   uint64

	deadline    clockwork.Timer
	deadlineSeq uint64
}

// NewLiveness creates a monitor that posts its timer events through post.
func NewLiveness(clock clockwork.Clock, timing Timing, post func(event) bool) *Liveness {
	return &Liveness{clock: clock, timing: timing.withDefaults(), post: post}
}

// Cadence is the probe interval for a connection state.
func (l *Liveness) Cadence(state domain.ConnectionState) time.Duration {
	if state == domain.Connected {
		return l.timing.ProbeConnected
	}
	return l.timing.ProbeConnecting
}

// Reset forgets the last probe so the next cycle probes immediately.
func (l *Liveness) Reset() {
	l.lastProbe = time.Time{}
}

// Until returns how long until the next probe is due in state. Zero or less
// means a probe is due now.
func (l *Liveness) Until(state domain.ConnectionState) time.Duration {
	if l.lastProbe.IsZero() {
		return 0
	}
	return l.lastProbe.Add(l.Cadence(state)).Sub(l.clock.Now())
}

// Probed records a probe sent now and arms the liveness timer unless one is
// already pending.
func (l *Liveness) Probed(fence uint64) {
	l.lastProbe = l.clock.Now()
	if l.deadline != nil {
		return
	}
	l.deadlineSeq++
	tok := token{seq: l.deadlineSeq, fence: fence}
	l.deadline = l.clock.AfterFunc(l.timing.LivenessTimeout, func() {
		l.post(evLivenessTimeout{tok: tok})
	})
}

// ArmProbe replaces the probe-cycle timer.
func (l *Liveness) ArmProbe(d time.Duration, fence uint64) {
	l.stopProbe()
	tok := token{seq: l.probeSeq, fence: fence}
	l.probeTimer = l.clock.AfterFunc(d, func() {
		l.post(evProbeDue{tok: tok})
	})
}

// ProbeDue consumes a probe-cycle event. It reports false for stale tokens.
func (l *Liveness) ProbeDue(tok token) bool {
	if l.probeTimer == nil || tok.seq != l.probeSeq {
		return false
	}
	l.probeTimer = nil
	return true
}

// Expired consumes a liveness timer event. It reports false for stale tokens.
func (l *Liveness) Expired(tok token) bool {
	if l.deadline == nil || tok.seq != l.deadlineSeq {
		return false
	}
	l.deadline = nil
	return true
}

// Pending reports whether a liveness timer is armed.
func (l *Liveness) Pending() bool {
	return l.deadline != nil
}

// Answered cancels the liveness timer. It reports whether one was pending.
func (l *Liveness) Answered() bool {
	if l.deadline == nil {
		return false
	}
	l.deadline.Stop()
	l.deadline = nil
	l.deadlineSeq++
	return true
}

// Stop cancels both timers.
func (l *Liveness) Stop() {
	l.stopProbe()
	l.Answered()
}

func (l *Liveness) stopProbe() {
	if l.probeTimer != nil {
		l.probeTimer.Stop()
		l.probeTimer = nil
	}
	l.probeSeq++
}
