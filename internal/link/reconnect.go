package link

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Reconnector schedules redials after a transport loss: one fixed delay, no
// backoff, no limit. At most one retry is pending at a time.
// Not safe for concurrent use.
type Reconnector struct {
	clock clockwork.Clock
	delay time.Duration
	post  func(event) bool

	timer clockwork.Timer
	seq   uint64
}

// NewReconnector creates a scheduler that posts evReconnect through post.
func NewReconnector(clock clockwork.Clock, delay time.Duration, post func(event) bool) *Reconnector {
	return &Reconnector{clock: clock, delay: delay, post: post}
}

// Schedule arms the retry timer. A request while one is pending is ignored
// and reports false.
func (r *Reconnector) Schedule() bool {
	if r.timer != nil {
		return false
	}
	r.seq++
	seq := r.seq
	r.timer = r.clock.AfterFunc(r.delay, func() {
		r.post(evReconnect{seq: seq})
	})
	return true
}

// Fire consumes a retry event. It reports false for a cancelled or superseded
// timer.
func (r *Reconnector) Fire(seq uint64) bool {
	if r.timer == nil || seq != r.seq {
		return false
	}
	r.timer = nil
	return true
}

// Cancel drops the pending retry, if any.
func (r *Reconnector) Cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.seq++
}

// Pending reports whether a retry is scheduled.
func (r *Reconnector) Pending() bool {
	return r.timer != nil
}

// Delay is the fixed retry delay.
func (r *Reconnector) Delay() time.Duration {
	return r.delay
}
