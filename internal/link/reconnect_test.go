package link

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect() (func(event) bool, chan event) {
	ch := make(chan event, 16)
	return func(ev event) bool {
		ch <- ev
		return true
	}, ch
}

func next(t *testing.T, ch chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return nil
	}
}

func none(t *testing.T, ch chan event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnector_ScheduleIsIdempotent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	post, ch := collect()
	r := NewReconnector(fc, 5*time.Second, post)

	assert.True(t, r.Schedule())
	assert.False(t, r.Schedule(), "second loss while a retry is pending")
	assert.True(t, r.Pending())

	fc.Advance(4 * time.Second)
	none(t, ch)

	fc.Advance(time.Second)
	ev, ok := next(t, ch).(evReconnect)
	require.True(t, ok)
	assert.True(t, r.Fire(ev.seq))
	assert.False(t, r.Pending())
	none(t, ch)

	assert.True(t, r.Schedule(), "retries are unlimited")
}

func TestReconnector_Cancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	post, ch := collect()
	r := NewReconnector(fc, 5*time.Second, post)

	require.True(t, r.Schedule())
	stale := r.seq
	r.Cancel()
	r.Cancel()

	fc.Advance(10 * time.Second)
	none(t, ch)
	assert.False(t, r.Fire(stale))
	assert.False(t, r.Pending())
}
