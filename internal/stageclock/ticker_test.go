package stageclock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTime is a manually advanced TimeSource. Every NewTimer call is reported
// on created so tests can wait for the ticker to go to sleep before advancing.
type fakeTime struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	created chan time.Duration
}

type fakeTimer struct {
	at      time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func newFakeTime(now time.Time) *fakeTime {
	return &fakeTime{now: now, created: make(chan time.Duration, 16)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	timer := &fakeTimer{at: f.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		timer.ch <- f.now
	} else {
		f.timers = append(f.timers, timer)
	}
	f.mu.Unlock()

	f.created <- d
	return timer
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	pending := f.timers[:0]
	for _, timer := range f.timers {
		if timer.stopped {
			continue
		}
		if !timer.at.After(f.now) {
			timer.ch <- f.now
			continue
		}
		pending = append(pending, timer)
	}
	f.timers = pending
}

func twoStages() Schedule {
	return Schedule{
		{Name: "Focus", DurationMinutes: 1, Kind: KindFocus},
		{Name: "Break", DurationMinutes: 1, Kind: KindBreak},
	}
}

func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "update channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func waitTimer(t *testing.T, f *fakeTime) time.Duration {
	t.Helper()
	select {
	case d := <-f.created:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
	return 0
}

func waitClosed(t *testing.T, tk *Ticker, ch <-chan Update) {
	t.Helper()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("update channel not closed")
	}
	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not exit")
	}
}

func TestTicker_TickMode(t *testing.T) {
	fake := newFakeTime(t0)
	c := mustClock(t, twoStages())
	tk := NewTicker(c, WithTimeSource(fake), WithInterval(30*time.Second))
	ch := tk.Start(context.Background())

	u := recv(t, ch)
	assert.Equal(t, 0, u.Progress.Index)
	assert.True(t, u.Transition)
	assert.Equal(t, -1, u.Previous)
	assert.Equal(t, "1:00", u.Progress.RemainingText)

	assert.Equal(t, 30*time.Second, waitTimer(t, fake))
	fake.Advance(30 * time.Second)
	u = recv(t, ch)
	assert.Equal(t, 0, u.Progress.Index)
	assert.False(t, u.Transition)
	assert.Equal(t, "0:30", u.Progress.RemainingText)

	waitTimer(t, fake)
	fake.Advance(30 * time.Second)
	u = recv(t, ch)
	assert.Equal(t, 1, u.Progress.Index)
	assert.True(t, u.Transition)
	assert.Equal(t, 0, u.Previous)

	waitTimer(t, fake)
	fake.Advance(90 * time.Second)
	u = recv(t, ch)
	assert.True(t, u.Progress.Finished)
	assert.False(t, u.Transition)

	waitClosed(t, tk, ch)
}

func TestTicker_BoundaryMode(t *testing.T) {
	fake := newFakeTime(t0.Add(20 * time.Second))
	c := mustClock(t, twoStages())
	tk := NewTicker(c, WithTimeSource(fake), WithMode(ModeBoundary))
	ch := tk.Start(context.Background())

	u := recv(t, ch)
	assert.Equal(t, 0, u.Progress.Index)
	assert.Equal(t, 40*time.Second, waitTimer(t, fake))

	fake.Advance(40 * time.Second)
	u = recv(t, ch)
	assert.Equal(t, 1, u.Progress.Index)
	assert.True(t, u.Transition)
	assert.Equal(t, time.Minute, waitTimer(t, fake))

	fake.Advance(time.Minute)
	u = recv(t, ch)
	assert.True(t, u.Progress.Finished)

	waitClosed(t, tk, ch)
}

func TestTicker_StartAfterFinish(t *testing.T) {
	fake := newFakeTime(t0.Add(time.Hour))
	tk := NewTicker(mustClock(t, twoStages()), WithTimeSource(fake))
	ch := tk.Start(context.Background())

	u := recv(t, ch)
	assert.True(t, u.Progress.Finished)
	assert.True(t, u.Transition)
	waitClosed(t, tk, ch)
}

func TestTicker_FinishReleasesContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFakeTime(t0.Add(time.Hour))
	tk := NewTicker(mustClock(t, twoStages()), WithTimeSource(fake))
	ch := tk.Start(parent)

	recv(t, ch)
	waitClosed(t, tk, ch)

	tk.mu.Lock()
	ctx := tk.ctx
	tk.mu.Unlock()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NoError(t, parent.Err())
}

func TestTicker_Stop(t *testing.T) {
	fake := newFakeTime(t0)
	tk := NewTicker(mustClock(t, twoStages()), WithTimeSource(fake))
	ch := tk.Start(context.Background())

	recv(t, ch)
	waitTimer(t, fake)

	tk.Stop()
	tk.Stop()
	waitClosed(t, tk, ch)

	// Same channel on repeated Start.
	assert.Equal(t, ch, tk.Start(context.Background()))
}

func TestTicker_StopBeforeStart(t *testing.T) {
	tk := NewTicker(mustClock(t, twoStages()))
	assert.NotPanics(t, tk.Stop)
}

func TestTicker_ContextCancel(t *testing.T) {
	fake := newFakeTime(t0)
	tk := NewTicker(mustClock(t, twoStages()), WithTimeSource(fake))
	ctx, cancel := context.WithCancel(context.Background())
	ch := tk.Start(ctx)

	recv(t, ch)
	waitTimer(t, fake)
	cancel()
	waitClosed(t, tk, ch)
}

func TestTicker_SystemTime(t *testing.T) {
	start := time.Now().Add(-2*time.Minute - 500*time.Millisecond)
	c, err := New(start, twoStages())
	require.NoError(t, err)

	tk := NewTicker(c)
	ch := tk.Start(context.Background())
	u := recv(t, ch)
	assert.True(t, u.Progress.Finished)
	waitClosed(t, tk, ch)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeTick, m)

	m, err = ParseMode("boundary")
	require.NoError(t, err)
	assert.Equal(t, ModeBoundary, m)

	_, err = ParseMode("hourly")
	assert.Error(t, err)
}
