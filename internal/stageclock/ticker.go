package stageclock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mode selects how a Ticker schedules recomputation.
type Mode string

const (
	// ModeTick recomputes on a fixed interval.
	ModeTick Mode = "tick"
	// ModeBoundary sleeps until the next stage boundary.
	ModeBoundary Mode = "boundary"
)

// ParseMode validates a mode name. Empty selects ModeTick.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeTick:
		return ModeTick, nil
	case ModeBoundary:
		return ModeBoundary, nil
	}
	return "", fmt.Errorf("unknown ticker mode %q", s)
}

// Timer is the subset of *time.Timer a Ticker needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// TimeSource supplies the current time and timers. Tests substitute a fake.
type TimeSource interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// SystemTime is the wall-clock TimeSource.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }

func (SystemTime) NewTimer(d time.Duration) Timer { return sysTimer{time.NewTimer(d)} }

type sysTimer struct{ t *time.Timer }

func (s sysTimer) C() <-chan time.Time { return s.t.C }
func (s sysTimer) Stop() bool          { return s.t.Stop() }

// Update is emitted by a Ticker on every recomputation.
type Update struct {
	Progress Progress
	// Transition is set when the stage index differs from the previous
	// update, including the first update.
	Transition bool
	// Previous is the prior stage index, -1 on the first update.
	Previous int
}

// Ticker periodically reads a Clock and emits updates. Every reading is
// computed from scratch, so a late wakeup yields a later but correct value.
type Ticker struct {
	clock    *Clock
	mode     Mode
	interval time.Duration
	source   TimeSource

	updates chan Update
	done    chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// TickerOption configures a Ticker.
type TickerOption func(*Ticker)

// WithMode sets the scheduling mode.
func WithMode(m Mode) TickerOption {
	return func(t *Ticker) { t.mode = m }
}

// WithInterval sets the ModeTick interval.
func WithInterval(d time.Duration) TickerOption {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTimeSource overrides the wall clock.
func WithTimeSource(src TimeSource) TickerOption {
	return func(t *Ticker) {
		if src != nil {
			t.source = src
		}
	}
}

// NewTicker creates a stopped Ticker for c.
func NewTicker(c *Clock, opts ...TickerOption) *Ticker {
	t := &Ticker{
		clock:    c,
		mode:     ModeTick,
		interval: time.Second,
		source:   SystemTime{},
		updates:  make(chan Update),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the ticker goroutine and returns the update channel. The
// channel is closed once the session finishes, ctx is cancelled, or Stop is
// called. Calling Start twice returns the same channel.
func (t *Ticker) Start(ctx context.Context) <-chan Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return t.updates
	}
	t.started = true

	ctx, cancel := context.WithCancel(ctx)
	t.ctx, t.cancel = ctx, cancel
	go t.run(ctx, cancel)
	return t.updates
}

// Stop cancels the ticker and waits for its goroutine to exit. Safe to call
// more than once and before Start.
func (t *Ticker) Stop() {
	t.mu.Lock()
	started := t.started
	cancel := t.cancel
	t.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-t.done
}

// Done is closed when the ticker goroutine has exited.
func (t *Ticker) Done() <-chan struct{} { return t.done }

func (t *Ticker) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(t.done)
	defer close(t.updates)
	defer cancel()

	previous := -1
	for {
		now := t.source.Now()
		p := t.clock.At(now)

		select {
		case t.updates <- Update{Progress: p, Transition: p.Index != previous, Previous: previous}:
		case <-ctx.Done():
			return
		}
		previous = p.Index

		if p.Finished {
			return
		}

		timer := t.source.NewTimer(t.wait(t.source.Now()))
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (t *Ticker) wait(now time.Time) time.Duration {
	if t.mode != ModeBoundary {
		return t.interval
	}
	next, ok := t.clock.NextBoundary(now)
	if !ok {
		return 0
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}
