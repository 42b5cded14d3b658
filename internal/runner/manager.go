// Package runner drives one stage clock per active session and publishes
// its readings.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/stageclock"
	"github.com/focusroom/focusd/internal/store"
)

// ErrStopped is returned by Start after StopAll.
var ErrStopped = errors.New("runner stopped")

// Publisher receives stage readings.
type Publisher interface {
	PublishStage(ctx context.Context, sessionID, action string, payload any) error
}

// ActiveLister lists sessions whose clocks should be running.
type ActiveLister interface {
	ListActiveSessions(ctx context.Context) ([]*store.Session, error)
}

// FinishFunc is called once a session's clock reaches the end of its
// schedule.
type FinishFunc func(ctx context.Context, sessionID string) error

// StageEvent is the payload of stage.* events.
type StageEvent struct {
	SessionID string              `json:"session_id"`
	Progress  stageclock.Progress `json:"progress"`
	Previous  int                 `json:"previous_stage_index"`
}

type run struct {
	ticker *stageclock.Ticker
	done   chan struct{}
}

// Manager owns the running stage clocks.
type Manager struct {
	pub      Publisher
	logger   *logging.Logger
	mode     stageclock.Mode
	interval time.Duration
	source   stageclock.TimeSource

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  map[string]*run
	onFinish FinishFunc
	stopped  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMode selects tick or boundary scheduling.
func WithMode(m stageclock.Mode) Option {
	return func(mg *Manager) { mg.mode = m }
}

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(mg *Manager) { mg.interval = d }
}

// WithTimeSource overrides the wall clock.
func WithTimeSource(src stageclock.TimeSource) Option {
	return func(mg *Manager) { mg.source = src }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(mg *Manager) {
		if l != nil {
			mg.logger = l
		}
	}
}

// New creates a Manager that publishes to pub.
func New(pub Publisher, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		pub:      pub,
		logger:   logging.NewNop(),
		mode:     stageclock.ModeTick,
		interval: time.Second,
		source:   stageclock.SystemTime{},
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]*run),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFinish registers the callback for sessions that run to completion.
func (m *Manager) OnFinish(fn FinishFunc) {
	m.mu.Lock()
	m.onFinish = fn
	m.mu.Unlock()
}

// Start runs sess's clock from its reference time. Starting a session that
// is already running is a no-op.
func (m *Manager) Start(sess *store.Session) error {
	clock, err := stageclock.New(sess.Reference(), sess.Schedule)
	if err != nil {
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if _, ok := m.running[sess.ID]; ok {
		return nil
	}

	t := stageclock.NewTicker(clock,
		stageclock.WithMode(m.mode),
		stageclock.WithInterval(m.interval),
		stageclock.WithTimeSource(m.source),
	)
	r := &run{ticker: t, done: make(chan struct{})}
	m.running[sess.ID] = r
	ActiveClocks.Inc()

	ctx := logging.WithSessionID(m.ctx, sess.ID)
	go m.consume(ctx, sess.ID, r, t.Start(ctx))
	m.logger.Info(ctx, "stage clock started",
		zap.Time("reference", sess.Reference()),
		zap.Int("stages", len(sess.Schedule)),
		zap.String("mode", string(m.mode)),
	)
	return nil
}

func (m *Manager) consume(ctx context.Context, id string, r *run, updates <-chan stageclock.Update) {
	defer close(r.done)
	logger := m.logger.For(ctx)

	var last stageclock.Update
	for u := range updates {
		last = u
		event := StageEvent{SessionID: id, Progress: u.Progress, Previous: u.Previous}
		m.publish(ctx, id, realtime.ActionTick, event)
		if u.Transition {
			Transitions.WithLabelValues(string(u.Progress.Stage.Kind)).Inc()
			m.publish(ctx, id, realtime.ActionTransition, event)
			logger.Debug(ctx, "stage transition",
				zap.Int("index", u.Progress.Index),
				zap.String("stage", u.Progress.Stage.Name),
			)
		}
	}

	if !last.Progress.Finished {
		return
	}

	// Release the slot before the callback so it may call Stop.
	m.mu.Lock()
	if m.running[id] == r {
		delete(m.running, id)
		ActiveClocks.Dec()
	}
	finish := m.onFinish
	m.mu.Unlock()
	r.ticker.Stop()

	m.publish(ctx, id, realtime.ActionFinished, StageEvent{SessionID: id, Progress: last.Progress, Previous: last.Previous})
	logger.Info(ctx, "stage clock finished")
	if finish != nil {
		if err := finish(ctx, id); err != nil {
			logger.Error(ctx, "finish session failed", zap.Error(err))
		}
	}
}

func (m *Manager) publish(ctx context.Context, id, action string, event StageEvent) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishStage(ctx, id, action, event); err != nil {
		m.logger.Warn(ctx, "publish stage event failed", zap.String("action", action), zap.Error(err))
	}
}

// Stop halts a session's clock and waits for it to exit. It reports whether
// a clock was running.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	r, ok := m.running[id]
	if ok {
		delete(m.running, id)
		ActiveClocks.Dec()
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	r.ticker.Stop()
	<-r.done
	return true
}

// StopAll halts every clock. Later calls to Start fail with ErrStopped.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.stopped = true
	runs := make([]*run, 0, len(m.running))
	for id, r := range m.running {
		runs = append(runs, r)
		delete(m.running, id)
		ActiveClocks.Dec()
	}
	m.mu.Unlock()

	m.cancel()
	for _, r := range runs {
		r.ticker.Stop()
		<-r.done
	}
}

// Active returns the ids of running sessions, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether id has a clock.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Resume starts clocks for every active session and returns how many were
// started.
func (m *Manager) Resume(ctx context.Context, lister ActiveLister) (int, error) {
	sessions, err := lister.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	var (
		started int
		errs    []error
	)
	for _, sess := range sessions {
		if err := m.Start(sess); err != nil {
			errs = append(errs, err)
			continue
		}
		started++
	}
	if started > 0 {
		m.logger.Info(ctx, "resumed stage clocks", zap.Int("count", started))
	}
	return started, errors.Join(errs...)
}
