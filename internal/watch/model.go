// Package watch renders a live terminal view of one focus session.
//
// The view fetches the session once, then recomputes the stage clock locally
// every second from the schedule and start time. The session is refetched
// periodically to pick up start and end events.
package watch

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/focusroom/focusd/internal/stageclock"
	"github.com/focusroom/focusd/internal/store"
)

const (
	tickInterval   = time.Second
	defaultRefresh = 15 * time.Second
	fetchTimeout   = 5 * time.Second
	barWidth       = 40
)

// SessionSource loads a session by id.
type SessionSource interface {
	Session(ctx context.Context, id string) (*store.Session, error)
}

// Model is the bubbletea model for the session view.
type Model struct {
	source    SessionSource
	sessionID string
	now       func() time.Time
	bell      io.Writer
	refresh   time.Duration
	interval  time.Duration

	session   *store.Session
	clock     *stageclock.Clock
	progress  stageclock.Progress
	lastIndex int
	lastFetch time.Time
	err       error
	quitting  bool
	stopped   bool

	stageBar progress.Model
	totalBar progress.Model
}

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

// WithBell sets where the terminal bell is written. Nil silences it.
func WithBell(w io.Writer) Option {
	return func(m *Model) { m.bell = w }
}

// WithRefresh sets how often the session is refetched.
func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// NewModel creates a view of sessionID backed by source.
func NewModel(source SessionSource, sessionID string, opts ...Option) Model {
	m := Model{
		source:    source,
		sessionID: sessionID,
		now:       time.Now,
		bell:      os.Stdout,
		refresh:   defaultRefresh,
		interval:  tickInterval,
		lastIndex: -1,
		stageBar: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(barWidth),
		),
		totalBar: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(barWidth),
		),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

type tickMsg time.Time
type sessionMsg struct{ session *store.Session }
type errMsg struct{ err error }

// Init fetches the session and starts the one second tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	source, id := m.source, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		sess, err := source.Session(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{sess}
	}
}

func (m Model) ring() tea.Cmd {
	w := m.bell
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		_, _ = io.WriteString(w, "\a")
		return nil
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			m.stopped = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 24
		if width > barWidth {
			width = barWidth
		}
		if width < 10 {
			width = 10
		}
		m.stageBar.Width = width
		m.totalBar.Width = width
		return m, nil

	case tickMsg:
		if m.stopped {
			return m, nil
		}
		var cmds []tea.Cmd
		if m.recompute() {
			cmds = append(cmds, m.ring())
		}
		if m.isEnded() {
			// Nothing left to count; drop the timer.
			m.stopped = true
			return m, tea.Batch(cmds...)
		}
		if m.now().Sub(m.lastFetch) >= m.refresh {
			cmds = append(cmds, m.fetch())
		}
		cmds = append(cmds, m.tick())
		return m, tea.Batch(cmds...)

	case sessionMsg:
		m.lastFetch = m.now()
		m.err = nil
		if err := m.setSession(msg.session); err != nil {
			m.err = err
			return m, nil
		}
		if m.recompute() {
			return m, m.ring()
		}
		return m, nil

	case errMsg:
		m.lastFetch = m.now()
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m *Model) setSession(sess *store.Session) error {
	clock, err := stageclock.New(sess.Reference(), sess.Schedule)
	if err != nil {
		return err
	}
	m.session = sess
	m.clock = clock
	return nil
}

// recompute reads the clock and reports a stage transition. The first
// reading is never a transition.
func (m *Model) recompute() bool {
	if m.clock == nil {
		return false
	}
	at := m.now()
	if m.isEnded() {
		at = m.clock.EndsAt()
	}
	m.progress = m.clock.At(at)

	changed := m.lastIndex >= 0 && m.progress.Index != m.lastIndex
	m.lastIndex = m.progress.Index
	return changed
}

func (m Model) isEnded() bool {
	return m.session != nil && m.session.Status == store.StatusEnded
}

// Progress returns the latest clock reading.
func (m Model) Progress() stageclock.Progress { return m.progress }
