package stageclock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptySchedule indicates a schedule with no stages.
	ErrEmptySchedule = errors.New("schedule has no stages")

	// ErrInvalidDuration indicates a stage with a zero or negative duration.
	ErrInvalidDuration = errors.New("stage duration must be positive")

	// ErrInvalidKind indicates a stage kind outside the known set.
	ErrInvalidKind = errors.New("unknown stage kind")
)

// Kind classifies a stage. It drives styling and sound cues only.
type Kind string

const (
	KindIntro      Kind = "intro"
	KindIntentions Kind = "intentions"
	KindFocus      Kind = "focus"
	KindBreak      Kind = "break"
	KindOutro      Kind = "outro"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindIntro, KindIntentions, KindFocus, KindBreak, KindOutro:
		return true
	}
	return false
}

// Stage is one named, fixed-length segment of a session.
type Stage struct {
	Name            string `json:"name" koanf:"name" toml:"name"`
	DurationMinutes int    `json:"duration_minutes" koanf:"duration_minutes" toml:"duration_minutes"`
	Kind            Kind   `json:"kind" koanf:"kind" toml:"kind"`
	Color           string `json:"color,omitempty" koanf:"color" toml:"color"`
}

// Duration returns the stage length.
func (s Stage) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s Stage) seconds() int64 {
	return int64(s.DurationMinutes) * 60
}

// Schedule is an ordered list of stages.
type Schedule []Stage

// Validate checks that the schedule is usable by a Clock.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	for i, st := range s {
		if st.DurationMinutes <= 0 {
			return fmt.Errorf("stage %d (%q): %w: got %d", i, st.Name, ErrInvalidDuration, st.DurationMinutes)
		}
		if !st.Kind.Valid() {
			return fmt.Errorf("stage %d (%q): %w: %q", i, st.Name, ErrInvalidKind, st.Kind)
		}
	}
	return nil
}

// TotalMinutes returns the sum of all stage durations in minutes.
func (s Schedule) TotalMinutes() int {
	total := 0
	for _, st := range s {
		total += st.DurationMinutes
	}
	return total
}

// Total returns the sum of all stage durations.
func (s Schedule) Total() time.Duration {
	return time.Duration(s.TotalMinutes()) * time.Minute
}

// Offsets returns the start offset in minutes of each stage.
func (s Schedule) Offsets() []int {
	offsets := make([]int, len(s))
	at := 0
	for i, st := range s {
		offsets[i] = at
		at += st.DurationMinutes
	}
	return offsets
}

// Clone returns an independent copy of the schedule.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	copy(out, s)
	return out
}
