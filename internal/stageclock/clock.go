package stageclock

import (
	"fmt"
	"time"
)

// Progress is a point-in-time reading of a session clock.
type Progress struct {
	// Index of the current stage, always within [0, len(schedule)-1].
	Index int `json:"current_stage_index"`
	Stage Stage `json:"stage"`

	// StageProgress is the fraction of the current stage elapsed, in [0, 1].
	StageProgress float64 `json:"stage_progress"`

	// RemainingText is the time left in the stage as M:SS.
	RemainingText    string        `json:"remaining_in_stage"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remaining_seconds"`

	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds int64         `json:"elapsed_seconds"`

	// TotalProgress is the fraction of the whole session elapsed, in [0, 1].
	TotalProgress float64 `json:"total_progress"`
	Finished      bool    `json:"finished"`

	StageStartsAt time.Time `json:"stage_starts_at"`
	StageEndsAt   time.Time `json:"stage_ends_at"`
}

// Clock maps wall-clock instants onto a fixed schedule that began at a fixed
// start time. A Clock is immutable and safe for concurrent use.
type Clock struct {
	start    time.Time
	schedule Schedule
	// ends[i] is the elapsed second at which stage i ends.
	ends  []int64
	total int64
}

// New builds a Clock. The schedule is copied; later changes to the caller's
// slice have no effect.
func New(start time.Time, schedule Schedule) (*Clock, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s := schedule.Clone()
	ends := make([]int64, len(s))
	var acc int64
	for i, st := range s {
		acc += st.seconds()
		ends[i] = acc
	}

	return &Clock{
		start:    start,
		schedule: s,
		ends:     ends,
		total:    acc,
	}, nil
}

// Compute is the one-shot form of New followed by At.
func Compute(start time.Time, schedule Schedule, now time.Time) (Progress, error) {
	c, err := New(start, schedule)
	if err != nil {
		return Progress{}, fmt.Errorf("stage clock: %w", err)
	}
	return c.At(now), nil
}

// Start returns the instant the session began.
func (c *Clock) Start() time.Time { return c.start }

// Schedule returns a copy of the clock's schedule.
func (c *Clock) Schedule() Schedule { return c.schedule.Clone() }

// Total returns the length of the whole session.
func (c *Clock) Total() time.Duration { return time.Duration(c.total) * time.Second }

// EndsAt returns the instant the last stage ends.
func (c *Clock) EndsAt() time.Time { return c.start.Add(c.Total()) }

// elapsedSeconds floors now-start to whole seconds, clamping readings taken
// before the start to zero.
func (c *Clock) elapsedSeconds(now time.Time) int64 {
	d := now.Sub(c.start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// At reports which stage is current at now. A stage owns the half-open
// interval [start, end), so an exact boundary belongs to the next stage.
func (c *Clock) At(now time.Time) Progress {
	elapsed := c.elapsedSeconds(now)
	last := len(c.schedule) - 1

	if elapsed >= c.total {
		lastStart := c.total - c.schedule[last].seconds()
		return Progress{
			Index:          last,
			Stage:          c.schedule[last],
			StageProgress:  1.0,
			RemainingText:  FormatRemaining(0),
			Elapsed:        time.Duration(elapsed) * time.Second,
			ElapsedSeconds: elapsed,
			TotalProgress:  1.0,
			Finished:       true,
			StageStartsAt:  c.offset(lastStart),
			StageEndsAt:    c.offset(c.total),
		}
	}

	var before int64
	idx := 0
	for i, end := range c.ends {
		if elapsed < end {
			idx = i
			break
		}
		before = end
	}

	stage := c.schedule[idx]
	length := stage.seconds()
	remaining := c.ends[idx] - elapsed
	remainingDur := time.Duration(remaining) * time.Second

	return Progress{
		Index:            idx,
		Stage:            stage,
		StageProgress:    float64(elapsed-before) / float64(length),
		RemainingText:    FormatRemaining(remainingDur),
		Remaining:        remainingDur,
		RemainingSeconds: remaining,
		Elapsed:          time.Duration(elapsed) * time.Second,
		ElapsedSeconds:   elapsed,
		TotalProgress:    float64(elapsed) / float64(c.total),
		StageStartsAt:    c.offset(before),
		StageEndsAt:      c.offset(c.ends[idx]),
	}
}

// NextBoundary returns the next instant after now at which At would report a
// different stage, or the session end for the last stage. ok is false once
// the session has finished.
func (c *Clock) NextBoundary(now time.Time) (next time.Time, ok bool) {
	elapsed := c.elapsedSeconds(now)
	if elapsed >= c.total {
		return time.Time{}, false
	}
	for _, end := range c.ends {
		if elapsed < end {
			return c.offset(end), true
		}
	}
	return time.Time{}, false
}

func (c *Clock) offset(seconds int64) time.Time {
	return c.start.Add(time.Duration(seconds) * time.Second)
}

// FormatRemaining renders d as M:SS with unpadded minutes. Negative values
// render as 0:00 and sub-second remainders are dropped.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
