// Package stageclock derives the current stage of a timed session.
//
// A session is a fixed start time plus an ordered schedule of stages. Given
// any instant, Clock.At reports the stage index, the fraction of that stage
// elapsed, and the remaining time rendered as M:SS:
//
//	clock, err := stageclock.New(start, schedule)
//	if err != nil {
//	    return err
//	}
//	p := clock.At(time.Now())
//	fmt.Println(p.Stage.Name, p.RemainingText)
//
// Readings are pure functions of (start, schedule, now). Elapsed time is
// floored to whole seconds and clamped at zero, so readings before the start
// report the first stage at zero progress, and readings at or past the total
// report the last stage at full progress with "0:00" remaining.
//
// Ticker wraps a Clock for live displays. In ModeTick it recomputes every
// interval; in ModeBoundary it sleeps until the next stage change. Each
// update flags stage transitions so callers can play cues.
package stageclock
