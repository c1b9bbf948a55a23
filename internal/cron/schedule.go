package cron

import (
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

var cronParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// validateSchedule rejects malformed schedules before anything is persisted.
func validateSchedule(s Schedule) error {
	switch s.Kind {
	case ScheduleAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule requires a positive atMs")
		}
	case ScheduleEvery:
		if s.EveryMs <= 0 {
			return fmt.Errorf("every schedule requires a positive everyMs")
		}
	case ScheduleCron:
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// firstRunAt computes the initial nextRunAtMs for a newly added or
// rescheduled job. An "at" job keeps its literal timestamp even if it is
// already in the past; catch-up fires it on the next tick.
func firstRunAt(s Schedule, nowMs int64) (int64, error) {
	switch s.Kind {
	case ScheduleAt:
		return s.AtMs, nil
	case ScheduleEvery:
		anchor := s.AnchorMs
		if anchor == 0 {
			anchor = nowMs
		}
		if anchor > nowMs {
			return anchor, nil
		}
		return nextInterval(anchor, s.EveryMs, nowMs), nil
	case ScheduleCron:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return 0, err
		}
		return sched.Next(time.UnixMilli(nowMs)).UnixMilli(), nil
	}
	return 0, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// nextRunAfter computes the occurrence strictly after nowMs, or ok=false for
// a one-shot schedule that has no further occurrence.
func nextRunAfter(s Schedule, nowMs int64) (int64, bool) {
	switch s.Kind {
	case ScheduleAt:
		return 0, false
	case ScheduleEvery:
		anchor := s.AnchorMs
		if anchor == 0 {
			anchor = nowMs
		}
		if anchor > nowMs {
			return anchor, true
		}
		return nextInterval(anchor, s.EveryMs, nowMs), true
	case ScheduleCron:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return 0, false
		}
		return sched.Next(time.UnixMilli(nowMs)).UnixMilli(), true
	}
	return 0, false
}

// nextInterval advances from the anchor baseline, not from "now", so long or
// delayed runs do not drift the cadence.
func nextInterval(anchorMs, everyMs, nowMs int64) int64 {
	elapsed := nowMs - anchorMs
	steps := elapsed/everyMs + 1
	return anchorMs + steps*everyMs
}
