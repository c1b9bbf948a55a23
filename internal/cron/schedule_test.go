package cron

import (
	"testing"
	"time"
)

func TestValidateSchedule(t *testing.T) {
	valid := []Schedule{
		{Kind: ScheduleAt, AtMs: 1},
		{Kind: ScheduleEvery, EveryMs: 1000},
		{Kind: ScheduleCron, Expr: "*/5 * * * *"},
		{Kind: ScheduleCron, Expr: "@hourly"},
	}
	for _, s := range valid {
		if err := validateSchedule(s); err != nil {
			t.Errorf("expected %+v valid, got %v", s, err)
		}
	}

	invalid := []Schedule{
		{Kind: ScheduleAt},
		{Kind: ScheduleAt, AtMs: -5},
		{Kind: ScheduleEvery},
		{Kind: ScheduleEvery, EveryMs: -1},
		{Kind: ScheduleCron, Expr: "not a cron"},
		{Kind: ScheduleCron, Expr: "* * * * * *"}, // seconds field not accepted
		{Kind: "sometimes"},
	}
	for _, s := range invalid {
		if err := validateSchedule(s); err == nil {
			t.Errorf("expected %+v invalid", s)
		}
	}
}

func TestFirstRunAtKeepsPastTimestamp(t *testing.T) {
	now := time.Now().UnixMilli()
	past := now - 60_000

	got, err := firstRunAt(Schedule{Kind: ScheduleAt, AtMs: past}, now)
	if err != nil {
		t.Fatalf("firstRunAt failed: %v", err)
	}
	if got != past {
		t.Errorf("past at-job should keep its literal timestamp: got %d want %d", got, past)
	}
}

func TestFirstRunAtEveryAnchor(t *testing.T) {
	now := int64(1_000_000)

	// Future anchor: first run is the anchor itself.
	got, err := firstRunAt(Schedule{Kind: ScheduleEvery, EveryMs: 500, AnchorMs: now + 10_000}, now)
	if err != nil {
		t.Fatalf("firstRunAt failed: %v", err)
	}
	if got != now+10_000 {
		t.Errorf("future anchor: got %d want %d", got, now+10_000)
	}

	// Past anchor: first run is the next grid point after now.
	got, err = firstRunAt(Schedule{Kind: ScheduleEvery, EveryMs: 300, AnchorMs: now - 1_000}, now)
	if err != nil {
		t.Fatalf("firstRunAt failed: %v", err)
	}
	if got <= now {
		t.Errorf("expected next occurrence after now, got %d", got)
	}
	if (got-(now-1_000))%300 != 0 {
		t.Errorf("occurrence %d not on anchor grid", got)
	}
}

func TestFirstRunAtCron(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC).UnixMilli()
	got, err := firstRunAt(Schedule{Kind: ScheduleCron, Expr: "*/15 * * * *"}, now)
	if err != nil {
		t.Fatalf("firstRunAt failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Errorf("got %s want %s", time.UnixMilli(got).UTC(), time.UnixMilli(want).UTC())
	}
}

func TestNextRunAfterOneShot(t *testing.T) {
	if _, ok := nextRunAfter(Schedule{Kind: ScheduleAt, AtMs: 123}, 456); ok {
		t.Fatal("at schedules have no next occurrence")
	}
}

func TestNextRunAfterEveryDoesNotDrift(t *testing.T) {
	anchor := int64(1_000_000)
	every := int64(60_000)

	// A run finishing late in the window must still land on the grid.
	lateNow := anchor + every + 45_000
	next, ok := nextRunAfter(Schedule{Kind: ScheduleEvery, EveryMs: every, AnchorMs: anchor}, lateNow)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if next != anchor+2*every {
		t.Errorf("got %d want %d (anchored grid)", next, anchor+2*every)
	}
}

func TestNextRunAfterMonotonic(t *testing.T) {
	anchor := int64(500_000)
	s := Schedule{Kind: ScheduleEvery, EveryMs: 10_000, AnchorMs: anchor}
	now := anchor + 3_000
	for i := 0; i < 5; i++ {
		next, ok := nextRunAfter(s, now)
		if !ok {
			t.Fatal("expected a next occurrence")
		}
		if next <= now {
			t.Fatalf("next %d not after now %d", next, now)
		}
		now = next
	}
}
