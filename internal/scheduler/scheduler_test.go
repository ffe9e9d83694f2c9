package scheduler

import (
	"testing"
	"time"
)

func TestNextDailyTime_BeforeFireTime_SameDay(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, loc) // Friday
	next := nextDailyTime(now, 14, 30, loc)
	want := time.Date(2026, 7, 31, 14, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextDailyTime_AfterFireTime_NextDay(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 31, 15, 0, 0, 0, loc)
	next := nextDailyTime(now, 14, 30, loc)
	want := time.Date(2026, 8, 1, 14, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextWeeklyTime_FindsNextMonday(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, loc) // Friday
	next := nextWeeklyTime(now, time.Monday, 8, 30, loc)
	if next.Weekday() != time.Monday {
		t.Fatalf("expected Monday, got %v", next.Weekday())
	}
	if !next.After(now) {
		t.Fatalf("expected future time, got %v (now=%v)", next, now)
	}
	want := time.Date(2026, 8, 3, 8, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextMonthlyTime_RollsOverToNextMonth(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, loc)
	next := nextMonthlyTime(now, 1, 1, 0, loc)
	want := time.Date(2026, 8, 1, 1, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextYearlyTime_RollsOverToNextYear(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, loc)
	next := nextYearlyTime(now, time.January, 1, 0, 0, loc)
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestThirdWeekday_MatchesKnownCalendarDates(t *testing.T) {
	loc := time.UTC
	// July 2026: Wednesdays fall on 1, 8, 15, 22, 29 -> third is the 15th.
	got := thirdWeekday(2026, time.July, time.Wednesday, loc)
	want := time.Date(2026, 7, 15, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestThirdWeekday_WhenMonthStartsOnTargetWeekday(t *testing.T) {
	loc := time.UTC
	// January 2025 starts on a Wednesday -> third Wednesday is Jan 15.
	got := thirdWeekday(2025, time.January, time.Wednesday, loc)
	want := time.Date(2025, 1, 15, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
