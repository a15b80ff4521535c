package engine

import (
	"fmt"
	"time"
)

// parseTimeOfDay validates and splits an "HH:MM" string.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time_of_day %q must be HH:MM", ErrInvalidArgument, s)
	}

	return t.Hour(), t.Minute(), nil
}

// FirstRun computes the initial next_run_at for a newly created (or
// re-enabled) schedule: the next occurrence of timeOfDay at the schedule's
// cadence, relative to now. If today's occurrence has already passed, the
// run rolls to the next valid occurrence. Pure; no side effects.
func FirstRun(typ ScheduleType, timeOfDay string, now time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if candidate.After(now) {
		return candidate, nil
	}

	switch typ {
	case ScheduleDaily:
		return candidate.AddDate(0, 0, 1), nil
	case ScheduleWeekly:
		return candidate.AddDate(0, 0, 7), nil
	case ScheduleMonthly:
		return addMonthClamped(candidate), nil
	default:
		return time.Time{}, fmt.Errorf("%w: schedule_type %q", ErrInvalidArgument, typ)
	}
}

// NextRun advances a schedule from its previous next_run_at. Deterministic
// given (typ, after): daily moves to the same time next calendar day,
// weekly to the same weekday next week, monthly to the same day-of-month
// next month, clamped to the last valid day of shorter months. The result
// is always strictly after its input.
func NextRun(typ ScheduleType, after time.Time) time.Time {
	switch typ {
	case ScheduleDaily:
		return after.AddDate(0, 0, 1)
	case ScheduleWeekly:
		return after.AddDate(0, 0, 7)
	case ScheduleMonthly:
		return addMonthClamped(after)
	default:
		// Unknown cadences cannot be stored; fall back to daily so a
		// corrupted row can never make a schedule permanently due.
		return after.AddDate(0, 0, 1)
	}
}

// addMonthClamped moves t one month forward, clamping the day-of-month to
// the target month's length (Jan 31 -> Feb 28/29). Plain AddDate would
// normalize Feb 31 into early March instead.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()

	nextMonth := month + 1
	if nextMonth > time.December {
		nextMonth = time.January
		year++
	}

	if last := lastDayOfMonth(year, nextMonth); day > last {
		day = last
	}

	return time.Date(year, nextMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// lastDayOfMonth returns the number of days in the given month.
func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
