package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstRunRollsForwardWhenPassed(t *testing.T) {
	// 03:00 local; the 02:00 slot already passed today.
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	next, err := FirstRun(ScheduleDaily, "02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), next)
}

func TestFirstRunSameDayWhenAhead(t *testing.T) {
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

	next, err := FirstRun(ScheduleWeekly, "02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)
}

func TestFirstRunWeeklyRollsSevenDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	next, err := FirstRun(ScheduleWeekly, "02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 17, 2, 0, 0, 0, time.UTC), next)
}

func TestFirstRunRejectsBadTimeOfDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	for _, bad := range []string{"", "2am", "25:00", "12:60", "12:00:00"} {
		_, err := FirstRun(ScheduleDaily, bad, now)
		assert.ErrorIs(t, err, ErrInvalidArgument, "time_of_day %q", bad)
	}
}

func TestNextRunDaily(t *testing.T) {
	after := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), NextRun(ScheduleDaily, after))
}

func TestNextRunWeeklyKeepsWeekday(t *testing.T) {
	after := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) // a Tuesday
	next := NextRun(ScheduleWeekly, after)

	assert.Equal(t, time.Date(2026, 3, 17, 2, 0, 0, 0, time.UTC), next)
	assert.Equal(t, after.Weekday(), next.Weekday())
}

func TestNextRunMonthlyClampsShortMonths(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 2, 0, 0, 0, time.UTC)

	feb := NextRun(ScheduleMonthly, jan31)
	assert.Equal(t, time.Date(2026, 2, 28, 2, 0, 0, 0, time.UTC), feb)

	// The clamp does not stick: March has a 31st but the schedule's
	// stored anchor is whatever the previous run advanced to.
	mar := NextRun(ScheduleMonthly, feb)
	assert.Equal(t, time.Date(2026, 3, 28, 2, 0, 0, 0, time.UTC), mar)
}

func TestNextRunMonthlyLeapYear(t *testing.T) {
	jan31 := time.Date(2028, 1, 31, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2028, 2, 29, 2, 0, 0, 0, time.UTC), NextRun(ScheduleMonthly, jan31))
}

func TestNextRunDecemberWraps(t *testing.T) {
	dec := time.Date(2026, 12, 15, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 15, 2, 0, 0, 0, time.UTC), NextRun(ScheduleMonthly, dec))
}

func TestNextRunStrictlyAdvances(t *testing.T) {
	after := time.Date(2026, 6, 30, 23, 59, 0, 0, time.UTC)

	for _, typ := range []ScheduleType{ScheduleDaily, ScheduleWeekly, ScheduleMonthly} {
		assert.True(t, NextRun(typ, after).After(after), "type %s", typ)
	}
}

func TestNextAfterSkipsMissedRuns(t *testing.T) {
	// Server was down for three days; the schedule advances past all
	// missed occurrences in one commit, preserving the time of day.
	due := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 13, 5, 0, 0, 0, time.UTC)

	next := nextAfter(ScheduleDaily, due, now)
	assert.Equal(t, time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC), next)
}
