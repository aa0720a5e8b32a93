package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildZonedTime_AcrossDSTTransition(t *testing.T) {
	chicago := loadLocation(t, "America/Chicago")

	// Nov 1 2025 is CDT (UTC-5); clocks fall back on Nov 2.
	ref := utcTime(2025, time.November, 1, 17, 0) // 12:00 CDT

	sameDay := BuildZonedTime(ref, chicago, 0, 12, 0)
	assert.True(t, sameDay.Equal(utcTime(2025, time.November, 1, 17, 0)))

	nextDay := BuildZonedTime(ref, chicago, 1, 12, 0)
	assert.True(t, nextDay.Equal(utcTime(2025, time.November, 2, 18, 0)), "offset resolved at the constructed instant")
}

func TestWorkingWindowPredicates(t *testing.T) {
	loc := time.UTC

	assert.True(t, IsBeforeWorkingStart(utcTime(2025, time.November, 24, 7, 59), loc, 8))
	assert.False(t, IsBeforeWorkingStart(utcTime(2025, time.November, 24, 8, 0), loc, 8))

	assert.False(t, IsAfterWorkingEnd(utcTime(2025, time.November, 24, 21, 59), loc, 22))
	assert.True(t, IsAfterWorkingEnd(utcTime(2025, time.November, 24, 22, 0), loc, 22))

	assert.True(t, WithinWorkingWindow(
		utcTime(2025, time.November, 24, 8, 0),
		utcTime(2025, time.November, 24, 22, 0),
		loc, 8, 22,
	))
	assert.False(t, WithinWorkingWindow(
		utcTime(2025, time.November, 24, 7, 45),
		utcTime(2025, time.November, 24, 8, 45),
		loc, 8, 22,
	))
	assert.False(t, WithinWorkingWindow(
		utcTime(2025, time.November, 24, 21, 30),
		utcTime(2025, time.November, 24, 22, 30),
		loc, 8, 22,
	))
}

func TestRoundUpMinutes(t *testing.T) {
	assert.Equal(t, 60, RoundUpMinutes(50, 15))
	assert.Equal(t, 60, RoundUpMinutes(60, 15))
	assert.Equal(t, 15, RoundUpMinutes(1, 15))
	assert.Equal(t, 0, RoundUpMinutes(0, 15))
	assert.Equal(t, 7, RoundUpMinutes(7, 0))
}

func TestDateKeyUTC(t *testing.T) {
	chicago := loadLocation(t, "America/Chicago")

	// 20:00 CST Nov 21 is already Nov 22 in UTC.
	local := time.Date(2025, time.November, 21, 20, 0, 0, 0, chicago)
	assert.Equal(t, "2025-11-22", DateKeyUTC(local))
	assert.Equal(t, "2025-11-21", DateKeyUTC(utcTime(2025, time.November, 21, 23, 59)))
}

func TestMinutesBetween(t *testing.T) {
	a := utcTime(2025, time.November, 24, 9, 0)
	assert.Equal(t, 90, MinutesBetween(a, a.Add(90*time.Minute)))
	assert.Equal(t, 0, MinutesBetween(a, a))
	assert.Equal(t, 0, MinutesBetween(a, a.Add(-time.Hour)))
}
