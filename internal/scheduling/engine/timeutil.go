package engine

import "time"

// BuildZonedTime constructs the instant whose wall clock in loc reads
// hour:min on the local date of ref, shifted by dayOffset days. The timezone
// offset is resolved at the constructed instant, not at ref, so the result
// stays correct across DST transitions.
func BuildZonedTime(ref time.Time, loc *time.Location, dayOffset, hour, min int) time.Time {
	local := ref.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+dayOffset, hour, min, 0, 0, loc)
}

// StartOfWorkingDay returns the working-window start on ref's local date.
func StartOfWorkingDay(ref time.Time, loc *time.Location, workingStartHour int) time.Time {
	return BuildZonedTime(ref, loc, 0, workingStartHour, 0)
}

// EndOfWorkingDay returns the working-window end on ref's local date.
func EndOfWorkingDay(ref time.Time, loc *time.Location, dayEndHour int) time.Time {
	return BuildZonedTime(ref, loc, 0, dayEndHour, 0)
}

// IsBeforeWorkingStart reports whether t falls before the local working
// window opens.
func IsBeforeWorkingStart(t time.Time, loc *time.Location, workingStartHour int) bool {
	return t.Before(StartOfWorkingDay(t, loc, workingStartHour))
}

// IsAfterWorkingEnd reports whether t falls at or past the local working
// window close.
func IsAfterWorkingEnd(t time.Time, loc *time.Location, dayEndHour int) bool {
	return !t.Before(EndOfWorkingDay(t, loc, dayEndHour))
}

// WithinWorkingWindow reports whether [start, end) fits inside one local
// working day.
func WithinWorkingWindow(start, end time.Time, loc *time.Location, workingStartHour, dayEndHour int) bool {
	if IsBeforeWorkingStart(start, loc, workingStartHour) || IsAfterWorkingEnd(start, loc, dayEndHour) {
		return false
	}
	return !end.After(EndOfWorkingDay(start, loc, dayEndHour))
}

// RoundUpMinutes rounds minutes up to the next multiple of increment.
func RoundUpMinutes(minutes, increment int) int {
	if increment <= 0 {
		return minutes
	}
	if rem := minutes % increment; rem != 0 {
		return minutes + increment - rem
	}
	return minutes
}

// DateKeyUTC renders the UTC calendar date, the key for daily budgets.
func DateKeyUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MinutesBetween returns the whole minutes from a to b, never negative.
func MinutesBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a) / time.Minute)
}
