package engine

import (
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// NormalizeRoutineCapture rewrites sleep/meal captures into explicit local
// windows so the rest of the engine never special-cases routines. The
// rewrite is idempotent: re-invoking with the same inputs yields identical
// fields. Returns true when any field changed.
func NormalizeRoutineCapture(c *domain.Capture, now time.Time, loc *time.Location, cfg SchedulerConfig) bool {
	switch c.Routine() {
	case domain.RoutineSleep:
		return normalizeSleep(c, now, loc, cfg)
	case domain.RoutineMeal:
		return normalizeMeal(c, now, loc, cfg)
	default:
		return false
	}
}

// normalizeSleep anchors the night on its wake-up morning: the capture
// covers [22:00 of morning-1, 07:30 of morning]. "tomorrow" therefore means
// the night that starts tonight.
func normalizeSleep(c *domain.Capture, now time.Time, loc *time.Location, cfg SchedulerConfig) bool {
	var nightStart, nightEnd time.Time

	if anchor := sleepAnchor(c); anchor != nil {
		nightStart = BuildZonedTime(*anchor, loc, 0, cfg.SleepStartHour, 0)
		nightEnd = BuildZonedTime(*anchor, loc, 1, cfg.SleepEndHour, cfg.SleepEndMinute)
	} else {
		morningOffset := 1
		if c.TimePrefDay != nil && *c.TimePrefDay == "today" {
			morningOffset = 0
		}
		nightStart = BuildZonedTime(now, loc, morningOffset-1, cfg.SleepStartHour, 0)
		nightEnd = BuildZonedTime(now, loc, morningOffset, cfg.SleepEndHour, cfg.SleepEndMinute)
	}

	nightStart = nightStart.UTC()
	nightEnd = nightEnd.UTC()

	before := routineFingerprint(c)

	c.ConstraintKind = domain.ConstraintWindow
	c.WindowStart = &nightStart
	c.WindowEnd = &nightEnd
	c.ConstraintTime = &nightStart
	c.ConstraintEnd = &nightEnd
	c.CannotOverlap = true
	c.DurationFlexibility = domain.DurationFixed
	c.StartFlexibility = domain.StartSoft
	if c.TimePrefTimeOfDay == nil {
		tod := domain.TimeOfDayNight
		c.TimePrefTimeOfDay = &tod
	}
	if c.DeadlineAt == nil {
		c.DeadlineAt = &nightEnd
	}
	if !c.IsLocked() {
		c.FreezeUntil = nil
	}

	return before != routineFingerprint(c)
}

func normalizeMeal(c *domain.Capture, now time.Time, loc *time.Location, cfg SchedulerConfig) bool {
	before := routineFingerprint(c)

	if c.WindowStart == nil || c.WindowEnd == nil || !c.WindowEnd.After(*c.WindowStart) {
		dayOffset := 0
		if c.TimePrefDay != nil && *c.TimePrefDay == "tomorrow" {
			dayOffset = 1
		}
		ws := BuildZonedTime(now, loc, dayOffset, cfg.MealStartHour, 0).UTC()
		we := BuildZonedTime(now, loc, dayOffset, cfg.MealEndHour, 0).UTC()
		c.WindowStart = &ws
		c.WindowEnd = &we
	}

	c.ConstraintKind = domain.ConstraintWindow
	c.ConstraintTime = c.WindowStart
	c.ConstraintEnd = c.WindowEnd
	c.CannotOverlap = false
	c.DurationFlexibility = domain.DurationFixed
	c.StartFlexibility = domain.StartSoft
	if c.TimePrefTimeOfDay == nil {
		tod := domain.TimeOfDayAfternoon
		c.TimePrefTimeOfDay = &tod
	}
	if c.DeadlineAt == nil {
		c.DeadlineAt = c.WindowEnd
	}
	if !c.IsLocked() {
		c.FreezeUntil = nil
	}

	return before != routineFingerprint(c)
}

func sleepAnchor(c *domain.Capture) *time.Time {
	if c.StartTargetAt != nil {
		return c.StartTargetAt
	}
	return c.OriginalTargetTime
}

// routineFingerprint folds the routine-touched fields into a comparable
// value, used to report whether normalization changed anything.
type fingerprint struct {
	kind          domain.ConstraintKind
	ws, we        string
	cannotOverlap bool
	durFlex       domain.DurationFlexibility
	startFlex     domain.StartFlexibility
	tod           domain.TimeOfDay
	deadline      string
	frozen        string
}

func routineFingerprint(c *domain.Capture) fingerprint {
	fp := fingerprint{
		kind:          c.ConstraintKind,
		cannotOverlap: c.CannotOverlap,
		durFlex:       c.DurationFlexibility,
		startFlex:     c.StartFlexibility,
	}
	if c.WindowStart != nil {
		fp.ws = c.WindowStart.UTC().Format(time.RFC3339)
	}
	if c.WindowEnd != nil {
		fp.we = c.WindowEnd.UTC().Format(time.RFC3339)
	}
	if c.TimePrefTimeOfDay != nil {
		fp.tod = *c.TimePrefTimeOfDay
	}
	if c.DeadlineAt != nil {
		fp.deadline = c.DeadlineAt.UTC().Format(time.RFC3339)
	}
	if c.FreezeUntil != nil {
		fp.frozen = c.FreezeUntil.UTC().Format(time.RFC3339)
	}
	return fp
}
