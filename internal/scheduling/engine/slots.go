package engine

import (
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// SlotSearchOptions parameterizes FindNextAvailableSlot.
type SlotSearchOptions struct {
	StartFrom            time.Time
	ReferenceNow         time.Time
	EnforceWorkingWindow bool
	PreferredTimeOfDay   *domain.TimeOfDay
}

type scanBounds struct {
	from           time.Time
	until          time.Time // zero means horizon-bounded only
	enforceWorking bool
}

// FindNextAvailableSlot finds the earliest feasible placement for a
// duration. With a preferred time-of-day band the band is tried on each of
// SearchDays days, earliest day first; otherwise the working window (or the
// continuous horizon) is swept at slot increments.
func FindNextAvailableSlot(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, opts SlotSearchOptions) *domain.TimeSlot {
	startFrom := opts.StartFrom
	if startFrom.IsZero() {
		startFrom = opts.ReferenceNow
	}

	if opts.PreferredTimeOfDay != nil {
		if slot := scanPreferredBand(busy, durationMinutes, loc, cfg, startFrom, *opts.PreferredTimeOfDay); slot != nil {
			return slot
		}
		// Band exhausted across the horizon; fall through to the plain sweep.
	}

	horizon := startFrom.Add(time.Duration(cfg.SearchDays) * 24 * time.Hour)
	return scanForSlot(busy, durationMinutes, loc, cfg, scanBounds{
		from:           startFrom,
		until:          horizon,
		enforceWorking: opts.EnforceWorkingWindow,
	})
}

// FindSlotBeforeDeadline sweeps [now, deadline - duration].
func FindSlotBeforeDeadline(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, deadline, now time.Time) *domain.TimeSlot {
	if !deadline.After(now) {
		return nil
	}
	return scanForSlot(busy, durationMinutes, loc, cfg, scanBounds{
		from:           now,
		until:          deadline,
		enforceWorking: true,
	})
}

// FindSlotWithinWindow sweeps [max(ws, now), we - duration].
func FindSlotWithinWindow(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, ws, we, now time.Time) *domain.TimeSlot {
	from := ws
	if now.After(from) {
		from = now
	}
	if !we.After(from) {
		return nil
	}
	// Routine windows (sleep) extend past the working day on purpose, so
	// window sweeps never enforce the working window.
	return scanForSlot(busy, durationMinutes, loc, cfg, scanBounds{
		from:  from,
		until: we,
	})
}

// FindLatePlacementSlot finds the earliest slot at or after the missed
// deadline.
func FindLatePlacementSlot(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, startFrom time.Time) *domain.TimeSlot {
	horizon := startFrom.Add(time.Duration(cfg.SearchDays) * 24 * time.Hour)
	return scanForSlot(busy, durationMinutes, loc, cfg, scanBounds{
		from:           startFrom,
		until:          horizon,
		enforceWorking: true,
	})
}

// scanForSlot sweeps candidate starts at slot increments and returns the
// earliest start whose buffered interval set is free. Tie-break is always
// earliest start: ascending time within a day, ascending day across days.
func scanForSlot(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, b scanBounds) *domain.TimeSlot {
	if durationMinutes <= 0 || b.until.IsZero() {
		return nil
	}
	dur := time.Duration(durationMinutes) * time.Minute
	step := time.Duration(cfg.SlotIncrementMinutes) * time.Minute

	cursor := alignUp(b.from, loc, cfg.SlotIncrementMinutes)
	for !cursor.Add(dur).After(b.until) {
		if b.enforceWorking {
			if IsBeforeWorkingStart(cursor, loc, cfg.WorkingStartHour) {
				cursor = StartOfWorkingDay(cursor, loc, cfg.WorkingStartHour)
				continue
			}
			if IsAfterWorkingEnd(cursor, loc, cfg.DayEndHour) ||
				cursor.Add(dur).After(EndOfWorkingDay(cursor, loc, cfg.DayEndHour)) {
				cursor = StartOfWorkingDay(cursor, loc, cfg.WorkingStartHour).Add(24 * time.Hour)
				cursor = alignUp(cursor, loc, cfg.SlotIncrementMinutes)
				continue
			}
		}
		if IsSlotFree(cursor, cursor.Add(dur), busy) {
			return &domain.TimeSlot{Start: cursor, End: cursor.Add(dur)}
		}
		cursor = cursor.Add(step)
	}
	return nil
}

// scanPreferredBand tries the capture's preferred band on each day across
// the search horizon, earliest day first.
func scanPreferredBand(busy []BusyInterval, durationMinutes int, loc *time.Location, cfg SchedulerConfig, startFrom time.Time, tod domain.TimeOfDay) *domain.TimeSlot {
	for d := 0; d < cfg.SearchDays; d++ {
		bandStart, bandEnd := bandBounds(startFrom, loc, cfg, d, tod)
		from := bandStart
		if startFrom.After(from) {
			from = startFrom
		}
		if !bandEnd.After(from) {
			continue
		}
		if slot := scanForSlot(busy, durationMinutes, loc, cfg, scanBounds{from: from, until: bandEnd}); slot != nil {
			return slot
		}
	}
	return nil
}

// bandBounds returns the band's interval on the day dayOffset days after
// ref. The night band wraps past midnight into the sleep-end time.
func bandBounds(ref time.Time, loc *time.Location, cfg SchedulerConfig, dayOffset int, tod domain.TimeOfDay) (time.Time, time.Time) {
	switch tod {
	case domain.TimeOfDayMorning:
		return BuildZonedTime(ref, loc, dayOffset, cfg.WorkingStartHour, 0),
			BuildZonedTime(ref, loc, dayOffset, 12, 0)
	case domain.TimeOfDayAfternoon:
		return BuildZonedTime(ref, loc, dayOffset, 12, 0),
			BuildZonedTime(ref, loc, dayOffset, 17, 0)
	case domain.TimeOfDayEvening:
		return BuildZonedTime(ref, loc, dayOffset, 17, 0),
			BuildZonedTime(ref, loc, dayOffset, cfg.DayEndHour, 0)
	case domain.TimeOfDayNight:
		return BuildZonedTime(ref, loc, dayOffset, cfg.SleepStartHour, 0),
			BuildZonedTime(ref, loc, dayOffset+1, cfg.SleepEndHour, cfg.SleepEndMinute)
	default:
		return BuildZonedTime(ref, loc, dayOffset, cfg.WorkingStartHour, 0),
			BuildZonedTime(ref, loc, dayOffset, cfg.DayEndHour, 0)
	}
}

// alignUp rounds t up to the next wall-clock slot increment in loc.
func alignUp(t time.Time, loc *time.Location, incMinutes int) time.Time {
	local := t.In(loc)
	rem := local.Minute() % incMinutes
	if rem == 0 && local.Second() == 0 && local.Nanosecond() == 0 {
		return t
	}
	add := time.Duration(incMinutes-rem)*time.Minute -
		time.Duration(local.Second())*time.Second -
		time.Duration(local.Nanosecond())
	return t.Add(add)
}
