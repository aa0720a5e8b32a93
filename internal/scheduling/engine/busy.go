package engine

import (
	"sort"
	"time"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// BusyInterval is a buffered half-open interval [Start, End) derived from a
// calendar event.
type BusyInterval struct {
	Start   time.Time
	End     time.Time
	EventID string
	Owned   bool
}

// ComputeBusyIntervals expands each event by a symmetric buffer and returns
// the intervals sorted by start. In-progress events (start <= now < end) get
// zero buffer on both sides so the tail of a running meeting stays usable.
func ComputeBusyIntervals(events []calendarApp.Event, buffer time.Duration, now time.Time) []BusyInterval {
	intervals := make([]BusyInterval, 0, len(events))
	for _, ev := range events {
		b := buffer
		if ev.InProgress(now) {
			b = 0
		}
		intervals = append(intervals, BusyInterval{
			Start:   ev.Start.Add(-b),
			End:     ev.End.Add(b),
			EventID: ev.ID,
			Owned:   ev.IsOwned(),
		})
	}
	sortBusy(intervals)
	return intervals
}

// IsSlotFree reports whether no interval overlaps [start, end).
func IsSlotFree(start, end time.Time, busy []BusyInterval) bool {
	for _, iv := range busy {
		if iv.Start.Before(end) && iv.End.After(start) {
			return false
		}
	}
	return true
}

// RegisterInterval inserts a newly committed slot, expanded by buffer, and
// keeps the set sorted.
func RegisterInterval(busy []BusyInterval, slot domain.TimeSlot, buffer time.Duration) []BusyInterval {
	busy = append(busy, BusyInterval{
		Start: slot.Start.Add(-buffer),
		End:   slot.End.Add(buffer),
		Owned: true,
	})
	sortBusy(busy)
	return busy
}

// OverlappingEvents partitions the events intersecting [start, end) into
// owned and external lists.
func OverlappingEvents(events []calendarApp.Event, start, end time.Time) (owned, external []calendarApp.Event) {
	for _, ev := range events {
		if ev.Start.Before(end) && ev.End.After(start) {
			if ev.IsOwned() {
				owned = append(owned, ev)
			} else {
				external = append(external, ev)
			}
		}
	}
	return owned, external
}

func sortBusy(intervals []BusyInterval) {
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})
}
