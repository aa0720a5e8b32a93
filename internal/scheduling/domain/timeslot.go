package domain

import "time"

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// Duration returns the slot duration.
func (ts TimeSlot) Duration() time.Duration {
	return ts.End.Sub(ts.Start)
}

// Minutes returns the slot length in whole minutes.
func (ts TimeSlot) Minutes() int {
	return int(ts.End.Sub(ts.Start) / time.Minute)
}

// Overlaps reports whether two half-open intervals intersect.
func (ts TimeSlot) Overlaps(other TimeSlot) bool {
	return ts.Start.Before(other.End) && ts.End.After(other.Start)
}

// IsValid reports whether the slot has positive length.
func (ts TimeSlot) IsValid() bool {
	return ts.End.After(ts.Start)
}
