package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one contiguous segment of a capture's committed placement.
// A capture placed in a single piece has exactly one chunk.
type Chunk struct {
	CaptureID uuid.UUID
	Start     time.Time
	End       time.Time
	// Prime marks the highest-priority participant of an overlapped slot.
	Prime bool
	// Late marks placement past the capture's deadline.
	Late bool
	// Overlapped marks a slot shared with another owned capture.
	Overlapped bool
}

// Minutes returns the chunk length in whole minutes.
func (c Chunk) Minutes() int {
	return int(c.End.Sub(c.Start) / time.Minute)
}

// ChunkSpan returns the envelope covering all chunks, assuming they are
// ordered by start time.
func ChunkSpan(chunks []Chunk) (TimeSlot, bool) {
	if len(chunks) == 0 {
		return TimeSlot{}, false
	}
	return TimeSlot{Start: chunks[0].Start, End: chunks[len(chunks)-1].End}, true
}
