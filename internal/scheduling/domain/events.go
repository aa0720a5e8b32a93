package domain

import (
	"time"

	sharedDomain "github.com/diaguru/diaguru/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	AggregateType = "Capture"

	RoutingKeyCaptureScheduled   = "scheduling.capture.scheduled"
	RoutingKeyCaptureRescheduled = "scheduling.capture.rescheduled"
	RoutingKeyCaptureUnscheduled = "scheduling.capture.unscheduled"
	RoutingKeyCaptureCompleted   = "scheduling.capture.completed"
)

// CaptureScheduled is emitted when a capture receives a committed placement.
type CaptureScheduled struct {
	sharedDomain.BaseEvent
	CaptureID  uuid.UUID `json:"capture_id"`
	PlanID     uuid.UUID `json:"plan_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Late       bool      `json:"late"`
	Overlapped bool      `json:"overlapped"`
	ChunkCount int       `json:"chunk_count"`
}

// NewCaptureScheduled creates a CaptureScheduled event. Rescheduled commits
// share the payload but route under their own key.
func NewCaptureScheduled(c *Capture, planID uuid.UUID, chunks []Chunk, rescheduled bool) CaptureScheduled {
	routingKey := RoutingKeyCaptureScheduled
	if rescheduled {
		routingKey = RoutingKeyCaptureRescheduled
	}
	ev := CaptureScheduled{
		BaseEvent:  sharedDomain.NewBaseEvent(c.ID, AggregateType, routingKey),
		CaptureID:  c.ID,
		PlanID:     planID,
		ChunkCount: len(chunks),
	}
	if span, ok := ChunkSpan(chunks); ok {
		ev.Start = span.Start
		ev.End = span.End
	}
	for _, ch := range chunks {
		ev.Late = ev.Late || ch.Late
		ev.Overlapped = ev.Overlapped || ch.Overlapped
	}
	return ev
}

// CaptureUnscheduled is emitted when a scheduled capture is displaced.
type CaptureUnscheduled struct {
	sharedDomain.BaseEvent
	CaptureID uuid.UUID  `json:"capture_id"`
	PlanID    uuid.UUID  `json:"plan_id"`
	OldStart  *time.Time `json:"old_start,omitempty"`
	OldEnd    *time.Time `json:"old_end,omitempty"`
}

// NewCaptureUnscheduled creates a CaptureUnscheduled event.
func NewCaptureUnscheduled(c *Capture, planID uuid.UUID, oldStart, oldEnd *time.Time) CaptureUnscheduled {
	return CaptureUnscheduled{
		BaseEvent: sharedDomain.NewBaseEvent(c.ID, AggregateType, RoutingKeyCaptureUnscheduled),
		CaptureID: c.ID,
		PlanID:    planID,
		OldStart:  oldStart,
		OldEnd:    oldEnd,
	}
}

// CaptureCompleted is emitted when the user completes a capture.
type CaptureCompleted struct {
	sharedDomain.BaseEvent
	CaptureID uuid.UUID `json:"capture_id"`
}

// NewCaptureCompleted creates a CaptureCompleted event.
func NewCaptureCompleted(c *Capture) CaptureCompleted {
	return CaptureCompleted{
		BaseEvent: sharedDomain.NewBaseEvent(c.ID, AggregateType, RoutingKeyCaptureCompleted),
		CaptureID: c.ID,
	}
}
