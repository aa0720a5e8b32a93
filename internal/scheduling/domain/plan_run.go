package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanRun is the audit scope of one scheduling request. It is created lazily
// on the first mutation and finalized with a summary when the request ends.
type PlanRun struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Summary   string
	CreatedAt time.Time
}

// ActionKind classifies one capture mutation inside a plan run.
type ActionKind string

const (
	ActionScheduled   ActionKind = "scheduled"
	ActionRescheduled ActionKind = "rescheduled"
	ActionUnscheduled ActionKind = "unscheduled"
)

// PlacementSnapshot is the audited subset of a capture's state.
type PlacementSnapshot struct {
	Status            CaptureStatus
	PlannedStart      *time.Time
	PlannedEnd        *time.Time
	CalendarEventID   *string
	CalendarEventEtag *string
	FreezeUntil       *time.Time
	PlanID            *uuid.UUID
}

// SnapshotOf captures the audited placement fields of a capture.
func SnapshotOf(c *Capture) PlacementSnapshot {
	return PlacementSnapshot{
		Status:            c.Status,
		PlannedStart:      clonePtr(c.PlannedStart),
		PlannedEnd:        clonePtr(c.PlannedEnd),
		CalendarEventID:   clonePtr(c.CalendarEventID),
		CalendarEventEtag: clonePtr(c.CalendarEventEtag),
		FreezeUntil:       clonePtr(c.FreezeUntil),
		PlanID:            clonePtr(c.PlanID),
	}
}

// PlanAction records the before/after snapshot of one capture mutation.
type PlanAction struct {
	ID             uuid.UUID
	PlanID         uuid.UUID
	CaptureID      uuid.UUID
	CaptureContent string
	Kind           ActionKind
	Prev           PlacementSnapshot
	Next           PlacementSnapshot
	CreatedAt      time.Time
}

// SummarizeActions renders the run summary persisted on finalize.
func SummarizeActions(actions []PlanAction) string {
	var scheduled, moved, unscheduled int
	for _, a := range actions {
		switch a.Kind {
		case ActionScheduled:
			scheduled++
		case ActionRescheduled:
			moved++
		case ActionUnscheduled:
			unscheduled++
		}
	}
	return fmt.Sprintf("scheduled:%d moved:%d unscheduled:%d", scheduled, moved, unscheduled)
}
