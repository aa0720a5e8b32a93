package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CaptureStatus is the lifecycle state of a capture.
type CaptureStatus string

const (
	StatusPending   CaptureStatus = "pending"
	StatusScheduled CaptureStatus = "scheduled"
	StatusCompleted CaptureStatus = "completed"
)

// ConstraintKind classifies the temporal constraint attached to a capture.
type ConstraintKind string

const (
	ConstraintFlexible     ConstraintKind = "flexible"
	ConstraintDeadlineTime ConstraintKind = "deadline_time"
	ConstraintDeadlineDate ConstraintKind = "deadline_date"
	ConstraintStartTime    ConstraintKind = "start_time"
	ConstraintWindow       ConstraintKind = "window"
)

// NormalizeConstraintKind folds legacy aliases onto their canonical kind.
func NormalizeConstraintKind(raw string) ConstraintKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deadline", "end_time", "deadline_time":
		return ConstraintDeadlineTime
	case "deadline_date":
		return ConstraintDeadlineDate
	case "start_time":
		return ConstraintStartTime
	case "window":
		return ConstraintWindow
	default:
		return ConstraintFlexible
	}
}

// StartFlexibility controls how firmly a capture holds its start time.
type StartFlexibility string

const (
	StartSoft StartFlexibility = "soft"
	StartHard StartFlexibility = "hard"
)

// DurationFlexibility controls whether a capture may be split into chunks.
type DurationFlexibility string

const (
	DurationFixed        DurationFlexibility = "fixed"
	DurationSplitAllowed DurationFlexibility = "split_allowed"
)

// TimeOfDay is a preferred time-of-day band.
type TimeOfDay string

const (
	TimeOfDayMorning   TimeOfDay = "morning"
	TimeOfDayAfternoon TimeOfDay = "afternoon"
	TimeOfDayEvening   TimeOfDay = "evening"
	TimeOfDayNight     TimeOfDay = "night"
)

// RoutineKind identifies routine captures normalized into fixed windows.
type RoutineKind string

const (
	RoutineNone  RoutineKind = ""
	RoutineSleep RoutineKind = "routine.sleep"
	RoutineMeal  RoutineKind = "routine.meal"
)

// Estimated duration bounds in minutes.
const (
	MinEstimatedMinutes = 5
	MaxEstimatedMinutes = 480
)

// Capture is the unit of scheduling: a user task description plus optional
// temporal constraints and flexibility flags.
type Capture struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Content          string
	EstimatedMinutes int
	Importance       int

	Urgency           *float64
	Impact            *float64
	ReschedulePenalty *float64

	Status CaptureStatus

	ConstraintKind     ConstraintKind
	ConstraintTime     *time.Time
	ConstraintEnd      *time.Time
	ConstraintDate     *string // YYYY-MM-DD
	OriginalTargetTime *time.Time
	DeadlineAt         *time.Time
	WindowStart        *time.Time
	WindowEnd          *time.Time
	StartTargetAt      *time.Time

	IsSoftStart         bool
	CannotOverlap       bool
	StartFlexibility    StartFlexibility
	DurationFlexibility DurationFlexibility
	MinChunkMinutes     *int
	MaxSplits           *int

	ExtractionKind    *string
	TaskTypeHint      *string
	TimePrefTimeOfDay *TimeOfDay
	TimePrefDay       *string // "today" | "tomorrow"

	ExternalityScore float64
	RescheduleCount  int

	PlannedStart      *time.Time
	PlannedEnd        *time.Time
	ScheduledFor      *time.Time
	CalendarEventID   *string
	CalendarEventEtag *string

	FreezeUntil     *time.Time
	PlanID          *uuid.UUID
	ManualTouchAt   *time.Time
	SchedulingNotes *string // opaque JSON blob, narrow typed projection only

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EstimatedDurationMinutes returns the estimate clamped to [5, 480].
func (c *Capture) EstimatedDurationMinutes() int {
	m := c.EstimatedMinutes
	if m < MinEstimatedMinutes {
		return MinEstimatedMinutes
	}
	if m > MaxEstimatedMinutes {
		return MaxEstimatedMinutes
	}
	return m
}

// Routine derives the routine kind from task_type_hint or extraction_kind.
func (c *Capture) Routine() RoutineKind {
	for _, hint := range []*string{c.TaskTypeHint, c.ExtractionKind} {
		if hint == nil {
			continue
		}
		switch {
		case strings.HasPrefix(*hint, string(RoutineSleep)):
			return RoutineSleep
		case strings.HasPrefix(*hint, string(RoutineMeal)):
			return RoutineMeal
		case strings.HasPrefix(*hint, "routine."):
			// Unrecognized routines fall back to meal-style handling.
			return RoutineMeal
		}
	}
	return RoutineNone
}

// IsRoutine reports whether the capture is a sleep/meal routine.
func (c *Capture) IsRoutine() bool {
	return c.Routine() != RoutineNone
}

// IsFrozen reports whether freeze_until blocks any automatic change.
func (c *Capture) IsFrozen(now time.Time) bool {
	return c.FreezeUntil != nil && c.FreezeUntil.After(now)
}

// IsLocked reports whether the user has pinned this capture manually.
func (c *Capture) IsLocked() bool {
	return c.ManualTouchAt != nil || c.FreezeUntil != nil
}

// CanOverlap reports whether the capture may share a slot with another.
func (c *Capture) CanOverlap() bool {
	return !c.CannotOverlap && c.StartFlexibility != StartHard
}

// AllowSplit reports whether the duration may be chunked.
func (c *Capture) AllowSplit() bool {
	return c.DurationFlexibility == DurationSplitAllowed
}

// MinChunk returns the minimum chunk size in minutes.
func (c *Capture) MinChunk(defaultMinutes int) int {
	if c.MinChunkMinutes != nil && *c.MinChunkMinutes > 0 {
		return *c.MinChunkMinutes
	}
	return defaultMinutes
}

// MarkScheduled records a committed placement.
func (c *Capture) MarkScheduled(start, end time.Time, eventID, etag string, planID uuid.UUID) {
	c.Status = StatusScheduled
	c.PlannedStart = &start
	c.PlannedEnd = &end
	c.ScheduledFor = &start
	c.CalendarEventID = &eventID
	c.CalendarEventEtag = &etag
	c.PlanID = &planID
	c.UpdatedAt = time.Now().UTC()
}

// MarkDisplaced returns the capture to pending after its event was reclaimed.
func (c *Capture) MarkDisplaced(planID uuid.UUID) {
	c.Status = StatusPending
	c.PlannedStart = nil
	c.PlannedEnd = nil
	c.ScheduledFor = nil
	c.CalendarEventID = nil
	c.CalendarEventEtag = nil
	c.PlanID = &planID
	c.RescheduleCount++
	c.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the capture to its terminal state.
func (c *Capture) MarkCompleted(planID uuid.UUID) {
	c.Status = StatusCompleted
	c.CalendarEventID = nil
	c.CalendarEventEtag = nil
	c.PlanID = &planID
	c.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy; the audit ledger snapshots captures before and
// after each mutation.
func (c *Capture) Clone() *Capture {
	cp := *c
	cp.Urgency = clonePtr(c.Urgency)
	cp.Impact = clonePtr(c.Impact)
	cp.ReschedulePenalty = clonePtr(c.ReschedulePenalty)
	cp.ConstraintTime = clonePtr(c.ConstraintTime)
	cp.ConstraintEnd = clonePtr(c.ConstraintEnd)
	cp.ConstraintDate = clonePtr(c.ConstraintDate)
	cp.OriginalTargetTime = clonePtr(c.OriginalTargetTime)
	cp.DeadlineAt = clonePtr(c.DeadlineAt)
	cp.WindowStart = clonePtr(c.WindowStart)
	cp.WindowEnd = clonePtr(c.WindowEnd)
	cp.StartTargetAt = clonePtr(c.StartTargetAt)
	cp.MinChunkMinutes = clonePtr(c.MinChunkMinutes)
	cp.MaxSplits = clonePtr(c.MaxSplits)
	cp.ExtractionKind = clonePtr(c.ExtractionKind)
	cp.TaskTypeHint = clonePtr(c.TaskTypeHint)
	cp.TimePrefTimeOfDay = clonePtr(c.TimePrefTimeOfDay)
	cp.TimePrefDay = clonePtr(c.TimePrefDay)
	cp.PlannedStart = clonePtr(c.PlannedStart)
	cp.PlannedEnd = clonePtr(c.PlannedEnd)
	cp.ScheduledFor = clonePtr(c.ScheduledFor)
	cp.CalendarEventID = clonePtr(c.CalendarEventID)
	cp.CalendarEventEtag = clonePtr(c.CalendarEventEtag)
	cp.FreezeUntil = clonePtr(c.FreezeUntil)
	cp.PlanID = clonePtr(c.PlanID)
	cp.ManualTouchAt = clonePtr(c.ManualTouchAt)
	cp.SchedulingNotes = clonePtr(c.SchedulingNotes)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
