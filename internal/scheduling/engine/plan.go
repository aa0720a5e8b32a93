package engine

import (
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// PlanMode is the search precedence chosen for a capture.
type PlanMode string

const (
	PlanFlexible PlanMode = "flexible"
	PlanStart    PlanMode = "start"
	PlanWindow   PlanMode = "window"
	PlanDeadline PlanMode = "deadline"
)

// SchedulingPlan is a tagged variant over the four plan modes. Only the
// fields belonging to the active mode are set; use the accessors rather than
// a mode switch plus optional-field guesswork.
type SchedulingPlan struct {
	mode      PlanMode
	preferred *domain.TimeSlot
	window    *domain.TimeSlot
	deadline  *time.Time
}

// FlexiblePlan builds a plan with no temporal anchor.
func FlexiblePlan() SchedulingPlan {
	return SchedulingPlan{mode: PlanFlexible}
}

// StartPlan builds a start-anchored plan with its preferred slot.
func StartPlan(preferred domain.TimeSlot) SchedulingPlan {
	return SchedulingPlan{mode: PlanStart, preferred: &preferred}
}

// WindowPlan builds a window-bound plan. The preferred slot is left unset;
// the scanner finds the earliest feasible placement inside the window.
func WindowPlan(window domain.TimeSlot) SchedulingPlan {
	return SchedulingPlan{mode: PlanWindow, window: &window}
}

// DeadlinePlan builds a deadline-bound plan.
func DeadlinePlan(deadline time.Time) SchedulingPlan {
	return SchedulingPlan{mode: PlanDeadline, deadline: &deadline}
}

func (p SchedulingPlan) Mode() PlanMode              { return p.mode }
func (p SchedulingPlan) Preferred() *domain.TimeSlot { return p.preferred }
func (p SchedulingPlan) Window() *domain.TimeSlot    { return p.window }
func (p SchedulingPlan) Deadline() *time.Time        { return p.deadline }

// ComputeSchedulingPlan derives the plan for a capture at now.
func ComputeSchedulingPlan(c *domain.Capture, now time.Time, loc *time.Location, cfg SchedulerConfig) SchedulingPlan {
	kind := domain.NormalizeConstraintKind(string(c.ConstraintKind))

	switch kind {
	case domain.ConstraintDeadlineTime, domain.ConstraintDeadlineDate:
		if dl := constraintDeadline(c, kind, loc, cfg); dl != nil {
			return DeadlinePlan(*dl)
		}

	case domain.ConstraintStartTime:
		anchor := c.ConstraintTime
		if anchor == nil {
			anchor = c.OriginalTargetTime
		}
		if anchor != nil {
			start := *anchor
			if start.Before(now) {
				start = now
			}
			end := start.Add(time.Duration(c.EstimatedDurationMinutes()) * time.Minute)
			return StartPlan(domain.TimeSlot{Start: start, End: end})
		}

	case domain.ConstraintWindow:
		ws, we := c.WindowStart, c.WindowEnd
		if ws == nil {
			ws = c.ConstraintTime
		}
		if we == nil {
			we = c.ConstraintEnd
		}
		if ws != nil && we != nil && we.After(*ws) {
			return WindowPlan(domain.TimeSlot{Start: *ws, End: *we})
		}
	}

	return FlexiblePlan()
}

// ResolveDeadline applies the deadline precedence: explicit deadline_at,
// then the constraint-derived deadline, then the window end.
func ResolveDeadline(c *domain.Capture, plan SchedulingPlan, loc *time.Location, cfg SchedulerConfig) *time.Time {
	if c.DeadlineAt != nil {
		return c.DeadlineAt
	}
	if plan.Mode() == PlanDeadline {
		return plan.Deadline()
	}
	if dl := constraintDeadline(c, domain.NormalizeConstraintKind(string(c.ConstraintKind)), loc, cfg); dl != nil {
		return dl
	}
	if c.WindowEnd != nil {
		return c.WindowEnd
	}
	return nil
}

// constraintDeadline extracts the deadline encoded in the constraint itself:
// the constraint time for deadline_time, or the end of the local day
// (DayEndHour) for deadline_date.
func constraintDeadline(c *domain.Capture, kind domain.ConstraintKind, loc *time.Location, cfg SchedulerConfig) *time.Time {
	switch kind {
	case domain.ConstraintDeadlineTime:
		if c.ConstraintTime != nil {
			return c.ConstraintTime
		}
	case domain.ConstraintDeadlineDate:
		if c.ConstraintDate != nil {
			if day, err := time.ParseInLocation("2006-01-02", *c.ConstraintDate, loc); err == nil {
				dl := time.Date(day.Year(), day.Month(), day.Day(), cfg.DayEndHour, 0, 0, 0, loc)
				return &dl
			}
		}
		if c.ConstraintTime != nil {
			dl := BuildZonedTime(*c.ConstraintTime, loc, 0, cfg.DayEndHour, 0)
			return &dl
		}
	}
	return nil
}
