package application

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
)

// schedule drives the decision precedence for schedule and reschedule
// actions: normalize, snapshot the calendar, derive the plan, then try
// placement strategies from most to least specific until one commits.
func (s *SchedulerService) schedule(ctx context.Context, st *runState) (*ScheduleResult, error) {
	c := st.capture

	kind := domain.ActionScheduled
	prev := domain.SnapshotOf(c)

	if st.req.Action == ActionReschedule {
		kind = domain.ActionRescheduled
		if c.IsFrozen(st.now) {
			return nil, domain.NewConflictError("", "capture is frozen until "+c.FreezeUntil.UTC().Format(time.RFC3339), map[string]any{
				"capture_id":   c.ID.String(),
				"freeze_until": c.FreezeUntil.UTC().Format(time.RFC3339),
			})
		}
	} else if c.Status == domain.StatusScheduled {
		chunks, err := s.captures.ListChunks(ctx, c.ID)
		if err != nil {
			return nil, domain.NewInternalError("load chunks", err)
		}
		return &ScheduleResult{Message: "Capture already scheduled", Capture: c, Chunks: chunks}, nil
	}

	if changed := engine.NormalizeRoutineCapture(c, st.now, st.loc, s.cfg); changed {
		if err := s.captures.Save(ctx, c); err != nil {
			return nil, domain.NewInternalError("persist normalized capture", err)
		}
	}

	if err := s.loadCalendar(ctx, st); err != nil {
		return nil, err
	}

	if st.req.Action == ActionReschedule && c.Status == domain.StatusScheduled {
		if err := s.releaseOwnPlacement(ctx, st); err != nil {
			return nil, err
		}
	}

	st.plan = engine.ComputeSchedulingPlan(c, st.now, st.loc, s.cfg)
	st.deadline = engine.ResolveDeadline(c, st.plan, st.loc, s.cfg)
	st.searchFrom = st.now
	if w := st.plan.Window(); w != nil && w.Start.After(st.now) {
		st.searchFrom = w.Start
	}
	st.searchTo = st.grid.End()
	if st.deadline != nil {
		st.searchTo = *st.deadline
	} else if w := st.plan.Window(); w != nil {
		st.searchTo = w.End
	}

	// Deadline already elapsed: late placement or a structured refusal.
	if st.deadline != nil && !st.deadline.After(st.now) {
		if st.req.AllowLatePlacement {
			if res, err := s.commitLate(ctx, st, kind, prev, "deadline elapsed before scheduling"); res != nil || err != nil {
				return res, err
			}
		}
		return nil, s.conflictError(st, domain.ReasonSlotExceedsDeadline, "deadline has already passed")
	}

	// A preferred slot, explicit or inferred by a start-anchored plan,
	// terminates the request: commit, assisted commit, or a decision.
	if pref := st.preferredSlot(); pref != nil {
		return s.schedulePreferred(ctx, st, *pref, kind, prev)
	}

	if slot := s.planCandidate(st, c); slot != nil {
		return s.commitTarget(ctx, st, []domain.TimeSlot{*slot}, commitFlags{}, kind, prev, "placed at the earliest slot satisfying the constraints")
	}

	// No contiguous slot before the deadline: chunk and pack.
	if st.deadline != nil && c.AllowSplit() {
		if slots, ok := s.fitChunks(st, c); ok {
			return s.commitTarget(ctx, st, slots, commitFlags{}, kind, prev, "split into chunks to fit before the deadline")
		}
	}

	if st.req.AllowRebalance {
		if res, err := s.gridPreemption(ctx, st, kind, prev); res != nil || err != nil {
			return res, err
		}
	}

	// Soft deadline with almost no remaining capacity: go late rather than
	// wedge the capture into scraps.
	if st.deadline != nil && c.StartFlexibility != domain.StartHard {
		free := st.grid.StatsBetween(st.searchFrom, st.searchTo).FreeMinutes
		threshold := c.MinChunk(s.cfg.DefaultMinChunkMinutes)
		if q := c.EstimatedDurationMinutes() / 4; q > threshold {
			threshold = q
		}
		if free < threshold {
			if res, err := s.commitLate(ctx, st, kind, prev, "insufficient capacity before the deadline"); res != nil || err != nil {
				return res, err
			}
		}
	}

	if st.deadline != nil {
		if st.req.AllowLatePlacement {
			if res, err := s.commitLate(ctx, st, kind, prev, "no slot available before the deadline"); res != nil || err != nil {
				return res, err
			}
		}
		return nil, s.conflictError(st, domain.ReasonSlotExceedsDeadline, "no slot available before the deadline")
	}
	return nil, s.conflictError(st, domain.ReasonNoSlot, "no available slot within the search horizon")
}

// releaseOwnPlacement reclaims the capture's current event ahead of a
// reschedule. The release is not ledgered on its own; the rescheduled
// action's prev snapshot carries the old placement.
func (s *SchedulerService) releaseOwnPlacement(ctx context.Context, st *runState) error {
	c := st.capture
	if c.CalendarEventID == nil {
		return nil
	}
	etag := ""
	if c.CalendarEventEtag != nil {
		etag = *c.CalendarEventEtag
	}
	if err := s.deleteEventWithRetry(ctx, st, *c.CalendarEventID, etag); err != nil {
		return err
	}
	st.removeEvent(*c.CalendarEventID)
	st.recomputeBusy(s.cfg)

	c.MarkDisplaced(st.ledger.RunID())
	if err := s.captures.Save(ctx, c); err != nil {
		return domain.NewInternalError("persist released capture", err)
	}
	if err := s.captures.ReplaceChunks(ctx, c.ID, nil); err != nil {
		s.logger.WarnContext(ctx, "clear chunks failed", slog.Any("error", err))
	}
	return nil
}

// planCandidate searches for a contiguous slot under the plan mode, falling
// back to a flexible sweep. Window plans never spill outside their window.
func (s *SchedulerService) planCandidate(st *runState, c *domain.Capture) *domain.TimeSlot {
	duration := c.EstimatedDurationMinutes()

	switch st.plan.Mode() {
	case engine.PlanDeadline:
		deadline := *st.plan.Deadline()
		if slot := engine.FindSlotBeforeDeadline(st.busy, duration, st.loc, s.cfg, deadline, st.now); slot != nil {
			return slot
		}
		// Deadline pressure: retry under the compressed buffer before the
		// slot is given up to chunking or preemption.
		if slot := engine.FindSlotBeforeDeadline(st.compressedBusy(s.cfg), duration, st.loc, s.cfg, deadline, st.now); slot != nil {
			return slot
		}
	case engine.PlanWindow:
		w := st.plan.Window()
		return engine.FindSlotWithinWindow(st.busy, duration, st.loc, s.cfg, w.Start, w.End, st.now)
	}

	slot := engine.FindNextAvailableSlot(st.busy, duration, st.loc, s.cfg, engine.SlotSearchOptions{
		ReferenceNow:         st.now,
		EnforceWorkingWindow: true,
		PreferredTimeOfDay:   c.TimePrefTimeOfDay,
	})
	if slot == nil {
		return nil
	}
	if st.deadline != nil && slot.End.After(*st.deadline) {
		return nil
	}
	return slot
}

// fitChunks packs the chunked duration consecutively into the scheduling
// window.
func (s *SchedulerService) fitChunks(st *runState, c *domain.Capture) ([]domain.TimeSlot, bool) {
	maxSplits := 0
	if c.MaxSplits != nil {
		maxSplits = *c.MaxSplits
	}
	durations := engine.GenerateChunkDurations(
		c.EstimatedDurationMinutes(),
		c.MinChunk(s.cfg.DefaultMinChunkMinutes),
		maxSplits,
		c.AllowSplit(),
		s.cfg,
	)
	if len(durations) <= 1 {
		return nil, false
	}
	enforceWorking := st.plan.Mode() != engine.PlanWindow
	slots, _, ok := engine.PlaceChunksWithinRange(durations, st.busy, st.searchFrom, st.searchTo, enforceWorking, st.loc, s.cfg)
	if !ok && st.deadline != nil {
		slots, _, ok = engine.PlaceChunksWithinRange(durations, st.compressedBusy(s.cfg), st.searchFrom, st.searchTo, enforceWorking, st.loc, s.cfg)
	}
	return slots, ok
}

// commitLate places the capture at the earliest slot at or after the missed
// deadline. Returns (nil, nil) when no late slot exists in the horizon.
func (s *SchedulerService) commitLate(ctx context.Context, st *runState, kind domain.ActionKind, prev domain.PlacementSnapshot, why string) (*ScheduleResult, error) {
	c := st.capture
	from := st.now
	if st.deadline != nil && st.deadline.After(from) {
		from = *st.deadline
	}
	slot := engine.FindLatePlacementSlot(st.busy, c.EstimatedDurationMinutes(), st.loc, s.cfg, from)
	if slot == nil {
		return nil, nil
	}
	c.FreezeUntil = nil
	return s.commitTarget(ctx, st, []domain.TimeSlot{*slot}, commitFlags{late: true}, kind, prev, "placed late: "+why)
}

type commitFlags struct {
	late       bool
	overlapped bool
	prime      bool
}

// commitTarget commits the request's capture and assembles the result.
func (s *SchedulerService) commitTarget(ctx context.Context, st *runState, slots []domain.TimeSlot, flags commitFlags, kind domain.ActionKind, prev domain.PlacementSnapshot, explanation string) (*ScheduleResult, error) {
	chunks, err := s.commitCapture(ctx, st, st.capture, slots, flags, kind, prev)
	if err != nil {
		return nil, err
	}
	message := "Capture scheduled"
	if kind == domain.ActionRescheduled {
		message = "Capture rescheduled"
	}
	return &ScheduleResult{
		Message:     message,
		Capture:     st.capture,
		Chunks:      chunks,
		Explanation: explanation,
	}, nil
}

// commitCapture performs one placement commit: calendar create first, store
// update second. The event carries an action id so a retry after a store
// failure can reconcile the orphan; the compensating delete is best effort.
func (s *SchedulerService) commitCapture(ctx context.Context, st *runState, c *domain.Capture, slots []domain.TimeSlot, flags commitFlags, kind domain.ActionKind, prev domain.PlacementSnapshot) ([]domain.Chunk, error) {
	if len(slots) == 0 {
		return nil, domain.NewInternalError("commit without slots", nil)
	}
	span := domain.TimeSlot{Start: slots[0].Start, End: slots[len(slots)-1].End}
	actionID := uuid.New()
	score := st.priorities.Score(c, st.now)

	draft := calendarApp.EventDraft{
		Summary: calendarApp.BuildOwnedSummary(c.Content),
		Start:   span.Start,
		End:     span.End,
		Private: map[string]string{
			calendarApp.PropOwnedMarker:      "true",
			calendarApp.PropCaptureID:        c.ID.String(),
			calendarApp.PropActionID:         actionID.String(),
			calendarApp.PropPrioritySnapshot: strconv.FormatFloat(score, 'f', 1, 64),
			calendarApp.PropPlanID:           st.ledger.RunID().String(),
		},
	}
	ev, err := s.calendar.CreateEvent(ctx, c.UserID, draft)
	if err != nil {
		return nil, s.mapCalendarError(ctx, st, "create calendar event", err)
	}

	c.MarkScheduled(span.Start, span.End, ev.ID, ev.Etag, st.ledger.RunID())

	chunks := make([]domain.Chunk, 0, len(slots))
	for _, slot := range slots {
		chunks = append(chunks, domain.Chunk{
			CaptureID:  c.ID,
			Start:      slot.Start,
			End:        slot.End,
			Prime:      flags.prime,
			Late:       flags.late,
			Overlapped: flags.overlapped,
		})
	}

	if err := s.captures.Save(ctx, c); err != nil {
		if derr := s.calendar.DeleteEvent(ctx, c.UserID, ev.ID, ev.Etag); derr != nil {
			s.logger.ErrorContext(ctx, "compensating delete failed, orphan event remains",
				slog.String("event_id", ev.ID), slog.String("action_id", actionID.String()), slog.Any("error", derr))
		}
		return nil, domain.NewInternalError("persist placement", err)
	}
	if err := s.captures.ReplaceChunks(ctx, c.ID, chunks); err != nil {
		return nil, domain.NewInternalError("persist chunks", err)
	}
	if err := st.ledger.Record(ctx, c, kind, prev, domain.SnapshotOf(c)); err != nil {
		return nil, domain.NewInternalError("record plan action", err)
	}
	s.publish(ctx, domain.NewCaptureScheduled(c, st.ledger.RunID(), chunks, kind == domain.ActionRescheduled))

	buffer := time.Duration(s.cfg.BufferMinutes) * time.Minute
	for _, slot := range slots {
		st.busy = engine.RegisterInterval(st.busy, slot, buffer)
	}
	st.events = append(st.events, *ev)
	return chunks, nil
}

// conflictError assembles the structured 409 payload with the capacity
// report and up to three alternative slots.
func (s *SchedulerService) conflictError(st *runState, reason, message string) error {
	c := st.capture
	stats := st.grid.StatsBetween(st.searchFrom, boundedEnd(st))

	details := map[string]any{
		"capture_id":             c.ID.String(),
		"needed_minutes":         c.EstimatedDurationMinutes(),
		"available_free_minutes": stats.FreeMinutes,
		"diaguru_minutes":        stats.OwnedMinutes,
		"external_minutes":       stats.ExternalMinutes,
	}
	if st.deadline != nil {
		details["deadline"] = st.deadline.UTC().Format(time.RFC3339)
	}
	if w := st.plan.Window(); w != nil {
		details["window_start"] = w.Start.UTC().Format(time.RFC3339)
		details["window_end"] = w.End.UTC().Format(time.RFC3339)
	}
	if st.deadline != nil {
		lateFrom := st.now
		if st.deadline.After(lateFrom) {
			lateFrom = *st.deadline
		}
		if late := engine.FindLatePlacementSlot(st.busy, c.EstimatedDurationMinutes(), st.loc, s.cfg, lateFrom); late != nil {
			details["late_candidate"] = slotPayload(*late)
		}
	}
	details["suggestions"] = s.collectSuggestions(st, 3)

	return domain.NewConflictError(reason, message, details)
}

// collectSuggestions gathers the first n free slots past the constraint
// bounds, stepping past each find.
func (s *SchedulerService) collectSuggestions(st *runState, n int) []map[string]any {
	suggestions := make([]map[string]any, 0, n)
	from := st.now
	for len(suggestions) < n {
		slot := engine.FindNextAvailableSlot(st.busy, st.capture.EstimatedDurationMinutes(), st.loc, s.cfg, engine.SlotSearchOptions{
			StartFrom:            from,
			ReferenceNow:         st.now,
			EnforceWorkingWindow: true,
		})
		if slot == nil {
			break
		}
		suggestions = append(suggestions, slotPayload(*slot))
		from = slot.Start.Add(time.Duration(s.cfg.SlotIncrementMinutes) * time.Minute)
	}
	return suggestions
}

func slotPayload(slot domain.TimeSlot) map[string]any {
	return map[string]any{
		"start": slot.Start.UTC().Format(time.RFC3339),
		"end":   slot.End.UTC().Format(time.RFC3339),
	}
}

func boundedEnd(st *runState) time.Time {
	end := st.searchTo
	if gridEnd := st.grid.End(); !gridEnd.IsZero() && gridEnd.Before(end) {
		return gridEnd
	}
	return end
}
