package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
)

// schedulePreferred resolves a preferred slot: direct commit when free and
// within constraints, otherwise an overlap commit, a preemption commit, or
// a conflict decision for the client. This path always terminates the
// request.
func (s *SchedulerService) schedulePreferred(ctx context.Context, st *runState, pref domain.TimeSlot, kind domain.ActionKind, prev domain.PlacementSnapshot) (*ScheduleResult, error) {
	if !pref.IsValid() {
		return nil, domain.NewValidationError("preferred slot end must be after its start")
	}

	enforceWorking := st.plan.Window() == nil
	withinWorking := !enforceWorking ||
		engine.WithinWorkingWindow(pref.Start, pref.End, st.loc, s.cfg.WorkingStartHour, s.cfg.DayEndHour)
	withinPlan := true
	if w := st.plan.Window(); w != nil {
		withinPlan = !pref.Start.Before(w.Start) && !pref.End.After(w.End)
	}
	if st.deadline != nil && pref.End.After(*st.deadline) {
		withinPlan = false
	}

	owned, external := engine.OverlappingEvents(st.events, pref.Start, pref.End)

	if withinWorking && withinPlan && engine.IsSlotFree(pref.Start, pref.End, st.busy) {
		return s.commitTarget(ctx, st, []domain.TimeSlot{pref}, commitFlags{}, kind, prev, "placed at the preferred time")
	}

	constraintsOK := withinWorking && withinPlan

	if constraintsOK && st.req.AllowOverlap && len(external) == 0 && len(owned) > 0 {
		if res, err := s.tryOverlapCommit(ctx, st, pref, owned, kind, prev); res != nil || err != nil {
			return res, err
		}
	}

	if constraintsOK && st.req.AllowRebalance && len(external) == 0 && len(owned) > 0 {
		if res, err := s.tryPreemptionCommit(ctx, st, pref, owned, kind, prev); res != nil || err != nil {
			return res, err
		}
	}

	return s.conflictDecision(ctx, st, pref, owned, external, withinWorking, withinPlan)
}

// tryOverlapCommit admits the target alongside the resident captures when
// the overlap policy allows. Resident chunks intersecting the slot are
// marked overlapped; exactly one participant carries the prime flag.
func (s *SchedulerService) tryOverlapCommit(ctx context.Context, st *runState, pref domain.TimeSlot, owned []calendarApp.Event, kind domain.ActionKind, prev domain.PlacementSnapshot) (*ScheduleResult, error) {
	residents, ok := st.residentsFor(owned)
	if !ok {
		return nil, nil
	}
	decision := st.overlap.Permit(st.capture, residents, pref, st.priorities, st.now)
	if !decision.Allowed {
		s.logger.DebugContext(ctx, "overlap rejected", slog.String("reason", decision.Reason))
		return nil, nil
	}

	res, err := s.commitTarget(ctx, st, []domain.TimeSlot{pref},
		commitFlags{overlapped: true, prime: decision.TargetPrime}, kind, prev,
		"overlapped with an existing task under the overlap policy")
	if err != nil {
		return nil, err
	}
	st.overlap.Commit(pref)
	s.markResidentsOverlapped(ctx, st, residents, pref, decision)

	withIDs := make([]uuid.UUID, 0, len(residents))
	for _, r := range residents {
		withIDs = append(withIDs, r.Capture.ID)
	}
	res.Overlap = &OverlapInfo{WithCaptureIDs: withIDs, Prime: decision.TargetPrime, Minutes: pref.Minutes()}
	return res, nil
}

// markResidentsOverlapped flips the overlapped flag on resident chunks
// intersecting the slot. When the target is not prime, the highest-scoring
// resident takes the prime flag instead. Failures here degrade the audit
// detail, not the commit.
func (s *SchedulerService) markResidentsOverlapped(ctx context.Context, st *runState, residents []engine.PreemptionCandidate, pref domain.TimeSlot, decision engine.OverlapDecision) {
	primeIdx := -1
	if !decision.TargetPrime {
		best := -1.0
		for i, r := range residents {
			if score := st.priorities.Score(r.Capture, st.now); score > best {
				best, primeIdx = score, i
			}
		}
	}
	for i, r := range residents {
		chunks, err := s.captures.ListChunks(ctx, r.Capture.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "load resident chunks failed", slog.Any("error", err))
			continue
		}
		changed := false
		for j := range chunks {
			if chunks[j].Start.Before(pref.End) && chunks[j].End.After(pref.Start) {
				chunks[j].Overlapped = true
				if i == primeIdx {
					chunks[j].Prime = true
				}
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := s.captures.ReplaceChunks(ctx, r.Capture.ID, chunks); err != nil {
			s.logger.WarnContext(ctx, "mark resident overlapped failed", slog.Any("error", err))
		}
	}
}

// tryPreemptionCommit displaces the blocking owned events when the target
// outranks all of them and the net gain clears the policy floors.
func (s *SchedulerService) tryPreemptionCommit(ctx context.Context, st *runState, pref domain.TimeSlot, owned []calendarApp.Event, kind domain.ActionKind, prev domain.PlacementSnapshot) (*ScheduleResult, error) {
	blockers, ok := st.residentsFor(owned)
	if !ok {
		return nil, nil
	}
	movable := engine.FilterMovable(blockers, st.now, s.cfg, st.plan.Mode())
	if len(movable) != len(blockers) {
		return nil, nil
	}
	targetScore := st.priorities.Score(st.capture, st.now)
	for _, b := range blockers {
		if st.priorities.Score(b.Capture, st.now) >= targetScore {
			return nil, nil
		}
	}

	ids := make([]string, 0, len(blockers))
	for _, b := range blockers {
		ids = append(ids, b.Event.ID)
	}
	selected := engine.SelectMinimalPreemptionSet(pref, st.events, ids, true, st.now, s.cfg)
	if selected == nil {
		return nil, nil
	}

	gain := engine.EvaluatePreemptionNetGain(
		st.capture,
		s.displacementsFor(ctx, st, selected, pref),
		pref.Minutes(),
		st.now,
		st.priorities,
		s.cfg,
	)
	if !gain.Allowed {
		s.logger.DebugContext(ctx, "preemption rejected", slog.String("reason", gain.Reason))
		return nil, nil
	}

	displaced, err := s.reclaimConflicts(ctx, st, selected)
	if err != nil {
		return nil, err
	}
	res, err := s.commitTarget(ctx, st, []domain.TimeSlot{pref}, commitFlags{}, kind, prev,
		"claimed the preferred slot by rebalancing lower-priority tasks")
	if err != nil {
		return nil, err
	}
	s.rescheduleDisplaced(ctx, st, displaced)
	return res, nil
}

// gridPreemption scans owned-only windows in the occupancy grid and claims
// the one with the highest admissible net gain.
func (s *SchedulerService) gridPreemption(ctx context.Context, st *runState, kind domain.ActionKind, prev domain.PlacementSnapshot) (*ScheduleResult, error) {
	c := st.capture
	duration := c.EstimatedDurationMinutes()
	candidates := st.grid.CollectWindowCandidates(duration, st.searchFrom, st.searchTo, 16)

	type pick struct {
		slot     domain.TimeSlot
		selected []string
		gain     engine.NetGainResult
	}
	var best *pick
	targetScore := st.priorities.Score(c, st.now)

	for _, cand := range candidates {
		if len(cand.OwnedEventIDs) == 0 {
			continue
		}
		blockers, ok := st.blockersByEventIDs(cand.OwnedEventIDs)
		if !ok {
			continue
		}
		movable := engine.FilterMovable(blockers, st.now, s.cfg, st.plan.Mode())
		if len(movable) != len(blockers) {
			continue
		}
		outranked := true
		for _, b := range blockers {
			if st.priorities.Score(b.Capture, st.now) >= targetScore {
				outranked = false
				break
			}
		}
		if !outranked {
			continue
		}

		selected := engine.SelectMinimalPreemptionSet(cand.Slot, st.events, cand.OwnedEventIDs, true, st.now, s.cfg)
		if selected == nil {
			continue
		}
		gain := engine.EvaluatePreemptionNetGain(c, s.displacementsFor(ctx, st, selected, cand.Slot), duration, st.now, st.priorities, s.cfg)
		if !gain.Allowed {
			continue
		}
		if best == nil || gain.Net > best.gain.Net {
			best = &pick{slot: cand.Slot, selected: selected, gain: gain}
		}
	}
	if best == nil {
		return nil, nil
	}

	displaced, err := s.reclaimConflicts(ctx, st, best.selected)
	if err != nil {
		return nil, err
	}
	res, err := s.commitTarget(ctx, st, []domain.TimeSlot{best.slot}, commitFlags{}, kind, prev,
		"claimed a window by rebalancing lower-priority tasks")
	if err != nil {
		return nil, err
	}
	s.rescheduleDisplaced(ctx, st, displaced)
	return res, nil
}

// displacementsFor builds the cost inputs for the selected owned events.
// Minutes charged per blocker are the minutes its event loses to the slot.
func (s *SchedulerService) displacementsFor(ctx context.Context, st *runState, eventIDs []string, slot domain.TimeSlot) []engine.Displacement {
	out := make([]engine.Displacement, 0, len(eventIDs))
	for _, id := range eventIDs {
		blocker := st.byEventID[id]
		if blocker == nil {
			continue
		}
		minutes := slot.Minutes()
		if ev := st.eventByID(id); ev != nil {
			from := ev.Start
			if slot.Start.After(from) {
				from = slot.Start
			}
			to := ev.End
			if slot.End.Before(to) {
				to = slot.End
			}
			minutes = engine.MinutesBetween(from, to)
		}
		out = append(out, engine.Displacement{
			Capture:    blocker,
			Minutes:    minutes,
			Overlapped: s.hasOverlappedChunks(ctx, blocker.ID),
		})
	}
	return out
}

func (s *SchedulerService) hasOverlappedChunks(ctx context.Context, captureID uuid.UUID) bool {
	chunks, err := s.captures.ListChunks(ctx, captureID)
	if err != nil {
		return false
	}
	for _, ch := range chunks {
		if ch.Overlapped {
			return true
		}
	}
	return false
}

// reclaimConflicts deletes the selected owned events, returns their
// captures to pending, and records the unscheduled actions ahead of the
// target's commit.
func (s *SchedulerService) reclaimConflicts(ctx context.Context, st *runState, eventIDs []string) ([]*domain.Capture, error) {
	displaced := make([]*domain.Capture, 0, len(eventIDs))
	for _, id := range eventIDs {
		etag := ""
		if ev := st.eventByID(id); ev != nil {
			etag = ev.Etag
		}
		if err := s.deleteEventWithRetry(ctx, st, id, etag); err != nil {
			return nil, err
		}
		st.removeEvent(id)

		blocker := st.byEventID[id]
		if blocker == nil {
			continue
		}
		prev := domain.SnapshotOf(blocker)
		oldStart, oldEnd := blocker.PlannedStart, blocker.PlannedEnd
		blocker.MarkDisplaced(st.ledger.RunID())
		if err := s.captures.Save(ctx, blocker); err != nil {
			return nil, domain.NewInternalError("persist displaced capture", err)
		}
		if err := s.captures.ReplaceChunks(ctx, blocker.ID, nil); err != nil {
			s.logger.WarnContext(ctx, "clear displaced chunks failed", slog.Any("error", err))
		}
		if err := st.ledger.Record(ctx, blocker, domain.ActionUnscheduled, prev, domain.SnapshotOf(blocker)); err != nil {
			return nil, domain.NewInternalError("record displacement", err)
		}
		s.publish(ctx, domain.NewCaptureUnscheduled(blocker, st.ledger.RunID(), oldStart, oldEnd))
		displaced = append(displaced, blocker)
	}
	st.recomputeBusy(s.cfg)
	return displaced, nil
}

// rescheduleDisplaced finds new homes for displaced captures after the
// target commit, without cascading preemption. A capture that cannot be
// replaced stays pending; the displacement is already audited.
func (s *SchedulerService) rescheduleDisplaced(ctx context.Context, st *runState, displaced []*domain.Capture) {
	for _, blocker := range displaced {
		plan := engine.ComputeSchedulingPlan(blocker, st.now, st.loc, s.cfg)
		deadline := engine.ResolveDeadline(blocker, plan, st.loc, s.cfg)

		sub := &runState{
			req:        st.req,
			capture:    blocker,
			loc:        st.loc,
			now:        st.now,
			horizon:    st.horizon,
			events:     st.events,
			busy:       st.busy,
			grid:       st.grid,
			plan:       plan,
			deadline:   deadline,
			ledger:     st.ledger,
			overlap:    st.overlap,
			priorities: st.priorities,
			byEventID:  st.byEventID,
		}
		slot := s.planCandidate(sub, blocker)
		if slot == nil {
			s.logger.InfoContext(ctx, "displaced capture left pending",
				slog.String("capture_id", blocker.ID.String()))
			continue
		}
		prev := domain.SnapshotOf(blocker)
		if _, err := s.commitCapture(ctx, sub, blocker, []domain.TimeSlot{*slot}, commitFlags{}, domain.ActionRescheduled, prev); err != nil {
			s.logger.ErrorContext(ctx, "reschedule displaced capture failed",
				slog.String("capture_id", blocker.ID.String()), slog.Any("error", err))
			continue
		}
		// Share the augmented busy set with the outer state.
		st.busy = sub.busy
		st.events = sub.events
	}
}

// residentsFor maps owned events to their captures; reports false when any
// event has no backing capture, which disqualifies assisted commits.
func (st *runState) residentsFor(owned []calendarApp.Event) ([]engine.PreemptionCandidate, bool) {
	out := make([]engine.PreemptionCandidate, 0, len(owned))
	for _, ev := range owned {
		c := st.byEventID[ev.ID]
		if c == nil {
			return nil, false
		}
		out = append(out, engine.PreemptionCandidate{Event: ev, Capture: c})
	}
	return out, true
}

func (st *runState) blockersByEventIDs(ids []string) ([]engine.PreemptionCandidate, bool) {
	out := make([]engine.PreemptionCandidate, 0, len(ids))
	for _, id := range ids {
		ev := st.eventByID(id)
		c := st.byEventID[id]
		if ev == nil || c == nil {
			return nil, false
		}
		out = append(out, engine.PreemptionCandidate{Event: *ev, Capture: c})
	}
	return out, true
}

// conflictDecision builds the preferred_conflict payload, consulting the
// advisor when configured. Nothing is persisted on this path.
func (s *SchedulerService) conflictDecision(ctx context.Context, st *runState, pref domain.TimeSlot, owned, external []calendarApp.Event, withinWorking, withinPlan bool) (*ScheduleResult, error) {
	c := st.capture
	suggestion := engine.FindNextAvailableSlot(st.busy, c.EstimatedDurationMinutes(), st.loc, s.cfg, engine.SlotSearchOptions{
		ReferenceNow:         st.now,
		EnforceWorkingWindow: true,
		PreferredTimeOfDay:   c.TimePrefTimeOfDay,
	})

	decision := &ConflictDecision{
		Type:       "preferred_conflict",
		Message:    baselineConflictMessage(pref, suggestion, len(owned)+len(external)),
		Preferred:  &pref,
		Conflicts:  st.decisionConflicts(owned, external),
		Suggestion: suggestion,
		Metadata: map[string]any{
			"within_working_window": withinWorking,
			"within_plan_window":    withinPlan,
			"timezone":              st.loc.String(),
		},
	}
	decision.Advisor = s.consultAdvisor(ctx, st, pref, suggestion, owned, external)

	return &ScheduleResult{
		Message:  "Preferred time conflicts with existing events",
		Capture:  c,
		Decision: decision,
	}, nil
}

func (st *runState) decisionConflicts(owned, external []calendarApp.Event) DecisionConflicts {
	toRefs := func(events []calendarApp.Event) []EventRef {
		refs := make([]EventRef, 0, len(events))
		for _, ev := range events {
			ref := EventRef{EventID: ev.ID, Summary: ev.Summary, Start: ev.Start, End: ev.End}
			if c := st.byEventID[ev.ID]; c != nil {
				ref.CaptureID = c.ID
			}
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].Start.Before(refs[j].Start) })
		return refs
	}
	return DecisionConflicts{External: toRefs(external), Owned: toRefs(owned)}
}

func baselineConflictMessage(pref domain.TimeSlot, suggestion *domain.TimeSlot, conflictCount int) string {
	msg := fmt.Sprintf("The preferred time %s is blocked by %d event(s).",
		pref.Start.UTC().Format("Mon 15:04"), conflictCount)
	if suggestion != nil {
		msg += fmt.Sprintf(" The next available slot starts at %s.",
			suggestion.Start.UTC().Format("Mon 15:04 MST"))
	}
	return msg
}

// consultAdvisor asks the conflict advisor for a resolution. Failures are
// logged and suppressed; an invalid proposed slot is dropped but the
// message survives.
func (s *SchedulerService) consultAdvisor(ctx context.Context, st *runState, pref domain.TimeSlot, suggestion *domain.TimeSlot, owned, external []calendarApp.Event) *AdvisorReply {
	if s.advisor == nil {
		return nil
	}
	c := st.capture

	conflicts := make([]AdvisorConflict, 0, len(owned)+len(external))
	for _, ev := range external {
		conflicts = append(conflicts, AdvisorConflict{Summary: ev.Summary, Start: ev.Start, End: ev.End})
	}
	for _, ev := range owned {
		conflicts = append(conflicts, AdvisorConflict{Summary: ev.Summary, Start: ev.Start, End: ev.End, Owned: true})
	}
	busySummary := make([]string, 0, len(st.busy))
	for _, iv := range st.busy {
		busySummary = append(busySummary, fmt.Sprintf("%s - %s",
			iv.Start.In(st.loc).Format("Mon 15:04"), iv.End.In(st.loc).Format("15:04")))
	}

	reply, err := s.advisor.Advise(ctx, AdvisorInput{
		CaptureContent:   c.Content,
		EstimatedMinutes: c.EstimatedDurationMinutes(),
		Preferred:        &pref,
		Suggestion:       suggestion,
		Conflicts:        conflicts,
		Timezone:         st.loc.String(),
		BusySummary:      busySummary,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "conflict advisor failed", slog.Any("error", err))
		return nil
	}
	if reply == nil {
		return nil
	}
	if reply.Slot != nil && !s.advisorSlotValid(st, *reply.Slot) {
		reply.Slot = nil
	}
	return reply
}

// advisorSlotValid re-checks a proposed slot against the working window and
// the live busy set; the advisor's output is never trusted blindly.
func (s *SchedulerService) advisorSlotValid(st *runState, slot domain.TimeSlot) bool {
	if !slot.IsValid() || slot.Start.Before(st.now) {
		return false
	}
	if !engine.WithinWorkingWindow(slot.Start, slot.End, st.loc, s.cfg.WorkingStartHour, s.cfg.DayEndHour) {
		return false
	}
	return engine.IsSlotFree(slot.Start, slot.End, st.busy)
}
