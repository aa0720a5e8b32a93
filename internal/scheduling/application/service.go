// Package application orchestrates capture scheduling: it loads state,
// drives the engine's decision precedence, commits placements to the
// calendar and the store, and records the audit trail.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
	sharedDomain "github.com/diaguru/diaguru/internal/shared/domain"
	"github.com/diaguru/diaguru/pkg/observability"
)

// Request actions.
const (
	ActionSchedule   = "schedule"
	ActionReschedule = "reschedule"
	ActionComplete   = "complete"
)

// EventPublisher publishes domain events to interested consumers. Publish
// failures never fail the scheduling request.
type EventPublisher interface {
	Publish(ctx context.Context, event sharedDomain.DomainEvent) error
}

// ScheduleRequest carries one scheduling invocation.
type ScheduleRequest struct {
	CaptureID             uuid.UUID
	UserID                uuid.UUID
	Action                string
	Timezone              string
	TimezoneOffsetMinutes *int
	PreferredStart        *time.Time
	PreferredEnd          *time.Time
	AllowOverlap          bool
	AllowRebalance        bool
	AllowLatePlacement    bool
}

// EventRef identifies one blocking calendar event in a conflict decision.
type EventRef struct {
	EventID   string    `json:"event_id"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CaptureID uuid.UUID `json:"capture_id,omitempty"`
}

// DecisionConflicts partitions blockers into events we may move and events
// we never touch.
type DecisionConflicts struct {
	External []EventRef `json:"external"`
	Owned    []EventRef `json:"owned"`
}

// ConflictDecision is returned when the preferred slot cannot be committed
// automatically; the client decides how to proceed.
type ConflictDecision struct {
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	Preferred  *domain.TimeSlot  `json:"preferred,omitempty"`
	Conflicts  DecisionConflicts `json:"conflicts"`
	Suggestion *domain.TimeSlot  `json:"suggestion,omitempty"`
	Advisor    *AdvisorReply     `json:"advisor,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// OverlapInfo describes an admitted double-booking on a commit.
type OverlapInfo struct {
	WithCaptureIDs []uuid.UUID `json:"with_capture_ids"`
	Prime          bool        `json:"prime"`
	Minutes        int         `json:"minutes"`
}

// ScheduleResult is the success payload: either a committed placement or a
// conflict decision for the client to resolve.
type ScheduleResult struct {
	Message     string            `json:"message"`
	Capture     *domain.Capture   `json:"capture"`
	PlanSummary string            `json:"plan_summary,omitempty"`
	Chunks      []domain.Chunk    `json:"chunks,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Overlap     *OverlapInfo      `json:"overlap,omitempty"`
	Decision    *ConflictDecision `json:"decision,omitempty"`
}

// SchedulerService is the scheduling orchestrator. All collaborators are
// injected; the service holds no mutable state between requests.
type SchedulerService struct {
	captures domain.CaptureRepository
	runs     domain.PlanRunRepository
	calendar calendarApp.Gateway
	accounts calendarApp.AccountStore
	advisor  ConflictAdvisor
	events   EventPublisher
	logger   *slog.Logger
	cfg      engine.SchedulerConfig
	nowFn    func() time.Time
}

// NewSchedulerService creates a scheduler. advisor and events may be nil.
func NewSchedulerService(
	captures domain.CaptureRepository,
	runs domain.PlanRunRepository,
	calendar calendarApp.Gateway,
	accounts calendarApp.AccountStore,
	advisor ConflictAdvisor,
	events EventPublisher,
	logger *slog.Logger,
	cfg engine.SchedulerConfig,
) *SchedulerService {
	return &SchedulerService{
		captures: captures,
		runs:     runs,
		calendar: calendar,
		accounts: accounts,
		advisor:  advisor,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock.
func (s *SchedulerService) WithClock(now func() time.Time) *SchedulerService {
	s.nowFn = now
	return s
}

// runState is the request-local working set: calendar snapshot, derived
// engine structures, and the audit ledger. Discarded when the request ends.
type runState struct {
	req        ScheduleRequest
	capture    *domain.Capture
	loc        *time.Location
	now        time.Time
	horizon    time.Time
	events     []calendarApp.Event
	busy       []engine.BusyInterval
	grid       *engine.OccupancyGrid
	plan       engine.SchedulingPlan
	deadline   *time.Time
	searchFrom time.Time
	searchTo   time.Time
	ledger     *planLedger
	overlap    *engine.OverlapEvaluator
	priorities *engine.PriorityEngine
	byEventID  map[string]*domain.Capture
}

func (st *runState) eventByID(id string) *calendarApp.Event {
	for i := range st.events {
		if st.events[i].ID == id {
			return &st.events[i]
		}
	}
	return nil
}

func (st *runState) removeEvent(id string) {
	for i := range st.events {
		if st.events[i].ID == id {
			st.events = append(st.events[:i], st.events[i+1:]...)
			return
		}
	}
}

func (st *runState) recomputeBusy(cfg engine.SchedulerConfig) {
	buffer := time.Duration(cfg.BufferMinutes) * time.Minute
	st.busy = engine.ComputeBusyIntervals(st.events, buffer, st.now)
	st.grid = engine.BuildOccupancyGrid(st.events, st.now, st.loc, cfg)
}

// compressedBusy rebuilds the busy set with the compressed buffer. Used by
// deadline-bound searches when the full buffer leaves no feasible slot.
func (st *runState) compressedBusy(cfg engine.SchedulerConfig) []engine.BusyInterval {
	buffer := time.Duration(cfg.CompressedBufferMinutes) * time.Minute
	return engine.ComputeBusyIntervals(st.events, buffer, st.now)
}

// preferredSlot returns the explicit request slot when present, else the
// plan's inferred preferred slot.
func (st *runState) preferredSlot() *domain.TimeSlot {
	if st.req.PreferredStart != nil && st.req.PreferredEnd != nil {
		slot := domain.TimeSlot{Start: st.req.PreferredStart.UTC(), End: st.req.PreferredEnd.UTC()}
		return &slot
	}
	return st.plan.Preferred()
}

// ScheduleCapture executes one scheduling request end to end.
func (s *SchedulerService) ScheduleCapture(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	switch req.Action {
	case "", ActionSchedule, ActionReschedule, ActionComplete:
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("unknown action %q", req.Action))
	}
	if req.Action == "" {
		req.Action = ActionSchedule
	}
	if req.CaptureID == uuid.Nil {
		return nil, domain.NewValidationError("captureId is required")
	}

	c, err := s.captures.FindByID(ctx, req.CaptureID)
	if err != nil {
		if errors.Is(err, domain.ErrCaptureNotFound) {
			return nil, domain.NewNotFoundError("capture not found")
		}
		return nil, domain.NewInternalError("load capture", err)
	}
	if c.UserID != req.UserID {
		return nil, domain.NewAuthError(403, "capture does not belong to the caller")
	}

	now := s.nowFn().UTC()
	st := &runState{
		req:        req,
		capture:    c,
		loc:        s.resolveLocation(req),
		now:        now,
		horizon:    now.Add(time.Duration(s.cfg.SearchDays) * 24 * time.Hour),
		ledger:     newPlanLedger(s.runs, req.UserID),
		overlap:    engine.NewOverlapEvaluator(s.cfg),
		priorities: engine.NewPriorityEngine(s.cfg),
	}
	ctx = observability.WithPlanID(ctx, st.ledger.RunID().String())

	var res *ScheduleResult
	if req.Action == ActionComplete {
		res, err = s.complete(ctx, st)
	} else {
		res, err = s.schedule(ctx, st)
	}

	if ferr := st.ledger.Finalize(ctx); ferr != nil {
		s.logger.ErrorContext(ctx, "finalize plan run failed",
			slog.String("plan_id", st.ledger.RunID().String()), slog.Any("error", ferr))
	}
	if res != nil {
		res.PlanSummary = st.ledger.Summary()
	}
	return res, err
}

// resolveLocation picks the request timezone, falling back to a fixed offset
// and then UTC.
func (s *SchedulerService) resolveLocation(req ScheduleRequest) *time.Location {
	if req.Timezone != "" {
		if loc, err := time.LoadLocation(req.Timezone); err == nil {
			return loc
		}
		s.logger.Warn("unknown timezone, falling back", slog.String("timezone", req.Timezone))
	}
	if req.TimezoneOffsetMinutes != nil {
		return time.FixedZone("offset", *req.TimezoneOffsetMinutes*60)
	}
	return time.UTC
}

// complete deletes the capture's owned event, marks it completed, and
// records the released placement.
func (s *SchedulerService) complete(ctx context.Context, st *runState) (*ScheduleResult, error) {
	c := st.capture
	if c.Status == domain.StatusCompleted {
		return &ScheduleResult{Message: "Capture already completed", Capture: c}, nil
	}

	wasScheduled := c.Status == domain.StatusScheduled
	prev := domain.SnapshotOf(c)
	if c.CalendarEventID != nil {
		etag := ""
		if c.CalendarEventEtag != nil {
			etag = *c.CalendarEventEtag
		}
		if err := s.deleteEventWithRetry(ctx, st, *c.CalendarEventID, etag); err != nil {
			// The placement is gone from the user's perspective either way;
			// log and release locally.
			s.logger.WarnContext(ctx, "delete completed capture event failed",
				slog.String("event_id", *c.CalendarEventID), slog.Any("error", err))
		}
	}

	c.MarkCompleted(st.ledger.RunID())
	if err := s.captures.Save(ctx, c); err != nil {
		return nil, domain.NewInternalError("persist completion", err)
	}
	if err := s.captures.ReplaceChunks(ctx, c.ID, nil); err != nil {
		s.logger.WarnContext(ctx, "clear chunks failed", slog.Any("error", err))
	}
	if wasScheduled {
		if err := st.ledger.Record(ctx, c, domain.ActionUnscheduled, prev, domain.SnapshotOf(c)); err != nil {
			return nil, domain.NewInternalError("record completion", err)
		}
	}
	s.publish(ctx, domain.NewCaptureCompleted(c))
	return &ScheduleResult{Message: "Capture completed", Capture: c}, nil
}

func (s *SchedulerService) publish(ctx context.Context, event sharedDomain.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish domain event failed",
			slog.String("routing_key", event.RoutingKey()), slog.Any("error", err))
	}
}

// loadCalendar snapshots the provider state over the search horizon and
// derives the request-local busy set and occupancy grid.
func (s *SchedulerService) loadCalendar(ctx context.Context, st *runState) error {
	events, err := s.calendar.ListEvents(ctx, st.req.UserID, st.now, st.horizon)
	if err != nil {
		return s.mapCalendarError(ctx, st, "list calendar events", err)
	}
	st.events = events
	st.recomputeBusy(s.cfg)

	// Scheduled captures keyed by their event id so blockers resolve to the
	// captures behind them.
	st.byEventID = make(map[string]*domain.Capture)
	scheduled, err := s.captures.FindScheduledInRange(ctx, st.req.UserID, st.now.Add(-24*time.Hour), st.horizon)
	if err != nil {
		return domain.NewInternalError("load scheduled captures", err)
	}
	for _, sc := range scheduled {
		if sc.CalendarEventID != nil {
			st.byEventID[*sc.CalendarEventID] = sc
		}
	}

	// The daily overlap budget is recomputed from the calendar each
	// invocation: overlapped placements already on the books charge it
	// before this request may admit another double-booking.
	seen := make(map[string]bool)
	for _, sc := range scheduled {
		chunks, err := s.captures.ListChunks(ctx, sc.ID)
		if err != nil {
			return domain.NewInternalError("load overlapped chunks", err)
		}
		for _, ch := range chunks {
			if !ch.Overlapped {
				continue
			}
			key := ch.Start.UTC().Format(time.RFC3339Nano) + "/" + ch.End.UTC().Format(time.RFC3339Nano)
			if seen[key] {
				continue
			}
			seen[key] = true
			st.overlap.Commit(domain.TimeSlot{Start: ch.Start, End: ch.End})
		}
	}
	return nil
}

// mapCalendarError translates gateway failures into ScheduleErrors. Auth
// failures mark the account for reconnection and surface as 400 so the
// client prompts the user to relink.
func (s *SchedulerService) mapCalendarError(ctx context.Context, st *runState, op string, err error) error {
	switch {
	case errors.Is(err, calendarApp.ErrUnauthorized):
		if s.accounts != nil {
			if merr := s.accounts.MarkNeedsReconnect(ctx, st.req.UserID); merr != nil {
				s.logger.ErrorContext(ctx, "mark needs_reconnect failed", slog.Any("error", merr))
			}
		}
		return domain.NewValidationError("calendar account requires reconnection")
	case errors.Is(err, calendarApp.ErrPreconditionFailed):
		return domain.NewPreconditionError(op, err)
	default:
		return domain.NewUpstreamError(op, err)
	}
}

// deleteEventWithRetry deletes an owned event, refreshing the version tag
// and retrying exactly once on a stale-tag rejection.
func (s *SchedulerService) deleteEventWithRetry(ctx context.Context, st *runState, eventID, etag string) error {
	err := s.calendar.DeleteEvent(ctx, st.req.UserID, eventID, etag)
	if err == nil || errors.Is(err, calendarApp.ErrEventNotFound) {
		return nil
	}
	if !errors.Is(err, calendarApp.ErrPreconditionFailed) {
		return s.mapCalendarError(ctx, st, "delete calendar event", err)
	}

	fresh, gerr := s.calendar.GetEvent(ctx, st.req.UserID, eventID)
	if gerr != nil {
		if errors.Is(gerr, calendarApp.ErrEventNotFound) {
			return nil
		}
		return s.mapCalendarError(ctx, st, "refresh calendar event", gerr)
	}
	rerr := s.calendar.DeleteEvent(ctx, st.req.UserID, eventID, fresh.Etag)
	if rerr == nil || errors.Is(rerr, calendarApp.ErrEventNotFound) {
		return nil
	}
	return s.mapCalendarError(ctx, st, "delete calendar event after refresh", rerr)
}
