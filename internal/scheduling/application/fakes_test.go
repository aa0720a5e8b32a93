package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
	sharedDomain "github.com/diaguru/diaguru/internal/shared/domain"
)

var fixedNow = time.Date(2025, time.November, 24, 9, 0, 0, 0, time.UTC)

func utcTime(y int, mo time.Month, d, h, min int) time.Time {
	return time.Date(y, mo, d, h, min, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}

type fakeCaptureRepo struct {
	captures map[uuid.UUID]*domain.Capture
	chunks   map[uuid.UUID][]domain.Chunk
	saveErr  error
}

func newFakeCaptureRepo(captures ...*domain.Capture) *fakeCaptureRepo {
	r := &fakeCaptureRepo{
		captures: make(map[uuid.UUID]*domain.Capture),
		chunks:   make(map[uuid.UUID][]domain.Chunk),
	}
	for _, c := range captures {
		r.captures[c.ID] = c
	}
	return r
}

func (r *fakeCaptureRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Capture, error) {
	c, ok := r.captures[id]
	if !ok {
		return nil, domain.ErrCaptureNotFound
	}
	return c, nil
}

func (r *fakeCaptureRepo) FindScheduledInRange(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Capture, error) {
	var out []*domain.Capture
	for _, c := range r.captures {
		if c.UserID != userID || c.Status != domain.StatusScheduled {
			continue
		}
		if c.PlannedStart == nil || c.PlannedEnd == nil {
			continue
		}
		if c.PlannedStart.Before(to) && c.PlannedEnd.After(from) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCaptureRepo) Save(_ context.Context, c *domain.Capture) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.captures[c.ID] = c
	return nil
}

func (r *fakeCaptureRepo) ReplaceChunks(_ context.Context, captureID uuid.UUID, chunks []domain.Chunk) error {
	r.chunks[captureID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (r *fakeCaptureRepo) ListChunks(_ context.Context, captureID uuid.UUID) ([]domain.Chunk, error) {
	return append([]domain.Chunk(nil), r.chunks[captureID]...), nil
}

type fakeRunRepo struct {
	runs      map[uuid.UUID]domain.PlanRun
	actions   []domain.PlanAction
	summaries map[uuid.UUID]string
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:      make(map[uuid.UUID]domain.PlanRun),
		summaries: make(map[uuid.UUID]string),
	}
}

func (r *fakeRunRepo) CreateRun(_ context.Context, run domain.PlanRun) error {
	r.runs[run.ID] = run
	return nil
}

func (r *fakeRunRepo) AppendActions(_ context.Context, actions []domain.PlanAction) error {
	r.actions = append(r.actions, actions...)
	return nil
}

func (r *fakeRunRepo) UpdateSummary(_ context.Context, runID uuid.UUID, summary string) error {
	r.summaries[runID] = summary
	return nil
}

func (r *fakeRunRepo) ListActions(_ context.Context, runID uuid.UUID) ([]domain.PlanAction, error) {
	var out []domain.PlanAction
	for _, a := range r.actions {
		if a.PlanID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) kinds() []domain.ActionKind {
	out := make([]domain.ActionKind, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.Kind)
	}
	return out
}

type deleteCall struct {
	eventID string
	etag    string
}

type fakeGateway struct {
	events     []calendarApp.Event
	listErr    error
	createErr  error
	created    []calendarApp.Event
	deletes    []deleteCall
	deleteErrs map[string][]error
	nextID     int
}

func newFakeGateway(events ...calendarApp.Event) *fakeGateway {
	return &fakeGateway{events: events, deleteErrs: make(map[string][]error)}
}

func (g *fakeGateway) ListEvents(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]calendarApp.Event, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]calendarApp.Event(nil), g.events...), nil
}

func (g *fakeGateway) CreateEvent(_ context.Context, _ uuid.UUID, draft calendarApp.EventDraft) (*calendarApp.Event, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	ev := calendarApp.Event{
		ID:      fmt.Sprintf("ev-%d", g.nextID),
		Summary: draft.Summary,
		Etag:    "etag-1",
		Start:   draft.Start,
		End:     draft.End,
		Private: draft.Private,
	}
	g.created = append(g.created, ev)
	g.events = append(g.events, ev)
	return &ev, nil
}

func (g *fakeGateway) GetEvent(_ context.Context, _ uuid.UUID, eventID string) (*calendarApp.Event, error) {
	for i := range g.events {
		if g.events[i].ID == eventID {
			ev := g.events[i]
			return &ev, nil
		}
	}
	return nil, calendarApp.ErrEventNotFound
}

func (g *fakeGateway) DeleteEvent(_ context.Context, _ uuid.UUID, eventID, etag string) error {
	g.deletes = append(g.deletes, deleteCall{eventID: eventID, etag: etag})
	if errs := g.deleteErrs[eventID]; len(errs) > 0 {
		err := errs[0]
		g.deleteErrs[eventID] = errs[1:]
		if err != nil {
			return err
		}
	}
	for i := range g.events {
		if g.events[i].ID == eventID {
			g.events = append(g.events[:i], g.events[i+1:]...)
			return nil
		}
	}
	return calendarApp.ErrEventNotFound
}

type fakeAccounts struct {
	marked []uuid.UUID
}

func (a *fakeAccounts) MarkNeedsReconnect(_ context.Context, userID uuid.UUID) error {
	a.marked = append(a.marked, userID)
	return nil
}

type capturingPublisher struct {
	published []sharedDomain.DomainEvent
}

func (p *capturingPublisher) Publish(_ context.Context, event sharedDomain.DomainEvent) error {
	p.published = append(p.published, event)
	return nil
}

func (p *capturingPublisher) routingKeys() []string {
	out := make([]string, 0, len(p.published))
	for _, ev := range p.published {
		out = append(out, ev.RoutingKey())
	}
	return out
}

type fakeAdvisor struct {
	reply *AdvisorReply
	err   error
	input *AdvisorInput
}

func (a *fakeAdvisor) Advise(_ context.Context, input AdvisorInput) (*AdvisorReply, error) {
	a.input = &input
	if a.err != nil {
		return nil, a.err
	}
	return a.reply, nil
}

type testEnv struct {
	service  *SchedulerService
	captures *fakeCaptureRepo
	runs     *fakeRunRepo
	gateway  *fakeGateway
	accounts *fakeAccounts
	events   *capturingPublisher
}

func newTestEnv(t *testing.T, advisor ConflictAdvisor, captures ...*domain.Capture) *testEnv {
	t.Helper()
	env := &testEnv{
		captures: newFakeCaptureRepo(captures...),
		runs:     newFakeRunRepo(),
		gateway:  newFakeGateway(),
		accounts: &fakeAccounts{},
		events:   &capturingPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.service = NewSchedulerService(
		env.captures, env.runs, env.gateway, env.accounts,
		advisor, env.events, logger, engine.DefaultSchedulerConfig(),
	).WithClock(func() time.Time { return fixedNow })
	return env
}

func pendingCapture(userID uuid.UUID, estimatedMinutes int) *domain.Capture {
	return &domain.Capture{
		ID:               uuid.New(),
		UserID:           userID,
		Content:          "draft the launch brief",
		EstimatedMinutes: estimatedMinutes,
		Importance:       5,
		Status:           domain.StatusPending,
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
}

// scheduledCapture wires a capture and its owned event into the fakes.
func scheduledCapture(env *testEnv, userID uuid.UUID, start, end time.Time, importance int) *domain.Capture {
	c := pendingCapture(userID, int(end.Sub(start)/time.Minute))
	c.Importance = importance
	eventID := fmt.Sprintf("owned-%s", c.ID.String()[:8])
	c.Status = domain.StatusScheduled
	c.PlannedStart = &start
	c.PlannedEnd = &end
	c.ScheduledFor = &start
	c.CalendarEventID = &eventID
	c.CalendarEventEtag = ptr("etag-0")
	env.captures.captures[c.ID] = c
	env.captures.chunks[c.ID] = []domain.Chunk{{CaptureID: c.ID, Start: start, End: end}}
	env.gateway.events = append(env.gateway.events, calendarApp.Event{
		ID:      eventID,
		Summary: calendarApp.BuildOwnedSummary(c.Content),
		Etag:    "etag-0",
		Start:   start,
		End:     end,
		Private: map[string]string{
			calendarApp.PropOwnedMarker: "true",
			calendarApp.PropCaptureID:   c.ID.String(),
		},
	})
	return c
}
