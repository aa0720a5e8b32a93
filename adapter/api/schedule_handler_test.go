package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/lock"
)

var handlerNow = time.Date(2025, time.November, 24, 9, 0, 0, 0, time.UTC)

type memCaptureRepo struct {
	captures map[uuid.UUID]*domain.Capture
	chunks   map[uuid.UUID][]domain.Chunk
}

func (r *memCaptureRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Capture, error) {
	if c, ok := r.captures[id]; ok {
		return c, nil
	}
	return nil, domain.ErrCaptureNotFound
}

func (r *memCaptureRepo) FindScheduledInRange(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Capture, error) {
	var out []*domain.Capture
	for _, c := range r.captures {
		if c.UserID == userID && c.Status == domain.StatusScheduled &&
			c.PlannedStart != nil && c.PlannedEnd != nil &&
			c.PlannedStart.Before(to) && c.PlannedEnd.After(from) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCaptureRepo) Save(_ context.Context, c *domain.Capture) error {
	r.captures[c.ID] = c
	return nil
}

func (r *memCaptureRepo) ReplaceChunks(_ context.Context, captureID uuid.UUID, chunks []domain.Chunk) error {
	r.chunks[captureID] = chunks
	return nil
}

func (r *memCaptureRepo) ListChunks(_ context.Context, captureID uuid.UUID) ([]domain.Chunk, error) {
	return r.chunks[captureID], nil
}

type memRunRepo struct {
	actions []domain.PlanAction
}

func (r *memRunRepo) CreateRun(_ context.Context, _ domain.PlanRun) error { return nil }
func (r *memRunRepo) AppendActions(_ context.Context, actions []domain.PlanAction) error {
	r.actions = append(r.actions, actions...)
	return nil
}
func (r *memRunRepo) UpdateSummary(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (r *memRunRepo) ListActions(_ context.Context, _ uuid.UUID) ([]domain.PlanAction, error) {
	return r.actions, nil
}

type memGateway struct {
	nextID int
}

func (g *memGateway) ListEvents(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]calendarApp.Event, error) {
	return nil, nil
}

func (g *memGateway) CreateEvent(_ context.Context, _ uuid.UUID, draft calendarApp.EventDraft) (*calendarApp.Event, error) {
	g.nextID++
	return &calendarApp.Event{
		ID:      fmt.Sprintf("ev-%d", g.nextID),
		Summary: draft.Summary,
		Etag:    "etag-1",
		Start:   draft.Start,
		End:     draft.End,
		Private: draft.Private,
	}, nil
}

func (g *memGateway) GetEvent(_ context.Context, _ uuid.UUID, _ string) (*calendarApp.Event, error) {
	return nil, calendarApp.ErrEventNotFound
}

func (g *memGateway) DeleteEvent(_ context.Context, _ uuid.UUID, _, _ string) error {
	return nil
}

type memAccounts struct{}

func (memAccounts) MarkNeedsReconnect(_ context.Context, _ uuid.UUID) error { return nil }

func newHandlerFixture(t *testing.T, captures ...*domain.Capture) (*ScheduleHandler, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	repo := &memCaptureRepo{
		captures: make(map[uuid.UUID]*domain.Capture),
		chunks:   make(map[uuid.UUID][]domain.Chunk),
	}
	for _, c := range captures {
		c.UserID = userID
		repo.captures[c.ID] = c
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := application.NewSchedulerService(
		repo, &memRunRepo{}, &memGateway{}, memAccounts{}, nil, nil,
		logger, engine.DefaultSchedulerConfig(),
	).WithClock(func() time.Time { return handlerNow })

	auth := NewStaticTokenAuthenticator("secret-token", userID)
	handler := NewScheduleHandler(service, auth, lock.NewLocalLock(), logger)
	return handler, userID
}

func testCapture() *domain.Capture {
	return &domain.Capture{
		ID:               uuid.New(),
		Content:          "file the expense report",
		EstimatedMinutes: 60,
		Importance:       4,
		Status:           domain.StatusPending,
		CreatedAt:        handlerNow,
		UpdatedAt:        handlerNow,
	}
}

func doSchedule(handler *ScheduleHandler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/schedule-capture", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ScheduleCapture(rec, req)
	return rec
}

func TestScheduleCapture_Authentication(t *testing.T) {
	handler, _ := newHandlerFixture(t)

	t.Run("missing header", func(t *testing.T) {
		rec := doSchedule(handler, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := doSchedule(handler, "not-the-token", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/schedule-capture", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Basic secret-token")
		rec := httptest.NewRecorder()
		handler.ScheduleCapture(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestScheduleCapture_BadRequest(t *testing.T) {
	handler, _ := newHandlerFixture(t)

	t.Run("malformed body", func(t *testing.T) {
		rec := doSchedule(handler, "secret-token", `{"captureId": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid capture id", func(t *testing.T) {
		rec := doSchedule(handler, "secret-token", `{"captureId":"not-a-uuid"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScheduleCapture_HappyPath(t *testing.T) {
	c := testCapture()
	handler, _ := newHandlerFixture(t, c)

	rec := doSchedule(handler, "secret-token", fmt.Sprintf(`{"captureId":%q}`, c.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var res application.ScheduleResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "Capture scheduled", res.Message)
	require.NotNil(t, res.Capture)
	assert.Equal(t, domain.StatusScheduled, res.Capture.Status)
	require.Len(t, res.Chunks, 1)
}

func TestScheduleCapture_ConflictPayload(t *testing.T) {
	c := testCapture()
	c.ConstraintKind = domain.ConstraintDeadlineTime
	c.ConstraintTime = func() *time.Time { v := handlerNow.Add(-time.Hour); return &v }()
	handler, _ := newHandlerFixture(t, c)

	rec := doSchedule(handler, "secret-token", fmt.Sprintf(`{"captureId":%q}`, c.ID))
	require.Equal(t, http.StatusConflict, rec.Code)

	// The conflict body is flat: capacity report and alternatives sit next
	// to error and reason.
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Conflict", body["error"])
	assert.Equal(t, domain.ReasonSlotExceedsDeadline, body["reason"])
	assert.Equal(t, c.ID.String(), body["capture_id"])
	assert.EqualValues(t, 60, body["needed_minutes"])
	assert.Contains(t, body, "available_free_minutes")
	assert.Contains(t, body, "diaguru_minutes")
	assert.Contains(t, body, "external_minutes")
	assert.Contains(t, body, "deadline")
	assert.Contains(t, body, "suggestions")
	assert.NotContains(t, body, "details")
}

func TestScheduleCapture_LockContention(t *testing.T) {
	c := testCapture()
	handler, userID := newHandlerFixture(t, c)

	// Another request for the same user is in flight.
	locks := lock.NewLocalLock()
	handler.locks = locks
	release, err := locks.Acquire(context.Background(), userID.String(), time.Minute)
	require.NoError(t, err)
	defer release()

	rec := doSchedule(handler, "secret-token", fmt.Sprintf(`{"captureId":%q}`, c.ID))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestScheduleCapture_AliasFlags(t *testing.T) {
	// The deadline has passed; only the late-placement aliases rescue it.
	c := testCapture()
	c.ConstraintKind = domain.ConstraintDeadlineTime
	c.ConstraintTime = func() *time.Time { v := handlerNow.Add(-time.Hour); return &v }()
	handler, _ := newHandlerFixture(t, c)

	rec := doSchedule(handler, "secret-token", fmt.Sprintf(`{"captureId":%q,"scheduleLate":true}`, c.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var res application.ScheduleResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Chunks, 1)
	assert.True(t, res.Chunks[0].Late)
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newHandlerFixture(t)
	server := NewServer(DefaultServerConfig(), handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
