package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/database/sqlite"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/migrations"
)

func openTestDB(t *testing.T) database.Connection {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "diaguru-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	conn, err := sqlite.NewConnection(context.Background(), database.Config{
		SQLitePath: filepath.Join(tmpDir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrations.Run(context.Background(), conn))
	return conn
}

func testCapture(userID uuid.UUID) *domain.Capture {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	urgency := 4.0
	minChunk := 20
	hint := "deep_work"
	tod := domain.TimeOfDayMorning
	deadline := now.Add(48 * time.Hour)
	return &domain.Capture{
		ID:                  uuid.New(),
		UserID:              userID,
		Content:             "write the quarterly report",
		EstimatedMinutes:    90,
		Importance:          4,
		Urgency:             &urgency,
		Status:              domain.StatusPending,
		ConstraintKind:      domain.ConstraintDeadlineTime,
		DeadlineAt:          &deadline,
		StartFlexibility:    domain.StartSoft,
		DurationFlexibility: domain.DurationSplitAllowed,
		MinChunkMinutes:     &minChunk,
		TaskTypeHint:        &hint,
		TimePrefTimeOfDay:   &tod,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestCaptureRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewCaptureRepository(conn)

	userID := uuid.New()
	c := testCapture(userID)
	require.NoError(t, repo.Save(ctx, c))

	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Content, loaded.Content)
	assert.Equal(t, c.EstimatedMinutes, loaded.EstimatedMinutes)
	assert.Equal(t, domain.ConstraintDeadlineTime, loaded.ConstraintKind)
	require.NotNil(t, loaded.Urgency)
	assert.InDelta(t, 4.0, *loaded.Urgency, 0.001)
	require.NotNil(t, loaded.DeadlineAt)
	assert.True(t, loaded.DeadlineAt.Equal(*c.DeadlineAt))
	require.NotNil(t, loaded.MinChunkMinutes)
	assert.Equal(t, 20, *loaded.MinChunkMinutes)
	require.NotNil(t, loaded.TimePrefTimeOfDay)
	assert.Equal(t, domain.TimeOfDayMorning, *loaded.TimePrefTimeOfDay)
	assert.Nil(t, loaded.PlannedStart)
	assert.Nil(t, loaded.PlanID)
}

func TestCaptureRepository_LegacyConstraintKindNormalized(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewCaptureRepository(conn)

	c := testCapture(uuid.New())
	require.NoError(t, repo.Save(ctx, c))

	// Rows written by older ingest paths carry the alias spellings.
	for _, alias := range []string{"deadline", "end_time"} {
		_, err := conn.Exec(ctx, "UPDATE capture_entries SET constraint_kind = ? WHERE id = ?", alias, c.ID.String())
		require.NoError(t, err)

		loaded, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ConstraintDeadlineTime, loaded.ConstraintKind, alias)
	}
}

func TestCaptureRepository_FindByID_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewCaptureRepository(openTestDB(t))

	_, err := repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCaptureNotFound)
}

func TestCaptureRepository_SaveUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewCaptureRepository(openTestDB(t))

	c := testCapture(uuid.New())
	require.NoError(t, repo.Save(ctx, c))

	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	planID := uuid.New()
	c.MarkScheduled(start, end, "evt-1", "etag-1", planID)
	require.NoError(t, repo.Save(ctx, c))

	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, loaded.Status)
	require.NotNil(t, loaded.PlannedStart)
	assert.True(t, loaded.PlannedStart.Equal(start))
	require.NotNil(t, loaded.CalendarEventID)
	assert.Equal(t, "evt-1", *loaded.CalendarEventID)
	require.NotNil(t, loaded.PlanID)
	assert.Equal(t, planID, *loaded.PlanID)
}

func TestCaptureRepository_FindScheduledInRange(t *testing.T) {
	ctx := context.Background()
	repo := NewCaptureRepository(openTestDB(t))

	userID := uuid.New()
	base := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	inside := testCapture(userID)
	inside.MarkScheduled(base.Add(2*time.Hour), base.Add(3*time.Hour), "evt-in", "e1", uuid.New())
	require.NoError(t, repo.Save(ctx, inside))

	outside := testCapture(userID)
	outside.MarkScheduled(base.Add(80*time.Hour), base.Add(81*time.Hour), "evt-out", "e2", uuid.New())
	require.NoError(t, repo.Save(ctx, outside))

	otherUser := testCapture(uuid.New())
	otherUser.MarkScheduled(base.Add(2*time.Hour), base.Add(3*time.Hour), "evt-other", "e3", uuid.New())
	require.NoError(t, repo.Save(ctx, otherUser))

	pending := testCapture(userID)
	require.NoError(t, repo.Save(ctx, pending))

	found, err := repo.FindScheduledInRange(ctx, userID, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, inside.ID, found[0].ID)
}

func TestCaptureRepository_ReplaceChunks(t *testing.T) {
	ctx := context.Background()
	repo := NewCaptureRepository(openTestDB(t))

	c := testCapture(uuid.New())
	require.NoError(t, repo.Save(ctx, c))

	base := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	chunks := []domain.Chunk{
		{CaptureID: c.ID, Start: base, End: base.Add(50 * time.Minute)},
		{CaptureID: c.ID, Start: base.Add(2 * time.Hour), End: base.Add(2*time.Hour + 40*time.Minute), Late: true},
	}
	require.NoError(t, repo.ReplaceChunks(ctx, c.ID, chunks))

	loaded, err := repo.ListChunks(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.True(t, loaded[0].Start.Equal(base))
	assert.False(t, loaded[0].Late)
	assert.True(t, loaded[1].Late)

	// Wholesale replacement, then clearing.
	require.NoError(t, repo.ReplaceChunks(ctx, c.ID, chunks[:1]))
	loaded, err = repo.ListChunks(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	require.NoError(t, repo.ReplaceChunks(ctx, c.ID, nil))
	loaded, err = repo.ListChunks(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPlanRunRepository_Ledger(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	runs := NewPlanRunRepository(conn)

	userID := uuid.New()
	runID := uuid.New()
	require.NoError(t, runs.CreateRun(ctx, domain.PlanRun{ID: runID, UserID: userID}))

	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	eventID := "evt-1"
	captureID := uuid.New()

	batch := []domain.PlanAction{
		{
			PlanID:         runID,
			CaptureID:      captureID,
			CaptureContent: "write the quarterly report",
			Kind:           domain.ActionScheduled,
			Prev:           domain.PlacementSnapshot{Status: domain.StatusPending},
			Next: domain.PlacementSnapshot{
				Status:          domain.StatusScheduled,
				PlannedStart:    &start,
				PlannedEnd:      &end,
				CalendarEventID: &eventID,
				PlanID:          &runID,
			},
		},
		{
			PlanID:    runID,
			CaptureID: uuid.New(),
			Kind:      domain.ActionUnscheduled,
			Prev:      domain.PlacementSnapshot{Status: domain.StatusScheduled},
			Next:      domain.PlacementSnapshot{Status: domain.StatusPending},
		},
	}
	require.NoError(t, runs.AppendActions(ctx, batch))
	require.NoError(t, runs.AppendActions(ctx, []domain.PlanAction{{
		PlanID:    runID,
		CaptureID: uuid.New(),
		Kind:      domain.ActionRescheduled,
	}}))

	actions, err := runs.ListActions(ctx, runID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, domain.ActionScheduled, actions[0].Kind)
	assert.Equal(t, domain.ActionUnscheduled, actions[1].Kind)
	assert.Equal(t, domain.ActionRescheduled, actions[2].Kind)
	require.NotNil(t, actions[0].Next.PlannedStart)
	assert.True(t, actions[0].Next.PlannedStart.Equal(start))
	require.NotNil(t, actions[0].Next.CalendarEventID)
	assert.Equal(t, "evt-1", *actions[0].Next.CalendarEventID)

	summary := domain.SummarizeActions(actions)
	assert.Equal(t, "scheduled:1 moved:1 unscheduled:1", summary)
	require.NoError(t, runs.UpdateSummary(ctx, runID, summary))
}
