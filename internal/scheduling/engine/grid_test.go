package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
)

func gridConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.SearchDays = 2
	return cfg
}

func TestBuildOccupancyGrid_DayStats(t *testing.T) {
	cfg := gridConfig()
	now := utcTime(2025, time.November, 24, 0, 0)
	captureID := uuid.New()

	events := []calendarApp.Event{
		externalEvent("standup", utcTime(2025, time.November, 24, 9, 0), utcTime(2025, time.November, 24, 10, 0)),
		ownedEvent("mine", utcTime(2025, time.November, 24, 10, 0), utcTime(2025, time.November, 24, 11, 0), captureID),
	}

	grid := BuildOccupancyGrid(events, now, time.UTC, cfg)

	assert.True(t, grid.Start().Equal(utcTime(2025, time.November, 24, 8, 0)))
	assert.True(t, grid.End().Equal(utcTime(2025, time.November, 25, 22, 0)))

	stats := grid.DayStats()
	require.Len(t, stats, 2)

	// 14 working hours per day.
	assert.Equal(t, 60, stats[0].ExternalMinutes)
	assert.Equal(t, 60, stats[0].OwnedMinutes)
	assert.Equal(t, 14*60-120, stats[0].FreeMinutes)

	assert.Equal(t, 14*60, stats[1].FreeMinutes)
	assert.Zero(t, stats[1].OwnedMinutes)
}

func TestOccupancyGrid_OwnedWinsContestedCell(t *testing.T) {
	cfg := gridConfig()
	now := utcTime(2025, time.November, 24, 0, 0)

	events := []calendarApp.Event{
		externalEvent("theirs", utcTime(2025, time.November, 24, 9, 0), utcTime(2025, time.November, 24, 10, 10)),
		ownedEvent("mine", utcTime(2025, time.November, 24, 10, 5), utcTime(2025, time.November, 24, 11, 0), uuid.New()),
	}

	grid := BuildOccupancyGrid(events, now, time.UTC, cfg)

	contested := grid.StatsBetween(utcTime(2025, time.November, 24, 10, 0), utcTime(2025, time.November, 24, 10, 15))
	assert.Equal(t, 15, contested.OwnedMinutes)
	assert.Zero(t, contested.ExternalMinutes)
}

func TestOccupancyGrid_StatsBetween(t *testing.T) {
	cfg := gridConfig()
	now := utcTime(2025, time.November, 24, 0, 0)

	events := []calendarApp.Event{
		externalEvent("standup", utcTime(2025, time.November, 24, 9, 0), utcTime(2025, time.November, 24, 10, 0)),
	}

	grid := BuildOccupancyGrid(events, now, time.UTC, cfg)

	s := grid.StatsBetween(utcTime(2025, time.November, 24, 8, 0), utcTime(2025, time.November, 24, 10, 0))
	assert.Equal(t, 60, s.FreeMinutes)
	assert.Equal(t, 60, s.ExternalMinutes)
}

func TestOccupancyGrid_CollectWindowCandidates(t *testing.T) {
	cfg := gridConfig()
	now := utcTime(2025, time.November, 24, 0, 0)
	ws := utcTime(2025, time.November, 24, 8, 0)
	we := utcTime(2025, time.November, 24, 10, 0)

	t.Run("external cells block a window", func(t *testing.T) {
		events := []calendarApp.Event{
			externalEvent("standup", utcTime(2025, time.November, 24, 9, 0), utcTime(2025, time.November, 24, 10, 0)),
		}
		grid := BuildOccupancyGrid(events, now, time.UTC, cfg)

		cands := grid.CollectWindowCandidates(60, ws, we, 0)
		require.Len(t, cands, 1)
		assert.True(t, cands[0].Slot.Start.Equal(utcTime(2025, time.November, 24, 8, 0)))
		assert.Equal(t, 60, cands[0].FreeMinutes)
		assert.Empty(t, cands[0].OwnedEventIDs)
	})

	t.Run("owned occupancy is broken down per capture", func(t *testing.T) {
		captureID := uuid.New()
		events := []calendarApp.Event{
			ownedEvent("mine", utcTime(2025, time.November, 24, 8, 30), utcTime(2025, time.November, 24, 9, 30), captureID),
		}
		grid := BuildOccupancyGrid(events, now, time.UTC, cfg)

		cands := grid.CollectWindowCandidates(60, ws, we, 0)
		require.Len(t, cands, 5)

		first := cands[0]
		assert.True(t, first.Slot.Start.Equal(utcTime(2025, time.November, 24, 8, 0)))
		assert.Equal(t, 30, first.FreeMinutes)
		assert.Equal(t, 30, first.OwnedMinutes)
		assert.Equal(t, 30, first.OwnedMinutesByCapture[captureID])
		assert.Equal(t, []string{"mine"}, first.OwnedEventIDs)
	})

	t.Run("limit caps the result", func(t *testing.T) {
		grid := BuildOccupancyGrid(nil, now, time.UTC, cfg)
		cands := grid.CollectWindowCandidates(60, ws, we, 2)
		assert.Len(t, cands, 2)
	})
}
