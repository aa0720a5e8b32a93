package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

func TestIsStable(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	now := utcTime(2025, time.November, 24, 9, 0)

	c := newCapture(5, 60, now)
	assert.False(t, IsStable(c, now, cfg), "unplanned capture is never stable")

	c.PlannedStart = ptr(now.Add(20 * time.Minute))
	assert.True(t, IsStable(c, now, cfg))

	c.PlannedStart = ptr(now.Add(45 * time.Minute))
	assert.False(t, IsStable(c, now, cfg))

	c.PlannedStart = ptr(now.Add(-5 * time.Minute))
	assert.False(t, IsStable(c, now, cfg), "already started is not stable")
}

func TestFilterMovable(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	now := utcTime(2025, time.November, 24, 9, 0)

	frozen := newCapture(5, 60, now)
	frozen.FreezeUntil = ptr(now.Add(24 * time.Hour))

	stable := newCapture(5, 60, now)
	stable.PlannedStart = ptr(now.Add(15 * time.Minute))

	movable := newCapture(5, 60, now)
	movable.PlannedStart = ptr(now.Add(3 * time.Hour))

	cands := []PreemptionCandidate{
		{Capture: frozen},
		{Capture: stable},
		{Capture: movable},
		{Capture: nil},
	}

	got := FilterMovable(cands, now, cfg, PlanFlexible)
	require.Len(t, got, 1)
	assert.Equal(t, movable.ID, got[0].Capture.ID)

	// A deadline plan may displace stable captures, never frozen ones.
	got = FilterMovable(cands, now, cfg, PlanDeadline)
	require.Len(t, got, 2)
	assert.Equal(t, stable.ID, got[0].Capture.ID)
	assert.Equal(t, movable.ID, got[1].Capture.ID)
}

func TestSelectMinimalPreemptionSet(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	now := utcTime(2025, time.November, 24, 8, 0)
	slot := domain.TimeSlot{
		Start: utcTime(2025, time.November, 24, 10, 0),
		End:   utcTime(2025, time.November, 24, 11, 0),
	}

	t.Run("single removal suffices", func(t *testing.T) {
		events := []calendarApp.Event{
			ownedEvent("a", utcTime(2025, time.November, 24, 10, 0), utcTime(2025, time.November, 24, 10, 30), uuid.New()),
			externalEvent("x", utcTime(2025, time.November, 24, 12, 0), utcTime(2025, time.November, 24, 13, 0)),
		}
		got := SelectMinimalPreemptionSet(slot, events, []string{"a"}, false, now, cfg)
		assert.Equal(t, []string{"a"}, got)
	})

	t.Run("pair required when singles fail", func(t *testing.T) {
		events := []calendarApp.Event{
			ownedEvent("a", utcTime(2025, time.November, 24, 9, 45), utcTime(2025, time.November, 24, 10, 15), uuid.New()),
			ownedEvent("b", utcTime(2025, time.November, 24, 10, 45), utcTime(2025, time.November, 24, 11, 15), uuid.New()),
		}
		got := SelectMinimalPreemptionSet(slot, events, []string{"a", "b"}, false, now, cfg)
		assert.ElementsMatch(t, []string{"a", "b"}, got)
	})

	t.Run("compressed buffer unlocks a tight fit", func(t *testing.T) {
		events := []calendarApp.Event{
			ownedEvent("a", utcTime(2025, time.November, 24, 10, 15), utcTime(2025, time.November, 24, 10, 45), uuid.New()),
			externalEvent("e", utcTime(2025, time.November, 24, 11, 5), utcTime(2025, time.November, 24, 11, 50)),
		}
		assert.Nil(t, SelectMinimalPreemptionSet(slot, events, []string{"a"}, false, now, cfg))
		assert.Equal(t, []string{"a"}, SelectMinimalPreemptionSet(slot, events, []string{"a"}, true, now, cfg))
	})

	t.Run("infeasible slot yields nil", func(t *testing.T) {
		events := []calendarApp.Event{
			ownedEvent("a", utcTime(2025, time.November, 24, 10, 0), utcTime(2025, time.November, 24, 10, 30), uuid.New()),
			externalEvent("x", utcTime(2025, time.November, 24, 10, 30), utcTime(2025, time.November, 24, 11, 30)),
		}
		assert.Nil(t, SelectMinimalPreemptionSet(slot, events, []string{"a"}, false, now, cfg))
	})

	t.Run("no candidates yields nil", func(t *testing.T) {
		assert.Nil(t, SelectMinimalPreemptionSet(slot, nil, nil, false, now, cfg))
	})
}

func TestEvaluatePreemptionNetGain(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	priorities := NewPriorityEngine(cfg)
	now := utcTime(2025, time.November, 24, 9, 0)

	t.Run("clear win is allowed", func(t *testing.T) {
		target := newCapture(5, 60, now)
		displaced := newCapture(1, 60, now)

		res := EvaluatePreemptionNetGain(target, []Displacement{{Capture: displaced, Minutes: 60}}, 60, now, priorities, cfg)
		assert.True(t, res.Allowed)
		assert.InDelta(t, 40, res.Benefit, 0.001)
		assert.InDelta(t, 8, res.Cost, 0.001)
		assert.InDelta(t, 32, res.Net, 0.001)
	})

	t.Run("overlapped slots charge the soft surcharge", func(t *testing.T) {
		target := newCapture(5, 60, now)
		displaced := newCapture(1, 60, now)

		plainRes := EvaluatePreemptionNetGain(target, []Displacement{{Capture: displaced, Minutes: 60}}, 60, now, priorities, cfg)
		overRes := EvaluatePreemptionNetGain(target, []Displacement{{Capture: displaced, Minutes: 60, Overlapped: true}}, 60, now, priorities, cfg)
		assert.InDelta(t, plainRes.Cost+cfg.Overlap.SoftCostPerMinute*60, overRes.Cost, 0.001)
	})

	t.Run("nothing claimed", func(t *testing.T) {
		target := newCapture(5, 60, now)
		res := EvaluatePreemptionNetGain(target, nil, 0, now, priorities, cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, "nothing claimed", res.Reason)
	})

	t.Run("too many displaced tasks", func(t *testing.T) {
		target := newCapture(5, 60, now)
		var ds []Displacement
		for i := 0; i < 5; i++ {
			ds = append(ds, Displacement{Capture: newCapture(1, 60, now), Minutes: 10})
		}
		res := EvaluatePreemptionNetGain(target, ds, 60, now, priorities, cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, "too many displaced tasks", res.Reason)
	})

	t.Run("too many displaced minutes", func(t *testing.T) {
		target := newCapture(5, 60, now)
		var ds []Displacement
		for i := 0; i < 4; i++ {
			ds = append(ds, Displacement{Capture: newCapture(1, 60, now), Minutes: 70})
		}
		res := EvaluatePreemptionNetGain(target, ds, 60, now, priorities, cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, "too many displaced minutes", res.Reason)
	})

	t.Run("net gain below floor", func(t *testing.T) {
		target := newCapture(1, 480, now)
		displaced := newCapture(5, 60, now)
		res := EvaluatePreemptionNetGain(target, []Displacement{{Capture: displaced, Minutes: 60}}, 60, now, priorities, cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, "net gain below floor", res.Reason)
	})

	t.Run("per-minute gain below floor", func(t *testing.T) {
		target := newCapture(5, 240, now)
		displaced := newCapture(3, 60, now)
		res := EvaluatePreemptionNetGain(target, []Displacement{{Capture: displaced, Minutes: 60}}, 240, now, priorities, cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, "per-minute gain below floor", res.Reason)
	})
}
