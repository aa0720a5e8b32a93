package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

func TestComputeSchedulingPlan(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	now := utcTime(2025, time.November, 24, 9, 0)

	t.Run("empty constraint is flexible", func(t *testing.T) {
		c := newCapture(5, 60, now)
		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		assert.Equal(t, PlanFlexible, plan.Mode())
	})

	t.Run("start time anchors the preferred slot", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintStartTime
		c.ConstraintTime = ptr(utcTime(2025, time.November, 24, 14, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanStart, plan.Mode())
		require.NotNil(t, plan.Preferred())
		assert.True(t, plan.Preferred().Start.Equal(utcTime(2025, time.November, 24, 14, 0)))
		assert.True(t, plan.Preferred().End.Equal(utcTime(2025, time.November, 24, 15, 0)))
	})

	t.Run("past start target is clamped to now", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintStartTime
		c.ConstraintTime = ptr(now.Add(-2 * time.Hour))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanStart, plan.Mode())
		assert.True(t, plan.Preferred().Start.Equal(now))
	})

	t.Run("original target backs a missing constraint time", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintStartTime
		c.OriginalTargetTime = ptr(utcTime(2025, time.November, 24, 16, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanStart, plan.Mode())
		assert.True(t, plan.Preferred().Start.Equal(utcTime(2025, time.November, 24, 16, 0)))
	})

	t.Run("window constraint", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintWindow
		c.WindowStart = ptr(utcTime(2025, time.November, 24, 10, 0))
		c.WindowEnd = ptr(utcTime(2025, time.November, 24, 12, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanWindow, plan.Mode())
		require.NotNil(t, plan.Window())
		assert.True(t, plan.Window().Start.Equal(*c.WindowStart))
		assert.True(t, plan.Window().End.Equal(*c.WindowEnd))
		assert.Nil(t, plan.Preferred())
	})

	t.Run("window falls back to constraint times", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintWindow
		c.ConstraintTime = ptr(utcTime(2025, time.November, 24, 10, 0))
		c.ConstraintEnd = ptr(utcTime(2025, time.November, 24, 12, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanWindow, plan.Mode())
	})

	t.Run("inverted window degrades to flexible", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintWindow
		c.WindowStart = ptr(utcTime(2025, time.November, 24, 12, 0))
		c.WindowEnd = ptr(utcTime(2025, time.November, 24, 10, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		assert.Equal(t, PlanFlexible, plan.Mode())
	})

	t.Run("deadline time", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintDeadlineTime
		c.ConstraintTime = ptr(utcTime(2025, time.November, 25, 17, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		require.Equal(t, PlanDeadline, plan.Mode())
		require.NotNil(t, plan.Deadline())
		assert.True(t, plan.Deadline().Equal(utcTime(2025, time.November, 25, 17, 0)))
	})

	t.Run("legacy aliases fold onto deadline_time", func(t *testing.T) {
		for _, alias := range []string{"deadline", "end_time"} {
			c := newCapture(5, 60, now)
			c.ConstraintKind = domain.ConstraintKind(alias)
			c.ConstraintTime = ptr(utcTime(2025, time.November, 25, 17, 0))

			plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
			require.Equal(t, PlanDeadline, plan.Mode(), alias)
			require.NotNil(t, plan.Deadline(), alias)
			assert.True(t, plan.Deadline().Equal(*c.ConstraintTime), alias)

			dl := ResolveDeadline(c, plan, time.UTC, cfg)
			require.NotNil(t, dl, alias)
			assert.True(t, dl.Equal(*c.ConstraintTime), alias)
		}
	})

	t.Run("deadline date resolves to local day end", func(t *testing.T) {
		chicago := loadLocation(t, "America/Chicago")
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintDeadlineDate
		c.ConstraintDate = ptr("2025-11-25")

		plan := ComputeSchedulingPlan(c, now, chicago, cfg)
		require.Equal(t, PlanDeadline, plan.Mode())
		// 22:00 CST Nov 25.
		assert.True(t, plan.Deadline().Equal(utcTime(2025, time.November, 26, 4, 0)))
	})
}

func TestResolveDeadline(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	now := utcTime(2025, time.November, 24, 9, 0)

	t.Run("explicit deadline wins", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.DeadlineAt = ptr(utcTime(2025, time.November, 25, 12, 0))
		c.ConstraintKind = domain.ConstraintDeadlineTime
		c.ConstraintTime = ptr(utcTime(2025, time.November, 26, 12, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		dl := ResolveDeadline(c, plan, time.UTC, cfg)
		require.NotNil(t, dl)
		assert.True(t, dl.Equal(*c.DeadlineAt))
	})

	t.Run("plan deadline next", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintDeadlineTime
		c.ConstraintTime = ptr(utcTime(2025, time.November, 26, 12, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		dl := ResolveDeadline(c, plan, time.UTC, cfg)
		require.NotNil(t, dl)
		assert.True(t, dl.Equal(*c.ConstraintTime))
	})

	t.Run("window end last", func(t *testing.T) {
		c := newCapture(5, 60, now)
		c.ConstraintKind = domain.ConstraintWindow
		c.WindowStart = ptr(utcTime(2025, time.November, 24, 10, 0))
		c.WindowEnd = ptr(utcTime(2025, time.November, 24, 12, 0))

		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		dl := ResolveDeadline(c, plan, time.UTC, cfg)
		require.NotNil(t, dl)
		assert.True(t, dl.Equal(*c.WindowEnd))
	})

	t.Run("nil without any temporal bound", func(t *testing.T) {
		c := newCapture(5, 60, now)
		plan := ComputeSchedulingPlan(c, now, time.UTC, cfg)
		assert.Nil(t, ResolveDeadline(c, plan, time.UTC, cfg))
	})
}
