package engine

import (
	"math"
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// PriorityEngine scores captures against a reference time. Scores feed the
// preemption cost model and overlap admission; per-minute scores let a short
// urgent capture outrank a long mildly-important one.
type PriorityEngine struct {
	cfg SchedulerConfig
}

// NewPriorityEngine creates a priority engine with the given configuration.
func NewPriorityEngine(cfg SchedulerConfig) *PriorityEngine {
	return &PriorityEngine{cfg: cfg}
}

// Score computes the non-negative priority of a capture at now.
func (e *PriorityEngine) Score(c *domain.Capture, now time.Time) float64 {
	importance := float64(c.Importance)
	if importance < 1 {
		importance = 1
	}
	base := clamp01(importance/5) * 40

	var signal float64
	if c.Urgency != nil {
		signal += clamp01(*c.Urgency) * 10
	}
	if c.Impact != nil {
		signal += clamp01(*c.Impact) * 10
	}
	if c.ReschedulePenalty != nil {
		signal += clamp01(*c.ReschedulePenalty) * 10
	}

	deadline := e.deadlineScore(c, now)
	age := e.ageScore(c, now)

	multiplier := 1.0 +
		0.05*math.Min(float64(c.RescheduleCount), 4) +
		0.1*clamp01(c.ExternalityScore)

	score := (base + signal + deadline + age) * multiplier

	switch c.Routine() {
	case domain.RoutineSleep:
		score = math.Min(score*e.cfg.SleepScaler.Scale, e.cfg.SleepScaler.Cap)
	case domain.RoutineMeal:
		score = math.Min(score*e.cfg.MealScaler.Scale, e.cfg.MealScaler.Cap)
	}

	if score < 0 {
		return 0
	}
	return score
}

// PerMinute returns the priority per estimated minute.
func (e *PriorityEngine) PerMinute(c *domain.Capture, now time.Time) float64 {
	minutes := c.EstimatedDurationMinutes()
	if minutes < 1 {
		minutes = 1
	}
	return e.Score(c, now) / float64(minutes)
}

// deadlineScore grows monotonically as the deadline nears; an elapsed
// deadline contributes the full weight.
func (e *PriorityEngine) deadlineScore(c *domain.Capture, now time.Time) float64 {
	if c.DeadlineAt == nil {
		return 0
	}
	days := c.DeadlineAt.Sub(now).Hours() / 24
	if days < 0 {
		return 25
	}
	horizon := float64(e.cfg.SearchDays)
	return clamp01((horizon-days)/horizon) * 25
}

func (e *PriorityEngine) ageScore(c *domain.Capture, now time.Time) float64 {
	if c.CreatedAt.IsZero() {
		return 0
	}
	hours := now.Sub(c.CreatedAt).Hours()
	return clamp01(hours/72) * 5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
