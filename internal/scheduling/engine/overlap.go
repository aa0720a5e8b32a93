package engine

import (
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// OverlapDecision is the outcome of an overlap admission check.
type OverlapDecision struct {
	Allowed bool
	Reason  string
	// TargetPrime is set when the target outranks every co-resident
	// capture; the loser keeps its slot but is marked overlapped.
	TargetPrime bool
}

// OverlapEvaluator admits deliberate double-booking of owned captures.
// It is stateful across one scheduling run: Commit charges admitted
// overlap minutes against the per-day budget so later placements in the
// same run see the reduced allowance.
type OverlapEvaluator struct {
	cfg   SchedulerConfig
	usage map[string]int // overlapped minutes per UTC day
}

func NewOverlapEvaluator(cfg SchedulerConfig) *OverlapEvaluator {
	return &OverlapEvaluator{cfg: cfg, usage: make(map[string]int)}
}

// Permit checks whether target may share slot with the already-placed
// residents. All of the policy gates must pass: the feature flag, both
// sides' overlap consent, concurrency, the per-task fraction of the
// target's estimated duration, the daily budget, and a positive margin of
// target benefit over the soft cost.
func (e *OverlapEvaluator) Permit(
	target *domain.Capture,
	residents []PreemptionCandidate,
	slot domain.TimeSlot,
	priorities *PriorityEngine,
	now time.Time,
) OverlapDecision {
	pol := e.cfg.Overlap
	minutes := slot.Minutes()

	if !pol.Enabled {
		return OverlapDecision{Reason: "overlap disabled"}
	}
	if len(residents) == 0 {
		return OverlapDecision{Reason: "no resident to overlap"}
	}
	if !target.CanOverlap() {
		return OverlapDecision{Reason: "target does not allow overlap"}
	}
	for _, r := range residents {
		if r.Capture == nil || !r.Capture.CanOverlap() {
			return OverlapDecision{Reason: "resident does not allow overlap"}
		}
	}
	if len(residents)+1 > pol.MaxConcurrency {
		return OverlapDecision{Reason: "concurrency limit reached"}
	}
	if float64(minutes) > pol.PerTaskFraction*float64(target.EstimatedDurationMinutes()) {
		return OverlapDecision{Reason: "overlap exceeds per-task fraction"}
	}
	if e.usage[DateKeyUTC(slot.Start)]+minutes > pol.DailyBudgetMinutes {
		return OverlapDecision{Reason: "daily overlap budget exhausted"}
	}

	benefit := priorities.PerMinute(target, now) * float64(minutes)
	softCost := pol.SoftCostPerMinute * float64(minutes)
	if benefit <= softCost {
		return OverlapDecision{Reason: "benefit does not cover soft cost"}
	}

	targetScore := priorities.Score(target, now)
	prime := true
	for _, r := range residents {
		if priorities.Score(r.Capture, now) > targetScore {
			prime = false
			break
		}
	}
	return OverlapDecision{Allowed: true, TargetPrime: prime}
}

// Commit charges an admitted overlap against the day's budget.
func (e *OverlapEvaluator) Commit(slot domain.TimeSlot) {
	e.usage[DateKeyUTC(slot.Start)] += slot.Minutes()
}

// UsedMinutes reports the overlapped minutes already charged to the UTC
// day containing t.
func (e *OverlapEvaluator) UsedMinutes(t time.Time) int {
	return e.usage[DateKeyUTC(t)]
}
