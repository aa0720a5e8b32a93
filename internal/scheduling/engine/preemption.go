package engine

import (
	"time"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// Preemption set search caps. Displacement sets beyond four events never
// pay for themselves, and 64 combinations bounds the worst case.
const (
	maxPreemptionSetSize     = 4
	maxPreemptionCombination = 64
)

// PreemptionCandidate couples an owned event with the capture it represents.
type PreemptionCandidate struct {
	Event   calendarApp.Event
	Capture *domain.Capture
}

// IsStable reports whether the capture sits inside the stability window:
// its planned start is less than StabilityWindowMinutes away.
func IsStable(c *domain.Capture, now time.Time, cfg SchedulerConfig) bool {
	if c.PlannedStart == nil {
		return false
	}
	diff := c.PlannedStart.Sub(now)
	return diff >= 0 && diff <= time.Duration(cfg.StabilityWindowMinutes)*time.Minute
}

// FilterMovable removes candidates that must not be displaced: frozen
// captures always, stable captures unless the target runs under a deadline
// plan, which trades stability for making the deadline.
func FilterMovable(cands []PreemptionCandidate, now time.Time, cfg SchedulerConfig, planMode PlanMode) []PreemptionCandidate {
	movable := make([]PreemptionCandidate, 0, len(cands))
	for _, cand := range cands {
		if cand.Capture == nil || cand.Capture.IsFrozen(now) {
			continue
		}
		if planMode != PlanDeadline && IsStable(cand.Capture, now, cfg) {
			continue
		}
		movable = append(movable, cand)
	}
	return movable
}

// SelectMinimalPreemptionSet returns the smallest set of candidate owned
// events whose removal makes slot feasible, trying combinations of
// ascending size. When allowCompressedBuffer is set, each combination is
// also tried with the compressed buffer before growing the set.
func SelectMinimalPreemptionSet(
	slot domain.TimeSlot,
	events []calendarApp.Event,
	candidateIDs []string,
	allowCompressedBuffer bool,
	now time.Time,
	cfg SchedulerConfig,
) []string {
	if len(candidateIDs) == 0 {
		return nil
	}

	buffers := []time.Duration{time.Duration(cfg.BufferMinutes) * time.Minute}
	if allowCompressedBuffer {
		buffers = append(buffers, time.Duration(cfg.CompressedBufferMinutes)*time.Minute)
	}

	maxSize := maxPreemptionSetSize
	if len(candidateIDs) < maxSize {
		maxSize = len(candidateIDs)
	}

	tried := 0
	var result []string
	for size := 1; size <= maxSize && result == nil; size++ {
		forEachCombination(len(candidateIDs), size, func(idx []int) bool {
			tried++
			if tried > maxPreemptionCombination {
				return false
			}
			removed := make(map[string]struct{}, len(idx))
			for _, i := range idx {
				removed[candidateIDs[i]] = struct{}{}
			}
			remaining := make([]calendarApp.Event, 0, len(events))
			for _, ev := range events {
				if _, ok := removed[ev.ID]; !ok {
					remaining = append(remaining, ev)
				}
			}
			for _, buffer := range buffers {
				busy := ComputeBusyIntervals(remaining, buffer, now)
				if IsSlotFree(slot.Start, slot.End, busy) {
					result = make([]string, 0, len(idx))
					for _, i := range idx {
						result = append(result, candidateIDs[i])
					}
					return false
				}
			}
			return true
		})
		if tried > maxPreemptionCombination {
			break
		}
	}
	return result
}

// forEachCombination visits k-combinations of [0, n) in lexicographic
// order, stopping when fn returns false.
func forEachCombination(n, k int, fn func(idx []int) bool) {
	idx := make([]int, k)
	var walk func(pos, start int) bool
	walk = func(pos, start int) bool {
		if pos == k {
			return fn(idx)
		}
		for i := start; i <= n-(k-pos); i++ {
			idx[pos] = i
			if !walk(pos+1, i+1) {
				return false
			}
		}
		return true
	}
	walk(0, 0)
}

// Displacement is one owned capture losing minutes to the target.
type Displacement struct {
	Capture    *domain.Capture
	Minutes    int
	Overlapped bool
}

// NetGainResult is the scored outcome of a proposed preemption.
type NetGainResult struct {
	Benefit       float64
	Cost          float64
	Net           float64
	PerMinuteGain float64
	Allowed       bool
	Reason        string
}

// EvaluatePreemptionNetGain scores a proposed displacement set. The target's
// per-minute priority over the claimed minutes is the benefit; each
// displaced capture charges its own per-minute priority over its lost
// minutes, plus a soft surcharge when the displaced slot was overlapped.
func EvaluatePreemptionNetGain(
	target *domain.Capture,
	displacements []Displacement,
	minutesClaimed int,
	now time.Time,
	priorities *PriorityEngine,
	cfg SchedulerConfig,
) NetGainResult {
	res := NetGainResult{}
	if minutesClaimed <= 0 {
		res.Reason = "nothing claimed"
		return res
	}

	res.Benefit = priorities.PerMinute(target, now) * float64(minutesClaimed)

	totalDisplacedMinutes := 0
	for _, d := range displacements {
		res.Cost += priorities.PerMinute(d.Capture, now) * float64(d.Minutes)
		if d.Overlapped {
			res.Cost += cfg.Overlap.SoftCostPerMinute * float64(d.Minutes)
		}
		totalDisplacedMinutes += d.Minutes
	}

	res.Net = res.Benefit - res.Cost
	res.PerMinuteGain = res.Net / float64(minutesClaimed)

	switch {
	case len(displacements) > cfg.Preemption.MaxDisplacedTasks:
		res.Reason = "too many displaced tasks"
	case totalDisplacedMinutes > cfg.Preemption.MaxDisplacedMinutes:
		res.Reason = "too many displaced minutes"
	case res.Net < cfg.Preemption.NetGainFloor:
		res.Reason = "net gain below floor"
	case res.PerMinuteGain < cfg.Preemption.PerMinuteGainFloor:
		res.Reason = "per-minute gain below floor"
	default:
		res.Allowed = true
	}
	return res
}
