package engine

import (
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// GenerateChunkDurations splits a total duration into chunk lengths. The
// total is first rounded up to a slot increment; the chunk count is the
// smallest of total/minChunk, maxSplits and total/targetChunk (rounded up),
// and the remainder spreads across the first chunks. Every chunk is at
// least minChunk and the sum equals the rounded total.
func GenerateChunkDurations(totalMinutes, minChunk, maxSplits int, allowSplit bool, cfg SchedulerConfig) []int {
	total := RoundUpMinutes(totalMinutes, cfg.SlotIncrementMinutes)
	if total <= 0 {
		return nil
	}
	if !allowSplit {
		return []int{total}
	}

	if minChunk <= 0 {
		minChunk = cfg.DefaultMinChunkMinutes
	}
	target := cfg.TargetChunkMinutes
	if target <= 0 {
		target = 50
	}

	count := total / minChunk
	if maxSplits > 0 && count > maxSplits {
		count = maxSplits
	}
	if byTarget := (total + target - 1) / target; count > byTarget {
		count = byTarget
	}
	if count < 1 {
		count = 1
	}

	// Divide in slot increments so chunk boundaries stay on the grid.
	increments := total / cfg.SlotIncrementMinutes

	// A minChunk off the slot grid can floor the tail chunk below the
	// minimum; shrink the count until the smallest share clears it.
	for count > 1 && (increments/count)*cfg.SlotIncrementMinutes < minChunk {
		count--
	}

	base := increments / count
	extra := increments % count

	durations := make([]int, count)
	for i := range durations {
		inc := base
		if i < extra {
			inc++
		}
		durations[i] = inc * cfg.SlotIncrementMinutes
	}
	return durations
}

// PlaceChunksWithinRange greedily places each chunk in the earliest free
// sub-slot after the previous chunk's end. It fails when any chunk cannot
// fit before rangeEnd. On success it returns the ordered placements and the
// busy set augmented with the new slots.
func PlaceChunksWithinRange(
	durations []int,
	busy []BusyInterval,
	rangeStart, rangeEnd time.Time,
	enforceWorkingWindow bool,
	loc *time.Location,
	cfg SchedulerConfig,
) ([]domain.TimeSlot, []BusyInterval, bool) {
	placements := make([]domain.TimeSlot, 0, len(durations))
	cursor := rangeStart
	buffer := time.Duration(cfg.BufferMinutes) * time.Minute

	for _, minutes := range durations {
		slot := scanForSlot(busy, minutes, loc, cfg, scanBounds{
			from:           cursor,
			until:          rangeEnd,
			enforceWorking: enforceWorkingWindow,
		})
		if slot == nil {
			return nil, busy, false
		}
		placements = append(placements, *slot)
		busy = RegisterInterval(busy, *slot, buffer)
		cursor = slot.End
	}
	return placements, busy, true
}
