package engine

import (
	"time"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/google/uuid"
)

// CellState tags one grid cell.
type CellState uint8

const (
	CellFree CellState = iota
	CellExternal
	CellOwned
)

type gridCell struct {
	state     CellState
	eventID   string
	captureID uuid.UUID
}

type gridDay struct {
	start time.Time
	end   time.Time
	cells []gridCell
}

// OccupancyGrid is a fixed-resolution occupancy map over the search horizon,
// covering working-window hours for up to SearchDays days. It backs the
// capacity reports in conflict payloads and enumerates preemption targets.
type OccupancyGrid struct {
	loc         *time.Location
	cellMinutes int
	days        []gridDay
}

// GridDayStats summarizes one day of the grid.
type GridDayStats struct {
	Date            time.Time
	FreeMinutes     int
	OwnedMinutes    int
	ExternalMinutes int
}

// GridWindowCandidate is a contiguous run of non-external cells large enough
// to hold a duration, annotated with its occupancy breakdown.
type GridWindowCandidate struct {
	Slot            domain.TimeSlot
	FreeMinutes     int
	OwnedMinutes    int
	ExternalMinutes int
	// OwnedMinutesByCapture breaks owned occupancy down per capture.
	OwnedMinutesByCapture map[uuid.UUID]int
	// OwnedEventIDs lists the owned events occupying the window.
	OwnedEventIDs []string
}

// BuildOccupancyGrid materializes the grid from live calendar events.
func BuildOccupancyGrid(events []calendarApp.Event, now time.Time, loc *time.Location, cfg SchedulerConfig) *OccupancyGrid {
	days := cfg.SearchDays
	if days > 7 {
		days = 7
	}
	cellMinutes := cfg.SlotIncrementMinutes
	cellDur := time.Duration(cellMinutes) * time.Minute

	grid := &OccupancyGrid{loc: loc, cellMinutes: cellMinutes}
	for d := 0; d < days; d++ {
		dayStart := BuildZonedTime(now, loc, d, cfg.WorkingStartHour, 0)
		dayEnd := BuildZonedTime(now, loc, d, cfg.DayEndHour, 0)
		if !dayEnd.After(dayStart) {
			continue
		}
		n := int(dayEnd.Sub(dayStart) / cellDur)
		day := gridDay{start: dayStart, end: dayEnd, cells: make([]gridCell, n)}
		for i := range day.cells {
			cs := dayStart.Add(time.Duration(i) * cellDur)
			day.cells[i] = labelCell(cs, cs.Add(cellDur), events)
		}
		grid.days = append(grid.days, day)
	}
	return grid
}

// labelCell picks the dominant event for one cell: an owned event wins over
// an external one when both overlap; otherwise the event covering more of
// the cell wins.
func labelCell(cs, ce time.Time, events []calendarApp.Event) gridCell {
	var best *calendarApp.Event
	var bestCover time.Duration
	anyOwned := false

	for i := range events {
		ev := &events[i]
		if !ev.Start.Before(ce) || !ev.End.After(cs) {
			continue
		}
		cover := minTime(ev.End, ce).Sub(maxTime(ev.Start, cs))
		if ev.IsOwned() {
			if !anyOwned || cover > bestCover {
				best, bestCover = ev, cover
			}
			anyOwned = true
			continue
		}
		if !anyOwned && cover > bestCover {
			best, bestCover = ev, cover
		}
	}

	if best == nil {
		return gridCell{state: CellFree}
	}
	if best.IsOwned() {
		return gridCell{state: CellOwned, eventID: best.ID, captureID: best.CaptureID()}
	}
	return gridCell{state: CellExternal, eventID: best.ID}
}

// Start returns the grid's first covered instant.
func (g *OccupancyGrid) Start() time.Time {
	if len(g.days) == 0 {
		return time.Time{}
	}
	return g.days[0].start
}

// End returns the grid's last covered instant.
func (g *OccupancyGrid) End() time.Time {
	if len(g.days) == 0 {
		return time.Time{}
	}
	return g.days[len(g.days)-1].end
}

// DayStats returns per-day occupancy summaries.
func (g *OccupancyGrid) DayStats() []GridDayStats {
	stats := make([]GridDayStats, 0, len(g.days))
	for _, day := range g.days {
		s := GridDayStats{Date: day.start}
		for _, c := range day.cells {
			switch c.state {
			case CellFree:
				s.FreeMinutes += g.cellMinutes
			case CellOwned:
				s.OwnedMinutes += g.cellMinutes
			case CellExternal:
				s.ExternalMinutes += g.cellMinutes
			}
		}
		stats = append(stats, s)
	}
	return stats
}

// StatsBetween aggregates occupancy over [ws, we).
func (g *OccupancyGrid) StatsBetween(ws, we time.Time) GridDayStats {
	var s GridDayStats
	g.scanCells(ws, we, func(_ time.Time, c gridCell) {
		switch c.state {
		case CellFree:
			s.FreeMinutes += g.cellMinutes
		case CellOwned:
			s.OwnedMinutes += g.cellMinutes
		case CellExternal:
			s.ExternalMinutes += g.cellMinutes
		}
	})
	return s
}

// CollectWindowCandidates returns runs of consecutive non-external cells
// within [ws, we) long enough to hold durationMinutes, earliest first,
// capped at limit. Owned occupancy inside each run is broken down so the
// preemption evaluator can score displacement sets.
func (g *OccupancyGrid) CollectWindowCandidates(durationMinutes int, ws, we time.Time, limit int) []GridWindowCandidate {
	cellsNeeded := (durationMinutes + g.cellMinutes - 1) / g.cellMinutes
	if cellsNeeded < 1 {
		cellsNeeded = 1
	}
	cellDur := time.Duration(g.cellMinutes) * time.Minute

	var out []GridWindowCandidate
	for _, day := range g.days {
		for i := 0; i+cellsNeeded <= len(day.cells); i++ {
			start := day.start.Add(time.Duration(i) * cellDur)
			end := start.Add(time.Duration(cellsNeeded) * cellDur)
			if start.Before(ws) || end.After(we) || end.After(day.end) {
				continue
			}

			cand := GridWindowCandidate{
				Slot:                  domain.TimeSlot{Start: start, End: end},
				OwnedMinutesByCapture: make(map[uuid.UUID]int),
			}
			feasible := true
			seenEvents := make(map[string]struct{})
			for j := i; j < i+cellsNeeded; j++ {
				c := day.cells[j]
				switch c.state {
				case CellExternal:
					feasible = false
				case CellOwned:
					cand.OwnedMinutes += g.cellMinutes
					cand.OwnedMinutesByCapture[c.captureID] += g.cellMinutes
					if _, ok := seenEvents[c.eventID]; !ok {
						seenEvents[c.eventID] = struct{}{}
						cand.OwnedEventIDs = append(cand.OwnedEventIDs, c.eventID)
					}
				case CellFree:
					cand.FreeMinutes += g.cellMinutes
				}
				if !feasible {
					break
				}
			}
			if !feasible {
				continue
			}
			out = append(out, cand)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func (g *OccupancyGrid) scanCells(ws, we time.Time, fn func(cellStart time.Time, c gridCell)) {
	cellDur := time.Duration(g.cellMinutes) * time.Minute
	for _, day := range g.days {
		for i, c := range day.cells {
			cs := day.start.Add(time.Duration(i) * cellDur)
			if cs.Before(ws) || cs.Add(cellDur).After(we) {
				continue
			}
			fn(cs, c)
		}
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
