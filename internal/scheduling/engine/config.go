// Package engine implements the pure scheduling algorithms: time and zone
// utilities, the priority model, busy intervals, the occupancy grid,
// constraint resolution, routine normalization, chunk planning, slot search,
// and the preemption and overlap evaluators. Everything here is
// deterministic given a SchedulerConfig, a clock reading and a set of
// calendar events; I/O stays in the application layer.
package engine

// RoutineScaler dampens routine priority so fixed routines never crowd out
// real work.
type RoutineScaler struct {
	Scale float64
	Cap   float64
}

// OverlapPolicy bounds concurrent placement of two owned captures.
type OverlapPolicy struct {
	Enabled            bool
	MaxConcurrency     int
	PerTaskFraction    float64
	DailyBudgetMinutes int
	SoftCostPerMinute  float64
}

// PreemptionPolicy bounds displacement of owned events.
type PreemptionPolicy struct {
	NetGainFloor        float64
	PerMinuteGainFloor  float64
	MaxDisplacedMinutes int
	MaxDisplacedTasks   int
}

// SchedulerConfig carries every engine knob. It is passed by value into the
// orchestrator; there are no ambient globals.
type SchedulerConfig struct {
	BufferMinutes           int
	CompressedBufferMinutes int
	SearchDays              int
	SlotIncrementMinutes    int
	WorkingStartHour        int
	DayEndHour              int
	StabilityWindowMinutes  int
	DefaultMinChunkMinutes  int
	TargetChunkMinutes      int

	SleepScaler RoutineScaler
	MealScaler  RoutineScaler

	// Routine window rules, in local wall time.
	SleepStartHour  int
	SleepEndHour    int
	SleepEndMinute  int
	MealStartHour   int
	MealEndHour     int

	Overlap    OverlapPolicy
	Preemption PreemptionPolicy
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BufferMinutes:           10,
		CompressedBufferMinutes: 5,
		SearchDays:              7,
		SlotIncrementMinutes:    15,
		WorkingStartHour:        8,
		DayEndHour:              22,
		StabilityWindowMinutes:  30,
		DefaultMinChunkMinutes:  15,
		TargetChunkMinutes:      50,

		SleepScaler: RoutineScaler{Scale: 0.7, Cap: 70},
		MealScaler:  RoutineScaler{Scale: 0.5, Cap: 55},

		SleepStartHour: 22,
		SleepEndHour:   7,
		SleepEndMinute: 30,
		MealStartHour:  12,
		MealEndHour:    14,

		Overlap: OverlapPolicy{
			Enabled:            true,
			MaxConcurrency:     2,
			PerTaskFraction:    0.5,
			DailyBudgetMinutes: 120,
			SoftCostPerMinute:  0.2,
		},
		Preemption: PreemptionPolicy{
			NetGainFloor:        10,
			PerMinuteGainFloor:  0.1,
			MaxDisplacedMinutes: 240,
			MaxDisplacedTasks:   4,
		},
	}
}
