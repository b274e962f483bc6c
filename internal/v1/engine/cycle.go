package engine

import (
	"fmt"
	"time"
)

// CycleUnit is the unit a task's cadence is declared in.
type CycleUnit int

const (
	// Ticks counts engine iterations.
	Ticks CycleUnit = iota
	// Milliseconds counts wall-clock milliseconds.
	Milliseconds
	// Seconds counts wall-clock seconds.
	Seconds
)

func (u CycleUnit) String() string {
	switch u {
	case Ticks:
		return "ticks"
	case Milliseconds:
		return "milliseconds"
	case Seconds:
		return "seconds"
	default:
		return "unknown"
	}
}

// CycleRate declares how often a task runs.
type CycleRate struct {
	Value int64
	Unit  CycleUnit
}

// EveryTicks runs a task every n engine iterations.
func EveryTicks(n int64) CycleRate { return CycleRate{Value: n, Unit: Ticks} }

// EveryMillis runs a task every n milliseconds.
func EveryMillis(n int64) CycleRate { return CycleRate{Value: n, Unit: Milliseconds} }

// EverySeconds runs a task every n seconds.
func EverySeconds(n int64) CycleRate { return CycleRate{Value: n, Unit: Seconds} }

// normalize converts a declared rate into a wall-clock interval against the
// engine rate. Rates faster than the engine itself cannot be honored.
func (r CycleRate) normalize(engineRate time.Duration) (time.Duration, error) {
	if r.Value <= 0 {
		return 0, fmt.Errorf("cycle rate value must be positive, got %d", r.Value)
	}
	var interval time.Duration
	switch r.Unit {
	case Ticks:
		interval = time.Duration(r.Value) * engineRate
	case Milliseconds:
		interval = time.Duration(r.Value) * time.Millisecond
	case Seconds:
		interval = time.Duration(r.Value) * time.Second
	default:
		return 0, fmt.Errorf("unknown cycle unit %d", r.Unit)
	}
	if interval < engineRate {
		return 0, fmt.Errorf("cycle rate %s is faster than the engine rate %s", interval, engineRate)
	}
	return interval, nil
}
