// Package cycle implements the 60-second phase state machine and the
// fixed-rate tick driver (spec.md §4.5, component C5). It triggers the
// precompute pipeline (internal/pathbuilder, internal/scheduler,
// internal/applier) once per cycle and then walks the frozen result one
// tick at a time; no precompute work is ever allowed on the tick path.
package cycle

import (
	"fmt"
	"time"

	"raceline/internal/applier"
	"raceline/internal/horses"
	"raceline/internal/pathbuilder"
	"raceline/internal/raceconfig"
	"raceline/internal/scheduler"
)

// Phase is one of the six states of the cycle state machine (spec.md §4.5).
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCountdown      Phase = "countdown"
	PhaseRaceStarting   Phase = "race_starting"
	PhaseRaceRunning    Phase = "race_running"
	PhaseRaceFinished   Phase = "race_finished"
	PhaseResultsShowing Phase = "results_showing"
)

// allowedTransitions encodes the strict cycle spec.md §4.5 names. Any
// transition not listed here is a programming error.
var allowedTransitions = map[Phase]Phase{
	PhaseIdle:           PhaseCountdown,
	PhaseCountdown:      PhaseRaceStarting,
	PhaseRaceStarting:   PhaseRaceRunning,
	PhaseRaceRunning:    PhaseRaceFinished,
	PhaseRaceFinished:   PhaseResultsShowing,
	PhaseResultsShowing: PhaseIdle,
}

// TransitionError marks an attempted phase transition outside the strict
// cycle, per spec.md §7 "Transition violation". The driver refuses the
// transition and logs; it never panics.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cycle: invalid transition %s -> %s", e.From, e.To)
}

// nextPhase returns the single legal successor of from, with ok false if
// from is not a recognized phase.
func nextPhase(from Phase) (Phase, bool) {
	to, ok := allowedTransitions[from]
	return to, ok
}

// Race is one cycle's immutable precomputed record: the frozen output of
// C2+C3+C4, plus display metadata. Every field reachable from Race is
// deeply immutable after Precompute returns; mutation is a programming
// error (spec.md §3 "Ownership").
type Race struct {
	RaceID    string
	CycleSeed string
	CycleN    uint64
	Config    raceconfig.Config
	Horses    []horses.Seed
	Paths     []pathbuilder.Path
	Timeline  *scheduler.Timeline
	Matrix    applier.Matrix
	Outcome   applier.Outcome
	Warnings  []applier.Warning

	StartTime time.Time // wall-clock bind time, display only, never drives ticks
	EndTime   time.Time
}

// TotalTicks is a convenience accessor mirroring spec.md's tick-grid size.
func (r *Race) TotalTicks() int {
	if r == nil {
		return 0
	}
	return r.Config.TotalTicks
}

// TickSlice returns the final tick states at tick, or nil if out of range.
func (r *Race) TickSlice(tick int) []applier.FinalTickState {
	if r == nil || tick < 0 || tick >= len(r.Matrix) {
		return nil
	}
	return r.Matrix[tick]
}
