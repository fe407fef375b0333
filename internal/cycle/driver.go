package cycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"raceline/internal/catalog"
	"raceline/internal/horses"
	"raceline/internal/raceconfig"
	"raceline/internal/rng"
	"raceline/internal/telemetry"
	"raceline/logging"
)

// Clock abstracts wall-clock reads so the driver can be driven by a fake
// clock in tests. Satisfied by logging.Clock.
type Clock = logging.Clock

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// DriftWarnThresholdMs is the |drift| magnitude that triggers a logged
// warning without interrupting the tick loop (spec.md §4.5, §7).
const DriftWarnThresholdMs = 5

// Hooks are the driver's only suspension-free notification points. None of
// them may block: the tick loop never awaits persistence or network
// (spec.md §5); callers enqueue work for other goroutines to drain.
type Hooks struct {
	OnPhase     func(phase Phase, race *Race)
	OnTick      func(tickIndex int, race *Race)
	OnFinish    func(race *Race)
	OnDrift     func(driftMs float64)
	OnTransErr  func(err *TransitionError)
}

// Config configures a Driver.
type Config struct {
	Switches  raceconfig.EnvSwitches
	Roster    []horses.Seed
	Catalog   *catalog.Catalog
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Clock     Clock
	Hooks     Hooks
}

// Driver runs the phase state machine and, during race_running, the
// fixed-rate tick loop. It owns the mutable cycle seed and the currently
// active precomputed race; readers see published snapshots only
// (spec.md §5 "Shared resources").
type Driver struct {
	cfg Config

	mu       sync.RWMutex
	phase    Phase
	cycleN   uint64
	current  *Race
	previous *Race

	tickIndex atomic.Int64 // -1 when no race is running

	clock     Clock
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
}

// New constructs a Driver in PhaseIdle.
func New(cfg Config) *Driver {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	d := &Driver{
		cfg:       cfg,
		phase:     PhaseIdle,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
	}
	d.tickIndex.Store(-1)
	return d
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.phase
}

// CurrentRace returns the currently active precomputed race, or nil.
func (d *Driver) CurrentRace() *Race {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// PreviousRace returns the prior cycle's race record, or nil.
func (d *Driver) PreviousRace() *Race {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.previous
}

// CurrentTickIndex is the authoritative clock (spec.md §4.5): all
// consumers derive elapsed time from tickIndex*tickMs, never from
// wall-clock-derived progress. -1 means no race is currently running.
func (d *Driver) CurrentTickIndex() int64 {
	return d.tickIndex.Load()
}

// Resume seeds the driver's cycle state from a retrievable precomputed
// record after a process restart (spec.md §7 "Recovery after process
// restart"): it installs race as the current race in race_running and sets
// the tick index to atTick. It does not start the tick loop; no ticks are
// emitted for the resumed race.
func (d *Driver) Resume(race *Race, atTick int) {
	d.mu.Lock()
	d.current = race
	d.phase = PhaseRaceRunning
	d.cycleN = race.CycleN
	d.mu.Unlock()
	d.tickIndex.Store(int64(atTick))
}

func (d *Driver) transition(to Phase) error {
	d.mu.Lock()
	from := d.phase
	want, ok := nextPhase(from)
	if !ok || want != to {
		d.mu.Unlock()
		err := &TransitionError{From: from, To: to}
		if d.cfg.Hooks.OnTransErr != nil {
			d.cfg.Hooks.OnTransErr(err)
		}
		d.logger.Printf("%v", err)
		return err
	}
	d.phase = to
	race := d.current
	d.mu.Unlock()

	if d.cfg.Hooks.OnPhase != nil {
		d.cfg.Hooks.OnPhase(to, race)
	}
	d.publisher.Publish(context.Background(), logging.Event{
		Type:     "cycle.transition",
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCycle,
		Payload:  map[string]string{"from": string(from), "to": string(to)},
	})
	return nil
}

// Run drives the cycle indefinitely until ctx is cancelled. Cancellation
// stops the loop at the next boundary without emitting further frames
// (spec.md §4.5 "Cancellation supported by an external stop signal").
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := d.waitForSecond(ctx, 27); err != nil {
			return err
		}
		if err := d.beginCycle(); err != nil {
			d.logger.Printf("cycle: precompute failed: %v", err)
			// Determinism violations abort the cycle; the driver returns to
			// idle at the next boundary rather than wedging (spec.md §7).
			if err := d.waitForSecond(ctx, 0); err != nil {
				return err
			}
			continue
		}

		if err := d.waitForSecond(ctx, 30); err != nil {
			return err
		}
		if err := d.startRace(); err != nil {
			return err
		}

		if err := d.runTickLoop(ctx); err != nil {
			return err
		}

		d.finishRace()

		if err := d.waitForSecond(ctx, 0); err != nil {
			return err
		}
		if err := d.endCycle(); err != nil {
			return err
		}
	}
}

// beginCycle runs at second 27: assign a new cycle seed, precompute the
// race, and transition idle -> countdown.
func (d *Driver) beginCycle() error {
	d.mu.Lock()
	d.cycleN++
	n := d.cycleN
	d.mu.Unlock()

	seed := fmt.Sprintf("cycle-%d", n)
	raceID := fmt.Sprintf("race-%d", n)
	_ = rng.HashSeed(seed) // documented call order: derive once, consumed inside Precompute

	precomputeStart := d.clock.Now()
	race, err := Precompute(raceID, seed, n, d.cfg.Switches, d.cfg.Roster, d.cfg.Catalog)
	if d.metrics != nil {
		d.metrics.Store("cycle_precompute_duration_ms", uint64(d.clock.Now().Sub(precomputeStart).Milliseconds()))
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.current = race
	d.mu.Unlock()

	return d.transition(PhaseCountdown)
}

// startRace binds the race's start time at second 30 and transitions
// countdown -> race_starting -> race_running.
func (d *Driver) startRace() error {
	if err := d.transition(PhaseRaceStarting); err != nil {
		return err
	}
	now := d.clock.Now()
	d.mu.Lock()
	if d.current != nil {
		bindStart(d.current, now)
	}
	d.mu.Unlock()
	d.tickIndex.Store(0)
	return d.transition(PhaseRaceRunning)
}

// runTickLoop emits one tick every tickMs, drift-corrected by advancing
// plannedNextTick by tickMs rather than by now+tickMs, so missed ticks are
// compensated rather than compounding (spec.md §4.5). No tick may suspend:
// OnTick must not block on network or persistence.
func (d *Driver) runTickLoop(ctx context.Context) error {
	race := d.CurrentRace()
	if race == nil {
		return fmt.Errorf("cycle: runTickLoop: no active race")
	}
	tickMs := race.Config.TickMs
	if tickMs <= 0 {
		tickMs = 50
	}
	period := time.Duration(tickMs) * time.Millisecond
	totalTicks := race.TotalTicks()

	if d.metrics != nil {
		d.metrics.Store("cycle_tick_rate_hz", uint64(1000/tickMs))
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	plannedNextTick := d.clock.Now().Add(period)
	tick := 0
	d.emitTick(race, tick)

	for tick < totalTicks-1 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := d.clock.Now()
			driftMs := now.Sub(plannedNextTick).Seconds() * 1000
			if driftMs < 0 {
				driftMs = -driftMs
			}
			if d.metrics != nil {
				d.metrics.Store("cycle_drift_ms_last", uint64(driftMs))
			}
			if driftMs > DriftWarnThresholdMs {
				d.reportDrift(driftMs)
			}
			plannedNextTick = plannedNextTick.Add(period)

			tick++
			d.emitTick(race, tick)
		}
	}
	return nil
}

func (d *Driver) emitTick(race *Race, tick int) {
	d.tickIndex.Store(int64(tick))
	if d.cfg.Hooks.OnTick != nil {
		d.cfg.Hooks.OnTick(tick, race)
	}
}

func (d *Driver) reportDrift(driftMs float64) {
	if d.cfg.Hooks.OnDrift != nil {
		d.cfg.Hooks.OnDrift(driftMs)
	}
	d.publisher.Publish(context.Background(), logging.Event{
		Type:     "cycle.drift",
		Severity: logging.SeverityWarn,
		Category: logging.CategoryCycle,
		Payload:  map[string]float64{"driftMs": driftMs},
	})
}

// finishRace transitions race_running -> race_finished and notifies
// OnFinish so persistence and the finish frame can be dispatched off the
// tick path.
func (d *Driver) finishRace() {
	if err := d.transition(PhaseRaceFinished); err != nil {
		return
	}
	race := d.CurrentRace()
	if d.cfg.Hooks.OnFinish != nil {
		d.cfg.Hooks.OnFinish(race)
	}
	_ = d.transition(PhaseResultsShowing)
}

// endCycle runs at the 59->0 wraparound: results_showing -> idle, clearing
// the active seed and retiring the race to "previous".
func (d *Driver) endCycle() error {
	d.mu.Lock()
	d.previous = d.current
	d.current = nil
	d.mu.Unlock()
	d.tickIndex.Store(-1)
	return d.transition(PhaseIdle)
}

// waitForSecond blocks until the wall clock's second-of-minute next equals
// target, or ctx is cancelled.
func (d *Driver) waitForSecond(ctx context.Context, target int) error {
	now := d.clock.Now()
	wait := untilSecond(now, target)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func untilSecond(now time.Time, target int) time.Duration {
	currentSecond := now.Second()
	if currentSecond == target {
		return 0
	}
	delta := target - currentSecond
	if delta < 0 {
		delta += 60
	}
	candidate := now.Add(time.Duration(delta) * time.Second)
	candidate = candidate.Truncate(time.Second)
	d := candidate.Sub(now)
	if d <= 0 {
		d += 60 * time.Second
	}
	return d
}
