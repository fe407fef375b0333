package cycle

import (
	"context"
	"testing"
	"time"

	"raceline/internal/catalog"
	"raceline/internal/horses"
	"raceline/internal/raceconfig"
	"raceline/internal/telemetry"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default(nil)
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return cat
}

func TestPrecomputeDeterministic(t *testing.T) {
	cat := testCatalog(t)
	roster := horses.DefaultRoster()
	switches := raceconfig.DefaultEnvSwitches()

	a, err := Precompute("race-1", "cycle-1", 1, switches, roster, cat)
	if err != nil {
		t.Fatalf("precompute a: %v", err)
	}
	b, err := Precompute("race-1", "cycle-1", 1, switches, roster, cat)
	if err != nil {
		t.Fatalf("precompute b: %v", err)
	}

	if a.Outcome.Checksum != b.Outcome.Checksum {
		t.Fatalf("checksum mismatch: %s != %s", a.Outcome.Checksum, b.Outcome.Checksum)
	}
	if a.Outcome.WinnerID != b.Outcome.WinnerID {
		t.Fatalf("winner mismatch: %s != %s", a.Outcome.WinnerID, b.Outcome.WinnerID)
	}
	if a.TotalTicks() != 401 {
		t.Fatalf("expected 401 ticks for S1 defaults, got %d", a.TotalTicks())
	}
}

func TestNextPhaseStrictCycle(t *testing.T) {
	order := []Phase{
		PhaseIdle, PhaseCountdown, PhaseRaceStarting, PhaseRaceRunning,
		PhaseRaceFinished, PhaseResultsShowing, PhaseIdle,
	}
	for i := 0; i < len(order)-1; i++ {
		to, ok := nextPhase(order[i])
		if !ok || to != order[i+1] {
			t.Fatalf("nextPhase(%s) = %s, %v; want %s", order[i], to, ok, order[i+1])
		}
	}
}

func TestNextPhaseRejectsSkip(t *testing.T) {
	if _, ok := nextPhase(PhaseIdle); !ok {
		t.Fatalf("idle should have a successor")
	}
	to, _ := nextPhase(PhaseIdle)
	if to == PhaseRaceRunning {
		t.Fatalf("idle must not be allowed to jump straight to race_running")
	}
}

func TestBeginCycleRecordsPrecomputeDuration(t *testing.T) {
	cat := testCatalog(t)
	metrics := telemetry.NewCounters()
	d := New(Config{
		Switches: raceconfig.DefaultEnvSwitches(),
		Roster:   horses.DefaultRoster(),
		Catalog:  cat,
		Metrics:  metrics,
	})

	if err := d.beginCycle(); err != nil {
		t.Fatalf("beginCycle: %v", err)
	}

	snap := metrics.Snapshot()
	if _, ok := snap["cycle_precompute_duration_ms"]; !ok {
		t.Fatalf("expected cycle_precompute_duration_ms to be recorded, got %v", snap)
	}
}

func TestRunTickLoopRecordsTickRateAndDrift(t *testing.T) {
	cat := testCatalog(t)
	metrics := telemetry.NewCounters()
	switches := raceconfig.DefaultEnvSwitches()
	switches.TickMs = 1
	switches.DurationMs = 3

	d := New(Config{
		Switches: switches,
		Roster:   horses.DefaultRoster(),
		Catalog:  cat,
		Metrics:  metrics,
	})

	if err := d.beginCycle(); err != nil {
		t.Fatalf("beginCycle: %v", err)
	}
	if err := d.startRace(); err != nil {
		t.Fatalf("startRace: %v", err)
	}
	if err := d.runTickLoop(context.Background()); err != nil {
		t.Fatalf("runTickLoop: %v", err)
	}

	snap := metrics.Snapshot()
	if rate, ok := snap["cycle_tick_rate_hz"]; !ok || rate != 1000 {
		t.Fatalf("expected cycle_tick_rate_hz=1000 for a 1ms tick, got %v (ok=%v)", rate, ok)
	}
	if _, ok := snap["cycle_drift_ms_last"]; !ok {
		t.Fatalf("expected cycle_drift_ms_last to be recorded, got %v", snap)
	}
}

func TestUntilSecondWraparound(t *testing.T) {
	base, err := time.Parse(time.RFC3339, "2026-01-01T00:00:58Z")
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	d := untilSecond(base, 0)
	if d <= 0 || d > 60*time.Second {
		t.Fatalf("expected a positive sub-minute wait, got %s", d)
	}
}
