package cycle

import (
	"fmt"
	"time"

	"raceline/internal/applier"
	"raceline/internal/catalog"
	"raceline/internal/horses"
	"raceline/internal/pathbuilder"
	"raceline/internal/raceconfig"
	"raceline/internal/scheduler"
)

// Precompute runs the full deterministic pipeline for one cycle: base path
// construction (C2), event timeline placement (C3), and the per-tick fold
// (C4). It is a pure function of cycleSeed, switches, roster, and cat;
// given the same inputs it produces a bit-identical Race on every process
// (spec.md §8 P1).
func Precompute(raceID, cycleSeed string, cycleN uint64, switches raceconfig.EnvSwitches, roster []horses.Seed, cat *catalog.Catalog) (*Race, error) {
	cfg := switches.ToConfig(cycleSeed)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cycle: precompute: %w", err)
	}

	seeded := horses.WithSeeds(roster, cycleSeed)

	paths := make([]pathbuilder.Path, len(seeded))
	for i, h := range seeded {
		paths[i] = pathbuilder.Build(cfg, h)
	}

	phases := scheduler.DefaultPhases()
	timeline := scheduler.Build(cfg, cat, phases)

	result, err := applier.Apply(raceID, cycleSeed, paths, timeline, cat, cfg.TickMs)
	if err != nil {
		return nil, fmt.Errorf("cycle: precompute: %w", err)
	}

	return &Race{
		RaceID:    raceID,
		CycleSeed: cycleSeed,
		CycleN:    cycleN,
		Config:    cfg,
		Horses:    seeded,
		Paths:     paths,
		Timeline:  timeline,
		Matrix:    result.Matrix,
		Outcome:   result.Outcome,
		Warnings:  result.Warnings,
	}, nil
}

// bindStart stamps the wall-clock start/end times used only for display
// (spec.md's /current endpoint); it never feeds the deterministic pipeline.
func bindStart(r *Race, start time.Time) {
	r.StartTime = start
	r.EndTime = start.Add(time.Duration(r.Config.DurationMs) * time.Millisecond)
}
