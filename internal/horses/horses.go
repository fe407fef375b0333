// Package horses defines the fixed per-race roster seed data (spec.md data
// model "Horse seed"). It carries no behavior of its own; path construction,
// event targeting, and the final matrix live in internal/pathbuilder,
// internal/scheduler, and internal/applier respectively.
package horses

import (
	"sort"

	"raceline/internal/rng"
)

// Seed describes one horse entering a race.
type Seed struct {
	ID            string
	DisplayName   string
	BaseSpeed     float64 // m/s
	AccelVariance float64 // m/s, curve-shaping amplitude only
	RNGSeed       uint32
	Silks         string // cosmetic display-only field, never affects determinism
}

// DefaultRoster returns the default ten-horse field, ordered by id, matching
// spec.md's "Fixed field count (default 10)".
func DefaultRoster() []Seed {
	roster := []Seed{
		{ID: "h01", DisplayName: "Anchor Point", BaseSpeed: 16.8, AccelVariance: 1.2, Silks: "navy/gold chevron"},
		{ID: "h02", DisplayName: "Breakwater", BaseSpeed: 17.1, AccelVariance: 1.0, Silks: "scarlet hoops"},
		{ID: "h03", DisplayName: "Chalk Line", BaseSpeed: 16.5, AccelVariance: 1.4, Silks: "emerald diamond"},
		{ID: "h04", DisplayName: "Driftwood", BaseSpeed: 17.4, AccelVariance: 0.9, Silks: "black/white stripe"},
		{ID: "h05", DisplayName: "Ember Run", BaseSpeed: 16.9, AccelVariance: 1.3, Silks: "orange sash"},
		{ID: "h06", DisplayName: "Foxglove", BaseSpeed: 17.0, AccelVariance: 1.1, Silks: "violet spots"},
		{ID: "h07", DisplayName: "Gale Marker", BaseSpeed: 17.3, AccelVariance: 1.0, Silks: "silver cross"},
		{ID: "h08", DisplayName: "Harbor Light", BaseSpeed: 16.6, AccelVariance: 1.5, Silks: "teal band"},
		{ID: "h09", DisplayName: "Ironbark", BaseSpeed: 17.2, AccelVariance: 0.8, Silks: "maroon quarters"},
		{ID: "h10", DisplayName: "Juniper Field", BaseSpeed: 16.7, AccelVariance: 1.2, Silks: "gold bar"},
	}
	return WithSeeds(roster, "cycle-0")
}

// WithSeeds derives each horse's per-horse rngSeed from the cycle seed and
// returns the roster sorted by id, per spec.md's "Ordered by id" invariant.
func WithSeeds(roster []Seed, cycleSeed string) []Seed {
	out := make([]Seed, len(roster))
	copy(out, roster)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i := range out {
		out[i].RNGSeed = hashSeedFor(cycleSeed, out[i].ID)
	}
	return out
}

func hashSeedFor(cycleSeed, horseID string) uint32 {
	return rng.HashSeed(cycleSeed + "\x00horse\x00" + horseID)
}
