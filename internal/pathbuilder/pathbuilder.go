// Package pathbuilder constructs each horse's deterministic base speed
// curve and integrates it into a per-tick position path (spec.md §4.2,
// component C2). Integration follows the teacher's movement idiom
// (position += speed * dt per tick) generalized from 2D player movement to
// 1D track progress.
package pathbuilder

import (
	"raceline/internal/horses"
	"raceline/internal/raceconfig"
	"raceline/internal/rng"
)

// Tick is one horse's base state at one tick index (spec.md "Base tick").
type Tick struct {
	Position float64 // meters
	Speed    float64 // m/s
}

// Path is one horse's full base tick series plus its finish metadata.
type Path struct {
	HorseID    string
	Ticks      []Tick // length totalTicks
	Finished   bool
	FinishTick int     // index of first tick at/after the finish line
	FinishMs   float64 // interpolated crossing time in milliseconds
}

// control point percentages of the race, per spec.md §4.2 step 1.
var controlPercents = [5]float64{0, 0.15, 0.50, 0.85, 1.0}

// factor bands per control point: slow start, mid dip, recovery, late
// sprint. Each band is [lo, hi) multiplying baseSpeed.
var factorBands = [4][2]float64{
	{0.70, 0.90}, // slow start
	{0.60, 0.80}, // mid dip
	{0.90, 1.10}, // recovery
	{1.10, 1.35}, // late sprint
}

const (
	minSpeedFloor  = 0.5 // m/s, never fall below a crawl
	maxSpeedCeilMu = 3.0 // multiple of baseSpeed the clamp ceiling allows
)

// Build constructs the base path for one horse using its own RNG stream,
// scoped by internal/rng.ForRole so that horse h's draws never collide with
// any other horse's or with the event scheduler's stream.
func Build(cfg raceconfig.Config, h horses.Seed) Path {
	stream := rng.ForRole(cfg.Seed, "path:"+h.ID)

	values := [5]float64{h.BaseSpeed, 0, 0, 0, 0}
	for i, band := range factorBands {
		factor := band[0] + stream.Float64()*(band[1]-band[0])
		values[i+1] = h.BaseSpeed * factor
	}

	floor := minSpeedFloor
	if v := h.BaseSpeed - h.AccelVariance; v > floor {
		floor = v
	}
	ceil := h.BaseSpeed * maxSpeedCeilMu
	if v := h.BaseSpeed + 2*h.AccelVariance; v < ceil {
		ceil = v
	}

	totalTicks := cfg.TotalTicks
	speeds := make([]float64, totalTicks)
	for i := 0; i < totalTicks; i++ {
		t := 0.0
		if totalTicks > 1 {
			t = float64(i) / float64(totalTicks-1)
		}
		speeds[i] = clamp(curveValue(t, values), floor, ceil)
	}

	ticks := make([]Tick, totalTicks)
	path := Path{HorseID: h.ID, Ticks: ticks, FinishTick: totalTicks - 1}

	dtSeconds := float64(cfg.TickMs) / 1000.0
	pos := 0.0
	ticks[0] = Tick{Position: 0, Speed: speeds[0]}
	for i := 0; i < totalTicks-1; i++ {
		candidate := pos + speeds[i]*dtSeconds
		if !path.Finished && candidate >= cfg.FinishLine {
			// exact crossing time within this tick window
			frac := 1.0
			if candidate != pos {
				frac = (cfg.FinishLine - pos) / (candidate - pos)
			}
			path.Finished = true
			path.FinishTick = i + 1
			path.FinishMs = float64(i)*float64(cfg.TickMs) + frac*float64(cfg.TickMs)
		}
		if candidate > cfg.FinishLine {
			candidate = cfg.FinishLine
		}
		pos = candidate
		ticks[i+1] = Tick{Position: pos, Speed: speeds[i+1]}
	}
	if !path.Finished {
		path.FinishTick = totalTicks - 1
		path.FinishMs = float64(totalTicks-1) * float64(cfg.TickMs)
	}
	return path
}

// curveValue evaluates the piecewise-eased curve at normalized position t.
func curveValue(t float64, values [5]float64) float64 {
	for seg := 0; seg < 4; seg++ {
		lo, hi := controlPercents[seg], controlPercents[seg+1]
		if t <= hi || seg == 3 {
			local := 0.0
			if hi > lo {
				local = (t - lo) / (hi - lo)
			}
			if local < 0 {
				local = 0
			}
			if local > 1 {
				local = 1
			}
			eased := ease(seg, local)
			return values[seg] + (values[seg+1]-values[seg])*eased
		}
	}
	return values[4]
}

// ease applies the fixed per-segment easing named in spec.md §4.2 step 1:
// ease-out, ease-in-out, ease-out, ease-in.
func ease(segment int, t float64) float64 {
	switch segment {
	case 0, 2: // ease-out
		return 1 - (1-t)*(1-t)
	case 1: // ease-in-out
		if t < 0.5 {
			return 2 * t * t
		}
		return 1 - pow2(-2*t+2)/2
	default: // ease-in
		return t * t
	}
}

func pow2(v float64) float64 { return v * v }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
