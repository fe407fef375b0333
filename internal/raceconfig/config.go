// Package raceconfig holds the immutable race configuration and the
// environment-switch parsing that produces it, mirroring the way the
// teacher's process wiring reads typed options from the environment with
// logged fallback on parse error.
package raceconfig

import "fmt"

// Config is the immutable per-race configuration (spec.md data model
// "Race configuration"). TotalTicks is derived once at construction.
type Config struct {
	Seed           string
	SeedValue      uint32
	TrackLength    float64 // meters
	FinishRatio    float64 // fraction in (0,1]
	DurationMs     int
	TickMs         int
	TotalTicks     int
	FinishLine     float64
}

// Default matches spec.md §6's documented defaults.
func Default(seed string, seedValue uint32) Config {
	cfg := Config{
		Seed:        seed,
		SeedValue:   seedValue,
		TrackLength: 1000,
		FinishRatio: 1.0,
		DurationMs:  20000,
		TickMs:      50,
	}
	return cfg.normalized()
}

func (c Config) normalized() Config {
	n := c
	if n.TrackLength <= 0 {
		n.TrackLength = 1000
	}
	if n.FinishRatio <= 0 || n.FinishRatio > 1 {
		n.FinishRatio = 1.0
	}
	if n.DurationMs <= 0 {
		n.DurationMs = 20000
	}
	if n.TickMs <= 0 {
		n.TickMs = 50
	}
	n.TotalTicks = n.DurationMs/n.TickMs + 1
	n.FinishLine = n.TrackLength * n.FinishRatio
	return n
}

// Validate reports a configuration error without panicking; callers decide
// whether to fall back to defaults or abort the cycle.
func (c Config) Validate() error {
	if c.TotalTicks < 2 {
		return fmt.Errorf("raceconfig: totalTicks must be >= 2, got %d", c.TotalTicks)
	}
	if c.FinishLine <= 0 {
		return fmt.Errorf("raceconfig: finishLine must be positive, got %v", c.FinishLine)
	}
	return nil
}
