package raceconfig

import (
	"os"
	"strconv"

	"raceline/internal/rng"
	"raceline/internal/telemetry"
)

// EnvSwitches holds every recognized environment option from spec.md §6,
// parsed once at process start.
type EnvSwitches struct {
	TickMs                int
	DurationMs            int
	TrackLength           float64
	FinishRatio           float64
	KeyframeIntervalTicks int
	BackpressureThreshold int64
	PingIntervalMs        int
	SigningEnabled        bool
	RequireToken          bool
	PersistenceBackend    string
}

// DefaultEnvSwitches mirrors the documented defaults.
func DefaultEnvSwitches() EnvSwitches {
	return EnvSwitches{
		TickMs:                50,
		DurationMs:            20000,
		TrackLength:           1000,
		FinishRatio:           1.0,
		KeyframeIntervalTicks: 20,
		BackpressureThreshold: 1_000_000,
		PingIntervalMs:        30000,
		SigningEnabled:        false,
		RequireToken:          false,
		PersistenceBackend:    "file",
	}
}

// LoadEnvSwitches parses the environment the way internal/app parses
// ENABLE_PPROF_TRACE: typed parse with a logged fallback to the prior value
// on error, never a fatal exit.
func LoadEnvSwitches(logger telemetry.Logger) EnvSwitches {
	s := DefaultEnvSwitches()
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	if raw := os.Getenv("TICK_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			s.TickMs = v
		} else {
			logger.Printf("invalid TICK_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("DURATION_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			s.DurationMs = v
		} else {
			logger.Printf("invalid DURATION_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("TRACK_LENGTH"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.TrackLength = v
		} else {
			logger.Printf("invalid TRACK_LENGTH=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("FINISH_RATIO"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.FinishRatio = v
		} else {
			logger.Printf("invalid FINISH_RATIO=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("KEYFRAME_INTERVAL_TICKS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			s.KeyframeIntervalTicks = v
		} else {
			logger.Printf("invalid KEYFRAME_INTERVAL_TICKS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("WS_BACKPRESSURE_THRESHOLD"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.BackpressureThreshold = v
		} else {
			logger.Printf("invalid WS_BACKPRESSURE_THRESHOLD=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("PING_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			s.PingIntervalMs = v
		} else {
			logger.Printf("invalid PING_INTERVAL_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SIGNING_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			s.SigningEnabled = v
		} else {
			logger.Printf("invalid SIGNING_ENABLED=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("REQUIRE_TOKEN"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			s.RequireToken = v
		} else {
			logger.Printf("invalid REQUIRE_TOKEN=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("PERSISTENCE_BACKEND"); raw != "" {
		s.PersistenceBackend = raw
	}
	return s
}

// ToConfig builds a race Config from the switches and a freshly derived
// cycle seed.
func (s EnvSwitches) ToConfig(seed string) Config {
	cfg := Config{
		Seed:        seed,
		SeedValue:   rng.HashSeed(seed),
		TrackLength: s.TrackLength,
		FinishRatio: s.FinishRatio,
		DurationMs:  s.DurationMs,
		TickMs:      s.TickMs,
	}
	return cfg.normalized()
}
