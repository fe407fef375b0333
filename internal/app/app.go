// Package app wires the whole raceline process together, grounded on the
// teacher's internal/app/app.go: build the logging router, read env-switch
// overrides, construct the domain object (there the Hub, here the cycle
// Driver plus its broadcast fabric and HTTP surface), and run an
// http.Server until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"raceline/internal/broadcast"
	"raceline/internal/broadcast/ws"
	"raceline/internal/catalog"
	"raceline/internal/cycle"
	"raceline/internal/horses"
	"raceline/internal/netapi"
	"raceline/internal/observability"
	"raceline/internal/persist"
	"raceline/internal/raceconfig"
	"raceline/internal/telemetry"
	"raceline/logging"
	loggingSinks "raceline/logging/sinks"
)

// Config configures a Run invocation. Every field has a documented
// zero-value fallback so Run(ctx, Config{}) is a valid way to start the
// process with all-default behavior.
type Config struct {
	Logger        telemetry.Logger
	Observability observability.Config
	Addr          string
	PersistRoot   string
}

// Run builds every component, starts the cycle driver, and serves the HTTP
// and WebSocket surface until ctx is cancelled or the server fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	logConfig := logging.DefaultConfig()
	namedSinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	}
	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("app: construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			telemetryLogger.Printf("app: failed to close logging router: %v", cerr)
		}
	}()

	switches := raceconfig.LoadEnvSwitches(telemetryLogger)
	if raw := os.Getenv("ENABLE_PPROF_TRACE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.Observability.EnablePprofTrace = value
		} else {
			telemetryLogger.Printf("app: invalid ENABLE_PPROF_TRACE=%q: %v", raw, err)
		}
	}

	metrics := telemetry.NewCounters()

	cat, err := catalog.Default(router)
	if err != nil {
		return fmt.Errorf("app: load catalog: %w", err)
	}

	var signer *broadcast.Signer
	if switches.SigningEnabled {
		signer, err = broadcast.GenerateSigner()
		if err != nil {
			return fmt.Errorf("app: generate broadcast signer: %w", err)
		}
	}
	fabric := broadcast.NewFabric(broadcast.Config{
		KeyframeIntervalTicks: switches.KeyframeIntervalTicks,
		BackpressureThreshold: switches.BackpressureThreshold,
		Signer:                signer,
		Metrics:               metrics,
		Logger:                telemetryLogger,
		Publisher:             router,
	})

	persistRoot := cfg.PersistRoot
	if persistRoot == "" {
		persistRoot = "data"
	}
	store, err := persist.Open(switches.PersistenceBackend, persistRoot)
	if err != nil {
		return fmt.Errorf("app: open persistence backend: %w", err)
	}
	defer store.Close()

	driver := cycle.New(cycle.Config{
		Switches:  switches,
		Roster:    horses.DefaultRoster(),
		Catalog:   cat,
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
		Hooks: cycle.Hooks{
			OnPhase: func(phase cycle.Phase, race *cycle.Race) {
				if phase == cycle.PhaseRaceStarting && race != nil {
					fabric.BroadcastStart(race)
				}
			},
			OnTick: func(tickIndex int, race *cycle.Race) {
				fabric.BroadcastTick(tickIndex, race)
			},
			OnFinish: func(race *cycle.Race) {
				if race == nil {
					return
				}
				fabric.BroadcastFinish(race)
				go persistRace(ctx, store, race, telemetryLogger)
			},
		},
	})

	go func() {
		if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
			telemetryLogger.Printf("app: cycle driver stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/", netapi.NewHandler(netapi.Config{
		Driver:         driver,
		Fabric:         fabric,
		Catalog:        cat,
		Store:          store,
		Metrics:        metrics,
		Logger:         telemetryLogger,
		PingIntervalMs: switches.PingIntervalMs,
	}))
	mux.Handle("/stream", ws.NewHandler(fabric, ws.HandlerConfig{
		Logger:       telemetryLogger,
		PingInterval: time.Duration(switches.PingIntervalMs) * time.Millisecond,
		RequireToken: switches.RequireToken,
	}))
	observability.RegisterPprof(mux, cfg.Observability)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	telemetryLogger.Printf("app: listening on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: server failed: %w", err)
		}
		return nil
	}
}

// persistRace writes the four documents spec.md §4.7 names, off the tick
// path: summary, precomputed base paths, the placed event timeline, and
// the final tick matrix. Each is a separate artifact so a caller that only
// needs the summary (e.g. /previous) never pays for the full tick matrix.
func persistRace(ctx context.Context, store persist.Backend, race *cycle.Race, logger telemetry.Logger) {
	writeOne := func(key string, body []byte, err error) {
		if err != nil {
			logger.Printf("app: marshal %s for %s: %v", key, race.RaceID, err)
			return
		}
		if err := store.Write(ctx, race.RaceID, key, body); err != nil {
			logger.Printf("app: persist %s for %s: %v", key, race.RaceID, err)
		}
	}

	summaryBody, err := persist.MarshalSummary(race.RaceID, race.CycleSeed, race.CycleN, race.TotalTicks(), race.Outcome)
	writeOne(persist.KeySummary, summaryBody, err)

	pathsBody, err := persist.MarshalPaths(race.Paths)
	writeOne(persist.KeyPaths, pathsBody, err)

	timelineBody, err := persist.MarshalTimeline(race.TotalTicks(), race.Timeline)
	writeOne(persist.KeyTimeline, timelineBody, err)

	ticksBody, err := persist.MarshalTicks(race.Matrix)
	writeOne(persist.KeyTicks, ticksBody, err)
}
