// Package netapi exposes the read-only HTTP surface over the cycle driver
// (spec.md §5 "External interfaces"), grounded on the teacher's
// internal/net/http_handlers.go: a plain http.NewServeMux with one inline
// closure per route and a shared httpError helper.
package netapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"raceline/internal/broadcast"
	"raceline/internal/catalog"
	"raceline/internal/cycle"
	"raceline/internal/persist"
	"raceline/internal/scheduler"
	"raceline/internal/telemetry"
)

// historyLimit is the fixed page size spec.md §6 documents for /history.
const historyLimit = 20

// Config configures the HTTP handler.
type Config struct {
	Driver         *cycle.Driver
	Fabric         *broadcast.Fabric
	Catalog        *catalog.Catalog
	Store          persist.Backend
	Metrics        telemetry.Metrics
	Logger         telemetry.Logger
	PingIntervalMs int
}

// publicConfig is the cycle-level capability document GET /config returns
// (spec.md §6): everything a subscriber needs before it opens the stream,
// distinct from the per-race raceconfig.Config exposed through /current.
type publicConfig struct {
	KeyID                 string `json:"keyId"`
	PublicKey             string `json:"publicKey"`
	KeyframeIntervalTicks int    `json:"keyframeIntervalTicks"`
	PingIntervalMs        int    `json:"pingIntervalMs"`
	BackpressureThreshold int64  `json:"backpressureThreshold"`
	SupportsBinary        bool   `json:"supportsBinary"`
	SupportsDelta         bool   `json:"supportsDelta"`
}

// NewHandler builds the full read-only HTTP surface: /health, /config,
// /current, /previous, /history, /ticks/{raceId}, /ticks-final/{raceId},
// /timeline/{raceId}, /results/{raceId}, /catalog, /metrics.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		pc := publicConfig{
			PingIntervalMs: cfg.PingIntervalMs,
			SupportsBinary: true,
			SupportsDelta:  true,
		}
		if cfg.Fabric != nil {
			pc.KeyframeIntervalTicks = cfg.Fabric.KeyframeIntervalTicks()
			pc.BackpressureThreshold = cfg.Fabric.BackpressureThreshold()
			pc.KeyID, pc.PublicKey = cfg.Fabric.SigningInfo()
		}
		writeJSON(w, pc)
	})

	mux.HandleFunc("/current", func(w http.ResponseWriter, r *http.Request) {
		writeRaceSummary(w, cfg.Driver.Phase(), cfg.Driver.CurrentRace(), cfg.Driver.CurrentTickIndex())
	})

	mux.HandleFunc("/previous", func(w http.ResponseWriter, r *http.Request) {
		race := cfg.Driver.PreviousRace()
		if race == nil {
			httpError(w, "no previous race", http.StatusNotFound)
			return
		}
		writeRaceSummary(w, cycle.PhaseResultsShowing, race, int64(race.TotalTicks()-1))
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Store == nil {
			writeJSON(w, []persist.SummaryDoc{})
			return
		}
		ids, err := cfg.Store.ListRaceIDs(r.Context(), historyLimit)
		if err != nil {
			httpError(w, "list race history", http.StatusInternalServerError)
			return
		}
		summaries := make([]persist.SummaryDoc, 0, len(ids))
		for _, id := range ids {
			body, err := cfg.Store.Read(r.Context(), id, persist.KeySummary)
			if err != nil {
				// A race in progress or otherwise missing a summary document
				// simply drops out of the history page rather than failing it.
				continue
			}
			summary, err := persist.UnmarshalSummary(body)
			if err != nil {
				continue
			}
			summaries = append(summaries, summary)
		}
		writeJSON(w, summaries)
	})

	mux.HandleFunc("/ticks/", func(w http.ResponseWriter, r *http.Request) {
		raceID := strings.TrimPrefix(r.URL.Path, "/ticks/")
		race := resolveRace(cfg.Driver, raceID)
		if race == nil {
			httpError(w, "unknown race", http.StatusNotFound)
			return
		}
		from, to := parseTickRange(r, race.TotalTicks())
		writeJSON(w, race.Matrix[from:to])
	})

	mux.HandleFunc("/ticks-final/", func(w http.ResponseWriter, r *http.Request) {
		raceID := strings.TrimPrefix(r.URL.Path, "/ticks-final/")
		race := resolveRace(cfg.Driver, raceID)
		if race == nil {
			httpError(w, "unknown race", http.StatusNotFound)
			return
		}
		if len(race.Matrix) == 0 {
			httpError(w, "race has no ticks", http.StatusNotFound)
			return
		}
		writeJSON(w, race.Matrix[len(race.Matrix)-1])
	})

	mux.HandleFunc("/timeline/", func(w http.ResponseWriter, r *http.Request) {
		raceID := strings.TrimPrefix(r.URL.Path, "/timeline/")
		race := resolveRace(cfg.Driver, raceID)
		if race == nil {
			httpError(w, "unknown race", http.StatusNotFound)
			return
		}
		writeJSON(w, timelineView(race))
	})

	mux.HandleFunc("/results/", func(w http.ResponseWriter, r *http.Request) {
		raceID := strings.TrimPrefix(r.URL.Path, "/results/")
		race := resolveRace(cfg.Driver, raceID)
		if race == nil {
			httpError(w, "unknown race", http.StatusNotFound)
			return
		}
		writeJSON(w, race.Outcome)
	})

	mux.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Catalog == nil {
			httpError(w, "catalog not configured", http.StatusInternalServerError)
			return
		}
		writeJSON(w, cfg.Catalog.Entries())
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		snapshot := map[string]uint64{}
		if cfg.Metrics != nil {
			snapshot = cfg.Metrics.Snapshot()
		}
		if cfg.Fabric != nil {
			snapshot["broadcast_subscribers_total"] = uint64(cfg.Fabric.SubscriberCount())
		}
		writeJSON(w, snapshot)
	})

	return mux
}

func resolveRace(driver *cycle.Driver, raceID string) *cycle.Race {
	if race := driver.CurrentRace(); race != nil && race.RaceID == raceID {
		return race
	}
	if race := driver.PreviousRace(); race != nil && race.RaceID == raceID {
		return race
	}
	return nil
}

type raceSummary struct {
	RaceID       string    `json:"raceId"`
	Phase        string    `json:"phase"`
	CycleN       uint64    `json:"cycleN"`
	TickIndex    int64     `json:"tickIndex"`
	TotalTicks   int       `json:"totalTicks"`
	StartTime    time.Time `json:"startTime,omitempty"`
	WinnerID     string    `json:"winnerId,omitempty"`
	HasFinished  bool      `json:"hasFinished"`
}

func writeRaceSummary(w http.ResponseWriter, phase cycle.Phase, race *cycle.Race, tickIndex int64) {
	if race == nil {
		writeJSON(w, raceSummary{Phase: string(phase), TickIndex: tickIndex})
		return
	}
	writeJSON(w, raceSummary{
		RaceID:      race.RaceID,
		Phase:       string(phase),
		CycleN:      race.CycleN,
		TickIndex:   tickIndex,
		TotalTicks:  race.TotalTicks(),
		StartTime:   race.StartTime,
		WinnerID:    race.Outcome.WinnerID,
		HasFinished: race.Outcome.WinnerID != "",
	})
}

type timelineEntry struct {
	Tick       int      `json:"tick"`
	EntryIDs   []string `json:"entryIds"`
	InstanceIDs []string `json:"instanceIds"`
}

func timelineView(race *cycle.Race) []timelineEntry {
	var out []timelineEntry
	race.Timeline.Each(func(tick int, instances []scheduler.Instance) {
		entry := timelineEntry{Tick: tick}
		for _, inst := range instances {
			entry.EntryIDs = append(entry.EntryIDs, inst.EntryID)
			entry.InstanceIDs = append(entry.InstanceIDs, inst.InstanceID)
		}
		out = append(out, entry)
	})
	return out
}

func parseTickRange(r *http.Request, total int) (int, int) {
	from, to := 0, total
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			from = n
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n <= total {
			to = n
		}
	}
	if from > to {
		from = to
	}
	return from, to
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httpError(w, "failed to encode", http.StatusInternalServerError)
	}
}

func httpError(w http.ResponseWriter, msg string, code int) {
	http.Error(w, msg, code)
}
