package netapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"raceline/internal/applier"
	"raceline/internal/broadcast"
	"raceline/internal/catalog"
	"raceline/internal/cycle"
	"raceline/internal/pathbuilder"
	"raceline/internal/persist"
	"raceline/internal/raceconfig"
	"raceline/internal/scheduler"
	"raceline/logging"
)

func testDriver(t *testing.T) *cycle.Driver {
	t.Helper()
	d := cycle.New(cycle.Config{})
	return d
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	handler := NewHandler(Config{Driver: testDriver(t)})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCurrentEndpointReportsIdleWithNoRace(t *testing.T) {
	handler := NewHandler(Config{Driver: testDriver(t)})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/current")
	if err != nil {
		t.Fatalf("GET /current: %v", err)
	}
	defer resp.Body.Close()

	var summary raceSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Phase != string(cycle.PhaseIdle) {
		t.Fatalf("expected idle phase, got %q", summary.Phase)
	}
}

func TestPreviousEndpointNotFoundWithNoHistory(t *testing.T) {
	handler := NewHandler(Config{Driver: testDriver(t)})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/previous")
	if err != nil {
		t.Fatalf("GET /previous: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestResultsEndpointReturnsOutcomeForKnownRace(t *testing.T) {
	d := testDriver(t)
	cat, err := catalog.Default(logging.NopPublisher())
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	cfg := raceconfig.Default("cycle-7", 7)
	race := &cycle.Race{
		RaceID:   "race-7",
		Config:   cfg,
		Paths:    []pathbuilder.Path{{HorseID: "h01"}},
		Matrix:   applier.Matrix{{{HorseID: "h01", Position: 100}}},
		Timeline: scheduler.Build(cfg, cat, scheduler.DefaultPhases()),
		Outcome:  applier.Outcome{WinnerID: "h01", FinishOrder: []string{"h01"}},
	}
	d.Resume(race, 0)

	handler := NewHandler(Config{Driver: d})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/results/race-7")
	if err != nil {
		t.Fatalf("GET /results/race-7: %v", err)
	}
	defer resp.Body.Close()

	var outcome applier.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.WinnerID != "h01" {
		t.Fatalf("expected winner h01, got %q", outcome.WinnerID)
	}
}

func TestHistoryEndpointReturnsPersistedSummariesNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i, id := range []string{"race-1", "race-2", "race-3"} {
		body, err := persist.MarshalSummary(id, "cycle-h", uint64(i+1), 10, applier.Outcome{WinnerID: "h01"})
		if err != nil {
			t.Fatalf("MarshalSummary: %v", err)
		}
		if err := store.Write(ctx, id, persist.KeySummary, body); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	handler := NewHandler(Config{Driver: testDriver(t), Store: store})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer resp.Body.Close()

	var summaries []persist.SummaryDoc
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(summaries))
	}
	if summaries[0].RaceID != "race-3" {
		t.Fatalf("expected newest race first, got %q", summaries[0].RaceID)
	}
}

func TestConfigEndpointReturnsPublicCapabilities(t *testing.T) {
	signer, err := broadcast.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	fabric := broadcast.NewFabric(broadcast.Config{
		KeyframeIntervalTicks: 15,
		BackpressureThreshold: 2_000_000,
		Signer:                signer,
	})

	handler := NewHandler(Config{Driver: testDriver(t), Fabric: fabric, PingIntervalMs: 25000})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config: %v", err)
	}
	defer resp.Body.Close()

	var pc publicConfig
	if err := json.NewDecoder(resp.Body).Decode(&pc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pc.KeyID != signer.KeyID() {
		t.Fatalf("expected keyId %q, got %q", signer.KeyID(), pc.KeyID)
	}
	if pc.PublicKey != signer.PublicKeyBase64() {
		t.Fatalf("expected publicKey %q, got %q", signer.PublicKeyBase64(), pc.PublicKey)
	}
	if pc.KeyframeIntervalTicks != 15 {
		t.Fatalf("expected keyframeIntervalTicks 15, got %d", pc.KeyframeIntervalTicks)
	}
	if pc.BackpressureThreshold != 2_000_000 {
		t.Fatalf("expected backpressureThreshold 2000000, got %d", pc.BackpressureThreshold)
	}
	if pc.PingIntervalMs != 25000 {
		t.Fatalf("expected pingIntervalMs 25000, got %d", pc.PingIntervalMs)
	}
	if !pc.SupportsBinary || !pc.SupportsDelta {
		t.Fatalf("expected both binary and delta support advertised, got %+v", pc)
	}
}

func TestHistoryEndpointWithoutStoreReturnsEmptyList(t *testing.T) {
	handler := NewHandler(Config{Driver: testDriver(t)})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer resp.Body.Close()

	var summaries []persist.SummaryDoc
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected an empty history list, got %d entries", len(summaries))
	}
}
