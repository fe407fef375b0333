package persist

import (
	"testing"

	"raceline/internal/applier"
	"raceline/internal/catalog"
	"raceline/internal/pathbuilder"
	"raceline/internal/raceconfig"
	"raceline/internal/scheduler"
	"raceline/logging"
)

func TestSummaryRoundTrip(t *testing.T) {
	outcome := applier.Outcome{
		WinnerID:        "h02",
		FinishOrder:     []string{"h02", "h01"},
		FinishTimesMs:   map[string]float64{"h01": 100, "h02": 90},
		FinishTickIndex: 42,
		Checksum:        "abc123",
	}
	body, err := MarshalSummary("race-1", "cycle-1", 1, 401, outcome)
	if err != nil {
		t.Fatalf("MarshalSummary: %v", err)
	}
	got, err := UnmarshalSummary(body)
	if err != nil {
		t.Fatalf("UnmarshalSummary: %v", err)
	}
	if got.RaceID != "race-1" || got.Checksum != "abc123" || got.WinnerID != "h02" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPathsRoundTrip(t *testing.T) {
	paths := []pathbuilder.Path{
		{HorseID: "h01", Ticks: []pathbuilder.Tick{{Position: 0, Speed: 5}, {Position: 5, Speed: 5}}, Finished: true, FinishTick: 1, FinishMs: 50},
	}
	body, err := MarshalPaths(paths)
	if err != nil {
		t.Fatalf("MarshalPaths: %v", err)
	}
	got, err := UnmarshalPaths(body)
	if err != nil {
		t.Fatalf("UnmarshalPaths: %v", err)
	}
	if len(got) != 1 || got[0].HorseID != "h01" || len(got[0].Ticks) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestTimelineRoundTripPreservesInstances(t *testing.T) {
	cat, err := catalog.Default(logging.NopPublisher())
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	cfg := raceconfig.Default("cycle-rt", 99)
	original := scheduler.Build(cfg, cat, scheduler.DefaultPhases())

	body, err := MarshalTimeline(cfg.TotalTicks, original)
	if err != nil {
		t.Fatalf("MarshalTimeline: %v", err)
	}
	rebuilt, err := UnmarshalTimeline(body)
	if err != nil {
		t.Fatalf("UnmarshalTimeline: %v", err)
	}

	var originalCount, rebuiltCount int
	original.Each(func(tick int, instances []scheduler.Instance) { originalCount += len(instances) })
	rebuilt.Each(func(tick int, instances []scheduler.Instance) { rebuiltCount += len(instances) })
	if originalCount == 0 {
		t.Fatalf("expected the built timeline to place at least one instance")
	}
	if originalCount != rebuiltCount {
		t.Fatalf("instance count changed across round trip: original=%d rebuilt=%d", originalCount, rebuiltCount)
	}
}

func TestTicksRoundTrip(t *testing.T) {
	matrix := applier.Matrix{
		{{HorseID: "h01", Position: 10, Lane: 0, Speed: 5}},
		{{HorseID: "h01", Position: 15, Lane: 0, Speed: 5}},
	}
	body, err := MarshalTicks(matrix)
	if err != nil {
		t.Fatalf("MarshalTicks: %v", err)
	}
	got, err := UnmarshalTicks(body)
	if err != nil {
		t.Fatalf("UnmarshalTicks: %v", err)
	}
	if len(got) != 2 || got[1][0].Position != 15 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
