package persist

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"raceline/internal/applier"
)

// TestSummaryDocGoldenEncoding pins the exact wire shape of a persisted
// summary document, grounded on roach88-nysm/brutalist's canonical-JSON
// golden-compare pattern. A change here means every already-persisted
// race archive on disk stops decoding the way this test expects.
func TestSummaryDocGoldenEncoding(t *testing.T) {
	outcome := applier.Outcome{
		WinnerID:        "h03",
		FinishOrder:     []string{"h03", "h01", "h02"},
		FinishTimesMs:   map[string]float64{"h01": 61250.5, "h02": 61400, "h03": 60800.25},
		FinishTickIndex: 1216,
		Checksum:        "9f2b6a1d4c7e8035a6b1c2d3e4f5061728394a5b6c7d8e9f0a1b2c3d4e5f6071",
	}

	body, err := MarshalSummary("race-golden-001", "cycle-golden", 7, 1220, outcome)
	if err != nil {
		t.Fatalf("MarshalSummary: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary_doc", body)
}
