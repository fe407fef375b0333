package pathbuilder

import (
	"testing"

	"raceline/internal/horses"
	"raceline/internal/raceconfig"
)

func testConfig() raceconfig.Config {
	return raceconfig.Default("cycle-1", 0)
}

func TestBuildDeterministic(t *testing.T) {
	cfg := testConfig()
	h := horses.DefaultRoster()[0]
	a := Build(cfg, h)
	b := Build(cfg, h)
	for i := range a.Ticks {
		if a.Ticks[i] != b.Ticks[i] {
			t.Fatalf("tick %d diverged: %+v != %+v", i, a.Ticks[i], b.Ticks[i])
		}
	}
}

func TestBuildMonotonePosition(t *testing.T) {
	cfg := testConfig()
	h := horses.DefaultRoster()[0]
	p := Build(cfg, h)
	for i := 1; i < len(p.Ticks); i++ {
		if p.Ticks[i].Position < p.Ticks[i-1].Position {
			t.Fatalf("position decreased at tick %d: %v < %v", i, p.Ticks[i].Position, p.Ticks[i-1].Position)
		}
		if p.Ticks[i].Position > cfg.FinishLine+1e-9 {
			t.Fatalf("position overshoot at tick %d: %v > %v", i, p.Ticks[i].Position, cfg.FinishLine)
		}
		if p.Ticks[i].Speed < 0 {
			t.Fatalf("negative speed at tick %d", i)
		}
	}
}

func TestBuildReachesFinishLine(t *testing.T) {
	cfg := testConfig()
	h := horses.DefaultRoster()[0]
	p := Build(cfg, h)
	if !p.Finished {
		t.Fatalf("expected horse to finish within %d ticks at baseSpeed %v over %v m", cfg.TotalTicks, h.BaseSpeed, cfg.FinishLine)
	}
	last := p.Ticks[len(p.Ticks)-1]
	if last.Position != cfg.FinishLine {
		t.Fatalf("final position should clamp to finish line, got %v", last.Position)
	}
}

func TestDistinctHorsesDivergeGivenSameConfig(t *testing.T) {
	cfg := testConfig()
	roster := horses.DefaultRoster()
	a := Build(cfg, roster[0])
	b := Build(cfg, roster[1])
	same := true
	for i := range a.Ticks {
		if a.Ticks[i] != b.Ticks[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("two distinct horses produced identical paths")
	}
}
