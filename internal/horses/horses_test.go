package horses

import "testing"

func TestWithSeedsOrdersByID(t *testing.T) {
	roster := []Seed{
		{ID: "h10", DisplayName: "Z"},
		{ID: "h01", DisplayName: "A"},
	}
	out := WithSeeds(roster, "cycle-1")
	if out[0].ID != "h01" || out[1].ID != "h10" {
		t.Fatalf("roster not sorted by id: %+v", out)
	}
}

func TestWithSeedsDeterministic(t *testing.T) {
	roster := DefaultRoster()
	a := WithSeeds(roster, "cycle-1")
	b := WithSeeds(roster, "cycle-1")
	for i := range a {
		if a[i].RNGSeed != b[i].RNGSeed {
			t.Fatalf("rng seed not stable for %s: %d != %d", a[i].ID, a[i].RNGSeed, b[i].RNGSeed)
		}
	}
	c := WithSeeds(roster, "cycle-2")
	if a[0].RNGSeed == c[0].RNGSeed {
		t.Fatalf("different cycle seeds produced the same per-horse seed")
	}
}
