package scheduler

import (
	"testing"

	"raceline/internal/catalog"
	"raceline/internal/raceconfig"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default(nil)
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	return cat
}

func testConfig() raceconfig.Config {
	return raceconfig.Default("cycle-1", 12345)
}

func collect(tl *Timeline) []Instance {
	var all []Instance
	tl.Each(func(_ int, instances []Instance) {
		all = append(all, instances...)
	})
	return all
}

func TestBuildDeterministic(t *testing.T) {
	cat := testCatalog(t)
	cfg := testConfig()
	a := Build(cfg, cat, DefaultPhases())
	b := Build(cfg, cat, DefaultPhases())

	ai, bi := collect(a), collect(b)
	if len(ai) != len(bi) {
		t.Fatalf("instance counts differ: %d != %d", len(ai), len(bi))
	}
	for i := range ai {
		if ai[i] != bi[i] {
			t.Fatalf("instance %d differs: %+v != %+v", i, ai[i], bi[i])
		}
	}
}

func TestSpacingInvariant(t *testing.T) {
	cat := testCatalog(t)
	cfg := testConfig()
	tl := Build(cfg, cat, DefaultPhases())

	lastTick := make(map[string]int)
	tl.Each(func(tick int, instances []Instance) {
		for _, inst := range instances {
			if last, ok := lastTick[inst.EntryID]; ok {
				if tick-last < MinSpacingTicks {
					t.Fatalf("spacing violated for %s: %d - %d < %d", inst.EntryID, tick, last, MinSpacingTicks)
				}
			}
			lastTick[inst.EntryID] = tick
		}
	})
}

func TestConcurrencyCapInvariant(t *testing.T) {
	cat := testCatalog(t)
	cfg := testConfig()
	tl := Build(cfg, cat, DefaultPhases())

	tl.Each(func(tick int, instances []Instance) {
		counts := make(map[string]int)
		for _, inst := range instances {
			counts[inst.EntryID]++
		}
		for id, count := range counts {
			entry, ok := cat.Lookup(id)
			if !ok {
				t.Fatalf("instance for unknown catalog entry %s", id)
			}
			if count > entry.MaxConcurrent {
				t.Fatalf("tick %d: %d instances of %s exceeds maxConcurrent %d", tick, count, id, entry.MaxConcurrent)
			}
		}
	})
}

func TestConflictInvariant(t *testing.T) {
	cat := testCatalog(t)
	cfg := testConfig()
	tl := Build(cfg, cat, DefaultPhases())

	tl.Each(func(tick int, instances []Instance) {
		for i := range instances {
			for j := range instances {
				if i == j {
					continue
				}
				a, aok := cat.Lookup(instances[i].EntryID)
				b, bok := cat.Lookup(instances[j].EntryID)
				if !aok || !bok {
					continue
				}
				if conflictsWith(a.ConflictsWith, b.ID) || conflictsWith(b.ConflictsWith, a.ID) {
					t.Fatalf("tick %d: conflicting instances both placed: %s, %s", tick, a.ID, b.ID)
				}
			}
		}
	})
}

func TestInstanceIDStableAcrossIdenticalSeeds(t *testing.T) {
	id1 := instanceID(42, "hook_shot", 10, 0)
	id2 := instanceID(42, "hook_shot", 10, 0)
	if id1 != id2 {
		t.Fatalf("instance id not stable: %s != %s", id1, id2)
	}
	id3 := instanceID(42, "hook_shot", 11, 0)
	if id1 == id3 {
		t.Fatalf("different ticks produced the same instance id")
	}
}

func TestTimelineAscendingIteration(t *testing.T) {
	cat := testCatalog(t)
	cfg := testConfig()
	tl := Build(cfg, cat, DefaultPhases())

	last := -1
	tl.Each(func(tick int, _ []Instance) {
		if tick <= last {
			t.Fatalf("ticks not strictly ascending: %d after %d", tick, last)
		}
		last = tick
	})
}
