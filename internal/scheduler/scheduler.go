// Package scheduler places catalog events onto the tick grid under the
// spacing, concurrency, and conflict rules of spec.md §4.3 (component C3).
// The placed-instance set per tick is capped and single-writer, the same
// discipline the teacher's internal/sim/command_buffer.go ring buffer
// enforces, generalized here from a FIFO drain to a capped per-tick
// multiset keyed by event id.
package scheduler

import (
	"encoding/hex"
	"fmt"
	"sort"

	"raceline/internal/catalog"
	"raceline/internal/raceconfig"
	"raceline/internal/rng"
)

// MinSpacingTicks is the default minimum distance between successive
// placed instances of the same event id.
const MinSpacingTicks = 15

// Instance is a single placed event on the tick grid (spec.md "Event
// instance").
type Instance struct {
	EntryID    string
	TickIndex  int
	InstanceID string
	Occurrence int
}

// Timeline is an immutable, tick-indexed mapping from tick index to the
// ordered sequence of instances placed at that tick. It is realized as a
// plain array-of-slices (not a map) so ascending iteration never depends on
// map ordering, per spec.md §9's "Timeline as an immutable mapping" note.
type Timeline struct {
	byTick [][]Instance
}

// At returns a defensive copy of the instances placed at tick, or nil if
// none were placed there.
func (t *Timeline) At(tick int) []Instance {
	if tick < 0 || tick >= len(t.byTick) || t.byTick[tick] == nil {
		return nil
	}
	out := make([]Instance, len(t.byTick[tick]))
	copy(out, t.byTick[tick])
	return out
}

// Each calls fn once per non-empty tick in ascending tick order.
func (t *Timeline) Each(fn func(tick int, instances []Instance)) {
	for i, instances := range t.byTick {
		if len(instances) == 0 {
			continue
		}
		fn(i, instances)
	}
}

// FromInstances rebuilds a Timeline from a flat instance list, used when
// deserializing a persisted eventTimeline document (spec.md §4.7). It
// trusts the caller: instances are placed at their recorded TickIndex
// without re-running Build's spacing/concurrency/conflict checks, since
// those were already enforced when the timeline was first placed.
func FromInstances(totalTicks int, instances []Instance) *Timeline {
	tl := &Timeline{byTick: make([][]Instance, totalTicks)}
	for _, inst := range instances {
		if inst.TickIndex < 0 || inst.TickIndex >= totalTicks {
			continue
		}
		tl.byTick[inst.TickIndex] = append(tl.byTick[inst.TickIndex], inst)
	}
	return tl
}

type candidate struct {
	entry          catalog.Entry
	tickIndex      int
	insertionOrder int
	occurrence     int
	weight         int
}

// Phase defines a pacing window over [Start,End) as a fraction of the race,
// with a non-negative integer weight per normalized category.
type Phase struct {
	Start, End float64
	Weights    map[catalog.Category]int
}

// DefaultPhases matches spec.md §4.3's documented boundaries.
func DefaultPhases() []Phase {
	return []Phase{
		{Start: 0.0, End: 0.30, Weights: map[catalog.Category]int{
			catalog.CategoryPowerup: 3, catalog.CategoryCombat: 1,
			catalog.CategoryEnvironmental: 2, catalog.CategoryChaos: 1,
		}},
		{Start: 0.30, End: 0.70, Weights: map[catalog.Category]int{
			catalog.CategoryPowerup: 2, catalog.CategoryCombat: 3,
			catalog.CategoryEnvironmental: 2, catalog.CategoryChaos: 2,
		}},
		{Start: 0.70, End: 1.00, Weights: map[catalog.Category]int{
			catalog.CategoryPowerup: 1, catalog.CategoryCombat: 2,
			catalog.CategoryEnvironmental: 1, catalog.CategoryChaos: 3,
		}},
	}
}

// RampFraction blends adjacent phase weights linearly within this fraction
// of the race on either side of a phase boundary.
const RampFraction = 0.03

// Build runs candidate generation, pacing bias, and placement, returning
// the immutable Timeline.
func Build(cfg raceconfig.Config, cat *catalog.Catalog, phases []Phase) *Timeline {
	stream := rng.ForRole(cfg.Seed, "events")
	candidates := generate(cfg, cat, stream)
	applyWeights(candidates, cfg.TotalTicks, phases)
	candidates = dropZeroWeight(candidates)
	sortCandidates(candidates)
	return place(cfg, cat, candidates)
}

func generate(cfg raceconfig.Config, cat *catalog.Catalog, stream *rng.Stream) []candidate {
	var out []candidate
	order := 0
	for _, entry := range cat.Entries() {
		for occ := 0; occ < entry.MaxOccurrencesPerRace; occ++ {
			v := stream.Float64()
			tick := int(v * float64(cfg.TotalTicks))
			if tick >= cfg.TotalTicks {
				tick = cfg.TotalTicks - 1
			}
			out = append(out, candidate{
				entry:          entry,
				tickIndex:      tick,
				insertionOrder: order,
				occurrence:     occ,
			})
			order++
		}
	}
	return out
}

func normalizedCategory(c catalog.Category) catalog.Category {
	if c == "meta" {
		return catalog.CategoryChaos
	}
	return c
}

func applyWeights(candidates []candidate, totalTicks int, phases []Phase) {
	for i := range candidates {
		t := 0.0
		if totalTicks > 1 {
			t = float64(candidates[i].tickIndex) / float64(totalTicks-1)
		}
		candidates[i].weight = weightAt(t, normalizedCategory(candidates[i].entry.Category), phases)
	}
}

// weightAt blends the weight assigned to cat by the phase(s) covering t,
// applying a linear ramp across adjacent phases near their shared
// boundary, per spec.md §4.3's optional linear ramp.
func weightAt(t float64, cat catalog.Category, phases []Phase) int {
	if len(phases) == 0 {
		return 1
	}
	idx := phaseIndexFor(t, phases)
	w := float64(phases[idx].Weights[cat])

	if idx+1 < len(phases) {
		boundary := phases[idx].End
		if t >= boundary-RampFraction && t < boundary {
			frac := (t - (boundary - RampFraction)) / RampFraction
			next := float64(phases[idx+1].Weights[cat])
			w = w + (next-w)*frac
		}
	}
	if idx > 0 {
		boundary := phases[idx].Start
		if t < boundary+RampFraction && t >= boundary {
			frac := (t - boundary) / RampFraction
			prev := float64(phases[idx-1].Weights[cat])
			w = prev + (w-prev)*frac
		}
	}
	rounded := int(w + 0.5)
	if rounded < 0 {
		rounded = 0
	}
	return rounded
}

func phaseIndexFor(t float64, phases []Phase) int {
	for i, p := range phases {
		if t >= p.Start && (t < p.End || i == len(phases)-1) {
			return i
		}
	}
	return len(phases) - 1
}

func dropZeroWeight(candidates []candidate) []candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.weight > 0 {
			out = append(out, c)
		}
	}
	return out
}

func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tickIndex != b.tickIndex {
			return a.tickIndex < b.tickIndex
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		return a.insertionOrder < b.insertionOrder
	})
}

func place(cfg raceconfig.Config, cat *catalog.Catalog, candidates []candidate) *Timeline {
	timeline := &Timeline{byTick: make([][]Instance, cfg.TotalTicks)}
	lastPlacedTick := make(map[string]int)
	concurrentCount := make(map[int]map[string]int) // tick -> id -> count

	for _, c := range candidates {
		if !spacingOK(c, lastPlacedTick) {
			continue
		}
		if !concurrencyOK(c, concurrentCount) {
			continue
		}
		if !conflictOK(c, cat, timeline.byTick[c.tickIndex]) {
			continue
		}
		inst := Instance{
			EntryID:    c.entry.ID,
			TickIndex:  c.tickIndex,
			Occurrence: c.occurrence,
			InstanceID: instanceID(cfg.SeedValue, c.entry.ID, c.tickIndex, c.occurrence),
		}
		timeline.byTick[c.tickIndex] = append(timeline.byTick[c.tickIndex], inst)
		lastPlacedTick[c.entry.ID] = c.tickIndex
		if concurrentCount[c.tickIndex] == nil {
			concurrentCount[c.tickIndex] = make(map[string]int)
		}
		concurrentCount[c.tickIndex][c.entry.ID]++
	}
	return timeline
}

func spacingOK(c candidate, lastPlacedTick map[string]int) bool {
	last, ok := lastPlacedTick[c.entry.ID]
	if !ok {
		return true
	}
	return c.tickIndex-last >= MinSpacingTicks
}

func concurrencyOK(c candidate, concurrentCount map[int]map[string]int) bool {
	counts := concurrentCount[c.tickIndex]
	if counts == nil {
		return true
	}
	return counts[c.entry.ID] < c.entry.MaxConcurrent
}

func conflictOK(c candidate, cat *catalog.Catalog, placedAtTick []Instance) bool {
	for _, placed := range placedAtTick {
		if conflictsWith(c.entry.ConflictsWith, placed.EntryID) {
			return false
		}
		if placedEntry, ok := cat.Lookup(placed.EntryID); ok {
			if conflictsWith(placedEntry.ConflictsWith, c.entry.ID) {
				return false
			}
		}
	}
	return true
}

func conflictsWith(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// instanceID implements spec.md §4.3's deterministic instance identity:
// "evt-" + hex(hash32(cycleSeedInt || "|" || eventId || "|" || tickIndex || "|" || occurrence)).
func instanceID(cycleSeedInt uint32, eventID string, tickIndex, occurrence int) string {
	raw := fmt.Sprintf("%d|%s|%d|%d", cycleSeedInt, eventID, tickIndex, occurrence)
	h := rng.HashSeed(raw)
	var buf [4]byte
	buf[0] = byte(h >> 24)
	buf[1] = byte(h >> 16)
	buf[2] = byte(h >> 8)
	buf[3] = byte(h)
	return "evt-" + hex.EncodeToString(buf[:])
}
