// Package applier folds base horse paths and the placed event timeline
// into the canonical per-tick final state matrix (spec.md §4.4, component
// C4). Apply is a pure function: no randomness, no hidden state. Grounded
// on the separation the teacher enforces between effect definition and
// effect application, re-expressed here as scheduler (planning) fully
// decoupled from applier (application).
package applier

import (
	"fmt"
	"sort"

	"raceline/internal/catalog"
	"raceline/internal/pathbuilder"
	"raceline/internal/rng"
	"raceline/internal/scheduler"
)

// FinalTickState is one horse's frozen state at one tick (spec.md "Final
// tick state").
type FinalTickState struct {
	HorseID      string
	Position     float64
	Lane         int
	Speed        float64
	IsStunned    bool
	IsRemoved    bool
	ActiveEvents []string
}

// Matrix is the canonical final state matrix: totalTicks slices, each with
// one entry per horse in the same order across every tick.
type Matrix [][]FinalTickState

// Outcome is derived deterministically from the matrix (spec.md "Outcome").
type Outcome struct {
	WinnerID        string
	FinishOrder     []string
	FinishTimesMs   map[string]float64
	FinishTickIndex int
	Checksum        string
}

// ViolationError marks a fatal determinism violation: negative position,
// finish-line overshoot, or any other invariant break that must abort the
// cycle (spec.md §7).
type ViolationError struct {
	Tick    int
	HorseID string
	Reason  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("applier: determinism violation at tick %d horse %s: %s", e.Tick, e.HorseID, e.Reason)
}

// Warning is a non-fatal validation finding (spec.md §4.4 validation table).
type Warning struct {
	Tick    int
	HorseID string
	Reason  string
}

const (
	hookShotOffset    = -15.0
	rocketBoostOffset = 20.0
	chainReactionTicks = 20
	overshootTolerance = 1e-9
)

// Result bundles everything Apply produces for one race.
type Result struct {
	Matrix   Matrix
	Outcome  Outcome
	Warnings []Warning
}

// window is an event's active span on a single horse: [Start, End).
type window struct {
	eventID string
	end     int
}

// Apply folds paths and timeline into the canonical matrix, deriving the
// outcome and checksum. raceID and cat are needed for checksum input and
// catalog lookups respectively; paths must be supplied in the same sorted
// horse order the matrix will use. tickMs converts the outcome's tick-index
// finish times into the wall-clock milliseconds spec.md's FinishTimesMs
// documents.
func Apply(raceID string, cycleSeed string, paths []pathbuilder.Path, timeline *scheduler.Timeline, cat *catalog.Catalog, tickMs int) (Result, error) {
	n := len(paths)
	if n == 0 {
		return Result{}, fmt.Errorf("applier: no horses")
	}
	totalTicks := len(paths[0].Ticks)
	finishLine := 0.0
	for _, p := range paths {
		if len(p.Ticks) > 0 {
			finishLine = maxFloat(finishLine, p.Ticks[len(p.Ticks)-1].Position)
		}
	}

	horseIDs := make([]string, n)
	for i, p := range paths {
		horseIDs[i] = p.HorseID
	}

	st := newFoldState(n)
	for i := 0; i < n; i++ {
		st.lane[i] = i
	}

	catalogOrder := make(map[string]int)
	for i, e := range cat.Entries() {
		catalogOrder[e.ID] = i
	}

	matrix := make(Matrix, totalTicks)
	var warnings []Warning

	for t := 0; t < totalTicks; t++ {
		instances := timeline.At(t)
		sortInstancesForFold(instances, catalogOrder)

		natural := make([]float64, n)
		naturalLane := make([]int, n)
		offsets := make([]float64, n)
		stunnedNow := make([]bool, n)

		for _, inst := range instances {
			entry, ok := cat.Lookup(inst.EntryID)
			if !ok {
				continue
			}
			applyInstance(st, entry, inst, n, t, totalTicks)
		}

		for h := 0; h < n; h++ {
			if st.stunUntil[h] > t {
				stunnedNow[h] = true
			}
			if hasOffsetStart(st, h, t, "hook_shot") {
				offsets[h] += hookShotOffset
			}
			if hasOffsetStart(st, h, t, "rocket_boost") {
				offsets[h] += rocketBoostOffset
			}
		}

		for h := 0; h < n; h++ {
			baseDelta := 0.0
			if t > 0 {
				baseDelta = paths[h].Ticks[t].Position - paths[h].Ticks[t-1].Position
			}
			moveDelta := baseDelta
			if stunnedNow[h] {
				moveDelta = 0
			}
			pos := st.prevFinalPos[h] + moveDelta + offsets[h]
			if pos < 0 {
				pos = 0
			}
			natural[h] = pos
			naturalLane[h] = st.lane[h]
		}

		for h := 0; h < n; h++ {
			pos := natural[h]
			lane := naturalLane[h]
			if partner, active := activeSwapPartner(st, h, t); active {
				pos = natural[partner]
				lane = naturalLane[partner]
			}
			if st.removed[h] {
				pos = st.prevFinalPos[h]
			}

			if pos < -overshootTolerance {
				return Result{}, (&ViolationError{Tick: t, HorseID: horseIDs[h], Reason: "negative position"}).self()
			}
			if pos > finishLine+overshootTolerance {
				return Result{}, (&ViolationError{Tick: t, HorseID: horseIDs[h], Reason: "finish line overshoot"}).self()
			}
			if pos > finishLine {
				pos = finishLine
			}
			if pos < 0 {
				pos = 0
			}

			speed := paths[h].Ticks[t].Speed
			if st.removed[h] {
				speed = 0
			}

			if stunnedNow[h] && !st.removed[h] && offsets[h] == 0 && pos != st.prevFinalPos[h] && t > 0 {
				warnings = append(warnings, Warning{Tick: t, HorseID: horseIDs[h], Reason: "stunned horse moved without instant offset"})
			}

			st.lane[h] = lane
			st.prevFinalPos[h] = pos

			matrix[t] = append(matrix[t], FinalTickState{
				HorseID:      horseIDs[h],
				Position:     pos,
				Lane:         lane,
				Speed:        speed,
				IsStunned:    stunnedNow[h],
				IsRemoved:    st.removed[h],
				ActiveEvents: activeEventsAt(st, h, t),
			})
		}
	}

	outcome := deriveOutcome(matrix, horseIDs, finishLine, tickMs)
	outcome.Checksum = Checksum(raceID, cycleSeed, paths, matrix, timeline, outcome)

	return Result{Matrix: matrix, Outcome: outcome, Warnings: warnings}, nil
}

func (e *ViolationError) self() error { return e }

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// foldState carries the mutable bookkeeping threaded tick-to-tick during
// Apply. It is scoped to a single call and never escapes.
type foldState struct {
	prevFinalPos []float64
	lane         []int
	stunUntil    []int // tick index the horse is stunned through (exclusive)
	removed      []bool
	offsetStart  map[int]map[string]bool // tick -> horseIdx-keyed via string(h) -> present
	windows      []map[string]int        // per-horse eventID -> end tick (exclusive)
	swapPartner  []int                    // -1 if not swapping
	swapUntil    []int
	luckUntil    []int
}

func newFoldState(n int) *foldState {
	st := &foldState{
		prevFinalPos: make([]float64, n),
		lane:         make([]int, n),
		stunUntil:    make([]int, n),
		removed:      make([]bool, n),
		offsetStart:  make(map[int]map[string]bool),
		windows:      make([]map[string]int, n),
		swapPartner:  make([]int, n),
		swapUntil:    make([]int, n),
		luckUntil:    make([]int, n),
	}
	for i := range st.windows {
		st.windows[i] = make(map[string]int)
		st.swapPartner[i] = -1
	}
	return st
}

func hasOffsetStart(st *foldState, horse, tick int, eventID string) bool {
	byHorse := st.offsetStart[tick]
	if byHorse == nil {
		return false
	}
	return byHorse[eventIDHorseKey(eventID, horse)]
}

func markOffsetStart(st *foldState, horse, tick int, eventID string) {
	if st.offsetStart[tick] == nil {
		st.offsetStart[tick] = make(map[string]bool)
	}
	st.offsetStart[tick][eventIDHorseKey(eventID, horse)] = true
}

func eventIDHorseKey(eventID string, horse int) string {
	return fmt.Sprintf("%s#%d", eventID, horse)
}

func activeSwapPartner(st *foldState, horse, tick int) (int, bool) {
	if st.swapPartner[horse] == -1 {
		return 0, false
	}
	if tick >= st.swapUntil[horse] {
		return 0, false
	}
	return st.swapPartner[horse], true
}

func activeEventsAt(st *foldState, horse, tick int) []string {
	var ids []string
	for id, end := range st.windows[horse] {
		if tick < end {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func addWindow(st *foldState, horse int, eventID string, start, end int) {
	if cur, ok := st.windows[horse][eventID]; ok && cur >= end {
		return
	}
	st.windows[horse][eventID] = end
}

// applyInstance registers the bookkeeping for one event instance at its
// start tick: stun-until, active windows, swap windows, removal, and
// instant-offset markers. It never touches position directly.
func applyInstance(st *foldState, entry catalog.Entry, inst scheduler.Instance, n, tick, totalTicks int) {
	windowEnd := tick + entry.DurationTicks
	if entry.DurationTicks <= 0 {
		windowEnd = tick + 1
	}
	// A removal is permanent (spec.md §4.4): the horse never returns, so its
	// activeEvents must keep reporting the removing event through the last
	// tick rather than expiring after one tick of a zero-duration entry.
	if entry.RemovesHorse && windowEnd < totalTicks {
		windowEnd = totalTicks
	}

	switch entry.ID {
	case "chain_reaction":
		for h := 0; h < n; h++ {
			if st.removed[h] {
				continue
			}
			end := tick + chainReactionTicks
			if end > st.stunUntil[h] {
				st.stunUntil[h] = end
			}
			addWindow(st, h, "chain_reaction", tick, end)
			addWindow(st, h, "chain_stun", tick, end)
		}
		return

	case "position_swap":
		a := targetIndex(inst.InstanceID, n)
		b := secondTargetIndex(inst.InstanceID, a, n)
		st.swapPartner[a] = b
		st.swapPartner[b] = a
		st.swapUntil[a] = windowEnd
		st.swapUntil[b] = windowEnd
		addWindow(st, a, entry.ID, tick, windowEnd)
		addWindow(st, b, entry.ID, tick, windowEnd)
		return
	}

	if entry.AffectsMultipleHorses {
		for h := 0; h < n; h++ {
			if st.removed[h] {
				continue
			}
			addWindow(st, h, entry.ID, tick, windowEnd)
		}
		return
	}

	target := targetIndex(inst.InstanceID, n)
	if isNegativeEvent(entry.ID) {
		target = reroute(target, st.removed, luckActiveFn(st, tick))
	}

	switch entry.ID {
	case "hook_shot":
		markOffsetStart(st, target, tick, "hook_shot")
	case "rocket_boost":
		markOffsetStart(st, target, tick, "rocket_boost")
	case "bomb_throw":
		if windowEnd > st.stunUntil[target] {
			st.stunUntil[target] = windowEnd
		}
	case "ufo_abduction":
		st.removed[target] = true
	case "luck_charm":
		st.luckUntil[target] = windowEnd
	}
	addWindow(st, target, entry.ID, tick, windowEnd)
}

func isNegativeEvent(id string) bool {
	switch id {
	case "hook_shot", "bomb_throw", "ufo_abduction":
		return true
	default:
		return false
	}
}

func luckActiveFn(st *foldState, tick int) []bool {
	active := make([]bool, len(st.luckUntil))
	for i, until := range st.luckUntil {
		active[i] = tick < until
	}
	return active
}

// targetIndex implements single-target selection: hash32(instanceId||'A') mod N.
func targetIndex(instanceID string, n int) int {
	return int(rng.HashSeed(instanceID+"A") % uint32(n))
}

// secondTargetIndex implements two-target selection with a +1 skip on collision.
func secondTargetIndex(instanceID string, first, n int) int {
	idx := int(rng.HashSeed(instanceID+"B") % uint32(n))
	if idx == first {
		idx = (idx + 1) % n
	}
	return idx
}

// reroute advances target by 1 (mod N) until a non-removed horse is found,
// per spec.md §4.4's luck-charm rerouting rule. It never consults whether
// the candidate also has luck_charm active.
func reroute(target int, removed []bool, luckActive []bool) int {
	if !luckActive[target] {
		return target
	}
	n := len(removed)
	idx := target
	for i := 0; i < n; i++ {
		idx = (idx + 1) % n
		if idx == target {
			break
		}
		if !removed[idx] {
			return idx
		}
	}
	return target
}

// sortInstancesForFold orders same-tick instances by catalog order first,
// then instanceId lexicographically (spec.md §4.4 step 1).
func sortInstancesForFold(instances []scheduler.Instance, catalogOrder map[string]int) {
	sort.Slice(instances, func(i, j int) bool {
		oi, oj := catalogOrder[instances[i].EntryID], catalogOrder[instances[j].EntryID]
		if oi != oj {
			return oi < oj
		}
		return instances[i].InstanceID < instances[j].InstanceID
	})
}

func deriveOutcome(matrix Matrix, horseIDs []string, finishLine float64, tickMs int) Outcome {
	finishTimes := make(map[string]float64, len(horseIDs))
	finishTick := make(map[string]int, len(horseIDs))
	winningTick := -1

	for t := 0; t < len(matrix); t++ {
		for _, state := range matrix[t] {
			if state.Position >= finishLine {
				if _, seen := finishTimes[state.HorseID]; !seen {
					finishTimes[state.HorseID] = float64(t) * float64(tickMs)
					finishTick[state.HorseID] = t
					if winningTick == -1 || t < winningTick {
						winningTick = t
					}
				}
			}
		}
	}

	var finishOrder []string
	for id := range finishTimes {
		finishOrder = append(finishOrder, id)
	}
	sort.Slice(finishOrder, func(i, j int) bool {
		ti, tj := finishTick[finishOrder[i]], finishTick[finishOrder[j]]
		if ti != tj {
			return ti < tj
		}
		return finishOrder[i] < finishOrder[j]
	})

	winner := ""
	if winningTick >= 0 {
		var atWinningTick []string
		for id, tk := range finishTick {
			if tk == winningTick {
				atWinningTick = append(atWinningTick, id)
			}
		}
		sort.Strings(atWinningTick)
		if len(atWinningTick) > 0 {
			winner = atWinningTick[0]
		}
	}
	if winningTick < 0 {
		winningTick = len(matrix) - 1
	}

	return Outcome{
		WinnerID:        winner,
		FinishOrder:     finishOrder,
		FinishTimesMs:   finishTimes,
		FinishTickIndex: winningTick,
	}
}
