package persist

import (
	"encoding/json"

	"raceline/internal/applier"
	"raceline/internal/pathbuilder"
	"raceline/internal/scheduler"
)

// SummaryDoc is the JSON shape written under KeySummary (spec.md §4.7).
type SummaryDoc struct {
	RaceID          string             `json:"raceId"`
	CycleSeed       string             `json:"cycleSeed"`
	CycleN          uint64             `json:"cycleN"`
	TotalTicks      int                `json:"totalTicks"`
	WinnerID        string             `json:"winnerId"`
	FinishOrder     []string           `json:"finishOrder"`
	FinishTimesMs   map[string]float64 `json:"finishTimesMs"`
	FinishTickIndex int                `json:"finishTickIndex"`
	Checksum        string             `json:"checksum"`
}

// TimelineInstanceDoc is one flattened scheduler.Instance for KeyTimeline.
type TimelineInstanceDoc struct {
	EntryID    string `json:"entryId"`
	TickIndex  int    `json:"tickIndex"`
	InstanceID string `json:"instanceId"`
	Occurrence int    `json:"occurrence"`
}

// TimelineDoc is the JSON shape written under KeyTimeline.
type TimelineDoc struct {
	TotalTicks int                   `json:"totalTicks"`
	Instances  []TimelineInstanceDoc `json:"instances"`
}

// MarshalSummary encodes a SummaryDoc built from a completed race.
func MarshalSummary(raceID, cycleSeed string, cycleN uint64, totalTicks int, outcome applier.Outcome) ([]byte, error) {
	return json.Marshal(SummaryDoc{
		RaceID:          raceID,
		CycleSeed:       cycleSeed,
		CycleN:          cycleN,
		TotalTicks:      totalTicks,
		WinnerID:        outcome.WinnerID,
		FinishOrder:     outcome.FinishOrder,
		FinishTimesMs:   outcome.FinishTimesMs,
		FinishTickIndex: outcome.FinishTickIndex,
		Checksum:        outcome.Checksum,
	})
}

// UnmarshalSummary decodes a SummaryDoc.
func UnmarshalSummary(body []byte) (SummaryDoc, error) {
	var doc SummaryDoc
	err := json.Unmarshal(body, &doc)
	return doc, err
}

// MarshalPaths encodes the base horse paths as persisted under KeyPaths.
func MarshalPaths(paths []pathbuilder.Path) ([]byte, error) {
	return json.Marshal(paths)
}

// UnmarshalPaths decodes the base horse paths.
func UnmarshalPaths(body []byte) ([]pathbuilder.Path, error) {
	var paths []pathbuilder.Path
	err := json.Unmarshal(body, &paths)
	return paths, err
}

// MarshalTimeline flattens a scheduler.Timeline into its persisted form.
func MarshalTimeline(totalTicks int, timeline *scheduler.Timeline) ([]byte, error) {
	doc := TimelineDoc{TotalTicks: totalTicks}
	timeline.Each(func(tick int, instances []scheduler.Instance) {
		for _, inst := range instances {
			doc.Instances = append(doc.Instances, TimelineInstanceDoc{
				EntryID:    inst.EntryID,
				TickIndex:  inst.TickIndex,
				InstanceID: inst.InstanceID,
				Occurrence: inst.Occurrence,
			})
		}
	})
	return json.Marshal(doc)
}

// UnmarshalTimeline rebuilds a scheduler.Timeline from its persisted form.
func UnmarshalTimeline(body []byte) (*scheduler.Timeline, error) {
	var doc TimelineDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	instances := make([]scheduler.Instance, len(doc.Instances))
	for i, d := range doc.Instances {
		instances[i] = scheduler.Instance{EntryID: d.EntryID, TickIndex: d.TickIndex, InstanceID: d.InstanceID, Occurrence: d.Occurrence}
	}
	return scheduler.FromInstances(doc.TotalTicks, instances), nil
}

// MarshalTicks encodes the final tick matrix as persisted under KeyTicks.
func MarshalTicks(matrix applier.Matrix) ([]byte, error) {
	return json.Marshal(matrix)
}

// UnmarshalTicks decodes the final tick matrix.
func UnmarshalTicks(body []byte) (applier.Matrix, error) {
	var matrix applier.Matrix
	err := json.Unmarshal(body, &matrix)
	return matrix, err
}
