package broadcast

import (
	"encoding/binary"
	"math"

	"github.com/sugawarayuuta/sonnet"

	"raceline/internal/applier"
)

// ProtoVer is the wire protocol version stamped on every frame (spec.md
// §4.6). Bump it whenever the envelope or payload shapes change
// incompatibly.
const ProtoVer = 1

// FrameType names one of the streaming transport message types (spec.md
// §4.6 "Message types").
type FrameType string

const (
	FrameInfo         FrameType = "info"
	FrameStart        FrameType = "race:start"
	FrameTick         FrameType = "race:tick"
	FrameKeyframe     FrameType = "race:keyframe"
	FrameDelta        FrameType = "race:delta"
	FrameFinish       FrameType = "race:finish"
	FrameCatchup      FrameType = "race:catchup"
	FrameSyncComplete FrameType = "race:sync-complete"
	FrameError        FrameType = "error"
)

// Mode selects whether a subscriber receives full position snapshots every
// tick (plain) or keyframe+delta encoding (delta), per spec.md §4.6
// "Encoding modes".
type Mode string

const (
	ModePlain Mode = "plain"
	ModeDelta Mode = "delta"
)

// Envelope is the JSON header shared by every frame type. Payload carries
// the type-specific body. Sig/KeyID are populated only when signing is
// enabled (spec.md §4.6 "Signing"); they are cleared before the signature
// itself is computed.
type Envelope struct {
	Type      FrameType `json:"type"`
	Seq       uint64    `json:"seq,omitempty"`
	TickIndex int       `json:"tickIndex,omitempty"`
	TickTs    int64     `json:"tickTs,omitempty"`
	ProtoVer  int       `json:"protoVer,omitempty"`
	RaceID    string    `json:"raceId,omitempty"`
	Binary    bool      `json:"binary,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Sig       string    `json:"sig,omitempty"`
	KeyID     string    `json:"keyId,omitempty"`
}

// HorsePosition is one horse's full state, used by info/tick/keyframe/
// catchup frames.
type HorsePosition struct {
	HorseID      string   `json:"horseId"`
	Position     float64  `json:"position"`
	Lane         int      `json:"lane"`
	Speed        float64  `json:"speed"`
	IsStunned    bool     `json:"isStunned,omitempty"`
	IsRemoved    bool     `json:"isRemoved,omitempty"`
	ActiveEvents []string `json:"activeEvents,omitempty"`
}

// HorseDelta is one horse's change since the last keyframe, used by
// race:delta frames.
type HorseDelta struct {
	HorseID      string   `json:"horseId"`
	DPos         float64  `json:"dPos"`
	Lane         int      `json:"lane"`
	IsStunned    bool     `json:"isStunned,omitempty"`
	IsRemoved    bool     `json:"isRemoved,omitempty"`
	ActiveEvents []string `json:"activeEvents,omitempty"`
}

// StartPayload announces a new race (race:start).
type StartPayload struct {
	RaceID      string   `json:"raceId"`
	CycleSeed   string   `json:"cycleSeed"`
	HorseIDs    []string `json:"horseIds"`
	TrackLength float64  `json:"trackLength"`
	FinishLine  float64  `json:"finishLine"`
	TotalTicks  int      `json:"totalTicks"`
	TickMs      int      `json:"tickMs"`
}

// SnapshotPayload carries full per-horse positions, used by tick/keyframe/
// info frames.
type SnapshotPayload struct {
	RaceID string          `json:"raceId"`
	Horses []HorsePosition `json:"horses"`
}

// DeltaPayload carries per-horse position changes since the last keyframe.
type DeltaPayload struct {
	RaceID string       `json:"raceId"`
	Deltas []HorseDelta `json:"deltas"`
}

// FinishPayload announces race completion (race:finish).
type FinishPayload struct {
	RaceID          string             `json:"raceId"`
	WinnerID        string             `json:"winnerId"`
	FinishOrder     []string           `json:"finishOrder"`
	FinishTimesMs   map[string]float64 `json:"finishTimesMs"`
	FinishTickIndex int                `json:"finishTickIndex"`
	Checksum        string             `json:"checksum"`
}

// CatchupPayload replays a bounded tick range on request (race:catchup).
type CatchupPayload struct {
	RaceID          string          `json:"raceId"`
	FromTick        int             `json:"fromTick"`
	ToTick          int             `json:"toTick"`
	Ticks           [][]HorsePosition `json:"ticks"`
	CurrentTickIdx  int             `json:"currentTickIndex"`
}

// ErrorPayload reports a rejected request (type "error").
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toHorsePositions(states []applier.FinalTickState) []HorsePosition {
	out := make([]HorsePosition, len(states))
	for i, s := range states {
		out[i] = HorsePosition{
			HorseID:      s.HorseID,
			Position:     round4(s.Position),
			Lane:         s.Lane,
			Speed:        round4(s.Speed),
			IsStunned:    s.IsStunned,
			IsRemoved:    s.IsRemoved,
			ActiveEvents: s.ActiveEvents,
		}
	}
	return out
}

func toHorseDeltas(states []applier.FinalTickState, baseline map[string]float64) []HorseDelta {
	out := make([]HorseDelta, len(states))
	for i, s := range states {
		out[i] = HorseDelta{
			HorseID:      s.HorseID,
			DPos:         round4(s.Position - baseline[s.HorseID]),
			Lane:         s.Lane,
			IsStunned:    s.IsStunned,
			IsRemoved:    s.IsRemoved,
			ActiveEvents: s.ActiveEvents,
		}
	}
	return out
}

func keyframeBaseline(states []applier.FinalTickState) map[string]float64 {
	m := make(map[string]float64, len(states))
	for _, s := range states {
		m[s.HorseID] = s.Position
	}
	return m
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// marshalFrame encodes an envelope with the hot-path JSON codec (spec.md
// §4.6 uses a compact wire format; sonnet is a drop-in encoding/json
// replacement, and this is the only place raceline uses it).
func marshalFrame(env Envelope) ([]byte, error) {
	return sonnet.Marshal(env)
}

// encodeBinary packs an envelope's numeric position/delta series as a
// little-endian float32 array following a JSON header line, per spec.md
// §4.6 "binary mode": header, then newline, then the packed array in horse
// order. encodeBinary sets header.Binary itself; header's Payload must hold
// only the non-numeric fields (ids, lane, flags); values is the parallel float
// series (positions or dPos) in the same horse order.
func encodeBinary(header Envelope, values []float64) ([]byte, error) {
	header.Binary = true
	head, err := marshalFrame(header)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(head)+1+len(values)*4)
	copy(buf, head)
	buf[len(head)] = '\n'
	off := len(head) + 1
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}
	return buf, nil
}

func positionsOf(hp []HorsePosition) []float64 {
	out := make([]float64, len(hp))
	for i, h := range hp {
		out[i] = h.Position
	}
	return out
}

func deltasOf(hd []HorseDelta) []float64 {
	out := make([]float64, len(hd))
	for i, h := range hd {
		out[i] = h.DPos
	}
	return out
}

// binaryHorseMeta strips numeric position/delta fields from a copy of the
// positions, leaving only the metadata a binary-mode receiver needs to zip
// back up with the trailing float32 array.
type binaryHorseMeta struct {
	HorseID      string   `json:"horseId"`
	Lane         int      `json:"lane"`
	IsStunned    bool     `json:"isStunned,omitempty"`
	IsRemoved    bool     `json:"isRemoved,omitempty"`
	ActiveEvents []string `json:"activeEvents,omitempty"`
}

func metaOfPositions(hp []HorsePosition) []binaryHorseMeta {
	out := make([]binaryHorseMeta, len(hp))
	for i, h := range hp {
		out[i] = binaryHorseMeta{HorseID: h.HorseID, Lane: h.Lane, IsStunned: h.IsStunned, IsRemoved: h.IsRemoved, ActiveEvents: h.ActiveEvents}
	}
	return out
}

func metaOfDeltas(hd []HorseDelta) []binaryHorseMeta {
	out := make([]binaryHorseMeta, len(hd))
	for i, h := range hd {
		out[i] = binaryHorseMeta{HorseID: h.HorseID, Lane: h.Lane, IsStunned: h.IsStunned, IsRemoved: h.IsRemoved, ActiveEvents: h.ActiveEvents}
	}
	return out
}
