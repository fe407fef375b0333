// Package broadcast implements the real-time frame fabric (spec.md §4.6,
// component C6): sequencing, plain/delta/binary encoding, optional Ed25519
// signing, per-subscriber back-pressure, and bounded catch-up replay. It
// consumes the already-precomputed cycle.Race the tick driver publishes and
// never performs any blocking I/O on the tick path — BroadcastTick only
// pushes onto in-memory FrameQueues; subscriber transports drain them from
// their own goroutines.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"raceline/internal/applier"
	"raceline/internal/cycle"
	"raceline/internal/telemetry"
	"raceline/logging"
)

// DefaultQueueCapacity is the per-subscriber outbound frame depth.
const DefaultQueueCapacity = 64

// MaxCatchupTicks bounds how far back a sync:request may reach (spec.md
// §4.6 "Catch-up").
const MaxCatchupTicks = 50

// DefaultCatchupWindow is how many prior ticks are replayed when a
// subscriber's sync:request omits fromTick.
const DefaultCatchupWindow = 10

// SyncRequestInterval rate-limits sync:request handling per subscriber.
const SyncRequestInterval = 2 * time.Second

// SubscriberOptions are the connect-time parameters a subscriber selects
// (spec.md §4.6 "Connection parameters").
type SubscriberOptions struct {
	Binary bool
	Mode   Mode
	Token  string
}

// Subscriber is one connected frame consumer. Transports (internal/
// broadcast/ws) own the network side; Subscriber only owns the outbound
// queue and per-subscriber protocol state.
type Subscriber struct {
	ID   string
	Opts SubscriberOptions

	queue *FrameQueue

	mu            sync.Mutex
	needsKeyframe bool
	lastSyncAt    time.Time
	droppedTicks  uint64
}

// Queue exposes the subscriber's outbound frame queue to its transport.
func (s *Subscriber) Queue() *FrameQueue { return s.queue }

// DroppedTicks reports how many tick/delta frames were skipped for this
// subscriber, due to back-pressure or, in delta mode, while it waits for
// its first keyframe.
func (s *Subscriber) DroppedTicks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedTicks
}

// Fabric fans a single running race's tick stream out to every connected
// subscriber (spec.md §4.6). One Fabric serves one Driver.
type Fabric struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	race            *cycle.Race
	seq             uint64
	lastTickIndex   int
	keyframeEvery   int
	backpressure    int64
	queueCapacity   int
	keyframeBaseAt  int
	keyframeBase    map[string]float64

	signer    *Signer
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	publisher logging.Publisher
}

// Config configures a Fabric.
type Config struct {
	KeyframeIntervalTicks int
	BackpressureThreshold int64
	QueueCapacity         int
	Signer                *Signer
	Metrics               telemetry.Metrics
	Logger                telemetry.Logger
	Publisher             logging.Publisher
}

// NewFabric constructs an idle Fabric with no active race.
func NewFabric(cfg Config) *Fabric {
	if cfg.KeyframeIntervalTicks <= 0 {
		cfg.KeyframeIntervalTicks = 20
	}
	if cfg.BackpressureThreshold <= 0 {
		cfg.BackpressureThreshold = 1_000_000
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Fabric{
		subscribers:   make(map[string]*Subscriber),
		keyframeEvery: cfg.KeyframeIntervalTicks,
		backpressure:  cfg.BackpressureThreshold,
		queueCapacity: cfg.QueueCapacity,
		signer:        cfg.Signer,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		publisher:     cfg.Publisher,
	}
}

// Subscribe registers a new subscriber and returns it along with the info
// frame it should be sent immediately (spec.md §4.6 "On connect").
func (f *Fabric) Subscribe(opts SubscriberOptions) (*Subscriber, QueuedFrame) {
	sub := &Subscriber{
		ID:            uuid.NewString(),
		Opts:          opts,
		queue:         NewFrameQueue(f.queueCapacity, f.metrics),
		needsKeyframe: true,
	}
	f.mu.Lock()
	f.subscribers[sub.ID] = sub
	race := f.race
	count := len(f.subscribers)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.Store("broadcast_subscribers_total", uint64(count))
	}

	info := f.infoFrame(race)
	return sub, info
}

// Unsubscribe drops a subscriber's queue and stops it receiving frames.
func (f *Fabric) Unsubscribe(id string) {
	f.mu.Lock()
	delete(f.subscribers, id)
	count := len(f.subscribers)
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.Store("broadcast_subscribers_total", uint64(count))
	}
}

// SubscriberCount reports the number of connected subscribers.
func (f *Fabric) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// KeyframeIntervalTicks reports the delta-mode keyframe cadence, part of
// the public-config interface (spec.md §6).
func (f *Fabric) KeyframeIntervalTicks() int { return f.keyframeEvery }

// BackpressureThreshold reports the outbound-buffer drop threshold in
// bytes, part of the public-config interface (spec.md §6).
func (f *Fabric) BackpressureThreshold() int64 { return f.backpressure }

// SigningInfo reports the active signer's keyId and base64 public key, or
// two empty strings when signing is disabled.
func (f *Fabric) SigningInfo() (keyID, publicKeyBase64 string) {
	if f.signer == nil {
		return "", ""
	}
	return f.signer.KeyID(), f.signer.PublicKeyBase64()
}

func (f *Fabric) nextSeq() uint64 {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	race := f.race
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.Store("broadcast_latest_seq", seq)
		if race != nil {
			f.metrics.Store("broadcast_latest_seq_cycle_n", race.CycleN)
		}
	}
	return seq
}

func (f *Fabric) infoFrame(race *cycle.Race) QueuedFrame {
	env := Envelope{Type: FrameInfo, Seq: f.nextSeq(), ProtoVer: ProtoVer}
	if race != nil {
		env.RaceID = race.RaceID
		env.Payload = SnapshotPayload{RaceID: race.RaceID}
	}
	data, err := f.finalize(env)
	if err != nil {
		f.logger.Printf("broadcast: encode info frame: %v", err)
		data = nil
	}
	return QueuedFrame{Type: string(FrameInfo), Data: data, Critical: true}
}

// BroadcastStart fans out the race:start frame when a new race is
// precomputed. It resets sequencing and per-subscriber keyframe state for
// the new race.
func (f *Fabric) BroadcastStart(race *cycle.Race) {
	f.mu.Lock()
	f.race = race
	f.seq = 0
	f.keyframeBaseAt = -1
	f.keyframeBase = nil
	subs := f.snapshotSubsLocked()
	f.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.needsKeyframe = true
		sub.mu.Unlock()
	}

	env := Envelope{
		Type:      FrameStart,
		Seq:       f.nextSeq(),
		TickIndex: 0,
		ProtoVer:  ProtoVer,
		RaceID:    race.RaceID,
		Payload: StartPayload{
			RaceID:      race.RaceID,
			CycleSeed:   race.CycleSeed,
			HorseIDs:    horseIDs(race),
			TrackLength: race.Config.TrackLength,
			FinishLine:  race.Config.FinishLine,
			TotalTicks:  race.TotalTicks(),
			TickMs:      race.Config.TickMs,
		},
	}
	f.pushAll(subs, env, true)
}

// BroadcastTick fans out one tick's frame to every subscriber. It is called
// synchronously from the driver's OnTick hook and must never block on
// network I/O: Push only touches in-memory ring buffers.
func (f *Fabric) BroadcastTick(tickIndex int, race *cycle.Race) {
	states := race.TickSlice(tickIndex)
	if states == nil {
		return
	}

	f.mu.Lock()
	f.lastTickIndex = tickIndex
	subs := f.snapshotSubsLocked()
	isKeyframeTick := f.keyframeEvery <= 1 || tickIndex%f.keyframeEvery == 0
	if isKeyframeTick {
		f.keyframeBaseAt = tickIndex
		f.keyframeBase = keyframeBaseline(states)
	}
	baseline := f.keyframeBase
	f.mu.Unlock()

	tickTs := race.StartTime.Add(time.Duration(tickIndex) * time.Duration(race.Config.TickMs) * time.Millisecond).UnixMilli()

	var plainEnv, keyframeEnv, deltaEnv *Envelope
	for _, sub := range subs {
		sub.mu.Lock()
		wantsKeyframe := sub.needsKeyframe && isKeyframeTick
		skipDelta := sub.Opts.Mode == ModeDelta && sub.needsKeyframe && !isKeyframeTick
		if wantsKeyframe {
			sub.needsKeyframe = false
		}
		sub.mu.Unlock()

		if skipDelta {
			sub.mu.Lock()
			sub.droppedTicks++
			sub.mu.Unlock()
			continue
		}

		var frame QueuedFrame
		switch {
		case sub.Opts.Mode == ModeDelta && isKeyframeTick:
			if keyframeEnv == nil {
				env := Envelope{Type: FrameKeyframe, Seq: f.nextSeq(), TickIndex: tickIndex, TickTs: tickTs, ProtoVer: ProtoVer, RaceID: race.RaceID, Payload: SnapshotPayload{RaceID: race.RaceID, Horses: toHorsePositions(states)}}
				keyframeEnv = &env
			}
			frame = f.encodeFor(sub, *keyframeEnv, true)
		case sub.Opts.Mode == ModeDelta:
			if deltaEnv == nil {
				env := Envelope{Type: FrameDelta, Seq: f.nextSeq(), TickIndex: tickIndex, TickTs: tickTs, ProtoVer: ProtoVer, RaceID: race.RaceID, Payload: DeltaPayload{RaceID: race.RaceID, Deltas: toHorseDeltas(states, baseline)}}
				deltaEnv = &env
			}
			frame = f.encodeFor(sub, *deltaEnv, false)
		default:
			if plainEnv == nil {
				env := Envelope{Type: FrameTick, Seq: f.nextSeq(), TickIndex: tickIndex, TickTs: tickTs, ProtoVer: ProtoVer, RaceID: race.RaceID, Payload: SnapshotPayload{RaceID: race.RaceID, Horses: toHorsePositions(states)}}
				plainEnv = &env
			}
			frame = f.encodeFor(sub, *plainEnv, false)
		}

		if frame.Data == nil {
			continue
		}
		f.pushOne(sub, frame)
	}
}

// BroadcastFinish fans out the race:finish frame once the race completes.
func (f *Fabric) BroadcastFinish(race *cycle.Race) {
	f.mu.Lock()
	subs := f.snapshotSubsLocked()
	f.mu.Unlock()

	env := Envelope{
		Type:      FrameFinish,
		Seq:       f.nextSeq(),
		TickIndex: race.TotalTicks() - 1,
		ProtoVer:  ProtoVer,
		RaceID:    race.RaceID,
		Payload: FinishPayload{
			RaceID:          race.RaceID,
			WinnerID:        race.Outcome.WinnerID,
			FinishOrder:     race.Outcome.FinishOrder,
			FinishTimesMs:   race.Outcome.FinishTimesMs,
			FinishTickIndex: race.Outcome.FinishTickIndex,
			Checksum:        race.Outcome.Checksum,
		},
	}
	f.pushAll(subs, env, true)

	f.publisher.Publish(context.Background(), logging.Event{
		Type:     "broadcast.finish",
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBroadcast,
		Payload:  map[string]any{"raceId": race.RaceID, "subscribers": len(subs)},
	})
}

// HandleSyncRequest serves a bounded catch-up replay for a reconnecting or
// lagging subscriber (spec.md §4.6 "sync:request"). fromTick nil selects
// the default window. Rate-limited to one accepted call per
// SyncRequestInterval per subscriber; excess calls return an error frame.
func (f *Fabric) HandleSyncRequest(sub *Subscriber, raceID string, fromTick *int) QueuedFrame {
	f.mu.RLock()
	race := f.race
	current := f.lastTickIndex
	f.mu.RUnlock()

	if race == nil || race.RaceID != raceID {
		return f.errorFrame("unknown_race", fmt.Sprintf("no active race %q", raceID))
	}

	sub.mu.Lock()
	now := time.Now()
	if !sub.lastSyncAt.IsZero() && now.Sub(sub.lastSyncAt) < SyncRequestInterval {
		sub.mu.Unlock()
		return f.errorFrame("rate_limited", "sync:request exceeds one call per 2s")
	}
	sub.lastSyncAt = now
	sub.mu.Unlock()

	from := current - DefaultCatchupWindow
	if fromTick != nil {
		from = *fromTick
	}
	if from < current-MaxCatchupTicks {
		from = current - MaxCatchupTicks
	}
	if from < 0 {
		from = 0
	}
	if from > current {
		from = current
	}

	ticks := make([][]HorsePosition, 0, current-from+1)
	for t := from; t <= current; t++ {
		states := race.TickSlice(t)
		if states == nil {
			break
		}
		ticks = append(ticks, toHorsePositions(states))
	}

	env := Envelope{
		Type:      FrameCatchup,
		Seq:       f.nextSeq(),
		TickIndex: current,
		ProtoVer:  ProtoVer,
		RaceID:    race.RaceID,
		Payload:   CatchupPayload{RaceID: race.RaceID, FromTick: from, ToTick: current, Ticks: ticks, CurrentTickIdx: current},
	}

	sub.mu.Lock()
	sub.needsKeyframe = true // next tick/delta must re-anchor with a keyframe
	sub.mu.Unlock()

	return f.encodeFor(sub, env, true)
}

// syncCompleteFrame marks the end of a catch-up sequence.
func (f *Fabric) syncCompleteFrame(raceID string) QueuedFrame {
	env := Envelope{Type: FrameSyncComplete, Seq: f.nextSeq(), ProtoVer: ProtoVer, RaceID: raceID}
	data, err := f.finalize(env)
	if err != nil {
		return QueuedFrame{}
	}
	return QueuedFrame{Type: string(FrameSyncComplete), Data: data, Critical: true}
}

// SyncComplete is the exported form of syncCompleteFrame for transports.
func (f *Fabric) SyncComplete(raceID string) QueuedFrame { return f.syncCompleteFrame(raceID) }

func (f *Fabric) errorFrame(code, message string) QueuedFrame {
	env := Envelope{Type: FrameError, Seq: f.nextSeq(), ProtoVer: ProtoVer, Payload: ErrorPayload{Code: code, Message: message}}
	data, err := f.finalize(env)
	if err != nil {
		return QueuedFrame{}
	}
	return QueuedFrame{Type: string(FrameError), Data: data, Critical: true}
}

func (f *Fabric) snapshotSubsLocked() []*Subscriber {
	out := make([]*Subscriber, 0, len(f.subscribers))
	for _, s := range f.subscribers {
		out = append(out, s)
	}
	return out
}

func (f *Fabric) pushAll(subs []*Subscriber, env Envelope, critical bool) {
	for _, sub := range subs {
		frame := f.encodeFor(sub, env, critical)
		if frame.Data == nil {
			continue
		}
		f.pushOne(sub, frame)
	}
}

func (f *Fabric) pushOne(sub *Subscriber, frame QueuedFrame) {
	if !frame.Critical && sub.queue.BufferedBytes() > f.backpressure {
		sub.mu.Lock()
		sub.droppedTicks++
		sub.mu.Unlock()
		if f.metrics != nil {
			f.metrics.Add("broadcast_backpressure_drops_total", 1)
		}
		return
	}
	if !sub.queue.Push(frame) {
		if f.metrics != nil {
			f.metrics.Add("broadcast_queue_drops_total", 1)
		}
	}
}

// encodeFor renders env for one subscriber's chosen wire format (plain
// JSON, or JSON header + packed float32 array in binary mode), attaching a
// signature when the fabric has a signer configured. critical marks frames
// that must never be back-pressure dropped.
func (f *Fabric) encodeFor(sub *Subscriber, env Envelope, critical bool) QueuedFrame {
	var data []byte
	var err error
	if sub.Opts.Binary {
		data, err = f.encodeBinaryFor(env)
	} else {
		data, err = f.finalize(env)
	}
	if err != nil {
		f.logger.Printf("broadcast: encode frame for %s: %v", sub.ID, err)
		return QueuedFrame{}
	}
	return QueuedFrame{Type: string(env.Type), Data: data, Critical: critical}
}

func (f *Fabric) encodeBinaryFor(env Envelope) ([]byte, error) {
	switch p := env.Payload.(type) {
	case SnapshotPayload:
		header := env
		header.Payload = SnapshotPayload{RaceID: p.RaceID, Horses: nil}
		meta := struct {
			RaceID string            `json:"raceId"`
			Horses []binaryHorseMeta `json:"horses"`
		}{RaceID: p.RaceID, Horses: metaOfPositions(p.Horses)}
		header.Payload = meta
		return encodeBinary(header, positionsOf(p.Horses))
	case DeltaPayload:
		header := env
		meta := struct {
			RaceID string            `json:"raceId"`
			Deltas []binaryHorseMeta `json:"deltas"`
		}{RaceID: p.RaceID, Deltas: metaOfDeltas(p.Deltas)}
		header.Payload = meta
		return encodeBinary(header, deltasOf(p.Deltas))
	default:
		return f.finalize(env)
	}
}

// finalize signs (if configured) and marshals env to its final wire bytes.
func (f *Fabric) finalize(env Envelope) ([]byte, error) {
	if f.signer == nil {
		return marshalFrame(env)
	}
	env.Sig = ""
	env.KeyID = ""
	body, err := marshalFrame(env)
	if err != nil {
		return nil, err
	}
	env.Sig = f.signer.Sign(body)
	env.KeyID = f.signer.KeyID()
	return marshalFrame(env)
}

func horseIDs(race *cycle.Race) []string {
	out := make([]string, len(race.Paths))
	for i, p := range race.Paths {
		out[i] = p.HorseID
	}
	return out
}

// snapshotStates is a small helper kept for callers that need a defensive
// copy of a tick's states before mutating envelopes derived from it.
func snapshotStates(states []applier.FinalTickState) []applier.FinalTickState {
	out := make([]applier.FinalTickState, len(states))
	copy(out, states)
	return out
}
