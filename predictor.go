package replay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/drpcorg/replay/protocol"
	"github.com/drpcorg/replay/utils"
)

var ErrReconciling = errors.New("commit during reconciliation replay")

// Cloner is the copy contract the predictor needs from the model: baseline
// and live model are two genuinely distinct values, so M must know how to
// deep-copy itself.
type Cloner[M any] interface {
	Clone() M
}

// ApplyEvent advances a model by one authoritative event. It is the
// event-side counterpart of the reducer: the authority derives events from
// intents, clients fold those events into their baseline.
type ApplyEvent[M, E any] func(model *M, event E)

// Sender is the transport send path: best-effort, fire-and-forget.
type Sender interface {
	Send(recs protocol.Records) error
}

type PredictorOptions struct {
	// MaxPending caps the unacknowledged intent buffer. When a commit pushes
	// the buffer past the cap, OnStalePending fires; commits are still
	// accepted (the authority going quiet must not brick local play).
	MaxPending int
	// OnStalePending is called with the pending length whenever it exceeds
	// MaxPending. Typical host reaction: request a snapshot resync.
	OnStalePending func(pending int)
}

func (o *PredictorOptions) SetDefaults() {
	if o.MaxPending == 0 {
		o.MaxPending = 4096
	}
}

type pendingIntent[I any] struct {
	seq    int64
	intent I
}

// Predictor makes local intents visible immediately and guarantees eventual
// agreement with the authority. The live model inside the wrapped store runs
// ahead of baseline by exactly the pending (unacknowledged) intents; every
// authoritative batch or snapshot resets the live model to baseline and
// replays what is still pending.
//
// The invariant between the two models: baseline advances only on
// authoritative input; the live model advances on local commits and on
// baseline resets.
type Predictor[M Cloner[M], I, E any] struct {
	lock        sync.Mutex
	reconciling atomic.Bool

	store    *Store[M, I, E]
	baseline M
	nextSeq  int64
	lastTick int64
	pending  []pendingIntent[I]

	peer  PeerID
	out   Sender
	codec Codec
	apply ApplyEvent[M, E]

	opts PredictorOptions
	log  utils.Logger

	commits     atomic.Int64
	replays     atomic.Int64
	snapshots   atomic.Int64
	decodeDrops atomic.Int64
}

// NewPredictor wraps a store whose current model becomes the first baseline.
func NewPredictor[M Cloner[M], I, E any](
	peer PeerID,
	store *Store[M, I, E],
	apply ApplyEvent[M, E],
	codec Codec,
	out Sender,
	log utils.Logger,
	opts PredictorOptions,
) *Predictor[M, I, E] {
	opts.SetDefaults()
	p := &Predictor[M, I, E]{
		store: store,
		peer:  peer,
		out:   out,
		codec: codec,
		apply: apply,
		opts:  opts,
		log:   log,
	}
	store.View(func(model *M) {
		p.baseline = (*model).Clone()
	})
	return p
}

// CommitOne applies an intent optimistically: assign the next sequence
// number, buffer it, ship the blob, then run it through the live store so
// the local player sees it now.
func (p *Predictor[M, I, E]) CommitOne(intent I) error {
	return p.CommitMany([]I{intent})
}

// CommitMany commits a group of intents in order, sharing one wire batch
// and one pump.
func (p *Predictor[M, I, E]) CommitMany(intents []I) error {
	if len(intents) == 0 {
		return nil
	}
	if p.reconciling.Load() {
		return ErrReconciling
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	// encode everything up front so a codec failure mutates nothing
	payloads := make([][]byte, len(intents))
	for i, intent := range intents {
		payload, err := p.codec.Encode(intent)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	recs := make(protocol.Records, 0, len(intents))
	for i, intent := range intents {
		p.nextSeq++
		p.pending = append(p.pending, pendingIntent[I]{seq: p.nextSeq, intent: intent})
		blob := IntentBlob{Seq: p.nextSeq, From: p.peer, Payload: payloads[i]}
		recs = append(recs, blob.Record())
	}

	if err := p.out.Send(recs); err != nil {
		// best-effort transport; the pending buffer keeps the intents alive
		// until an ack proves delivery
		p.log.Warn("predictor: send failed", "err", err, "peer", p.peer)
	}

	for _, intent := range intents {
		p.store.Push(intent)
	}
	p.store.Pump()
	p.commits.Add(int64(len(intents)))

	if len(p.pending) > p.opts.MaxPending {
		p.log.Warn("predictor: pending buffer over cap",
			"pending", len(p.pending), "cap", p.opts.MaxPending)
		if p.opts.OnStalePending != nil {
			p.opts.OnStalePending(len(p.pending))
		}
	}
	return nil
}

// OnEventBatch reconciles against an incremental authoritative broadcast:
// prune acknowledged intents, fold the events into baseline, reset the live
// model to baseline, replay whatever is still pending.
func (p *Predictor[M, I, E]) OnEventBatch(batch *EventBatch) error {
	events := make([]E, len(batch.Events))
	for i, raw := range batch.Events {
		if err := p.codec.Decode(raw, &events[i]); err != nil {
			// drop the whole batch before touching any state
			p.decodeDrops.Add(1)
			return err
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if batch.Tick <= p.lastTick {
		// redelivered or reordered batch; the events are already in baseline
		return nil
	}
	p.lastTick = batch.Tick
	p.reconciling.Store(true)
	defer p.reconciling.Store(false)

	p.prune(batch.Acks.Get(p.peer))
	for i := range events {
		p.apply(&p.baseline, events[i])
	}
	p.store.Reset(p.baseline.Clone(), events)
	p.replayPending()
	return nil
}

// OnSnapshot reconciles against an absolute correction: baseline is
// replaced wholesale instead of advanced.
func (p *Predictor[M, I, E]) OnSnapshot(snap *Snapshot) error {
	var model M
	if err := p.codec.Decode(snap.Model, &model); err != nil {
		p.decodeDrops.Add(1)
		return err
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if snap.Tick <= p.lastTick {
		return nil
	}
	p.lastTick = snap.Tick
	p.reconciling.Store(true)
	defer p.reconciling.Store(false)

	p.prune(snap.Acks.Get(p.peer))
	p.baseline = model
	p.store.Reset(p.baseline.Clone(), nil)
	p.replayPending()
	p.snapshots.Add(1)
	return nil
}

// prune drops the acknowledged prefix of the pending buffer. The watermark
// is absolute, so pruning behind an earlier ack is a no-op, not an error.
func (p *Predictor[M, I, E]) prune(lastAck int64) {
	i := 0
	for i < len(p.pending) && p.pending[i].seq <= lastAck {
		i++
	}
	if i > 0 {
		p.pending = append(p.pending[:0:0], p.pending[i:]...)
	}
}

// replayPending re-applies the unacknowledged intents on top of the fresh
// baseline in one pump. Determinism of the reducer makes this reproduce the
// earlier prediction exactly when the authority agreed with it.
func (p *Predictor[M, I, E]) replayPending() {
	if len(p.pending) == 0 {
		return
	}
	for _, pi := range p.pending {
		p.store.Push(pi.intent)
	}
	p.store.Pump()
	p.replays.Add(1)
}

// Pending returns the unacknowledged intent count.
func (p *Predictor[M, I, E]) Pending() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.pending)
}

// NextSeq returns the last assigned sequence number.
func (p *Predictor[M, I, E]) NextSeq() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.nextSeq
}

// LastTick returns the newest authority tick folded into baseline.
func (p *Predictor[M, I, E]) LastTick() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.lastTick
}

// Baseline returns a copy of the last authority-consistent model.
func (p *Predictor[M, I, E]) Baseline() M {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.baseline.Clone()
}

func (p *Predictor[M, I, E]) Commits() int64     { return p.commits.Load() }
func (p *Predictor[M, I, E]) Replays() int64     { return p.replays.Load() }
func (p *Predictor[M, I, E]) Snapshots() int64   { return p.snapshots.Load() }
func (p *Predictor[M, I, E]) DecodeDrops() int64 { return p.decodeDrops.Load() }
