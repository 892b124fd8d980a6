package replay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/drpcorg/replay/protocol"
	"github.com/drpcorg/replay/utils"
)

var ErrNotAuthority = errors.New("this process does not hold authority")

// Journaler persists authority output for restart recovery. Snapshots are
// stored as complete 'S' envelopes so a restore recovers the ack table along
// with the model. Implemented by package journal; the core only knows this
// contract.
type Journaler interface {
	SaveSnapshot(tick int64, snapshot []byte) error
	AppendIntent(tick int64, blob []byte) error
}

type AuthorityOptions struct {
	// Granted marks this process as the authority. Broadcast and snapshot
	// paths refuse to run without it.
	Granted bool
	// SnapshotEvery, when positive, follows every Nth broadcast with a full
	// snapshot as a standing desync correction.
	SnapshotEvery int64
	// Journal, when set, receives every snapshot and every applied intent
	// blob.
	Journal Journaler
}

// Authority is the single source of truth: it applies client intents
// through its store and is the only component that broadcasts events and
// snapshots. Intents are deduplicated by the per-peer ack watermark, so
// redelivery on an unreliable channel never applies an intent twice.
//
// The store must be driven through the Authority (OnIntentBlobs, Commit);
// the broadcast middleware it installs assumes the authority lock is held.
type Authority[M Cloner[M], I, E any] struct {
	lock sync.Mutex

	store *Store[M, I, E]
	acks  Acks
	tick  int64

	out   Sender
	codec Codec
	opts  AuthorityOptions
	log   utils.Logger

	applied     atomic.Int64
	stale       atomic.Int64
	broadcasts  atomic.Int64
	snapshots   atomic.Int64
	decodeDrops atomic.Int64
}

// NewAuthority wires the store's after-middleware to broadcast every
// non-empty event batch, so intent intake and broadcast are coupled by
// construction rather than by caller discipline.
func NewAuthority[M Cloner[M], I, E any](
	store *Store[M, I, E],
	codec Codec,
	out Sender,
	log utils.Logger,
	opts AuthorityOptions,
) *Authority[M, I, E] {
	a := &Authority[M, I, E]{
		store: store,
		acks:  make(Acks),
		out:   out,
		codec: codec,
		opts:  opts,
		log:   log,
	}
	store.Use(&broadcastMiddleware[M, I, E]{a})
	return a
}

// broadcastMiddleware runs inside Pump while the authority lock is held by
// the caller that pumped.
type broadcastMiddleware[M Cloner[M], I, E any] struct {
	a *Authority[M, I, E]
}

func (mw *broadcastMiddleware[M, I, E]) Before(model *M, intents []I) {}

func (mw *broadcastMiddleware[M, I, E]) After(model *M, intents []I, events []E) {
	if len(events) == 0 {
		return
	}
	if err := mw.a.broadcast(model, events); err != nil {
		mw.a.log.Error("authority: broadcast failed", "err", err)
	}
}

// OnIntentBlobs drains a set of received intent records: watermark-check,
// decode, push; one pump after the whole set. Malformed or stale blobs are
// dropped, never fatal.
func (a *Authority[M, I, E]) OnIntentBlobs(recs protocol.Records) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	for _, rec := range recs {
		blob, err := ParseIntentBlob(rec)
		if err != nil {
			a.decodeDrops.Add(1)
			a.log.Warn("authority: dropping bad intent blob", "err", err)
			continue
		}
		if blob.Seq <= a.acks.Get(blob.From) {
			// duplicate or stale: ack bookkeeping already covers it
			a.stale.Add(1)
			continue
		}

		var intent I
		if err := a.codec.Decode(blob.Payload, &intent); err != nil {
			a.decodeDrops.Add(1)
			a.log.Warn("authority: dropping undecodable intent",
				"peer", blob.From, "seq", blob.Seq, "err", err)
			continue
		}

		a.acks.Put(blob.From, blob.Seq)
		a.store.Push(intent)
		a.applied.Add(1)

		if a.opts.Journal != nil {
			if err := a.opts.Journal.AppendIntent(a.tick, rec); err != nil {
				a.log.Error("authority: journal append failed", "err", err)
			}
		}
	}

	a.store.Pump()
	return nil
}

// Commit feeds server-local intents through the same pump-and-broadcast
// path as client intents. Local intents carry no peer sequence, so the ack
// table is untouched.
func (a *Authority[M, I, E]) Commit(intents ...I) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, intent := range intents {
		a.store.Push(intent)
	}
	a.store.Pump()
}

// broadcast ships one event batch. Caller holds the authority lock.
func (a *Authority[M, I, E]) broadcast(model *M, events []E) error {
	if !a.opts.Granted {
		return ErrNotAuthority
	}
	if len(events) == 0 {
		return nil
	}

	encoded := make([][]byte, len(events))
	for i := range events {
		data, err := a.codec.Encode(events[i])
		if err != nil {
			return err
		}
		encoded[i] = data
	}

	a.tick++
	batch := EventBatch{Tick: a.tick, Acks: a.acks.Clone(), Events: encoded}
	if err := a.out.Send(protocol.Records{batch.Record()}); err != nil {
		return err
	}
	a.broadcasts.Add(1)

	if a.opts.SnapshotEvery > 0 && a.broadcasts.Load()%a.opts.SnapshotEvery == 0 {
		data, err := a.codec.Encode(*model)
		if err != nil {
			return err
		}
		rec, err := a.snapshotRecord(data)
		if err != nil {
			return err
		}
		return a.out.Send(protocol.Records{rec})
	}
	return nil
}

// SendSnapshot broadcasts the full model: new-peer catch-up or periodic
// desync correction.
func (a *Authority[M, I, E]) SendSnapshot() error {
	rec, err := a.SnapshotRecord()
	if err != nil {
		return err
	}
	return a.out.Send(protocol.Records{rec})
}

// SnapshotRecord builds an encoded snapshot envelope without sending it,
// for hosts that deliver snapshots over a dedicated reliable channel.
func (a *Authority[M, I, E]) SnapshotRecord() ([]byte, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !a.opts.Granted {
		return nil, ErrNotAuthority
	}
	var data []byte
	var encErr error
	a.store.View(func(model *M) {
		data, encErr = a.codec.Encode(*model)
	})
	if encErr != nil {
		return nil, encErr
	}
	return a.snapshotRecord(data)
}

// snapshotRecord bumps the tick and wraps encoded model bytes. Caller holds
// the authority lock.
func (a *Authority[M, I, E]) snapshotRecord(model []byte) ([]byte, error) {
	a.tick++
	snap := Snapshot{Tick: a.tick, Acks: a.acks.Clone(), Model: model}
	rec := snap.Record()
	if a.opts.Journal != nil {
		if err := a.opts.Journal.SaveSnapshot(a.tick, rec); err != nil {
			a.log.Error("authority: journal snapshot failed", "err", err)
		}
	}
	a.snapshots.Add(1)
	return rec, nil
}

// Restore rewinds the authority to a journaled snapshot envelope: model,
// tick and ack table all come back, so intents redelivered after a restart
// still deduplicate against the restored watermarks.
func (a *Authority[M, I, E]) Restore(rec []byte) error {
	snap, err := ParseSnapshot(rec)
	if err != nil {
		return err
	}
	var m M
	if err := a.codec.Decode(snap.Model, &m); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.tick = snap.Tick
	a.acks = snap.Acks.Clone()
	a.store.Reset(m, nil)
	return nil
}

// Tick returns the current authority tick.
func (a *Authority[M, I, E]) Tick() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.tick
}

// AckedPeers returns a copy of the ack table.
func (a *Authority[M, I, E]) AckedPeers() Acks {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.acks.Clone()
}

func (a *Authority[M, I, E]) Applied() int64     { return a.applied.Load() }
func (a *Authority[M, I, E]) Stale() int64       { return a.stale.Load() }
func (a *Authority[M, I, E]) Broadcasts() int64  { return a.broadcasts.Load() }
func (a *Authority[M, I, E]) Snapshots() int64   { return a.snapshots.Load() }
func (a *Authority[M, I, E]) DecodeDrops() int64 { return a.decodeDrops.Load() }
