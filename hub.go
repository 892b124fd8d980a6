package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drpcorg/replay/protocol"
	"github.com/drpcorg/replay/utils"
)

// The hubs adapt the record-stream transport to the replay roles. An
// AuthorityHub keeps one outbound hose per connection and fans every
// broadcast into all of them; a ClientHub keeps a single hose toward the
// authority. Both implement the Sender side for their component and the
// Install/Uninstall callbacks protocol.Net wants.

const feedPollInterval = 2 * time.Millisecond

// hoseSession pumps one connection: Feed polls the outbound queue so the
// writer stays responsive to shutdown, Drain hands inbound records to the
// owning hub.
type hoseSession struct {
	queue *utils.RecordQueue[protocol.Records]
	drain func(ctx context.Context, recs protocol.Records) error
	close func()
}

func (s *hoseSession) Feed(ctx context.Context) (protocol.Records, error) {
	for {
		recs, err := s.queue.Feed()
		if err == nil || !errors.Is(err, utils.ErrWouldBlock) {
			return recs, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(feedPollInterval):
		}
	}
}

func (s *hoseSession) Drain(ctx context.Context, recs protocol.Records) error {
	return s.drain(ctx, recs)
}

// Close runs the hub-provided teardown. Whether the queue dies with the
// session is the hub's call: the authority drops per-connection hoses, the
// client keeps its single hose across reconnects.
func (s *hoseSession) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// AuthorityHub is the authority-side fan-out: every connection gets its own
// bounded hose, every broadcast lands in all of them, and a hose that stops
// draining is dropped rather than allowed to stall the rest.
type AuthorityHub[M Cloner[M], I, E any] struct {
	log utils.Logger

	lock      sync.Mutex
	authority *Authority[M, I, E]
	hoses     map[string]*utils.RecordQueue[protocol.Records]
}

// NewAuthorityHub builds a hub with no authority attached yet; the hub is
// the authority's Sender, so it has to exist first. Attach completes the
// pair.
func NewAuthorityHub[M Cloner[M], I, E any](log utils.Logger) *AuthorityHub[M, I, E] {
	return &AuthorityHub[M, I, E]{
		log:   log,
		hoses: make(map[string]*utils.RecordQueue[protocol.Records]),
	}
}

func (h *AuthorityHub[M, I, E]) Attach(a *Authority[M, I, E]) {
	h.lock.Lock()
	h.authority = a
	h.lock.Unlock()
}

// Install builds the session for a fresh connection and queues a snapshot
// onto it so a late joiner catches up before the first delta arrives.
func (h *AuthorityHub[M, I, E]) Install(name string) protocol.FeedDrainCloser {
	queue := utils.NewRecordQueue[protocol.Records](protocol.MaxOutQueueLen)

	h.lock.Lock()
	if old, ok := h.hoses[name]; ok {
		_ = old.Close()
	}
	h.hoses[name] = queue
	a := h.authority
	h.lock.Unlock()

	if a != nil {
		if rec, err := a.SnapshotRecord(); err == nil {
			_ = queue.Drain(protocol.Records{rec})
		} else if !errors.Is(err, ErrNotAuthority) {
			h.log.Error("hub: couldn't build catch-up snapshot", "name", name, "err", err)
		}
	}

	return &hoseSession{
		queue: queue,
		drain: h.drainIntents,
		close: func() { h.Uninstall(name) },
	}
}

func (h *AuthorityHub[M, I, E]) Uninstall(name string) {
	h.lock.Lock()
	if queue, ok := h.hoses[name]; ok {
		delete(h.hoses, name)
		_ = queue.Close()
	}
	h.lock.Unlock()
}

// drainIntents forwards inbound 'I' records to the authority; anything else
// on this leg is noise and gets dropped.
func (h *AuthorityHub[M, I, E]) drainIntents(ctx context.Context, recs protocol.Records) error {
	h.lock.Lock()
	a := h.authority
	h.lock.Unlock()
	if a == nil {
		return nil
	}

	intents := make(protocol.Records, 0, len(recs))
	for _, rec := range recs {
		if protocol.Lit(rec) != 'I' {
			h.log.Warn("hub: dropping unexpected record on intent leg", "lit", string(protocol.Lit(rec)))
			continue
		}
		intents = append(intents, rec)
	}
	if len(intents) == 0 {
		return nil
	}
	return a.OnIntentBlobs(intents)
}

// Send fans records into every hose. Implements Sender for the Authority. A
// hose over capacity means a receiver that stopped reading; it is dropped
// the way a dead connection would be.
func (h *AuthorityHub[M, I, E]) Send(recs protocol.Records) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	for name, queue := range h.hoses {
		if err := queue.Drain(recs); err != nil {
			h.log.Warn("hub: dropping stalled hose", "name", name, "err", err)
			delete(h.hoses, name)
			_ = queue.Close()
		}
	}
	return nil
}

// Hoses returns the number of live outbound hoses.
func (h *AuthorityHub[M, I, E]) Hoses() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.hoses)
}

// ClientHub is the client-side counterpart: one outbound hose of intent
// blobs, inbound dispatch of deltas and snapshots into the predictor.
type ClientHub[M Cloner[M], I, E any] struct {
	log   utils.Logger
	queue *utils.RecordQueue[protocol.Records]

	lock      sync.Mutex
	predictor *Predictor[M, I, E]
}

func NewClientHub[M Cloner[M], I, E any](log utils.Logger) *ClientHub[M, I, E] {
	return &ClientHub[M, I, E]{
		log:   log,
		queue: utils.NewRecordQueue[protocol.Records](protocol.MaxOutQueueLen),
	}
}

// SetPredictor attaches the predictor once it exists; the hub is usually
// created first because the predictor wants the hub as its Sender.
func (h *ClientHub[M, I, E]) SetPredictor(p *Predictor[M, I, E]) {
	h.lock.Lock()
	h.predictor = p
	h.lock.Unlock()
}

// Send queues intent records toward the authority. Implements Sender.
func (h *ClientHub[M, I, E]) Send(recs protocol.Records) error {
	return h.queue.Drain(recs)
}

func (h *ClientHub[M, I, E]) Install(name string) protocol.FeedDrainCloser {
	return &hoseSession{
		queue: h.queue,
		drain: h.dispatch,
	}
}

func (h *ClientHub[M, I, E]) Uninstall(name string) {}

// dispatch routes authoritative records by envelope type. Undecodable
// records are dropped; a decode failure never kills the connection.
func (h *ClientHub[M, I, E]) dispatch(ctx context.Context, recs protocol.Records) error {
	h.lock.Lock()
	p := h.predictor
	h.lock.Unlock()
	if p == nil {
		return nil
	}

	for _, rec := range recs {
		switch protocol.Lit(rec) {
		case 'E':
			batch, err := ParseEventBatch(rec)
			if err != nil {
				h.log.Warn("hub: dropping bad event batch", "err", err)
				continue
			}
			if err := p.OnEventBatch(batch); err != nil {
				h.log.Warn("hub: dropping undecodable event batch", "err", err)
			}
		case 'S':
			snap, err := ParseSnapshot(rec)
			if err != nil {
				h.log.Warn("hub: dropping bad snapshot", "err", err)
				continue
			}
			if err := p.OnSnapshot(snap); err != nil {
				h.log.Warn("hub: dropping undecodable snapshot", "err", err)
			}
		default:
			h.log.Warn("hub: dropping unexpected record on client leg",
				"lit", string(protocol.Lit(rec)))
		}
	}
	return nil
}
