package replay

import (
	"sync"
	"sync/atomic"

	"github.com/drpcorg/replay/utils"
)

// Reducer applies one intent to the model and emits the events describing
// what changed. Reducers must be pure and deterministic: the same model and
// the same ordered intents always produce the same model and the same event
// sequence. Reconciliation replays intents on the assumption that this
// holds; a non-deterministic reducer cannot be detected at runtime and
// breaks convergence silently.
type Reducer[M, I, E any] func(model *M, intent I, emit func(E))

// Middleware brackets every pump: Before sees the pre-mutation model and the
// intent snapshot, After sees the post-mutation model, the snapshot and the
// emitted batch. The store owns its middleware list outright; hooks run in
// registration order.
type Middleware[M, I, E any] interface {
	Before(model *M, intents []I)
	After(model *M, intents []I, events []E)
}

// Observer receives the model after a state-changing pump together with the
// events of that pump. On registration it fires once immediately with the
// current model and no events.
type Observer[M, E any] func(model *M, events []E)

// Token cancels an observer registration.
type Token int64

// Store owns a model and advances it by feeding queued intents through its
// reducers. All entry points serialize on one mutex: the model is mutated in
// place with no isolation between a reader and the pump, so hosts with a
// render thread and a network thread get correctness from the lock rather
// than from copies.
//
// Observers fire after the pump completes and the lock is released; they
// never see a half-applied batch. An observer must not call back into the
// store synchronously.
type Store[M, I, E any] struct {
	lock sync.Mutex

	model       M
	queue       []I
	reducers    []Reducer[M, I, E]
	middlewares []Middleware[M, I, E]

	observers map[Token]Observer[M, E]
	obsOrder  []Token
	nextToken Token

	hub *Hub[E]
	log utils.Logger

	pumps   atomic.Int64
	applied atomic.Int64
	emitted atomic.Int64
}

func NewStore[M, I, E any](model M, log utils.Logger) *Store[M, I, E] {
	return &Store[M, I, E]{
		model:     model,
		observers: make(map[Token]Observer[M, E]),
		log:       log,
	}
}

// AddReducer registers a reducer instance. Pumps run reducers in
// registration order.
func (s *Store[M, I, E]) AddReducer(r Reducer[M, I, E]) {
	s.lock.Lock()
	s.reducers = append(s.reducers, r)
	s.lock.Unlock()
}

// Use installs a before/after middleware pair.
func (s *Store[M, I, E]) Use(mw Middleware[M, I, E]) {
	s.lock.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.lock.Unlock()
}

// SetHub attaches an event hub that receives every emitted event, both one
// by one and as the pump's grouped batch.
func (s *Store[M, I, E]) SetHub(hub *Hub[E]) {
	s.lock.Lock()
	s.hub = hub
	s.lock.Unlock()
}

// Push enqueues an intent without running the reducers.
func (s *Store[M, I, E]) Push(intent I) {
	s.lock.Lock()
	s.queue = append(s.queue, intent)
	s.lock.Unlock()
}

// Commit is Push followed by an immediate Pump.
func (s *Store[M, I, E]) Commit(intent I) {
	s.Push(intent)
	s.Pump()
}

// Pump drains the intent queue through middleware and reducers, then fans
// the resulting events out. A no-op when nothing is queued.
func (s *Store[M, I, E]) Pump() {
	s.lock.Lock()
	if len(s.queue) == 0 {
		s.lock.Unlock()
		return
	}
	intents := s.queue
	s.queue = nil

	for _, mw := range s.middlewares {
		mw.Before(&s.model, intents)
	}

	var batch []E
	emit := func(e E) { batch = append(batch, e) }
	for _, intent := range intents {
		for _, r := range s.reducers {
			r(&s.model, intent, emit)
		}
	}

	for _, mw := range s.middlewares {
		mw.After(&s.model, intents, batch)
	}

	s.pumps.Add(1)
	s.applied.Add(int64(len(intents)))
	s.emitted.Add(int64(len(batch)))

	observers, hub := s.snapshotObservers()
	s.lock.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, obs := range observers {
		obs(&s.model, batch)
	}
	if hub != nil {
		hub.Publish(batch)
	}
}

// Reset replaces the model wholesale and fans the given authoritative
// events out to observers and the hub without reducing anything. This is
// the reconciliation entry point.
func (s *Store[M, I, E]) Reset(model M, events []E) {
	s.lock.Lock()
	s.model = model
	observers, hub := s.snapshotObservers()
	s.lock.Unlock()

	for _, obs := range observers {
		obs(&s.model, events)
	}
	if hub != nil && len(events) > 0 {
		hub.Publish(events)
	}
}

// Observe registers a state observer. It fires once right away with the
// current model, then after every state-changing pump.
func (s *Store[M, I, E]) Observe(obs Observer[M, E]) Token {
	s.lock.Lock()
	tok := s.nextToken
	s.nextToken++
	s.observers[tok] = obs
	s.obsOrder = append(s.obsOrder, tok)
	s.lock.Unlock()

	obs(&s.model, nil)
	return tok
}

// Cancel removes the observer registered under the token.
func (s *Store[M, I, E]) Cancel(tok Token) {
	s.lock.Lock()
	delete(s.observers, tok)
	for i, t := range s.obsOrder {
		if t == tok {
			s.obsOrder = append(s.obsOrder[:i], s.obsOrder[i+1:]...)
			break
		}
	}
	s.lock.Unlock()
}

// View runs f with the model under the store lock.
func (s *Store[M, I, E]) View(f func(model *M)) {
	s.lock.Lock()
	f(&s.model)
	s.lock.Unlock()
}

// snapshotObservers copies the fan-out targets in registration order.
// Callers hold the lock.
func (s *Store[M, I, E]) snapshotObservers() ([]Observer[M, E], *Hub[E]) {
	observers := make([]Observer[M, E], 0, len(s.obsOrder))
	for _, tok := range s.obsOrder {
		if obs, ok := s.observers[tok]; ok {
			observers = append(observers, obs)
		}
	}
	return observers, s.hub
}

func (s *Store[M, I, E]) Pumps() int64   { return s.pumps.Load() }
func (s *Store[M, I, E]) Applied() int64 { return s.applied.Load() }
func (s *Store[M, I, E]) Emitted() int64 { return s.emitted.Load() }

// Hub is an explicit, injected event bus: subscribers get every event one by
// one, batch subscribers get each pump's events as one slice. It replaces
// any notion of a process-global event singleton; the composing application
// owns it and passes it where needed.
type Hub[E any] struct {
	lock  sync.Mutex
	subs  map[Token]func(E)
	batch map[Token]func([]E)
	next  Token
}

func NewHub[E any]() *Hub[E] {
	return &Hub[E]{
		subs:  make(map[Token]func(E)),
		batch: make(map[Token]func([]E)),
	}
}

// Subscribe registers a per-event handler.
func (h *Hub[E]) Subscribe(f func(E)) Token {
	h.lock.Lock()
	defer h.lock.Unlock()
	tok := h.next
	h.next++
	h.subs[tok] = f
	return tok
}

// SubscribeBatch registers a per-pump batch handler.
func (h *Hub[E]) SubscribeBatch(f func([]E)) Token {
	h.lock.Lock()
	defer h.lock.Unlock()
	tok := h.next
	h.next++
	h.batch[tok] = f
	return tok
}

func (h *Hub[E]) Cancel(tok Token) {
	h.lock.Lock()
	delete(h.subs, tok)
	delete(h.batch, tok)
	h.lock.Unlock()
}

// Publish fans a batch out: individual subscribers see each event in order,
// batch subscribers see the whole slice once.
func (h *Hub[E]) Publish(events []E) {
	if len(events) == 0 {
		return
	}
	h.lock.Lock()
	subs := make([]func(E), 0, len(h.subs))
	for _, f := range h.subs {
		subs = append(subs, f)
	}
	batch := make([]func([]E), 0, len(h.batch))
	for _, f := range h.batch {
		batch = append(batch, f)
	}
	h.lock.Unlock()

	for _, f := range subs {
		for _, e := range events {
			f(e)
		}
	}
	for _, f := range batch {
		f(events)
	}
}
