package replay

import "github.com/drpcorg/replay/utils"

// A small demo triple used by cmd/replay and the tests: walkers on an
// unbounded grid. One position per peer, moved by relative steps.

type GridPoint struct {
	X int64 `cbor:"x"`
	Y int64 `cbor:"y"`
}

type GridModel struct {
	Walkers map[PeerID]GridPoint `cbor:"walkers"`
}

func NewGridModel() GridModel {
	return GridModel{Walkers: make(map[PeerID]GridPoint)}
}

func (m GridModel) Clone() GridModel {
	c := GridModel{Walkers: make(map[PeerID]GridPoint, len(m.Walkers))}
	for peer, pt := range m.Walkers {
		c.Walkers[peer] = pt
	}
	return c
}

// GridMove asks to step a walker by a relative offset.
type GridMove struct {
	Peer PeerID `cbor:"peer"`
	DX   int64  `cbor:"dx"`
	DY   int64  `cbor:"dy"`
}

// GridMoved is the authoritative fact that a walker stepped.
type GridMoved struct {
	Peer PeerID `cbor:"peer"`
	DX   int64  `cbor:"dx"`
	DY   int64  `cbor:"dy"`
}

// GridReducer applies a move and emits the matching event. Pure and
// deterministic, as every reducer must be.
func GridReducer(m *GridModel, intent GridMove, emit func(GridMoved)) {
	if m.Walkers == nil {
		m.Walkers = make(map[PeerID]GridPoint)
	}
	pt := m.Walkers[intent.Peer]
	pt.X += intent.DX
	pt.Y += intent.DY
	m.Walkers[intent.Peer] = pt
	emit(GridMoved{Peer: intent.Peer, DX: intent.DX, DY: intent.DY})
}

// GridApply folds a GridMoved into a model; the client-side counterpart of
// GridReducer.
func GridApply(m *GridModel, ev GridMoved) {
	if m.Walkers == nil {
		m.Walkers = make(map[PeerID]GridPoint)
	}
	pt := m.Walkers[ev.Peer]
	pt.X += ev.DX
	pt.Y += ev.DY
	m.Walkers[ev.Peer] = pt
}

// NewGridStore builds a store with the grid reducer registered.
func NewGridStore(log utils.Logger) *Store[GridModel, GridMove, GridMoved] {
	store := NewStore[GridModel, GridMove, GridMoved](NewGridModel(), log)
	store.AddReducer(GridReducer)
	return store
}
