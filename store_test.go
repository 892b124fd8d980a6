package replay

import (
	"log/slog"
	"testing"

	"github.com/drpcorg/replay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() utils.Logger {
	return utils.NewDefaultLogger(slog.LevelError)
}

func TestStoreCommit(t *testing.T) {
	store := NewGridStore(testLogger())

	store.Commit(GridMove{Peer: 1, DX: 2, DY: 3})
	store.Commit(GridMove{Peer: 1, DX: -1, DY: 0})

	store.View(func(m *GridModel) {
		assert.Equal(t, GridPoint{X: 1, Y: 3}, m.Walkers[1])
	})
	assert.Equal(t, int64(2), store.Pumps())
	assert.Equal(t, int64(2), store.Applied())
	assert.Equal(t, int64(2), store.Emitted())
}

func TestStorePushThenPump(t *testing.T) {
	store := NewGridStore(testLogger())

	store.Push(GridMove{Peer: 1, DX: 1, DY: 0})
	store.Push(GridMove{Peer: 1, DX: 1, DY: 0})
	store.View(func(m *GridModel) {
		assert.Equal(t, 0, len(m.Walkers))
	})

	store.Pump()
	store.View(func(m *GridModel) {
		assert.Equal(t, GridPoint{X: 2, Y: 0}, m.Walkers[1])
	})
	assert.Equal(t, int64(1), store.Pumps())
	assert.Equal(t, int64(2), store.Applied())

	// nothing queued, nothing counted
	store.Pump()
	assert.Equal(t, int64(1), store.Pumps())
}

func TestStoreIntentOrder(t *testing.T) {
	store := NewStore[GridModel, GridMove, GridMoved](NewGridModel(), testLogger())

	var order []string
	store.AddReducer(func(m *GridModel, in GridMove, emit func(GridMoved)) {
		order = append(order, "first")
	})
	store.AddReducer(func(m *GridModel, in GridMove, emit func(GridMoved)) {
		order = append(order, "second")
	})

	store.Push(GridMove{Peer: 1})
	store.Push(GridMove{Peer: 2})
	store.Pump()

	// all reducers see an intent before the next intent is touched
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestStoreObserver(t *testing.T) {
	store := NewGridStore(testLogger())

	var fired int
	var lastEvents []GridMoved
	tok := store.Observe(func(m *GridModel, events []GridMoved) {
		fired++
		lastEvents = events
	})

	// registration fires once with no events
	assert.Equal(t, 1, fired)
	assert.Nil(t, lastEvents)

	store.Commit(GridMove{Peer: 1, DX: 1, DY: 1})
	assert.Equal(t, 2, fired)
	require.Equal(t, 1, len(lastEvents))
	assert.Equal(t, GridMoved{Peer: 1, DX: 1, DY: 1}, lastEvents[0])

	// an empty pump is not a state change
	store.Pump()
	assert.Equal(t, 2, fired)

	store.Cancel(tok)
	store.Commit(GridMove{Peer: 1, DX: 1, DY: 1})
	assert.Equal(t, 2, fired)
}

type recordingMiddleware struct {
	befores [][]GridMove
	afters  [][]GridMoved
}

func (mw *recordingMiddleware) Before(m *GridModel, intents []GridMove) {
	mw.befores = append(mw.befores, intents)
}

func (mw *recordingMiddleware) After(m *GridModel, intents []GridMove, events []GridMoved) {
	mw.afters = append(mw.afters, events)
}

func TestStoreMiddleware(t *testing.T) {
	store := NewGridStore(testLogger())
	mw := &recordingMiddleware{}
	store.Use(mw)

	store.Push(GridMove{Peer: 1, DX: 1, DY: 0})
	store.Push(GridMove{Peer: 2, DX: 0, DY: 1})
	store.Pump()

	require.Equal(t, 1, len(mw.befores))
	assert.Equal(t, 2, len(mw.befores[0]))
	require.Equal(t, 1, len(mw.afters))
	assert.Equal(t, 2, len(mw.afters[0]))
}

func TestStoreReset(t *testing.T) {
	store := NewGridStore(testLogger())
	store.Commit(GridMove{Peer: 1, DX: 5, DY: 5})

	var seen []GridMoved
	store.Observe(func(m *GridModel, events []GridMoved) {
		seen = events
	})

	fresh := NewGridModel()
	fresh.Walkers[2] = GridPoint{X: 9, Y: 9}
	store.Reset(fresh, []GridMoved{{Peer: 2, DX: 9, DY: 9}})

	store.View(func(m *GridModel) {
		assert.Equal(t, 1, len(m.Walkers))
		assert.Equal(t, GridPoint{X: 9, Y: 9}, m.Walkers[2])
	})
	require.Equal(t, 1, len(seen))
	assert.Equal(t, PeerID(2), seen[0].Peer)
}

func TestHub(t *testing.T) {
	hub := NewHub[GridMoved]()

	var singles []GridMoved
	var batches int
	hub.Subscribe(func(e GridMoved) { singles = append(singles, e) })
	tok := hub.SubscribeBatch(func(evs []GridMoved) { batches++ })

	hub.Publish([]GridMoved{{Peer: 1}, {Peer: 2}})
	assert.Equal(t, 2, len(singles))
	assert.Equal(t, 1, batches)

	hub.Publish(nil)
	assert.Equal(t, 1, batches)

	hub.Cancel(tok)
	hub.Publish([]GridMoved{{Peer: 3}})
	assert.Equal(t, 3, len(singles))
	assert.Equal(t, 1, batches)
}

func TestStoreHubFanout(t *testing.T) {
	store := NewGridStore(testLogger())
	hub := NewHub[GridMoved]()
	store.SetHub(hub)

	var got []GridMoved
	hub.Subscribe(func(e GridMoved) { got = append(got, e) })

	store.Commit(GridMove{Peer: 4, DX: 1, DY: 2})
	require.Equal(t, 1, len(got))
	assert.Equal(t, GridMoved{Peer: 4, DX: 1, DY: 2}, got[0])
}
