package replay

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCollector(t *testing.T) {
	store := NewGridStore(testLogger())
	store.Commit(GridMove{Peer: 1, DX: 1, DY: 0})
	store.Commit(GridMove{Peer: 1, DX: 1, DY: 0})

	expected := `
# HELP replay_store_events_emitted_total Total number of events emitted by the reducers
# TYPE replay_store_events_emitted_total counter
replay_store_events_emitted_total 2
# HELP replay_store_intents_applied_total Total number of intents fed through the reducers
# TYPE replay_store_intents_applied_total counter
replay_store_intents_applied_total 2
# HELP replay_store_pumps_total Total number of state-advancing pump cycles
# TYPE replay_store_pumps_total counter
replay_store_pumps_total 2
`
	err := testutil.CollectAndCompare(NewStoreCollector(store), strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestCollectorsRegister(t *testing.T) {
	predictor, pstore := newGridPredictor(1, &captureSender{}, PredictorOptions{})
	authority, _ := newGridAuthority(&captureSender{}, AuthorityOptions{Granted: true})

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(
		NewStoreCollector(pstore),
		NewPredictorCollector(predictor),
		NewAuthorityCollector(authority),
	)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	// 3 store + 5 predictor + 7 authority series
	assert.Equal(t, 15, n)
}
