package replay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors for the three replay roles. They read the atomic counters the
// components keep anyway, so registering them costs nothing on the hot
// path. Register with any prometheus.Registerer:
//
//	reg.MustRegister(replay.NewAuthorityCollector(auth))

type StoreCollector[M, I, E any] struct {
	store *Store[M, I, E]

	pumps   *prometheus.Desc
	applied *prometheus.Desc
	emitted *prometheus.Desc
}

func NewStoreCollector[M, I, E any](store *Store[M, I, E]) *StoreCollector[M, I, E] {
	return &StoreCollector[M, I, E]{
		store: store,
		pumps: prometheus.NewDesc(
			"replay_store_pumps_total",
			"Total number of state-advancing pump cycles",
			nil, nil,
		),
		applied: prometheus.NewDesc(
			"replay_store_intents_applied_total",
			"Total number of intents fed through the reducers",
			nil, nil,
		),
		emitted: prometheus.NewDesc(
			"replay_store_events_emitted_total",
			"Total number of events emitted by the reducers",
			nil, nil,
		),
	}
}

func (c *StoreCollector[M, I, E]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pumps
	ch <- c.applied
	ch <- c.emitted
}

func (c *StoreCollector[M, I, E]) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.pumps, prometheus.CounterValue, float64(c.store.Pumps()))
	ch <- prometheus.MustNewConstMetric(c.applied, prometheus.CounterValue, float64(c.store.Applied()))
	ch <- prometheus.MustNewConstMetric(c.emitted, prometheus.CounterValue, float64(c.store.Emitted()))
}

type PredictorCollector[M Cloner[M], I, E any] struct {
	predictor *Predictor[M, I, E]

	pending     *prometheus.Desc
	commits     *prometheus.Desc
	replays     *prometheus.Desc
	snapshots   *prometheus.Desc
	decodeDrops *prometheus.Desc
}

func NewPredictorCollector[M Cloner[M], I, E any](p *Predictor[M, I, E]) *PredictorCollector[M, I, E] {
	return &PredictorCollector[M, I, E]{
		predictor: p,
		pending: prometheus.NewDesc(
			"replay_predictor_pending_intents",
			"Locally committed intents not yet acknowledged by the authority",
			nil, nil,
		),
		commits: prometheus.NewDesc(
			"replay_predictor_commits_total",
			"Total number of optimistically applied intents",
			nil, nil,
		),
		replays: prometheus.NewDesc(
			"replay_predictor_replays_total",
			"Total number of reconciliations that replayed pending intents",
			nil, nil,
		),
		snapshots: prometheus.NewDesc(
			"replay_predictor_snapshots_total",
			"Total number of absolute snapshot corrections applied",
			nil, nil,
		),
		decodeDrops: prometheus.NewDesc(
			"replay_predictor_decode_drops_total",
			"Total number of authoritative messages dropped as undecodable",
			nil, nil,
		),
	}
}

func (c *PredictorCollector[M, I, E]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.commits
	ch <- c.replays
	ch <- c.snapshots
	ch <- c.decodeDrops
}

func (c *PredictorCollector[M, I, E]) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.predictor.Pending()))
	ch <- prometheus.MustNewConstMetric(c.commits, prometheus.CounterValue, float64(c.predictor.Commits()))
	ch <- prometheus.MustNewConstMetric(c.replays, prometheus.CounterValue, float64(c.predictor.Replays()))
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.CounterValue, float64(c.predictor.Snapshots()))
	ch <- prometheus.MustNewConstMetric(c.decodeDrops, prometheus.CounterValue, float64(c.predictor.DecodeDrops()))
}

type AuthorityCollector[M Cloner[M], I, E any] struct {
	authority *Authority[M, I, E]

	tick        *prometheus.Desc
	ackedPeers  *prometheus.Desc
	applied     *prometheus.Desc
	stale       *prometheus.Desc
	broadcasts  *prometheus.Desc
	snapshots   *prometheus.Desc
	decodeDrops *prometheus.Desc
}

func NewAuthorityCollector[M Cloner[M], I, E any](a *Authority[M, I, E]) *AuthorityCollector[M, I, E] {
	return &AuthorityCollector[M, I, E]{
		authority: a,
		tick: prometheus.NewDesc(
			"replay_authority_tick",
			"Current authority broadcast tick",
			nil, nil,
		),
		ackedPeers: prometheus.NewDesc(
			"replay_authority_acked_peers",
			"Number of peers with at least one acknowledged intent",
			nil, nil,
		),
		applied: prometheus.NewDesc(
			"replay_authority_intents_applied_total",
			"Total number of client intents applied",
			nil, nil,
		),
		stale: prometheus.NewDesc(
			"replay_authority_intents_stale_total",
			"Total number of duplicate or stale intents ignored",
			nil, nil,
		),
		broadcasts: prometheus.NewDesc(
			"replay_authority_broadcasts_total",
			"Total number of event batches broadcast",
			nil, nil,
		),
		snapshots: prometheus.NewDesc(
			"replay_authority_snapshots_total",
			"Total number of snapshots sent",
			nil, nil,
		),
		decodeDrops: prometheus.NewDesc(
			"replay_authority_decode_drops_total",
			"Total number of intent blobs dropped as undecodable",
			nil, nil,
		),
	}
}

func (c *AuthorityCollector[M, I, E]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tick
	ch <- c.ackedPeers
	ch <- c.applied
	ch <- c.stale
	ch <- c.broadcasts
	ch <- c.snapshots
	ch <- c.decodeDrops
}

func (c *AuthorityCollector[M, I, E]) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.tick, prometheus.GaugeValue, float64(c.authority.Tick()))
	ch <- prometheus.MustNewConstMetric(c.ackedPeers, prometheus.GaugeValue, float64(len(c.authority.AckedPeers())))
	ch <- prometheus.MustNewConstMetric(c.applied, prometheus.CounterValue, float64(c.authority.Applied()))
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.CounterValue, float64(c.authority.Stale()))
	ch <- prometheus.MustNewConstMetric(c.broadcasts, prometheus.CounterValue, float64(c.authority.Broadcasts()))
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.CounterValue, float64(c.authority.Snapshots()))
	ch <- prometheus.MustNewConstMetric(c.decodeDrops, prometheus.CounterValue, float64(c.authority.DecodeDrops()))
}
