package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warrensql_nodes_total",
			Help: "Total number of nodes by role",
		},
		[]string{"role"},
	)

	ShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warrensql_shards_total",
			Help: "Total number of shard copies by state",
		},
		[]string{"state"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warrensql_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warrensql_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warrensql_raft_apply_duration_seconds",
			Help:    "Time taken for one FSM.Apply call",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Routing metrics
	RoutingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warrensql_routing_latency_seconds",
			Help:    "Time taken to resolve a shard for one operation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatch metrics
	DispatchSuccessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warrensql_dispatch_success_total",
			Help: "Total number of rows successfully dispatched",
		},
	)

	DispatchErrorTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warrensql_dispatch_error_total",
			Help: "Total number of rows that failed dispatch",
		},
	)

	DispatchRetryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warrensql_dispatch_retry_total",
			Help: "Total number of shard-send retries attempted",
		},
	)

	// Close-protocol metrics
	CloseTablePhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warrensql_close_table_phase_duration_seconds",
			Help:    "Time taken by each phase of the table-close protocol",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	CloseTableAcknowledgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warrensql_close_table_acknowledged_total",
			Help: "Total number of fully-acknowledged table closes",
		},
	)

	// Peer-finder metrics
	PeerFinderKnownPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warrensql_peer_finder_known_peers",
			Help: "Current size of the peer finder's known-peers set",
		},
	)

	PeerFinderConnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warrensql_peer_finder_connect_attempts_total",
			Help: "Total number of outgoing peer-connection attempts",
		},
	)

	// Broadcast metrics
	BroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warrensql_broadcast_shards_total",
			Help: "Total number of shards touched by broadcast operations, by outcome",
		},
		[]string{"outcome"}, // success, failure, shard_not_available
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RoutingLatency)
	prometheus.MustRegister(DispatchSuccessTotal)
	prometheus.MustRegister(DispatchErrorTotal)
	prometheus.MustRegister(DispatchRetryTotal)
	prometheus.MustRegister(CloseTablePhaseDuration)
	prometheus.MustRegister(CloseTableAcknowledgedTotal)
	prometheus.MustRegister(PeerFinderKnownPeers)
	prometheus.MustRegister(PeerFinderConnectAttemptsTotal)
	prometheus.MustRegister(BroadcastTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
