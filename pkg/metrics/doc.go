/*
Package metrics provides Prometheus metrics collection and exposition
for warrensql.

Metrics are registered at package init and exposed over HTTP for
scraping; the Collector polls cluster state on a ticker to keep the
gauges current between writes.

# Metrics Catalog

Cluster Metrics:

warrensql_nodes_total{role}:
  - Type: Gauge
  - Total nodes by role (master_eligible, data)

warrensql_shards_total{state}:
  - Type: Gauge
  - Total shard copies by routing state (UNASSIGNED, INITIALIZING,
    STARTED, RELOCATING)

Raft Metrics:

warrensql_raft_is_leader:
  - Type: Gauge
  - Whether this node is the Raft leader (1=leader, 0=follower)

warrensql_raft_applied_index:
  - Type: Gauge
  - Last applied Raft log index (tracked here as cluster.State.Version)

warrensql_raft_apply_duration_seconds:
  - Type: Histogram
  - Time taken for one FSM.Apply call

Routing and Dispatch Metrics:

warrensql_routing_latency_seconds:
  - Type: Histogram
  - Time to resolve a shard for one operation

warrensql_dispatch_success_total / warrensql_dispatch_error_total / warrensql_dispatch_retry_total:
  - Type: Counter
  - Row dispatch outcomes

Close-Protocol Metrics:

warrensql_close_table_phase_duration_seconds{phase}:
  - Type: Histogram
  - Duration of each phase of the table-close protocol

warrensql_close_table_acknowledged_total:
  - Type: Counter
  - Fully-acknowledged table closes

Peer-Finder Metrics:

warrensql_peer_finder_known_peers:
  - Type: Gauge
  - Current size of the known-peers set

warrensql_peer_finder_connect_attempts_total:
  - Type: Counter
  - Outgoing peer-connection attempts

Broadcast Metrics:

warrensql_broadcast_shards_total{outcome}:
  - Type: Counter
  - Shards touched by broadcast operations, by outcome (success,
    failure, shard_not_available)

# Usage

	timer := metrics.NewTimer()
	err := dispatch(row)
	timer.ObserveDuration(metrics.RoutingLatency)
	if err != nil {
		metrics.DispatchErrorTotal.Inc()
	} else {
		metrics.DispatchSuccessTotal.Inc()
	}

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
