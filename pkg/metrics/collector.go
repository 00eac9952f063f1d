package metrics

import (
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
)

// StateSource is the read side a Collector samples from: the current
// cluster state plus this node's raft leadership, satisfied by a thin
// adapter over *raft.Raft and *fsm.ClusterFSM at wiring time.
type StateSource interface {
	Current() cluster.State
	IsLeader() bool
}

// Collector periodically samples cluster state into the gauge metrics
// (node counts, shard counts, raft leadership) the way the teacher's
// collector samples its own manager on a ticker.
type Collector struct {
	source StateSource
	stopCh chan struct{}
}

func NewCollector(source StateSource) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectShardMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	state := c.source.Current()

	counts := map[string]int{"master_eligible": 0, "data": 0}
	for _, n := range state.Nodes.All() {
		if n.MasterEligible {
			counts["master_eligible"]++
		}
		if n.DataNode {
			counts["data"]++
		}
	}

	for role, count := range counts {
		NodesTotal.WithLabelValues(role).Set(float64(count))
	}
}

func (c *Collector) collectShardMetrics() {
	state := c.source.Current()

	counts := map[string]int{
		"UNASSIGNED":   0,
		"INITIALIZING": 0,
		"STARTED":      0,
		"RELOCATING":   0,
	}
	for _, idx := range state.RoutingTable.Indices {
		for _, shard := range idx.Shards {
			for _, copy := range shard.AllCopies() {
				counts[copy.State.String()]++
			}
		}
	}

	for state, count := range counts {
		ShardsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftAppliedIndex.Set(float64(c.source.Current().Version))
}
