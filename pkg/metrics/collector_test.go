package metrics

import (
	"testing"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStateSource struct {
	state    cluster.State
	isLeader bool
}

func (f fakeStateSource) Current() cluster.State { return f.state }
func (f fakeStateSource) IsLeader() bool          { return f.isLeader }

func buildCollectorTestState() cluster.State {
	b := cluster.NewBuilder(cluster.NewEmptyState())
	b.NodesBuilder().Put(cluster.Node{ID: "n1", MasterEligible: true, DataNode: true})
	b.NodesBuilder().Put(cluster.Node{ID: "n2", MasterEligible: false, DataNode: true})

	index := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	table := cluster.NewIndexRoutingTable(index)
	table.Shards[0] = cluster.IndexShardRoutingTable{
		ShardID: cluster.ShardID{Index: index, Shard: 0},
		Primary: cluster.ShardRouting{State: cluster.Started, NodeID: "n1"},
		Replicas: []cluster.ShardRouting{
			{State: cluster.Unassigned},
		},
	}
	b.RoutingBuilder().PutIndex(table)

	return b.Build()
}

func TestCollectorCollectPopulatesNodeAndShardGauges(t *testing.T) {
	source := fakeStateSource{state: buildCollectorTestState(), isLeader: true}
	c := NewCollector(source)

	c.collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("master_eligible")); got != 1 {
		t.Errorf("master_eligible nodes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("data")); got != 2 {
		t.Errorf("data nodes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ShardsTotal.WithLabelValues("STARTED")); got != 1 {
		t.Errorf("started shards = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ShardsTotal.WithLabelValues("UNASSIGNED")); got != 1 {
		t.Errorf("unassigned shards = %v, want 1", got)
	}
}

func TestCollectorCollectRaftLeaderGauge(t *testing.T) {
	c := NewCollector(fakeStateSource{state: cluster.NewEmptyState(), isLeader: false})
	c.collect()
	if got := testutil.ToFloat64(RaftLeader); got != 0 {
		t.Errorf("RaftLeader = %v, want 0", got)
	}

	c2 := NewCollector(fakeStateSource{state: cluster.NewEmptyState(), isLeader: true})
	c2.collect()
	if got := testutil.ToFloat64(RaftLeader); got != 1 {
		t.Errorf("RaftLeader = %v, want 1", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(fakeStateSource{state: cluster.NewEmptyState()})
	c.Start()
	c.Stop()
}
