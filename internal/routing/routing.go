package routing

import (
	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/errkind"
)

// ShardsFor implements §4.D's shardsFor: resolve the IndexShardRoutingTable
// that owns (id, routing) within index.
func ShardsFor(state cluster.State, index cluster.IndexUUID, id string, routing string) (cluster.IndexShardRoutingTable, error) {
	meta, ok := state.Metadata.Get(index)
	if !ok {
		return cluster.IndexShardRoutingTable{}, errkind.NotFoundf("index %s not found", index)
	}

	shardNum := ShardNumber(meta, id, routing)

	rt, ok := state.RoutingTable.IndexTable(index)
	if !ok {
		return cluster.IndexShardRoutingTable{}, errkind.NotFoundf("routing table for index %s not found", index)
	}
	shard, ok := rt.Shard(shardNum)
	if !ok {
		return cluster.IndexShardRoutingTable{}, errkind.NotFoundf("shard %d of index %s not found", shardNum, index)
	}
	return shard, nil
}

// ShardNumber computes the destination shard number for (id, routing)
// against meta, per §4.D steps 2-3.
func ShardNumber(meta cluster.IndexMetadata, id string, routing string) int32 {
	effectiveRouting := routing
	if effectiveRouting == "" {
		effectiveRouting = id
	}

	var partitionOffset int32
	if meta.RoutingPartitioned && meta.RoutingPartitionSize > 1 {
		partitionOffset = FloorMod(Hash32Seed0(id), meta.RoutingPartitionSize)
	}

	routingFactor := meta.RoutingFactor()
	if routingFactor == 0 {
		routingFactor = 1
	}

	hash := Hash32Seed0(effectiveRouting)
	routingNumShards := meta.RoutingNumShards
	if routingNumShards == 0 {
		routingNumShards = meta.NumberOfShards
	}

	return FloorMod(hash+partitionOffset, routingNumShards) / routingFactor
}
