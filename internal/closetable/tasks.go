// Package closetable implements the three-step table/partition close
// protocol (§4.G): add a transient write block, verify every shard
// copy has observed it, then commit the index to CLOSE.
package closetable

import (
	"context"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/errkind"
	"github.com/google/uuid"
)

// InProgressChecker answers whether an index is currently the subject
// of a snapshot or restore — collaborators out of this core's scope
// (§1), consumed only through this interface.
type InProgressChecker interface {
	SnapshotInProgress(index cluster.IndexUUID) bool
	RestoreInProgress(index cluster.IndexUUID) bool
}

// AddBlockCloseTable is step 1 of §4.G: resolve the table/partition's
// open indices, verify none are busy, and add the transient close
// block (id 4) to each. Returns the new cluster state and the set of
// indices that were blocked by this call (for step 2 to verify).
func AddBlockCloseTable(state cluster.State, rel cluster.RelationName, inProgress InProgressChecker) (cluster.State, []cluster.IndexUUID, error) {
	openIndices := openIndicesOf(state, rel)
	if len(openIndices) == 0 {
		return state, nil, nil // no-op, ack true
	}

	for _, idx := range openIndices {
		if inProgress.RestoreInProgress(idx.UUID) {
			return state, nil, errkind.RestoreInProgressf("index %s is being restored", idx.Name)
		}
	}
	for _, idx := range openIndices {
		if inProgress.SnapshotInProgress(idx.UUID) {
			return state, nil, errkind.SnapshotInProgressf("index %s is being snapshotted", idx.Name)
		}
	}

	b := cluster.NewBuilder(state)
	blocksBuilder := b.BlocksBuilder()
	blocked := make([]cluster.IndexUUID, 0, len(openIndices))
	for _, idx := range openIndices {
		blk := cluster.Block{
			ID:     cluster.IndexClosedBlockID,
			UUID:   uuid.NewString(),
			Reason: "preparing to close",
			Levels: []cluster.BlockLevel{cluster.BlockWrite},
		}
		blocksBuilder.AddIndexBlock(idx.UUID, blk)
		blocked = append(blocked, idx.UUID)
	}

	return b.Build(), blocked, nil
}

func openIndicesOf(state cluster.State, rel cluster.RelationName) []cluster.IndexMetadata {
	out := make([]cluster.IndexMetadata, 0)
	for _, idx := range state.Metadata.IndicesOf(rel) {
		if idx.State == cluster.IndexOpen {
			out = append(out, idx)
		}
	}
	return out
}

// ShardVerifier sends the two-phase VerifyShardBeforeClose request
// (§6 action internal:indices:admin/close/verify_shard) to a shard
// copy and reports whether it ACKed.
type ShardVerifier interface {
	VerifyShardBeforeClose(ctx context.Context, shard cluster.ShardID, node string, primary bool, blockID int) (ack bool, err error)
}

// VerifyShards is step 2 of §4.G: off the master thread, for every
// blocked index, verify primary first then every replica. An index is
// Acknowledged only if every copy ACKed.
func VerifyShards(ctx context.Context, state cluster.State, blocked []cluster.IndexUUID, verifier ShardVerifier) map[cluster.IndexUUID]bool {
	result := make(map[cluster.IndexUUID]bool, len(blocked))
	for _, index := range blocked {
		rt, ok := state.RoutingTable.IndexTable(index)
		if !ok {
			result[index] = false
			continue
		}
		acked := true
		for _, shardTable := range rt.Shards {
			if !verifyOneShard(ctx, shardTable, verifier) {
				acked = false
			}
		}
		result[index] = acked
	}
	return result
}

func verifyOneShard(ctx context.Context, t cluster.IndexShardRoutingTable, verifier ShardVerifier) bool {
	if t.Primary.NodeID == "" {
		return false
	}
	ok, err := verifier.VerifyShardBeforeClose(ctx, t.ShardID, t.Primary.NodeID, true, cluster.IndexClosedBlockID)
	if err != nil || !ok {
		return false
	}
	for _, r := range t.Replicas {
		if r.NodeID == "" {
			return false
		}
		ok, err := verifier.VerifyShardBeforeClose(ctx, t.ShardID, r.NodeID, false, cluster.IndexClosedBlockID)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// AllocatorRerouter re-runs shard allocation after the routing table
// changes; a collaborator out of this core's scope (§1).
type AllocatorRerouter interface {
	Reroute(state cluster.State, reason string) cluster.State
}

// CloseIndices is step 3 of §4.G: commit the acknowledged indices to
// CLOSE.
func CloseIndices(state cluster.State, acknowledged map[cluster.IndexUUID]bool, inProgress InProgressChecker, rerouter AllocatorRerouter) (cluster.State, map[cluster.IndexUUID]bool, error) {
	b := cluster.NewBuilder(state)
	finalAck := make(map[cluster.IndexUUID]bool, len(acknowledged))

	for index, wasAcked := range acknowledged {
		if !wasAcked {
			continue
		}
		idx, ok := state.Metadata.Get(index)
		if !ok {
			continue // deleted in the meantime: ignore
		}
		if idx.State == cluster.IndexClose {
			continue // already CLOSE: ignore
		}
		if _, hasBlock := state.Blocks.HasIndexBlock(index, cluster.IndexClosedBlockID); !hasBlock {
			continue // block removed: ignore
		}
		if inProgress.RestoreInProgress(index) || inProgress.SnapshotInProgress(index) {
			continue // now busy: drop from acknowledged set
		}

		blocksBuilder := b.BlocksBuilder()
		blocksBuilder.RemoveIndexBlock(index, cluster.IndexClosedBlockID)
		blocksBuilder.AddIndexBlock(index, cluster.IndexClosedBlock)

		idx.State = cluster.IndexClose

		minVersion := state.Nodes.MinNodeVersion()
		if minVersion.Less(cluster.ReplicatedClosedIndicesVersion) {
			b.RoutingBuilder().RemoveIndex(index)
		} else {
			idx.SettingsVersion++
			idx.VerifiedBeforeClose = true
			rewriteRoutingToClose(b, state, index)
		}

		b.MetadataBuilder().Put(idx)
		finalAck[index] = true
	}

	next := b.Build()
	if rerouter != nil {
		next = rerouter.Reroute(next, "indices closed")
	}
	return next, finalAck, nil
}

// rewriteRoutingToClose keeps every shard copy's assignment but marks
// the index's routing table entry as belonging to a closed index
// (§4.G step 3 "rewrite the routing table from open to close" —
// shards kept, reassigned as closed; this core has no separate
// "closed shard" state so the copies are carried through unchanged,
// which is sufficient since reads/writes are now rejected by the
// INDEX_CLOSED_BLOCK rather than by routing).
func rewriteRoutingToClose(b *cluster.Builder, state cluster.State, index cluster.IndexUUID) {
	rt, ok := state.RoutingTable.IndexTable(index)
	if !ok {
		return
	}
	b.RoutingBuilder().PutIndex(rt)
}
