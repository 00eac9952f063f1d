package closetable

import (
	"context"
	"testing"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInProgress struct {
	snapshotting map[cluster.IndexUUID]bool
	restoring    map[cluster.IndexUUID]bool
}

func newFakeInProgress() *fakeInProgress {
	return &fakeInProgress{snapshotting: map[cluster.IndexUUID]bool{}, restoring: map[cluster.IndexUUID]bool{}}
}

func (f *fakeInProgress) SnapshotInProgress(index cluster.IndexUUID) bool { return f.snapshotting[index] }
func (f *fakeInProgress) RestoreInProgress(index cluster.IndexUUID) bool { return f.restoring[index] }

type alwaysAckVerifier struct{}

func (alwaysAckVerifier) VerifyShardBeforeClose(ctx context.Context, shard cluster.ShardID, node string, primary bool, blockID int) (bool, error) {
	return true, nil
}

type neverAckVerifier struct{}

func (neverAckVerifier) VerifyShardBeforeClose(ctx context.Context, shard cluster.ShardID, node string, primary bool, blockID int) (bool, error) {
	return false, nil
}

func openTable(rel cluster.RelationName, shards int32, node string) (cluster.State, cluster.IndexUUID) {
	index := cluster.IndexUUID(uuid.New())
	s := cluster.NewEmptyState()
	b := cluster.NewBuilder(s)
	b.MetadataBuilder().Put(cluster.IndexMetadata{
		UUID: index, RelName: rel, Name: rel.Name,
		NumberOfShards: shards, RoutingNumShards: shards,
		State: cluster.IndexOpen,
	})
	b.NodesBuilder().Put(cluster.Node{ID: node, Version: cluster.NodeVersion{Major: 2}})
	for i := int32(0); i < shards; i++ {
		b.RoutingBuilder().PutShard(index, cluster.IndexShardRoutingTable{
			ShardID: cluster.ShardID{Index: index, Shard: i},
			Primary: cluster.ShardRouting{State: cluster.Started, NodeID: node, Primary: true},
		})
	}
	return b.Build(), index
}

func TestCloseTableHappyPath(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	state, index := openTable(rel, 3, "node-1")

	coord := &Coordinator{InProgress: newFakeInProgress(), Verifier: alwaysAckVerifier{}}
	result, err := coord.CloseTable(context.Background(), state, rel)
	require.NoError(t, err)
	assert.True(t, result.Acknowledged)
	assert.Equal(t, 1, result.ClosedCount)

	_ = index
}

// TestCloseIdempotence is §8 property 4: running close twice yields
// the same final state the second time — every task becomes a no-op.
func TestCloseIdempotence(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	state, _ := openTable(rel, 2, "node-1")
	inProgress := newFakeInProgress()

	coord := &Coordinator{InProgress: inProgress, Verifier: alwaysAckVerifier{}}
	var closed cluster.State
	coord.Publish = func(ctx context.Context, next cluster.State) (cluster.State, error) {
		closed = next
		return next, nil
	}

	first, err := coord.CloseTable(context.Background(), state, rel)
	require.NoError(t, err)
	require.True(t, first.Acknowledged)

	second, err := coord.CloseTable(context.Background(), closed, rel)
	require.NoError(t, err)
	assert.True(t, second.Acknowledged)
	assert.Equal(t, 0, second.ClosedCount, "second run finds no OPEN indices: every task is a no-op")
}

// TestCloseSafety is §8 property 5: no Acknowledged=true close may
// occur while a snapshot or restore is in progress.
func TestCloseSafety(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	state, index := openTable(rel, 1, "node-1")
	inProgress := newFakeInProgress()
	inProgress.snapshotting[index] = true

	coord := &Coordinator{InProgress: inProgress, Verifier: alwaysAckVerifier{}}
	_, err := coord.CloseTable(context.Background(), state, rel)
	require.Error(t, err)
}

// TestScenarioS3_CloseWhileSnapshotting: step 1 must fail with
// SnapshotInProgress; no block is added.
func TestScenarioS3_CloseWhileSnapshotting(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	state, index := openTable(rel, 1, "node-1")
	inProgress := newFakeInProgress()
	inProgress.snapshotting[index] = true

	next, blocked, err := AddBlockCloseTable(state, rel, inProgress)
	require.Error(t, err)
	assert.Empty(t, blocked)
	_, hasBlock := next.Blocks.HasIndexBlock(index, cluster.IndexClosedBlockID)
	assert.False(t, hasBlock)
}

func TestCloseFailsWhenVerifyDoesNotAck(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	state, _ := openTable(rel, 1, "node-1")

	coord := &Coordinator{InProgress: newFakeInProgress(), Verifier: neverAckVerifier{}}
	result, err := coord.CloseTable(context.Background(), state, rel)
	require.NoError(t, err)
	assert.False(t, result.Acknowledged)
	assert.Equal(t, 0, result.ClosedCount)
}
