package cluster

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStateJSONRoundTrip guards against the unexported-map arenas
// (Nodes.byID, Metadata.byUUID) silently dropping their contents
// through the default struct JSON encoding used for raft snapshots and
// bbolt persistence.
func TestStateJSONRoundTrip(t *testing.T) {
	index := IndexUUID(uuid.New())
	b := NewBuilder(NewEmptyState())
	b.Version(5)
	b.NodesBuilder().Put(Node{ID: "node-1", Address: "10.0.0.1:9042"})
	b.MetadataBuilder().Put(IndexMetadata{UUID: index, Name: "t", NumberOfShards: 3})
	state := b.Build()

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, uint64(5), decoded.Version)
	n, ok := decoded.Nodes.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:9042", n.Address)
	idx, ok := decoded.Metadata.Get(index)
	require.True(t, ok)
	assert.Equal(t, "t", idx.Name)
}

func TestPartitionNameRoundTrip(t *testing.T) {
	rel := RelationName{Schema: "doc", Name: "p"}
	values := []string{"2024-01-01", "eu-west"}

	name := PartitionName(rel, values)
	assert.True(t, IsPartition(name))

	gotRel, gotValues, ok := ParsePartitionName(name)
	require.True(t, ok)
	assert.Equal(t, rel, gotRel)
	assert.Equal(t, values, gotValues)
}

func TestPartitionNameRoundTripEmptyValue(t *testing.T) {
	rel := RelationName{Schema: "doc", Name: "p"}
	values := []string{"", "x"}

	name := PartitionName(rel, values)
	gotRel, gotValues, ok := ParsePartitionName(name)
	require.True(t, ok)
	assert.Equal(t, rel, gotRel)
	assert.Equal(t, values, gotValues)
}

func TestBuilderCopyOnWriteLeavesBaseUntouched(t *testing.T) {
	base := NewEmptyState()
	idxA := IndexUUID(uuid.New())

	b := NewBuilder(base)
	b.MetadataBuilder().Put(IndexMetadata{UUID: idxA, Name: "t"})
	next := b.Build()

	assert.Equal(t, 0, base.Metadata.Len())
	assert.Equal(t, 1, next.Metadata.Len())
	assert.Equal(t, uint64(1), next.Version)
	assert.Equal(t, uint64(0), base.Version)
}

func TestBuilderOnlyTouchesModifiedSubArena(t *testing.T) {
	base := NewEmptyState()
	b1 := NewBuilder(base)
	b1.NodesBuilder().Put(Node{ID: "node-1"})
	withNode := b1.Build()

	b2 := NewBuilder(withNode)
	idx := IndexUUID(uuid.New())
	b2.MetadataBuilder().Put(IndexMetadata{UUID: idx, Name: "t"})
	withIndex := b2.Build()

	// Nodes arena is untouched by the second builder and must be the
	// same value as before (copy-on-write of only the changed
	// sub-tree, per §9).
	assert.Equal(t, withNode.Nodes, withIndex.Nodes)
	assert.Equal(t, 1, withIndex.Metadata.Len())
}

func TestClusterBlocksIndexClosedBlocksWrites(t *testing.T) {
	idx := IndexUUID(uuid.New())
	b := NewClusterBlocksBuilder(NewClusterBlocks())
	b.AddIndexBlock(idx, IndexClosedBlock)
	blocks := b.Build()

	assert.True(t, blocks.IndexBlocked(idx, BlockWrite))
	assert.True(t, blocks.IndexBlocked(idx, BlockRead))
	assert.False(t, blocks.IndexBlocked(IndexUUID(uuid.New()), BlockWrite))
}

func TestShardRoutingCurrentNodeID(t *testing.T) {
	relocating := ShardRouting{State: Relocating, NodeID: "old", RelocatingNodeID: "new"}
	assert.Equal(t, "new", relocating.CurrentNodeID())

	unassigned := ShardRouting{State: Unassigned}
	assert.Equal(t, "", unassigned.CurrentNodeID())

	started := ShardRouting{State: Started, NodeID: "node-1"}
	assert.Equal(t, "node-1", started.CurrentNodeID())
}

func TestShardIDOrdering(t *testing.T) {
	idxLow, idxHigh := uuid.New(), uuid.New()
	if idxLow.String() > idxHigh.String() {
		idxLow, idxHigh = idxHigh, idxLow
	}
	a := ShardID{Index: idxLow, Shard: 1}
	b := ShardID{Index: idxHigh, Shard: 2}
	c := ShardID{Index: idxHigh, Shard: 1}

	assert.True(t, a.Less(b)) // shard-number first
	assert.True(t, c.Less(b)) // same shard number, uuid tiebreak
}
