package fsm

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) *ClusterFSM {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f, err := NewClusterFSM(store)
	require.NoError(t, err)
	return f
}

func applyCommand(t *testing.T, f *ClusterFSM, op string, data any) any {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	cmd := Command{Op: op, Data: payload}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: raw})
}

func TestApplyPutNode(t *testing.T) {
	f := newTestFSM(t)
	result := applyCommand(t, f, OpPutNode, cluster.Node{ID: "node-1", Address: "10.0.0.1:9042"})
	assert.Nil(t, result)

	node, ok := f.Current().Nodes.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:9042", node.Address)
}

func TestApplyRemoveNode(t *testing.T) {
	f := newTestFSM(t)
	applyCommand(t, f, OpPutNode, cluster.Node{ID: "node-1"})
	applyCommand(t, f, OpRemoveNode, "node-1")

	_, ok := f.Current().Nodes.Get("node-1")
	assert.False(t, ok)
}

func TestApplyUnknownCommandReturnsError(t *testing.T) {
	f := newTestFSM(t)
	result := applyCommand(t, f, "not_a_real_op", struct{}{})
	assert.Error(t, result.(error))
}

func TestApplyPersistsAcrossFSMRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cluster.db")

	store, err := storage.NewBoltStore(dbPath)
	require.NoError(t, err)
	f, err := NewClusterFSM(store)
	require.NoError(t, err)
	applyCommand(t, f, OpPutNode, cluster.Node{ID: "node-1"})
	require.NoError(t, store.Close())

	store2, err := storage.NewBoltStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()
	f2, err := NewClusterFSM(store2)
	require.NoError(t, err)

	_, ok := f2.Current().Nodes.Get("node-1")
	assert.True(t, ok)
}

func TestApplyCloseTableLifecycle(t *testing.T) {
	f := newTestFSM(t)
	index := cluster.IndexUUID(uuid.New())
	rel := cluster.RelationName{Schema: "doc", Name: "t"}

	applyCommand(t, f, OpPutIndexMetadata, cluster.IndexMetadata{
		UUID: index, Name: "t", RelName: rel, State: cluster.IndexOpen,
	})
	applyCommand(t, f, OpPutNode, cluster.Node{ID: "node-1", Version: cluster.NodeVersion{Major: 2}})

	result := applyCommand(t, f, OpAddBlockCloseTable, struct {
		Relation cluster.RelationName `json:"relation"`
	}{Relation: rel})
	assert.Nil(t, result)

	_, blocked := f.Current().Blocks.HasIndexBlock(index, cluster.IndexClosedBlockID)
	assert.True(t, blocked)

	result = applyCommand(t, f, OpCommitCloseIndices, struct {
		Acknowledged map[string]bool `json:"acknowledged"`
	}{Acknowledged: map[string]bool{index.String(): true}})
	assert.Nil(t, result)

	idx, ok := f.Current().Metadata.Get(index)
	require.True(t, ok)
	assert.Equal(t, cluster.IndexClose, idx.State)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := newTestFSM(t)
	applyCommand(t, f, OpPutNode, cluster.Node{ID: "node-1", Address: "10.0.0.1:9042"})

	snap, err := f.Snapshot()
	require.NoError(t, err)

	sink := newMemorySink()
	require.NoError(t, snap.Persist(sink))

	f2 := newTestFSM(t)
	require.NoError(t, f2.Restore(sink.readCloser()))

	node, ok := f2.Current().Nodes.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:9042", node.Address)
}
