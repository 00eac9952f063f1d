package node

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func bootstrapLeader(t *testing.T, id, raftAddr, transportAddr string) *Context {
	t.Helper()
	dir := t.TempDir()
	ctx, err := Bootstrap(Config{
		ID:            id,
		RaftBindAddr:  raftAddr,
		TransportAddr: transportAddr,
		DataDir:       filepath.Join(dir, id),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Shutdown() })

	deadline := time.Now().Add(5 * time.Second)
	for !ctx.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.True(t, ctx.IsLeader(), "node never became leader")
	return ctx
}

func TestHandleCloseTableNoOpWhenNoOpenIndices(t *testing.T) {
	ctx := bootstrapLeader(t, "srv1", "127.0.0.1:17011", "127.0.0.1:18011")
	server := NewServer(ctx)

	body, err := json.Marshal(struct {
		Relation cluster.RelationName `json:"relation"`
	}{Relation: cluster.RelationName{Schema: "doc", Name: "orders"}})
	require.NoError(t, err)

	resp, err := server.handleCloseTable(context.Background(), json.RawMessage(body))
	require.NoError(t, err)
	require.Equal(t, transport.AcknowledgedResponse{Acknowledged: true}, resp)
}

func TestHandlePutIndexMetadataThenClusterState(t *testing.T) {
	ctx := bootstrapLeader(t, "srv2", "127.0.0.1:17012", "127.0.0.1:18012")
	server := NewServer(ctx)

	meta := cluster.IndexMetadata{
		UUID:             uuid.New(),
		Name:             "orders",
		RelName:          cluster.RelationName{Schema: "doc", Name: "orders"},
		NumberOfShards:   4,
		NumberOfReplicas: 1,
		RoutingNumShards: 4,
		State:            cluster.IndexOpen,
	}
	body, err := json.Marshal(meta)
	require.NoError(t, err)

	_, err = server.handlePutIndexMetadata(context.Background(), json.RawMessage(body))
	require.NoError(t, err)

	stateResp, err := server.handleClusterState(context.Background(), nil)
	require.NoError(t, err)
	state := stateResp.(cluster.State)

	stored, ok := state.Metadata.Get(meta.UUID)
	require.True(t, ok)
	require.Equal(t, int32(4), stored.NumberOfShards)
}

func TestApplyRejectsUnknownOp(t *testing.T) {
	ctx := bootstrapLeader(t, "srv3", "127.0.0.1:17013", "127.0.0.1:18013")
	err := ctx.Apply("not_a_real_op", struct{}{})
	require.Error(t, err)
}
