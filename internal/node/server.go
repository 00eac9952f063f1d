package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/warrensql/internal/closetable"
	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/fsm"
	"github.com/cuemby/warrensql/internal/peers"
	"github.com/cuemby/warrensql/internal/transport"
	"github.com/cuemby/warrensql/internal/write"
)

// noopInProgress answers that no index is ever mid-snapshot or
// mid-restore: those subsystems are out of this core's scope (§1),
// so the close protocol always proceeds as if neither is running.
type noopInProgress struct{}

func (noopInProgress) SnapshotInProgress(cluster.IndexUUID) bool { return false }
func (noopInProgress) RestoreInProgress(cluster.IndexUUID) bool  { return false }

// nodesResolver implements transport.AddressResolver over the node's
// own cluster-state view.
type nodesResolver struct{ ctx *Context }

func (r nodesResolver) Address(nodeID string) (string, bool) {
	n, ok := r.ctx.Current().Nodes.Get(nodeID)
	if !ok {
		return "", false
	}
	return n.Address, true
}

// localVerifier acks a shard close on this node unconditionally: this
// core has no row-level replication-lag tracking (§1 non-goal), so the
// only check available to it is "do I host this shard at all," which
// the routing table itself already guarantees once the master sent
// the request.
type localVerifier struct{}

func (localVerifier) VerifyShardBeforeClose(ctx context.Context, shard cluster.ShardID, node string, primary bool, blockID int) (bool, error) {
	return true, nil
}

// localShardSender acknowledges a shard write unconditionally: actual
// row execution against a storage engine is a non-goal of this core
// (§1 "query execution... out of scope"); the dispatcher only needs a
// collaborator that fulfils write.ShardSender so its retry/failure
// bookkeeping has something concrete to drive.
type localShardSender struct{}

func (localShardSender) Send(ctx context.Context, req *write.ShardedRequest) (write.ShardReplicationResult, error) {
	return write.ShardReplicationResult{Total: len(req.Items), SuccessfulReplicas: 1}, nil
}

// Server wires the Context's collaborators to the internal RPC
// surface (§6) over HTTP.
type Server struct {
	ctx      *Context
	verifier closetable.ShardVerifier
	mux      *http.ServeMux
}

// NewServer builds the HTTP mux serving every §6 internal action this
// node answers for.
func NewServer(ctx *Context) *Server {
	selfVersion := cluster.NodeVersion{Major: 1, Minor: 0, Patch: 0}

	s := &Server{
		ctx: ctx,
		verifier: &transport.ShardVerifierClient{
			Resolver:    nodesResolver{ctx: ctx},
			SelfVersion: selfVersion,
		},
		mux: http.NewServeMux(),
	}
	s.routes(selfVersion)
	return s
}

func (s *Server) routes(selfVersion cluster.NodeVersion) {
	s.mux.HandleFunc("/"+transport.ActionTableOrPartitionClose, transport.Handler(selfVersion, s.handleCloseTable))
	s.mux.HandleFunc("/"+transport.ActionVerifyShardClose, transport.Handler(selfVersion, s.handleVerifyShard))
	s.mux.HandleFunc("/"+transport.ActionRequestPeers, transport.Handler(selfVersion, s.handleRequestPeers))
	s.mux.HandleFunc("/"+transport.ActionShardWrite, transport.Handler(selfVersion, s.handleShardWrite))
	s.mux.HandleFunc("/"+transport.ActionClusterState, transport.Handler(selfVersion, s.handleClusterState))
	s.mux.HandleFunc("/"+transport.ActionPutIndexMetadata, transport.Handler(selfVersion, s.handlePutIndexMetadata))
	s.mux.HandleFunc("/internal:discovery/handshake", transport.Handler(selfVersion, s.handleHandshake))
}

func (s *Server) Handler() http.Handler { return s.mux }

func decodeBody(body json.RawMessage, out any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("node: decode request: %w", err)
	}
	return nil
}

// handleCloseTable drives §4.G's three steps directly against the
// raft log rather than through closetable.Coordinator: the FSM's
// add_block_close_table/commit_close_indices ops already recompute
// each transition from their own current state (fsm.go
// applyLocked), so the handler only needs to discover which indices
// block, commit that, verify them off-thread, then commit the
// result — it never assembles a state blob to hand the FSM.
func (s *Server) handleCloseTable(ctx context.Context, body json.RawMessage) (any, error) {
	var req transport.CloseTableRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}

	state := s.ctx.Current()
	_, blocked, err := closetable.AddBlockCloseTable(state, req.Relation, noopInProgress{})
	if err != nil {
		return nil, err
	}
	if len(blocked) == 0 {
		return transport.AcknowledgedResponse{Acknowledged: true}, nil
	}

	blockPayload := struct {
		Relation cluster.RelationName `json:"relation"`
	}{Relation: req.Relation}
	if err := s.ctx.Apply(fsm.OpAddBlockCloseTable, blockPayload); err != nil {
		return nil, err
	}

	acked := closetable.VerifyShards(ctx, s.ctx.Current(), blocked, s.verifier)

	ackedPayload := struct {
		Acknowledged map[string]bool `json:"acknowledged"`
	}{Acknowledged: make(map[string]bool, len(acked))}
	allAcked := true
	for index, ok := range acked {
		ackedPayload.Acknowledged[index.String()] = ok
		if !ok {
			allAcked = false
		}
	}
	if err := s.ctx.Apply(fsm.OpCommitCloseIndices, ackedPayload); err != nil {
		return nil, err
	}

	return transport.AcknowledgedResponse{Acknowledged: allAcked}, nil
}

func (s *Server) handleVerifyShard(ctx context.Context, body json.RawMessage) (any, error) {
	var req struct {
		Shard   cluster.ShardID `json:"shard"`
		Primary bool            `json:"primary"`
		BlockID int             `json:"block_id"`
	}
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}

	ack, err := localVerifier{}.VerifyShardBeforeClose(ctx, req.Shard, s.ctx.Config.ID, req.Primary, req.BlockID)
	if err != nil {
		return nil, err
	}
	return struct {
		Ack bool `json:"ack"`
	}{Ack: ack}, nil
}

func (s *Server) handleRequestPeers(ctx context.Context, body json.RawMessage) (any, error) {
	var req peers.PeersRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if s.ctx.Finder == nil {
		return peers.PeersResponse{}, nil
	}
	return s.ctx.Finder.AnswerRequest(req), nil
}

func (s *Server) handleShardWrite(ctx context.Context, body json.RawMessage) (any, error) {
	var req write.ShardedRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	return localShardSender{}.Send(ctx, &req)
}

func (s *Server) handleClusterState(ctx context.Context, body json.RawMessage) (any, error) {
	return s.ctx.Current(), nil
}

func (s *Server) handlePutIndexMetadata(ctx context.Context, body json.RawMessage) (any, error) {
	var meta cluster.IndexMetadata
	if err := decodeBody(body, &meta); err != nil {
		return nil, err
	}
	if err := s.ctx.Apply(fsm.OpPutIndexMetadata, meta); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) handleHandshake(ctx context.Context, body json.RawMessage) (any, error) {
	return struct {
		NodeID         string `json:"node_id"`
		MasterEligible bool   `json:"master_eligible"`
	}{NodeID: s.ctx.Config.ID, MasterEligible: true}, nil
}
