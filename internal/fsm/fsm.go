// Package fsm wires the cluster-state core (internal/cluster,
// internal/closetable, ...) to raft's single-writer replicated log: one
// Command per state transition, applied on raft.Raft's own apply
// goroutine, the same Command{Op,Data}/switch shape the teacher used
// for its own cluster-state FSM.
package fsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/closetable"
	"github.com/cuemby/warrensql/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// Command operation names. Unlike the teacher's container-orchestration
// verbs (create_node, create_service, ...) these name the cluster-state
// mutations §4's components actually perform.
const (
	OpPutNode           = "put_node"
	OpRemoveNode        = "remove_node"
	OpPutIndexMetadata  = "put_index_metadata"
	OpAddBlockCloseTable = "add_block_close_table"
	OpCommitCloseIndices = "commit_close_indices"
	OpPutRoutingTable    = "put_routing_table"
)

// Command is one cluster-state mutation as it travels through the raft
// log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// ClusterFSM is the raft.FSM that owns the authoritative cluster.State:
// Apply is only ever invoked by raft.Raft's own goroutine (§5 "master-
// side state machine ... strictly single-threaded"), so no additional
// locking is needed for the mutation itself; the mutex guards readers
// calling Current concurrently with an in-flight Apply.
type ClusterFSM struct {
	mu    sync.RWMutex
	state cluster.State
	store storage.Store
}

// NewClusterFSM builds an FSM seeded from whatever the durable store
// last persisted (or an empty state for a fresh cluster).
func NewClusterFSM(store storage.Store) (*ClusterFSM, error) {
	state, err := store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("fsm: load initial state: %w", err)
	}
	return &ClusterFSM{state: state, store: store}, nil
}

// Current returns the most recently applied state. Callers must treat
// it as an immutable snapshot and take it once per operation (§5
// "never re-read mid-operation").
func (f *ClusterFSM) Current() cluster.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Apply applies one committed raft log entry.
func (f *ClusterFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("fsm: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next, err := f.applyLocked(cmd)
	if err != nil {
		return err
	}
	f.state = next
	if err := f.store.SaveState(next); err != nil {
		return fmt.Errorf("fsm: persist state: %w", err)
	}
	return nil
}

func (f *ClusterFSM) applyLocked(cmd Command) (cluster.State, error) {
	switch cmd.Op {
	case OpPutNode:
		var node cluster.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return f.state, err
		}
		b := cluster.NewBuilder(f.state)
		b.NodesBuilder().Put(node)
		return b.Build(), nil

	case OpRemoveNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return f.state, err
		}
		b := cluster.NewBuilder(f.state)
		b.NodesBuilder().Remove(nodeID)
		return b.Build(), nil

	case OpPutIndexMetadata:
		var meta cluster.IndexMetadata
		if err := json.Unmarshal(cmd.Data, &meta); err != nil {
			return f.state, err
		}
		b := cluster.NewBuilder(f.state)
		b.MetadataBuilder().Put(meta)
		return b.Build(), nil

	case OpPutRoutingTable:
		var rt cluster.IndexRoutingTable
		if err := json.Unmarshal(cmd.Data, &rt); err != nil {
			return f.state, err
		}
		b := cluster.NewBuilder(f.state)
		b.RoutingBuilder().PutIndex(rt)
		return b.Build(), nil

	case OpAddBlockCloseTable:
		var payload struct {
			Relation cluster.RelationName `json:"relation"`
		}
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return f.state, err
		}
		next, _, err := closetable.AddBlockCloseTable(f.state, payload.Relation, noopInProgress{})
		return next, err

	case OpCommitCloseIndices:
		var payload struct {
			Acknowledged map[string]bool `json:"acknowledged"`
		}
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return f.state, err
		}
		acked := make(map[cluster.IndexUUID]bool, len(payload.Acknowledged))
		for k, v := range payload.Acknowledged {
			id, err := uuid.Parse(k)
			if err != nil {
				return f.state, err
			}
			acked[id] = v
		}
		next, _, err := closetable.CloseIndices(f.state, acked, noopInProgress{}, nil)
		return next, err

	default:
		return f.state, fmt.Errorf("fsm: unknown command %q", cmd.Op)
	}
}

// noopInProgress is used when the FSM applies a log entry that already
// passed the in-progress check on the node that proposed it; the log
// entry itself is the authority at apply time.
type noopInProgress struct{}

func (noopInProgress) SnapshotInProgress(cluster.IndexUUID) bool { return false }
func (noopInProgress) RestoreInProgress(cluster.IndexUUID) bool  { return false }

// Snapshot implements raft.FSM: a point-in-time copy of the cluster
// state for log compaction.
func (f *ClusterFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &stateSnapshot{state: f.state}, nil
}

// Restore implements raft.FSM: replace the in-memory state wholesale
// from a decoded snapshot, on node restart or join.
func (f *ClusterFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var state cluster.State
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return fmt.Errorf("fsm: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	return f.store.SaveState(state)
}

type stateSnapshot struct {
	state cluster.State
}

func (s *stateSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.state); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *stateSnapshot) Release() {}
