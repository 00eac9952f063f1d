// Package node builds the *Context value created once at process
// start and threaded through every constructor (§9 "global mutable
// state... lives in a node context"), the same role the teacher's
// *manager.Manager plays for its own process, adapted to wire
// internal/fsm, internal/storage, and internal/peers instead of
// container orchestration state.
package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/fsm"
	"github.com/cuemby/warrensql/internal/peers"
	"github.com/cuemby/warrensql/internal/settings"
	"github.com/cuemby/warrensql/internal/storage"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the parameters needed to bring up one node.
type Config struct {
	ID            string
	RaftBindAddr  string
	TransportAddr string
	DataDir       string
}

// Context is the long-lived handle a daemon process builds once and
// passes to every other component: raft, the cluster-state FSM, the
// persisted store, the settings registry, and (once activated) the
// peer finder.
type Context struct {
	Config Config

	Raft     *raft.Raft
	FSM      *fsm.ClusterFSM
	Store    storage.Store
	Settings *settings.Registry
	Layout   *storage.ShardLayout
	Finder   *peers.Finder
}

// raftTimeouts tightens the hashicorp/raft defaults for faster
// failover, the same values and rationale the teacher's manager uses
// for its own Raft-backed cluster state.
func raftTimeouts(config *raft.Config) {
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
}

func newRaft(cfg Config, fsmInstance *fsm.ClusterFSM) (*raft.Raft, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.ID)
	raftTimeouts(raftConfig)

	addr, err := net.ResolveTCPAddr("tcp", cfg.RaftBindAddr)
	if err != nil {
		return nil, fmt.Errorf("node: resolve raft bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.RaftBindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("node: create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("node: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("node: create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("node: create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsmInstance, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("node: create raft instance: %w", err)
	}
	return r, nil
}

// Bootstrap creates a fresh single-node cluster with cfg.ID as the
// only voter.
func Bootstrap(cfg Config) (*Context, error) {
	ctx, r, err := newUnstartedContext(cfg)
	if err != nil {
		return nil, err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.ID), Address: raft.ServerAddress(cfg.RaftBindAddr)},
		},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil {
		return nil, fmt.Errorf("node: bootstrap cluster: %w", err)
	}
	return ctx, nil
}

// Join creates a Raft instance for cfg.ID expecting the existing
// leader to add it as a voter out-of-band (an operator-issued
// AddVoter; cmd/warrenctl has no command for it), rather than dialing
// the leader itself —
// §6 leaves membership changes to the admin surface, not to node
// startup.
func Join(cfg Config) (*Context, error) {
	return newUnstartedContextWithoutRaftReturn(cfg)
}

func newUnstartedContextWithoutRaftReturn(cfg Config) (*Context, error) {
	ctx, _, err := newUnstartedContext(cfg)
	return ctx, err
}

func newUnstartedContext(cfg Config) (*Context, *raft.Raft, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("node: create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(filepath.Join(cfg.DataDir, "warrensql.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("node: open store: %w", err)
	}

	fsmInstance, err := fsm.NewClusterFSM(store)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("node: init fsm: %w", err)
	}

	r, err := newRaft(cfg, fsmInstance)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	layout := &storage.ShardLayout{DataDir: cfg.DataDir}

	return &Context{
		Config:   cfg,
		Raft:     r,
		FSM:      fsmInstance,
		Store:    store,
		Settings: settings.NewRegistry(),
		Layout:   layout,
	}, r, nil
}

// Current returns the node's current view of cluster state, reading
// through the FSM rather than the raft log directly.
func (c *Context) Current() cluster.State {
	return c.FSM.Current()
}

// IsLeader reports whether this node currently holds the raft
// leadership, satisfying pkg/metrics.StateSource.
func (c *Context) IsLeader() bool {
	return c.Raft.State() == raft.Leader
}

// ActivatePeerFinder records the peer finder on the Context, so that
// request-peers is answered by it and Shutdown deactivates it; it does
// not activate the finder itself (cmd/warrensqld calls Activate after
// Context construction).
func (c *Context) ActivatePeerFinder(finder *peers.Finder) {
	c.Finder = finder
}

// Shutdown releases the raft instance and the persisted store.
func (c *Context) Shutdown() error {
	if c.Finder != nil {
		c.Finder.Deactivate()
	}
	if c.Raft != nil {
		if err := c.Raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("node: raft shutdown: %w", err)
		}
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
