package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/warrensql/internal/cluster"
)

// ShardLayout manages one node's per-index-UUID/per-shard-number data
// directory tree (§6 "persisted layout"): dataDir/<index-uuid>/<shard>.
type ShardLayout struct {
	DataDir string
}

func (l ShardLayout) indexDir(index cluster.IndexUUID) string {
	return filepath.Join(l.DataDir, index.String())
}

func (l ShardLayout) shardDir(index cluster.IndexUUID, shard int32) string {
	return filepath.Join(l.indexDir(index), fmt.Sprintf("%d", shard))
}

// EnsureShard creates the directory for one shard copy, idempotently.
func (l ShardLayout) EnsureShard(index cluster.IndexUUID, shard int32) error {
	return os.MkdirAll(l.shardDir(index, shard), 0o755)
}

// RemoveShard deletes one shard's directory via atomic rename-then-
// delete (§6): rename to a tombstone name first so a crash mid-delete
// never leaves a half-removed directory indistinguishable from a live
// one, then remove the tombstone.
func (l ShardLayout) RemoveShard(index cluster.IndexUUID, shard int32) error {
	dir := l.shardDir(index, shard)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	tombstone := dir + ".removing"
	if err := os.Rename(dir, tombstone); err != nil {
		return fmt.Errorf("storage: rename shard dir for removal: %w", err)
	}
	return os.RemoveAll(tombstone)
}

// RemoveIndex deletes every shard directory under one index-UUID, then
// the now-empty index directory itself.
func (l ShardLayout) RemoveIndex(index cluster.IndexUUID) error {
	dir := l.indexDir(index)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	tombstone := dir + ".removing"
	if err := os.Rename(dir, tombstone); err != nil {
		return fmt.Errorf("storage: rename index dir for removal: %w", err)
	}
	return os.RemoveAll(tombstone)
}

// NodeRole distinguishes the three repurpose-node outcomes of §6.
type NodeRole int

const (
	RoleDataNode NodeRole = iota
	RoleMasterOnly
	RoleNeither
)

// RepurposeNode implements the §6 CLI surface: if the node is a data
// node, repurposing is a no-op (its shard data is still meaningful);
// if master-only, delete shard directories only; if neither, delete
// shard directories *and* index metadata.
func RepurposeNode(layout ShardLayout, role NodeRole, store Store, indices []cluster.IndexUUID) error {
	switch role {
	case RoleDataNode:
		return nil

	case RoleMasterOnly:
		for _, index := range indices {
			if err := layout.RemoveIndex(index); err != nil {
				return err
			}
		}
		return nil

	case RoleNeither:
		for _, index := range indices {
			if err := layout.RemoveIndex(index); err != nil {
				return err
			}
		}
		state, err := store.LoadState()
		if err != nil {
			return err
		}
		b := cluster.NewBuilder(state)
		meta := b.MetadataBuilder()
		for _, index := range indices {
			meta.Remove(index)
		}
		return store.SaveState(b.Build())

	default:
		return fmt.Errorf("storage: unknown node role %d", role)
	}
}
