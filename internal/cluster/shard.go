// Package cluster holds the authoritative, versioned, immutable model
// of the system's topology: nodes, index metadata, the per-shard
// routing table, and blocks. Every cluster.State is produced by
// copy-on-write from a prior one and published by the single-writer
// state machine in internal/fsm.
package cluster

import (
	"fmt"

	"github.com/google/uuid"
)

// IndexUUID is the stable identifier of an index. Names may be reused
// after a DROP; the UUID never is. All routing, storage, and block
// lookups key off the UUID.
type IndexUUID = uuid.UUID

// ShardID identifies one shard of one index: (index, shard-number).
// Ordering is by shard-number first, then index uuid, so that
// iteration over a sorted slice of ShardIDs groups by shard across
// indices before it groups by index — stable total order per §4.A.
type ShardID struct {
	Index IndexUUID
	Shard int32
}

func (s ShardID) String() string {
	return fmt.Sprintf("%s[%d]", s.Index, s.Shard)
}

// Less implements the §4.A ordering: shard-number first, then uuid.
func (s ShardID) Less(o ShardID) bool {
	if s.Shard != o.Shard {
		return s.Shard < o.Shard
	}
	return s.Index.String() < o.Index.String()
}

// RelationName identifies a table independent of any partitioning:
// (schema, name).
type RelationName struct {
	Schema string
	Name   string
}

func (r RelationName) String() string {
	return r.Schema + "." + r.Name
}
