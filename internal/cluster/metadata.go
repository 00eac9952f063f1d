package cluster

import "encoding/json"

// IndexState is the lifecycle state of an index (§3 Index state).
type IndexState int

const (
	IndexOpen IndexState = iota
	IndexClose
)

func (s IndexState) String() string {
	if s == IndexClose {
		return "CLOSE"
	}
	return "OPEN"
}

// IndexMetadata is the authoritative description of one index: its
// identity, shard/replica counts, routing configuration, and
// lifecycle state.
type IndexMetadata struct {
	UUID    IndexUUID
	Name    string // human label; may be reused after DROP
	RelName RelationName

	NumberOfShards   int32
	NumberOfReplicas int32

	// RoutingNumShards is the shard count at index creation time,
	// before any shrink. RoutingFactor = RoutingNumShards /
	// NumberOfShards preserves document placement across shrinks
	// (§4.D step 3).
	RoutingNumShards int32

	RoutingColumn        string // empty means the document id doubles as the routing key
	RoutingPartitioned   bool
	RoutingPartitionSize int32

	State           IndexState
	SettingsVersion int64

	// VerifiedBeforeClose is set by the close protocol's commit
	// step once all shard copies have ACKed the close block (§4.G
	// step 3).
	VerifiedBeforeClose bool

	// Columns carries the pre-insert constraint model (§4.E step 9),
	// in the same declaration order as Row.Values/IndexItem.Values.
	// Empty means no constraints are enforced (e.g. metadata created
	// before this field existed).
	Columns []ColumnConstraint
}

// CheckOp is a comparison a CHECK constraint runs against a column's
// numeric value.
type CheckOp string

const (
	CheckNone CheckOp = ""
	CheckGT   CheckOp = "gt"
	CheckGTE  CheckOp = "gte"
	CheckLT   CheckOp = "lt"
	CheckLTE  CheckOp = "lte"
	CheckNE   CheckOp = "ne"
)

// ColumnConstraint models one column's pre-insert constraints: NOT
// NULL, primary-key membership (enforced as batch-local uniqueness;
// true cross-shard uniqueness needs IO and is out of scope, §1), a
// numeric CHECK comparison, and generated-column determinism.
type ColumnConstraint struct {
	Name string

	PrimaryKey bool
	NotNull    bool

	// Generated marks a computed column. A generated column whose
	// expression isn't deterministic can't be trusted to compute the
	// same value on every shard replica, so rows touching it fail
	// validation rather than risk replica divergence.
	Generated              bool
	GeneratedDeterministic bool

	CheckOp      CheckOp
	CheckOperand float64
}

// RoutingFactor returns RoutingNumShards / NumberOfShards, used by
// §4.D step 3 to map a pre-shrink shard number onto the current shard
// count.
func (m IndexMetadata) RoutingFactor() int32 {
	if m.NumberOfShards == 0 {
		return 1
	}
	return m.RoutingNumShards / m.NumberOfShards
}

// Metadata is the index arena of a cluster State: immutable map keyed
// by index UUID, plus a name index for relation/partition lookups.
type Metadata struct {
	byUUID map[IndexUUID]IndexMetadata
}

func NewMetadata(indices ...IndexMetadata) Metadata {
	m := make(map[IndexUUID]IndexMetadata, len(indices))
	for _, idx := range indices {
		m[idx.UUID] = idx
	}
	return Metadata{byUUID: m}
}

func (m Metadata) Get(id IndexUUID) (IndexMetadata, bool) {
	idx, ok := m.byUUID[id]
	return idx, ok
}

func (m Metadata) Len() int { return len(m.byUUID) }

func (m Metadata) All() []IndexMetadata {
	out := make([]IndexMetadata, 0, len(m.byUUID))
	for _, idx := range m.byUUID {
		out = append(out, idx)
	}
	return out
}

// IndicesOf returns every index (partition) belonging to rel, in
// undefined order.
func (m Metadata) IndicesOf(rel RelationName) []IndexMetadata {
	out := make([]IndexMetadata, 0)
	for _, idx := range m.byUUID {
		if idx.RelName == rel {
			out = append(out, idx)
		}
	}
	return out
}

// MarshalJSON encodes the arena as a plain list: byUUID is unexported
// so the default struct encoding would lose every index.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

// UnmarshalJSON rebuilds the arena from the list form.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var indices []IndexMetadata
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	*m = NewMetadata(indices...)
	return nil
}

// ByUUID is a defensive copy of the underlying map, for snapshotting.
func (m Metadata) ByUUID() map[IndexUUID]IndexMetadata {
	out := make(map[IndexUUID]IndexMetadata, len(m.byUUID))
	for k, v := range m.byUUID {
		out[k] = v
	}
	return out
}

// MetadataBuilder supports copy-on-write mutation of the index arena.
type MetadataBuilder struct {
	base Metadata
	diff map[IndexUUID]*IndexMetadata
}

func NewMetadataBuilder(base Metadata) *MetadataBuilder {
	return &MetadataBuilder{base: base, diff: make(map[IndexUUID]*IndexMetadata)}
}

func (b *MetadataBuilder) Put(idx IndexMetadata) *MetadataBuilder {
	cp := idx
	b.diff[idx.UUID] = &cp
	return b
}

func (b *MetadataBuilder) Remove(id IndexUUID) *MetadataBuilder {
	b.diff[id] = nil
	return b
}

func (b *MetadataBuilder) Build() Metadata {
	m := make(map[IndexUUID]IndexMetadata, len(b.base.byUUID)+len(b.diff))
	for id, idx := range b.base.byUUID {
		m[id] = idx
	}
	for id, idx := range b.diff {
		if idx == nil {
			delete(m, id)
		} else {
			m[id] = *idx
		}
	}
	return Metadata{byUUID: m}
}
