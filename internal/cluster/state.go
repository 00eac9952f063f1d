package cluster

// State is an immutable snapshot of the whole cluster: nodes,
// metadata, routing table, and blocks, all at a single monotone
// version. Two State values with the same Version must be byte-equal
// per field — that is the publisher's contract (§4.B).
type State struct {
	Version      uint64
	Nodes        Nodes
	Metadata     Metadata
	RoutingTable RoutingTable
	Blocks       ClusterBlocks
	Settings     Settings
}

// NewEmptyState returns the version-0 bootstrap state.
func NewEmptyState() State {
	return State{
		Version:      0,
		Nodes:        NewNodes(),
		Metadata:     NewMetadata(),
		RoutingTable: NewRoutingTable(),
		Blocks:       NewClusterBlocks(),
		Settings:     NewSettings(),
	}
}

// Builder produces a new State from a base one via copy-on-write: only
// the sub-arenas actually touched are rebuilt (§4.B, §9).
type Builder struct {
	base    State
	version uint64

	nodes    *NodesBuilder
	metadata *MetadataBuilder
	routing  *RoutingTableBuilder
	blocks   *ClusterBlocksBuilder
	settings *SettingsBuilder
}

// NewBuilder starts a builder for the next version after base.
func NewBuilder(base State) *Builder {
	return &Builder{base: base, version: base.Version + 1}
}

func (b *Builder) Version(v uint64) *Builder {
	b.version = v
	return b
}

func (b *Builder) NodesBuilder() *NodesBuilder {
	if b.nodes == nil {
		b.nodes = NewNodesBuilder(b.base.Nodes)
	}
	return b.nodes
}

func (b *Builder) MetadataBuilder() *MetadataBuilder {
	if b.metadata == nil {
		b.metadata = NewMetadataBuilder(b.base.Metadata)
	}
	return b.metadata
}

func (b *Builder) RoutingBuilder() *RoutingTableBuilder {
	if b.routing == nil {
		b.routing = NewRoutingTableBuilder(b.base.RoutingTable)
	}
	return b.routing
}

func (b *Builder) BlocksBuilder() *ClusterBlocksBuilder {
	if b.blocks == nil {
		b.blocks = NewClusterBlocksBuilder(b.base.Blocks)
	}
	return b.blocks
}

func (b *Builder) SettingsBuilder() *SettingsBuilder {
	if b.settings == nil {
		b.settings = NewSettingsBuilder(b.base.Settings)
	}
	return b.settings
}

// Build materializes the new State. Untouched sub-arenas are reused
// from base verbatim (sharing the underlying maps is safe: every
// builder constructs a fresh map rather than mutating base's).
func (b *Builder) Build() State {
	out := State{Version: b.version}

	if b.nodes != nil {
		out.Nodes = b.nodes.Build()
	} else {
		out.Nodes = b.base.Nodes
	}
	if b.metadata != nil {
		out.Metadata = b.metadata.Build()
	} else {
		out.Metadata = b.base.Metadata
	}
	if b.routing != nil {
		out.RoutingTable = b.routing.Build()
	} else {
		out.RoutingTable = b.base.RoutingTable
	}
	if b.blocks != nil {
		out.Blocks = b.blocks.Build()
	} else {
		out.Blocks = b.base.Blocks
	}
	if b.settings != nil {
		out.Settings = b.settings.Build()
	} else {
		out.Settings = b.base.Settings
	}
	return out
}
