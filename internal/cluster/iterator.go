package cluster

// ShardIterator yields shard copies in a fixed, pre-computed order. It
// never repeats a copy (§4.C) and is built once per call so that
// repeated calls with the same inputs are stable.
type ShardIterator struct {
	copies []ShardRouting
	pos    int
}

func NewShardIterator(copies []ShardRouting) *ShardIterator {
	return &ShardIterator{copies: copies}
}

// Next returns the next copy, or false when exhausted.
func (it *ShardIterator) Next() (ShardRouting, bool) {
	if it == nil || it.pos >= len(it.copies) {
		return ShardRouting{}, false
	}
	c := it.copies[it.pos]
	it.pos++
	return c, true
}

// Remaining returns every copy not yet consumed.
func (it *ShardIterator) Remaining() []ShardRouting {
	if it == nil {
		return nil
	}
	return it.copies[it.pos:]
}

func (it *ShardIterator) Len() int {
	if it == nil {
		return 0
	}
	return len(it.copies) - it.pos
}

// EmptyShardIterator returns an iterator with no copies, used for
// preference filters that exclude this shard entirely (e.g.
// _shards:<csv> when this shard's number isn't listed, or _only_local
// when there's no local copy).
func EmptyShardIterator() *ShardIterator {
	return NewShardIterator(nil)
}

// activeInitializingShardsRandomIt returns active/initializing copies
// in hash-derived rotation order: rotating the slice by hash makes
// repeated calls with different hash values spread load across
// replicas while staying stable for a fixed hash (§4.C "random
// order" variant — "random" here means request-derived, not
// nondeterministic, so that replays are reproducible).
func activeInitializingShardsRandomIt(t IndexShardRoutingTable, hash uint32) *ShardIterator {
	copies := t.ActiveInitializing()
	if len(copies) == 0 {
		return EmptyShardIterator()
	}
	offset := int(hash % uint32(len(copies)))
	rotated := make([]ShardRouting, len(copies))
	for i := range copies {
		rotated[i] = copies[(offset+i)%len(copies)]
	}
	return NewShardIterator(rotated)
}

// ActiveInitializingShardsIt is the shard-id-hash-order variant:
// rotate by a hash derived purely from the shard id so that it is
// stable across calls regardless of any external hash input.
func (t IndexShardRoutingTable) ActiveInitializingShardsIt() *ShardIterator {
	return activeInitializingShardsRandomIt(t, shardIDHash(t.ShardID))
}

// ActiveInitializingShardsItWithHash rotates using an externally
// supplied hash (e.g. derived from an opaque preference string).
func (t IndexShardRoutingTable) ActiveInitializingShardsItWithHash(hash uint32) *ShardIterator {
	return activeInitializingShardsRandomIt(t, hash)
}

// PreferNodeActiveInitializingShardsIt returns active/initializing
// copies with those hosted on a node in nodes first, the rest
// following in hash order.
func (t IndexShardRoutingTable) PreferNodeActiveInitializingShardsIt(nodes map[string]struct{}) *ShardIterator {
	base := t.ActiveInitializingShardsIt().Remaining()
	return NewShardIterator(partitionByNode(base, nodes, true))
}

// OnlyNodeActiveInitializingShardsIt returns only the copy hosted on
// node, or empty if none match.
func (t IndexShardRoutingTable) OnlyNodeActiveInitializingShardsIt(node string) *ShardIterator {
	for _, c := range t.ActiveInitializing() {
		if c.CurrentNodeID() == node {
			return NewShardIterator([]ShardRouting{c})
		}
	}
	return EmptyShardIterator()
}

// OnlyNodesActiveInitializingShardsIt returns only copies hosted on a
// node in nodes.
func (t IndexShardRoutingTable) OnlyNodesActiveInitializingShardsIt(nodes map[string]struct{}) *ShardIterator {
	out := make([]ShardRouting, 0)
	for _, c := range t.ActiveInitializing() {
		if _, ok := nodes[c.CurrentNodeID()]; ok {
			out = append(out, c)
		}
	}
	return NewShardIterator(out)
}

// PreferAttributesActiveInitializingShardsIt prefers copies whose
// hosting node's attrValues[key] matches localValue, falling back to
// the remaining copies in hash order when none match (§4.C rationale:
// minimize cross-zone traffic, fall back otherwise).
func (t IndexShardRoutingTable) PreferAttributesActiveInitializingShardsIt(
	nodeAttr func(nodeID string) (string, bool), attrKey, localValue string, hash uint32,
) *ShardIterator {
	base := t.ActiveInitializingShardsItWithHash(hash).Remaining()
	matching := make([]ShardRouting, 0)
	rest := make([]ShardRouting, 0)
	for _, c := range base {
		if v, ok := nodeAttr(c.CurrentNodeID()); ok && v == localValue {
			matching = append(matching, c)
		} else {
			rest = append(rest, c)
		}
	}
	return NewShardIterator(append(matching, rest...))
}

func partitionByNode(copies []ShardRouting, nodes map[string]struct{}, preferredFirst bool) []ShardRouting {
	matching := make([]ShardRouting, 0)
	rest := make([]ShardRouting, 0)
	for _, c := range copies {
		if _, ok := nodes[c.CurrentNodeID()]; ok {
			matching = append(matching, c)
		} else {
			rest = append(rest, c)
		}
	}
	if preferredFirst {
		return append(matching, rest...)
	}
	return append(rest, matching...)
}

// shardIDHash derives a stable uint32 from a ShardID, used as the
// default rotation seed when no external hash is supplied.
func shardIDHash(id ShardID) uint32 {
	h := uint32(2166136261)
	for _, b := range []byte(id.Index.String()) {
		h ^= uint32(b)
		h *= 16777619
	}
	h ^= uint32(id.Shard)
	h *= 16777619
	return h
}
