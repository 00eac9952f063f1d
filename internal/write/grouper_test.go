package write

import (
	"testing"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/errkind"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver resolves against an in-memory map of partition keys to
// index UUIDs; Resolve returns false until Create is called, modeling
// "partition doesn't exist yet".
type fakeResolver struct {
	byPartitionKey map[string]cluster.IndexUUID
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byPartitionKey: make(map[string]cluster.IndexUUID)}
}

func (r *fakeResolver) Resolve(state cluster.State, rel cluster.RelationName, values []string) (cluster.IndexUUID, bool) {
	key := cluster.PartitionName(rel, values)
	id, ok := r.byPartitionKey[key]
	return id, ok
}

func (r *fakeResolver) Create(rel cluster.RelationName, values []string) cluster.IndexUUID {
	id := cluster.IndexUUID(uuid.New())
	r.byPartitionKey[cluster.PartitionName(rel, values)] = id
	return id
}

func stateWithShard(index cluster.IndexUUID, shardNum int32, node string) cluster.State {
	s := cluster.NewEmptyState()
	b := cluster.NewBuilder(s)
	b.MetadataBuilder().Put(cluster.IndexMetadata{
		UUID: index, NumberOfShards: 1, RoutingNumShards: 1,
	})
	b.RoutingBuilder().PutShard(index, cluster.IndexShardRoutingTable{
		ShardID: cluster.ShardID{Index: index, Shard: shardNum},
		Primary: cluster.ShardRouting{State: cluster.Started, NodeID: node, Primary: true},
	})
	return b.Build()
}

// TestGrouperCorrectness is §8 property 6: every row ends up in
// exactly one of (a ShardedRequests batch, itemsByMissingPartition, or
// the failure recorder) — total and disjoint.
func TestGrouperCorrectness(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	resolver := newFakeResolver()
	index := resolver.Create(rel, nil)
	state := stateWithShard(index, 0, "node-1")

	rows := []Row{
		{ID: "ok-1", Values: []any{1}},
		{ID: "ok-2", Values: []any{2}},
		{ID: "bad-eval", EvalError: assert.AnError},
		{ID: "dropped", SourceURI: "file:///failed.csv"},
	}
	failedURIs := map[string]struct{}{"file:///failed.csv": {}}

	g := &Grouper{Resolver: resolver, AutoCreate: true}
	recorder := &SliceFailureRecorder{}
	res := g.Group(state, rel, rows, failedURIs, recorder)

	totalInRequests := 0
	for _, req := range res.Requests {
		totalInRequests += len(req.Items)
	}
	totalMissing := 0
	for _, items := range res.MissingPartition {
		totalMissing += len(items)
	}

	// 2 ok rows land in Requests; 1 eval-error row lands in the
	// recorder; 1 dropped row (failed source) vanishes without error
	// per step 3 — it is deliberately excluded from all three
	// destinations, so the total below is rows-1.
	assert.Equal(t, 2, totalInRequests)
	assert.Equal(t, 0, totalMissing)
	require.Len(t, recorder.Failures, 1)
	assert.Equal(t, assert.AnError, recorder.Failures[0].Err)
}

// TestScenarioS4_PartitionedInsertAutoCreate is the literal scenario:
// insert (day='2024-01-01', id='x') when no partition exists for
// doc.p PARTITIONED BY (day). The grouper places it in
// itemsByMissingPartition; after auto-create, re-resolution places it
// in ShardedRequests for the new index's primary node.
func TestScenarioS4_PartitionedInsertAutoCreate(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "p"}
	resolver := newFakeResolver()
	g := &Grouper{Resolver: resolver, AutoCreate: true}
	recorder := &SliceFailureRecorder{}

	state := cluster.NewEmptyState()
	rows := []Row{{ID: "x", PartitionValues: []string{"2024-01-01"}, Values: []any{"x", "2024-01-01"}}}

	res := g.Group(state, rel, rows, nil, recorder)
	require.Empty(t, res.Requests)
	require.Len(t, res.MissingPartition, 1)

	var key string
	var items []MissingPartitionItem
	for k, v := range res.MissingPartition {
		key, items = k, v
	}

	// Auto-create completes.
	index := resolver.Create(rel, items[0].PartitionValues)
	newState := stateWithShard(index, 0, "node-7")

	g.Reresolve(newState, rel, key, items, res, recorder)

	require.Empty(t, recorder.Failures)
	require.Len(t, res.Requests, 1)
	for k, req := range res.Requests {
		assert.Equal(t, "node-7", k.NodeID)
		assert.Equal(t, "node-7", req.Node)
		require.Len(t, req.Items, 1)
		assert.Equal(t, "x", req.Items[0].ID)
	}
}

// TestReresolutionTermination is §8 property 7: after auto-create
// completes, a second pass resolves every queued item.
func TestReresolutionTermination(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "p"}
	resolver := newFakeResolver()
	g := &Grouper{Resolver: resolver, AutoCreate: true}
	recorder := &SliceFailureRecorder{}

	rows := []Row{
		{ID: "a", PartitionValues: []string{"p1"}},
		{ID: "b", PartitionValues: []string{"p1"}},
		{ID: "c", PartitionValues: []string{"p1"}},
	}
	res := g.Group(cluster.NewEmptyState(), rel, rows, nil, recorder)
	require.Len(t, res.MissingPartition, 1)

	var key string
	var items []MissingPartitionItem
	for k, v := range res.MissingPartition {
		key, items = k, v
	}
	require.Len(t, items, 3)

	index := resolver.Create(rel, []string{"p1"})
	state := stateWithShard(index, 0, "node-1")
	g.Reresolve(state, rel, key, items, res, recorder)

	assert.Empty(t, recorder.Failures)
	total := 0
	for _, req := range res.Requests {
		total += len(req.Items)
	}
	assert.Equal(t, 3, total)
}

// TestGroupRejectsConstraintViolations is §4.E step 9: NOT NULL, CHECK,
// generated-column determinism, and batch-local primary-key uniqueness
// are all evaluated before a row reaches a ShardedRequest, and each
// violation surfaces as a Validation-kind failure rather than a
// shard-placement attempt.
func TestGroupRejectsConstraintViolations(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "t"}
	resolver := newFakeResolver()
	index := resolver.Create(rel, nil)
	state := stateWithShard(index, 0, "node-1")

	b := cluster.NewBuilder(state)
	meta, _ := state.Metadata.Get(index)
	meta.RelName = rel
	meta.Columns = []cluster.ColumnConstraint{
		{Name: "id", PrimaryKey: true},
		{Name: "qty", NotNull: true, CheckOp: cluster.CheckGT, CheckOperand: 0},
	}
	b.MetadataBuilder().Put(meta)
	state = b.Build()

	rows := []Row{
		{ID: "ok", Values: []any{1, 5}},
		{ID: "null-qty", Values: []any{2, nil}},
		{ID: "non-positive-qty", Values: []any{3, -1}},
		{ID: "dup-pk", Values: []any{1, 7}},
	}

	g := &Grouper{Resolver: resolver, AutoCreate: true}
	recorder := &SliceFailureRecorder{}
	res := g.Group(state, rel, rows, nil, recorder)

	totalInRequests := 0
	for _, req := range res.Requests {
		totalInRequests += len(req.Items)
	}
	assert.Equal(t, 1, totalInRequests)
	require.Len(t, recorder.Failures, 3)
	for _, f := range recorder.Failures {
		kind, ok := errkind.As(f.Err)
		require.True(t, ok, "expected an errkind-wrapped error, got %v", f.Err)
		assert.Equal(t, errkind.Validation, kind)
	}
}

// TestReresolutionStillMissingIsIllegalState covers the §9 Open
// Question decision: if re-resolution still can't place an item, that
// item fails with IllegalState rather than being retried as a whole
// batch.
func TestReresolutionStillMissingIsIllegalState(t *testing.T) {
	rel := cluster.RelationName{Schema: "doc", Name: "p"}
	resolver := newFakeResolver()
	g := &Grouper{Resolver: resolver, AutoCreate: true}
	recorder := &SliceFailureRecorder{}

	items := []MissingPartitionItem{{PartitionKey: "k", PartitionValues: []string{"p1"}, Item: IndexItem{ID: "x"}}}
	g.Reresolve(cluster.NewEmptyState(), rel, "k", items, &Result{Requests: map[ShardKey]*ShardedRequest{}}, recorder)

	require.Len(t, recorder.Failures, 1)
	assert.Contains(t, recorder.Failures[0].Message, "shardLocation not resolvable after createIndices")
}
