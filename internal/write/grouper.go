package write

import (
	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/errkind"
	"github.com/cuemby/warrensql/internal/routing"
	"github.com/rs/zerolog"
)

// IndexResolver resolves the index UUID backing a (relation,
// partition-values) pair against a cluster state snapshot (§4.E step
// 5). AutoCreate is invoked by the caller, not the grouper — the
// grouper only decides whether a row needs it.
type IndexResolver interface {
	Resolve(state cluster.State, rel cluster.RelationName, partitionValues []string) (cluster.IndexUUID, bool)
}

// Result is the grouper's output: a total, disjoint partition of the
// input rows (§8 property 6).
type Result struct {
	Requests         map[ShardKey]*ShardedRequest
	MissingPartition map[string][]MissingPartitionItem // keyed by partition key
}

// Grouper implements §4.E.
type Grouper struct {
	Resolver   IndexResolver
	AutoCreate bool
	Logger     zerolog.Logger
}

// Group processes one batch of rows against state, per §4.E steps
// 1-10. Rows whose source URI is known-failed are silently dropped
// (step 3); rows with an eval error are recorded as a failure (step
// 4) and otherwise excluded from the output partition entirely —
// §8 property 6 treats "recorded failure" as one of the three disjoint
// outcomes.
func (g *Grouper) Group(state cluster.State, rel cluster.RelationName, rows []Row, failedSourceURIs map[string]struct{}, recorder FailureRecorder) *Result {
	res := &Result{
		Requests:         make(map[ShardKey]*ShardedRequest),
		MissingPartition: make(map[string][]MissingPartitionItem),
	}

	schema, hasSchema := schemaFor(state, rel)
	seenPrimaryKeys := make(map[string]struct{})

	for _, row := range rows {
		if row.SourceURI != "" {
			if _, failed := failedSourceURIs[row.SourceURI]; failed {
				continue // step 3: drop without error
			}
		}
		if row.EvalError != nil {
			recorder.RecordFailure(Failure{
				SourceURI:  row.SourceURI,
				SourceLine: row.SourceLine,
				Message:    "row expression evaluation failed",
				Err:        row.EvalError,
			})
			continue
		}

		if hasSchema {
			if err := validateConstraints(schema, row, seenPrimaryKeys); err != nil {
				recorder.RecordFailure(Failure{
					SourceURI:  row.SourceURI,
					SourceLine: row.SourceLine,
					Message:    "pre-insert constraint violation",
					Err:        err,
				})
				continue
			}
		}

		item := IndexItem{
			ID:         row.ID,
			Values:     row.Values,
			SourceURI:  row.SourceURI,
			SourceLine: row.SourceLine,
		}

		uuid, found := g.Resolver.Resolve(state, rel, row.PartitionValues)
		if !found {
			if !g.AutoCreate {
				recorder.RecordFailure(Failure{
					SourceURI:  row.SourceURI,
					SourceLine: row.SourceLine,
					Message:    "partition does not exist and auto-create is disabled",
					Err:        errkind.NotFoundf("no index for relation %s partition %v", rel, row.PartitionValues),
				})
				continue
			}
			key := cluster.PartitionName(rel, row.PartitionValues)
			res.MissingPartition[key] = append(res.MissingPartition[key], MissingPartitionItem{
				PartitionKey:    key,
				PartitionValues: row.PartitionValues,
				Item:            item,
			})
			continue
		}

		if err := g.placeItem(state, uuid, row.Routing, item, res); err != nil {
			recorder.RecordFailure(Failure{
				SourceURI:  row.SourceURI,
				SourceLine: row.SourceLine,
				Message:    "shard location could not be resolved",
				Err:        err,
			})
		}
	}

	return res
}

// placeItem implements §4.E steps 6-10 for one already-resolved
// index.
func (g *Grouper) placeItem(state cluster.State, index cluster.IndexUUID, rowRouting string, item IndexItem, res *Result) error {
	shardTable, err := routing.ShardsFor(state, index, item.ID, rowRouting)
	if err != nil {
		return err
	}

	node := primaryLocation(shardTable)
	if node == "" {
		// No active/initializing copy: fall back to broadcast (left
		// to the caller — internal/broadcast — by returning a
		// NotFound so the item surfaces as a retryable failure per
		// §7 rather than silently vanishing).
		return errkind.NotFoundf("no assigned node for shard %s", shardTable.ShardID)
	}

	key := ShardKey{Shard: shardTable.ShardID, NodeID: node}
	req, ok := res.Requests[key]
	if !ok {
		req = &ShardedRequest{Shard: shardTable.ShardID, Node: node}
		res.Requests[key] = req
	}
	req.Items = append(req.Items, item)
	return nil
}

// primaryLocation is §4.E step 7: "look up the shard's current
// location (primary's node)... next assigned copy; if copy is not
// active, use relocating-target node-id; if none, node-id is null".
func primaryLocation(t cluster.IndexShardRoutingTable) string {
	if node := t.Primary.CurrentNodeID(); node != "" {
		return node
	}
	for _, r := range t.Replicas {
		if node := r.CurrentNodeID(); node != "" {
			return node
		}
	}
	return ""
}

// Reresolve implements §4.E's re-resolution pass: after auto-create
// succeeds for partitionKey, re-run placement for every item that was
// queued under it against the freshly updated state. If the location
// still cannot be resolved, that is a programming bug (§4.E,
// §9 Open Question), not a user error, and is reported as
// IllegalState rather than retried.
func (g *Grouper) Reresolve(state cluster.State, rel cluster.RelationName, partitionKey string, items []MissingPartitionItem, res *Result, recorder FailureRecorder) {
	uuid, found := g.Resolver.Resolve(state, rel, items[0].PartitionValues)
	if !found {
		for _, mi := range items {
			recorder.RecordFailure(Failure{
				SourceURI:  mi.Item.SourceURI,
				SourceLine: mi.Item.SourceLine,
				Message:    "shardLocation not resolvable after createIndices",
				Err:        errkind.IllegalStatef("partition %s still missing after auto-create", partitionKey),
			})
		}
		return
	}

	for _, mi := range items {
		if err := g.placeItem(state, uuid, "", mi.Item, res); err != nil {
			recorder.RecordFailure(Failure{
				SourceURI:  mi.Item.SourceURI,
				SourceLine: mi.Item.SourceLine,
				Message:    "shardLocation not resolvable after createIndices",
				Err:        errkind.IllegalStatef("%s: %v", partitionKey, err),
			})
		}
	}
}
