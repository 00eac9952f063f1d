// Package broadcast implements the generic by-node fan-out operation
// (§4.H, §9 "deep inheritance of transport actions collapses to a
// single generic BroadcastByNode<Req, Resp, ShardResult>").
package broadcast

import (
	"context"
	"runtime"
	"sync"

	"github.com/cuemby/warrensql/internal/cluster"
)

// NodeRequest is what gets sent to one node: the shards on that node
// that the logical request touches.
type NodeRequest[Req any] struct {
	Node   string
	Shards []cluster.ShardID
	Req    Req
}

// NodeResponse is what one node returns after executing its shards
// serially.
type NodeResponse[ShardResult any] struct {
	Total     int
	Successes int
	Results   []ShardResult
	Errors    []ShardError
}

type ShardError struct {
	Shard cluster.ShardID
	Err   error
}

// Response is the coordinator's folded result (§4.H).
type Response[ShardResult any] struct {
	Total             int
	Successes         int
	Failures          int
	ShardsNotAvailable int
	Results           []ShardResult
	Errors            []ShardError
}

// Broadcast is the generic fan-out described in §9: ShardOperation
// executes one shard's worth of Req on the node that owns it;
// NodeSend dispatches one NodeRequest to a node (internal/transport in
// production, a fake in tests).
type Broadcast[Req, Resp, ShardResult any] struct {
	ShardOperation func(ctx context.Context, req Req, shard cluster.ShardID) (ShardResult, error)
	NodeSend       func(ctx context.Context, nr NodeRequest[Req]) (NodeResponse[ShardResult], error)

	// MaxConcurrency bounds the number of nodes dispatched to at once;
	// without it a cluster-wide broadcast spawns one goroutine per
	// node with no ceiling. Defaults to runtime.GOMAXPROCS(0).
	MaxConcurrency int
}

// Run executes the fan-out for concreteIndices against state: compute
// the shards to touch, group by current node, send one request per
// node, fold the responses (§4.H).
//
// Rules enforced here:
//   - a shard whose current node isn't in state.Nodes is reported as
//     "shard not available" rather than dispatched;
//   - a node-level send failure counts all of that node's shards as
//     failed;
//   - "shard not available" errors are dropped from the per-shard
//     failures list — they are transient and counted separately.
func (bc *Broadcast[Req, Resp, ShardResult]) Run(ctx context.Context, state cluster.State, req Req, concreteIndices []cluster.IndexUUID) Response[ShardResult] {
	byNode := make(map[string][]cluster.ShardID)
	notAvailable := 0

	for _, index := range concreteIndices {
		rt, ok := state.RoutingTable.IndexTable(index)
		if !ok {
			continue
		}
		for _, shardTable := range rt.Shards {
			node := shardTable.Primary.CurrentNodeID()
			if node == "" {
				notAvailable++
				continue
			}
			if _, ok := state.Nodes.Get(node); !ok {
				notAvailable++
				continue
			}
			byNode[node] = append(byNode[node], shardTable.ShardID)
		}
	}

	resp := Response[ShardResult]{ShardsNotAvailable: notAvailable, Total: notAvailable}

	type nodeWork struct {
		node   string
		shards []cluster.ShardID
	}
	workCh := make(chan nodeWork, len(byNode))
	for node, shards := range byNode {
		workCh <- nodeWork{node: node, shards: shards}
	}
	close(workCh)

	workers := bc.MaxConcurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(byNode) {
		workers = len(byNode)
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				nr := NodeRequest[Req]{Node: w.node, Shards: w.shards, Req: req}
				nodeResp, err := bc.NodeSend(ctx, nr)

				mu.Lock()
				resp.Total += len(w.shards)
				if err != nil {
					resp.Failures += len(w.shards)
					for _, s := range w.shards {
						resp.Errors = append(resp.Errors, ShardError{Shard: s, Err: err})
					}
					mu.Unlock()
					continue
				}
				resp.Successes += nodeResp.Successes
				resp.Results = append(resp.Results, nodeResp.Results...)
				for _, e := range nodeResp.Errors {
					if isShardNotAvailable(e.Err) {
						resp.ShardsNotAvailable++
						continue
					}
					resp.Failures++
					resp.Errors = append(resp.Errors, e)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return resp
}

// shardNotAvailableErr marks an error reported by a node handler as
// "shard not available" (e.g. the shard relocated away mid-request),
// so the coordinator can drop it from Errors and count it separately.
type shardNotAvailableErr struct{ error }

func ShardNotAvailable(err error) error { return shardNotAvailableErr{err} }

func isShardNotAvailable(err error) bool {
	_, ok := err.(shardNotAvailableErr)
	return ok
}
