package closetable

import (
	"context"

	"github.com/cuemby/warrensql/internal/cluster"
)

// Coordinator drives the three §4.G tasks end to end for one ALTER
// TABLE ... CLOSE statement, the way a master-side task executor
// would dispatch "add-block-close-table" then "close-indices" on its
// single-writer queue, with step 2 running off that thread.
type Coordinator struct {
	InProgress InProgressChecker
	Verifier   ShardVerifier
	Rerouter   AllocatorRerouter

	// Publish commits a new cluster state and returns the state
	// actually agreed by quorum. When nil, next is used unchanged;
	// internal/node's close handler does not use Coordinator and
	// applies the internal/fsm ops itself.
	Publish func(ctx context.Context, next cluster.State) (cluster.State, error)
}

// Result is the outcome of one CloseTable run.
type Result struct {
	Acknowledged bool
	ClosedCount  int
}

// CloseTable runs steps 1-3 of §4.G for rel against state.
//
// Failure semantics (§4.G): any exception in steps 1/3 fails the
// whole request; step-2 failures downgrade the affected index to
// acknowledged=false without aborting the others (§8 property 4/5:
// running this twice on an already-closed table is a no-op both
// times).
func (c *Coordinator) CloseTable(ctx context.Context, state cluster.State, rel cluster.RelationName) (Result, error) {
	blockedState, blocked, err := AddBlockCloseTable(state, rel, c.InProgress)
	if err != nil {
		return Result{}, err
	}
	if len(blocked) == 0 {
		return Result{Acknowledged: true}, nil // no open indices: no-op
	}

	published, err := c.publish(ctx, blockedState)
	if err != nil {
		return Result{}, err
	}

	acked := VerifyShards(ctx, published, blocked, c.Verifier)

	closedState, finalAck, err := CloseIndices(published, acked, c.InProgress, c.Rerouter)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.publish(ctx, closedState); err != nil {
		return Result{}, err
	}

	allAcked := len(finalAck) == len(blocked)
	for _, ok := range finalAck {
		if !ok {
			allAcked = false
		}
	}
	return Result{Acknowledged: allAcked, ClosedCount: len(finalAck)}, nil
}

func (c *Coordinator) publish(ctx context.Context, next cluster.State) (cluster.State, error) {
	if c.Publish == nil {
		return next, nil
	}
	return c.Publish(ctx, next)
}
