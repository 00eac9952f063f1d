// Package write implements the row-to-shard grouping and write
// dispatch pipeline (§4.E, §4.F): given a batch of rows, compute each
// row's destination shard, group by owning node, auto-create missing
// partitions, re-resolve, and dispatch.
package write

import (
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
)

// Row is one input row to the write path: already-evaluated column
// values plus optional source tracking for bulk-load diagnostics.
type Row struct {
	PartitionValues []string // values of the table's partition columns, in declaration order
	ID              string
	Routing         string
	Values          []any

	SourceURI  string // optional; "" if not from a bulk source
	SourceLine int

	// EvalError is set by the caller if evaluating this row's
	// expressions threw (§4.E step 4); the grouper records a
	// per-row failure and emits no item.
	EvalError error
}

// IndexItem is one row, resolved to its destination shard, ready to
// send (§4.E).
type IndexItem struct {
	ID               string
	PrimaryKeyValues []string
	AutoGenTimestamp time.Time
	Values           []any

	SourceURI  string
	SourceLine int
}

// ShardKey identifies one destination batch: a shard copy's owning
// node.
type ShardKey struct {
	Shard  cluster.ShardID
	NodeID string
}

// ShardedRequest is the batch of items destined for one (shard, node).
type ShardedRequest struct {
	Shard cluster.ShardID
	Node  string
	Items []IndexItem
}

// MissingPartitionItem is a row whose owning index doesn't exist yet
// (§4.E step 8); it is queued for the re-resolution pass after
// auto-create.
type MissingPartitionItem struct {
	PartitionKey    string // the partition's deterministic name fragment
	PartitionValues []string
	Item            IndexItem
}

// Failure is a recorded per-row failure (§4.E step 4, §7
// Validation).
type Failure struct {
	SourceURI  string
	SourceLine int
	Message    string
	Err        error
}

// FailureRecorder collects per-row failures without aborting the rest
// of the batch, per §7's propagation policy for Validation-kind
// errors.
type FailureRecorder interface {
	RecordFailure(f Failure)
}

// SliceFailureRecorder is the simplest FailureRecorder: an
// append-only slice, safe for single-goroutine use within one
// Group call.
type SliceFailureRecorder struct {
	Failures []Failure
}

func (r *SliceFailureRecorder) RecordFailure(f Failure) {
	r.Failures = append(r.Failures, f)
}
