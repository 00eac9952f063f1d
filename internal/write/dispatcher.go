package write

import (
	"context"
	"runtime"
	"sync"

	"github.com/cuemby/warrensql/internal/errkind"
	"github.com/rs/zerolog"
)

// ShardReplicationResult is the outcome of sending one ShardedRequest
// to the node owning its primary, which then replicates per the
// (out-of-scope) primary-first replication protocol (§4.F).
type ShardReplicationResult struct {
	SuccessfulReplicas int
	FailedReplicas     int
	Total              int
	RowErrors          []Failure
	Err                error
}

// ShardSender sends one batch to the node owning its shard primary.
// Implementations live in internal/transport.
type ShardSender interface {
	Send(ctx context.Context, req *ShardedRequest) (ShardReplicationResult, error)
}

// Summary is the dispatcher's aggregated outcome (§4.F).
type Summary struct {
	SuccessCount int
	ErrorCount   int
	RowErrors    []Failure

	// PerSourceURI is populated only when ReturnSummaryMode is set:
	// failures are carried per source URI with (count, line numbers,
	// message) instead of being batched into one error.
	PerSourceURI map[string]*SourceFailureSummary
}

type SourceFailureSummary struct {
	Count       int
	LineNumbers []int
	Message     string
}

// Dispatcher implements §4.F.
type Dispatcher struct {
	Sender            ShardSender
	TempErrorRetries  int // default 3
	ReturnSummaryMode bool
	// MaxConcurrency bounds the number of in-flight sends; a send per
	// shard-node pair would otherwise spawn one goroutine per entry in
	// requests, which is unbounded under a broadcast touching thousands
	// of shards (§5 Concurrency & Resource Model). Defaults to
	// runtime.GOMAXPROCS(0).
	MaxConcurrency int
	Logger         zerolog.Logger
}

func NewDispatcher(sender ShardSender) *Dispatcher {
	return &Dispatcher{Sender: sender, TempErrorRetries: 3}
}

// Dispatch sends every ShardedRequest in requests over a fixed-size
// pool of workers and aggregates the results. Retries the kinds
// errkind marks Retryable (NotFound, VersionConflict, Temporary —
// shard-not-available,
// index-not-found-right-after-create, connection-transport-exception)
// up to TempErrorRetries; after exhaustion the error surfaces (§4.F
// retry policy).
func (d *Dispatcher) Dispatch(ctx context.Context, requests map[ShardKey]*ShardedRequest) Summary {
	retries := d.TempErrorRetries
	if retries <= 0 {
		retries = 3
	}

	var mu sync.Mutex
	summary := Summary{PerSourceURI: make(map[string]*SourceFailureSummary)}

	workers := d.MaxConcurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(requests) {
		workers = len(requests)
	}
	if workers < 1 {
		workers = 1
	}

	workCh := make(chan *ShardedRequest, len(requests))
	for _, req := range requests {
		workCh <- req
	}
	close(workCh)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range workCh {
				result := d.sendWithRetry(ctx, req, retries)
				mu.Lock()
				d.fold(&summary, req, result)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if !d.ReturnSummaryMode {
		summary.PerSourceURI = nil
	}
	return summary
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, req *ShardedRequest, retries int) ShardReplicationResult {
	var last ShardReplicationResult
	for attempt := 0; attempt <= retries; attempt++ {
		result, err := d.Sender.Send(ctx, req)
		if err == nil {
			return result
		}
		last = ShardReplicationResult{Err: err, Total: len(req.Items)}
		kind, _ := errkind.As(err)
		if !kind.Retryable() {
			return last
		}
		select {
		case <-ctx.Done():
			last.Err = ctx.Err()
			return last
		default:
		}
	}
	return last
}

func (d *Dispatcher) fold(summary *Summary, req *ShardedRequest, result ShardReplicationResult) {
	if result.Err != nil {
		summary.ErrorCount += len(req.Items)
		for _, item := range req.Items {
			f := Failure{SourceURI: item.SourceURI, SourceLine: item.SourceLine, Message: result.Err.Error(), Err: result.Err}
			summary.RowErrors = append(summary.RowErrors, f)
			d.recordPerSource(summary, f)
		}
		return
	}
	summary.SuccessCount += len(req.Items) - len(result.RowErrors)
	summary.ErrorCount += len(result.RowErrors)
	summary.RowErrors = append(summary.RowErrors, result.RowErrors...)
	for _, f := range result.RowErrors {
		d.recordPerSource(summary, f)
	}
}

func (d *Dispatcher) recordPerSource(summary *Summary, f Failure) {
	if f.SourceURI == "" {
		return
	}
	s, ok := summary.PerSourceURI[f.SourceURI]
	if !ok {
		s = &SourceFailureSummary{Message: f.Message}
		summary.PerSourceURI[f.SourceURI] = s
	}
	s.Count++
	s.LineNumbers = append(s.LineNumbers, f.SourceLine)
}
