package ingester

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"helium-graph-etl/internal/arango"
	"helium-graph-etl/internal/source"
)

// ImportFunc pushes one batch of documents into the target store.
type ImportFunc func(ctx context.Context, docs []any) (arango.ImportStats, error)

// Drain consumes a cursor until exhaustion, pushing every non-empty batch
// through imp and accumulating the created+updated count.
func Drain(ctx context.Context, cur source.Cursor, imp ImportFunc) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := cur.NextBatch(ctx)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		stats, err := imp(ctx, batch)
		if err != nil {
			return total, err
		}
		total += stats.Created + stats.Updated
	}
}

// ChunkError reports a sub-interval that failed after retries. Because every
// derived key is content-addressed, a later re-run over the same window
// heals the missing rows.
type ChunkError struct {
	Collection       string
	MinTime, MaxTime int64
	Err              error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk [%d, %d) failed: %v", e.Collection, e.MinTime, e.MaxTime, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Pipeline drains time-windowed cursors into the target store, fanning a
// window out across workers over disjoint sub-intervals.
type Pipeline struct {
	source    *source.Factory
	sink      *arango.Factory
	batchSize int
	workers   int
}

func NewPipeline(src *source.Factory, sink *arango.Factory, batchSize, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{source: src, sink: sink, batchSize: batchSize, workers: workers}
}

// ParallelDrain splits [minTime, maxTime] into equal sub-intervals, one per
// worker, and drains the named collection's cursor over each. Workers open
// their own source and sink connections; the underlying session handles are
// not safe under concurrent access. A failed worker does not cancel its
// siblings; the union of chunk errors is returned alongside the summed
// count. Balances are always drained by a single worker.
func (p *Pipeline) ParallelDrain(ctx context.Context, collection string, minTime, maxTime int64, onDuplicate arango.OnDuplicate) (int, error) {
	if maxTime <= minTime {
		return 0, nil
	}

	intervals := splitInterval(minTime, maxTime, drainWorkers(collection, p.workers))

	type result struct {
		count int
		err   error
	}
	results := make(chan result, len(intervals))

	var wg sync.WaitGroup
	for _, iv := range intervals {
		wg.Add(1)
		go func(lo, hi int64) {
			defer wg.Done()
			count, err := p.drainChunk(ctx, collection, lo, hi, onDuplicate)
			results <- result{count: count, err: err}
		}(iv[0], iv[1])
	}
	wg.Wait()
	close(results)

	total := 0
	var errs []error
	for r := range results {
		total += r.count
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return total, errors.Join(errs...)
}

// drainWorkers caps the fan-out per collection. Balance documents are
// append-merged per account and the merged arrays must stay date-ascending,
// so their batches have to reach the sink in cursor order; a lone worker
// preserves it. Payment and witness edges are content-keyed and carry no
// ordering requirement.
func drainWorkers(collection string, workers int) int {
	if collection == "balances" {
		return 1
	}
	return workers
}

// splitInterval partitions [minTime, maxTime] into at most workers
// contiguous sub-intervals of equal width; the rounding remainder goes into
// the last interval. Sub-intervals are disjoint, which together with
// content-derived keys makes ingestion idempotent across retries.
func splitInterval(minTime, maxTime int64, workers int) [][2]int64 {
	if maxTime <= minTime {
		return nil
	}
	width := (maxTime - minTime) / int64(workers)
	if width <= 0 {
		workers = 1
		width = maxTime - minTime
	}

	intervals := make([][2]int64, 0, workers)
	for i := 0; i < workers; i++ {
		lo := minTime + int64(i)*width
		hi := lo + width
		if i == workers-1 {
			hi = maxTime
		}
		intervals = append(intervals, [2]int64{lo, hi})
	}
	return intervals
}

func (p *Pipeline) drainChunk(ctx context.Context, collection string, minTime, maxTime int64, onDuplicate arango.OnDuplicate) (int, error) {
	src, err := p.source.Open(ctx)
	if err != nil {
		return 0, &ChunkError{Collection: collection, MinTime: minTime, MaxTime: maxTime, Err: err}
	}
	defer src.Close()

	sink, err := p.sink.Open(ctx)
	if err != nil {
		return 0, &ChunkError{Collection: collection, MinTime: minTime, MaxTime: maxTime, Err: err}
	}

	total := 0
	err = withRetry(ctx, collection+" chunk", func() error {
		var cur source.Cursor
		imp := func(ctx context.Context, docs []any) (arango.ImportStats, error) {
			return sink.BulkUpsert(ctx, collection, docs, onDuplicate)
		}
		switch collection {
		case "payments":
			cur = src.Payments(p.batchSize, minTime, maxTime)
		case "witnesses":
			cur = src.Witnesses(p.batchSize, minTime, maxTime)
		case "balances":
			cur = src.DailyBalances(p.batchSize, minTime, maxTime)
			imp = sink.AppendDailyBalances
		default:
			return fmt.Errorf("unexpected collection %q", collection)
		}

		n, err := Drain(ctx, cur, imp)
		total = n
		return err
	})
	if err != nil {
		return total, &ChunkError{Collection: collection, MinTime: minTime, MaxTime: maxTime, Err: err}
	}
	return total, nil
}
