// Package olap executes an analytic workload file against the database
// under tuning: queries are split across N workers, each with its own
// connection, and exact throughput/latency are computed from wall-clock
// measurements.
package olap

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

// maxQueries protects iteration runtime: a workload file longer than this
// is truncated to its first maxQueries entries.
const maxQueries = 3000

// invalidLatencySentinel marks an iteration whose measurement cannot be
// trusted. It must be finite (JSON-safe), far larger than any realistic
// latency, and identical across runs so comparisons stay stable.
const invalidLatencySentinel = 1e9

// Result is the executor's output for one iteration.
type Result struct {
	Throughput float64 // qps
	AvgLatency float64 // seconds per query
}

// ParseQueries splits a workload file's contents on ';' or newline, strips
// and re-suffixes each fragment with ';', drops empty fragments,
// and truncates to maxQueries.
func ParseQueries(contents string) []string {
	replaced := strings.ReplaceAll(contents, "\n", ";")
	parts := strings.Split(replaced, ";")

	queries := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		queries = append(queries, trimmed+";")
	}

	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}

// Partition assigns query i to worker i mod n, for n >= 1. The assignment
// is deterministic and stable across calls with the same inputs, which is
// required so that across-iteration comparisons in the same session are
// meaningful.
func Partition(queries []string, n int) [][]string {
	partitions := make([][]string, n)
	for i, q := range queries {
		w := i % n
		partitions[w] = append(partitions[w], q)
	}
	return partitions
}

// ConnFactory opens a new, unshared connection for one worker.
type ConnFactory func(ctx context.Context) (*pgx.Conn, error)

type workerResult struct {
	queries int
	latency time.Duration
	errors  int
	ok      bool
}

// Execute runs the workload described by contents across workers
// connections, each opened via connect. Connections are never shared
// across workers: this is a hard invariant of the executor.
func Execute(ctx context.Context, contents string, workers int, connect ConnFactory) Result {
	queries := ParseQueries(contents)
	if len(queries) == 0 {
		return Result{}
	}
	if workers < 1 {
		workers = 1
	}

	partitions := Partition(queries, workers)
	results := make([]workerResult, workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			results[w] = runWorker(gctx, connect, partitions[w])
			return nil
		})
	}
	// Errors from individual queries are captured per-worker, not
	// propagated through errgroup: a SQL error must not abort other
	// workers, only invalidate the iteration's aggregate result.
	_ = g.Wait()
	wallTime := time.Since(start).Seconds()

	var totalQueries int
	var totalLatency time.Duration
	var anyError bool
	for _, r := range results {
		if !r.ok {
			anyError = true
			continue
		}
		if r.errors > 0 {
			anyError = true
		}
		totalQueries += r.queries
		totalLatency += r.latency
	}

	if anyError {
		return Result{Throughput: 0, AvgLatency: invalidLatencySentinel}
	}

	var qps, avgLatency float64
	if wallTime > 0 {
		qps = float64(totalQueries) / wallTime
	}
	if totalQueries > 0 {
		avgLatency = totalLatency.Seconds() / float64(totalQueries)
	}

	return Result{Throughput: qps, AvgLatency: avgLatency}
}

// runWorker opens its own connection and executes its assigned queries
// sequentially, committing after each. A per-query error is counted and
// the worker continues with the next query. ok is false only if the
// worker's own connection could not be established — a fatal condition
// distinct from per-query errors, both of which invalidate the iteration.
func runWorker(ctx context.Context, connect ConnFactory, queries []string) workerResult {
	if len(queries) == 0 {
		return workerResult{ok: true}
	}

	conn, err := connect(ctx)
	if err != nil {
		return workerResult{ok: false}
	}
	defer conn.Close(ctx)

	var result workerResult
	result.ok = true

	for _, q := range queries {
		qStart := time.Now()
		tx, err := conn.Begin(ctx)
		if err != nil {
			result.errors++
			continue
		}
		if _, err := tx.Exec(ctx, q); err != nil {
			result.errors++
			_ = tx.Rollback(ctx)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			result.errors++
			continue
		}
		// latency is measured execute-through-commit: the reporting
		// convention includes the commit and is part of the contract.
		result.latency += time.Since(qStart)
		result.queries++
	}

	return result
}
