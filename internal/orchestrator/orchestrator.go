// Package orchestrator sequences one benchmark's workloads through a
// per-workload baseline measurement followed by a tuning loop, persisting
// incumbent and trace output and supporting resume across process
// restarts.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/ipiton/dbtuner/internal/driver"
	"github.com/ipiton/dbtuner/internal/knobspace"
	"github.com/ipiton/dbtuner/internal/optimizer"
	"github.com/ipiton/dbtuner/internal/recorder"
	sqlitestore "github.com/ipiton/dbtuner/internal/storage/sqlite"
	"github.com/ipiton/dbtuner/pkg/metrics"
)

// Locker is the subset of internal/lock.DistributedLock the orchestrator
// needs to reject concurrent sessions against the same data directory. A
// nil Locker disables the check (single-process local runs, tests).
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// baselineAnchor is implemented by strategies (BO-B) that require their
// first observation to be the defaults before any Suggest call. The
// orchestrator type-asserts for it rather than widening the shared
// Optimizer interface, since only one of the two strategies needs it.
type baselineAnchor interface {
	ObserveDefault(ctx context.Context, cfg knobspace.Configuration, cost float64) error
}

// Paths locates every output directory for one benchmark.
type Paths struct {
	InternalMetricsDir string // internal_metrics/<benchmark>/
	PerfDir            string // <perf_dir>/
	TrainingLogPath    string
	OfflineLogPath     string // empty disables the offline-sample log
	OutputRoot         string // <benchmark>/<workload>_<method>_output/
}

// WorkloadConfig describes one workload's tuning run.
type WorkloadConfig struct {
	Name         string
	Benchmark    string
	Method       string // "boa" or "bob", used only for the output directory name and session bookkeeping
	Tool         driver.Tool
	Executor     driver.Executor
	BaselineFunc func(ctx context.Context) error // runs the workload once under the applied defaults
	Optimizer    optimizer.Optimizer
	DataPath     string // identifies the target cluster for locking and the resume index
}

// Orchestrator wires DBAdapter, KnobSpace, and the resume index together
// and runs workloads to completion, one at a time.
type Orchestrator struct {
	adapter *dbadapter.Adapter
	space   *knobspace.KnobSpace
	store   *sqlitestore.Store // optional acceleration structure, nil disables it
	locker  Locker             // optional, nil disables concurrent-session rejection
	logger  *slog.Logger
	metrics *metrics.TuningMetrics // optional, nil disables tuning-loop instrumentation
}

// New builds an Orchestrator. store and locker may be nil.
func New(adapter *dbadapter.Adapter, space *knobspace.KnobSpace, store *sqlitestore.Store, locker Locker, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{adapter: adapter, space: space, store: store, locker: locker, logger: logger}
}

// WithMetrics attaches the tuning-loop Prometheus metrics; nil (the
// default) leaves instrumentation disabled, which every existing test
// relies on to avoid re-registering collectors across test runs.
func (o *Orchestrator) WithMetrics(m *metrics.TuningMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// RunWorkload executes the baseline then the tuning loop for one workload.
// It is a no-op if the workload's performance file already exists, making
// a sequence of calls over the same workload list idempotent (resume).
func (o *Orchestrator) RunWorkload(ctx context.Context, cfg WorkloadConfig, paths Paths) error {
	if recorder.PerfFileExists(paths.PerfDir, cfg.Name) {
		o.logger.Info("workload already completed, skipping", "workload", cfg.Name)
		return nil
	}

	if o.locker != nil {
		acquired, err := o.locker.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: acquiring lock for %s: %w", cfg.DataPath, err)
		}
		if !acquired {
			return fmt.Errorf("orchestrator: another session already running against %s", cfg.DataPath)
		}
		defer func() {
			if err := o.locker.Release(ctx); err != nil {
				o.logger.Warn("failed to release session lock", "data_path", cfg.DataPath, "error", err)
			}
		}()
	}

	if o.store != nil {
		if err := o.store.UpsertSession(ctx, sqlitestore.Session{
			DataPath:     cfg.DataPath,
			Benchmark:    cfg.Benchmark,
			TuningMethod: cfg.Method,
			Status:       sqlitestore.StatusRunning,
		}); err != nil {
			o.logger.Warn("failed to record session start in resume index", "error", err)
		}
	}

	if err := o.runBaseline(ctx, cfg, paths); err != nil {
		return fmt.Errorf("orchestrator: baseline for %s failed: %w", cfg.Name, err)
	}

	earlyStopped, err := o.runTuningLoop(ctx, cfg, paths)
	if err != nil {
		if o.store != nil {
			_ = o.store.MarkCompleted(ctx, cfg.DataPath, true)
		}
		return fmt.Errorf("orchestrator: tuning loop for %s failed: %w", cfg.Name, err)
	}

	if o.store != nil {
		if err := o.store.MarkCompleted(ctx, cfg.DataPath, false); err != nil {
			o.logger.Warn("failed to mark session completed in resume index", "error", err)
		}
	}

	o.logger.Info("workload tuning complete", "workload", cfg.Name, "early_stopped", earlyStopped)
	return nil
}

// runBaseline resets knobs to defaults, clears counters, restarts, runs the
// workload once, and persists InternalMetrics for later inspection.
func (o *Orchestrator) runBaseline(ctx context.Context, cfg WorkloadConfig, paths Paths) error {
	if err := o.adapter.ResetToDefaults(ctx); err != nil {
		return fmt.Errorf("reset to defaults: %w", err)
	}
	o.adapter.ResetCounters(ctx)
	if ok := o.adapter.Restart(ctx); !ok {
		return fmt.Errorf("restart failed after reset to defaults")
	}

	if cfg.BaselineFunc != nil {
		if err := cfg.BaselineFunc(ctx); err != nil {
			o.logger.Warn("baseline workload run failed, proceeding with whatever metrics were collected", "workload", cfg.Name, "error", err)
		}
	}

	metrics := o.adapter.FetchCounters(ctx)
	return persistInternalMetrics(paths.InternalMetricsDir, cfg.Name, metrics)
}

func persistInternalMetrics(dir, workload string, metrics dbadapter.InternalMetrics) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating internal metrics directory: %w", err)
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling internal metrics: %w", err)
	}
	path := filepath.Join(dir, workload+"_internal_metrics.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// runTuningLoop drives the optimizer's ask/tell protocol to completion.
// BO-A's completion condition is ErrPlateauExceeded from Suggest; BO-B's is
// a plain error once its fixed runcount is exhausted. Either way the loop
// exits on the first error from Suggest and treats ErrPlateauExceeded as
// the only "successful" early termination reason.
func (o *Orchestrator) runTuningLoop(ctx context.Context, cfg WorkloadConfig, paths Paths) (earlyStopped bool, err error) {
	rec, err := recorder.Open(recorder.Config{
		Workload:        cfg.Name,
		TrainingLogPath: paths.TrainingLogPath,
		OfflineLogPath:  paths.OfflineLogPath,
		PerfDir:         paths.PerfDir,
	})
	if err != nil {
		return false, fmt.Errorf("opening recorder: %w", err)
	}
	defer rec.Close()

	runHistory, err := recorder.OpenRunHistory(paths.OutputRoot)
	if err != nil {
		return false, fmt.Errorf("opening run history: %w", err)
	}
	defer runHistory.Close()

	drv := driver.New(o.adapter, o.space, cfg.Executor, rec, o.logger)

	if anchor, ok := cfg.Optimizer.(baselineAnchor); ok {
		defaults := o.space.Defaults()
		perf, evalErr := drv.Evaluate(ctx, defaults)
		if evalErr != nil {
			return false, fmt.Errorf("evaluating defaults for baseline anchor: %w", evalErr)
		}
		cost := driver.Objective(perf)
		if err := anchor.ObserveDefault(ctx, defaults, cost); err != nil {
			return false, fmt.Errorf("anchoring default observation: %w", err)
		}
		perfCopy := perf
		if err := runHistory.Append(recorder.RunHistoryEntry{
			Iteration:   0,
			Config:      defaults,
			Cost:        cost,
			Performance: &perfCopy,
			Note:        optimizer.DefaultConfigNote,
		}); err != nil {
			return false, fmt.Errorf("appending baseline run-history entry: %w", err)
		}
		o.recordResumePoint(ctx, cfg, 0, cost, optimizer.DefaultConfigNote, defaults)
	}

	iteration := 0
	bestSeen := math.Inf(1)
	plateauCount := 0
	for {
		proposal, suggestErr := cfg.Optimizer.Suggest(ctx)
		if suggestErr != nil {
			if errors.Is(suggestErr, optimizer.ErrPlateauExceeded) {
				earlyStopped = true
				break
			}
			// BO-B's runcount exhaustion (and any other terminal condition)
			// surfaces as a plain error; the loop simply stops.
			break
		}

		evalStart := time.Now()
		perf, evalErr := drv.Evaluate(ctx, proposal)
		if o.metrics != nil {
			o.metrics.EvaluationSeconds.WithLabelValues(cfg.Name).Observe(time.Since(evalStart).Seconds())
		}
		outcome := "ok"
		if evalErr != nil {
			o.logger.Error("evaluation failed, recording as a zero-performance observation", "workload", cfg.Name, "error", evalErr)
			perf = 0
			outcome = "invalid"
			if o.metrics != nil {
				o.metrics.InvalidTotal.WithLabelValues(cfg.Name).Inc()
			}
		}
		cost := driver.Objective(perf)

		if err := cfg.Optimizer.Observe(ctx, proposal, cost); err != nil {
			return earlyStopped, fmt.Errorf("recording observation: %w", err)
		}

		if cost < bestSeen {
			bestSeen = cost
			plateauCount = 0
		} else {
			plateauCount++
		}
		if o.metrics != nil {
			o.metrics.IterationsTotal.WithLabelValues(cfg.Name, outcome).Inc()
			o.metrics.BestObjective.WithLabelValues(cfg.Name).Set(bestSeen)
			o.metrics.PlateauCounter.WithLabelValues(cfg.Name).Set(float64(plateauCount))
		}

		iteration++
		perfCopy := perf
		if err := runHistory.Append(recorder.RunHistoryEntry{
			Iteration:   iteration,
			Config:      proposal,
			Cost:        cost,
			Performance: &perfCopy,
		}); err != nil {
			return earlyStopped, fmt.Errorf("appending run-history entry: %w", err)
		}
		o.recordResumePoint(ctx, cfg, iteration, cost, "", proposal)
	}

	return earlyStopped, runHistory.WriteBestConfig(cfg.Name, earlyStopped)
}

// recordResumePoint mirrors one iteration into the resume index. This is
// an acceleration structure only: the JSON-lines files remain ground
// truth, and a failure here is logged, never fatal.
func (o *Orchestrator) recordResumePoint(ctx context.Context, cfg WorkloadConfig, iteration int, cost float64, note string, config knobspace.Configuration) {
	if o.store == nil {
		return
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		o.logger.Warn("failed to marshal configuration for resume index", "error", err)
		return
	}
	if err := o.store.RecordIteration(ctx, cfg.DataPath, iteration, cost, note, configJSON); err != nil {
		o.logger.Warn("failed to record iteration in resume index", "error", err)
	}
}
