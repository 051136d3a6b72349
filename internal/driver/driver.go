// Package driver wraps one executor and DBAdapter into the single
// evaluate(config) -> performance entry point the optimizer calls against.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/ipiton/dbtuner/internal/knobspace"
	"github.com/ipiton/dbtuner/internal/recorder"
)

// Tool selects which executor Evaluate dispatches a configuration to.
type Tool string

const (
	ToolDWG       Tool = "dwg"       // OLAP
	ToolBenchbase Tool = "benchbase" // OLTP
	ToolSurrogate Tool = "surrogate" // OLAP, offline-sample log skipped
)

// Executor runs one workload under the currently-applied configuration and
// returns a performance scalar where higher is better.
type Executor interface {
	Run(ctx context.Context) (float64, error)
}

// TuningDriver evaluates configurations against one workload.
type TuningDriver struct {
	adapter  *dbadapter.Adapter
	space    *knobspace.KnobSpace
	executor Executor
	recorder *recorder.Recorder
	logger   *slog.Logger

	iteration int
}

// New builds a driver bound to one workload's adapter, executor, and
// recorder.
func New(adapter *dbadapter.Adapter, space *knobspace.KnobSpace, executor Executor, rec *recorder.Recorder, logger *slog.Logger) *TuningDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TuningDriver{adapter: adapter, space: space, executor: executor, recorder: rec, logger: logger}
}

// Evaluate applies cfg, fetches internal metrics, runs the workload, and
// records the result. It never mutates cfg: constant injection, if needed,
// operates on a clone. The returned performance is a scalar where higher
// is better.
func (d *TuningDriver) Evaluate(ctx context.Context, cfg knobspace.Configuration) (float64, error) {
	iteration := d.iteration
	d.iteration++

	complete := d.space.Complete(cfg.Clone())

	if ok := d.adapter.Apply(ctx, complete, d.space); !ok {
		d.logger.Warn("configuration apply failed, continuing with whatever was applied", "iteration", iteration)
	}

	metrics := d.adapter.FetchCounters(ctx)

	performance, err := d.executor.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("driver: workload execution failed at iteration %d: %w", iteration, err)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordEvaluation(iteration, complete, performance, metrics); err != nil {
			d.logger.Error("failed to record evaluation", "iteration", iteration, "error", err)
		}
	}

	return performance, nil
}

// Objective converts a raw performance value into the optimizer's
// minimisation target: objective = -raw if raw > 0, else raw.
func Objective(rawPerformance float64) float64 {
	if rawPerformance > 0 {
		return -rawPerformance
	}
	return rawPerformance
}
