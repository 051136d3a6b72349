package olap

import (
	"context"
	"fmt"
	"os"
)

// ExecutorConfig locates one OLAP workload file and the worker count it
// should be run with.
type ExecutorConfig struct {
	WorkloadPath string
	Workers      int
}

// Executor adapts Execute to the driver.Executor interface (Run(ctx)
// (float64, error)) so the TuningDriver can dispatch tool == "dwg" or
// tool == "surrogate" workloads without knowing about workers/partitions.
type Executor struct {
	cfg      ExecutorConfig
	connect  ConnFactory
	contents string
}

// NewExecutor reads the workload file once at construction; the same
// parsed contents are reused across every iteration.
func NewExecutor(cfg ExecutorConfig, connect ConnFactory) (*Executor, error) {
	data, err := os.ReadFile(cfg.WorkloadPath)
	if err != nil {
		return nil, fmt.Errorf("olap: reading workload file %s: %w", cfg.WorkloadPath, err)
	}
	return &Executor{cfg: cfg, connect: connect, contents: string(data)}, nil
}

// Run executes the workload across the configured worker count and
// returns throughput (queries per second); higher is better.
func (e *Executor) Run(ctx context.Context) (float64, error) {
	result := Execute(ctx, e.contents, e.cfg.Workers, e.connect)
	return result.Throughput, nil
}
