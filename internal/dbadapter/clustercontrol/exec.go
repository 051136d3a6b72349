package clustercontrol

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// ExecController shells out to the platform cluster-control tool:
// <cluster_ctl> <pg_version> <cluster_name> {stop|start}.
type ExecController struct {
	binary      string
	pgVersion   string
	clusterName string
	logger      *slog.Logger
}

// NewExecController builds a cluster controller that drives a local
// cluster-control binary (e.g. pg_ctlcluster) by subprocess.
func NewExecController(binary, pgVersion, clusterName string, logger *slog.Logger) *ExecController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecController{binary: binary, pgVersion: pgVersion, clusterName: clusterName, logger: logger}
}

func (c *ExecController) run(ctx context.Context, action string) error {
	cmd := exec.CommandContext(ctx, c.binary, c.pgVersion, c.clusterName, action)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("clustercontrol: %s %s failed: %w (output: %s)", action, c.clusterName, err, output)
	}
	c.logger.Info("cluster control action succeeded", "action", action, "cluster", c.clusterName, "pg_version", c.pgVersion)
	return nil
}

func (c *ExecController) Stop(ctx context.Context) error {
	return c.run(ctx, "stop")
}

func (c *ExecController) Start(ctx context.Context) error {
	return c.run(ctx, "start")
}
