package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ipiton/dbtuner/internal/config"
	"github.com/ipiton/dbtuner/pkg/logger"
)

var (
	runConfigPath   string
	runWorkloadsDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run tuning for one workload or a directory of workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAll(runConfigPath, runWorkloadsDir)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to a single workload config file")
	runCmd.Flags().StringVar(&runWorkloadsDir, "workloads", "", "directory of workload config files to run in sequence")
}

// runAll resolves one config path or every config file under a directory,
// starts the metrics server for the duration of the batch, and drives each
// workload through the orchestrator in turn. A single workload's failure is
// logged and does not abort the remaining ones, matching the batch-tuning
// posture a multi-workload sweep needs.
func runAll(configPath, workloadsDir string) error {
	paths, err := resolveConfigPaths(configPath, workloadsDir)
	if err != nil {
		return err
	}

	firstCfg, err := config.LoadConfig(paths[0])
	if err != nil {
		return fmt.Errorf("loading config %s: %w", paths[0], err)
	}
	log := logger.NewLogger(logger.Config{Level: firstCfg.Log.Level, Format: firstCfg.Log.Format, Output: "stdout"})

	stopMetrics := startMetricsServer(firstCfg.Metrics, log)

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var failures int
	for _, p := range paths {
		log.Info("starting workload", "config", p)
		if err := runWorkload(ctx, p); err != nil {
			log.Error("workload failed", "config", p, "error", err)
			failures++
			continue
		}
		log.Info("workload complete", "config", p)
	}

	if err := stopMetrics(context.Background()); err != nil {
		log.Warn("metrics server shutdown error", "error", err)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d workloads failed", failures, len(paths))
	}
	return nil
}

func resolveConfigPaths(configPath, workloadsDir string) ([]string, error) {
	if workloadsDir != "" {
		entries, err := os.ReadDir(workloadsDir)
		if err != nil {
			return nil, fmt.Errorf("reading workloads directory %s: %w", workloadsDir, err)
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch filepath.Ext(e.Name()) {
			case ".yaml", ".yml":
				paths = append(paths, filepath.Join(workloadsDir, e.Name()))
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no workload config files found under %s", workloadsDir)
		}
		sort.Strings(paths)
		return paths, nil
	}
	if configPath == "" {
		return nil, fmt.Errorf("one of --config or --workloads is required")
	}
	return []string{configPath}, nil
}
