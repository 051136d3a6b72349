package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   string
	buildTime string
	gitCommit string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Automatic PostgreSQL-family configuration tuning",
	Long: `tuner iteratively proposes database server configurations, applies
them to a live instance, runs a workload, measures throughput and latency,
and records the trace for later analysis.

Examples:
  # Tune a single workload described by one config file
  tuner run --config configs/ycsb.yaml

  # Tune every workload config found in a directory
  tuner run --workloads configs/

  # Resume an interrupted run (already-completed workloads are skipped)
  tuner resume --config configs/ycsb.yaml
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetVersion sets version information reported by the version subcommand.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tuner version %s\n", version)
		fmt.Printf("Build time: %s\n", buildTime)
		fmt.Printf("Git commit: %s\n", gitCommit)
	},
}
