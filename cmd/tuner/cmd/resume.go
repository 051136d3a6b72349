package cmd

import (
	"github.com/spf13/cobra"
)

var (
	resumeConfigPath   string
	resumeWorkloadsDir string
)

// resumeCmd re-enters a previously started run. Resume is not a distinct
// code path: the orchestrator already skips any workload whose performance
// record file exists, so resuming is just running again against the same
// config(s).
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted tuning run, skipping already-completed workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAll(resumeConfigPath, resumeWorkloadsDir)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeConfigPath, "config", "", "path to a single workload config file")
	resumeCmd.Flags().StringVar(&resumeWorkloadsDir, "workloads", "", "directory of workload config files to resume in sequence")
}
