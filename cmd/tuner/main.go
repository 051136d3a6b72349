// Command tuner drives automatic PostgreSQL-family configuration tuning:
// it applies candidate knob settings to a live instance, runs a workload,
// measures throughput and latency, and records the trace.
package main

import (
	"fmt"
	"os"

	"github.com/ipiton/dbtuner/cmd/tuner/cmd"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersion(version, buildTime, gitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
