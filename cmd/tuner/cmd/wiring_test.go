package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ipiton/dbtuner/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Benchmark: config.BenchmarkConfig{
			Name:                  "ycsb",
			PerformanceRecordPath: "/data/out/ycsb_perf.json",
		},
		Tuning: config.TuningConfig{
			TuningMethod: "boa",
			LogPath:      "/data/out/training.log",
		},
		Surrogate: config.SurrogateConfig{
			OutputPath: "/data/out/offline.json",
		},
	}
}

func TestResumeIndexPath_SiblingsTheTrainingLog(t *testing.T) {
	cfg := testConfig()
	got := resumeIndexPath(cfg)
	assert.Equal(t, filepath.Join("/data/out", "resume.db"), got)
}

func TestWorkloadPaths_DerivesFromPerformanceRecordPath(t *testing.T) {
	cfg := testConfig()
	paths := workloadPaths(cfg)

	assert.Equal(t, "/data/out/ycsb_perf.json", paths.PerfDir)
	assert.Equal(t, "/data/out/training.log", paths.TrainingLogPath)
	assert.Equal(t, "/data/out/offline.json", paths.OfflineLogPath)
	assert.Equal(t, filepath.Join("/data/out", "internal_metrics", "ycsb"), paths.InternalMetricsDir)
	assert.Equal(t, filepath.Join("/data/out", "ycsb_boa_output"), paths.OutputRoot)
}
