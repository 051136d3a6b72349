package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/ipiton/dbtuner/internal/knobspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeY_PreservesFormula(t *testing.T) {
	y := EncodeY(100)
	assert.Equal(t, -100.0, y[0])
	assert.Equal(t, -0.01, y[1])
}

func TestOpen_CreatesAllConfiguredLogs(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Config{
		Workload:        "w1",
		TrainingLogPath: filepath.Join(dir, "training.jsonl"),
		OfflineLogPath:  filepath.Join(dir, "offline.jsonl"),
		PerfDir:         dir,
	})
	require.NoError(t, err)
	defer r.Close()

	assert.FileExists(t, filepath.Join(dir, "training.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "offline.jsonl"))
}

func TestOpen_SkipsOfflineLogWhenPathEmpty(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Config{
		Workload:        "w1",
		TrainingLogPath: filepath.Join(dir, "training.jsonl"),
		PerfDir:         dir,
	})
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.offlineLog)
}

func TestRecordEvaluation_WritesAllStreams(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Config{
		Workload:        "w1",
		TrainingLogPath: filepath.Join(dir, "training.jsonl"),
		OfflineLogPath:  filepath.Join(dir, "offline.jsonl"),
		PerfDir:         dir,
	})
	require.NoError(t, err)
	defer r.Close()

	cfg := knobspace.Configuration{"w": 128}
	metrics := dbadapter.InternalMetrics{"xact_commit": 10}

	require.NoError(t, r.RecordEvaluation(0, cfg, 500.0, metrics))

	trainingData, err := os.ReadFile(filepath.Join(dir, "training.jsonl"))
	require.NoError(t, err)
	var tr TrainingRecord
	require.NoError(t, json.Unmarshal(trainingData[:len(trainingData)-1], &tr))
	assert.Equal(t, 500.0, tr.Performance)

	offlineData, err := os.ReadFile(filepath.Join(dir, "offline.jsonl"))
	require.NoError(t, err)
	var or OfflineSampleRecord
	require.NoError(t, json.Unmarshal(offlineData[:len(offlineData)-1], &or))
	assert.Equal(t, [2]float64{-500.0, -1.0 / 500.0}, or.Y)

	perfLines := readLines(t, filepath.Join(dir, "w1.txt"))
	require.Len(t, perfLines, 1)
	assert.Equal(t, "[Iteration 0] Performance: 500.0000", perfLines[0])
}

func TestPerfFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, PerfFileExists(dir, "missing"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.txt"), []byte("[Iteration 0] Performance: 1.0\n"), 0644))
	assert.True(t, PerfFileExists(dir, "w1"))
}

func TestPerfFileExists_EmptyFileNotComplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.txt"), nil, 0644))
	assert.False(t, PerfFileExists(dir, "w1"))
}

func TestRunHistoryWriter_BestConfigTracksMinimumCost(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenRunHistory(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(RunHistoryEntry{Iteration: 0, Config: knobspace.Configuration{"w": 128}, Cost: -500}))
	require.NoError(t, w.Append(RunHistoryEntry{Iteration: 1, Config: knobspace.Configuration{"w": 256}, Cost: -900}))
	require.NoError(t, w.Append(RunHistoryEntry{Iteration: 2, Config: knobspace.Configuration{"w": 64}, Cost: -100}))

	require.NoError(t, w.WriteBestConfig("w1", false))

	data, err := os.ReadFile(filepath.Join(dir, "best_config.json"))
	require.NoError(t, err)
	var best BestConfig
	require.NoError(t, json.Unmarshal(data, &best))
	assert.Equal(t, -900.0, best.BestCost)
	assert.Equal(t, float64(256), best.Configuration["w"])
	assert.Equal(t, 3, best.Iterations)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
