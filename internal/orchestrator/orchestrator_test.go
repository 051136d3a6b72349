package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	acquired   bool
	acquireErr error
	released   bool
}

func (f *fakeLocker) Acquire(ctx context.Context) (bool, error) {
	return f.acquired, f.acquireErr
}

func (f *fakeLocker) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func writeCompletedPerfFile(t *testing.T, perfDir, workload string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(perfDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(perfDir, workload+".txt"), []byte("[Iteration 0] Performance: 1.0000\n"), 0600))
}

func TestRunWorkload_SkipsWhenAlreadyCompleted(t *testing.T) {
	perfDir := t.TempDir()
	writeCompletedPerfFile(t, perfDir, "ycsb")

	// adapter and locker are both nil: a completed workload must return
	// before ever touching either.
	o := New(nil, nil, nil, nil, nil)
	err := o.RunWorkload(context.Background(), WorkloadConfig{Name: "ycsb"}, Paths{PerfDir: perfDir})
	assert.NoError(t, err)
}

func TestRunWorkload_RejectsWhenLockNotAcquired(t *testing.T) {
	perfDir := t.TempDir() // empty: not yet completed
	locker := &fakeLocker{acquired: false}

	o := New(nil, nil, nil, locker, nil)
	err := o.RunWorkload(context.Background(), WorkloadConfig{Name: "ycsb", DataPath: "/data/pg1"}, Paths{PerfDir: perfDir})
	assert.Error(t, err, "a session already holding the lock must block a second session from starting")
}

func TestRunWorkload_AcquireErrorAbortsWithoutRelease(t *testing.T) {
	perfDir := t.TempDir()
	locker := &fakeLocker{acquired: true, acquireErr: assert.AnError}

	o := New(nil, nil, nil, locker, nil)
	err := o.RunWorkload(context.Background(), WorkloadConfig{Name: "ycsb", DataPath: "/data/pg1"}, Paths{PerfDir: perfDir})
	assert.Error(t, err, "an Acquire error must abort the workload rather than proceed against an unlocked target")
	assert.False(t, locker.released, "release must only run once acquisition actually succeeded")
}

func TestPersistInternalMetrics_WritesIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	metrics := dbadapter.InternalMetrics{"xact_commit": 42}

	require.NoError(t, persistInternalMetrics(dir, "ycsb", metrics))

	data, err := os.ReadFile(filepath.Join(dir, "ycsb_internal_metrics.json"))
	require.NoError(t, err)

	var roundTripped dbadapter.InternalMetrics
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, metrics, roundTripped)
}

func TestPersistInternalMetrics_CreatesDirectoryIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "internal_metrics", "ycsb")
	require.NoError(t, persistInternalMetrics(dir, "wikipedia", dbadapter.InternalMetrics{"blks_hit": 1}))

	_, err := os.Stat(filepath.Join(dir, "wikipedia_internal_metrics.json"))
	assert.NoError(t, err)
}
