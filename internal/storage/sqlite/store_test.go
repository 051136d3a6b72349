package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.db")
	store, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RejectsUnsafePaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"parent traversal", "../escape/resume.db"},
		{"etc prefix", "/etc/resume.db"},
		{"proc prefix", "/proc/resume.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.path, nil)
			assert.Error(t, err)
		})
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Health(context.Background()))
}

func TestStore_UpsertAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := Session{
		DataPath:     "/var/lib/postgresql/16/main",
		Benchmark:    "sysbench_oltp",
		TuningMethod: "bo-a",
		Seed:         42,
	}
	require.NoError(t, store.UpsertSession(ctx, sess))

	got, found, err := store.GetSession(ctx, sess.DataPath)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sess.Benchmark, got.Benchmark)
	assert.Equal(t, sess.TuningMethod, got.TuningMethod)
	assert.Equal(t, sess.Seed, got.Seed)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 0, got.LastIteration)
	assert.Nil(t, got.BestObjective)
}

func TestStore_GetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.GetSession(context.Background(), "/no/such/path")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RecordIteration_TracksIncumbent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dataPath := "/var/lib/postgresql/16/main"

	require.NoError(t, store.UpsertSession(ctx, Session{
		DataPath:     dataPath,
		Benchmark:    "tpcc",
		TuningMethod: "bo-b",
		Seed:         7,
	}))

	cfg0, _ := json.Marshal(map[string]int{"shared_buffers": 1024})
	require.NoError(t, store.RecordIteration(ctx, dataPath, 0, -500.0, "DEFAULT_CONFIG", cfg0))

	got, found, err := store.GetSession(ctx, dataPath)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got.BestObjective)
	assert.Equal(t, -500.0, *got.BestObjective)
	assert.Equal(t, 0, got.LastIteration)

	// a worse objective (higher, since lower is better) must not overwrite the incumbent
	cfg1, _ := json.Marshal(map[string]int{"shared_buffers": 2048})
	require.NoError(t, store.RecordIteration(ctx, dataPath, 1, -400.0, "", cfg1))

	got, _, err = store.GetSession(ctx, dataPath)
	require.NoError(t, err)
	assert.Equal(t, -500.0, *got.BestObjective)
	assert.Equal(t, 1, got.LastIteration, "last_iteration always advances even without improvement")
	assert.JSONEq(t, string(cfg0), string(got.IncumbentConfig))

	// a better objective (lower) replaces the incumbent
	cfg2, _ := json.Marshal(map[string]int{"shared_buffers": 4096})
	require.NoError(t, store.RecordIteration(ctx, dataPath, 2, -900.0, "", cfg2))

	got, _, err = store.GetSession(ctx, dataPath)
	require.NoError(t, err)
	assert.Equal(t, -900.0, *got.BestObjective)
	assert.JSONEq(t, string(cfg2), string(got.IncumbentConfig))
}

func TestStore_MarkCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dataPath := "/var/lib/postgresql/16/main"

	require.NoError(t, store.UpsertSession(ctx, Session{
		DataPath:     dataPath,
		Benchmark:    "tpcc",
		TuningMethod: "bo-a",
		Seed:         1,
	}))
	require.NoError(t, store.MarkCompleted(ctx, dataPath, false))

	got, found, err := store.GetSession(ctx, dataPath)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStore_MarkCompleted_Aborted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dataPath := "/var/lib/postgresql/16/main"

	require.NoError(t, store.UpsertSession(ctx, Session{
		DataPath:     dataPath,
		Benchmark:    "tpcc",
		TuningMethod: "bo-a",
		Seed:         1,
	}))
	require.NoError(t, store.MarkCompleted(ctx, dataPath, true))

	got, _, err := store.GetSession(ctx, dataPath)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
}

func TestStore_Close_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
