package olap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecutor_ReadsWorkloadFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.wg")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;\nSELECT 2;"), 0600))

	connect := func(ctx context.Context) (*pgx.Conn, error) {
		return nil, assert.AnError
	}

	exec, err := NewExecutor(ExecutorConfig{WorkloadPath: path, Workers: 2}, connect)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\nSELECT 2;", exec.contents)
}

func TestExecutor_Run_InvalidatesOnConnectFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.wg")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;"), 0600))

	connect := func(ctx context.Context) (*pgx.Conn, error) {
		return nil, assert.AnError
	}

	exec, err := NewExecutor(ExecutorConfig{WorkloadPath: path, Workers: 1}, connect)
	require.NoError(t, err)

	throughput, err := exec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, throughput)
}

func TestNewExecutor_MissingFile(t *testing.T) {
	_, err := NewExecutor(ExecutorConfig{WorkloadPath: "/nonexistent/path.wg", Workers: 1}, nil)
	assert.Error(t, err)
}
