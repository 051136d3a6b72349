package migrations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func writeTestMigration(t *testing.T, dir string) {
	t.Helper()
	migrationSQL := `-- +goose Up
CREATE TABLE sessions (
    id TEXT PRIMARY KEY,
    data_path TEXT NOT NULL
);

-- +goose Down
DROP TABLE sessions;
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00001_create_sessions.sql"), []byte(migrationSQL), 0600))
}

func newTestManager(t *testing.T) (*MigrationManager, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	writeTestMigration(t, dir)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := NewMigrationManager(&MigrationConfig{
		Driver:     "sqlite",
		Dialect:    "sqlite3",
		Dir:        dir,
		Table:      "goose_db_version",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, db)
	require.NoError(t, err)
	return mgr, db
}

func TestMigrationManager_Up_AppliesPendingMigrations(t *testing.T) {
	mgr, db := newTestManager(t)

	require.NoError(t, mgr.Up(context.Background()))

	_, err := db.Exec("INSERT INTO sessions (id, data_path) VALUES (?, ?)", "s1", "/var/lib/pg")
	assert.NoError(t, err)

	version, err := mgr.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestMigrationManager_Up_IsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.Up(context.Background()))
	require.NoError(t, mgr.Up(context.Background()))
}

func TestNewMigrationManager_RejectsNilDB(t *testing.T) {
	_, err := NewMigrationManager(&MigrationConfig{Driver: "sqlite", Dir: "migrations", Table: "t", Timeout: time.Second, RetryDelay: time.Second}, nil)
	assert.Error(t, err)
}

func TestNewMigrationManager_RejectsInvalidConfig(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMigrationManager(&MigrationConfig{Driver: "", Dir: "migrations", Table: "t", Timeout: time.Second, RetryDelay: time.Second}, db)
	assert.Error(t, err)
}

func TestMigrationConfig_Validate(t *testing.T) {
	base := MigrationConfig{
		Driver:     "sqlite",
		Dir:        "migrations",
		Table:      "goose_db_version",
		Timeout:    time.Second,
		RetryDelay: time.Second,
	}

	require.NoError(t, base.Validate())

	withoutDriver := base
	withoutDriver.Driver = ""
	assert.Error(t, withoutDriver.Validate())

	withoutDir := base
	withoutDir.Dir = ""
	assert.Error(t, withoutDir.Validate())

	negativeRetries := base
	negativeRetries.MaxRetries = -1
	assert.Error(t, negativeRetries.Validate())

	zeroRetryDelay := base
	zeroRetryDelay.RetryDelay = 0
	assert.Error(t, zeroRetryDelay.Validate())
}
