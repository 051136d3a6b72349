package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

// MigrationConfig configures the migration runner against the resume-index database.
type MigrationConfig struct {
	Driver  string `env:"MIGRATION_DRIVER" default:"sqlite"`
	DSN     string `env:"MIGRATION_DSN" default:""`
	Dialect string `env:"MIGRATION_DIALECT" default:"sqlite3"`

	Dir   string `env:"MIGRATION_DIR" default:"migrations"`
	Table string `env:"MIGRATION_TABLE" default:"goose_db_version"`

	Timeout    time.Duration `env:"MIGRATION_TIMEOUT" default:"30s"`
	MaxRetries int           `env:"MIGRATION_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `env:"MIGRATION_RETRY_DELAY" default:"1s"`

	Verbose bool `env:"MIGRATION_VERBOSE" default:"false"`

	Logger *slog.Logger
}

// MigrationStatus describes one applied or pending migration.
type MigrationStatus struct {
	VersionID int64     `json:"version_id"`
	IsApplied bool      `json:"is_applied"`
	Timestamp time.Time `json:"timestamp"`
}

// MigrationManager drives goose against an already-open *sql.DB.
type MigrationManager struct {
	config       *MigrationConfig
	db           *sql.DB
	logger       *slog.Logger
	errorHandler *ErrorHandler
}

// NewMigrationManager wraps an open database handle for migration control.
// Unlike the PostgreSQL-pointed original, this manager never opens its own
// connection: callers hand it the *sql.DB the resume-index store already owns.
func NewMigrationManager(config *MigrationConfig, db *sql.DB) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: db handle is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("migrations: invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		config:       config,
		db:           db,
		logger:       logger,
		errorHandler: NewErrorHandler(logger, config.MaxRetries, config.RetryDelay),
	}, nil
}

// Up applies all pending migrations. goose.UpContext opens its own
// transaction per migration file against the resume-index sqlite database;
// a tuning session restarting concurrently with a fresh run's first-time
// migration can make that transaction collide with "database is locked",
// so the apply is retried through errorHandler rather than failing the
// whole run on one transient lock.
func (mm *MigrationManager) Up(ctx context.Context) error {
	start := time.Now()

	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	err := mm.errorHandler.ExecuteWithRetry(ctx, func() error {
		return goose.UpContext(ctx, mm.db, mm.config.Dir)
	})
	if err != nil {
		return mm.errorHandler.HandleError(ctx, err, "up", 0)
	}

	mm.logger.Info("migrations applied", "duration", time.Since(start))
	return nil
}

// Version returns the currently applied schema version.
func (mm *MigrationManager) Version(ctx context.Context) (int64, error) {
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	version, err := goose.GetDBVersion(mm.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, nil
}

// GetConfig returns the manager's configuration.
func (mm *MigrationManager) GetConfig() *MigrationConfig {
	return mm.config
}
