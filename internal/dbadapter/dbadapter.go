// Package dbadapter is the stateful façade over one database instance
// under tuning: it opens connections with retry, applies knob overrides,
// restarts the cluster, recovers from configurations that prevent startup,
// and samples internal counters.
//
// dbadapter owns the only code paths that mutate the tuned instance's
// global state; everything else in the tuner only reads through it.
package dbadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ipiton/dbtuner/internal/dbadapter/clustercontrol"
	"github.com/ipiton/dbtuner/internal/dbpool"
	"github.com/ipiton/dbtuner/internal/knobspace"
)

// blockSizeBytes is the server's fixed block size, used to derive byte
// counts from the block-count counters returned by fetch_counters.
const blockSizeBytes = 8192

// InternalMetrics is a flat mapping from counter name to value, sampled
// once per iteration immediately after knob application and before
// workload execution.
type InternalMetrics map[string]float64

// Config configures one Adapter instance.
type Config struct {
	Pool *dbpool.PostgresConfig

	// DataDir is the database's data directory; PurgeOverrides deletes
	// OverrideFile from within it.
	DataDir      string
	OverrideFile string // default postgresql.auto.conf

	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration

	StopTimeout  time.Duration
	StartTimeout time.Duration

	// RestartBreakerMaxFailures is the number of consecutive Restart
	// failures that trip the circuit breaker guarding cluster restarts.
	// A pathological knob candidate that crashes Postgres on every
	// startup would otherwise burn a full StartTimeout on every
	// remaining iteration of a tuning run.
	RestartBreakerMaxFailures int
	// RestartBreakerResetTimeout is how long the breaker stays open
	// before allowing one trial restart through.
	RestartBreakerResetTimeout time.Duration
}

// DefaultConfig returns sane defaults matching the documented contract:
// 3 connect retries with a 2s backoff, 10s connect timeout, 30s stop/start,
// and a restart breaker that opens after 3 consecutive failures for 1 minute.
func DefaultConfig() Config {
	return Config{
		OverrideFile:               "postgresql.auto.conf",
		ConnectTimeout:             10 * time.Second,
		MaxRetries:                 3,
		RetryBackoff:               2 * time.Second,
		StopTimeout:                30 * time.Second,
		StartTimeout:               30 * time.Second,
		RestartBreakerMaxFailures:  3,
		RestartBreakerResetTimeout: time.Minute,
	}
}

// Adapter is the façade over one database instance under tuning.
type Adapter struct {
	cfg            Config
	pool           *dbpool.PostgresPool
	cluster        clustercontrol.Controller
	logger         *slog.Logger
	restartBreaker *dbpool.CircuitBreaker
}

// New builds an Adapter. The pool is not connected until Connect is called.
func New(cfg Config, cluster clustercontrol.Controller, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.RestartBreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	resetTimeout := cfg.RestartBreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = time.Minute
	}
	return &Adapter{
		cfg:            cfg,
		pool:           dbpool.NewPostgresPool(cfg.Pool, logger),
		cluster:        cluster,
		logger:         logger,
		restartBreaker: dbpool.NewCircuitBreaker(maxFailures, resetTimeout),
	}
}

// Connect opens a connection with retry. If every attempt fails, it purges
// any persisted override that might be preventing startup and attempts
// once more; it fails only if that final attempt also fails.
func (a *Adapter) Connect(ctx context.Context) error {
	retry := dbpool.NewRetryExecutor(dbpool.RetryConfig{
		MaxRetries:    a.cfg.MaxRetries,
		InitialDelay:  a.cfg.RetryBackoff,
		MaxDelay:      a.cfg.RetryBackoff,
		BackoffFactor: 1, // fixed 2s backoff, not exponential, per the documented contract
		JitterFactor:  0,
	}, a.logger)

	// Each attempt gets its own ConnectTimeout. Failures are handed to the
	// executor as ConnectionErrors so that every failure is retried.
	err := retry.Execute(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
		defer cancel()
		if err := a.pool.Connect(attemptCtx); err != nil {
			return dbpool.NewConnectionError("connect", err.Error())
		}
		return nil
	})
	if err == nil {
		return nil
	}

	a.logger.Warn("all connect attempts failed, purging overrides and retrying once", "error", err)
	if purgeErr := a.PurgeOverrides(); purgeErr != nil {
		a.logger.Warn("purge_overrides failed during connect recovery", "error", purgeErr)
	}

	finalCtx, finalCancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer finalCancel()
	if err := a.pool.Connect(finalCtx); err != nil {
		return fmt.Errorf("dbadapter: connect failed after purge-and-retry: %w", err)
	}
	return nil
}

// Close disconnects the underlying pool.
func (a *Adapter) Close(ctx context.Context) error {
	return a.pool.Disconnect(ctx)
}

// Apply opens sets each knob via a system-level SET statement, then
// restarts the cluster. It returns true iff every knob applied and the
// restart succeeded; on any per-knob failure the restart is skipped.
func (a *Adapter) Apply(ctx context.Context, cfg knobspace.Configuration, space *knobspace.KnobSpace) bool {
	for name, value := range cfg {
		knob, ok := space.Get(name)
		if !ok || knob.Kind == knobspace.KindConstant {
			continue
		}

		stmt, err := setStatement(knob, value)
		if err != nil {
			a.logger.Error("failed to build SET statement", "knob", name, "error", err)
			return false
		}

		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			a.logger.Error("failed to apply knob", "knob", name, "value", value, "error", err)
			return false
		}
	}

	return a.Restart(ctx)
}

func setStatement(k knobspace.Knob, value float64) (string, error) {
	switch k.Kind {
	case knobspace.KindInteger:
		return fmt.Sprintf("ALTER SYSTEM SET %s = %d", k.Name, int64(value)), nil
	case knobspace.KindReal:
		return fmt.Sprintf("ALTER SYSTEM SET %s = %v", k.Name, value), nil
	default:
		return "", fmt.Errorf("knob %s has non-tunable kind %s", k.Name, k.Kind)
	}
}

// Restart stops then starts the cluster, guarding the start attempt with
// a circuit breaker: once RestartBreakerMaxFailures consecutive restarts
// fail, further calls still stop the cluster but fail without attempting
// a start until RestartBreakerResetTimeout elapses.
func (a *Adapter) Restart(ctx context.Context) bool {
	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.StopTimeout)
	defer cancel()
	if err := a.cluster.Stop(stopCtx); err != nil {
		a.logger.Error("cluster stop failed", "error", err)
		return false
	}

	err := a.restartBreaker.Call(func() error {
		return a.startWithRecovery(ctx)
	})
	if err == nil {
		return true
	}

	if errors.Is(err, dbpool.ErrCircuitBreakerOpen) {
		a.logger.Error("cluster restart breaker open, skipping start attempt",
			"failures", a.restartBreaker.GetFailureCount())
		return false
	}

	a.logger.Error("cluster start failed after purge-and-retry", "error", err)
	return false
}

// startWithRecovery starts the cluster, and on failure purges any
// persisted override that might be preventing startup and retries once.
func (a *Adapter) startWithRecovery(ctx context.Context) error {
	startCtx, startCancel := context.WithTimeout(ctx, a.cfg.StartTimeout)
	defer startCancel()
	if err := a.cluster.Start(startCtx); err == nil {
		return nil
	}

	a.logger.Warn("cluster start failed, purging overrides and retrying once")
	if err := a.PurgeOverrides(); err != nil {
		a.logger.Warn("purge_overrides failed during restart recovery", "error", err)
	}

	retryCtx, retryCancel := context.WithTimeout(ctx, a.cfg.StartTimeout)
	defer retryCancel()
	if err := a.cluster.Start(retryCtx); err != nil {
		return fmt.Errorf("dbadapter: cluster start failed after purge-and-retry: %w", err)
	}
	return nil
}

// PurgeOverrides deletes the persisted-override file from the data
// directory if present. Safe if the file is absent.
func (a *Adapter) PurgeOverrides() error {
	path := filepath.Join(a.cfg.DataDir, a.cfg.OverrideFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dbadapter: failed to purge overrides at %s: %w", path, err)
	}
	return nil
}

// ResetToDefaults issues the engine's reset-all-overrides statement
// followed by a configuration reload. No restart is performed.
func (a *Adapter) ResetToDefaults(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, "ALTER SYSTEM RESET ALL"); err != nil {
		return fmt.Errorf("dbadapter: failed to reset overrides: %w", err)
	}
	if _, err := a.pool.Exec(ctx, "SELECT pg_reload_conf()"); err != nil {
		return fmt.Errorf("dbadapter: failed to reload configuration: %w", err)
	}
	return nil
}

var counterQueries = map[string]string{
	"xact_commit":        "SELECT coalesce(sum(xact_commit), 0) FROM pg_stat_database",
	"xact_rollback":      "SELECT coalesce(sum(xact_rollback), 0) FROM pg_stat_database",
	"blks_read":          "SELECT coalesce(sum(blks_read), 0) FROM pg_stat_database",
	"blks_hit":           "SELECT coalesce(sum(blks_hit), 0) FROM pg_stat_database",
	"tup_returned":       "SELECT coalesce(sum(tup_returned), 0) FROM pg_stat_database",
	"tup_fetched":        "SELECT coalesce(sum(tup_fetched), 0) FROM pg_stat_database",
	"tup_inserted":       "SELECT coalesce(sum(tup_inserted), 0) FROM pg_stat_database",
	"tup_updated":        "SELECT coalesce(sum(tup_updated), 0) FROM pg_stat_database",
	"tup_deleted":        "SELECT coalesce(sum(tup_deleted), 0) FROM pg_stat_database",
	"conflicts":          "SELECT coalesce(sum(conflicts), 0) FROM pg_stat_database",
	"heap_blks_read":     "SELECT coalesce(sum(heap_blks_read), 0) FROM pg_statio_user_tables",
	"idx_blks_read":      "SELECT coalesce(sum(idx_blks_read), 0) FROM pg_statio_user_tables",
	"toast_blks_read":    "SELECT coalesce(sum(coalesce(toast_blks_read, 0)), 0) FROM pg_statio_user_tables",
	"buffers_backend":    "SELECT coalesce(buffers_backend, 0) FROM pg_stat_bgwriter",
	"buffers_checkpoint": "SELECT coalesce(buffers_checkpoint, 0) FROM pg_stat_bgwriter",
}

var byteDerivedCounters = map[string]string{
	"blks_read_bytes":      "blks_read",
	"blks_hit_bytes":       "blks_hit",
	"heap_blks_read_bytes": "heap_blks_read",
	"idx_blks_read_bytes":  "idx_blks_read",
}

// FetchCounters queries per-database and block-I/O counters and derives
// byte counts by multiplying block counts by the server's fixed block
// size. On any query error it returns a dictionary populated with zeros
// so downstream code always observes a well-typed value.
func (a *Adapter) FetchCounters(ctx context.Context) InternalMetrics {
	metrics := make(InternalMetrics, len(counterQueries)+len(byteDerivedCounters))

	for name, query := range counterQueries {
		var value float64
		row := a.pool.QueryRow(ctx, query)
		if err := row.Scan(&value); err != nil {
			a.logger.Warn("fetch_counters: query failed, zeroing all counters", "counter", name, "error", err)
			return zeroedCounters()
		}
		metrics[name] = value
	}

	for derived, source := range byteDerivedCounters {
		metrics[derived] = metrics[source] * blockSizeBytes
	}

	return metrics
}

func zeroedCounters() InternalMetrics {
	metrics := make(InternalMetrics, len(counterQueries)+len(byteDerivedCounters))
	for name := range counterQueries {
		metrics[name] = 0
	}
	for name := range byteDerivedCounters {
		metrics[name] = 0
	}
	return metrics
}

// ResetCounters resets server statistics via the pg_stat_reset family and
// commits, tolerating errors silently.
func (a *Adapter) ResetCounters(ctx context.Context) {
	statements := []string{
		"SELECT pg_stat_reset()",
		"SELECT pg_stat_reset_shared('bgwriter')",
	}
	for _, stmt := range statements {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			a.logger.Debug("reset_counters: statement failed, ignoring", "statement", stmt, "error", err)
		}
	}
}

// RunDefaultWorkload connects, reads the file as one batch, executes it,
// and commits. Used only to produce the baseline record.
func (a *Adapter) RunDefaultWorkload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dbadapter: failed to read default workload %s: %w", path, err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbadapter: failed to begin default workload transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(data)); err != nil {
		return fmt.Errorf("dbadapter: default workload execution failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dbadapter: failed to commit default workload: %w", err)
	}
	return nil
}
