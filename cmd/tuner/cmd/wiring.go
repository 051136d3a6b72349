package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ipiton/dbtuner/internal/config"
	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/ipiton/dbtuner/internal/dbadapter/clustercontrol"
	"github.com/ipiton/dbtuner/internal/dbpool"
	"github.com/ipiton/dbtuner/internal/driver"
	"github.com/ipiton/dbtuner/internal/infrastructure/k8s"
	"github.com/ipiton/dbtuner/internal/knobspace"
	"github.com/ipiton/dbtuner/internal/lock"
	"github.com/ipiton/dbtuner/internal/olap"
	"github.com/ipiton/dbtuner/internal/oltp"
	"github.com/ipiton/dbtuner/internal/optimizer"
	"github.com/ipiton/dbtuner/internal/orchestrator"
	sqlitestore "github.com/ipiton/dbtuner/internal/storage/sqlite"
	"github.com/ipiton/dbtuner/pkg/logger"
	"github.com/ipiton/dbtuner/pkg/metrics"
)

// runWorkload loads one config file and drives its workload through the
// orchestrator to completion (or to an already-completed skip).
func runWorkload(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	sessionID := uuid.NewString()
	log = log.With("session_id", sessionID, "workload", cfg.Benchmark.Name, "tuning_method", cfg.Tuning.TuningMethod)

	adapter, err := buildAdapter(cfg, log)
	if err != nil {
		return fmt.Errorf("building database adapter: %w", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to database under tuning: %w", err)
	}

	space, err := knobspace.Load(cfg.Tuning.KnobConfigPath)
	if err != nil {
		return fmt.Errorf("loading knob space: %w", err)
	}

	store, err := sqlitestore.Open(ctx, resumeIndexPath(cfg), log)
	if err != nil {
		log.Warn("resume index unavailable, continuing without acceleration", "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	locker, releaseRedis := buildLocker(cfg, log)
	if releaseRedis != nil {
		defer releaseRedis()
	}

	executor, err := buildExecutor(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("building workload executor: %w", err)
	}

	opt := buildOptimizer(cfg, space)

	reg := metrics.DefaultRegistry()
	orch := orchestrator.New(adapter, space, store, locker, log).WithMetrics(reg.Infra().Tuning)

	workloadCfg := orchestrator.WorkloadConfig{
		Name:         cfg.Benchmark.Name,
		Benchmark:    cfg.Benchmark.Name,
		Method:       cfg.Tuning.TuningMethod,
		Tool:         driver.Tool(cfg.Benchmark.Tool),
		Executor:     executor,
		BaselineFunc: func(ctx context.Context) error { return adapter.RunDefaultWorkload(ctx, cfg.Benchmark.WorkloadPath) },
		Optimizer:    opt,
		DataPath:     cfg.Database.DataPath,
	}

	return orch.RunWorkload(ctx, workloadCfg, workloadPaths(cfg))
}

func resumeIndexPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Tuning.LogPath), "resume.db")
}

func workloadPaths(cfg *config.Config) orchestrator.Paths {
	outputDir := cfg.Benchmark.Name + "_" + cfg.Tuning.TuningMethod + "_output"
	offlineLogPath := cfg.Surrogate.OutputPath
	if driver.Tool(cfg.Benchmark.Tool) == driver.ToolSurrogate {
		offlineLogPath = ""
	}
	return orchestrator.Paths{
		InternalMetricsDir: filepath.Join(filepath.Dir(cfg.Benchmark.PerformanceRecordPath), "internal_metrics", cfg.Benchmark.Name),
		PerfDir:            cfg.Benchmark.PerformanceRecordPath,
		TrainingLogPath:    cfg.Tuning.LogPath,
		OfflineLogPath:     offlineLogPath,
		OutputRoot:         filepath.Join(filepath.Dir(cfg.Benchmark.PerformanceRecordPath), outputDir),
	}
}

func buildAdapter(cfg *config.Config, log *slog.Logger) (*dbadapter.Adapter, error) {
	controller, err := buildClusterController(cfg, log)
	if err != nil {
		return nil, err
	}

	poolCfg := &dbpool.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConnections,
		MinConns:        cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}

	adapterCfg := dbadapter.DefaultConfig()
	adapterCfg.Pool = poolCfg
	adapterCfg.DataDir = cfg.Database.DataPath
	adapterCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	return dbadapter.New(adapterCfg, controller, log), nil
}

func buildClusterController(cfg *config.Config, log *slog.Logger) (clustercontrol.Controller, error) {
	switch cfg.Database.Backend {
	case "kubernetes":
		client, err := k8s.NewK8sClient(&k8s.K8sClientConfig{Logger: log})
		if err != nil {
			return nil, fmt.Errorf("building kubernetes client: %w", err)
		}
		// The Kubernetes backend has no separate namespace field in
		// DatabaseConfig; "default" matches the teacher's own
		// single-namespace in-cluster assumption.
		return clustercontrol.NewKubernetesController(client, "default", cfg.Database.ClusterName, log), nil
	default:
		return clustercontrol.NewExecController(cfg.Database.ClusterCtl, cfg.Database.PgVersion, cfg.Database.ClusterName, log), nil
	}
}

// buildLocker returns nil (disabling concurrent-session rejection) when
// cfg.Redis.Addr is empty. A configured address is not probed here; an
// unreachable Redis surfaces later as an Acquire error, which aborts the
// workload.
func buildLocker(cfg *config.Config, log *slog.Logger) (orchestrator.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
	lockCfg := &lock.LockConfig{
		TTL:            cfg.Lock.TTL,
		MaxRetries:     cfg.Lock.MaxRetries,
		RetryInterval:  cfg.Lock.RetryInterval,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
	}
	locker := lock.NewDistributedLock(client, cfg.Lock.ValuePrefix+":"+cfg.Database.DataPath, lockCfg, log)
	return locker, func() { _ = client.Close() }
}

func buildExecutor(ctx context.Context, cfg *config.Config, log *slog.Logger) (driver.Executor, error) {
	switch cfg.Benchmark.Tool {
	case "benchbase":
		params, err := oltp.ParamsFor(cfg.Benchmark.Name)
		if err != nil {
			return nil, err
		}
		oltpCfg := oltp.DefaultConfig()
		if cfg.Benchmark.BenchbaseBin != "" {
			oltpCfg.JavaBin = cfg.Benchmark.BenchbaseBin
		}
		oltpCfg.JarPath = cfg.Benchmark.BenchbaseJar
		oltpCfg.Benchmark = cfg.Benchmark.Name
		oltpCfg.ProfilePath = cfg.Benchmark.WorkloadPath
		oltpCfg.ConfigDir = filepath.Dir(cfg.Benchmark.WorkloadPath)
		oltpCfg.ResultsDir = filepath.Join(filepath.Dir(cfg.Benchmark.PerformanceRecordPath), "benchbase_results")
		oltpCfg.LogPath = cfg.Benchmark.LogPath
		conn := oltp.ConnectionInfo{URL: cfg.Database.DSN(), Username: cfg.Database.User, Password: cfg.Database.Password}
		return oltp.New(oltpCfg, conn, params, log), nil
	default: // "dwg" and "surrogate" both run the OLAP executor
		dsn := cfg.Database.DSN()
		connect := func(ctx context.Context) (*pgx.Conn, error) { return pgx.Connect(ctx, dsn) }
		return olap.NewExecutor(olap.ExecutorConfig{WorkloadPath: cfg.Benchmark.WorkloadPath, Workers: cfg.Benchmark.OLAPWorkers}, connect)
	}
}

func buildOptimizer(cfg *config.Config, space *knobspace.KnobSpace) optimizer.Optimizer {
	if cfg.Tuning.TuningMethod == "bob" {
		return optimizer.NewBOB(optimizer.BOBConfig{
			Space:    space,
			Seed:     cfg.Tuning.Seed,
			Runcount: cfg.Tuning.SuggestNum,
		})
	}
	return optimizer.NewBOA(optimizer.BOAConfig{
		Space:             space,
		Seed:              cfg.Tuning.Seed,
		RuncountLimit:     cfg.Tuning.SuggestNum,
		PlateauIterations: cfg.Tuning.EarlyStopPlateau,
	})
}
