// Package config loads the process-wide configuration for the tuner: the
// target database connection, the benchmark/workload wiring, the tuning
// loop's own knobs, and the ambient log/lock/metrics sections.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the tuner's process-wide configuration, unmarshalled
// from a single YAML file plus environment variable overrides.
type Config struct {
	// StrictMode rejects unrecognised keys in the config file instead of
	// silently ignoring them (see DESIGN.md "strict-mode" decision).
	StrictMode bool `mapstructure:"strict_mode"`

	Database  DatabaseConfig  `mapstructure:"database_config" validate:"required"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark_config" validate:"required"`
	Tuning    TuningConfig    `mapstructure:"tuning_config" validate:"required"`
	Surrogate SurrogateConfig `mapstructure:"surrogate_config"`

	Log     LogConfig     `mapstructure:"log"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Lock    LockConfig    `mapstructure:"lock"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DatabaseConfig describes the database instance under test, per §6
// database_config: host, port, database, user, password, data_path,
// pg_version, cluster_name.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Database string `mapstructure:"database" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`

	// DataPath is the server data directory; the persisted-override file
	// (postgresql.auto.conf) lives under it and is what purge_overrides
	// deletes to recover from a configuration that blocks startup.
	DataPath string `mapstructure:"data_path" validate:"required"`

	// PgVersion and ClusterName select the cluster-control invocation:
	// <cluster_ctl> <pg_version> <cluster_name> {stop|start}.
	PgVersion   string `mapstructure:"pg_version" validate:"required"`
	ClusterName string `mapstructure:"cluster_name" validate:"required"`

	// ClusterCtl is the platform cluster-control executable (e.g. pg_ctlcluster).
	ClusterCtl string `mapstructure:"cluster_ctl"`

	// Backend selects how restart() is carried out: "exec" shells out to
	// ClusterCtl, "kubernetes" rolls the StatefulSet named ClusterName.
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=exec kubernetes"`

	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	BlockSizeBytes  int64         `mapstructure:"block_size_bytes"`
}

// BenchmarkConfig selects the workload and the executor that runs it, per
// §6 benchmark_config.
type BenchmarkConfig struct {
	Name                 string `mapstructure:"benchmark" validate:"required"`
	WorkloadPath         string `mapstructure:"workload_path" validate:"required"`
	Tool                 string `mapstructure:"tool" validate:"required,oneof=dwg benchbase surrogate"`
	LogPath              string `mapstructure:"log_path" validate:"required"`
	PerformanceRecordPath string `mapstructure:"performance_record_path" validate:"required"`
	BenchbaseJar         string `mapstructure:"benchbase_jar"`

	// OLAPWorkers is N in the round-robin partition across OLAP workers.
	OLAPWorkers int `mapstructure:"olap_workers"`

	// BenchbaseBin is the java-style launcher used for `tool: benchbase`.
	BenchbaseBin string `mapstructure:"benchbase_bin"`
}

// TuningConfig drives the optimiser, per §6 tuning_config.
type TuningConfig struct {
	KnobConfigPath string `mapstructure:"knob_config" validate:"required"`
	LogPath        string `mapstructure:"log_path" validate:"required"`
	SuggestNum     int    `mapstructure:"suggest_num" validate:"required,min=1"`
	EarlyStopPlateau int  `mapstructure:"early_stop_plateau"`

	// TuningMethod selects the optimiser strategy: "boa" (sequential
	// model-based, sentinel plateau stop) or "bob" (ask/tell).
	TuningMethod string `mapstructure:"tuning_method" validate:"required,oneof=boa bob"`

	// Seed is the deterministic random seed used by both strategies.
	Seed int64 `mapstructure:"seed"`
}

// SurrogateConfig is a free-form passthrough for the external surrogate
// training pipeline (out of scope here, see spec.md §1); the tuner only
// needs to know whether offline-sample logging should run.
type SurrogateConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputPath string `mapstructure:"output_path"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// RedisConfig backs the distributed session lock (see internal/lock) that
// rejects concurrent tuning sessions against the same data directory.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// LockConfig holds distributed lock configuration.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// MetricsConfig holds the optional status/metrics HTTP server configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

var validate = validator.New()

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if viper.GetBool("strict_mode") {
		if err := viper.UnmarshalExact(&cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config (strict mode): %w", err)
		}
	} else if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("strict_mode", false)

	viper.SetDefault("database_config.ssl_mode", "disable")
	viper.SetDefault("database_config.max_connections", int32(10))
	viper.SetDefault("database_config.min_connections", int32(1))
	viper.SetDefault("database_config.max_conn_lifetime", "1h")
	viper.SetDefault("database_config.max_conn_idle_time", "30m")
	viper.SetDefault("database_config.connect_timeout", "10s")
	viper.SetDefault("database_config.block_size_bytes", int64(8192))
	viper.SetDefault("database_config.cluster_ctl", "pg_ctlcluster")
	viper.SetDefault("database_config.backend", "exec")

	viper.SetDefault("benchmark_config.olap_workers", 4)
	viper.SetDefault("benchmark_config.benchbase_bin", "benchbase")

	viper.SetDefault("tuning_config.early_stop_plateau", 50)
	viper.SetDefault("tuning_config.seed", int64(42))

	viper.SetDefault("surrogate_config.enabled", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)

	viper.SetDefault("lock.ttl", "2h")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "200ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.value_prefix", "dbtuner")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
}

// Validate validates the configuration using struct tags and a handful of
// cross-field checks that tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Tuning.EarlyStopPlateau < 0 {
		return fmt.Errorf("tuning_config.early_stop_plateau must be >= 0")
	}

	if c.Benchmark.Tool == "dwg" && c.Benchmark.OLAPWorkers <= 0 {
		return fmt.Errorf("benchmark_config.olap_workers must be > 0 for tool=dwg")
	}

	if c.Benchmark.Tool == "benchbase" && c.Benchmark.BenchbaseJar == "" {
		return fmt.Errorf("benchmark_config.benchbase_jar is required for tool=benchbase")
	}

	return nil
}

// DSN builds the pgx connection string for the database under test.
func (c *DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}
