// Package oltp drives an external transactional-benchmark harness
// (BenchBase-style) as a subprocess: it edits the harness's XML profile,
// stages it into the harness's config directory, runs the load phase once
// per target, runs the execute phase per iteration, and extracts the
// reported throughput.
package oltp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures one harness target.
type Config struct {
	JavaBin      string // launcher binary, default "java"
	JarPath      string
	Benchmark    string
	ProfilePath  string // template profile, edited and staged per run
	ConfigDir    string // harness's expected config directory
	ResultsDir   string
	LogPath      string // directory for timestamped subprocess logs
	SettleDelay  time.Duration
	BenchTimeout time.Duration // generous upper bound, >= 1h in production
}

// DefaultConfig fills in the documented defaults for settle delay and
// benchmark timeout.
func DefaultConfig() Config {
	return Config{
		JavaBin:      "java",
		SettleDelay:  2 * time.Second,
		BenchTimeout: time.Hour,
	}
}

// Executor runs a BenchBase-style harness as a subprocess and reports
// throughput. It satisfies internal/driver.Executor.
type Executor struct {
	cfg    Config
	conn   ConnectionInfo
	params WorkloadParams
	logger *slog.Logger

	loaded bool
}

// New builds an Executor. conn supplies the database-under-test's
// connection coordinates; params is the fixed per-benchmark scale/rate
// table looked up via ParamsFor.
func New(cfg Config, conn ConnectionInfo, params WorkloadParams, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, conn: conn, params: params, logger: logger}
}

// Run stages the profile, loads the schema on the first call, executes
// the workload, and returns the reported throughput. It never returns a
// non-nil error for a harness failure — per the documented subprocess
// error policy, a failed run is surfaced as a zero-throughput result so
// the optimizer still gets an observation to steer away from.
func (e *Executor) Run(ctx context.Context) (float64, error) {
	stagedProfile, err := e.stageProfile()
	if err != nil {
		return 0, fmt.Errorf("oltp: staging profile: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.BenchTimeout)
	defer cancel()

	if !e.loaded {
		if err := e.invoke(runCtx, stagedProfile, "--create=true", "--load=true", "--execute=false"); err != nil {
			e.logger.Warn("oltp load phase failed", "benchmark", e.cfg.Benchmark, "error", err)
			return 0, nil
		}
		e.loaded = true
	}

	if err := e.invoke(runCtx, stagedProfile, "--execute=true", "--directory="+e.cfg.ResultsDir); err != nil {
		e.logger.Warn("oltp execute phase failed", "benchmark", e.cfg.Benchmark, "error", err)
		// still attempt to parse any summary the harness managed to write
	}

	summaryPath, err := e.waitForSummary(runCtx)
	if err != nil {
		e.logger.Warn("oltp result discovery failed", "benchmark", e.cfg.Benchmark, "error", err)
		return 0, nil
	}
	dest, err := archiveAndClean(e.cfg.ResultsDir, summaryPath, time.Now())
	if err != nil {
		e.logger.Warn("oltp result archiving failed", "benchmark", e.cfg.Benchmark, "error", err)
		return 0, nil
	}
	return parseThroughput(dest), nil
}

func (e *Executor) stageProfile() (string, error) {
	template, err := os.ReadFile(e.cfg.ProfilePath)
	if err != nil {
		return "", fmt.Errorf("reading profile template: %w", err)
	}
	edited := EditProfile(string(template), e.conn, e.params)

	if err := os.MkdirAll(e.cfg.ConfigDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	staged := filepath.Join(e.cfg.ConfigDir, e.cfg.Benchmark+".xml")
	if err := os.WriteFile(staged, []byte(edited), 0600); err != nil {
		return "", fmt.Errorf("writing staged profile: %w", err)
	}
	return staged, nil
}

// waitForSummary polls for the harness's summary file, rate-limited to one
// attempt per SettleDelay rather than a single fixed sleep: some harness
// versions flush the summary a beat after the subprocess exits, and a
// single sleep either races it or wastes the full delay every time.
func (e *Executor) waitForSummary(ctx context.Context) (string, error) {
	limiter := rate.NewLimiter(rate.Every(e.cfg.SettleDelay), 1)
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		path, err := findSummary(e.cfg.ResultsDir)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (e *Executor) invoke(ctx context.Context, profile string, phaseFlags ...string) error {
	bin := e.cfg.JavaBin
	if bin == "" {
		bin = "java"
	}
	args := append([]string{"-jar", e.cfg.JarPath, "-b", e.cfg.Benchmark, "-c", profile}, phaseFlags...)
	cmd := exec.CommandContext(ctx, bin, args...)

	logWriter := e.subprocessLogWriter()
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(logWriter, &buf)
	cmd.Stderr = io.MultiWriter(logWriter, &buf)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("harness invocation failed: %w (output: %s)", err, buf.String())
	}
	return nil
}

func (e *Executor) subprocessLogWriter() *lumberjack.Logger {
	filename := filepath.Join(e.cfg.LogPath, fmt.Sprintf("%s-%s.log", e.cfg.Benchmark, time.Now().UTC().Format("20060102T150405")))
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}
