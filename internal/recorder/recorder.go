// Package recorder owns every append-only output stream produced during a
// tuning session: the training log, the offline-sample log consumed by an
// external surrogate pipeline, the per-workload human-readable performance
// file, the incumbent JSON, and the full run-history trace.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipiton/dbtuner/internal/dbadapter"
	"github.com/ipiton/dbtuner/internal/knobspace"
)

// TrainingRecord is one line of the training log: the full configuration,
// performance, and iteration number for one evaluation.
type TrainingRecord struct {
	Iteration     int                        `json:"iteration"`
	Configuration knobspace.Configuration    `json:"configuration"`
	Performance   float64                    `json:"performance"`
}

// OfflineSampleRecord extends TrainingRecord with internal metrics and the
// y = [-p, 1/(-p)] encoding consumed by an external surrogate pipeline.
// The encoding is preserved bit-for-bit as a two-element array.
type OfflineSampleRecord struct {
	Iteration       int                        `json:"iteration"`
	Configuration   knobspace.Configuration    `json:"configuration"`
	Performance     float64                    `json:"performance"`
	InternalMetrics dbadapter.InternalMetrics  `json:"internal_metrics"`
	Y               [2]float64                 `json:"y"`
}

// EncodeY computes the offline-sample surrogate target from a raw
// performance value: y = [-p, 1/(-p)]. p == 0 is not special-cased and
// gives an infinite y[1], which encoding/json cannot marshal; an
// invalidated OLAP or OLTP run reports performance 0, so its
// offline-sample record is not written.
func EncodeY(performance float64) [2]float64 {
	return [2]float64{-performance, 1 / -performance}
}

// RunHistoryEntry is one line of runhistory.jsonl.
type RunHistoryEntry struct {
	Iteration   int                     `json:"iteration"`
	Config      knobspace.Configuration `json:"config"`
	Cost        float64                 `json:"cost"`
	Performance *float64                `json:"performance,omitempty"`
	Note        string                  `json:"note,omitempty"`
}

// BestConfig is best_config.json's shape.
type BestConfig struct {
	Workload      string                  `json:"workload"`
	Iterations    int                     `json:"iterations"`
	BestCost      float64                 `json:"best_cost"`
	BestPerformance float64               `json:"best_performance"`
	Configuration knobspace.Configuration `json:"configuration"`
	EarlyStopped  bool                    `json:"early_stopped,omitempty"`
}

// appendOnlyLog is a JSON-lines file kept open for the session's lifetime.
type appendOnlyLog struct {
	mu   sync.Mutex
	file *os.File
}

func openAppendOnlyLog(path string) (*appendOnlyLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("recorder: failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to open %s: %w", path, err)
	}
	return &appendOnlyLog{file: f}, nil
}

func (l *appendOnlyLog) appendJSON(v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("recorder: failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("recorder: failed to append record: %w", err)
	}
	return nil
}

func (l *appendOnlyLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Recorder owns the three output streams for one workload's tuning session.
type Recorder struct {
	workload string
	perfDir  string

	trainingLog *appendOnlyLog
	offlineLog  *appendOnlyLog // nil when tool == "surrogate"
	perfFile    *appendOnlyLog

	mu              sync.Mutex
	iterationsSoFar int
}

// Config locates every output path for one workload's session.
type Config struct {
	Workload        string
	TrainingLogPath string
	OfflineLogPath  string // empty disables the offline-sample log (tool == "surrogate")
	PerfDir         string
}

// Open creates (or appends to) every configured log for the workload.
func Open(cfg Config) (*Recorder, error) {
	training, err := openAppendOnlyLog(cfg.TrainingLogPath)
	if err != nil {
		return nil, err
	}

	var offline *appendOnlyLog
	if cfg.OfflineLogPath != "" {
		offline, err = openAppendOnlyLog(cfg.OfflineLogPath)
		if err != nil {
			training.Close()
			return nil, err
		}
	}

	perfPath := filepath.Join(cfg.PerfDir, cfg.Workload+".txt")
	perf, err := openAppendOnlyLog(perfPath)
	if err != nil {
		training.Close()
		if offline != nil {
			offline.Close()
		}
		return nil, err
	}

	return &Recorder{
		workload:    cfg.Workload,
		perfDir:     cfg.PerfDir,
		trainingLog: training,
		offlineLog:  offline,
		perfFile:    perf,
	}, nil
}

// RecordEvaluation writes the three per-evaluation records documented in
// spec.md §4.4: the training log entry, the one-line human summary, and
// the offline-sample entry (skipped when the offline log was not opened).
// An offline-sample record that cannot be encoded is returned as the
// error after the other two records are written.
func (r *Recorder) RecordEvaluation(iteration int, cfg knobspace.Configuration, performance float64, metrics dbadapter.InternalMetrics) error {
	r.mu.Lock()
	r.iterationsSoFar = iteration + 1
	r.mu.Unlock()

	if err := r.trainingLog.appendJSON(TrainingRecord{
		Iteration:     iteration,
		Configuration: cfg,
		Performance:   performance,
	}); err != nil {
		return err
	}

	if err := r.appendPerfLine(iteration, performance); err != nil {
		return err
	}

	if r.offlineLog != nil {
		if err := r.offlineLog.appendJSON(OfflineSampleRecord{
			Iteration:       iteration,
			Configuration:   cfg,
			Performance:     performance,
			InternalMetrics: metrics,
			Y:               EncodeY(performance),
		}); err != nil {
			return err
		}
	}

	return nil
}

func (r *Recorder) appendPerfLine(iteration int, performance float64) error {
	r.perfFile.mu.Lock()
	defer r.perfFile.mu.Unlock()
	line := fmt.Sprintf("[Iteration %d] Performance: %.4f\n", iteration, performance)
	if _, err := r.perfFile.file.WriteString(line); err != nil {
		return fmt.Errorf("recorder: failed to write performance line: %w", err)
	}
	return nil
}

// Close closes every open log file.
func (r *Recorder) Close() error {
	var firstErr error
	for _, l := range []*appendOnlyLog{r.trainingLog, r.offlineLog, r.perfFile} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PerfFileExists reports whether the per-workload performance file already
// has content, i.e. this workload was previously completed — the resume
// marker used by the orchestrator.
func PerfFileExists(perfDir, workload string) bool {
	info, err := os.Stat(filepath.Join(perfDir, workload+".txt"))
	return err == nil && info.Size() > 0
}

// RunHistoryWriter appends iterations to runhistory.jsonl for one
// optimizer run and computes best_config.json at termination.
type RunHistoryWriter struct {
	log     *appendOnlyLog
	outDir  string
	entries []RunHistoryEntry
	mu      sync.Mutex
}

// OpenRunHistory opens runhistory.jsonl under outDir for append.
func OpenRunHistory(outDir string) (*RunHistoryWriter, error) {
	log, err := openAppendOnlyLog(filepath.Join(outDir, "runhistory.jsonl"))
	if err != nil {
		return nil, err
	}
	return &RunHistoryWriter{log: log, outDir: outDir}, nil
}

// Append writes one iteration and tracks it in memory for best_config.json.
func (w *RunHistoryWriter) Append(entry RunHistoryEntry) error {
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.mu.Unlock()
	return w.log.appendJSON(entry)
}

// WriteBestConfig writes best_config.json reflecting the minimum-cost entry
// appended so far.
func (w *RunHistoryWriter) WriteBestConfig(workload string, earlyStopped bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == 0 {
		return fmt.Errorf("recorder: cannot write best_config.json with no observations")
	}

	best := w.entries[0]
	for _, e := range w.entries[1:] {
		if e.Cost < best.Cost {
			best = e
		}
	}

	var bestPerformance float64
	if best.Performance != nil {
		bestPerformance = *best.Performance
	} else {
		bestPerformance = -best.Cost
	}

	out := BestConfig{
		Workload:        workload,
		Iterations:      len(w.entries),
		BestCost:        best.Cost,
		BestPerformance: bestPerformance,
		Configuration:   best.Config,
		EarlyStopped:    earlyStopped,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("recorder: failed to marshal best_config.json: %w", err)
	}

	path := filepath.Join(w.outDir, "best_config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("recorder: failed to write %s: %w", path, err)
	}
	return nil
}

// Close closes the underlying runhistory.jsonl file handle.
func (w *RunHistoryWriter) Close() error {
	return w.log.Close()
}
