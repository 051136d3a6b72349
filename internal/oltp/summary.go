package oltp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const throughputKey = "Throughput (requests/second)"

// findSummary scans dir for a file ending in .summary.json. The harness
// names these per-run, so only one is expected per execute phase; the
// first match wins.
func findSummary(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("oltp: reading results directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".summary.json") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("oltp: no .summary.json found in %s", dir)
}

// archiveAndClean copies the discovered summary file to summary.json,
// moves the original aside into an archive subdirectory stamped with the
// current time, and deletes every other artefact in dir so the next
// iteration starts from a clean results directory.
func archiveAndClean(dir, summaryPath string, now time.Time) (string, error) {
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		return "", fmt.Errorf("oltp: reading summary file: %w", err)
	}

	dest := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(dest, data, 0600); err != nil {
		return "", fmt.Errorf("oltp: writing summary.json: %w", err)
	}

	archiveDir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return "", fmt.Errorf("oltp: creating archive directory: %w", err)
	}
	archived := filepath.Join(archiveDir, now.UTC().Format("20060102T150405")+"_"+filepath.Base(summaryPath))
	if err := os.Rename(summaryPath, archived); err != nil {
		return "", fmt.Errorf("oltp: archiving summary file: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("oltp: re-reading results directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == "summary.json" || name == "archive" {
			continue
		}
		_ = os.RemoveAll(filepath.Join(dir, name))
	}

	return dest, nil
}

// parseThroughput reads summary.json and returns the numeric value at
// "Throughput (requests/second)". Any failure (missing file, malformed
// JSON, missing/non-numeric key) returns 0 rather than an error, per the
// documented "any failure returns 0" contract — a benchmark parse failure
// must never abort the tuning session.
func parseThroughput(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var fields map[string]json.Number
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0
	}
	raw, ok := fields[throughputKey]
	if !ok {
		return 0
	}
	v, err := raw.Float64()
	if err != nil {
		return 0
	}
	return v
}
