package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MigrationError wraps a migration failure with the version it occurred at.
type MigrationError struct {
	Operation string
	Version   int64
	Cause     error
	Timestamp time.Time
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed at version %d: %v", e.Operation, e.Version, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// ErrorHandler classifies migration errors and retries the retryable ones.
type ErrorHandler struct {
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *slog.Logger, maxRetries int, retryDelay time.Duration) *ErrorHandler {
	return &ErrorHandler{
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// HandleError wraps err with migration context and logs it.
func (eh *ErrorHandler) HandleError(ctx context.Context, err error, operation string, version int64) error {
	migrationErr := &MigrationError{
		Operation: operation,
		Version:   version,
		Cause:     err,
		Timestamp: time.Now(),
	}

	eh.logger.Error("migration error",
		"operation", operation,
		"version", version,
		"error", err)

	return migrationErr
}

// ExecuteWithRetry runs operation, retrying on sqlite-lock-style transient errors.
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= eh.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(eh.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := operation(); err != nil {
			lastErr = err
			if !eh.isRetryable(err) {
				break
			}
			eh.logger.Warn("migration operation failed, retrying",
				"attempt", attempt+1, "error", err)
			continue
		}

		return nil
	}

	return lastErr
}

// isRetryable recognises the sqlite lock-contention errors that goose surfaces
// when a resume-index write races a concurrent tuning session's own writes.
func (eh *ErrorHandler) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"database is locked",
		"database busy",
		"interrupted",
		"deadlock",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return errors.Is(err, context.DeadlineExceeded)
}
