package migrations

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_ExecuteWithRetry_SucceedsAfterTransientLock(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 3, time.Millisecond)

	attempts := 0
	err := eh.ExecuteWithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestErrorHandler_ExecuteWithRetry_StopsOnNonRetryableError(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 3, time.Millisecond)

	attempts := 0
	err := eh.ExecuteWithRetry(context.Background(), func() error {
		attempts++
		return errors.New("syntax error near SELECT")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestErrorHandler_ExecuteWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 2, time.Millisecond)

	attempts := 0
	err := eh.ExecuteWithRetry(context.Background(), func() error {
		attempts++
		return errors.New("database busy")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestErrorHandler_ExecuteWithRetry_RespectsContextCancellation(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 5, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := eh.ExecuteWithRetry(ctx, func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("deadlock detected")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorHandler_HandleError_WrapsWithOperationAndVersion(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 0, time.Millisecond)

	cause := errors.New("boom")
	err := eh.HandleError(context.Background(), cause, "up", 20260101120000)

	var migrationErr *MigrationError
	require.ErrorAs(t, err, &migrationErr)
	assert.Equal(t, "up", migrationErr.Operation)
	assert.Equal(t, int64(20260101120000), migrationErr.Version)
	assert.ErrorIs(t, err, cause)
}

func TestErrorHandler_IsRetryable(t *testing.T) {
	eh := NewErrorHandler(slog.Default(), 0, time.Millisecond)

	assert.True(t, eh.isRetryable(errors.New("database is locked")))
	assert.True(t, eh.isRetryable(errors.New("DATABASE BUSY")))
	assert.True(t, eh.isRetryable(context.DeadlineExceeded))
	assert.False(t, eh.isRetryable(errors.New("no such table: sessions")))
	assert.False(t, eh.isRetryable(nil))
}
