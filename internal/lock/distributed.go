// Package lock implements the Redis-backed session lock that rejects a
// second concurrent tuning session against the same data directory
// (spec.md's single-writer-per-target requirement): two operators
// launching `tuner run` against the same Postgres instance must not race
// each other's ALTER SYSTEM SET calls.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a Redis SET-NX lock scoped to one tuning target.
type DistributedLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// LockConfig configures a DistributedLock.
type LockConfig struct {
	// TTL bounds how long a session can hold the lock before it expires
	// automatically, so a crashed tuner process doesn't block future runs
	// against the same target forever.
	TTL time.Duration `env:"LOCK_TTL" default:"30s"`

	MaxRetries    int           `env:"LOCK_MAX_RETRIES" default:"3"`
	RetryInterval time.Duration `env:"LOCK_RETRY_INTERVAL" default:"100ms"`

	AcquireTimeout time.Duration `env:"LOCK_ACQUIRE_TIMEOUT" default:"5s"`
	ReleaseTimeout time.Duration `env:"LOCK_RELEASE_TIMEOUT" default:"2s"`

	// ValuePrefix tags the lock's random value, usually the target's
	// data_path, so `redis-cli GET` on a held key identifies which tuning
	// target is holding it.
	ValuePrefix string `env:"LOCK_VALUE_PREFIX" default:"lock"`
}

// NewDistributedLock builds a lock for one key (by convention, the tuning
// target's data_path). The lock is not acquired until Acquire is called.
func NewDistributedLock(redis *redis.Client, key string, config *LockConfig, logger *slog.Logger) *DistributedLock {
	if config == nil {
		config = &LockConfig{
			TTL:            30 * time.Second,
			MaxRetries:     3,
			RetryInterval:  100 * time.Millisecond,
			AcquireTimeout: 5 * time.Second,
			ReleaseTimeout: 2 * time.Second,
			ValuePrefix:    "lock",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	value := generateLockValue(config.ValuePrefix)

	return &DistributedLock{
		redis:  redis,
		key:    key,
		value:  value,
		ttl:    config.TTL,
		logger: logger,
	}
}

// generateLockValue produces a per-session random value so Release and
// Extend can verify they still own the lock before mutating it.
func generateLockValue(prefix string) string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), time.Now().Unix())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
}

// Acquire attempts to take the lock once, with no retries.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to take the lock, retrying up to maxRetries
// times with a growing interval when another session already holds it.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	l.logger.Debug("attempting to acquire tuning session lock", "key", l.key, "value", l.value, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, l.ttl)
		defer cancel()

		result, err := l.redis.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
		if err != nil {
			l.logger.Error("failed to acquire session lock", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("failed to acquire lock after %d attempts: %w", maxRetries+1, err)
			}
			time.Sleep(l.retryInterval(attempt))
			continue
		}

		if result {
			l.acquired = true
			l.logger.Info("tuning session lock acquired", "key", l.key, "value", l.value, "ttl", l.ttl)
			return true, nil
		}

		l.logger.Debug("session lock already held by another tuning run", "key", l.key, "attempt", attempt+1)
		if attempt == maxRetries {
			return false, nil
		}

		time.Sleep(l.retryInterval(attempt))
	}

	return false, nil
}

// Release gives up the lock, but only if this session's value is still
// the one stored — a compare-and-delete Lua script, so a session whose
// lock already expired and was reacquired by someone else never deletes
// the new holder's lock.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		l.logger.Warn("releasing a lock this session never acquired", "key", l.key)
		return nil
	}

	l.logger.Debug("releasing tuning session lock", "key", l.key, "value", l.value)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(releaseCtx, script, []string{l.key}, l.value).Result()
	if err != nil {
		l.logger.Error("failed to release session lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.(int64) == 1 {
		l.acquired = false
		l.logger.Info("tuning session lock released", "key", l.key)
		return nil
	}

	l.logger.Warn("session lock was not released, likely expired and reacquired by another run", "key", l.key)
	return nil
}

// Extend pushes the lock's expiry out to newTTL, for a tuning run that
// has outlasted the TTL it was acquired with. Compare-and-extend, same
// ownership check as Release.
func (l *DistributedLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend lock that was not acquired")
	}

	l.logger.Debug("extending tuning session lock", "key", l.key, "newTTL", newTTL)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	extendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(extendCtx, script, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		l.logger.Error("failed to extend session lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.(int64) == 1 {
		l.ttl = newTTL
		l.logger.Info("tuning session lock extended", "key", l.key, "newTTL", newTTL)
		return nil
	}

	return fmt.Errorf("failed to extend lock (possibly already expired or held by another process)")
}

// IsAcquired reports whether this session currently holds the lock.
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// GetKey returns the lock's key (the tuning target's data_path).
func (l *DistributedLock) GetKey() string {
	return l.key
}

// GetValue returns this session's lock value.
func (l *DistributedLock) GetValue() string {
	return l.value
}

// GetTTL returns the lock's current TTL.
func (l *DistributedLock) GetTTL() time.Duration {
	return l.ttl
}

// retryInterval grows linearly with attempt number, with jitter to avoid
// multiple waiting sessions retrying in lockstep.
func (l *DistributedLock) retryInterval(attempt int) time.Duration {
	baseInterval := 100 * time.Millisecond
	interval := time.Duration(attempt+1) * baseInterval

	jitter := time.Duration(float64(interval) * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1))
	return interval + jitter
}
