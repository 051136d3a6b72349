// Package k8s wraps k8s.io/client-go with the one operation the tuner's
// Kubernetes cluster-control backend needs: rolling-restarting the
// StatefulSet that runs the database instance under tuning, so a knob
// change applied via ALTER SYSTEM SET takes effect.
//
// Example usage:
//
//	config := DefaultK8sClientConfig()
//	client, err := NewK8sClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.RestartStatefulSet(ctx, "default", "postgres")
package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// K8sClient defines the Kubernetes operations the tuner's cluster-control
// backend needs.
type K8sClient interface {
	// Health checks if K8s API is accessible.
	// Returns ConnectionError if API is unavailable.
	Health(ctx context.Context) error

	// RestartStatefulSet triggers a rolling restart of every pod owned by
	// the named StatefulSet by patching its pod template's restart
	// annotation, then waits for the rollout to settle.
	RestartStatefulSet(ctx context.Context, namespace, name string) error

	// Close cleans up resources.
	// Safe to call multiple times.
	Close() error
}

// K8sClientConfig holds configuration for K8s client.
type K8sClientConfig struct {
	// Timeout for K8s API requests (default 30s)
	Timeout time.Duration

	// MaxRetries for transient errors (default 3)
	MaxRetries int

	// RetryBackoff initial backoff duration (default 100ms)
	RetryBackoff time.Duration

	// MaxRetryBackoff maximum backoff duration (default 5s)
	MaxRetryBackoff time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultK8sClientConfig returns configuration with sensible defaults.
func DefaultK8sClientConfig() *K8sClientConfig {
	return &K8sClientConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		Logger:          slog.Default(),
	}
}

// DefaultK8sClient implements K8sClient using k8s.io/client-go.
type DefaultK8sClient struct {
	clientset kubernetes.Interface
	config    *K8sClientConfig
	logger    *slog.Logger
	mu        sync.RWMutex // For thread-safe configuration updates
}

// NewK8sClient creates a new K8s client with in-cluster configuration.
// Returns ConnectionError if in-cluster config is not available or if K8s API is unreachable.
func NewK8sClient(config *K8sClientConfig) (K8sClient, error) {
	if config == nil {
		config = DefaultK8sClientConfig()
	}

	// Load in-cluster config
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, NewConnectionError("failed to load in-cluster config", err)
	}

	// Apply timeout from config
	k8sConfig.Timeout = config.Timeout

	// Create clientset
	clientset, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, NewConnectionError("failed to create K8s clientset", err)
	}

	client := &DefaultK8sClient{
		clientset: clientset,
		config:    config,
		logger:    config.Logger,
	}

	// Verify connection with initial health check
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("K8s API health check failed: %w", err)
	}

	client.logger.Info("K8s client initialized successfully")

	return client, nil
}

// RestartStatefulSet patches the StatefulSet's pod template with a fresh
// `kubectl.kubernetes.io/restartedAt` annotation, the same mechanism
// `kubectl rollout restart` uses, then polls until every replica reports
// the new template as current.
func (c *DefaultK8sClient) RestartStatefulSet(ctx context.Context, namespace, name string) error {
	c.logger.Info("restarting StatefulSet", "namespace", namespace, "name", name)

	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]interface{}{
						"kubectl.kubernetes.io/restartedAt": time.Now().UTC().Format(time.RFC3339),
					},
				},
			},
		},
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshalling restart patch: %w", err)
	}

	err = c.retryWithBackoff(ctx, func() error {
		_, err := c.clientset.AppsV1().StatefulSets(namespace).Patch(ctx, name, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{})
		return err
	})
	if err != nil {
		return wrapK8sError("restart statefulset", err)
	}

	return c.waitForRollout(ctx, namespace, name)
}

// waitForRollout polls until CurrentRevision matches UpdateRevision and
// every replica is ready, or the context deadline is reached.
func (c *DefaultK8sClient) waitForRollout(ctx context.Context, namespace, name string) error {
	for {
		sts, err := c.clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return wrapK8sError("get statefulset during rollout wait", err)
		}
		if sts.Status.CurrentRevision == sts.Status.UpdateRevision && sts.Status.ReadyReplicas == *sts.Spec.Replicas {
			c.logger.Info("StatefulSet rollout complete", "namespace", namespace, "name", name)
			return nil
		}
		select {
		case <-ctx.Done():
			return NewTimeoutError("statefulset rollout did not complete in time", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

// Health checks if K8s API is accessible.
func (c *DefaultK8sClient) Health(ctx context.Context) error {
	// Short timeout for health checks
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Lightweight API call to check connectivity
	// Using Discovery().ServerVersion() is standard health check
	_, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		c.logger.Warn("K8s health check failed", "error", err)
		return NewConnectionError("K8s API unavailable", err)
	}

	// Check if context was cancelled during operation
	if healthCtx.Err() != nil {
		return NewTimeoutError("health check timeout", healthCtx.Err())
	}

	return nil
}

// Close cleans up resources.
func (c *DefaultK8sClient) Close() error {
	c.logger.Info("Closing K8s client")

	c.mu.Lock()
	defer c.mu.Unlock()

	// client-go's clientset doesn't have explicit Close()
	// But we can nil out references for GC
	c.clientset = nil

	c.logger.Info("K8s client closed")
	return nil
}

// retryWithBackoff executes operation with exponential backoff retry logic.
func (c *DefaultK8sClient) retryWithBackoff(ctx context.Context, operation func() error) error {
	backoff := c.config.RetryBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		// Check context cancellation before attempt
		select {
		case <-ctx.Done():
			return NewTimeoutError("operation cancelled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil // Success
		}

		// Check if error is retryable
		if !isRetryableError(err) {
			return err // Permanent error, no retry
		}

		// Last attempt - return error
		if attempt == c.config.MaxRetries {
			return err
		}

		// Log retry
		c.logger.Warn("Retrying K8s operation",
			"attempt", attempt+1,
			"max_retries", c.config.MaxRetries,
			"backoff", backoff,
			"error", err,
		)

		// Wait with backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return NewTimeoutError("operation cancelled during backoff", ctx.Err())
		}

		// Exponential backoff
		backoff *= 2
		if backoff > c.config.MaxRetryBackoff {
			backoff = c.config.MaxRetryBackoff
		}
	}

	return fmt.Errorf("operation failed after %d retries", c.config.MaxRetries)
}
