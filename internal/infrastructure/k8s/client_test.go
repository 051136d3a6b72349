package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

// createFakeClient creates a DefaultK8sClient with an empty fake clientset.
func createFakeClient() *DefaultK8sClient {
	return &DefaultK8sClient{
		clientset: fake.NewSimpleClientset(),
		config:    DefaultK8sClientConfig(),
		logger:    slog.Default(),
	}
}

// createFakeSTSClient creates a DefaultK8sClient seeded with a StatefulSet
// already reporting a settled rollout, so waitForRollout returns immediately.
func createFakeSTSClient(name, namespace string, replicas int32) *DefaultK8sClient {
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       appsv1.StatefulSetSpec{Replicas: &replicas},
		Status: appsv1.StatefulSetStatus{
			ReadyReplicas:   replicas,
			CurrentRevision: "rev-1",
			UpdateRevision:  "rev-1",
		},
	}
	fakeClientset := fake.NewSimpleClientset(sts)
	return &DefaultK8sClient{
		clientset: fakeClientset,
		config:    DefaultK8sClientConfig(),
		logger:    slog.Default(),
	}
}

func TestRestartStatefulSet_PatchesAndWaitsForSettledRollout(t *testing.T) {
	client := createFakeSTSClient("postgres", "db", 1)

	err := client.RestartStatefulSet(context.Background(), "db", "postgres")
	require.NoError(t, err)
}

func TestRestartStatefulSet_MissingStatefulSet(t *testing.T) {
	client := createFakeClient()

	err := client.RestartStatefulSet(context.Background(), "db", "does-not-exist")
	assert.Error(t, err)
}

func TestDefaultK8sClientConfig(t *testing.T) {
	config := DefaultK8sClientConfig()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.RetryBackoff)
	assert.Equal(t, 5*time.Second, config.MaxRetryBackoff)
	assert.NotNil(t, config.Logger)
}

func TestClose_MultipleCalls(t *testing.T) {
	client := createFakeClient()

	err1 := client.Close()
	assert.NoError(t, err1)

	err2 := client.Close()
	assert.NoError(t, err2)
}

func TestRetryLogic_ImmediateSuccess(t *testing.T) {
	client := createFakeClient()

	attemptCount := 0
	err := client.retryWithBackoff(context.Background(), func() error {
		attemptCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attemptCount)
}

func TestRetryLogic_EventualSuccess(t *testing.T) {
	client := createFakeClient()

	attemptCount := 0
	err := client.retryWithBackoff(context.Background(), func() error {
		attemptCount++
		if attemptCount < 3 {
			return fmt.Errorf("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attemptCount)
}

func TestRetryLogic_ExhaustedRetries(t *testing.T) {
	client := createFakeClient()

	attemptCount := 0
	err := client.retryWithBackoff(context.Background(), func() error {
		attemptCount++
		return fmt.Errorf("persistent error")
	})

	assert.Error(t, err)
	assert.Equal(t, client.config.MaxRetries+1, attemptCount)
}

func TestRetryLogic_ContextCancelled(t *testing.T) {
	client := createFakeClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.retryWithBackoff(ctx, func() error {
		t.Fatal("operation should not run with an already-cancelled context")
		return nil
	})

	assert.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func BenchmarkHealth(b *testing.B) {
	client := createFakeClient()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.Health(ctx)
	}
}
