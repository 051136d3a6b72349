package clustercontrol

import (
	"context"
	"log/slog"

	"github.com/ipiton/dbtuner/internal/infrastructure/k8s"
)

// statefulSetRestarter is the subset of k8s.K8sClient the Kubernetes
// backend needs.
type statefulSetRestarter interface {
	RestartStatefulSet(ctx context.Context, namespace, name string) error
}

// KubernetesController drives cluster restarts by rolling a StatefulSet
// instead of shelling out to a local cluster-control binary. A StatefulSet
// rollout restarts every pod in place, so Stop is a no-op: the entire
// stop/start cycle happens inside Start's single rolling restart.
type KubernetesController struct {
	client    statefulSetRestarter
	namespace string
	name      string
	logger    *slog.Logger
}

// NewKubernetesController builds a cluster controller backed by a
// StatefulSet rolling restart. namespace/name identify the StatefulSet
// running the database under tuning; name is typically the same
// cluster_name used by the exec backend.
func NewKubernetesController(client k8s.K8sClient, namespace, name string, logger *slog.Logger) *KubernetesController {
	if logger == nil {
		logger = slog.Default()
	}
	return &KubernetesController{client: client, namespace: namespace, name: name, logger: logger}
}

// Stop is a no-op: there is no separate stop phase for a StatefulSet
// rolling restart.
func (c *KubernetesController) Stop(ctx context.Context) error {
	return nil
}

// Start triggers a rolling restart of the StatefulSet and blocks until
// every replica reports the restarted template as current.
func (c *KubernetesController) Start(ctx context.Context) error {
	c.logger.Info("rolling restart via kubernetes backend", "namespace", c.namespace, "name", c.name)
	return c.client.RestartStatefulSet(ctx, c.namespace, c.name)
}
