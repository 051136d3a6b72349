// Package clustercontrol starts and stops the database cluster under
// tuning. dbadapter.Apply invokes it between setting knob overrides and
// resuming measurement.
package clustercontrol

import "context"

// Controller stops and starts the database cluster. Implementations must
// bound their own operations to the given context's deadline.
type Controller interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}
