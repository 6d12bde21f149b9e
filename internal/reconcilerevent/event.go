// Package reconcilerevent records what reconcile rounds do as Kubernetes events on the
// reconciled resource.
package reconcilerevent

import (
	"k8s.io/client-go/tools/record"
)

// ReconcilerEvent is a write made by a round, or the reason a round stopped.
type ReconcilerEvent interface {
	Record(recorder record.EventRecorder)
}
