package reconcilerevent

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

/*
 These events are produced by the reconcile rounds of every operator.
*/

type ZNodeCreatedEvent struct {
	Object runtime.Object
	Path   string
	Data   string
}

func (s *ZNodeCreatedEvent) Record(recorder record.EventRecorder) {
	recorder.Event(s.Object,
		corev1.EventTypeNormal,
		"ZNodeCreated",
		fmt.Sprintf("Created znode %q with %q", s.Path, s.Data))
}

// ReconcileFailedEvent is recorded when a round ends in error. The round is retried.
type ReconcileFailedEvent struct {
	Object runtime.Object
	Step   string
	Err    error
}

func (s *ReconcileFailedEvent) Record(recorder record.EventRecorder) {
	recorder.Event(s.Object,
		corev1.EventTypeWarning,
		"ReconcileFailed",
		fmt.Sprintf("Reconcile failed at %s: %s", s.Step, s.Err))
}

type InvalidSpecEvent struct {
	Object runtime.Object
	Err    error
}

func (s *InvalidSpecEvent) Record(recorder record.EventRecorder) {
	recorder.Event(s.Object,
		corev1.EventTypeWarning,
		"InvalidSpec",
		s.Err.Error())
}
