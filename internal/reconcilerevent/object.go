package reconcilerevent

import (
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
}

// ObjectCreatedEvent is recorded each time the controller successfully creates
// a new API resource.
// It performs runtime inspection of the supplied object in order to log kind,
// group and name of the object.
type ObjectCreatedEvent struct {
	Log    logr.Logger
	For    runtime.Object
	Object runtime.Object
}

func (o *ObjectCreatedEvent) Record(recorder record.EventRecorder) {
	recordObjectEvent(o.Log, recorder, o.For, o.Object, "SuccessfulCreate", "Created")
}

// ObjectUpdatedEvent is recorded when an update changed an owned resource.
// No-op updates are not recorded.
type ObjectUpdatedEvent struct {
	Log    logr.Logger
	For    runtime.Object
	Object runtime.Object
}

func (o *ObjectUpdatedEvent) Record(recorder record.EventRecorder) {
	recordObjectEvent(o.Log, recorder, o.For, o.Object, "SuccessfulUpdate", "Updated")
}

func recordObjectEvent(log logr.Logger, recorder record.EventRecorder, owner, obj runtime.Object, reason, verb string) {
	gvk, err := apiutil.GVKForObject(obj, scheme)
	if err != nil {
		log.Error(err, "Failure accessing GVK", "object", obj)
		return
	}
	objMeta, err := meta.Accessor(obj)
	if err != nil {
		log.Error(err, "Failure accessing metadata", "object", obj)
		return
	}

	recorder.Event(
		owner,
		corev1.EventTypeNormal,
		reason,
		fmt.Sprintf("%s %s: %s", verb, gvk.Kind, objMeta.GetName()),
	)
}
