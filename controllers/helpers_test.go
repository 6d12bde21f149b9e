package controllers

import (
	"strings"
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))
}

// newFakeClient returns a client with the operator's scheme, status subresources and
// field indexes, seeded with objs.
func newFakeClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&v1alpha1.ZookeeperCluster{}).
		WithIndex(&v1alpha1.FluentBit{}, fluentbitConfigNameSpecField, indexFluentbitConfigName).
		WithObjects(objs...).
		Build()
}

// drain returns the events recorded so far.
func drain(recorder *record.FakeRecorder) []string {
	var events []string
	for {
		select {
		case e := <-recorder.Events:
			events = append(events, e)
		default:
			return events
		}
	}
}

// reasons returns the reason of each event, e.g. "SuccessfulCreate".
func reasons(events []string) []string {
	var out []string
	for _, e := range events {
		parts := strings.SplitN(e, " ", 3)
		if len(parts) > 1 {
			out = append(out, parts[1])
		}
	}
	return out
}
