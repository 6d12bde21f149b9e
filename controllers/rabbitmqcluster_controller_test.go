package controllers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/test"
)

func newRabbitmqReconciler(t *testing.T, objs ...client.Object) (*RabbitmqClusterReconciler, *record.FakeRecorder) {
	log, _ := test.NewTestLogger(t)
	recorder := record.NewFakeRecorder(100)
	n := 0
	return &RabbitmqClusterReconciler{
		Client:   newFakeClient(t, objs...),
		Log:      log,
		Recorder: recorder,
		Token: func() (string, error) {
			n++
			return fmt.Sprintf("token-%d", n), nil
		},
	}, recorder
}

func reconcileRabbitmq(t *testing.T, r *RabbitmqClusterReconciler) error {
	t.Helper()
	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Namespace: "ns", Name: "rmq1"},
	})
	return err
}

func TestRabbitmqClusterReconciler_ColdStart(t *testing.T) {
	r, recorder := newRabbitmqReconciler(t, test.ExampleRabbitmqCluster("ns"))

	require.NoError(t, reconcileRabbitmq(t, r))
	events := drain(recorder)
	assert.Len(t, events, 10)
	assert.Contains(t, events, "Normal SuccessfulCreate Created StatefulSet: rmq1-server")
	assert.Contains(t, events, "Normal SuccessfulCreate Created Role: rmq1-peer-discovery")

	ctx := context.Background()
	cookie := &corev1.Secret{}
	require.NoError(t, r.Get(ctx, client.ObjectKey{Namespace: "ns", Name: "rmq1-erlang-cookie"}, cookie))
	assert.Equal(t, "token-1", string(cookie.Data[".erlang.cookie"]))

	conf := &corev1.ConfigMap{}
	require.NoError(t, r.Get(ctx, client.ObjectKey{Namespace: "ns", Name: "rmq1-server-conf"}, conf))
	sts := &appsv1.StatefulSet{}
	require.NoError(t, r.Get(ctx, client.ObjectKey{Namespace: "ns", Name: "rmq1-server"}, sts))
	assert.Equal(t, conf.ResourceVersion, sts.Spec.Template.Annotations[v1alpha1.LastRestartAtAnnotation])
}

func TestRabbitmqClusterReconciler_SecondRoundCreatesNothing(t *testing.T) {
	r, recorder := newRabbitmqReconciler(t, test.ExampleRabbitmqCluster("ns"))
	require.NoError(t, reconcileRabbitmq(t, r))
	drain(recorder)

	require.NoError(t, reconcileRabbitmq(t, r))
	assert.NotContains(t, reasons(drain(recorder)), "SuccessfulCreate")

	cookie := &corev1.Secret{}
	require.NoError(t, r.Get(context.Background(), client.ObjectKey{Namespace: "ns", Name: "rmq1-erlang-cookie"}, cookie))
	assert.Equal(t, "token-1", string(cookie.Data[".erlang.cookie"]), "the cookie is generated once")
}

func TestRabbitmqClusterReconciler_ScaleDownFails(t *testing.T) {
	cr := test.ExampleRabbitmqCluster("ns")
	r, recorder := newRabbitmqReconciler(t, cr)
	require.NoError(t, reconcileRabbitmq(t, r))
	drain(recorder)

	current := &v1alpha1.RabbitmqCluster{}
	require.NoError(t, r.Get(context.Background(), client.ObjectKeyFromObject(cr), current))
	current.Spec.Replicas = ptr.To[int32](1)
	require.NoError(t, r.Update(context.Background(), current))

	assert.Error(t, reconcileRabbitmq(t, r))
	events := drain(recorder)
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1], "Warning ReconcileFailed Reconcile failed at AfterStep(Get, StatefulSet)")
	assert.Contains(t, events[len(events)-1], "scaling down a RabbitmqCluster is not supported")
}

func TestRabbitmqClusterReconciler_OldImageRefused(t *testing.T) {
	cr := test.ExampleRabbitmqCluster("ns")
	cr.Spec.Image = "rabbitmq:3.7.28-management"
	r, recorder := newRabbitmqReconciler(t, cr)

	assert.Error(t, reconcileRabbitmq(t, r))
	assert.Equal(t, []string{"InvalidSpec"}, reasons(drain(recorder)))
}

func TestDescribeRabbitmqCluster(t *testing.T) {
	cr := test.ExampleRabbitmqCluster("ns")
	assert.Equal(t, []interface{}{
		"replicas", int32(3),
		"image", cr.Spec.Image,
		"storage", "10 GiB",
	}, describeRabbitmqCluster(cr))
}
