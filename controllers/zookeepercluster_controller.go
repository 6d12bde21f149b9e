package controllers

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/controllers/zookeepercluster"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

var zookeeperMachine = zookeepercluster.NewMachine()

// ZookeeperClusterReconciler reconciles a ZookeeperCluster object
type ZookeeperClusterReconciler struct {
	client.Client
	Log      logr.Logger
	Recorder record.EventRecorder

	ZooKeeper               zookeeper.APIBuilder
	ZooKeeperSessionTimeout time.Duration
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=anvil.dev,resources=zookeeperclusters,verbs=get;list;watch
// +kubebuilder:rbac:groups=anvil.dev,resources=zookeeperclusters/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=core,resources=services;configmaps,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=apps,resources=statefulsets,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

func (r *ZookeeperClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("zookeepercluster", req.NamespacedName)
	return reconcileRound(ctx, log, r.Client, r.Recorder, r.driver(), req.NamespacedName,
		&v1alpha1.ZookeeperCluster{}, describeZookeeperCluster)
}

func (r *ZookeeperClusterReconciler) driver() *reconciler.Driver[*v1alpha1.ZookeeperCluster] {
	return &reconciler.Driver[*v1alpha1.ZookeeperCluster]{
		Client:                  r.Client,
		Recorder:                r.Recorder,
		Machine:                 zookeeperMachine,
		Kind:                    v1alpha1.ZookeeperClusterKind,
		ZooKeeper:               r.ZooKeeper,
		ZooKeeperSessionTimeout: r.ZooKeeperSessionTimeout,
	}
}

func describeZookeeperCluster(cluster *v1alpha1.ZookeeperCluster) []interface{} {
	values := []interface{}{"replicas", *cluster.Spec.Replicas, "image", cluster.Spec.Image}
	if cluster.Spec.Persistence.Enabled {
		values = append(values, "storage", storageSize(cluster.Spec.Persistence.StorageSize))
	}
	return values
}

func (r *ZookeeperClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.ZookeeperCluster{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&appsv1.StatefulSet{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}

// storageSize renders a quantity for logs, e.g. "20 GiB".
func storageSize(q string) string {
	size, err := resource.ParseQuantity(q)
	if err != nil {
		return q
	}
	return humanize.IBytes(uint64(size.Value()))
}
