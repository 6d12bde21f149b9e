package controllers

import (
	"context"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/controllers/rabbitmqcluster"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

// RabbitmqClusterReconciler reconciles a RabbitmqCluster object
type RabbitmqClusterReconciler struct {
	client.Client
	Log      logr.Logger
	Recorder record.EventRecorder

	// Token generates erlang cookies and default user credentials. It defaults to
	// rabbitmqcluster.RandomToken.
	Token                   rabbitmqcluster.TokenGenerator
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=anvil.dev,resources=rabbitmqclusters,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=services;configmaps;secrets;serviceaccounts,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=rbac.authorization.k8s.io,resources=roles;rolebindings,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=apps,resources=statefulsets,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=core,resources=endpoints,verbs=get
// +kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

func (r *RabbitmqClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("rabbitmqcluster", req.NamespacedName)
	return reconcileRound(ctx, log, r.Client, r.Recorder, r.driver(), req.NamespacedName,
		&v1alpha1.RabbitmqCluster{}, describeRabbitmqCluster)
}

func (r *RabbitmqClusterReconciler) driver() *reconciler.Driver[*v1alpha1.RabbitmqCluster] {
	token := r.Token
	if token == nil {
		token = rabbitmqcluster.RandomToken
	}
	return &reconciler.Driver[*v1alpha1.RabbitmqCluster]{
		Client:   r.Client,
		Recorder: r.Recorder,
		Machine:  rabbitmqcluster.NewMachine(token),
		Kind:     v1alpha1.RabbitmqClusterKind,
	}
}

func describeRabbitmqCluster(cluster *v1alpha1.RabbitmqCluster) []interface{} {
	return []interface{}{
		"replicas", *cluster.Spec.Replicas,
		"image", cluster.Spec.Image,
		"storage", storageSize(cluster.Spec.Persistence.Storage),
	}
}

func (r *RabbitmqClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.RabbitmqCluster{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.Secret{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&corev1.ServiceAccount{}).
		Owns(&rbacv1.Role{}).
		Owns(&rbacv1.RoleBinding{}).
		Owns(&appsv1.StatefulSet{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
