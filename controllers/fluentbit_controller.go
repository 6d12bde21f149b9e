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
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/controllers/fluentbit"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

const (
	fluentbitConfigNameSpecField = "spec.fluentbitConfigName"
)

var fluentBitMachine = fluentbit.NewMachine()

// FluentBitReconciler reconciles a FluentBit object
type FluentBitReconciler struct {
	client.Client
	Log      logr.Logger
	Recorder record.EventRecorder

	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=anvil.dev,resources=fluentbits,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=secrets,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=serviceaccounts,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=rbac.authorization.k8s.io,resources=roles;rolebindings,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=apps,resources=daemonsets,verbs=get;list;watch;create;update
// +kubebuilder:rbac:groups=core,resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

func (r *FluentBitReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("fluentbit", req.NamespacedName)
	driver := &reconciler.Driver[*v1alpha1.FluentBit]{
		Client:   r.Client,
		Recorder: r.Recorder,
		Machine:  fluentBitMachine,
		Kind:     v1alpha1.FluentBitKind,
	}
	return reconcileRound(ctx, log, r.Client, r.Recorder, driver, req.NamespacedName,
		&v1alpha1.FluentBit{}, nil)
}

// requestsForConfigSecret maps a Secret to the FluentBit resources configured by it, so
// that configuration edits and late-created Secrets trigger a round.
func (r *FluentBitReconciler) requestsForConfigSecret(ctx context.Context, secret client.Object) []reconcile.Request {
	agents := &v1alpha1.FluentBitList{}
	if err := r.List(ctx, agents,
		client.InNamespace(secret.GetNamespace()),
		client.MatchingFields{fluentbitConfigNameSpecField: secret.GetName()},
	); err != nil {
		r.Log.Error(err, "unable to list FluentBit resources for Secret", "secret", client.ObjectKeyFromObject(secret))
		return nil
	}
	requests := make([]reconcile.Request, 0, len(agents.Items))
	for _, agent := range agents.Items {
		requests = append(requests, reconcile.Request{NamespacedName: client.ObjectKeyFromObject(&agent)})
	}
	return requests
}

func indexFluentbitConfigName(obj client.Object) []string {
	agent, ok := obj.(*v1alpha1.FluentBit)
	if !ok {
		return nil
	}
	return []string{agent.Spec.FluentbitConfigName}
}

func (r *FluentBitReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if err := mgr.GetFieldIndexer().IndexField(context.Background(), &v1alpha1.FluentBit{},
		fluentbitConfigNameSpecField, indexFluentbitConfigName); err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.FluentBit{}).
		Owns(&corev1.ServiceAccount{}).
		Owns(&rbacv1.Role{}).
		Owns(&rbacv1.RoleBinding{}).
		Owns(&appsv1.DaemonSet{}).
		Watches(&corev1.Secret{}, handler.EnqueueRequestsFromMapFunc(r.requestsForConfigSecret)).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
