package controllers

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/internal/reconciler"
	"github.com/anvil-dev/middleware-operators/internal/reconcilerevent"
)

// roundTimeout bounds a whole round, including ZooKeeper session setup.
const roundTimeout = 30 * time.Second

// roundResource is a custom resource reconciled by a state machine round.
type roundResource interface {
	client.Object
	Default()
	Validate() error
}

// reconcileRound reads the resource into cr and runs one round of driver for it.
// describe, if set, returns log values summarising the defaulted resource.
// Failed rounds are returned as errors so that the controller runtime requeues them
// with backoff.
func reconcileRound[T roundResource](
	ctx context.Context,
	log logr.Logger,
	c client.Client,
	recorder record.EventRecorder,
	driver *reconciler.Driver[T],
	key types.NamespacedName,
	cr T,
	describe func(T) []interface{},
) (ctrl.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	if err := c.Get(ctx, key, cr); err != nil {
		if apierrors.IsNotFound(err) {
			log.V(1).Info("Resource not found, it may have been deleted")
			return ctrl.Result{}, nil
		}
		log.Error(err, "unable to fetch resource")
		return ctrl.Result{}, err
	}
	// Owner references cascade the deletion of sub-resources.
	if !cr.GetDeletionTimestamp().IsZero() {
		log.V(1).Info("Resource is being deleted")
		return ctrl.Result{}, nil
	}

	cr.Default()
	if err := cr.Validate(); err != nil {
		log.Error(err, "Invalid spec")
		(&reconcilerevent.InvalidSpecEvent{Object: cr, Err: err}).Record(recorder)
		return ctrl.Result{}, err
	}

	if describe != nil {
		log.V(1).Info("Reconciling", describe(cr)...)
	}
	if _, err := driver.Run(ctx, log, cr); err != nil {
		log.Error(err, "Reconcile round failed")
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}
