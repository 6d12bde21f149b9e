package zookeepercluster

import (
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

const (
	HeadlessService    reconciler.Tag = "HeadlessService"
	ClientService      reconciler.Tag = "ClientService"
	AdminServerService reconciler.Tag = "AdminServerService"
	ConfigMap          reconciler.Tag = "ConfigMap"
	// ExistsStatefulSet is the ownership probe that precedes the znode update.
	ExistsStatefulSet reconciler.Tag = "ExistsStatefulSet"
	StatefulSet       reconciler.Tag = "StatefulSet"
)

type cluster = *v1alpha1.ZookeeperCluster

func key(name func(cluster) string) func(cluster) client.ObjectKey {
	return func(cr cluster) client.ObjectKey {
		return client.ObjectKey{Namespace: cr.Namespace, Name: name(cr)}
	}
}

func service(tag reconciler.Tag, name func(cluster) string, build func(cluster) *corev1.Service) *reconciler.SubResource[cluster, *corev1.Service] {
	return &reconciler.SubResource[cluster, *corev1.Service]{
		Tag: tag,
		New: func() *corev1.Service { return &corev1.Service{} },
		Key: key(name),
		Make: func(cr cluster, _ *reconciler.State) (*corev1.Service, error) {
			return build(cr), nil
		},
		Update: func(cr cluster, _ *reconciler.State, observed *corev1.Service) (*corev1.Service, error) {
			return updateService(observed, build(cr))
		},
	}
}

func recordConfigMapRV(_ cluster, st *reconciler.State, cm *corev1.ConfigMap) error {
	st.Threaded.LatestConfigMapRV = ptr.To(cm.ResourceVersion)
	return nil
}

func recordReadyReplicas(_ cluster, st *reconciler.State, sts *appsv1.StatefulSet) error {
	st.Threaded.ReadyReplicas = ptr.To(readyReplicas(sts))
	return nil
}

// Stages is the ZookeeperCluster pipeline. The znode holding the ensemble size is
// written before the StatefulSet so that servers added by a scale up find the new size.
func Stages() []reconciler.Stage[cluster] {
	return []reconciler.Stage[cluster]{
		service(HeadlessService, HeadlessServiceName, makeHeadlessService),
		service(ClientService, ClientServiceName, makeClientService),
		service(AdminServerService, AdminServerServiceName, makeAdminServerService),
		&reconciler.SubResource[cluster, *corev1.ConfigMap]{
			Tag: ConfigMap,
			New: func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
			Key: key(ConfigMapName),
			Make: func(cr cluster, _ *reconciler.State) (*corev1.ConfigMap, error) {
				return makeConfigMap(cr), nil
			},
			Update: func(cr cluster, _ *reconciler.State, observed *corev1.ConfigMap) (*corev1.ConfigMap, error) {
				return updateConfigMap(observed, makeConfigMap(cr))
			},
			AfterCreate: recordConfigMapRV,
			AfterUpdate: recordConfigMapRV,
		},
		&reconciler.ZNodeStage[cluster]{
			Probe:    ExistsStatefulSet,
			ProbeKey: key(StatefulSetName),
			New:      func() client.Object { return &appsv1.StatefulSet{} },
			Owner:    owner,
			Target: func(cr cluster) zookeeper.Target {
				return zookeeper.Target{Host: ClientServiceName(cr), Namespace: cr.Namespace, Port: cr.Spec.Ports.Client}
			},
			Path: ZNodePath,
			Data: ZNodeData,
		},
		&reconciler.SubResource[cluster, *appsv1.StatefulSet]{
			Tag:  StatefulSet,
			New:  func() *appsv1.StatefulSet { return &appsv1.StatefulSet{} },
			Key:  key(StatefulSetName),
			Make: makeStatefulSet,
			Update: func(cr cluster, st *reconciler.State, observed *appsv1.StatefulSet) (*appsv1.StatefulSet, error) {
				desired, err := makeStatefulSet(cr, st)
				if err != nil {
					return nil, err
				}
				return updateStatefulSet(observed, desired)
			},
			// A new StatefulSet has no ready replicas yet.
			AfterCreate: func(_ cluster, st *reconciler.State, _ *appsv1.StatefulSet) error {
				st.Threaded.ReadyReplicas = ptr.To[int32](0)
				return nil
			},
			AfterUpdate: recordReadyReplicas,
		},
		&reconciler.StatusStage[cluster]{
			Apply: func(cr cluster, st *reconciler.State) (cluster, error) {
				if st.Threaded.ReadyReplicas == nil {
					return nil, errors.Wrap(reconciler.ErrMissingSlot, "ready replicas")
				}
				updated := cr.DeepCopy()
				updated.Status.ReadyReplicas = *st.Threaded.ReadyReplicas
				return updated, nil
			},
		},
	}
}

// NewMachine returns the ZookeeperCluster state machine.
func NewMachine() *reconciler.Machine[cluster] {
	return reconciler.NewMachine[cluster](Stages()...)
}
