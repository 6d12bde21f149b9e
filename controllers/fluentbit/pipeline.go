package fluentbit

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

const (
	// ConfigSecret is the user's configuration. It is read, never written.
	ConfigSecret   reconciler.Tag = "ConfigSecret"
	Role           reconciler.Tag = "Role"
	ServiceAccount reconciler.Tag = "ServiceAccount"
	RoleBinding    reconciler.Tag = "RoleBinding"
	DaemonSet      reconciler.Tag = "DaemonSet"
)

type agent = *v1alpha1.FluentBit

func key(name func(agent) string) func(agent) client.ObjectKey {
	return func(cr agent) client.ObjectKey {
		return client.ObjectKey{Namespace: cr.Namespace, Name: name(cr)}
	}
}

func simple[O client.Object](
	tag reconciler.Tag,
	newObject func() O,
	name func(agent) string,
	build func(agent) O,
	update func(observed, desired O) (O, error),
) *reconciler.SubResource[agent, O] {
	return &reconciler.SubResource[agent, O]{
		Tag: tag,
		New: newObject,
		Key: key(name),
		Make: func(cr agent, _ *reconciler.State) (O, error) {
			return build(cr), nil
		},
		Update: func(cr agent, _ *reconciler.State, observed O) (O, error) {
			return update(observed, build(cr))
		},
	}
}

// Stages is the FluentBit pipeline. The config Secret's resource version stamps the pod
// template so that edits to the configuration roll the agents.
func Stages() []reconciler.Stage[agent] {
	return []reconciler.Stage[agent]{
		&reconciler.SubResource[agent, *corev1.Secret]{
			Tag:      ConfigSecret,
			New:      func() *corev1.Secret { return &corev1.Secret{} },
			Key:      key(ConfigSecretName),
			ReadOnly: true,
			AfterGet: func(_ agent, st *reconciler.State, observed *corev1.Secret) error {
				st.Threaded.LatestConfigMapRV = ptr.To(observed.ResourceVersion)
				return nil
			},
		},
		simple(Role, func() *rbacv1.Role { return &rbacv1.Role{} }, RoleName, makeRole, updateRole),
		simple(ServiceAccount, func() *corev1.ServiceAccount { return &corev1.ServiceAccount{} },
			ServiceAccountName, makeServiceAccount, updateServiceAccount),
		simple(RoleBinding, func() *rbacv1.RoleBinding { return &rbacv1.RoleBinding{} },
			RoleBindingName, makeRoleBinding, updateRoleBinding),
		&reconciler.SubResource[agent, *appsv1.DaemonSet]{
			Tag:  DaemonSet,
			New:  func() *appsv1.DaemonSet { return &appsv1.DaemonSet{} },
			Key:  key(DaemonSetName),
			Make: makeDaemonSet,
			Update: func(cr agent, st *reconciler.State, observed *appsv1.DaemonSet) (*appsv1.DaemonSet, error) {
				desired, err := makeDaemonSet(cr, st)
				if err != nil {
					return nil, err
				}
				return updateDaemonSet(observed, desired)
			},
		},
	}
}

// NewMachine returns the FluentBit state machine.
func NewMachine() *reconciler.Machine[agent] {
	return reconciler.NewMachine[agent](Stages()...)
}
