package rabbitmqcluster

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
	HeadlessService    reconciler.Tag = "HeadlessService"
	Service            reconciler.Tag = "Service"
	ErlangCookieSecret reconciler.Tag = "ErlangCookieSecret"
	DefaultUserSecret  reconciler.Tag = "DefaultUserSecret"
	PluginsConfigMap   reconciler.Tag = "PluginsConfigMap"
	ServerConfigMap    reconciler.Tag = "ServerConfigMap"
	ServiceAccount     reconciler.Tag = "ServiceAccount"
	Role               reconciler.Tag = "Role"
	RoleBinding        reconciler.Tag = "RoleBinding"
	StatefulSet        reconciler.Tag = "StatefulSet"
)

type cluster = *v1alpha1.RabbitmqCluster

func key(name func(cluster) string) func(cluster) client.ObjectKey {
	return func(cr cluster) client.ObjectKey {
		return client.ObjectKey{Namespace: cr.Namespace, Name: name(cr)}
	}
}

// simple is a sub-resource whose desired state depends on the spec alone.
func simple[O client.Object](
	tag reconciler.Tag,
	newObject func() O,
	name func(cluster) string,
	build func(cluster) O,
	update func(observed, desired O) (O, error),
) *reconciler.SubResource[cluster, O] {
	return &reconciler.SubResource[cluster, O]{
		Tag: tag,
		New: newObject,
		Key: key(name),
		Make: func(cr cluster, _ *reconciler.State) (O, error) {
			return build(cr), nil
		},
		Update: func(cr cluster, _ *reconciler.State, observed O) (O, error) {
			return update(observed, build(cr))
		},
	}
}

func secret(tag reconciler.Tag, name func(cluster) string, token TokenGenerator,
	build func(cluster, TokenGenerator) (*corev1.Secret, error),
	update func(cluster, TokenGenerator, *corev1.Secret) (*corev1.Secret, error),
) *reconciler.SubResource[cluster, *corev1.Secret] {
	return &reconciler.SubResource[cluster, *corev1.Secret]{
		Tag: tag,
		New: func() *corev1.Secret { return &corev1.Secret{} },
		Key: key(name),
		Make: func(cr cluster, _ *reconciler.State) (*corev1.Secret, error) {
			return build(cr, token)
		},
		Update: func(cr cluster, _ *reconciler.State, observed *corev1.Secret) (*corev1.Secret, error) {
			return update(cr, token, observed)
		},
	}
}

func recordConfigMapRV(_ cluster, st *reconciler.State, cm *corev1.ConfigMap) error {
	st.Threaded.LatestConfigMapRV = ptr.To(cm.ResourceVersion)
	return nil
}

func newService() *corev1.Service { return &corev1.Service{} }

func newConfigMap() *corev1.ConfigMap { return &corev1.ConfigMap{} }

// Stages is the RabbitmqCluster pipeline. token supplies the erlang cookie and the
// default user credentials of new clusters.
func Stages(token TokenGenerator) []reconciler.Stage[cluster] {
	serverConfigMap := simple(ServerConfigMap, newConfigMap, ServerConfigMapName, makeServerConfigMap, updateConfigMap)
	serverConfigMap.AfterCreate = recordConfigMapRV
	serverConfigMap.AfterUpdate = recordConfigMapRV

	return []reconciler.Stage[cluster]{
		simple(HeadlessService, newService, HeadlessServiceName, makeHeadlessService, updateService),
		simple(Service, newService, ServiceName, makeService, updateService),
		secret(ErlangCookieSecret, ErlangCookieSecretName, token, makeErlangCookieSecret, updateErlangCookieSecret),
		secret(DefaultUserSecret, DefaultUserSecretName, token, makeDefaultUserSecret, updateDefaultUserSecret),
		simple(PluginsConfigMap, newConfigMap, PluginsConfigMapName, makePluginsConfigMap, updateConfigMap),
		serverConfigMap,
		simple(ServiceAccount, func() *corev1.ServiceAccount { return &corev1.ServiceAccount{} },
			ServiceAccountName, makeServiceAccount, updateServiceAccount),
		simple(Role, func() *rbacv1.Role { return &rbacv1.Role{} }, RoleName, makeRole, updateRole),
		simple(RoleBinding, func() *rbacv1.RoleBinding { return &rbacv1.RoleBinding{} },
			RoleBindingName, makeRoleBinding, updateRoleBinding),
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
		},
	}
}

// NewMachine returns the RabbitmqCluster state machine.
func NewMachine(token TokenGenerator) *reconciler.Machine[cluster] {
	return reconciler.NewMachine[cluster](Stages(token)...)
}
