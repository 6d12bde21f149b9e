// Package rabbitmqcluster holds the sub-resource builders and the reconcile pipeline of
// RabbitmqCluster resources.
package rabbitmqcluster

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/envvar"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

const (
	erlangCookieKey        = ".erlang.cookie"
	defaultUserConfKey     = "default_user.conf"
	enabledPluginsKey      = "enabled_plugins"
	operatorDefaultsKey    = "operatorDefaults.conf"
	userDefinedConfigKey   = "userDefinedConfiguration.conf"
	advancedConfigKey      = "advanced.config"
	envConfigKey           = "rabbitmq-env.conf"
	persistenceVolumeName  = "persistence"
	rabbitmqContainerName  = "rabbitmq"
	setupContainerName     = "setup-container"
	terminationGracePeriod = int64(604800)

	// tokenBytes is the entropy of generated cookies and credentials.
	tokenBytes = 24
)

var (
	ErrScaleDown = errors.New("scaling down a RabbitmqCluster is not supported")

	enabledPlugins = []string{
		"rabbitmq_peer_discovery_k8s",
		"rabbitmq_prometheus",
		"rabbitmq_management",
	}
)

// TokenGenerator returns a fresh secret value.
type TokenGenerator func() (string, error)

// RandomToken is a URL-safe encoding of 24 bytes from crypto/rand.
func RandomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func HeadlessServiceName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-nodes"
}

func ServiceName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name
}

func ErlangCookieSecretName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-erlang-cookie"
}

func DefaultUserSecretName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-default-user"
}

func PluginsConfigMapName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-plugins-conf"
}

func ServerConfigMapName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-server-conf"
}

func ServiceAccountName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-server"
}

func RoleName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-peer-discovery"
}

func RoleBindingName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-server"
}

func StatefulSetName(cr *v1alpha1.RabbitmqCluster) string {
	return cr.Name + "-server"
}

func owner(cr *v1alpha1.RabbitmqCluster) metav1.OwnerReference {
	return reconciler.ControllerRef(cr, v1alpha1.GroupVersion.WithKind(v1alpha1.RabbitmqClusterKind))
}

func objectMeta(cr *v1alpha1.RabbitmqCluster, name string) metav1.ObjectMeta {
	return reconciler.ObjectMeta(name, cr.Namespace, owner(cr),
		reconciler.Labels(cr.Spec.Labels, cr.Name),
		reconciler.Annotations(cr.Spec.Annotations))
}

func selector(cr *v1alpha1.RabbitmqCluster) map[string]string {
	return map[string]string{v1alpha1.AppLabel: cr.Name}
}

func servicePort(name string, port int32) corev1.ServicePort {
	return corev1.ServicePort{
		Name:       name,
		Protocol:   corev1.ProtocolTCP,
		Port:       port,
		TargetPort: intstr.FromInt32(port),
	}
}

func makeHeadlessService(cr *v1alpha1.RabbitmqCluster) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: objectMeta(cr, HeadlessServiceName(cr)),
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Ports: []corev1.ServicePort{
				servicePort("epmd", v1alpha1.RabbitmqEPMDPort),
				servicePort("cluster-rpc", v1alpha1.RabbitmqDistributionPort),
			},
			Selector:                 selector(cr),
			PublishNotReadyAddresses: true,
		},
	}
}

func makeService(cr *v1alpha1.RabbitmqCluster) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: objectMeta(cr, ServiceName(cr)),
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{
				servicePort("amqp", v1alpha1.RabbitmqAMQPPort),
				servicePort("management", v1alpha1.RabbitmqManagementPort),
				servicePort("prometheus", v1alpha1.RabbitmqPrometheusPort),
			},
			Selector: selector(cr),
		},
	}
}

func updateService(observed, desired *corev1.Service) (*corev1.Service, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Spec.Ports = desired.Spec.Ports
	observed.Spec.Selector = desired.Spec.Selector
	observed.Spec.PublishNotReadyAddresses = desired.Spec.PublishNotReadyAddresses
	return observed, nil
}

func makeErlangCookieSecret(cr *v1alpha1.RabbitmqCluster, token TokenGenerator) (*corev1.Secret, error) {
	cookie, err := token()
	if err != nil {
		return nil, errors.Wrap(err, "generating erlang cookie")
	}
	return &corev1.Secret{
		ObjectMeta: objectMeta(cr, ErlangCookieSecretName(cr)),
		Type:       corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			erlangCookieKey: []byte(cookie),
		},
	}, nil
}

// updateErlangCookieSecret keeps an existing cookie. Changing it would split the cluster.
func updateErlangCookieSecret(cr *v1alpha1.RabbitmqCluster, token TokenGenerator, observed *corev1.Secret) (*corev1.Secret, error) {
	if err := reconciler.Adopt(observed, objectMeta(cr, ErlangCookieSecretName(cr))); err != nil {
		return nil, err
	}
	if len(observed.Data[erlangCookieKey]) > 0 {
		return observed, nil
	}
	desired, err := makeErlangCookieSecret(cr, token)
	if err != nil {
		return nil, err
	}
	observed.Data = desired.Data
	return observed, nil
}

func defaultUserData(cr *v1alpha1.RabbitmqCluster, username, password string) map[string][]byte {
	return map[string][]byte{
		"username":         []byte(username),
		"password":         []byte(password),
		defaultUserConfKey: []byte(fmt.Sprintf("default_user = %s\ndefault_pass = %s\n", username, password)),
		"host":             []byte(fmt.Sprintf("%s.%s.svc", ServiceName(cr), cr.Namespace)),
		"port":             []byte(fmt.Sprint(v1alpha1.RabbitmqAMQPPort)),
		"provider":         []byte("rabbitmq"),
		"type":             []byte("rabbitmq"),
	}
}

func makeDefaultUserSecret(cr *v1alpha1.RabbitmqCluster, token TokenGenerator) (*corev1.Secret, error) {
	user, err := token()
	if err != nil {
		return nil, errors.Wrap(err, "generating default user name")
	}
	password, err := token()
	if err != nil {
		return nil, errors.Wrap(err, "generating default user password")
	}
	return &corev1.Secret{
		ObjectMeta: objectMeta(cr, DefaultUserSecretName(cr)),
		Type:       corev1.SecretTypeOpaque,
		Data:       defaultUserData(cr, "default_user_"+user, password),
	}, nil
}

// updateDefaultUserSecret keeps existing credentials and rewrites the derived keys.
func updateDefaultUserSecret(cr *v1alpha1.RabbitmqCluster, token TokenGenerator, observed *corev1.Secret) (*corev1.Secret, error) {
	if err := reconciler.Adopt(observed, objectMeta(cr, DefaultUserSecretName(cr))); err != nil {
		return nil, err
	}
	user, password := observed.Data["username"], observed.Data["password"]
	if len(user) == 0 || len(password) == 0 {
		desired, err := makeDefaultUserSecret(cr, token)
		if err != nil {
			return nil, err
		}
		observed.Data = desired.Data
		return observed, nil
	}
	observed.Data = defaultUserData(cr, string(user), string(password))
	return observed, nil
}

func makePluginsConfigMap(cr *v1alpha1.RabbitmqCluster) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: objectMeta(cr, PluginsConfigMapName(cr)),
		Data: map[string]string{
			enabledPluginsKey: "[" + strings.Join(enabledPlugins, ",") + "].",
		},
	}
}

func makeServerConfigMap(cr *v1alpha1.RabbitmqCluster) *corev1.ConfigMap {
	defaults := strings.Join([]string{
		"queue_master_locator = min-masters",
		"disk_free_limit.absolute = 2GB",
		"cluster_partition_handling = pause_minority",
		"cluster_formation.peer_discovery_backend = rabbit_peer_discovery_k8s",
		"cluster_formation.k8s.host = kubernetes.default",
		"cluster_formation.k8s.address_type = hostname",
		fmt.Sprintf("cluster_formation.target_cluster_size_hint = %d", *cr.Spec.Replicas),
		"cluster_name = " + cr.Name,
		"",
	}, "\n")

	data := map[string]string{
		operatorDefaultsKey:  defaults,
		userDefinedConfigKey: "",
	}
	if c := cr.Spec.RabbitmqConfig; c != nil {
		data[userDefinedConfigKey] = c.AdditionalConfig
		if c.AdvancedConfig != "" {
			data[advancedConfigKey] = c.AdvancedConfig
		}
		if c.EnvConfig != "" {
			data[envConfigKey] = c.EnvConfig
		}
	}
	return &corev1.ConfigMap{
		ObjectMeta: objectMeta(cr, ServerConfigMapName(cr)),
		Data:       data,
	}
}

func updateConfigMap(observed, desired *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Data = desired.Data
	return observed, nil
}

func makeServiceAccount(cr *v1alpha1.RabbitmqCluster) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: objectMeta(cr, ServiceAccountName(cr)),
	}
}

// updateServiceAccount only adopts. Token secrets are managed by Kubernetes.
func updateServiceAccount(observed, desired *corev1.ServiceAccount) (*corev1.ServiceAccount, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	return observed, nil
}

func makeRole(cr *v1alpha1.RabbitmqCluster) *rbacv1.Role {
	return &rbacv1.Role{
		ObjectMeta: objectMeta(cr, RoleName(cr)),
		Rules: []rbacv1.PolicyRule{
			{
				APIGroups: []string{""},
				Resources: []string{"endpoints"},
				Verbs:     []string{"get"},
			},
			{
				APIGroups: []string{""},
				Resources: []string{"events"},
				Verbs:     []string{"create"},
			},
		},
	}
}

func updateRole(observed, desired *rbacv1.Role) (*rbacv1.Role, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Rules = desired.Rules
	return observed, nil
}

func makeRoleBinding(cr *v1alpha1.RabbitmqCluster) *rbacv1.RoleBinding {
	return &rbacv1.RoleBinding{
		ObjectMeta: objectMeta(cr, RoleBindingName(cr)),
		RoleRef: rbacv1.RoleRef{
			APIGroup: rbacv1.GroupName,
			Kind:     "Role",
			Name:     RoleName(cr),
		},
		Subjects: []rbacv1.Subject{
			{
				Kind:      rbacv1.ServiceAccountKind,
				Name:      ServiceAccountName(cr),
				Namespace: cr.Namespace,
			},
		},
	}
}

// updateRoleBinding overwrites the subjects. The role reference is immutable.
func updateRoleBinding(observed, desired *rbacv1.RoleBinding) (*rbacv1.RoleBinding, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Subjects = desired.Subjects
	return observed, nil
}

func makeStatefulSet(cr *v1alpha1.RabbitmqCluster, st *reconciler.State) (*appsv1.StatefulSet, error) {
	rv := st.Threaded.LatestConfigMapRV
	if rv == nil {
		return nil, errors.Wrap(reconciler.ErrMissingSlot, "server ConfigMap resource version")
	}
	claim, err := persistenceClaim(cr)
	if err != nil {
		return nil, err
	}
	sts := &appsv1.StatefulSet{
		ObjectMeta: objectMeta(cr, StatefulSetName(cr)),
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr.To(*cr.Spec.Replicas),
			ServiceName: HeadlessServiceName(cr),
			Selector: &metav1.LabelSelector{
				MatchLabels: selector(cr),
			},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
				Type: appsv1.RollingUpdateStatefulSetStrategyType,
			},
			PodManagementPolicy:  cr.Spec.PodManagementPolicy,
			Template:             podTemplate(cr, *rv),
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{*claim},
		},
	}
	if p := cr.Spec.PersistentVolumeClaimRetentionPolicy; p != nil {
		sts.Spec.PersistentVolumeClaimRetentionPolicy = p.DeepCopy()
	}
	return sts, nil
}

// updateStatefulSet refuses to remove nodes: a RabbitMQ node leaving without being
// drained loses its queue replicas.
func updateStatefulSet(observed, desired *appsv1.StatefulSet) (*appsv1.StatefulSet, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	if observed.Spec.Replicas != nil && *desired.Spec.Replicas < *observed.Spec.Replicas {
		return nil, errors.Wrapf(ErrScaleDown, "from %d to %d replicas", *observed.Spec.Replicas, *desired.Spec.Replicas)
	}
	observed.Spec.Replicas = desired.Spec.Replicas
	observed.Spec.Template = desired.Spec.Template
	observed.Spec.PersistentVolumeClaimRetentionPolicy = desired.Spec.PersistentVolumeClaimRetentionPolicy
	return observed, nil
}

func persistenceClaim(cr *v1alpha1.RabbitmqCluster) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(cr.Spec.Persistence.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "parsing persistence storage")
	}
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   persistenceVolumeName,
			Labels: selector(cr),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: cr.Spec.Persistence.StorageClassName,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: size,
				},
			},
		},
	}, nil
}

const setupScript = "cp /tmp/erlang-cookie-secret/.erlang.cookie /var/lib/rabbitmq/.erlang.cookie " +
	"&& chmod 600 /var/lib/rabbitmq/.erlang.cookie " +
	"; cp /tmp/rabbitmq-plugins/enabled_plugins /operator/enabled_plugins " +
	"; echo '[default]' > /var/lib/rabbitmq/.rabbitmqadmin.conf " +
	"&& sed -e 's/default_user/username/' -e 's/default_pass/password/' /tmp/default_user.conf >> /var/lib/rabbitmq/.rabbitmqadmin.conf " +
	"&& chmod 600 /var/lib/rabbitmq/.rabbitmqadmin.conf"

func podTemplate(cr *v1alpha1.RabbitmqCluster, configRV string) corev1.PodTemplateSpec {
	annotations := reconciler.Annotations(cr.Spec.Annotations)
	annotations[v1alpha1.LastRestartAtAnnotation] = configRV

	rabbitmq := corev1.Container{
		Name:            rabbitmqContainerName,
		Image:           cr.Spec.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Env: []corev1.EnvVar{
			fieldEnv(envvar.PodName, "metadata.name"),
			fieldEnv(envvar.PodNamespace, "metadata.namespace"),
			{Name: envvar.K8sServiceName, Value: HeadlessServiceName(cr)},
			{Name: envvar.RabbitmqUseLongName, Value: "true"},
			{
				Name: envvar.RabbitmqNodeName,
				Value: fmt.Sprintf("rabbit@$(%s).$(%s).$(%s)",
					envvar.PodName, envvar.K8sServiceName, envvar.PodNamespace),
			},
			{
				Name:  envvar.K8sHostnameSuffix,
				Value: fmt.Sprintf(".$(%s).$(%s)", envvar.K8sServiceName, envvar.PodNamespace),
			},
			{Name: envvar.RabbitmqEnabledPluginsFile, Value: "/operator/enabled_plugins"},
			{Name: envvar.RabbitmqAdvancedConfigFile, Value: "/etc/rabbitmq/extra/" + advancedConfigKey},
			{Name: envvar.RabbitmqConfEnvFile, Value: "/etc/rabbitmq/extra/" + envConfigKey},
		},
		Ports: []corev1.ContainerPort{
			{Name: "epmd", ContainerPort: v1alpha1.RabbitmqEPMDPort, Protocol: corev1.ProtocolTCP},
			{Name: "amqp", ContainerPort: v1alpha1.RabbitmqAMQPPort, Protocol: corev1.ProtocolTCP},
			{Name: "management", ContainerPort: v1alpha1.RabbitmqManagementPort, Protocol: corev1.ProtocolTCP},
			{Name: "prometheus", ContainerPort: v1alpha1.RabbitmqPrometheusPort, Protocol: corev1.ProtocolTCP},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromString("amqp")},
			},
			InitialDelaySeconds: 10,
			PeriodSeconds:       10,
			TimeoutSeconds:      5,
			FailureThreshold:    3,
			SuccessThreshold:    1,
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: persistenceVolumeName, MountPath: v1alpha1.RabbitmqDataMountPath},
			{Name: "rabbitmq-erlang-cookie", MountPath: "/var/lib/rabbitmq/"},
			{Name: "rabbitmq-plugins", MountPath: "/operator"},
			{Name: "rabbitmq-confd", MountPath: "/etc/rabbitmq/conf.d/"},
			{Name: "server-conf", MountPath: "/etc/rabbitmq/extra/"},
		},
	}
	if cr.Spec.Resources != nil {
		rabbitmq.Resources = *cr.Spec.Resources.DeepCopy()
	}

	setup := corev1.Container{
		Name:            setupContainerName,
		Image:           cr.Spec.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         []string{"sh", "-c", setupScript},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "plugins-conf", MountPath: "/tmp/rabbitmq-plugins/"},
			{Name: "rabbitmq-erlang-cookie", MountPath: "/var/lib/rabbitmq/"},
			{Name: "erlang-cookie-secret", MountPath: "/tmp/erlang-cookie-secret/"},
			{Name: "rabbitmq-plugins", MountPath: "/operator"},
			{Name: "persistence", MountPath: v1alpha1.RabbitmqDataMountPath},
			{Name: "rabbitmq-confd", MountPath: "/tmp/default_user.conf", SubPath: defaultUserConfKey},
		},
	}

	spec := corev1.PodSpec{
		ServiceAccountName:            ServiceAccountName(cr),
		TerminationGracePeriodSeconds: ptr.To(terminationGracePeriod),
		InitContainers:                []corev1.Container{setup},
		Containers:                    []corev1.Container{rabbitmq},
		Volumes: []corev1.Volume{
			configMapVolume("plugins-conf", PluginsConfigMapName(cr)),
			configMapVolume("server-conf", ServerConfigMapName(cr)),
			{
				Name: "rabbitmq-confd",
				VolumeSource: corev1.VolumeSource{
					Projected: &corev1.ProjectedVolumeSource{
						Sources: []corev1.VolumeProjection{
							{
								ConfigMap: &corev1.ConfigMapProjection{
									LocalObjectReference: corev1.LocalObjectReference{Name: ServerConfigMapName(cr)},
									Items: []corev1.KeyToPath{
										{Key: operatorDefaultsKey, Path: operatorDefaultsKey},
										{Key: userDefinedConfigKey, Path: userDefinedConfigKey},
									},
								},
							},
							{
								Secret: &corev1.SecretProjection{
									LocalObjectReference: corev1.LocalObjectReference{Name: DefaultUserSecretName(cr)},
									Items: []corev1.KeyToPath{
										{Key: defaultUserConfKey, Path: defaultUserConfKey},
									},
								},
							},
						},
					},
				},
			},
			{
				Name: "erlang-cookie-secret",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{SecretName: ErlangCookieSecretName(cr)},
				},
			},
			emptyDirVolume("rabbitmq-erlang-cookie"),
			emptyDirVolume("rabbitmq-plugins"),
		},
	}
	if cr.Spec.Affinity != nil {
		spec.Affinity = cr.Spec.Affinity.DeepCopy()
	}
	for _, t := range cr.Spec.Tolerations {
		spec.Tolerations = append(spec.Tolerations, *t.DeepCopy())
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      reconciler.Labels(cr.Spec.Labels, cr.Name),
			Annotations: annotations,
		},
		Spec: spec,
	}
}

func fieldEnv(name, path string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			FieldRef: &corev1.ObjectFieldSelector{APIVersion: "v1", FieldPath: path},
		},
	}
}

func configMapVolume(name, configMap string) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: configMap},
			},
		},
	}
}

func emptyDirVolume(name string) corev1.Volume {
	return corev1.Volume{
		Name:         name,
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}
}
