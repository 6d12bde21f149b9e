// Package fluentbit holds the sub-resource builders and the reconcile pipeline of
// FluentBit resources.
package fluentbit

import (
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

const (
	fluentBitContainerName = "fluent-bit"
	configVolumeName       = "config"
	configMountPath        = "/fluent-bit/etc/"
)

// hostPaths are the node directories the agent tails.
var hostPaths = []struct{ name, path string }{
	{"varlog", "/var/log"},
	{"varlibdockercontainers", "/var/lib/docker/containers"},
}

func ConfigSecretName(cr *v1alpha1.FluentBit) string {
	return cr.Spec.FluentbitConfigName
}

func RoleName(cr *v1alpha1.FluentBit) string {
	return cr.Name + "-role"
}

func ServiceAccountName(cr *v1alpha1.FluentBit) string {
	return cr.Name
}

func RoleBindingName(cr *v1alpha1.FluentBit) string {
	return cr.Name + "-role-binding"
}

func DaemonSetName(cr *v1alpha1.FluentBit) string {
	return cr.Name
}

func owner(cr *v1alpha1.FluentBit) metav1.OwnerReference {
	return reconciler.ControllerRef(cr, v1alpha1.GroupVersion.WithKind(v1alpha1.FluentBitKind))
}

func objectMeta(cr *v1alpha1.FluentBit, name string) metav1.ObjectMeta {
	return reconciler.ObjectMeta(name, cr.Namespace, owner(cr),
		reconciler.Labels(cr.Spec.Labels, cr.Name),
		reconciler.Annotations(cr.Spec.Annotations))
}

func selector(cr *v1alpha1.FluentBit) map[string]string {
	return map[string]string{v1alpha1.AppLabel: cr.Name}
}

// makeRole grants the kubernetes filter read access to pod metadata.
func makeRole(cr *v1alpha1.FluentBit) *rbacv1.Role {
	return &rbacv1.Role{
		ObjectMeta: objectMeta(cr, RoleName(cr)),
		Rules: []rbacv1.PolicyRule{
			{
				APIGroups: []string{""},
				Resources: []string{"pods"},
				Verbs:     []string{"get", "list", "watch"},
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

func makeServiceAccount(cr *v1alpha1.FluentBit) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: objectMeta(cr, ServiceAccountName(cr)),
	}
}

func updateServiceAccount(observed, desired *corev1.ServiceAccount) (*corev1.ServiceAccount, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	return observed, nil
}

func makeRoleBinding(cr *v1alpha1.FluentBit) *rbacv1.RoleBinding {
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

func updateRoleBinding(observed, desired *rbacv1.RoleBinding) (*rbacv1.RoleBinding, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Subjects = desired.Subjects
	return observed, nil
}

func makeDaemonSet(cr *v1alpha1.FluentBit, st *reconciler.State) (*appsv1.DaemonSet, error) {
	rv := st.Threaded.LatestConfigMapRV
	if rv == nil {
		return nil, errors.Wrap(reconciler.ErrMissingSlot, "config Secret resource version")
	}
	return &appsv1.DaemonSet{
		ObjectMeta: objectMeta(cr, DaemonSetName(cr)),
		Spec: appsv1.DaemonSetSpec{
			Selector: &metav1.LabelSelector{
				MatchLabels: selector(cr),
			},
			Template: podTemplate(cr, *rv),
		},
	}, nil
}

// updateDaemonSet overwrites the pod template. The selector is immutable.
func updateDaemonSet(observed, desired *appsv1.DaemonSet) (*appsv1.DaemonSet, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Spec.Template = desired.Spec.Template
	return observed, nil
}

func podTemplate(cr *v1alpha1.FluentBit, configRV string) corev1.PodTemplateSpec {
	annotations := reconciler.Annotations(cr.Spec.Annotations)
	annotations[v1alpha1.LastRestartAtAnnotation] = configRV

	container := corev1.Container{
		Name:            fluentBitContainerName,
		Image:           cr.Spec.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Ports: []corev1.ContainerPort{
			{Name: "metrics", ContainerPort: v1alpha1.FluentBitMetricsPort, Protocol: corev1.ProtocolTCP},
		},
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{Path: "/", Port: intstr.FromString("metrics")},
			},
			PeriodSeconds:    10,
			TimeoutSeconds:   1,
			FailureThreshold: 3,
			SuccessThreshold: 1,
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: configVolumeName, MountPath: configMountPath, ReadOnly: true},
		},
	}
	volumes := []corev1.Volume{
		{
			Name: configVolumeName,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: ConfigSecretName(cr)},
			},
		},
	}
	for _, hp := range hostPaths {
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name: hp.name, MountPath: hp.path, ReadOnly: true,
		})
		volumes = append(volumes, corev1.Volume{
			Name: hp.name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: hp.path},
			},
		})
	}
	if cr.Spec.Resources != nil {
		container.Resources = *cr.Spec.Resources.DeepCopy()
	}

	spec := corev1.PodSpec{
		ServiceAccountName: ServiceAccountName(cr),
		Containers:         []corev1.Container{container},
		Volumes:            volumes,
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
