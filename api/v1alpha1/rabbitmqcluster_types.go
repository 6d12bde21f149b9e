package v1alpha1

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RabbitmqClusterPersistence is the volume claim requested by every RabbitMQ node.
type RabbitmqClusterPersistence struct {
	// +optional
	StorageClassName *string `json:"storageClassName,omitempty"`
	// Storage is a quantity, e.g. "10Gi".
	Storage string `json:"storage,omitempty"`
}

// RabbitmqConfig is user supplied configuration appended to the operator defaults.
type RabbitmqConfig struct {
	// Appended to rabbitmq.conf.
	AdditionalConfig string `json:"additionalConfig,omitempty"`
	// Written as advanced.config.
	AdvancedConfig string `json:"advancedConfig,omitempty"`
	// Written as rabbitmq-env.conf.
	EnvConfig string `json:"envConfig,omitempty"`
}

// RabbitmqClusterSpec defines the desired state of RabbitmqCluster
type RabbitmqClusterSpec struct {
	Replicas *int32 `json:"replicas"`
	Image    string `json:"image,omitempty"`

	Persistence RabbitmqClusterPersistence `json:"persistence,omitempty"`
	// +optional
	RabbitmqConfig *RabbitmqConfig `json:"rabbitmqConfig,omitempty"`

	PodManagementPolicy appsv1.PodManagementPolicyType `json:"podManagementPolicy,omitempty"`
	// +optional
	PersistentVolumeClaimRetentionPolicy *appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy `json:"persistentVolumeClaimRetentionPolicy,omitempty"`

	// +optional
	Affinity *corev1.Affinity `json:"affinity,omitempty"`
	// +optional
	Tolerations []corev1.Toleration `json:"tolerations,omitempty"`
	// +optional
	Resources   *corev1.ResourceRequirements `json:"resources,omitempty"`
	Annotations map[string]string            `json:"annotations,omitempty"`
	Labels      map[string]string            `json:"labels,omitempty"`
}

// +kubebuilder:object:root=true

// RabbitmqCluster is the Schema for the rabbitmqclusters API
type RabbitmqCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec RabbitmqClusterSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// RabbitmqClusterList contains a list of RabbitmqCluster
type RabbitmqClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []RabbitmqCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&RabbitmqCluster{}, &RabbitmqClusterList{})
}
