package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ZookeeperPorts are the container ports of every ZooKeeper server.
type ZookeeperPorts struct {
	Client         int32 `json:"client,omitempty"`
	Quorum         int32 `json:"quorum,omitempty"`
	LeaderElection int32 `json:"leaderElection,omitempty"`
	Metrics        int32 `json:"metrics,omitempty"`
	AdminServer    int32 `json:"adminServer,omitempty"`
}

// ZookeeperConfig holds the zoo.cfg tunables. A zero value means "use the default".
type ZookeeperConfig struct {
	InitLimit                int32 `json:"initLimit,omitempty"`
	SyncLimit                int32 `json:"syncLimit,omitempty"`
	TickTime                 int32 `json:"tickTime,omitempty"`
	GlobalOutstandingLimit   int32 `json:"globalOutstandingLimit,omitempty"`
	PreAllocSize             int32 `json:"preAllocSize,omitempty"`
	SnapCount                int32 `json:"snapCount,omitempty"`
	CommitLogCount           int32 `json:"commitLogCount,omitempty"`
	SnapSizeLimitInKb        int32 `json:"snapSizeLimitInKb,omitempty"`
	MaxCnxns                 int32 `json:"maxCnxns,omitempty"`
	MaxClientCnxns           int32 `json:"maxClientCnxns,omitempty"`
	MinSessionTimeout        int32 `json:"minSessionTimeout,omitempty"`
	MaxSessionTimeout        int32 `json:"maxSessionTimeout,omitempty"`
	AutoPurgeSnapRetainCount int32 `json:"autoPurgeSnapRetainCount,omitempty"`
	AutoPurgePurgeInterval   int32 `json:"autoPurgePurgeInterval,omitempty"`
	QuorumListenOnAllIPs     bool  `json:"quorumListenOnAllIPs,omitempty"`
}

// ZookeeperPersistence configures the data volume of each server.
// When disabled the servers keep their data in an emptyDir.
type ZookeeperPersistence struct {
	Enabled          bool    `json:"enabled,omitempty"`
	StorageSize      string  `json:"storageSize,omitempty"`
	StorageClassName *string `json:"storageClassName,omitempty"`
}

// ZookeeperClusterSpec defines the desired state of ZookeeperCluster
type ZookeeperClusterSpec struct {
	// Number of ZooKeeper servers in the ensemble.
	Replicas *int32 `json:"replicas"`
	Image    string `json:"image,omitempty"`

	Ports       ZookeeperPorts       `json:"ports,omitempty"`
	Conf        ZookeeperConfig      `json:"conf,omitempty"`
	Persistence ZookeeperPersistence `json:"persistence,omitempty"`

	// +optional
	Affinity *corev1.Affinity `json:"affinity,omitempty"`
	// +optional
	Tolerations  []corev1.Toleration `json:"tolerations,omitempty"`
	NodeSelector map[string]string   `json:"nodeSelector,omitempty"`
	// Labels are added to every sub-resource and to the pods.
	Labels map[string]string `json:"labels,omitempty"`
	// Annotations are added to every sub-resource and to the pods.
	Annotations map[string]string `json:"annotations,omitempty"`
	// +optional
	Resources *corev1.ResourceRequirements `json:"resources,omitempty"`
}

// ZookeeperClusterStatus defines the observed state of ZookeeperCluster
type ZookeeperClusterStatus struct {
	ReadyReplicas int32 `json:"readyReplicas"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Replicas",type="integer",JSONPath=".spec.replicas"
// +kubebuilder:printcolumn:name="Ready",type="integer",JSONPath=".status.readyReplicas"

// ZookeeperCluster is the Schema for the zookeeperclusters API
type ZookeeperCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ZookeeperClusterSpec   `json:"spec,omitempty"`
	Status ZookeeperClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ZookeeperClusterList contains a list of ZookeeperCluster
type ZookeeperClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ZookeeperCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ZookeeperCluster{}, &ZookeeperClusterList{})
}
