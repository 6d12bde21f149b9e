package test

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
)

// ExampleZookeeperCluster returns a valid example for testing purposes
func ExampleZookeeperCluster(namespace string) *v1alpha1.ZookeeperCluster {
	o := &v1alpha1.ZookeeperCluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       v1alpha1.ZookeeperClusterKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "zk1",
			Namespace: namespace,
			UID:       types.UID("6f2b4c3e-zk1"),
		},
		Spec: v1alpha1.ZookeeperClusterSpec{
			Replicas: ptr.To[int32](3),
			Persistence: v1alpha1.ZookeeperPersistence{
				Enabled:          true,
				StorageSize:      "5Gi",
				StorageClassName: ptr.To("example-class"),
			},
			Labels: map[string]string{
				"team": "storage",
			},
			Annotations: map[string]string{
				"example.com/owner": "storage",
			},
		},
	}
	o.Default()
	return o
}

// ExampleRabbitmqCluster returns a valid example for testing purposes
func ExampleRabbitmqCluster(namespace string) *v1alpha1.RabbitmqCluster {
	o := &v1alpha1.RabbitmqCluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       v1alpha1.RabbitmqClusterKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "rmq1",
			Namespace: namespace,
			UID:       types.UID("0d9a51f7-rmq1"),
		},
		Spec: v1alpha1.RabbitmqClusterSpec{
			Replicas: ptr.To[int32](3),
			Persistence: v1alpha1.RabbitmqClusterPersistence{
				Storage: "10Gi",
			},
			RabbitmqConfig: &v1alpha1.RabbitmqConfig{
				AdditionalConfig: "log.console.level = debug",
			},
		},
	}
	o.Default()
	return o
}

// ExampleFluentBit returns a valid example for testing purposes
func ExampleFluentBit(namespace string) *v1alpha1.FluentBit {
	o := &v1alpha1.FluentBit{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       v1alpha1.FluentBitKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "fb1",
			Namespace: namespace,
			UID:       types.UID("c41e0b22-fb1"),
		},
		Spec: v1alpha1.FluentBitSpec{
			FluentbitConfigName: "fluent-bit-config",
		},
	}
	o.Default()
	return o
}
