package samplesloader

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
)

func yamlPathInto(path string, obj runtime.Object) error {
	objBytes, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading path %q", path)
	}
	scheme := runtime.NewScheme()
	if err := v1alpha1.AddToScheme(scheme); err != nil {
		return errors.Wrap(err, "adding to scheme")
	}
	return runtime.DecodeInto(
		serializer.NewCodecFactory(scheme).UniversalDeserializer(),
		objBytes, obj,
	)
}

// Loader generates deep copies of sample resources for use in tests.
type Loader struct {
	zookeeperCluster v1alpha1.ZookeeperCluster
	rabbitmqCluster  v1alpha1.RabbitmqCluster
	fluentBit        v1alpha1.FluentBit
	namespace        string
}

// New returns a Loader with samples loaded from the `config/samples` manifests.
func New(repoRoot string) (Loader, error) {
	basePath := filepath.Join(repoRoot, "config", "samples")
	l := Loader{}

	toLoad := map[string]runtime.Object{
		"zookeepercluster": &l.zookeeperCluster,
		"rabbitmqcluster":  &l.rabbitmqCluster,
		"fluentbit":        &l.fluentBit,
	}

	for file, obj := range toLoad {
		if err := yamlPathInto(filepath.Join(basePath, "anvil_v1alpha1_"+file+".yaml"), obj); err != nil {
			return Loader{}, err
		}
	}
	return l, nil
}

// WithNamespace returns a copy Loader with a new default namespace.
func (l Loader) WithNamespace(ns string) Loader {
	l.namespace = ns
	return l
}

// ZookeeperCluster returns a DeepCopy of a sample ZookeeperCluster
func (l Loader) ZookeeperCluster() *v1alpha1.ZookeeperCluster {
	o := l.zookeeperCluster.DeepCopy()
	o.Namespace = l.namespace
	return o
}

// RabbitmqCluster returns a DeepCopy of a sample RabbitmqCluster
func (l Loader) RabbitmqCluster() *v1alpha1.RabbitmqCluster {
	o := l.rabbitmqCluster.DeepCopy()
	o.Namespace = l.namespace
	return o
}

// FluentBit returns a DeepCopy of a sample FluentBit
func (l Loader) FluentBit() *v1alpha1.FluentBit {
	o := l.fluentBit.DeepCopy()
	o.Namespace = l.namespace
	return o
}
