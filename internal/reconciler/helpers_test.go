package reconciler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

// The test pipelines use a ConfigMap as the owning resource.
type owner = *corev1.ConfigMap

const (
	tagService Tag = "Service"
	tagConfig  Tag = "Config"
	tagProbe   Tag = "ExistsWorkload"
)

var ownerGVK = corev1.SchemeGroupVersion.WithKind("ConfigMap")

func newOwner(name string) owner {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns1",
			UID:       types.UID("uid-" + name),
		},
	}
}

func ownerRef(cr owner) metav1.OwnerReference {
	return ControllerRef(cr, ownerGVK)
}

func foreignRef() metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion: "v1",
		Kind:       "ConfigMap",
		Name:       "someone-else",
		UID:        "uid-someone-else",
		Controller: ptr.To(true),
	}
}

func metaFor(cr owner, name string) metav1.ObjectMeta {
	return ObjectMeta(name, cr.Namespace, ownerRef(cr), Labels(cr.Labels, cr.Name), Annotations(cr.Annotations))
}

func serviceStage() *SubResource[owner, *corev1.Service] {
	build := func(cr owner) *corev1.Service {
		return &corev1.Service{
			ObjectMeta: metaFor(cr, cr.Name+"-svc"),
			Spec: corev1.ServiceSpec{
				Ports: []corev1.ServicePort{{Name: "client", Port: 2181}},
			},
		}
	}
	return &SubResource[owner, *corev1.Service]{
		Tag: tagService,
		New: func() *corev1.Service { return &corev1.Service{} },
		Key: func(cr owner) client.ObjectKey {
			return client.ObjectKey{Namespace: cr.Namespace, Name: cr.Name + "-svc"}
		},
		Make: func(cr owner, _ *State) (*corev1.Service, error) {
			return build(cr), nil
		},
		Update: func(cr owner, _ *State, observed *corev1.Service) (*corev1.Service, error) {
			desired := build(cr)
			if err := Adopt(observed, desired.ObjectMeta); err != nil {
				return nil, err
			}
			observed.Spec.Ports = desired.Spec.Ports
			return observed, nil
		},
	}
}

func recordRV(_ owner, st *State, cm *corev1.ConfigMap) error {
	st.Threaded.LatestConfigMapRV = ptr.To(cm.ResourceVersion)
	return nil
}

func configStage() *SubResource[owner, *corev1.ConfigMap] {
	build := func(cr owner) *corev1.ConfigMap {
		return &corev1.ConfigMap{
			ObjectMeta: metaFor(cr, cr.Name+"-config"),
			Data:       map[string]string{"size": "3"},
		}
	}
	return &SubResource[owner, *corev1.ConfigMap]{
		Tag: tagConfig,
		New: func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		Key: func(cr owner) client.ObjectKey {
			return client.ObjectKey{Namespace: cr.Namespace, Name: cr.Name + "-config"}
		},
		Make: func(cr owner, _ *State) (*corev1.ConfigMap, error) {
			return build(cr), nil
		},
		Update: func(cr owner, _ *State, observed *corev1.ConfigMap) (*corev1.ConfigMap, error) {
			desired := build(cr)
			if err := Adopt(observed, desired.ObjectMeta); err != nil {
				return nil, err
			}
			observed.Data = desired.Data
			return observed, nil
		},
		AfterCreate: recordRV,
		AfterUpdate: recordRV,
	}
}

// statusStage writes the threaded resource version into the owner's data.
func statusStage() *StatusStage[owner] {
	return &StatusStage[owner]{
		Apply: func(cr owner, st *State) (owner, error) {
			if st.Threaded.LatestConfigMapRV == nil {
				return nil, errors.Wrap(ErrMissingSlot, "config resource version")
			}
			updated := cr.DeepCopy()
			updated.Data = map[string]string{"rv": *st.Threaded.LatestConfigMapRV}
			return updated, nil
		},
	}
}

func znodeStage() *ZNodeStage[owner] {
	return &ZNodeStage[owner]{
		Probe: tagProbe,
		ProbeKey: func(cr owner) client.ObjectKey {
			return client.ObjectKey{Namespace: cr.Namespace, Name: cr.Name}
		},
		New:   func() client.Object { return &corev1.Secret{} },
		Owner: ownerRef,
		Target: func(cr owner) zookeeper.Target {
			return zookeeper.Target{Host: cr.Name + "-client", Namespace: cr.Namespace, Port: 2181}
		},
		Path: func(cr owner) string { return "/operator/" + cr.Name },
		Data: func(cr owner) []byte { return []byte("CLUSTER_SIZE=3") },
	}
}

func notFound(resource, name string) error {
	return apierrors.NewNotFound(schema.GroupResource{Resource: resource}, name)
}

// respond feeds resp to the machine and checks that the round is still running.
func respond(t *testing.T, m *Machine[owner], cr owner, st State, resp *Response) (State, *Request) {
	t.Helper()
	next, req := m.Step(cr, resp, st)
	require.NoError(t, next.Err)
	require.NotNil(t, req, "round ended early in %s", next.Step)
	return next, req
}

// created echoes a Create or Update payload back, as the API server does.
func created(req *Request, rv string) *Response {
	obj := req.Kube.Object.DeepCopyObject().(client.Object)
	obj.SetResourceVersion(rv)
	return KubeResponseFor(req, obj, nil)
}
