package reconciler

import (
	"reflect"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
)

// ControllerRef is the single owner reference stamped on every sub-resource.
func ControllerRef(owner metav1.Object, gvk schema.GroupVersionKind) metav1.OwnerReference {
	return *metav1.NewControllerRef(owner, gvk)
}

// Labels merges the user supplied labels with the app label. The app label wins.
func Labels(user map[string]string, app string) map[string]string {
	labels := map[string]string{}
	if err := mergo.Merge(&labels, user); err != nil {
		// Merging two string maps cannot fail.
		panic(err)
	}
	if err := mergo.Merge(&labels, map[string]string{v1alpha1.AppLabel: app}, mergo.WithOverride); err != nil {
		panic(err)
	}
	return labels
}

// Annotations returns a copy of the user supplied annotations, never nil.
func Annotations(user map[string]string) map[string]string {
	annotations := map[string]string{}
	for k, v := range user {
		annotations[k] = v
	}
	return annotations
}

// ObjectMeta is the metadata of a freshly made sub-resource. Empty label and annotation
// maps are stored as nil, the way the API server returns them.
func ObjectMeta(name, namespace string, owner metav1.OwnerReference, labels, annotations map[string]string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:            name,
		Namespace:       namespace,
		OwnerReferences: []metav1.OwnerReference{owner},
		Labels:          nilIfEmpty(labels),
		Annotations:     nilIfEmpty(annotations),
	}
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

// isNil reports whether obj is nil or a nil pointer wrapped in the interface.
func isNil(obj interface{}) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// IsControlledBy reports whether obj has a controller reference to the owner's uid.
func IsControlledBy(obj metav1.Object, owner metav1.OwnerReference) bool {
	for _, ref := range obj.GetOwnerReferences() {
		if ref.UID == owner.UID && ref.Controller != nil && *ref.Controller {
			return true
		}
	}
	return false
}

// Adopt overwrites the managed metadata of observed with desired. Objects that are not
// controlled by desired's owner are refused and left untouched.
func Adopt(observed metav1.Object, desired metav1.ObjectMeta) error {
	if len(desired.OwnerReferences) != 1 {
		return errors.Errorf("expected exactly one owner reference for %s, got %d", desired.Name, len(desired.OwnerReferences))
	}
	if !IsControlledBy(observed, desired.OwnerReferences[0]) {
		return errors.Wrapf(ErrForeignOwner, "%s/%s owner references %v", observed.GetNamespace(), observed.GetName(), observed.GetOwnerReferences())
	}
	observed.SetOwnerReferences(desired.OwnerReferences)
	observed.SetFinalizers(nil)
	observed.SetLabels(desired.Labels)
	observed.SetAnnotations(desired.Annotations)
	return nil
}
