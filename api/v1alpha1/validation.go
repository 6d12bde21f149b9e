package v1alpha1

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate checks the fields the builders depend on. It is called after Default.
func (o *ZookeeperCluster) Validate() error {
	path := field.NewPath("spec")
	var allErrs field.ErrorList
	allErrs = append(allErrs, validateReplicas(path.Child("replicas"), o.Spec.Replicas)...)
	allErrs = append(allErrs, o.Spec.Ports.validate(path.Child("ports"))...)
	allErrs = append(allErrs, o.Spec.Conf.validate(path.Child("conf"))...)
	if o.Spec.Persistence.Enabled {
		allErrs = append(allErrs,
			validateQuantity(path.Child("persistence", "storageSize"), o.Spec.Persistence.StorageSize)...)
	}
	allErrs = append(allErrs, validateAnnotations(path.Child("annotations"), o.Spec.Annotations)...)
	return allErrs.ToAggregate()
}

func (o *ZookeeperPorts) validate(path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	seen := map[int32]string{}
	for _, p := range []struct {
		name string
		port int32
	}{
		{"client", o.Client},
		{"quorum", o.Quorum},
		{"leaderElection", o.LeaderElection},
		{"metrics", o.Metrics},
		{"adminServer", o.AdminServer},
	} {
		name, port := p.name, p.port
		for _, msg := range validation.IsValidPortNum(int(port)) {
			allErrs = append(allErrs, field.Invalid(path.Child(name), port, msg))
		}
		if other, ok := seen[port]; ok {
			allErrs = append(allErrs, field.Duplicate(path.Child(name), fmt.Sprintf("%d (also used by %s)", port, other)))
		}
		seen[port] = name
	}
	return allErrs
}

func (o *ZookeeperConfig) validate(path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	for name, v := range map[string]int32{
		"initLimit": o.InitLimit,
		"syncLimit": o.SyncLimit,
		"tickTime":  o.TickTime,
	} {
		if v <= 0 {
			allErrs = append(allErrs, field.Invalid(path.Child(name), v, "must be greater than zero"))
		}
	}
	if o.MinSessionTimeout > o.MaxSessionTimeout {
		allErrs = append(allErrs, field.Invalid(path.Child("minSessionTimeout"), o.MinSessionTimeout,
			fmt.Sprintf("must not exceed maxSessionTimeout (%d)", o.MaxSessionTimeout)))
	}
	return allErrs
}

// Validate checks the fields the builders depend on. It is called after Default.
func (o *RabbitmqCluster) Validate() error {
	path := field.NewPath("spec")
	var allErrs field.ErrorList
	allErrs = append(allErrs, validateReplicas(path.Child("replicas"), o.Spec.Replicas)...)
	allErrs = append(allErrs, validateRabbitmqImage(path.Child("image"), o.Spec.Image)...)
	allErrs = append(allErrs, validateQuantity(path.Child("persistence", "storage"), o.Spec.Persistence.Storage)...)
	switch o.Spec.PodManagementPolicy {
	case appsv1.OrderedReadyPodManagement, appsv1.ParallelPodManagement:
	default:
		allErrs = append(allErrs, field.NotSupported(path.Child("podManagementPolicy"), o.Spec.PodManagementPolicy,
			[]string{string(appsv1.OrderedReadyPodManagement), string(appsv1.ParallelPodManagement)}))
	}
	allErrs = append(allErrs, validateAnnotations(path.Child("annotations"), o.Spec.Annotations)...)
	return allErrs.ToAggregate()
}

// validateRabbitmqImage refuses RabbitMQ releases without the Kubernetes peer discovery
// backend. Tags that are not versions (digests, "latest") are accepted.
func validateRabbitmqImage(path *field.Path, image string) field.ErrorList {
	var allErrs field.ErrorList
	tag := imageTag(image)
	if tag == "" {
		return allErrs
	}
	v, err := semver.ParseTolerant(tag)
	if err != nil {
		return allErrs
	}
	// Compare the release only: "3.11.10-management" is a flavour, not a pre-release.
	v.Pre = nil
	if v.LT(semver.MustParse(minimumRabbitmqVersion)) {
		allErrs = append(allErrs, field.Invalid(path, image,
			fmt.Sprintf("RabbitMQ %s or newer is required", minimumRabbitmqVersion)))
	}
	return allErrs
}

// Validate checks the fields the builders depend on. It is called after Default.
func (o *FluentBit) Validate() error {
	path := field.NewPath("spec")
	var allErrs field.ErrorList
	if o.Spec.FluentbitConfigName == "" {
		allErrs = append(allErrs, field.Required(path.Child("fluentbitConfigName"), ""))
	} else {
		for _, msg := range validation.IsDNS1123Subdomain(o.Spec.FluentbitConfigName) {
			allErrs = append(allErrs, field.Invalid(path.Child("fluentbitConfigName"), o.Spec.FluentbitConfigName, msg))
		}
	}
	allErrs = append(allErrs, validateAnnotations(path.Child("annotations"), o.Spec.Annotations)...)
	return allErrs.ToAggregate()
}

func validateReplicas(path *field.Path, replicas *int32) field.ErrorList {
	var allErrs field.ErrorList
	if replicas == nil {
		allErrs = append(allErrs, field.Required(path, ""))
	} else if *replicas < 1 {
		allErrs = append(allErrs, field.Invalid(path, *replicas, "must be at least 1"))
	}
	return allErrs
}

func validateQuantity(path *field.Path, q string) field.ErrorList {
	var allErrs field.ErrorList
	if _, err := resource.ParseQuantity(q); err != nil {
		allErrs = append(allErrs, field.Invalid(path, q, err.Error()))
	}
	return allErrs
}

// IsInvalidUserProvidedAnnotationName tests to see if the given annotation name is one reserved by the operator
func IsInvalidUserProvidedAnnotationName(annotationName string) bool {
	return strings.HasPrefix(annotationName, ReservedAnnotationPrefix)
}

func validateAnnotations(path *field.Path, annotations map[string]string) field.ErrorList {
	var allErrs field.ErrorList
	for name := range annotations {
		if IsInvalidUserProvidedAnnotationName(name) {
			allErrs = append(allErrs,
				field.Invalid(path, name, "Annotation name is a reserved name ('anvil.dev' prefix)"))
		}
	}
	return allErrs
}

// imageTag returns the tag of an image reference, or "" when it has none.
func imageTag(image string) string {
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	slash := strings.LastIndex(image, "/")
	colon := strings.LastIndex(image, ":")
	if colon <= slash {
		return ""
	}
	return image[colon+1:]
}
