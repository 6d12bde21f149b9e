package test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/ptr"
)

// recorder collects assertion failures instead of failing the test.
type recorder struct {
	failures []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestCheckStructFields(t *testing.T) {
	for _, tc := range []struct {
		name          string
		path          string
		expectedValue interface{}
		actual        interface{}
		expectErr     bool
	}{
		{
			name:          "IntMatch",
			path:          ".value",
			expectedValue: 123,
			actual:        map[string]interface{}{"value": 123},
		},
		{
			name:          "IntMismatch",
			path:          ".value",
			expectedValue: 123,
			actual:        map[string]interface{}{"value": 124},
			expectErr:     true,
		},
		{
			name:          "StringMatch",
			path:          ".value",
			expectedValue: "foo",
			actual:        map[string]interface{}{"value": "foo"},
		},
		{
			name:          "StringMismatch",
			path:          ".value",
			expectedValue: "foo",
			actual:        map[string]interface{}{"value": "fOo"},
			expectErr:     true,
		},
		{
			name:          "QuantityMatch",
			path:          ".value",
			expectedValue: resource.MustParse("123Gi"),
			actual:        map[string]interface{}{"value": resource.MustParse("123Gi")},
		},
		{
			name:          "QuantityMismatch",
			path:          ".value",
			expectedValue: resource.MustParse("123Gi"),
			actual:        map[string]interface{}{"value": resource.MustParse("123Mi")},
			expectErr:     true,
		},
		{
			name:          "PointerMatch",
			path:          ".value",
			expectedValue: ptr.To("foo"),
			actual:        map[string]interface{}{"value": ptr.To("foo")},
		},
		{
			name:          "PointerMismatch",
			path:          ".value",
			expectedValue: ptr.To("foo"),
			actual:        map[string]interface{}{"value": ptr.To("fOo")},
			expectErr:     true,
		},
		{
			name:          "SimplePathMatch",
			path:          ".Bar",
			expectedValue: "BAR",
			actual: struct {
				Foo string
				Bar string
			}{
				Foo: "FOO",
				Bar: "BAR",
			},
		},
		{
			name:          "SimplePathMissing",
			path:          ".Baz",
			expectedValue: nil,
			actual: struct {
				Foo string
				Bar string
			}{
				Foo: "FOO",
				Bar: "BAR",
			},
			expectErr: true,
		},
		{
			name:          "SimpleMapKeyMatch",
			path:          ".bar",
			expectedValue: "BAR",
			actual: map[string]string{
				"foo": "FOO",
				"bar": "BAR",
			},
		},
		{
			name:          "SimpleMapKeyMissing",
			path:          ".baz",
			expectedValue: "BAZ",
			actual: map[string]string{
				"foo": "FOO",
				"bar": "BAR",
			},
			expectErr: true,
		},
		{
			name:          "SimpleListIndexMatch",
			path:          "[1]",
			expectedValue: "bar",
			actual:        []string{"foo", "bar"},
		},
		{
			name:          "SimpleListIndexMissing",
			path:          "[2]",
			expectedValue: nil,
			actual:        []string{"foo", "bar"},
			expectErr:     true,
		},
		{
			name:          "StructPathsWithMaps",
			path:          ".spec.resources.requests.storage",
			expectedValue: resource.MustParse("101Gi"),
			actual: &corev1.PersistentVolumeClaim{
				Spec: corev1.PersistentVolumeClaimSpec{
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							"storage": resource.MustParse("101Gi"),
						},
					},
				},
			},
		},
		{
			name:          "StructPathsWithLists",
			path:          `.containers[?(@.name=="container2")].image`,
			expectedValue: "example.com/image2:v1",
			actual: &corev1.PodSpec{
				Containers: []corev1.Container{
					{
						Name:  "container1",
						Image: "example.com/image1:v1",
					},
					{
						Name:  "container2",
						Image: "example.com/image2:v1",
					},
				},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			ok := CheckStructFields(r, map[string]interface{}{tc.path: tc.expectedValue}, tc.actual)
			if tc.expectErr {
				assert.False(t, ok)
				assert.NotEmpty(t, r.failures, "missing errors")
			} else {
				assert.True(t, ok)
				assert.Empty(t, r.failures, "unexpected errors")
			}
		})
	}
}
