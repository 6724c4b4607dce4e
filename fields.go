package k8swait

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/giantswarm/k8swait/internal/fieldpath"
)

// Annotation returns the value of the given annotation and whether it is
// present. Useful inside VerifyStatus predicates.
func Annotation(obj metav1.Object, key string) (string, bool) {
	v, ok := obj.GetAnnotations()[key]
	return v, ok
}

// Label returns the value of the given label and whether it is present.
func Label(obj metav1.Object, key string) (string, bool) {
	v, ok := obj.GetLabels()[key]
	return v, ok
}

// Field looks up a nested field of obj by path, e.g.
//
//	Field(pod, "status", "phase")
//
// It reports (nil, false) when any path segment is absent, never an error,
// so predicates built on it stay total over partially populated resources.
// Unstructured objects are read directly; typed objects are converted first.
func Field(obj runtime.Object, path ...string) (any, bool) {
	content, ok := objectContent(obj)
	if !ok {
		return nil, false
	}
	return fieldpath.Lookup(content, path...)
}

// StringField is Field narrowed to string-valued leaves. It reports
// ("", false) when the field is absent or not a string.
func StringField(obj runtime.Object, path ...string) (string, bool) {
	content, ok := objectContent(obj)
	if !ok {
		return "", false
	}
	return fieldpath.String(content, path...)
}

func objectContent(obj runtime.Object) (map[string]any, bool) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.Object, true
	}
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, false
	}
	return content, true
}

// PodReady reports whether the pod's Ready condition is True.
func PodReady(pod *corev1.Pod) bool {
	return PodConditionTrue(corev1.PodReady)(pod)
}

// PodConditionTrue returns a predicate reporting whether the given pod
// condition is True, for use with VerifyStatus:
//
//	VerifyStatus(ctx, s, name, k8swait.PodConditionTrue(corev1.PodScheduled), 0)
func PodConditionTrue(condition corev1.PodConditionType) func(*corev1.Pod) bool {
	return func(pod *corev1.Pod) bool {
		for _, c := range pod.Status.Conditions {
			if c.Type == condition {
				return c.Status == corev1.ConditionTrue
			}
		}
		return false
	}
}
