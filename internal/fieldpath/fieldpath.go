package fieldpath

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Lookup returns the value at the given path in obj. The second return
// value is false if any path segment is missing or an intermediate value
// is not a map. Lookup never returns an error: a malformed object reads
// the same as an absent field.
func Lookup(obj map[string]any, path ...string) (any, bool) {
	value, found, err := unstructured.NestedFieldNoCopy(obj, path...)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}

// String returns the string value at the given path. The second return
// value is false if the path is absent or the value is not a string.
func String(obj map[string]any, path ...string) (string, bool) {
	value, found, err := unstructured.NestedString(obj, path...)
	if err != nil || !found {
		return "", false
	}
	return value, true
}

// StringMap returns the map[string]string value at the given path, e.g.
// metadata.annotations or metadata.labels. The second return value is
// false if the path is absent or the value is not a map of strings.
func StringMap(obj map[string]any, path ...string) (map[string]string, bool) {
	value, found, err := unstructured.NestedStringMap(obj, path...)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}

// Slice returns the slice value at the given path. The second return
// value is false if the path is absent or the value is not a slice.
func Slice(obj map[string]any, path ...string) ([]any, bool) {
	value, found, err := unstructured.NestedSlice(obj, path...)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}
