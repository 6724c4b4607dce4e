package k8swait

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
)

// Decode parses a single YAML or JSON manifest into a typed object. The
// format is detected from the content, so test fixtures can be written in
// either.
func Decode[T any, K Object[T]](data []byte) (K, error) {
	obj := K(new(T))
	decoder := yamlutil.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	if err := decoder.Decode(obj); err != nil {
		var zero K
		return zero, fmt.Errorf("decode manifest: %w", err)
	}
	return obj, nil
}

// UniqueName appends a fresh UUID to the object's name, in place, so
// parallel tests sharing a manifest fixture never collide on resource
// names. Returns the new name.
func UniqueName(obj metav1.Object) string {
	name := obj.GetName() + "-" + uuid.NewString()
	obj.SetName(name)
	return name
}
