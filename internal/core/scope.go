package core

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Scope identifies the set of resources an operation targets: a resource
// type, a namespace (empty for cluster-scoped types) and either a single
// name or a label selector. A Scope uniquely determines a watch subscription;
// it is immutable once handed to the Accessor, Watcher or Poller.
type Scope struct {
	GVR       schema.GroupVersionResource
	Kind      string
	Namespace string

	// Name restricts the scope to a single resource via a metadata.name
	// field selector. Empty means the scope is selector-based.
	Name string

	// LabelSelector restricts the scope to labeled resources. Ignored when
	// Name is set.
	LabelSelector string
}

// ListOptions returns the list/watch options that implement this scope.
func (s Scope) ListOptions() metav1.ListOptions {
	if s.Name != "" {
		return metav1.ListOptions{FieldSelector: "metadata.name=" + s.Name}
	}
	return metav1.ListOptions{LabelSelector: s.LabelSelector}
}

// String renders the scope as a [<Kind>/<name>] log prefix. Selector-based
// scopes render the selector instead of a name.
func (s Scope) String() string {
	if s.Name != "" {
		return fmt.Sprintf("[%s/%s]", s.Kind, s.Name)
	}
	return fmt.Sprintf("[%s %s]", s.Kind, s.LabelSelector)
}

// Ref renders a [<Kind>/<name>] prefix for a specific resource name observed
// within the scope, used when logging per-event messages in selector scopes.
func (s Scope) Ref(name string) string {
	return fmt.Sprintf("[%s/%s]", s.Kind, name)
}
