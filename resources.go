package k8swait

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/giantswarm/k8swait/internal/core"
)

// Object constrains the resource types the generic operations accept: a
// pointer to a struct that is both a runtime.Object (so the scheme can
// resolve its kind) and a metav1.Object (so metadata is accessible). All
// client-go API types and any generated custom resource type satisfy it.
type Object[T any] interface {
	*T
	runtime.Object
	metav1.Object
}

// resolved is the outcome of mapping a typed object to its REST resource.
type resolved struct {
	gvk        schema.GroupVersionKind
	gvr        schema.GroupVersionResource
	namespaced bool
}

// resolve maps the type K to its group, version, kind and resource using the
// session's scheme and REST mapper.
func resolve[T any, K Object[T]](s *Session) (resolved, error) {
	obj := K(new(T))
	gvks, _, err := s.scheme.ObjectKinds(obj)
	if err != nil {
		return resolved{}, fmt.Errorf("resolve kind of %T: %w", obj, err)
	}
	if len(gvks) == 0 {
		return resolved{}, fmt.Errorf("no kind registered for %T in the session scheme", obj)
	}
	gvk := gvks[0]

	mapping, err := s.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return resolved{}, fmt.Errorf("resolve resource for %s: %w", gvk, err)
	}

	return resolved{
		gvk:        gvk,
		gvr:        mapping.Resource,
		namespaced: mapping.Scope.Name() == meta.RESTScopeNameNamespace,
	}, nil
}

// scope returns the session-selector scope for the resolved type.
func (r resolved) scope(s *Session) core.Scope {
	sc := core.Scope{GVR: r.gvr, Kind: r.gvk.Kind, LabelSelector: s.selector}
	if r.namespaced {
		sc.Namespace = s.namespace
	}
	return sc
}

// named returns a single-resource scope for the resolved type.
func (r resolved) named(s *Session, name string) core.Scope {
	sc := core.Scope{GVR: r.gvr, Kind: r.gvk.Kind, Name: name}
	if r.namespaced {
		sc.Namespace = s.namespace
	}
	return sc
}

// fromUnstructured converts a snapshot into a fresh typed object. Snapshots
// are immutable value objects; the conversion never aliases the input.
func fromUnstructured[T any, K Object[T]](u *unstructured.Unstructured) (K, error) {
	obj := K(new(T))
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, obj); err != nil {
		var zero K
		return zero, fmt.Errorf("convert %s %s: %w", u.GetKind(), u.GetName(), err)
	}
	return obj, nil
}

// fromUnstructuredList converts a listed aggregate view into typed objects,
// preserving the API server's order.
func fromUnstructuredList[T any, K Object[T]](items []unstructured.Unstructured) ([]K, error) {
	out := make([]K, 0, len(items))
	for i := range items {
		obj, err := fromUnstructured[T, K](&items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// toUnstructured converts a typed object into an unstructured one carrying
// an explicit apiVersion and kind, which typed objects usually leave empty.
func toUnstructured(obj runtime.Object, gvk schema.GroupVersionKind) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", gvk.Kind, err)
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetGroupVersionKind(gvk)
	return u, nil
}

// withSessionLabels returns a deep copy of obj with the session's labels
// merged in. The caller's object is never mutated. Existing labels win over
// session labels only for keys outside the session label set.
func withSessionLabels[T any, K Object[T]](s *Session, obj K) K {
	cp := obj.DeepCopyObject().(K)
	lbls := cp.GetLabels()
	if lbls == nil {
		lbls = make(map[string]string, len(s.labelSet))
	}
	for k, v := range s.labelSet {
		lbls[k] = v
	}
	cp.SetLabels(lbls)
	return cp
}

// List returns all resources of type K owned by the session, in the API
// server's order.
func List[T any, K Object[T]](ctx context.Context, s *Session) ([]K, error) {
	return ListLabeled[T, K](ctx, s, s.selector)
}

// ListLabeled returns all resources of type K in the session's namespace
// matching the given label selector, in the API server's order. The
// selector supports =, ==, != and comma-separated terms:
// "key1=value1,key2!=value2".
func ListLabeled[T any, K Object[T]](ctx context.Context, s *Session, selector string) ([]K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		return nil, err
	}
	sc := r.scope(s)
	sc.LabelSelector = selector

	list, err := s.accessor.List(ctx, sc)
	if err != nil {
		return nil, err
	}
	return fromUnstructuredList[T, K](list.Items)
}

// Get returns the named resource of type K. Absence is surfaced as a
// NotFound API error; callers that treat absence as a valid negative result
// should use Find.
func Get[T any, K Object[T]](ctx context.Context, s *Session, name string) (K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		var zero K
		return zero, err
	}
	u, err := s.accessor.Get(ctx, r.named(s, name))
	if err != nil {
		var zero K
		return zero, err
	}
	return fromUnstructured[T, K](u)
}

// Find searches for the named resource of type K, reporting absence as
// (zero, false, nil) rather than an error.
func Find[T any, K Object[T]](ctx context.Context, s *Session, name string) (K, bool, error) {
	obj, err := Get[T, K](ctx, s, name)
	if apierrors.IsNotFound(err) {
		var zero K
		return zero, false, nil
	}
	if err != nil {
		var zero K
		return zero, false, err
	}
	return obj, true, nil
}

// GetStatus returns a fresh snapshot of the named resource including its
// current status substructure.
func GetStatus[T any, K Object[T]](ctx context.Context, s *Session, name string) (K, error) {
	return Get[T, K](ctx, s, name)
}

// Create creates the given resource with the session's labels attached and
// waits until the created resource is visible to list/watch, confirming
// that subsequent condition waits can observe it. The wait is bounded by
// the session's create timeout.
func Create[T any, K Object[T]](ctx context.Context, s *Session, obj K) (K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		var zero K
		return zero, err
	}

	labeled := withSessionLabels[T, K](s, obj)
	u, err := toUnstructured(labeled, r.gvk)
	if err != nil {
		var zero K
		return zero, err
	}

	sc := r.named(s, labeled.GetName())
	if _, err := s.accessor.Create(ctx, sc, u); err != nil {
		var zero K
		return zero, err
	}

	name := labeled.GetName()
	visible := func(u *unstructured.Unstructured) bool { return u.GetName() == name }
	snapshot, err := s.poller.Wait(ctx, sc, visible, s.timeouts.Create)
	if err != nil {
		var zero K
		return zero, err
	}
	return fromUnstructured[T, K](snapshot)
}

// Apply server-side-applies the given resource with the session's labels
// attached, forcing conflicts; the session is the source of truth for the
// manifests it applies during a test. Returns the applied state.
func Apply[T any, K Object[T]](ctx context.Context, s *Session, obj K) (K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		var zero K
		return zero, err
	}

	labeled := withSessionLabels[T, K](s, obj)
	u, err := toUnstructured(labeled, r.gvk)
	if err != nil {
		var zero K
		return zero, err
	}

	applied, err := s.accessor.Apply(ctx, r.named(s, labeled.GetName()), u)
	if err != nil {
		var zero K
		return zero, err
	}
	return fromUnstructured[T, K](applied)
}

// Delete deletes the named resource of type K and waits until the deletion
// is confirmed, bounded by the session's delete timeout. Deleting an absent
// resource is success.
func Delete[T any, K Object[T]](ctx context.Context, s *Session, name string) error {
	r, err := resolve[T, K](s)
	if err != nil {
		return err
	}
	sc := r.named(s, name)

	if err := s.accessor.Delete(ctx, sc); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.poller.WaitGone(ctx, sc, s.timeouts.Delete)
}

// timeoutOr returns d when positive and fallback otherwise, implementing the
// "zero means session default" contract of the wait operations.
func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
