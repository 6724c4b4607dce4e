package core

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
)

// FieldManager is the server-side-apply field manager name used for all
// apply patches issued by the library.
const FieldManager = "k8swait"

// Accessor performs get/list/create/apply/delete against the cluster API for
// a generically-typed resource scope. All methods are synchronous from the
// caller's perspective; they suspend on network I/O via the context.
//
// Absence is not an error signal for every caller: Get surfaces NotFound via
// apierrors so callers that treat absence as a valid negative result can
// check it with apierrors.IsNotFound.
type Accessor struct {
	client dynamic.Interface
	log    *slog.Logger
}

// NewAccessor returns an Accessor over the given dynamic client.
func NewAccessor(client dynamic.Interface) *Accessor {
	return &Accessor{client: client, log: Logger()}
}

// resource returns the dynamic resource interface for the scope, namespaced
// when the scope carries a namespace and cluster-wide otherwise.
func (a *Accessor) resource(s Scope) dynamic.ResourceInterface {
	if s.Namespace != "" {
		return a.client.Resource(s.GVR).Namespace(s.Namespace)
	}
	return a.client.Resource(s.GVR)
}

// Get fetches a single resource snapshot by the scope's name.
func (a *Accessor) Get(ctx context.Context, s Scope) (*unstructured.Unstructured, error) {
	obj, err := a.resource(s).Get(ctx, s.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s, err)
	}
	return obj, nil
}

// List fetches all resources matching the scope. The returned list preserves
// the API server's order and carries the collection resourceVersion used to
// start a watch without a gap.
func (a *Accessor) List(ctx context.Context, s Scope) (*unstructured.UnstructuredList, error) {
	list, err := a.resource(s).List(ctx, s.ListOptions())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s, err)
	}
	return list, nil
}

// Create creates the given resource in the scope.
func (a *Accessor) Create(ctx context.Context, s Scope, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	created, err := a.resource(s).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", s.Ref(obj.GetName()), err)
	}
	a.log.Debug(s.Ref(created.GetName()) + " created")
	return created, nil
}

// Apply server-side-applies the given resource, taking ownership of the
// fields it sets. Conflicts are forced: the library is the source of truth
// for the manifests it applies during a test.
func (a *Accessor) Apply(ctx context.Context, s Scope, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	applied, err := a.resource(s).Apply(ctx, obj.GetName(), obj, metav1.ApplyOptions{
		FieldManager: FieldManager,
		Force:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", s.Ref(obj.GetName()), err)
	}
	a.log.Debug(s.Ref(applied.GetName()) + " applied")
	return applied, nil
}

// Delete deletes the resource named by the scope.
func (a *Accessor) Delete(ctx context.Context, s Scope) error {
	if err := a.resource(s).Delete(ctx, s.Name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", s, err)
	}
	a.log.Debug(s.String() + " delete requested")
	return nil
}
