package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
)

// teardownParallelism bounds the number of resource types swept
// concurrently during teardown.
const teardownParallelism = 10

// Cleaner deletes every resource carrying a session's labels across all
// namespaced resource types the API server knows. Individual type failures
// are logged and skipped: teardown is best-effort by nature, and a type that
// cannot be listed is harmless once its namespace-scoped contents expire
// with the test cluster.
type Cleaner struct {
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface
	log       *slog.Logger

	// cachedGVRs caches the discovered deletable resource types; the set of
	// API resources does not change during a test run.
	cachedGVRs atomic.Pointer[[]schema.GroupVersionResource]
}

// NewCleaner returns a Cleaner over the given clients.
func NewCleaner(dynClient dynamic.Interface, disc discovery.DiscoveryInterface) *Cleaner {
	return &Cleaner{
		dynamic:   dynClient,
		discovery: disc,
		log:       Logger(),
	}
}

// DeleteLabeled deletes all resources in the namespace matching the label
// selector, across every namespaced resource type that supports list and
// delete. Types are swept in parallel with bounded concurrency.
func (c *Cleaner) DeleteLabeled(ctx context.Context, namespace, selector string) error {
	gvrs, err := c.deletableGVRs()
	if err != nil {
		return err
	}

	c.log.Debug("tearing down labeled resources",
		"namespace", namespace, "selector", selector, "types", len(gvrs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(teardownParallelism)

	for _, gvr := range gvrs {
		g.Go(func() error {
			c.deleteCollection(gCtx, gvr, namespace, selector)
			return nil
		})
	}

	// The goroutines always return nil; Wait only propagates context errors.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("teardown canceled: %w", err)
	}
	return ctx.Err()
}

// deletableGVRs returns the namespaced resource types that support both the
// list and delete verbs. Results are cached across Teardown calls.
func (c *Cleaner) deletableGVRs() ([]schema.GroupVersionResource, error) {
	if cached := c.cachedGVRs.Load(); cached != nil {
		return *cached, nil
	}

	// ServerPreferredNamespacedResources returns one entry per resource at
	// the preferred version, avoiding double-deleting resources under
	// multiple API versions. It may return partial results alongside an
	// error for groups that fail to load — use whatever we got.
	resourceLists, discErr := c.discovery.ServerPreferredNamespacedResources()
	if discErr != nil && len(resourceLists) == 0 {
		return nil, fmt.Errorf("discover namespaced resources: %w", discErr)
	}

	var gvrs []schema.GroupVersionResource
	for _, list := range resourceLists {
		gv, parseErr := schema.ParseGroupVersion(list.GroupVersion)
		if parseErr != nil {
			c.log.Debug("teardown skipped group", "group_version", list.GroupVersion, "error", parseErr)
			continue
		}
		for idx := range list.APIResources {
			res := &list.APIResources[idx]
			// Skip subresources (e.g., pods/status, pods/log).
			if strings.Contains(res.Name, "/") {
				continue
			}
			if !slices.Contains(res.Verbs, "list") || !slices.Contains(res.Verbs, "delete") {
				continue
			}
			gvrs = append(gvrs, schema.GroupVersionResource{
				Group:    gv.Group,
				Version:  gv.Version,
				Resource: res.Name,
			})
		}
	}

	if c.cachedGVRs.CompareAndSwap(nil, &gvrs) {
		return gvrs, nil
	}
	// Another goroutine won the race — use its cached result.
	return *c.cachedGVRs.Load(), nil
}

// deleteCollection batch-deletes all labeled resources of one type in the
// namespace. If DeleteCollection is not supported (405 MethodNotAllowed), it
// falls back to listing and deleting items individually. Errors are logged
// at Debug level and skipped.
func (c *Cleaner) deleteCollection(ctx context.Context, gvr schema.GroupVersionResource, namespace, selector string) {
	res := c.dynamic.Resource(gvr).Namespace(namespace)
	listOpts := metav1.ListOptions{LabelSelector: selector}

	err := res.DeleteCollection(ctx, metav1.DeleteOptions{}, listOpts)
	if err == nil {
		return
	}
	if !apierrors.IsMethodNotSupported(err) {
		c.log.Debug("teardown skipped", "gvr", gvr.String(), "error", err)
		return
	}

	// Fallback: list and delete items individually.
	list, err := res.List(ctx, listOpts)
	if err != nil {
		c.log.Debug("teardown skipped", "gvr", gvr.String(), "error", err)
		return
	}
	for idx := range list.Items {
		name := list.Items[idx].GetName()
		if delErr := res.Delete(ctx, name, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
			c.log.Debug("teardown skipped item", "gvr", gvr.String(), "name", name, "error", delErr)
		}
	}
}
