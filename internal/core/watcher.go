package core

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

// Watcher opens change-event subscriptions scoped to a resource type,
// namespace and name or label selector. A subscription is a lazy, ordered
// sequence of watch events; it is infinite until stopped or dropped and is
// not restartable. Deciding whether to resubscribe after closure is the
// Poller's responsibility, since resubscription semantics depend on whether
// the overall deadline has elapsed.
type Watcher struct {
	client dynamic.Interface
	log    *slog.Logger
}

// NewWatcher returns a Watcher over the given dynamic client.
func NewWatcher(client dynamic.Interface) *Watcher {
	return &Watcher{client: client, log: Logger()}
}

// Subscribe opens a watch for the scope starting at the given collection
// resourceVersion, which must come from a List of the same scope so that no
// event between the list and the watch is missed. Bookmarks are requested;
// the consumer ignores them as liveness markers.
//
// Both Added and Modified events are delivered to the consumer. Deleted
// events are passed through without interpretation.
func (w *Watcher) Subscribe(ctx context.Context, s Scope, resourceVersion string) (watch.Interface, error) {
	opts := s.ListOptions()
	opts.ResourceVersion = resourceVersion
	opts.AllowWatchBookmarks = true

	var res dynamic.ResourceInterface = w.client.Resource(s.GVR)
	if s.Namespace != "" {
		res = w.client.Resource(s.GVR).Namespace(s.Namespace)
	}

	sub, err := res.Watch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", s, err)
	}
	w.log.Debug(s.String()+" subscription opened", "resourceVersion", resourceVersion)
	return sub, nil
}
