package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

// reconnectDelay is the pause before retrying a failed list or subscribe
// call. It only needs to be long enough to avoid hammering an API server
// that is momentarily unavailable; the overall deadline bounds total wait.
const reconnectDelay = 200 * time.Millisecond

// maxConsecutiveFailures is the number of consecutive list/subscribe
// failures after which the poller gives up with a WatchError instead of
// burning the remaining deadline. A resource that never reaches the desired
// state is a timeout; an API server that never answers is a watch failure,
// and the two must stay distinguishable.
const maxConsecutiveFailures = 5

// Condition is a predicate over a single resource snapshot. It must be pure:
// the snapshot is never mutated after creation and may be retained by the
// poller as the last-observed state.
type Condition func(obj *unstructured.Unstructured) bool

// AggregateCondition is a predicate over the current aggregate view of all
// resources in a selector scope. It is evaluated against a single consistent
// relist snapshot each time any member changes, never against accumulated
// per-event state.
type AggregateCondition func(objs []unstructured.Unstructured) bool

// Poller drives a Watcher subscription and applies a caller-supplied
// condition to every observed snapshot, resolving to the satisfying
// snapshot, a timeout, or a watch failure.
//
// The state machine is Waiting -> {Satisfied, TimedOut, WatchFailed}, all
// three terminal. Each cycle lists the current state first and watches from
// the list's resourceVersion, so a change that lands between a connection
// drop and the resubscribe is never missed: the relist observes it.
//
// A Poller run owns its subscription exclusively; concurrent polls of the
// same resource never share state.
type Poller struct {
	accessor *Accessor
	watcher  *Watcher
	log      *slog.Logger
}

// NewPoller returns a Poller over the given dynamic client.
func NewPoller(client dynamic.Interface) *Poller {
	return &Poller{
		accessor: NewAccessor(client),
		watcher:  NewWatcher(client),
		log:      Logger(),
	}
}

// Wait blocks until a resource in the scope satisfies cond, the timeout
// elapses, or the watch fails. On success it returns the satisfying
// snapshot. On timeout it returns the last observed snapshot (nil if none)
// together with a *TimeoutError; on watch failure a *WatchError.
//
// cond is applied to every Added and Modified snapshot. Deleted snapshots
// update the last-observed state but are not evaluated; deletion-satisfies
// conditions are expressed with WaitGone or an AggregateCondition. Bookmark
// events are ignored.
func (p *Poller) Wait(ctx context.Context, s Scope, cond Condition, timeout time.Duration) (*unstructured.Unstructured, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *unstructured.Unstructured
	failures := 0

	for {
		list, err := p.accessor.List(ctx, s)
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, last, 0); termErr != nil {
				return last, termErr
			}
			continue
		}
		failures = 0

		// Evaluate the freshly listed state before watching. This is the
		// relist half of the reconnect-safety invariant: a satisfying state
		// reached while no subscription was open is caught here.
		for i := range list.Items {
			obj := &list.Items[i]
			last = obj
			if cond(obj) {
				p.log.Info(s.Ref(obj.GetName()) + " condition satisfied")
				return obj, nil
			}
		}

		sub, err := p.watcher.Subscribe(ctx, s, list.GetResourceVersion())
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, last, 0); termErr != nil {
				return last, termErr
			}
			continue
		}

		satisfying, termErr := p.consume(ctx, s, sub, cond, &last, timeout)
		if satisfying != nil {
			return satisfying, nil
		}
		if termErr != nil {
			return last, termErr
		}
		// Subscription ended without a terminal outcome: pause, then relist
		// and resubscribe.
		if termErr := p.pause(ctx, s, timeout, last, 0); termErr != nil {
			return last, termErr
		}
	}
}

// consume drains one subscription. It returns the satisfying snapshot, or a
// terminal error, or (nil, nil) when the subscription ended recoverably and
// the caller must relist and resubscribe.
func (p *Poller) consume(
	ctx context.Context,
	s Scope,
	sub watch.Interface,
	cond Condition,
	last **unstructured.Unstructured,
	timeout time.Duration,
) (*unstructured.Unstructured, error) {
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, p.deadlineError(ctx, s, timeout, *last, 0)

		case ev, ok := <-sub.ResultChan():
			if !ok {
				// Connection dropped before the deadline: recoverable.
				p.log.Debug(s.String() + " subscription closed, relisting")
				return nil, nil
			}

			switch ev.Type {
			case watch.Bookmark:
				// Liveness marker, not a state change.

			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				if IsFatal(err) {
					p.log.Warn(s.String()+" watch failed", "err", err)
					return nil, &WatchError{Scope: s, Err: err}
				}
				p.log.Debug(s.String()+" transient watch error, relisting", "err", err)
				return nil, nil

			case watch.Added, watch.Modified:
				obj, isObj := ev.Object.(*unstructured.Unstructured)
				if !isObj {
					continue
				}
				*last = obj
				p.log.Debug(s.Ref(obj.GetName())+" observed "+string(ev.Type),
					"resourceVersion", obj.GetResourceVersion())
				if cond(obj) {
					p.log.Info(s.Ref(obj.GetName()) + " condition satisfied")
					return obj, nil
				}

			case watch.Deleted:
				// Passed through without interpretation.
				if obj, isObj := ev.Object.(*unstructured.Unstructured); isObj {
					*last = obj
					p.log.Debug(s.Ref(obj.GetName()) + " observed DELETED")
				}
			}
		}
	}
}

// WaitAll blocks until the aggregate view of all resources in the selector
// scope satisfies cond. The condition is re-evaluated over a fresh list
// whenever any member is added, modified or deleted, so the final answer
// always reflects a single consistent snapshot-in-time read of all members.
//
// On timeout the last aggregate view is returned together with a
// *TimeoutError so diagnostics can report what was actually seen.
func (p *Poller) WaitAll(ctx context.Context, s Scope, cond AggregateCondition, timeout time.Duration) ([]unstructured.Unstructured, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last []unstructured.Unstructured
	failures := 0

	for {
		list, err := p.accessor.List(ctx, s)
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, nil, len(last)); termErr != nil {
				return last, termErr
			}
			continue
		}
		failures = 0

		last = list.Items
		if cond(list.Items) {
			p.log.Info(s.String()+" aggregate condition satisfied", "members", len(list.Items))
			return list.Items, nil
		}

		sub, err := p.watcher.Subscribe(ctx, s, list.GetResourceVersion())
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, nil, len(last)); termErr != nil {
				return last, termErr
			}
			continue
		}

		satisfied, termErr := p.consumeAggregate(ctx, s, sub, cond, &last, timeout)
		if satisfied {
			return last, nil
		}
		if termErr != nil {
			return last, termErr
		}
		if termErr := p.pause(ctx, s, timeout, nil, len(last)); termErr != nil {
			return last, termErr
		}
	}
}

// consumeAggregate drains one subscription for an aggregate condition. Any
// member event triggers a relist and re-evaluation. It returns satisfied, or
// a terminal error, or (false, nil) when the caller must resubscribe.
func (p *Poller) consumeAggregate(
	ctx context.Context,
	s Scope,
	sub watch.Interface,
	cond AggregateCondition,
	last *[]unstructured.Unstructured,
	timeout time.Duration,
) (bool, error) {
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, p.deadlineError(ctx, s, timeout, nil, len(*last))

		case ev, ok := <-sub.ResultChan():
			if !ok {
				p.log.Debug(s.String() + " subscription closed, relisting")
				return false, nil
			}

			switch ev.Type {
			case watch.Bookmark:
				// Liveness marker, not a state change.

			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				if IsFatal(err) {
					p.log.Warn(s.String()+" watch failed", "err", err)
					return false, &WatchError{Scope: s, Err: err}
				}
				p.log.Debug(s.String()+" transient watch error, relisting", "err", err)
				return false, nil

			case watch.Added, watch.Modified, watch.Deleted:
				if obj, isObj := ev.Object.(*unstructured.Unstructured); isObj {
					p.log.Debug(s.Ref(obj.GetName()) + " observed " + string(ev.Type))
				}

				// Single consistent snapshot-in-time read of all members.
				list, err := p.accessor.List(ctx, s)
				if err != nil {
					if IsFatal(err) {
						return false, &WatchError{Scope: s, Err: err}
					}
					p.log.Debug(s.String()+" relist failed, resubscribing", "err", err)
					return false, nil
				}
				*last = list.Items
				if cond(list.Items) {
					p.log.Info(s.String()+" aggregate condition satisfied", "members", len(list.Items))
					return true, nil
				}
			}
		}
	}
}

// WaitGone blocks until the resource named by the scope no longer exists:
// either it is already absent at a relist, or a Deleted event arrives.
func (p *Poller) WaitGone(ctx context.Context, s Scope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *unstructured.Unstructured
	failures := 0

	for {
		list, err := p.accessor.List(ctx, s)
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, last, 0); termErr != nil {
				return termErr
			}
			continue
		}
		failures = 0

		if len(list.Items) == 0 {
			p.log.Info(s.String() + " gone")
			return nil
		}
		last = &list.Items[0]

		sub, err := p.watcher.Subscribe(ctx, s, list.GetResourceVersion())
		if err != nil {
			if termErr := p.retry(ctx, s, err, &failures, timeout, last, 0); termErr != nil {
				return termErr
			}
			continue
		}

		gone, termErr := p.consumeUntilDeleted(ctx, s, sub, &last, timeout)
		if gone {
			p.log.Info(s.String() + " gone")
			return nil
		}
		if termErr != nil {
			return termErr
		}
		if termErr := p.pause(ctx, s, timeout, last, 0); termErr != nil {
			return termErr
		}
	}
}

// consumeUntilDeleted drains one subscription until a Deleted event for the
// scope arrives. It returns gone, or a terminal error, or (false, nil) when
// the caller must relist and resubscribe.
func (p *Poller) consumeUntilDeleted(
	ctx context.Context,
	s Scope,
	sub watch.Interface,
	last **unstructured.Unstructured,
	timeout time.Duration,
) (bool, error) {
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, p.deadlineError(ctx, s, timeout, *last, 0)

		case ev, ok := <-sub.ResultChan():
			if !ok {
				p.log.Debug(s.String() + " subscription closed, relisting")
				return false, nil
			}

			switch ev.Type {
			case watch.Bookmark:
				// Liveness marker, not a state change.

			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				if IsFatal(err) {
					return false, &WatchError{Scope: s, Err: err}
				}
				return false, nil

			case watch.Deleted:
				return true, nil

			case watch.Added, watch.Modified:
				if obj, isObj := ev.Object.(*unstructured.Unstructured); isObj {
					*last = obj
				}
			}
		}
	}
}

// retry classifies a failed list or subscribe call. It returns a terminal
// error when the failure is fatal, the deadline has expired, or the API has
// failed maxConsecutiveFailures times in a row; otherwise it pauses for
// reconnectDelay and returns nil so the caller can relist.
func (p *Poller) retry(
	ctx context.Context,
	s Scope,
	opErr error,
	failures *int,
	timeout time.Duration,
	last *unstructured.Unstructured,
	observed int,
) error {
	if IsFatal(opErr) {
		p.log.Warn(s.String()+" fatal API error", "err", opErr)
		return &WatchError{Scope: s, Err: opErr}
	}
	if ctx.Err() != nil {
		return p.deadlineError(ctx, s, timeout, last, observed)
	}

	*failures++
	if *failures >= maxConsecutiveFailures {
		p.log.Warn(s.String()+" giving up after consecutive failures", "failures", *failures, "err", opErr)
		return &WatchError{Scope: s, Err: fmt.Errorf("%d consecutive failures, last: %w", *failures, opErr)}
	}

	p.log.Debug(s.String()+" transient failure, will relist", "err", opErr, "failures", *failures)
	return p.pause(ctx, s, timeout, last, observed)
}

// pause sleeps reconnectDelay before the next relist, so a subscription that
// keeps closing immediately does not spin against the API server.
func (p *Poller) pause(ctx context.Context, s Scope, timeout time.Duration, last *unstructured.Unstructured, observed int) error {
	select {
	case <-ctx.Done():
		return p.deadlineError(ctx, s, timeout, last, observed)
	case <-time.After(reconnectDelay):
		return nil
	}
}

// deadlineError converts a done context into the appropriate terminal error:
// a *TimeoutError when the poller's own deadline expired, or the caller's
// cancellation error untouched.
func (p *Poller) deadlineError(ctx context.Context, s Scope, timeout time.Duration, last *unstructured.Unstructured, observed int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.log.Warn(s.String()+" timed out", "timeout", timeout)
		return &TimeoutError{Scope: s, Timeout: timeout, LastObserved: last, Observed: observed}
	}
	return ctx.Err()
}
