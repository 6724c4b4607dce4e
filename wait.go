package k8swait

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/giantswarm/k8swait/internal/core"
	"github.com/giantswarm/k8swait/internal/fieldpath"
)

// VerifyStatus blocks until the named resource of type K satisfies pred,
// the timeout elapses, or the watch fails. A zero timeout means the
// session's verify-status timeout.
//
// On success the returned object is the satisfying snapshot. On timeout the
// returned error unwraps to ErrTimedOut and the returned object is the last
// observed (non-satisfying) snapshot, so a failing test can report what was
// actually seen; it is the zero K when no matching resource was ever
// observed. An unrecoverable watch failure unwraps to ErrWatchFailed.
//
// pred is evaluated on every Added and Modified snapshot the watch
// delivers, plus the freshly listed state at every (re)subscribe. A
// snapshot that cannot be converted to K is treated as not satisfying and
// polling continues.
func VerifyStatus[T any, K Object[T]](ctx context.Context, s *Session, name string, pred func(K) bool, timeout time.Duration) (K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		var zero K
		return zero, err
	}
	sc := r.named(s, name)

	snapshot, err := s.poller.Wait(ctx, sc, typedCondition[T, K](s, pred), timeoutOr(timeout, s.timeouts.VerifyStatus))
	return convertOutcome[T, K](snapshot, err)
}

// VerifyAll blocks until the aggregate view of all session-owned resources
// of type K satisfies pred. The predicate is re-evaluated over a single
// consistent relist of all members each time any member is added, modified
// or deleted, never over accumulated per-event state. A zero timeout means
// the session's verify-status timeout.
//
// On timeout the returned slice is the last aggregate view and the error
// unwraps to ErrTimedOut.
func VerifyAll[T any, K Object[T]](ctx context.Context, s *Session, pred func([]K) bool, timeout time.Duration) ([]K, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		return nil, err
	}

	cond := func(items []unstructured.Unstructured) bool {
		objs, convErr := fromUnstructuredList[T, K](items)
		if convErr != nil {
			s.log.Debug("aggregate snapshot conversion failed, treating as not satisfied", "err", convErr)
			return false
		}
		return pred(objs)
	}

	items, err := s.poller.WaitAll(ctx, r.scope(s), cond, timeoutOr(timeout, s.timeouts.VerifyStatus))
	objs, convErr := fromUnstructuredList[T, K](items)
	if convErr != nil {
		// Conversion of the final view only fails for snapshots the
		// condition already treated as indeterminate; keep the wait error.
		objs = nil
	}
	return objs, err
}

// GetAnnotation blocks until the named resource of type K carries the given
// annotation and returns its value. A resource that exists but never gains
// the annotation ends in a timeout, not a NotFound: absence of the
// annotation is the condition being waited out. A zero timeout means the
// session's get-annotation timeout.
func GetAnnotation[T any, K Object[T]](ctx context.Context, s *Session, name, key string, timeout time.Duration) (string, error) {
	r, err := resolve[T, K](s)
	if err != nil {
		return "", err
	}
	sc := r.named(s, name)

	cond := func(u *unstructured.Unstructured) bool {
		annotations, ok := fieldpath.StringMap(u.Object, "metadata", "annotations")
		if !ok {
			return false
		}
		_, present := annotations[key]
		return present
	}

	snapshot, err := s.poller.Wait(ctx, sc, cond, timeoutOr(timeout, s.timeouts.GetAnnotation))
	if err != nil {
		return "", err
	}
	value, _ := fieldpath.StringMap(snapshot.Object, "metadata", "annotations")
	return value[key], nil
}

// WaitDeleted blocks until the named resource of type K no longer exists:
// already absent, or a Deleted event arrives. A zero timeout means the
// session's delete timeout.
func WaitDeleted[T any, K Object[T]](ctx context.Context, s *Session, name string, timeout time.Duration) error {
	r, err := resolve[T, K](s)
	if err != nil {
		return err
	}
	return s.poller.WaitGone(ctx, r.named(s, name), timeoutOr(timeout, s.timeouts.Delete))
}

// WaitPodsReady blocks until the session owns exactly expected pods and all
// of them have the Ready condition true, evaluated over a consistent view
// of all members. A zero timeout means the session's verify-status timeout.
//
// On timeout the returned slice is the last aggregate view (e.g. two Ready
// pods and one not), for failure diagnostics.
func WaitPodsReady(ctx context.Context, s *Session, expected int, timeout time.Duration) ([]*corev1.Pod, error) {
	return VerifyAll[corev1.Pod](ctx, s, func(pods []*corev1.Pod) bool {
		if len(pods) != expected {
			return false
		}
		for _, pod := range pods {
			if !PodReady(pod) {
				return false
			}
		}
		return true
	}, timeout)
}

// WaitPodsGone blocks until no pods owned by the session remain, confirming
// termination and cleanup after a teardown or scale-down. A zero timeout
// means the session's delete timeout.
func WaitPodsGone(ctx context.Context, s *Session, timeout time.Duration) error {
	_, err := VerifyAll[corev1.Pod](ctx, s, func(pods []*corev1.Pod) bool {
		return len(pods) == 0
	}, timeoutOr(timeout, s.timeouts.Delete))
	return err
}

// CheckPodsVersion verifies that every pod the session owns carries the
// given version label value, e.g. that a rolling update replaced all pods
// with the new release.
func CheckPodsVersion(ctx context.Context, s *Session, version string) error {
	pods, err := List[corev1.Pod](ctx, s)
	if err != nil {
		return err
	}
	for _, pod := range pods {
		if got := pod.Labels[VersionLabel]; got != version {
			return fmt.Errorf("[Pod/%s] version label is %q, want %q", pod.Name, got, version)
		}
	}
	return nil
}

// CheckPodsCreatedAfter verifies that every pod the session owns was created
// after the given time, confirming a restart actually replaced the pods
// instead of leaving the old ones running.
func CheckPodsCreatedAfter(ctx context.Context, s *Session, cutoff time.Time) error {
	pods, err := List[corev1.Pod](ctx, s)
	if err != nil {
		return err
	}
	for _, pod := range pods {
		if !pod.CreationTimestamp.After(cutoff) {
			return fmt.Errorf("[Pod/%s] created at %s, not after %s",
				pod.Name, pod.CreationTimestamp.Format(time.RFC3339), cutoff.Format(time.RFC3339))
		}
	}
	return nil
}

// typedCondition adapts a typed predicate to the untyped condition the
// poller evaluates. Conversion failure is indeterminate: not satisfied,
// polling continues.
func typedCondition[T any, K Object[T]](s *Session, pred func(K) bool) core.Condition {
	return func(u *unstructured.Unstructured) bool {
		obj, err := fromUnstructured[T, K](u)
		if err != nil {
			s.log.Debug("snapshot conversion failed, treating as not satisfied", "err", err)
			return false
		}
		return pred(obj)
	}
}

// convertOutcome converts the poller's terminal snapshot for typed callers,
// preserving the wait error. On timeout the snapshot is the last observed
// state; conversion failure of that diagnostic snapshot must not mask the
// wait error.
func convertOutcome[T any, K Object[T]](snapshot *unstructured.Unstructured, waitErr error) (K, error) {
	if snapshot == nil {
		var zero K
		return zero, waitErr
	}
	obj, convErr := fromUnstructured[T, K](snapshot)
	if convErr != nil {
		var zero K
		if waitErr != nil {
			return zero, waitErr
		}
		return zero, convErr
	}
	return obj, waitErr
}
