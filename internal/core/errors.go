package core

import (
	"errors"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Sentinel errors for error inspection with errors.Is.
var (
	// ErrTimedOut is returned (wrapped in a *TimeoutError) when a condition
	// is not satisfied before the deadline. This is the common, expected
	// "test failed" signal: the cluster answered, but the resource never
	// reached the desired state.
	ErrTimedOut = errors.New("condition not satisfied within timeout")

	// ErrWatchFailed is returned (wrapped in a *WatchError) when the watch
	// channel itself fails in a way that cannot be recovered by
	// relist-and-resubscribe: an authorization failure, or the API server
	// persistently refusing to answer. Distinct from ErrTimedOut so callers
	// can tell "wrong state" from "cluster unreachable".
	ErrWatchFailed = errors.New("watch channel failed")
)

// TimeoutError reports that a condition was not satisfied before the
// deadline. LastObserved carries the most recent non-satisfying snapshot so
// failure diagnostics can report what was actually seen; it is nil when no
// matching resource was ever observed.
type TimeoutError struct {
	Scope        Scope
	Timeout      time.Duration
	LastObserved *unstructured.Unstructured

	// Observed is the member count of the last aggregate view for
	// aggregate conditions; zero for single-resource conditions, whose
	// last view is LastObserved.
	Observed int
}

func (e *TimeoutError) Error() string {
	switch {
	case e.LastObserved != nil:
		return fmt.Sprintf("%s condition not satisfied within %s: last observed resourceVersion %s",
			e.Scope, e.Timeout, e.LastObserved.GetResourceVersion())
	case e.Observed > 0:
		return fmt.Sprintf("%s aggregate condition not satisfied within %s: last view had %d member(s)",
			e.Scope, e.Timeout, e.Observed)
	default:
		return fmt.Sprintf("%s condition not satisfied within %s: no matching resource observed", e.Scope, e.Timeout)
	}
}

func (e *TimeoutError) Unwrap() error { return ErrTimedOut }

// WatchError reports an unrecoverable failure of the watch channel or the
// relist that backs it. Err holds the underlying cause.
type WatchError struct {
	Scope Scope
	Err   error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("%s watch failed: %v", e.Scope, e.Err)
}

// Unwrap exposes both the ErrWatchFailed sentinel and the underlying cause,
// so errors.Is works against either.
func (e *WatchError) Unwrap() []error { return []error{ErrWatchFailed, e.Err} }

// IsFatal reports whether err is an authorization failure. Such errors are
// surfaced immediately and never retried, unlike transient network or server
// errors which the poller absorbs via relist-and-resubscribe.
func IsFatal(err error) bool {
	return apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err)
}
