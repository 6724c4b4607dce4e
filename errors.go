package k8swait

import "github.com/giantswarm/k8swait/internal/core"

// Sentinel errors for error inspection with errors.Is.
var (
	// ErrTimedOut is wrapped by the error returned when a condition is not
	// satisfied within the timeout. This is the common, expected "test
	// failed" signal: the cluster answered, but the resource never reached
	// the desired state. The operation's return value carries the last
	// observed snapshot for diagnostics.
	ErrTimedOut = core.ErrTimedOut

	// ErrWatchFailed is wrapped by the error returned when the watch channel
	// itself fails unrecoverably: an authorization failure, or the API
	// server persistently refusing to answer. Distinct from ErrTimedOut so
	// tests can tell "wrong state" from "cluster unreachable".
	ErrWatchFailed = core.ErrWatchFailed
)

// TimeoutError is the concrete error type wrapping ErrTimedOut. It carries
// the scope, the timeout and the last observed snapshot.
//
// TimeoutError is a type alias so that errors returned from internal
// machinery can be inspected with errors.As against the public type.
type TimeoutError = core.TimeoutError

// WatchError is the concrete error type wrapping ErrWatchFailed. It carries
// the scope and the underlying cause, which errors.Is can match as well.
type WatchError = core.WatchError

// Scope identifies the set of resources an operation targeted; it appears in
// TimeoutError and WatchError for diagnostics.
type Scope = core.Scope
