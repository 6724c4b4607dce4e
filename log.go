package k8swait

import (
	"log/slog"

	"github.com/giantswarm/k8swait/internal/core"
)

// SetLogger replaces the package-level logger used by k8swait.
// This allows test suites to integrate k8swait logging with their own
// logging infrastructure. The provided logger should already have any
// desired attributes; k8swait will not add additional attributes.
//
// If l is nil, the logger resets to the default: slog.Default() with a
// "component" attribute, re-derived on the next use and then cached. Call
// SetLogger(nil) after slog.SetDefault() to pick up changes.
//
// SetLogger is safe to call concurrently with other k8swait operations. For
// a strict happens-before guarantee, call it before starting goroutines that
// use the library (e.g., in TestMain before m.Run).
//
// Every observed watch event and every terminal outcome is logged with a
// "[<Kind>/<name>]" message prefix; events at Debug, terminal outcomes at
// Info or Warn.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
