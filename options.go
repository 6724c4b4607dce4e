package k8swait

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/giantswarm/k8swait/internal/core"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive(name string, v time.Duration) {
	if v <= 0 {
		panic(fmt.Sprintf("k8swait: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("k8swait: %s must not be empty", name))
	}
}

// Timeouts holds the per-operation deadlines of a session. Operations that
// accept an explicit timeout parameter fall back to these values when the
// caller passes zero.
type Timeouts struct {
	ApplyCRD      time.Duration
	Create        time.Duration
	Delete        time.Duration
	GetAnnotation time.Duration
	VerifyStatus  time.Duration
}

// DefaultTimeouts returns the Timeouts populated with all default values.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ApplyCRD:      DefaultApplyCRDTimeout,
		Create:        DefaultCreateTimeout,
		Delete:        DefaultDeleteTimeout,
		GetAnnotation: DefaultGetAnnotationTimeout,
		VerifyStatus:  DefaultVerifyStatusTimeout,
	}
}

// sessionConfig holds configuration for a Session, populated by Options.
type sessionConfig struct {
	app       string
	version   string
	namespace string
	lockDir   string
	timeouts  Timeouts
	scheme    *runtime.Scheme
	mapper    meta.RESTMapper
	guard     *core.Guard
}

// Option configures a Session during construction via NewSession.
// Each With* function returns an Option that sets a specific field.
//
// Several With* functions panic on invalid input (empty names, non-positive
// durations). These panics are intentional: option values are typically
// compile-time constants, so an invalid value indicates a programmer error
// rather than a runtime condition. The pattern mirrors [regexp.MustCompile]
// — fail fast during initialization instead of returning errors that would
// be universally fatal anyway.
type Option func(*sessionConfig)

// WithApp sets the fixed app label value attached to every resource the
// session creates. Default: DefaultApp.
//
// Panics if app is empty.
func WithApp(app string) Option {
	requireNonEmpty("app", app)
	return func(c *sessionConfig) {
		c.app = app
	}
}

// WithVersion sets the version label value. By default the version is taken
// from the test binary's build information, falling back to "unknown".
//
// Panics if version is empty.
func WithVersion(version string) Option {
	requireNonEmpty("version", version)
	return func(c *sessionConfig) {
		c.version = version
	}
}

// WithNamespace sets the workspace namespace the session operates in.
// Default: DefaultNamespace. The namespace is shared between concurrently
// running test binaries; isolation comes from the session's instance label.
//
// Panics if namespace is empty.
func WithNamespace(namespace string) Option {
	requireNonEmpty("namespace", namespace)
	return func(c *sessionConfig) {
		c.namespace = namespace
	}
}

// WithLockDir sets the directory holding the cross-process workspace lock
// file. Default: os.TempDir(). All test binaries bootstrapping the same
// workspace must agree on this directory for the lock to serialize them.
//
// Panics if dir is empty.
func WithLockDir(dir string) Option {
	requireNonEmpty("lock directory", dir)
	return func(c *sessionConfig) {
		c.lockDir = dir
	}
}

// WithTimeouts replaces all per-operation timeouts.
//
// Panics if any timeout is not greater than zero.
func WithTimeouts(t Timeouts) Option {
	requirePositive("apply-crd timeout", t.ApplyCRD)
	requirePositive("create timeout", t.Create)
	requirePositive("delete timeout", t.Delete)
	requirePositive("get-annotation timeout", t.GetAnnotation)
	requirePositive("verify-status timeout", t.VerifyStatus)
	return func(c *sessionConfig) {
		c.timeouts = t
	}
}

// WithScheme replaces the runtime scheme used to resolve the group, version
// and kind of typed objects. The default scheme knows all built-in client-go
// types and apiextensions v1; tests exercising custom resources register
// their types in a scheme and pass it here.
//
// Panics if scheme is nil.
func WithScheme(scheme *runtime.Scheme) Option {
	if scheme == nil {
		panic("k8swait: scheme must not be nil")
	}
	return func(c *sessionConfig) {
		c.scheme = scheme
	}
}

// WithRESTMapper replaces the REST mapper used to resolve kinds to
// resources. The default mapper is built lazily from API discovery.
//
// Panics if mapper is nil.
func WithRESTMapper(mapper meta.RESTMapper) Option {
	if mapper == nil {
		panic("k8swait: mapper must not be nil")
	}
	return func(c *sessionConfig) {
		c.mapper = mapper
	}
}

// WithGuard sets the guard object serializing the one-time workspace
// bootstrap. By default all sessions in the process share one guard, so the
// bootstrap runs exactly once per test binary; pass separate guards to give
// independent sessions independent bootstraps (e.g., distinct namespaces).
//
// Panics if guard is nil.
func WithGuard(guard *Guard) Option {
	if guard == nil {
		panic("k8swait: guard must not be nil")
	}
	return func(c *sessionConfig) {
		c.guard = guard
	}
}
