package k8swait

import "time"

// Label keys attached to every resource a session creates and used as the
// selector for subsequent list and watch calls. They follow the Kubernetes
// recommended label set.
const (
	// AppLabel carries the fixed application name of the session.
	AppLabel = "app.kubernetes.io/name"

	// InstanceLabel carries the UUID-suffixed instance name unique to one
	// session, so concurrent sessions never observe each other's resources.
	InstanceLabel = "app.kubernetes.io/instance"

	// VersionLabel carries the build-provided version of the session.
	VersionLabel = "app.kubernetes.io/version"
)

// Default configuration values for NewSession.
// These constants are exported so callers can reference the defaults when
// building custom configurations relative to them (e.g., 2 * DefaultVerifyStatusTimeout).
const (
	// DefaultApp is the value of the app label when WithApp is not given.
	DefaultApp = "k8swait"

	// DefaultNamespace is the shared workspace namespace when WithNamespace
	// is not given. It is a fixed name: the workspace is created once and
	// shared by concurrently running test binaries, which isolate through
	// their instance labels rather than through namespaces.
	DefaultNamespace = "k8swait"

	// DefaultApplyCRDTimeout bounds ApplyCRD, including the wait for the
	// Established condition.
	DefaultApplyCRDTimeout = 30 * time.Second

	// DefaultCreateTimeout bounds Create, including the wait for the created
	// resource to become visible to list/watch.
	DefaultCreateTimeout = 10 * time.Second

	// DefaultDeleteTimeout bounds Delete, including the wait for the
	// deletion to be confirmed.
	DefaultDeleteTimeout = 10 * time.Second

	// DefaultGetAnnotationTimeout bounds GetAnnotation's wait for the
	// annotation to appear.
	DefaultGetAnnotationTimeout = 10 * time.Second

	// DefaultVerifyStatusTimeout bounds VerifyStatus and VerifyAll when the
	// caller passes a zero timeout.
	DefaultVerifyStatusTimeout = 30 * time.Second
)
