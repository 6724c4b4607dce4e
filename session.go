package k8swait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"

	"github.com/giantswarm/k8swait/internal/core"
)

// Guard serializes a one-time bootstrap: the first caller runs it, later
// callers block and then observe the same outcome.
//
// Guard is a type alias so the [core.Guard] used internally is part of the
// public API without redeclaration.
type Guard = core.Guard

// NewGuard returns a Guard whose bootstrap has not run yet.
func NewGuard() *Guard {
	return core.NewGuard()
}

// defaultGuard serializes workspace bootstrap across all sessions in the
// process that did not provide their own guard via WithGuard, so repeated
// EnsureWorkspace calls within one test binary perform the creation exactly
// once.
var defaultGuard = core.NewGuard()

// Session is a named test identity against one cluster. It derives a unique
// label set from its name prefix, attaches those labels to every resource it
// creates, and scopes every list and watch call to them, so a session only
// ever observes resources it owns.
//
// A Session is safe for concurrent use: each condition wait owns its own
// watch subscription and shares no state with concurrent waits, even when
// both target the same resource.
type Session struct {
	app      string
	instance string
	version  string

	namespace string
	labelSet  map[string]string
	selector  string
	timeouts  Timeouts

	scheme *runtime.Scheme
	mapper meta.RESTMapper

	accessor  *core.Accessor
	poller    *core.Poller
	workspace *core.Workspace
	cleaner   *core.Cleaner
	log       *slog.Logger
}

// NewSession creates a Session for the cluster reached through cfg. The
// instance label is namePrefix plus a fresh UUID, making the session's label
// set unique among all sessions past and present.
//
// NewSession performs no cluster I/O; call EnsureWorkspace before creating
// resources.
func NewSession(cfg *rest.Config, namePrefix string, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("rest config must not be nil")
	}

	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}

	return newSession(kube, dyn, nil, namePrefix, opts...)
}

// newSession wires a Session from already-constructed clients. A nil mapper
// is replaced by a deferred discovery-backed mapper. Tests inject fake
// clients and a static mapper here via export_test.go.
func newSession(
	kube kubernetes.Interface,
	dyn dynamic.Interface,
	mapper meta.RESTMapper,
	namePrefix string,
	opts ...Option,
) (*Session, error) {
	if namePrefix == "" {
		return nil, errors.New("name prefix must not be empty")
	}

	cfg := sessionConfig{
		app:       DefaultApp,
		version:   buildVersion(),
		namespace: DefaultNamespace,
		lockDir:   os.TempDir(),
		timeouts:  DefaultTimeouts(),
		guard:     defaultGuard,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.scheme == nil {
		cfg.scheme = defaultScheme()
	}
	if cfg.mapper != nil {
		mapper = cfg.mapper
	}
	if mapper == nil {
		mapper = restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(kube.Discovery()))
	}

	instance := namePrefix + "-" + uuid.NewString()
	labelSet := map[string]string{
		AppLabel:      cfg.app,
		InstanceLabel: instance,
		VersionLabel:  cfg.version,
	}
	// The selector omits the version label: a cluster update changes the
	// version of newly created resources, and the session must still
	// observe the ones created before the update.
	selector := labels.Set{
		AppLabel:      cfg.app,
		InstanceLabel: instance,
	}.String()

	s := &Session{
		app:       cfg.app,
		instance:  instance,
		version:   cfg.version,
		namespace: cfg.namespace,
		labelSet:  labelSet,
		selector:  selector,
		timeouts:  cfg.timeouts,
		scheme:    cfg.scheme,
		mapper:    mapper,
		accessor:  core.NewAccessor(dyn),
		poller:    core.NewPoller(dyn),
		// The workspace namespace is shared between sessions, so it only
		// carries the app label, never a per-session instance label.
		workspace: core.NewWorkspace(kube, cfg.namespace, map[string]string{AppLabel: cfg.app}, cfg.lockDir, cfg.guard),
		cleaner:   core.NewCleaner(dyn, kube.Discovery()),
		log:       core.Logger(),
	}
	return s, nil
}

// defaultScheme returns a scheme knowing all built-in client-go types plus
// apiextensions v1, so ApplyCRD works without registration.
func defaultScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(s))
	utilruntime.Must(apiextensionsv1.AddToScheme(s))
	return s
}

// buildVersion derives the version label from the test binary's build
// information. "unknown" when the binary carries none (e.g. go test without
// module version stamping).
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "unknown"
}

// App returns the fixed app label value.
func (s *Session) App() string { return s.app }

// Instance returns the UUID-suffixed instance label value unique to this
// session.
func (s *Session) Instance() string { return s.instance }

// Version returns the version label value.
func (s *Session) Version() string { return s.version }

// Namespace returns the workspace namespace the session operates in.
func (s *Session) Namespace() string { return s.namespace }

// Labels returns the label set attached to every resource the session
// creates. The returned map is a copy; callers may modify it without
// affecting the session.
func (s *Session) Labels() map[string]string {
	return maps.Clone(s.labelSet)
}

// Selector returns the label selector string matching resources this session
// owns.
func (s *Session) Selector() string { return s.selector }

// Timeouts returns the session's per-operation timeouts.
func (s *Session) Timeouts() Timeouts { return s.timeouts }

// EnsureWorkspace creates the workspace namespace exactly once per guard
// (by default, once per test binary). Concurrent callers block until the
// first creation attempt completes and then observe the same outcome,
// success or failure. Creation is serialized across concurrently running
// test binaries with a file lock and is idempotent: an already existing
// namespace is success.
func (s *Session) EnsureWorkspace(ctx context.Context) error {
	return s.workspace.Ensure(ctx)
}

// Teardown deletes every resource carrying this session's labels across all
// namespaced resource types, in parallel. The workspace namespace itself is
// left in place: it is shared with other test binaries.
//
// Other sessions are unaffected: the sweep selects on this session's unique
// instance label.
func (s *Session) Teardown(ctx context.Context) error {
	s.log.Info("tearing down session", "instance", s.instance)
	if err := s.cleaner.DeleteLabeled(ctx, s.namespace, s.selector); err != nil {
		return fmt.Errorf("teardown session %s: %w", s.instance, err)
	}
	return nil
}
