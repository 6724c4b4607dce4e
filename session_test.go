package k8swait

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jsonpatch "gopkg.in/evanphx/json-patch.v4"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	k8stesting "k8s.io/client-go/testing"
)

var podGVR = schema.GroupVersionResource{Version: "v1", Resource: "pods"}

// watchController hands out a fresh fake watcher per subscription and
// signals each subscribe, so tests can inject events without racing the
// list-then-watch cycle.
type watchController struct {
	mu         sync.Mutex
	watchers   []*watch.RaceFreeFakeWatcher
	subscribed chan struct{}
}

func (c *watchController) react(k8stesting.Action) (bool, watch.Interface, error) {
	fw := watch.NewRaceFreeFake()
	c.mu.Lock()
	c.watchers = append(c.watchers, fw)
	c.mu.Unlock()
	c.subscribed <- struct{}{}
	return true, fw, nil
}

func (c *watchController) current(t *testing.T) *watch.RaceFreeFakeWatcher {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.watchers) == 0 {
		t.Fatal("no subscription established yet")
	}
	return c.watchers[len(c.watchers)-1]
}

func (c *watchController) awaitSubscribe(t *testing.T) {
	t.Helper()
	select {
	case <-c.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a watch subscription")
	}
}

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(s); err != nil {
		t.Fatalf("build scheme: %v", err)
	}
	if err := apiextensionsv1.AddToScheme(s); err != nil {
		t.Fatalf("build scheme: %v", err)
	}
	return s
}

func newTestMapper() meta.RESTMapper {
	m := meta.NewDefaultRESTMapper(nil)
	m.Add(corev1.SchemeGroupVersion.WithKind("Pod"), meta.RESTScopeNamespace)
	m.Add(corev1.SchemeGroupVersion.WithKind("ConfigMap"), meta.RESTScopeNamespace)
	m.Add(apiextensionsv1.SchemeGroupVersion.WithKind("CustomResourceDefinition"), meta.RESTScopeRoot)
	return m
}

// supportServerSideApply works around the fake dynamic client's legacy
// object tracker, which cannot serve server-side apply for unstructured
// resources: it rejects an absent resource with NotFound instead of creating
// it, and its strategic-merge fallback cannot introspect Unstructured. The
// reactor emulates apply as create-when-absent plus a JSON merge patch over
// the existing object.
func supportServerSideApply(dyn *dynamicfake.FakeDynamicClient) {
	dyn.PrependReactor("patch", "*", func(action k8stesting.Action) (bool, runtime.Object, error) {
		patch, ok := action.(k8stesting.PatchActionImpl)
		if !ok || patch.GetPatchType() != types.ApplyPatchType {
			return false, nil, nil
		}
		tracker := dyn.Tracker()
		existing, err := tracker.Get(patch.GetResource(), patch.GetNamespace(), patch.GetName())
		if apierrors.IsNotFound(err) {
			obj := &unstructured.Unstructured{}
			if err := obj.UnmarshalJSON(patch.GetPatch()); err != nil {
				return true, nil, err
			}
			if err := tracker.Create(patch.GetResource(), obj, patch.GetNamespace()); err != nil {
				return true, nil, err
			}
			return true, obj, nil
		}
		if err != nil {
			return true, nil, err
		}
		old, err := json.Marshal(existing)
		if err != nil {
			return true, nil, err
		}
		merged, err := jsonpatch.MergePatch(old, patch.GetPatch())
		if err != nil {
			return true, nil, err
		}
		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(merged); err != nil {
			return true, nil, err
		}
		if err := tracker.Update(patch.GetResource(), obj, patch.GetNamespace()); err != nil {
			return true, nil, err
		}
		return true, obj, nil
	})
}

// newTestSession wires a Session over fake clients with watches routed
// through the returned controller. Each session gets its own guard so tests
// never share bootstrap state.
func newTestSession(t *testing.T, opts ...Option) (*Session, *dynamicfake.FakeDynamicClient, *watchController) {
	t.Helper()

	dyn := dynamicfake.NewSimpleDynamicClient(newTestScheme(t))
	supportServerSideApply(dyn)
	ctrl := &watchController{subscribed: make(chan struct{}, 16)}
	dyn.PrependWatchReactor("*", ctrl.react)

	opts = append([]Option{
		WithGuard(NewGuard()),
		WithLockDir(t.TempDir()),
	}, opts...)

	s, err := NewSessionForTesting(kubefake.NewClientset(), dyn, newTestMapper(), "demo", opts...)
	if err != nil {
		t.Fatalf("build session: %v", err)
	}
	return s, dyn, ctrl
}

// newPod builds a typed pod in the session's namespace. The session's labels
// are attached by Create, not here.
func newPod(s *Session, name string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.Namespace(),
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

// podUnstructured converts a typed pod into the unstructured form watch
// events carry.
func podUnstructured(t *testing.T, pod *corev1.Pod) *unstructured.Unstructured {
	t.Helper()
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(pod)
	if err != nil {
		t.Fatalf("convert pod: %v", err)
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetAPIVersion("v1")
	u.SetKind("Pod")
	return u
}

// updatePod writes the pod's new state into the fake cluster and delivers
// the matching Modified event on the open subscription.
func updatePod(t *testing.T, dyn *dynamicfake.FakeDynamicClient, ctrl *watchController, pod *corev1.Pod) {
	t.Helper()
	u := podUnstructured(t, pod)
	_, err := dyn.Resource(podGVR).Namespace(pod.Namespace).Update(context.Background(), u, metav1.UpdateOptions{})
	if err != nil {
		t.Fatalf("update pod: %v", err)
	}
	ctrl.current(t).Modify(u)
}

// TestNewSessionValidation verifies constructor argument checks.
func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	t.Run("nil rest config", func(t *testing.T) {
		t.Parallel()
		if _, err := NewSession(nil, "demo"); err == nil {
			t.Fatal("NewSession with nil config must fail")
		}
	})

	t.Run("empty name prefix", func(t *testing.T) {
		t.Parallel()
		_, err := NewSessionForTesting(kubefake.NewClientset(), dynamicfake.NewSimpleDynamicClient(newTestScheme(t)), newTestMapper(), "")
		if err == nil {
			t.Fatal("empty name prefix must fail")
		}
	})
}

// TestSessionIdentity verifies the derived label set: the instance label is
// the prefix plus a unique suffix, and the selector matches on app and
// instance but deliberately not on version.
func TestSessionIdentity(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t, WithVersion("1.2.3"))

	if !strings.HasPrefix(s.Instance(), "demo-") {
		t.Fatalf("instance = %q, want %q prefix", s.Instance(), "demo-")
	}
	if len(s.Instance()) <= len("demo-") {
		t.Fatal("instance must carry a unique suffix")
	}

	lbls := s.Labels()
	if lbls[AppLabel] != s.App() || lbls[InstanceLabel] != s.Instance() || lbls[VersionLabel] != "1.2.3" {
		t.Fatalf("label set = %v", lbls)
	}

	sel := s.Selector()
	if !strings.Contains(sel, InstanceLabel+"="+s.Instance()) {
		t.Fatalf("selector %q must match the instance label", sel)
	}
	if strings.Contains(sel, VersionLabel) {
		t.Fatalf("selector %q must not match on the version label", sel)
	}

	// The returned label map is a copy.
	lbls[AppLabel] = "tampered"
	if s.Labels()[AppLabel] == "tampered" {
		t.Fatal("Labels must return a copy")
	}
}

// TestSessionInstancesAreUnique verifies that two sessions with the same
// prefix never share a selector.
func TestSessionInstancesAreUnique(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestSession(t)
	b, _, _ := newTestSession(t)

	if a.Instance() == b.Instance() {
		t.Fatalf("both sessions derived instance %q", a.Instance())
	}
	if a.Selector() == b.Selector() {
		t.Fatal("sessions must have disjoint selectors")
	}
}

// TestEnsureWorkspace verifies one-time namespace creation per guard.
func TestEnsureWorkspace(t *testing.T) {
	t.Parallel()

	kube := kubefake.NewClientset()
	var creates atomic.Int32
	kube.PrependReactor("create", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
		creates.Add(1)
		return false, nil, nil
	})

	dyn := dynamicfake.NewSimpleDynamicClient(newTestScheme(t))
	s, err := NewSessionForTesting(kube, dyn, newTestMapper(), "demo",
		WithGuard(NewGuard()), WithLockDir(t.TempDir()), WithNamespace("ws-ensure"))
	if err != nil {
		t.Fatalf("build session: %v", err)
	}

	ctx := context.Background()
	for range 3 {
		if err := s.EnsureWorkspace(ctx); err != nil {
			t.Fatalf("EnsureWorkspace: %v", err)
		}
	}
	if got := creates.Load(); got != 1 {
		t.Fatalf("namespace created %d times, want 1", got)
	}

	ns, err := kube.CoreV1().Namespaces().Get(ctx, "ws-ensure", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get namespace: %v", err)
	}
	if got := ns.Labels[AppLabel]; got != DefaultApp {
		t.Fatalf("namespace app label = %q, want %q", got, DefaultApp)
	}
}

// TestTeardownLeavesNamespace verifies that Teardown completes and never
// deletes the shared workspace namespace.
func TestTeardownLeavesNamespace(t *testing.T) {
	t.Parallel()

	kube := kubefake.NewClientset()
	dyn := dynamicfake.NewSimpleDynamicClient(newTestScheme(t))
	s, err := NewSessionForTesting(kube, dyn, newTestMapper(), "demo",
		WithGuard(NewGuard()), WithLockDir(t.TempDir()))
	if err != nil {
		t.Fatalf("build session: %v", err)
	}

	ctx := context.Background()
	if err := s.EnsureWorkspace(ctx); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if err := s.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}

	if _, err := kube.CoreV1().Namespaces().Get(ctx, s.Namespace(), metav1.GetOptions{}); err != nil {
		t.Fatalf("workspace namespace must survive teardown: %v", err)
	}
}
