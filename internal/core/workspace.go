package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// fileLockRetryInterval is the interval between consecutive attempts to
// acquire the workspace file lock. 50ms balances responsiveness (low wait
// after the holder releases) against CPU overhead from busy-polling.
const fileLockRetryInterval = 50 * time.Millisecond

// Guard serializes a one-time bootstrap within a process. The first caller
// runs the function; later callers block until it completes and then observe
// the same outcome, success or failure. It is an explicit, injectable object
// rather than hidden package state, so multiple independent sessions in the
// same process can share or separate their bootstrap as needed.
type Guard struct {
	mu   sync.Mutex
	done bool
	err  error
}

// NewGuard returns a Guard whose bootstrap has not run yet.
func NewGuard() *Guard {
	return &Guard{}
}

// Do runs fn exactly once for the lifetime of the Guard. Concurrent callers
// block on the mutex for the duration of the bootstrap call; the mutex is
// released on all exit paths including failure. The first outcome is cached
// and returned to every subsequent caller.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return g.err
	}
	g.err = fn()
	g.done = true
	return g.err
}

// Workspace performs the one-time creation of the namespace-scoped working
// area a session operates in. Creation is idempotent: the namespace already
// existing is success, so concurrently running test binaries can all call
// Ensure against the same namespace.
type Workspace struct {
	client    kubernetes.Interface
	namespace string
	labels    map[string]string
	lockDir   string
	guard     *Guard
	log       *slog.Logger
}

// NewWorkspace returns a Workspace for the given namespace. The guard
// serializes Ensure within the process; the lock directory hosts the flock
// file that serializes it across processes.
func NewWorkspace(client kubernetes.Interface, namespace string, labels map[string]string, lockDir string, guard *Guard) *Workspace {
	return &Workspace{
		client:    client,
		namespace: namespace,
		labels:    labels,
		lockDir:   lockDir,
		guard:     guard,
		log:       Logger(),
	}
}

// Ensure creates the workspace namespace exactly once per Guard. Within the
// process the Guard serializes callers; across processes a file lock
// serializes the creation attempt, so concurrent test binaries bootstrapping
// the same namespace perform one effective creation between them.
func (w *Workspace) Ensure(ctx context.Context) error {
	return w.guard.Do(func() error {
		lockPath := filepath.Join(w.lockDir, "k8swait-"+w.namespace+".lock")
		fl, err := acquireFileLock(ctx, lockPath)
		if err != nil {
			return err
		}
		defer releaseFileLock(w.log, fl)

		return w.createNamespace(ctx)
	})
}

// createNamespace creates the workspace namespace, treating AlreadyExists as
// success. Authorization failures and other API errors are surfaced as-is.
func (w *Workspace) createNamespace(ctx context.Context) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   w.namespace,
			Labels: w.labels,
		},
	}

	_, err := w.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		w.log.Debug("workspace namespace already exists", "namespace", w.namespace)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create workspace namespace %s: %w", w.namespace, err)
	}

	w.log.Info("created workspace namespace", "namespace", w.namespace)
	return nil
}

// acquireFileLock acquires an exclusive lock on the given file path.
// It respects context cancellation and returns early if the context is
// canceled. Lock acquisition is retried at fileLockRetryInterval until
// successful or the context is done.
func acquireFileLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, fileLockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, err)
	}

	if !locked {
		// TryLockContext should return an error when it fails, but handle
		// the case where it returns (false, nil) unexpectedly.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, ctx.Err())
		}

		return nil, fmt.Errorf("acquiring file lock %s: lock not acquired", lockPath)
	}

	return fl, nil
}

// releaseFileLock releases the file lock and closes the file descriptor.
// The lock file is intentionally left on disk to avoid a race where removing
// it could invalidate a lock concurrently acquired by another process.
// Close() calls Unlock() internally, so no explicit Unlock is needed.
// This is best-effort cleanup, so errors are logged rather than returned.
func releaseFileLock(log *slog.Logger, fl *flock.Flock) {
	if fl != nil {
		if err := fl.Close(); err != nil {
			log.Debug("failed to release file lock", "path", fl.Path(), "err", err)
		}
	}
}
