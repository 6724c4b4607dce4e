package k8swait

import (
	"context"
	"testing"
)

// CreateTemporary creates the resource like Create and binds its lifetime to
// the test: deletion is registered as a cleanup on tb and runs when the test
// exits, whether it passed, failed or panicked. The deletion is confirmed
// within the session's delete timeout; a failed deletion fails the test.
//
// Resources whose cleanup never got to run (e.g. the process was killed) are
// still covered by the Session.Teardown label sweep.
func CreateTemporary[T any, K Object[T]](ctx context.Context, s *Session, tb testing.TB, obj K) (K, error) {
	created, err := Create(ctx, s, obj)
	if err != nil {
		var zero K
		return zero, err
	}

	name := created.GetName()
	tb.Cleanup(func() {
		// The test's context may already be canceled during cleanup.
		if err := Delete[T, K](context.Background(), s, name); err != nil {
			tb.Errorf("delete temporary %s: %v", name, err)
		}
	})
	return created, nil
}
