// Package k8swait lets integration tests for Kubernetes operators assert on
// the eventual state of managed resources without fixed sleeps.
//
// The core is a watch-driven condition poller: given a resource and a
// predicate over its state, it subscribes to change events, evaluates the
// predicate on every observed revision, and resolves to the satisfying
// snapshot, a timeout, or a watch failure. Every poll cycle lists the
// current state before watching from the list's resourceVersion, so a
// change that lands while no subscription is open is never missed.
//
// # Basic Usage
//
//	import (
//	    corev1 "k8s.io/api/core/v1"
//	    "k8s.io/client-go/tools/clientcmd"
//
//	    "github.com/giantswarm/k8swait"
//	)
//
//	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := k8swait.NewSession(cfg, "zookeeper-test")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := session.EnsureWorkspace(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Teardown(context.Background())
//
//	pod, err := k8swait.VerifyStatus(ctx, session, "zookeeper-0",
//	    func(p *corev1.Pod) bool { return p.Status.Phase == corev1.PodRunning },
//	    30*time.Second)
//
// On timeout the returned error unwraps to [ErrTimedOut] and the returned
// object is the last observed snapshot, so a failing test can report what
// was actually seen. A failing watch channel unwraps to [ErrWatchFailed]
// instead, distinguishing "wrong state" from "cluster unreachable".
//
// # Sessions
//
// A Session carries a unique identity: its instance label is the given name
// prefix plus a fresh UUID, and every resource the session creates is
// labeled with it. List and watch calls select on those labels, so two
// concurrently running test sessions never observe each other's resources.
//
// EnsureWorkspace bootstraps the shared working namespace exactly once per
// process (later callers observe the first outcome) and serializes creation
// across concurrently running test binaries with a file lock.
//
// # Aggregate Conditions
//
// Conditions over several resources (e.g. "all 3 pods Ready") are evaluated
// against a single consistent relist of all members each time any member
// changes:
//
//	pods, err := k8swait.WaitPodsReady(ctx, session, 3, time.Minute)
package k8swait
