// Package core provides the internal implementation of the k8swait library.
// It contains the Accessor (label- and name-scoped get/list/create/delete over
// the dynamic client), the Watcher (a single non-restartable watch
// subscription per scope), the Poller (the relist-then-watch condition state
// machine with reconnect safety and a wall-clock deadline), the Workspace
// (once-guarded, cross-process-serialized namespace bootstrap) and the
// Cleaner (bounded-parallel deletion of session-labeled resources).
package core
