// Package supervisor keeps at most one language-server instance alive and
// serializes start, stop and restart requests from independent triggers.
//
// States move idle -> starting -> running -> stopping -> idle, with
// starting -> idle on a failed launch. The transitional states double as
// in-flight guards: a repeated call of the same kind returns at once, a
// call of the other kind waits for the transition to settle. Nothing is
// queued. Failures never reach the caller; they are logged and passed to
// the Notifier.
package supervisor
