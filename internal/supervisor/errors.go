package supervisor

import "errors"

var (
	// ErrLaunchFailed wraps spawn and handshake errors.
	ErrLaunchFailed = errors.New("language server launch failed")

	// ErrShutdownFailed wraps errors from a graceful stop.
	ErrShutdownFailed = errors.New("language server shutdown failed")

	// ErrServerCrashed is reported when a running server exits on its own.
	ErrServerCrashed = errors.New("language server exited unexpectedly")
)
