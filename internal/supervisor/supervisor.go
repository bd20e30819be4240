package supervisor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/logging"
)

// Handle is one language-server instance as seen by the supervisor.
// A handle is started at most once and disposed exactly once.
type Handle interface {
	// Start spawns the server and completes the handshake.
	Start(ctx context.Context) error
	// Stop asks a running server to shut down gracefully.
	Stop(ctx context.Context) error
	// Dispose releases everything the handle holds. Idempotent.
	Dispose()
	// IsRunning reports whether the server is up and has not been stopped.
	IsRunning() bool
}

// exitWatcher is implemented by handles that can report an unexpected exit.
type exitWatcher interface {
	Exited() <-chan struct{}
}

// Options configures a Supervisor.
type Options struct {
	// Resolve builds a fresh LaunchSpec for each start attempt. Required.
	Resolve func() (config.LaunchSpec, error)
	// NewHandle creates the handle for an accepted start. Required.
	NewHandle func(spec config.LaunchSpec, launchID string) Handle
	// Notifier receives operator notifications.
	Notifier Notifier
	// OnStateChange is called on every transition, in order.
	// It runs with the supervisor locked and must not call back into it.
	OnStateChange func(launchID string, from, to State)
	Metrics       *Metrics
	Logger        logging.Logger
}

// Supervisor owns at most one Handle and serializes start, stop and restart
// against it. Overlapping calls of the same kind are dropped; a start during
// a stop (or a stop during a start) waits for the other to settle.
type Supervisor struct {
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	state     State
	handle    Handle
	launchID  string
	spec      *config.LaunchSpec
	startedAt time.Time
	lastErr   error
	launches  int
	closed    bool

	// settled is closed when the current transitional state ends.
	settled chan struct{}
	// released is closed when the running handle is let go.
	released chan struct{}
}

// New creates an idle supervisor.
func New(opts Options) *Supervisor {
	if opts.Resolve == nil || opts.NewHandle == nil {
		panic("supervisor: Options.Resolve and Options.NewHandle are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("supervisor")
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	opts.Metrics.setState(StateIdle)
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger,
		state:  StateIdle,
	}
}

// Start launches the server unless one is starting or running already.
// It returns once the launch has succeeded or failed; failures are logged
// and sent to the notifier. ctx only bounds waiting for a stop in progress.
func (s *Supervisor) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.logger.Debug("Start ignored after deactivation")
			return
		}
		switch s.state {
		case StateStarting:
			s.mu.Unlock()
			s.opts.Metrics.drop("start")
			s.logger.Debug("Start ignored, already starting")
			return
		case StateRunning:
			s.mu.Unlock()
			return
		case StateStopping:
			settled := s.settled
			s.mu.Unlock()
			if !wait(ctx, settled) {
				return
			}
			continue
		}

		launchID := uuid.NewString()
		s.launchID = launchID
		s.transition(StateStarting)
		s.mu.Unlock()

		s.launch(ctx, launchID)
		return
	}
}

// Stop shuts the server down and disposes it. It is a no-op when idle or
// already stopping, and waits for an in-flight start to finish first.
func (s *Supervisor) Stop(ctx context.Context) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateIdle:
			s.mu.Unlock()
			return
		case StateStopping:
			s.mu.Unlock()
			s.opts.Metrics.drop("stop")
			s.logger.Debug("Stop ignored, already stopping")
			return
		case StateStarting:
			settled := s.settled
			s.mu.Unlock()
			if !wait(ctx, settled) {
				return
			}
			continue
		}

		handle, launchID := s.handle, s.launchID
		s.transition(StateStopping)
		s.mu.Unlock()

		s.shutdown(ctx, handle, launchID)
		return
	}
}

// Restart is a full Stop followed by a full Start.
func (s *Supervisor) Restart(ctx context.Context) {
	s.logger.Info("Restarting language server")
	s.Stop(ctx)
	s.Start(ctx)
}

// Deactivate refuses further starts and returns once the supervisor is
// idle with no handle. Only ctx expiring makes it return early.
func (s *Supervisor) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		switch s.state {
		case StateIdle:
			s.mu.Unlock()
			s.logger.Info("Supervisor deactivated")
			return nil
		case StateStarting, StateStopping:
			settled := s.settled
			s.mu.Unlock()
			if !wait(ctx, settled) {
				return ctx.Err()
			}
			continue
		}

		handle, launchID := s.handle, s.launchID
		s.transition(StateStopping)
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.shutdown(ctx, handle, launchID)
		}()
		if !wait(ctx, done) {
			return ctx.Err()
		}
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:       s.state,
		LaunchID:    s.launchID,
		StartedAt:   s.startedAt,
		LaunchCount: s.launches,
		Deactivated: s.closed,
	}
	if s.spec != nil {
		spec := *s.spec
		spec.Args = slices.Clone(spec.Args)
		st.Spec = &spec
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	handle := s.handle
	s.mu.Unlock()

	if handle != nil {
		st.Running = handle.IsRunning()
	}
	return st
}

func (s *Supervisor) launch(ctx context.Context, launchID string) {
	spec, err := s.opts.Resolve()
	if err != nil {
		s.logger.Error("Invalid language server configuration", "launch_id", launchID, "error", err)
		s.abortLaunch(launchID, OutcomeConfigError, "Invalid language server configuration", err)
		return
	}

	handle := s.opts.NewHandle(spec, launchID)
	s.mu.Lock()
	s.handle = handle
	s.spec = &spec
	s.mu.Unlock()

	s.logger.Info("Starting language server",
		"launch_id", launchID, "command", spec.Command, "args", spec.Args, "dir", spec.Dir)

	if err := handle.Start(context.WithoutCancel(ctx)); err != nil {
		handle.Dispose()
		err = fmt.Errorf("%w: %w", ErrLaunchFailed, err)
		s.logger.Error("Failed to start language server", "launch_id", launchID, "error", err)
		s.abortLaunch(launchID, OutcomeFailed, "Failed to start language server", err)
		return
	}

	released := make(chan struct{})
	s.mu.Lock()
	s.launches++
	s.startedAt = time.Now()
	s.lastErr = nil
	s.released = released
	s.transition(StateRunning)
	s.mu.Unlock()

	s.opts.Metrics.launch(OutcomeSuccess)
	s.logger.Info("Language server running", "launch_id", launchID)

	if w, ok := handle.(exitWatcher); ok {
		go s.watchExit(launchID, w.Exited(), released)
	}
}

// abortLaunch returns a failed start to idle.
func (s *Supervisor) abortLaunch(launchID, outcome, message string, err error) {
	s.mu.Lock()
	s.handle = nil
	s.spec = nil
	s.lastErr = err
	s.transition(StateIdle)
	s.mu.Unlock()

	s.opts.Metrics.launch(outcome)
	s.opts.Notifier.Notify(Notification{
		Level:    LevelError,
		Message:  message,
		Err:      err,
		LaunchID: launchID,
	})
}

// shutdown runs with the supervisor already in StateStopping.
func (s *Supervisor) shutdown(ctx context.Context, handle Handle, launchID string) {
	s.logger.Info("Stopping language server", "launch_id", launchID)

	outcome := OutcomeSuccess
	var stopErr error
	if handle.IsRunning() {
		if err := handle.Stop(context.WithoutCancel(ctx)); err != nil {
			stopErr = fmt.Errorf("%w: %w", ErrShutdownFailed, err)
			outcome = OutcomeFailed
			s.logger.Warn("Language server did not shut down cleanly", "launch_id", launchID, "error", stopErr)
			s.opts.Notifier.Notify(Notification{
				Level:    LevelWarning,
				Message:  "Language server did not shut down cleanly",
				Err:      stopErr,
				LaunchID: launchID,
			})
		}
	}
	handle.Dispose()

	s.mu.Lock()
	s.handle = nil
	s.spec = nil
	s.startedAt = time.Time{}
	if stopErr != nil {
		s.lastErr = stopErr
	}
	if s.released != nil {
		close(s.released)
		s.released = nil
	}
	s.transition(StateIdle)
	s.mu.Unlock()

	s.opts.Metrics.stop(outcome)
	s.logger.Info("Language server stopped", "launch_id", launchID)
}

// watchExit reports a server that exits while running. The handle is kept
// until the next stop or restart releases it.
func (s *Supervisor) watchExit(launchID string, exited, released <-chan struct{}) {
	select {
	case <-released:
		return
	case <-exited:
	}

	s.mu.Lock()
	if s.launchID != launchID || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.lastErr = ErrServerCrashed
	s.mu.Unlock()

	s.opts.Metrics.crash()
	s.logger.Error("Language server exited unexpectedly", "launch_id", launchID)
	s.opts.Notifier.Notify(Notification{
		Level:    LevelError,
		Message:  "Language server exited unexpectedly",
		Err:      ErrServerCrashed,
		LaunchID: launchID,
	})
}

// transition must be called with s.mu held.
func (s *Supervisor) transition(to State) {
	from := s.state
	if !CanTransition(from, to) {
		s.logger.Error("Illegal state transition", "from", from, "to", to)
	}
	s.state = to
	if from.transitional() {
		close(s.settled)
	}
	if to.transitional() {
		s.settled = make(chan struct{})
	}

	s.opts.Metrics.setState(to)
	s.logger.Debug("State changed", "launch_id", s.launchID, "from", from, "to", to)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(s.launchID, from, to)
	}
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
