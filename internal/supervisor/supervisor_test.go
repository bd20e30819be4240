package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/lspvisor/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	sup     *Supervisor
	factory *factory
	notes   *notifications
	steps   *transitionLog
	metrics *Metrics
}

func newHarness(t *testing.T, resolve func() (config.LaunchSpec, error)) *harness {
	t.Helper()
	if resolve == nil {
		resolve = validSpec
	}
	h := &harness{
		factory: newFactory(),
		notes:   &notifications{},
		steps:   &transitionLog{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.sup = New(Options{
		Resolve:       resolve,
		NewHandle:     h.factory.NewHandle,
		Notifier:      h.notes,
		OnStateChange: h.steps.record,
		Metrics:       h.metrics,
		Logger:        discardLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, h.sup.Deactivate(ctx))
		for _, step := range h.steps.all() {
			assert.True(t, CanTransition(step[0], step[1]), "illegal transition %s -> %s", step[0], step[1])
		}
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sup.State() == want }, waitFor, tick,
		"state never reached %s", want)
}

// goStart runs Start in the background and returns a channel closed when
// it returns.
func (h *harness) goStart(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sup.Start(ctx)
	}()
	return done
}

func (h *harness) goStop(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sup.Stop(ctx)
	}()
	return done
}

func requireClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal(msg)
	}
}

func requireOpen(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]State]bool{
		{StateIdle, StateStarting}:    true,
		{StateStarting, StateRunning}: true,
		{StateStarting, StateIdle}:    true,
		{StateRunning, StateStopping}: true,
		{StateStopping, StateIdle}:    true,
	}
	for _, from := range States {
		for _, to := range States {
			assert.Equal(t, legal[[2]State{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStartRuns(t *testing.T) {
	h := newHarness(t, nil)

	h.sup.Start(context.Background())

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.LaunchCount)
	assert.NotEmpty(t, st.LaunchID)
	assert.Equal(t, h.factory.ids[0], st.LaunchID)
	require.NotNil(t, st.Spec)
	assert.Equal(t, "/proj/server", st.Spec.Dir)
	assert.False(t, st.StartedAt.IsZero())
	assert.Empty(t, h.notes.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.launches.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.state.WithLabelValues(string(StateRunning))))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.state.WithLabelValues(string(StateIdle))))
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.sup.Start(context.Background())
	h.sup.Start(context.Background())

	assert.Equal(t, 1, h.factory.count())
	assert.Equal(t, int32(1), h.factory.handle(0).starts.Load())
}

func TestConcurrentStartsLaunchOnce(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.factory.configure = func(fh *fakeHandle) { fh.startGate = gate }

	first := h.goStart(context.Background())
	h.waitState(t, StateStarting)
	require.Eventually(t, func() bool { return h.factory.count() == 1 }, waitFor, tick)

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			h.sup.Start(context.Background())
			return nil
		})
	}
	// Every overlapping call returns while the first is still blocked.
	require.NoError(t, g.Wait())

	close(gate)
	requireClosed(t, first, "first Start never returned")

	assert.Equal(t, StateRunning, h.sup.State())
	assert.Equal(t, 1, h.factory.count())
	assert.Equal(t, int32(1), h.factory.handle(0).starts.Load())
	assert.Equal(t, 10.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues("start")))
}

func TestConcurrentStopsDisposeOnce(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.factory.configure = func(fh *fakeHandle) { fh.stopGate = gate }
	h.sup.Start(context.Background())

	first := h.goStop(context.Background())
	h.waitState(t, StateStopping)

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			h.sup.Stop(context.Background())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	close(gate)
	requireClosed(t, first, "first Stop never returned")

	fh := h.factory.handle(0)
	assert.Equal(t, StateIdle, h.sup.State())
	assert.Equal(t, int32(1), fh.stops.Load())
	assert.Equal(t, int32(1), fh.disposes.Load())
	assert.Nil(t, h.sup.Status().Spec)
	assert.Equal(t, 10.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.stops.WithLabelValues(OutcomeSuccess)))
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.sup.Stop(context.Background())

	assert.Equal(t, StateIdle, h.sup.State())
	assert.Empty(t, h.steps.all())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues("stop")))
}

func TestRestart(t *testing.T) {
	full := []string{"start:1", "started:1", "stop:1", "dispose:1", "start:2", "started:2"}

	t.Run("from idle", func(t *testing.T) {
		h := newHarness(t, nil)
		h.sup.Restart(context.Background())

		assert.Equal(t, []string{"start:1", "started:1"}, h.factory.rec.snapshot())
		assert.Equal(t, StateRunning, h.sup.State())
	})

	t.Run("from running", func(t *testing.T) {
		h := newHarness(t, nil)
		h.sup.Start(context.Background())
		h.sup.Restart(context.Background())

		assert.Equal(t, full, h.factory.rec.snapshot())
		assert.Equal(t, 1, h.factory.rec.peak())
		assert.Equal(t, StateRunning, h.sup.State())
		assert.Equal(t, 2, h.sup.Status().LaunchCount)
		assert.NotEqual(t, h.factory.ids[0], h.factory.ids[1])
	})

	t.Run("from starting", func(t *testing.T) {
		h := newHarness(t, nil)
		gate := make(chan struct{})
		h.factory.configure = func(fh *fakeHandle) {
			if fh.n == 1 {
				fh.startGate = gate
			}
		}

		first := h.goStart(context.Background())
		h.waitState(t, StateStarting)

		restarted := make(chan struct{})
		go func() {
			defer close(restarted)
			h.sup.Restart(context.Background())
		}()
		requireOpen(t, restarted, "Restart overtook the in-flight start")

		close(gate)
		requireClosed(t, first, "Start never returned")
		requireClosed(t, restarted, "Restart never returned")

		assert.Equal(t, full, h.factory.rec.snapshot())
		assert.Equal(t, 1, h.factory.rec.peak())
		assert.Equal(t, StateRunning, h.sup.State())
	})
}

func TestOverlappingRestartsNeverOverlapHandles(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Start(context.Background())

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			h.sup.Restart(context.Background())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, StateRunning, h.sup.State())
	assert.Equal(t, 1, h.factory.rec.peak())
	for i := range h.factory.count() - 1 {
		assert.Equal(t, int32(1), h.factory.handle(i).disposes.Load(), "handle %d", i+1)
	}
}

func TestStartWaitsForStop(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.factory.configure = func(fh *fakeHandle) {
		if fh.n == 1 {
			fh.stopGate = gate
		}
	}
	h.sup.Start(context.Background())

	stopped := h.goStop(context.Background())
	h.waitState(t, StateStopping)

	started := h.goStart(context.Background())
	requireOpen(t, started, "Start returned while stop was in flight")

	close(gate)
	requireClosed(t, stopped, "Stop never returned")
	requireClosed(t, started, "Start never returned")

	assert.Equal(t, StateRunning, h.sup.State())
	assert.Equal(t, 2, h.factory.count())
	assert.Equal(t, []string{"start:1", "started:1", "stop:1", "dispose:1", "start:2", "started:2"},
		h.factory.rec.snapshot())
}

func TestWaitHonoursCallerContext(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.factory.configure = func(fh *fakeHandle) { fh.startGate = gate }

	first := h.goStart(context.Background())
	h.waitState(t, StateStarting)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	stopped := h.goStop(ctx)
	requireClosed(t, stopped, "Stop ignored its context")
	assert.Equal(t, StateStarting, h.sup.State())

	close(gate)
	requireClosed(t, first, "Start never returned")
	assert.Equal(t, StateRunning, h.sup.State())
}

func TestStartDetachesHandleFromCallerCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.sup.Start(ctx)

	assert.Equal(t, StateRunning, h.sup.State())
	assert.NoError(t, h.factory.handle(0).startCtxErr)
}

func TestMissingCommand(t *testing.T) {
	h := newHarness(t, func() (config.LaunchSpec, error) {
		return config.Resolve(config.ServerSettings{Cwd: "/srv", LaunchScript: "server.py"}, nil)
	})

	h.sup.Start(context.Background())

	st := h.sup.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Spec)
	assert.Zero(t, h.factory.count())
	assert.Contains(t, st.LastError, "command")

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.ErrorIs(t, notes[0].Err, config.ErrMissingField)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, notes[0].Err, &cfgErr)
	assert.Equal(t, "command", cfgErr.Field)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.launches.WithLabelValues(OutcomeConfigError)))
	assert.Equal(t, [][2]State{{StateIdle, StateStarting}, {StateStarting, StateIdle}}, h.steps.all())
}

func TestNoWorkspaceRootNeverSpawns(t *testing.T) {
	h := newHarness(t, func() (config.LaunchSpec, error) {
		return config.Resolve(config.ServerSettings{
			Cwd:          config.WorkspaceFolderPlaceholder + "/server",
			Command:      "/usr/bin/python3",
			LaunchScript: "server.py",
		}, config.RootsFunc(func() []string { return nil }))
	})

	h.sup.Start(context.Background())

	assert.Equal(t, StateIdle, h.sup.State())
	assert.Zero(t, h.factory.count())
	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.ErrorIs(t, notes[0].Err, config.ErrNoWorkspaceRoot)
}

func TestLaunchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.configure = func(fh *fakeHandle) {
		if fh.n == 1 {
			fh.startErr = errBoom
		}
	}

	h.sup.Start(context.Background())

	assert.Equal(t, StateIdle, h.sup.State())
	assert.Equal(t, int32(1), h.factory.handle(0).disposes.Load())
	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.ErrorIs(t, notes[0].Err, ErrLaunchFailed)
	assert.ErrorIs(t, notes[0].Err, errBoom)
	assert.Equal(t, h.factory.ids[0], notes[0].LaunchID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.launches.WithLabelValues(OutcomeFailed)))

	// The supervisor stays usable.
	h.sup.Start(context.Background())
	assert.Equal(t, StateRunning, h.sup.State())
	assert.Equal(t, 2, h.factory.count())
}

func TestShutdownFailureStillDisposes(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.configure = func(fh *fakeHandle) { fh.stopErr = errBoom }
	h.sup.Start(context.Background())

	h.sup.Stop(context.Background())

	assert.Equal(t, StateIdle, h.sup.State())
	assert.Equal(t, int32(1), h.factory.handle(0).disposes.Load())
	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, LevelWarning, notes[0].Level)
	assert.ErrorIs(t, notes[0].Err, ErrShutdownFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.stops.WithLabelValues(OutcomeFailed)))
}

func TestCrashIsReportedNotRestarted(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Start(context.Background())
	fh := h.factory.handle(0)

	fh.crash()

	require.Eventually(t, func() bool { return len(h.notes.all()) == 1 }, waitFor, tick)
	note := h.notes.all()[0]
	assert.ErrorIs(t, note.Err, ErrServerCrashed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.crashes))

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.Running)
	assert.Equal(t, 1, h.factory.count())

	// A stop releases the dead handle without a graceful shutdown.
	h.sup.Stop(context.Background())
	assert.Equal(t, StateIdle, h.sup.State())
	assert.Zero(t, fh.stops.Load())
	assert.Equal(t, int32(1), fh.disposes.Load())
}

func TestStopDoesNotReportCrash(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Start(context.Background())
	h.sup.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.notes.all())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.crashes))
}

func TestDeactivate(t *testing.T) {
	t.Run("while running", func(t *testing.T) {
		h := newHarness(t, nil)
		h.sup.Start(context.Background())

		require.NoError(t, h.sup.Deactivate(context.Background()))

		st := h.sup.Status()
		assert.Equal(t, StateIdle, st.State)
		assert.True(t, st.Deactivated)
		assert.Equal(t, int32(1), h.factory.handle(0).disposes.Load())

		h.sup.Start(context.Background())
		assert.Equal(t, StateIdle, h.sup.State())
		assert.Equal(t, 1, h.factory.count())
	})

	t.Run("while starting", func(t *testing.T) {
		h := newHarness(t, nil)
		gate := make(chan struct{})
		h.factory.configure = func(fh *fakeHandle) { fh.startGate = gate }
		started := h.goStart(context.Background())
		h.waitState(t, StateStarting)

		deactivated := make(chan error, 1)
		go func() { deactivated <- h.sup.Deactivate(context.Background()) }()
		close(gate)
		requireClosed(t, started, "Start never returned")

		select {
		case err := <-deactivated:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("Deactivate never returned")
		}
		assert.Equal(t, StateIdle, h.sup.State())
		assert.Equal(t, int32(1), h.factory.handle(0).disposes.Load())
	})

	t.Run("deadline", func(t *testing.T) {
		h := newHarness(t, nil)
		gate := make(chan struct{})
		h.factory.configure = func(fh *fakeHandle) { fh.stopGate = gate }
		h.sup.Start(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := h.sup.Deactivate(ctx)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		close(gate)
		h.waitState(t, StateIdle)
	})
}

func TestNilMetrics(t *testing.T) {
	f := newFactory()
	s := New(Options{Resolve: validSpec, NewHandle: f.NewHandle, Logger: discardLogger()})

	s.Start(context.Background())
	s.Restart(context.Background())
	require.NoError(t, s.Deactivate(context.Background()))
	assert.Equal(t, 2, f.count())
}

func TestNewRequiresCallbacks(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}
