package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/langclient"
	"github.com/smazurov/lspvisor/internal/supervisor"
)

const waitTimeout = 2 * time.Second

type stubHandle struct {
	spec     config.LaunchSpec
	running  atomic.Bool
	disposed atomic.Bool
}

func (h *stubHandle) Start(context.Context) error {
	h.running.Store(true)
	return nil
}

func (h *stubHandle) Stop(context.Context) error {
	h.running.Store(false)
	return nil
}

func (h *stubHandle) Dispose()        { h.disposed.Store(true) }
func (h *stubHandle) IsRunning() bool { return h.running.Load() }

type stubFactory struct {
	mu      sync.Mutex
	handles []*stubHandle
}

func (f *stubFactory) newHandle(spec config.LaunchSpec, _ string) supervisor.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &stubHandle{spec: spec}
	f.handles = append(f.handles, h)
	return h
}

func (f *stubFactory) all() []*stubHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*stubHandle(nil), f.handles...)
}

func writeConfig(t *testing.T, path, command string, folders ...string) {
	t.Helper()
	content := fmt.Sprintf("[server]\ncwd = \"${workspaceFolder}\"\ncommand = %q\nlaunch_script = \"main.py\"\n", command)
	if len(folders) > 0 {
		content += "\n[workspace]\nfolders = ["
		for i, f := range folders {
			if i > 0 {
				content += ", "
			}
			content += fmt.Sprintf("%q", f)
		}
		content += "]\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newHost(t *testing.T, opts Options) (*Host, *stubFactory) {
	t.Helper()
	factory := &stubFactory{}
	if opts.NewHandle == nil {
		opts.NewHandle = factory.newHandle
	}
	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		assert.NoError(t, h.Deactivate(ctx))
	})
	return h, factory
}

func subscribe[T events.Event](t *testing.T, bus *events.Bus) <-chan any {
	t.Helper()
	ch := make(chan any, 32)
	t.Cleanup(events.SubscribeToChannel[T](bus, ch))
	return ch
}

func receive[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	select {
	case ev := <-ch:
		out, ok := ev.(T)
		require.True(t, ok, "unexpected event %T", ev)
		return out
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timeout waiting for %T", zero)
		return zero
	}
}

func TestMissingConfigFileNotifiesOnTrigger(t *testing.T) {
	h, factory := newHost(t, Options{ConfigFile: filepath.Join(t.TempDir(), "missing.toml")})
	notes := subscribe[events.OperatorNotificationEvent](t, h.Bus)

	assert.Equal(t, config.ServerSettings{}, h.Store.Server())
	h.Activate()

	_, err := h.Workspace.OpenDocument("file:///proj/main.py", config.DefaultLanguage)
	require.NoError(t, err)

	note := receive[events.OperatorNotificationEvent](t, notes)
	assert.Equal(t, string(supervisor.LevelError), note.Level)
	assert.Contains(t, note.Error, "missing required setting")
	assert.Equal(t, supervisor.StateIdle, h.Supervisor.State())
	assert.Empty(t, factory.all())
}

func TestInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\n"), 0o600))

	_, err := New(Options{ConfigFile: path})
	require.Error(t, err)
}

func TestMatchingDocumentStartsServer(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	writeConfig(t, path, "python3", root)

	var transitions atomic.Int32
	h, factory := newHost(t, Options{
		ConfigFile:    path,
		Registerer:    prometheus.NewRegistry(),
		OnStateChange: func(_, _ supervisor.State) { transitions.Add(1) },
	})
	states := subscribe[events.ServerStateChangedEvent](t, h.Bus)
	h.Activate()

	_, err := h.Workspace.OpenDocument("file:///proj/readme.md", "markdown")
	require.NoError(t, err)
	_, err = h.Workspace.OpenDocument("file:///proj/main.py", "python")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Supervisor.State() == supervisor.StateRunning },
		waitTimeout, 10*time.Millisecond)

	handles := factory.all()
	require.Len(t, handles, 1)
	assert.Equal(t, config.LaunchSpec{Command: "python3", Args: []string{"main.py"}, Dir: root}, handles[0].spec)

	first := receive[events.ServerStateChangedEvent](t, states)
	assert.Equal(t, "idle", first.OldState)
	assert.Equal(t, "starting", first.NewState)
	assert.NotEmpty(t, first.LaunchID)
	second := receive[events.ServerStateChangedEvent](t, states)
	assert.Equal(t, "running", second.NewState)
	assert.Equal(t, int32(2), transitions.Load())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.Deactivate(ctx))
	assert.True(t, handles[0].disposed.Load())
	assert.Equal(t, supervisor.StateIdle, h.Supervisor.State())
}

func TestInitialScanStartsServer(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	writeConfig(t, path, "python3", root)

	h, factory := newHost(t, Options{ConfigFile: path})
	_, err := h.Workspace.OpenDocument("file:///proj/main.py", "python")
	require.NoError(t, err)

	h.Activate()

	require.Eventually(t, func() bool { return len(factory.all()) == 1 }, waitTimeout, 10*time.Millisecond)
}

func TestApplyServerChangeRestarts(t *testing.T) {
	root := t.TempDir()
	h, factory := newHost(t, Options{WorkspaceFolders: []string{root}})
	h.Store.Replace(config.File{Server: config.ServerSettings{Cwd: "/srv", Command: "python3", LaunchScript: "main.py"}})
	changes := subscribe[events.ConfigChangedEvent](t, h.Bus)
	h.Activate()

	h.Supervisor.Start(context.Background())
	require.Len(t, factory.all(), 1)

	h.Apply(config.File{Server: config.ServerSettings{Cwd: "/srv", Command: "pypy3", LaunchScript: "main.py"}})

	ev := receive[events.ConfigChangedEvent](t, changes)
	assert.Equal(t, config.SectionServer, ev.Section)

	require.Eventually(t, func() bool { return len(factory.all()) == 2 }, waitTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.Supervisor.State() == supervisor.StateRunning },
		waitTimeout, 10*time.Millisecond)

	handles := factory.all()
	assert.True(t, handles[0].disposed.Load())
	assert.Equal(t, "pypy3", handles[1].spec.Command)
}

func TestApplyWorkspaceChange(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	h, _ := newHost(t, Options{})
	h.Apply(config.File{Workspace: config.WorkspaceSettings{Folders: []string{first}}})
	require.Equal(t, []string{first}, h.Workspace.Roots())

	changes := subscribe[events.ConfigChangedEvent](t, h.Bus)
	h.Apply(config.File{Workspace: config.WorkspaceSettings{Folders: []string{second}}})

	ev := receive[events.ConfigChangedEvent](t, changes)
	assert.Equal(t, config.SectionWorkspace, ev.Section)
	assert.Equal(t, []string{second}, h.Workspace.Roots())
}

func TestWorkspaceFoldersOverride(t *testing.T) {
	cli, file := t.TempDir(), t.TempDir()
	h, _ := newHost(t, Options{WorkspaceFolders: []string{cli}})

	h.Apply(config.File{Workspace: config.WorkspaceSettings{Folders: []string{file}}})
	assert.Equal(t, []string{cli}, h.Workspace.Roots())
}

func TestApplyUnchangedPublishesNothing(t *testing.T) {
	h, _ := newHost(t, Options{})
	changes := subscribe[events.ConfigChangedEvent](t, h.Bus)

	h.Apply(config.File{})

	select {
	case ev := <-changes:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherReload(t *testing.T) {
	root, other := t.TempDir(), t.TempDir()
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	writeConfig(t, path, "python3", root)

	h, _ := newHost(t, Options{ConfigFile: path, ReloadDebounce: 20 * time.Millisecond})
	changes := subscribe[events.ConfigChangedEvent](t, h.Bus)
	h.Activate()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "python3", other)

	ev := receive[events.ConfigChangedEvent](t, changes)
	assert.Equal(t, config.SectionWorkspace, ev.Section)
	assert.Equal(t, []string{other}, h.Workspace.Roots())
}

func TestWatcherReloadErrorNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	writeConfig(t, path, "python3")

	h, _ := newHost(t, Options{ConfigFile: path, ReloadDebounce: 20 * time.Millisecond})
	notes := subscribe[events.OperatorNotificationEvent](t, h.Bus)
	h.Activate()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[server\nbroken"), 0o600))

	note := receive[events.OperatorNotificationEvent](t, notes)
	assert.Equal(t, string(supervisor.LevelWarning), note.Level)
	assert.NotEmpty(t, note.Error)
	assert.Equal(t, "python3", h.Store.Server().Command)
}

func TestShowMessageForwardsErrorsAndWarnings(t *testing.T) {
	h, _ := newHost(t, Options{})
	notes := subscribe[events.OperatorNotificationEvent](t, h.Bus)

	forward := h.showMessage("launch-1")
	forward(langclient.MessageInfo, "ignored")
	forward(langclient.MessageWarning, "interpreter not found")
	forward(langclient.MessageError, "crashed")

	first := receive[events.OperatorNotificationEvent](t, notes)
	assert.Equal(t, "warning", first.Level)
	assert.Equal(t, "interpreter not found", first.Message)

	second := receive[events.OperatorNotificationEvent](t, notes)
	assert.Equal(t, "error", second.Level)
	assert.Equal(t, "crashed", second.Message)
}
