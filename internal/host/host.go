// Package host assembles the supervisor, router, workspace and config
// watcher into one activatable unit shared by the daemon and the launch
// command.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/langclient"
	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/smazurov/lspvisor/internal/process"
	"github.com/smazurov/lspvisor/internal/router"
	"github.com/smazurov/lspvisor/internal/supervisor"
	"github.com/smazurov/lspvisor/internal/version"
	"github.com/smazurov/lspvisor/internal/workspace"
)

// Options configures a Host.
type Options struct {
	// ConfigFile is the TOML file holding [server], [workspace] and
	// [logging]. A missing file yields empty settings. Empty disables
	// watching.
	ConfigFile string
	// WorkspaceFolders overrides [workspace].folders when non-empty.
	WorkspaceFolders []string
	// Registerer receives the supervisor metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Bus is created when nil.
	Bus *events.Bus
	// OnStateChange is called after every supervisor transition. It runs
	// with the supervisor locked and must not call back into it.
	OnStateChange func(from, to supervisor.State)
	// ReloadDebounce overrides the watcher debounce.
	ReloadDebounce time.Duration
	// NewHandle overrides the language client factory.
	NewHandle func(spec config.LaunchSpec, launchID string) supervisor.Handle
}

// Host owns every long-lived component.
type Host struct {
	Bus        *events.Bus
	Store      *config.Store
	Workspace  *workspace.Workspace
	Supervisor *supervisor.Supervisor
	Router     *router.Router

	opts     Options
	logger   logging.Logger
	notifier *busNotifier
	watcher  *config.Watcher[config.File]
}

// New loads the configuration and builds the components. Nothing runs until
// Activate.
func New(opts Options) (*Host, error) {
	logger := logging.GetLogger("main")

	file, err := loadFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}

	h := &Host{
		Bus:       opts.Bus,
		Store:     config.NewStore(file),
		Workspace: workspace.New(opts.Bus, nil),
		opts:      opts,
		logger:    logger,
		notifier:  &busNotifier{bus: opts.Bus, logger: logging.GetLogger("notify")},
	}
	h.Workspace.SetRoots(h.roots(file))

	var metrics *supervisor.Metrics
	if opts.Registerer != nil {
		metrics = supervisor.NewMetrics(opts.Registerer)
	}

	newHandle := opts.NewHandle
	if newHandle == nil {
		newHandle = h.newClient
	}

	h.Supervisor = supervisor.New(supervisor.Options{
		Resolve:       func() (config.LaunchSpec, error) { return config.Resolve(h.Store.Server(), h.Workspace) },
		NewHandle:     newHandle,
		Notifier:      h.notifier,
		OnStateChange: h.stateChanged,
		Metrics:       metrics,
	})

	h.Router = router.New(router.Options{
		Bus:      opts.Bus,
		Target:   h.Supervisor,
		Language: func() string { return h.Store.Server().TargetLanguage() },
	})

	return h, nil
}

// loadFile reads path, treating a missing file as empty settings.
func loadFile(path string) (config.File, error) {
	if path == "" {
		return config.File{}, nil
	}
	file, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.GetLogger("config").Warn("Config file not found, using empty settings", "path", path)
		return config.File{}, nil
	}
	if err != nil {
		return config.File{}, err
	}
	return file, nil
}

// LoggingConfig returns the [logging] section as loaded at startup.
func (h *Host) LoggingConfig() logging.Config {
	return h.Store.File().LoggingConfig()
}

// Activate starts the config watcher and runs the initial document scan.
// A watcher that fails to start is logged and reloads are disabled.
func (h *Host) Activate() {
	if h.opts.ConfigFile != "" {
		var watchOpts []config.WatcherOption[config.File]
		if h.opts.ReloadDebounce > 0 {
			watchOpts = append(watchOpts, config.WithDebounce[config.File](h.opts.ReloadDebounce))
		}
		watchOpts = append(watchOpts, config.WithErrorHandler[config.File](func(err error) {
			h.notifier.Notify(supervisor.Notification{
				Level:   supervisor.LevelWarning,
				Message: "Configuration reload failed, keeping previous settings",
				Err:     err,
			})
		}))

		w := config.NewConfigWatcher(h.opts.ConfigFile, config.LoadFile, logging.GetLogger("config"), watchOpts...)
		w.OnReload(h.Apply)
		if err := w.Start(); err != nil {
			h.logger.Warn("Config watcher unavailable, reloads disabled", "error", err)
		} else {
			h.watcher = w
		}
	}

	h.Router.Activate(h.Workspace)
	h.logger.Info("Activated", "language", h.Store.Server().TargetLanguage(), "roots", h.Workspace.Roots())
}

// Apply swaps in a reloaded configuration and publishes one
// ConfigChangedEvent per changed section.
func (h *Host) Apply(file config.File) {
	changed := h.Store.Replace(file)
	if len(changed) == 0 {
		h.logger.Debug("Config reloaded, nothing changed")
		return
	}

	now := time.Now().Format(time.RFC3339)
	for _, section := range changed {
		switch section {
		case config.SectionLogging:
			logging.Initialize(file.LoggingConfig())
		case config.SectionWorkspace:
			h.Workspace.SetRoots(h.roots(file))
		}
		h.logger.Info("Config section changed", "section", section)
		h.Bus.Publish(events.ConfigChangedEvent{Section: section, Timestamp: now})
	}
}

// Deactivate stops the watcher and the router, then waits for the server to
// stop completely or ctx to end.
func (h *Host) Deactivate(ctx context.Context) error {
	if h.watcher != nil {
		if err := h.watcher.Stop(); err != nil {
			h.logger.Warn("Error stopping config watcher", "error", err)
		}
		h.watcher = nil
	}
	h.Router.Close()
	if err := h.Supervisor.Deactivate(ctx); err != nil {
		return fmt.Errorf("deactivate supervisor: %w", err)
	}
	h.logger.Info("Deactivated")
	return nil
}

func (h *Host) roots(file config.File) []string {
	if len(h.opts.WorkspaceFolders) > 0 {
		return h.opts.WorkspaceFolders
	}
	return file.Workspace.Folders
}

func (h *Host) stateChanged(launchID string, from, to supervisor.State) {
	h.Bus.Publish(events.ServerStateChangedEvent{
		LaunchID:  launchID,
		OldState:  string(from),
		NewState:  string(to),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if h.opts.OnStateChange != nil {
		h.opts.OnStateChange(from, to)
	}
}

func (h *Host) newClient(spec config.LaunchSpec, launchID string) supervisor.Handle {
	handshake, shutdown := h.Store.Server().Timeouts()
	info := langclient.ClientInfo{Name: version.Name, Version: version.Get().Version}
	return langclient.New(spec, langclient.Options{
		Logger:           logging.GetLogger("langclient").With("launch_id", launchID),
		ServerLogger:     logging.GetLogger("server").With("launch_id", launchID),
		LogParser:        process.PythonLogParser,
		OnShowMessage:    h.showMessage(launchID),
		WorkspaceFolders: h.Workspace.Roots(),
		ClientInfo:       info,
		HandshakeTimeout: handshake,
		ShutdownTimeout:  shutdown,
	})
}

// showMessage forwards server error and warning popups to the operator.
func (h *Host) showMessage(launchID string) func(langclient.MessageType, string) {
	return func(kind langclient.MessageType, message string) {
		var level supervisor.Level
		switch kind {
		case langclient.MessageError:
			level = supervisor.LevelError
		case langclient.MessageWarning:
			level = supervisor.LevelWarning
		default:
			return
		}
		h.notifier.Notify(supervisor.Notification{Level: level, Message: message, LaunchID: launchID})
	}
}

// busNotifier logs notifications and publishes them for API clients.
type busNotifier struct {
	bus    *events.Bus
	logger logging.Logger
}

func (n *busNotifier) Notify(note supervisor.Notification) {
	args := []any{"launch_id", note.LaunchID}
	var errText string
	if note.Err != nil {
		errText = note.Err.Error()
		args = append(args, "error", errText)
	}
	switch note.Level {
	case supervisor.LevelError:
		n.logger.Error(note.Message, args...)
	case supervisor.LevelWarning:
		n.logger.Warn(note.Message, args...)
	default:
		n.logger.Info(note.Message, args...)
	}

	n.bus.Publish(events.OperatorNotificationEvent{
		Level:     string(note.Level),
		Message:   note.Message,
		Error:     errText,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
