package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/lspvisor/cmd"
	"github.com/smazurov/lspvisor/internal/api"
	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/host"
	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/smazurov/lspvisor/internal/supervisor"
	"github.com/smazurov/lspvisor/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"lspvisor.toml"`

	// API settings
	APIAddr      string `help:"Address the HTTP API listens on" short:"p" default:":8090" toml:"api.addr" env:"API_ADDR"`
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"api.username" env:"API_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"api.password" env:"API_PASSWORD"`

	// Workspace settings. No toml key: the file's [workspace] section is
	// read by the host and reloaded live.
	WorkspaceFolders string `help:"Comma-separated workspace folders, overriding [workspace].folders" env:"WORKSPACE_FOLDERS"`

	// Lifecycle settings
	DeactivateTimeout string `help:"How long shutdown waits for the language server to stop" default:"10s" toml:"lifecycle.deactivate_timeout" env:"DEACTIVATE_TIMEOUT"`

	// Logging settings. Per-module levels come from the [logging] section.
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{Level: opts.LoggingLevel, Format: opts.LoggingFormat})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		notifier := systemd.NewNotifier(logger)

		h, err := host.New(host.Options{
			ConfigFile:       opts.Config,
			WorkspaceFolders: splitList(opts.WorkspaceFolders),
			Registerer:       registry,
			Bus:              eventBus,
			OnStateChange: func(_, to supervisor.State) {
				notifier.Status("language server " + string(to))
			},
		})
		if err != nil {
			logger.Error("Failed to load configuration", "error", err, "config", opts.Config)
			os.Exit(1)
		}

		// The [logging] section adds module levels; CLI and env keep the
		// global ones.
		loggingConfig := h.LoggingConfig()
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Supervisor:        h.Supervisor,
			Workspace:         h.Workspace,
			EventBus:          eventBus,
			Language:          func() string { return h.Store.Server().TargetLanguage() },
			PrometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		})

		deactivateTimeout, err := time.ParseDuration(opts.DeactivateTimeout)
		if err != nil {
			deactivateTimeout = 10 * time.Second
		}

		hooks.OnStart(func() {
			ln, listenErr := net.Listen("tcp", opts.APIAddr)
			if listenErr != nil {
				logger.Error("Failed to listen", "addr", opts.APIAddr, "error", listenErr)
				os.Exit(1)
			}

			h.Activate()
			notifier.Ready()
			notifier.StartWatchdog()

			if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", serveErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			notifier.StopWatchdog()

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			ctx, cancel := context.WithTimeout(context.Background(), deactivateTimeout)
			defer cancel()
			if deactivateErr := h.Deactivate(ctx); deactivateErr != nil {
				logger.Error("Language server did not stop in time", "error", deactivateErr, "timeout", deactivateTimeout)
			}
		})
	})

	cli.Root().Use = "lspvisor"
	cli.Root().Short = "Supervise an out-of-process language server"

	cli.Root().AddCommand(cmd.CreateResolveCmd())
	cli.Root().AddCommand(cmd.CreateLaunchCmd())

	cli.Run()
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
