package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/lspvisor/internal/host"
	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/smazurov/lspvisor/internal/supervisor"
)

// CreateLaunchCmd creates the launch command.
func CreateLaunchCmd() *cobra.Command {
	var configFile string
	var folders []string
	var logJSON bool
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Run one supervised language server in the foreground",
		Long: `Starts the language server immediately, without the HTTP API, and keeps it under supervision ` +
			`until SIGINT or SIGTERM. Configuration changes are applied live; a change to [server] restarts it.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("main")

			h, err := host.New(host.Options{
				ConfigFile:       configFile,
				WorkspaceFolders: folders,
			})
			if err != nil {
				return err
			}
			fileLogging := h.LoggingConfig()
			fileLogging.Format = loggingConfig.Format
			logging.Initialize(fileLogging)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h.Activate()
			h.Supervisor.Start(ctx)

			var exitErr error
			if st := h.Supervisor.Status(); st.State != supervisor.StateRunning {
				exitErr = fmt.Errorf("language server did not start: %s", st.LastError)
			} else {
				logger.Info("Language server running, press Ctrl+C to stop", "launch_id", st.LaunchID)
				<-ctx.Done()
			}

			deactivateCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := h.Deactivate(deactivateCtx); err != nil {
				logger.Error("Language server did not stop in time", "error", err)
				os.Exit(1)
			}
			return exitErr
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "lspvisor.toml", "Path to configuration file")
	cmd.Flags().StringSliceVar(&folders, "workspace", nil, "Workspace folders, overriding [workspace].folders")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "How long to wait for the server to stop")

	return cmd
}
