// Package logging provides structured logging with per-module log levels.
//
// Output is routed automatically: to the systemd journal when journald is
// reachable, to stdout when it is a terminal, pipe, socket or file, and always
// to an in-memory ring buffer that backs the API log history and live stream.
//
// Initialize once at startup, and again whenever the [logging] section of
// the configuration file changes:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"supervisor": "debug",
//			"server":     "warn",
//		},
//	})
//
// Loggers are cached per module and keep their identity across reloads, so
// packages may hold on to them:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Language server running", "launch_id", id)
//
// The language server's own stderr is logged under the "server" module.
//
// Journal entries carry SYSLOG_IDENTIFIER=lspvisor and one upper-case field
// per attribute:
//
//	journalctl -t lspvisor -f
//	journalctl -t lspvisor MODULE=supervisor
//	journalctl -t lspvisor LAUNCH_ID=<uuid>
package logging
