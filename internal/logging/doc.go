// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{"relay": "debug"},
//	})
//
//	logger := logging.GetLogger("relay").With("session_id", id)
//	logger.Info("Stream started", "destination", dest)
//
// Records go to stdout (text or json), to the systemd journal when journald
// is reachable, and to an in-memory ring buffer that backs the /api/logs
// endpoints. Levels can be changed at runtime with SetLevels; the config
// watcher calls it whenever the [logging] table of the config file changes.
//
// When running under systemd:
//
//	journalctl -t relaynode -f
//	journalctl -t relaynode MODULE=relay SESSION_ID=<id>
package logging
