// Package logging provides structured logging with per-module log level
// configuration for the media bus.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// Every record is additionally written to an in-memory ring buffer so the
// control plane can read back recent history without tailing a file.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"bus":      "debug",  // Per-module overrides
//			"registry": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("bus")
//	logger.Info("input opened", "streams", 2)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("muxwriter").With("output_id", id)
//	logger.Info("container writer opened")  // Includes output_id in all logs
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t mediabus              # All mediabus logs
//	journalctl -t mediabus -f           # Follow live
//	journalctl -t mediabus -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t mediabus MODULE=bus
//	journalctl -t mediabus OUTPUT_ID=f
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only.
//
// Example TOML configuration (every key of the [logging] table other than
// level and format is a module name):
//
//	[logging]
//	level = "info"
//	format = "text"
//	bus = "debug"
//	registry = "warn"
package logging
