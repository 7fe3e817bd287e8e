// Package logging wraps log/slog with the conventions the controller
// uses everywhere: structured key/value records, a service and version
// attribute on every entry, and level filtering driven by config.yaml.
//
// JSON output is for production, where records feed a log aggregator;
// text output is for reading a terminal during development. Components
// derive their logger with With("component", name) so records can be
// filtered per subsystem.
//
//	logger := logging.New(cfg.Logging, version)
//	logger.With("component", "fleet").Info("registry started")
//
// Speaker credentials and API tokens must never appear in log fields.
package logging
