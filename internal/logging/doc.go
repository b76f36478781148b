// Package logging assembles the slog loggers used by every magnolia command.
//
// It owns the console and JSON handlers, tags every record with the run
// identifier of the invocation, and exposes context-aware helpers so pipeline
// code can attach stage and path fields without threading them by hand.
// Output always goes to stderr (stdout is reserved for JSON documents) and is
// optionally mirrored into a log file under the configured log directory.
package logging
