// Package services defines shared utilities consumed by the pipeline stages
// and the optional sinks.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and the file being
//     processed for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent process exit codes (fatal vs partial failure).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability) stays uniform across scan, analyze, and organize.
package services
