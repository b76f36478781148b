// Package config loads, normalizes, and validates magnolia configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// NOTION_API_KEY. The Config type centralizes every knob the scan, analyze,
// and organize commands need, so worker counts, exclusion patterns, sink
// credentials, and log settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
