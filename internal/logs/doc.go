// Package logs reads the magnolia log file for the "magnolia logs" command.
//
// Reads are bounded: the last N lines come from a ring buffer and follow mode
// polls forward from a byte offset. Lines can be narrowed to a single run by
// its run ID, which every record carries in both console and JSON formats.
package logs
