// Package main hosts the magnolia CLI entrypoint and command graph.
//
// The Cobra-based command tree exposes the three pipeline stages (scan,
// analyze, organize), which hand off to each other through JSON files, plus
// configuration scaffolding and a notification test. It centralizes config
// resolution, logger setup, progress rendering, metrics export and
// notifications so the stage commands only translate flags into calls on the
// internal packages.
//
// Stdout carries hand-off JSON and summary tables; logs and progress go to
// stderr.
package main
