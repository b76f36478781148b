// Package preflight provides readiness checks for the paths and optional
// sinks a magnolia command depends on.
//
// Commands run the checks that apply to them before doing any work: scan
// checks its roots, analyze checks the enabled sinks, organize checks the
// destination. "magnolia config validate" runs all of them. A failed check on
// a required path is fatal; sink checks are advisory because sinks are
// best-effort.
package preflight
