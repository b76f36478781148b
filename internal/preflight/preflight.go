package preflight

import (
	"context"
	"fmt"
	"strings"

	"magnolia/internal/config"
	"magnolia/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Advisory bool
}

// Targets names the paths a command is about to use.
type Targets struct {
	Roots       []string
	Destination string
	Sinks       bool
}

// RunAll executes the checks that apply to targets. Sink checks only run
// when targets.Sinks is set and the sink is enabled.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, root := range targets.Roots {
		results = append(results, CheckReadableDirectory("Scan root", root))
	}
	if targets.Destination != "" {
		results = append(results, CheckDestination("Destination", targets.Destination))
	}
	if targets.Sinks {
		if cfg.Docstore.Enabled {
			r := CheckDocstoreFromConfig(ctx, cfg)
			r.Advisory = true
			results = append(results, r)
		}
		if cfg.Notion.Enabled {
			r := CheckNotionFromConfig(ctx, cfg)
			r.Advisory = true
			results = append(results, r)
		}
	}
	return results
}

// Err returns a validation error listing every failed non-advisory check.
func Err(stage string, results []Result) error {
	var failures []string
	for _, r := range results {
		if r.Passed || r.Advisory {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	if len(failures) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, stage, "preflight", strings.Join(failures, "; "), nil)
}
