// Package analysis runs the analyze stage and owns the report it hands to
// organize.
//
// A report carries the enriched catalog, the category map, the duplicate sets
// and a preview plan. Organize re-plans from the report against the
// filesystem as it is at that moment, so the preview is informational.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"magnolia/internal/catalog"
	"magnolia/internal/classify"
	"magnolia/internal/dedupe"
	"magnolia/internal/fileutil"
	"magnolia/internal/logging"
	"magnolia/internal/planner"
	"magnolia/internal/services"
)

// Settings are the organize settings a plan was built for.
type Settings struct {
	Destination     string         `json:"destination,omitempty"`
	Mode            planner.Mode   `json:"mode"`
	DuplicatePolicy planner.Policy `json:"duplicatePolicy"`
	DuplicatesDir   string         `json:"duplicatesDir,omitempty"`
}

// Report is the analyze output.
type Report struct {
	RunID         string            `json:"runId"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	CatalogFile   string            `json:"catalogFile"`
	Entries       []catalog.Entry   `json:"entries"`
	Categories    map[string]string `json:"categories"`
	DuplicateSets []dedupe.Set      `json:"duplicateSets"`
	Summary       dedupe.Summary    `json:"summary"`
	Settings      Settings          `json:"settings"`
	Plan          []planner.Action  `json:"plan"`
}

// Options controls Run.
type Options struct {
	RunID       string
	CatalogFile string
	Classifier  *classify.Classifier
	Settings    Settings
	// Oracle answers destination probes while building the preview plan.
	// Defaults to the real filesystem.
	Oracle planner.Oracle
	Logger *slog.Logger
	Now    func() time.Time
}

// Run classifies entries, finds duplicate sets and, when a destination is
// set, builds the preview plan. Entries must form a valid catalog.
func Run(ctx context.Context, entries []catalog.Entry, opts Options) (Report, error) {
	if err := catalog.Validate(entries); err != nil {
		return Report{}, err
	}
	if opts.Classifier == nil {
		classifier, err := classify.New(classify.DefaultRules(), 0)
		if err != nil {
			return Report{}, err
		}
		opts.Classifier = classifier
	}
	if opts.Oracle == nil {
		opts.Oracle = planner.NewOSOracle()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.WithContext(services.WithStage(ctx, "analyze"), logging.NewComponentLogger(opts.Logger, "analysis"))

	settings, err := normalizeSettings(opts.Settings)
	if err != nil {
		return Report{}, err
	}

	enriched, categories := opts.Classifier.Classify(entries)
	catalog.SortByPath(enriched)
	sets := dedupe.Analyze(enriched)

	report := Report{
		RunID:         opts.RunID,
		GeneratedAt:   opts.Now().UTC(),
		CatalogFile:   opts.CatalogFile,
		Entries:       enriched,
		Categories:    categories,
		DuplicateSets: sets,
		Summary:       dedupe.Summarize(sets),
		Settings:      settings,
		Plan:          []planner.Action{},
	}

	if settings.Destination != "" {
		plan, err := planner.Build(ctx, report.PlanInput(settings), opts.Oracle)
		if err != nil {
			return Report{}, err
		}
		report.Plan = plan.Actions
	}

	logger.Info("analysis complete",
		logging.String(logging.FieldEventType, "analysis_complete"),
		logging.Int("entries", len(enriched)),
		logging.Int("duplicate_sets", report.Summary.Sets),
		logging.Int("redundant_files", report.Summary.RedundantFiles),
		logging.Int64("reclaimable_bytes", report.Summary.ReclaimableBytes),
		logging.Int("planned_actions", len(report.Plan)),
	)
	return report, nil
}

// PlanInput assembles planner input from the report's enrichments.
func (r Report) PlanInput(settings Settings) planner.Input {
	return planner.Input{
		Entries:       r.Entries,
		Categories:    r.Categories,
		Sets:          r.DuplicateSets,
		Destination:   settings.Destination,
		Mode:          settings.Mode,
		Policy:        settings.DuplicatePolicy,
		DuplicatesDir: settings.DuplicatesDir,
	}
}

// Merge returns s with every non-empty field of override applied.
func (s Settings) Merge(override Settings) Settings {
	if override.Destination != "" {
		s.Destination = override.Destination
	}
	if override.Mode != "" {
		s.Mode = override.Mode
	}
	if override.DuplicatePolicy != "" {
		s.DuplicatePolicy = override.DuplicatePolicy
	}
	if override.DuplicatesDir != "" {
		s.DuplicatesDir = override.DuplicatesDir
	}
	return s
}

func normalizeSettings(s Settings) (Settings, error) {
	if s.Mode == "" {
		s.Mode = planner.ModeMove
	}
	mode, err := planner.ParseMode(string(s.Mode))
	if err != nil {
		return Settings{}, services.Wrap(services.ErrValidation, "analyze", "mode", "", err)
	}
	s.Mode = mode
	if s.DuplicatePolicy == "" {
		s.DuplicatePolicy = planner.PolicyQuarantine
	}
	policy, err := planner.ParsePolicy(string(s.DuplicatePolicy))
	if err != nil {
		return Settings{}, services.Wrap(services.ErrValidation, "analyze", "duplicate policy", "", err)
	}
	s.DuplicatePolicy = policy
	return s, nil
}

// Decode reads a report and validates its catalog.
func Decode(r io.Reader) (Report, error) {
	dec := json.NewDecoder(r)
	var report Report
	if err := dec.Decode(&report); err != nil {
		return Report{}, services.Wrap(services.ErrValidation, "analysis", "decode", "malformed analysis JSON", err)
	}
	if dec.More() {
		return Report{}, services.Wrap(services.ErrValidation, "analysis", "decode", "trailing data after analysis report", nil)
	}
	if err := catalog.Validate(report.Entries); err != nil {
		return Report{}, err
	}
	if report.Entries == nil {
		report.Entries = []catalog.Entry{}
	}
	if report.Categories == nil {
		report.Categories = map[string]string{}
	}
	if report.DuplicateSets == nil {
		report.DuplicateSets = []dedupe.Set{}
	}
	if report.Plan == nil {
		report.Plan = []planner.Action{}
	}
	return report, nil
}

// Load reads and validates a report file.
func Load(path string) (Report, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{}, services.Wrap(services.ErrNotFound, "analysis", "load", path, err)
		}
		return Report{}, services.Wrap(services.ErrValidation, "analysis", "load", path, err)
	}
	defer file.Close()
	return Decode(file)
}

// Encode writes the report as indented JSON.
func Encode(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Save writes the report to path atomically.
func Save(path string, report Report) error {
	var buf bytes.Buffer
	if err := Encode(&buf, report); err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	return fileutil.AtomicWrite(path, buf.Bytes())
}
