package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magnolia/internal/analysis"
	"magnolia/internal/catalog"
	"magnolia/internal/classify"
	"magnolia/internal/config"
	"magnolia/internal/logging"
	"magnolia/internal/notifications"
	"magnolia/internal/planner"
	"magnolia/internal/sink"
	"magnolia/internal/sink/docstore"
	"magnolia/internal/sink/notion"
)

type settingsFlags struct {
	destination string
	copyMode    bool
	policy      string
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.destination, "destination", "d", "", "Destination root for organized files")
	cmd.Flags().BoolVar(&f.copyMode, "copy", false, "Copy files instead of moving them")
	cmd.Flags().StringVar(&f.policy, "duplicate-policy", "", "Duplicate policy: quarantine, delete or keep-all")
}

// settings returns the overrides given on the command line.
func (f *settingsFlags) settings() (analysis.Settings, error) {
	var s analysis.Settings
	if strings.TrimSpace(f.destination) != "" {
		dest, err := expandArg("destination", f.destination)
		if err != nil {
			return s, err
		}
		s.Destination = dest
	}
	if f.copyMode {
		s.Mode = planner.ModeCopy
	}
	if strings.TrimSpace(f.policy) != "" {
		s.DuplicatePolicy = planner.Policy(f.policy)
	}
	return s, nil
}

// configSettings returns the [organize] section as plan settings.
func configSettings(cfg *config.Config) analysis.Settings {
	return analysis.Settings{
		Destination:     cfg.Organize.Destination,
		Mode:            planner.Mode(cfg.Organize.Mode),
		DuplicatePolicy: planner.Policy(cfg.Organize.DuplicatePolicy),
		DuplicatesDir:   cfg.Organize.DuplicatesDir,
	}
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var (
		output    string
		rulesFile string
		noSinks   bool
		flags     settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "analyze <catalogFile>",
		Short: "Classify a catalog, find duplicates and preview the plan",
		Long: "Read a catalog written by scan, assign categories and tags, group duplicate\n" +
			"content and, when a destination is known, preview the organize plan. The\n" +
			"analysis is written to --output, or to stdout when --output is omitted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := ctx.config
			logger := ctx.loggerValue()
			runCtx := ctx.runContext(cmd, "analyze")
			started := time.Now()

			var report analysis.Report
			defer func() {
				ctx.finishStage(runCtx, "analyze", started, err, notifications.EventAnalyzeCompleted, notifications.Payload{
					"entries":          len(report.Entries),
					"duplicateSets":    report.Summary.Sets,
					"reclaimableBytes": report.Summary.ReclaimableBytes,
				})
			}()

			catalogFile, err := expandArg("catalog", args[0])
			if err != nil {
				return err
			}
			entries, err := catalog.Load(catalogFile)
			if err != nil {
				return err
			}

			if strings.TrimSpace(rulesFile) == "" {
				rulesFile = cfg.Classify.RulesFile
			}
			classifier, err := buildClassifier(rulesFile, cfg.Classify.TagDepth)
			if err != nil {
				return err
			}

			overrides, err := flags.settings()
			if err != nil {
				return err
			}

			report, err = analysis.Run(runCtx, entries, analysis.Options{
				RunID:       ctx.runID,
				CatalogFile: catalogFile,
				Classifier:  classifier,
				Settings:    configSettings(cfg).Merge(overrides),
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			ctx.metrics.ObserveAnalysis(report.Summary.Sets, report.Summary.ReclaimableBytes)

			if strings.TrimSpace(output) == "" {
				if err := analysis.Encode(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				target, err := expandArg("output", output)
				if err != nil {
					return err
				}
				if err := analysis.Save(target, report); err != nil {
					return fmt.Errorf("write analysis %s: %w", target, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAnalysisSummary(report))
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote analysis to %s\n", target)
			}

			if !noSinks {
				runSinks(runCtx, ctx, cfg, logger, report.Entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the analysis to this file instead of stdout")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "Category rules file (.toml, .yaml or .json)")
	cmd.Flags().BoolVar(&noSinks, "no-sinks", false, "Skip the configured catalog sinks")
	flags.register(cmd)
	return cmd
}

func buildClassifier(rulesFile string, tagDepth int) (*classify.Classifier, error) {
	rules := classify.DefaultRules()
	if path := strings.TrimSpace(rulesFile); path != "" {
		expanded, err := expandArg("rules", path)
		if err != nil {
			return nil, err
		}
		loaded, err := classify.LoadRules(expanded)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return classify.New(rules, tagDepth)
}

// runSinks delivers entries to every enabled sink. Sink problems are logged
// and never fail the command.
func runSinks(ctx context.Context, cmdCtx *commandContext, cfg *config.Config, logger *slog.Logger, entries []catalog.Entry) {
	var sinks []sink.Ingester
	if cfg.Docstore.Enabled {
		store, err := docstore.OpenFromConfig(ctx, cfg)
		if err != nil {
			warnSinkUnavailable(logger, "docstore", err, "check docstore.driver and docstore.dsn")
		} else {
			defer store.Close()
			sinks = append(sinks, store)
		}
	}
	if cfg.Notion.Enabled {
		client, err := notion.NewFromConfig(cfg)
		if err != nil {
			warnSinkUnavailable(logger, "notion", err, "set notion.api_key and notion.database_id")
		} else {
			sinks = append(sinks, client)
		}
	}
	if len(sinks) == 0 {
		return
	}
	for _, result := range sink.Dispatch(ctx, sinks, entries, sink.Options{Logger: logger}) {
		cmdCtx.metrics.ObserveSink(result.Name, result.Ingested, result.Failed)
	}
}

func warnSinkUnavailable(logger *slog.Logger, name string, err error, hint string) {
	logging.WarnWithContext(logger, "sink unavailable; skipping", "sink_unavailable",
		logging.String("sink", name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "catalog not delivered to "+name),
	)
}

func renderAnalysisSummary(report analysis.Report) string {
	counts := make(map[string]int)
	sizes := make(map[string]int64)
	for _, entry := range report.Entries {
		category := report.Categories[entry.Path]
		if category == "" {
			category = catalog.Uncategorized
		}
		counts[category]++
		sizes[category] += entry.Size
	}
	categories := make([]string, 0, len(counts))
	for category := range counts {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	rows := make([][]string, 0, len(categories))
	var total int64
	for _, category := range categories {
		rows = append(rows, []string{category, strconv.Itoa(counts[category]), humanize.IBytes(uint64(sizes[category]))})
		total += sizes[category]
	}
	table := renderTable(
		[]string{"Category", "Files", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
		"Total", strconv.Itoa(len(report.Entries)), humanize.IBytes(uint64(total)),
	)
	return fmt.Sprintf("%s\nDuplicate sets: %d, redundant files: %d, reclaimable: %s, planned actions: %d",
		table,
		report.Summary.Sets,
		report.Summary.RedundantFiles,
		humanize.IBytes(uint64(report.Summary.ReclaimableBytes)),
		len(report.Plan),
	)
}
