package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magnolia/internal/analysis"
	"magnolia/internal/config"
	"magnolia/internal/executor"
	"magnolia/internal/logging"
	"magnolia/internal/notifications"
	"magnolia/internal/planner"
	"magnolia/internal/preflight"
	"magnolia/internal/services"
)

var kindOrder = []planner.Kind{
	planner.KindMove,
	planner.KindCopy,
	planner.KindQuarantine,
	planner.KindDelete,
	planner.KindSkip,
}

type organizeOutput struct {
	Plan    planner.Plan       `json:"plan"`
	DryRun  bool               `json:"dryRun"`
	Results []executor.Outcome `json:"results,omitempty"`
	Summary *executor.Summary  `json:"summary,omitempty"`
}

func newOrganizeCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun     bool
		workers    int
		jsonOutput bool
		flags      settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "organize <analysisFile>",
		Short: "Apply an analysis to the filesystem",
		Long: "Re-plan the analysis against the destination as it is now, then move or\n" +
			"copy each file into <destination>/<category>/ and handle duplicates per\n" +
			"the duplicate policy. Settings come from flags, then the analysis, then\n" +
			"config. The exit code is 0 only when no action failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := ctx.config
			logger := ctx.loggerValue()
			runCtx := ctx.runContext(cmd, "organize")
			started := time.Now()

			var (
				settings analysis.Settings
				result   executor.Result
				executed bool
			)
			defer func() {
				if dryRun && err == nil {
					return
				}
				payload := notifications.Payload{"destination": settings.Destination}
				if executed {
					payload["succeeded"] = result.Summary.Succeeded
					payload["skipped"] = result.Summary.Skipped
					payload["failed"] = result.Summary.Failed
					payload["bytes"] = result.Summary.BytesTransferred
				}
				ctx.finishStage(runCtx, "organize", started, err, notifications.EventOrganizeCompleted, payload)
			}()

			reportFile, err := expandArg("analysis", args[0])
			if err != nil {
				return err
			}
			report, err := analysis.Load(reportFile)
			if err != nil {
				return err
			}

			overrides, err := flags.settings()
			if err != nil {
				return err
			}
			settings, err = resolveOrganizeSettings(cfg, report.Settings, overrides)
			if err != nil {
				return err
			}

			if err := preflight.Err("organize", preflight.RunAll(runCtx, cfg, preflight.Targets{Destination: settings.Destination})); err != nil {
				return err
			}

			if dryRun {
				plan, err := planner.Build(runCtx, report.PlanInput(settings), planner.NewOSOracle())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, organizeOutput{Plan: plan, DryRun: true})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderPlan(plan))
				fmt.Fprintf(out, "Dry run: %s planned, %s to transfer; nothing was changed\n",
					pluralize(len(plan.Actions), "action", "actions"), humanize.IBytes(uint64(plan.Bytes())))
				return nil
			}

			lock, err := executor.LockDestination(settings.Destination)
			if err != nil {
				return err
			}
			defer func() {
				if unlockErr := lock.Unlock(); unlockErr != nil {
					logging.WarnWithContext(logger, "destination lock release failed", "lock_release_failed",
						logging.String(logging.FieldPath, lock.Path()),
						logging.Error(unlockErr),
						logging.String(logging.FieldErrorHint, "remove the lock file manually before the next run"),
						logging.String(logging.FieldImpact, "next organize run on this destination may be refused"),
					)
				}
			}()

			plan, err := planner.Build(runCtx, report.PlanInput(settings), planner.NewOSOracle())
			if err != nil {
				return err
			}

			opts := executor.Options{
				Workers:     cfg.OrganizeWorkers(),
				FileTimeout: cfg.OrganizeFileTimeout(),
				Logger:      logger,
			}
			if cmd.Flags().Changed("workers") {
				if workers <= 0 {
					return services.Wrap(services.ErrValidation, "organize", "workers", "--workers must be positive", nil)
				}
				opts.Workers = workers
			}

			reporter, stop := ctx.startProgress(cmd.ErrOrStderr())
			opts.Progress = reporter
			result, err = executor.Execute(runCtx, plan, opts)
			stop()
			executed = true

			for _, outcome := range result.Outcomes {
				ctx.metrics.ObserveAction(string(outcome.Action.Kind), string(outcome.Status))
			}
			ctx.metrics.ObserveTransferred(result.Summary.BytesTransferred)

			if jsonOutput {
				if writeErr := writeJSON(cmd, organizeOutput{Plan: plan, Results: result.Outcomes, Summary: &result.Summary}); writeErr != nil && err == nil {
					err = writeErr
				}
				return err
			}
			renderOrganizeResult(cmd.OutOrStdout(), result)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without touching the filesystem")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent file operations (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the plan and results as JSON")
	flags.register(cmd)
	return cmd
}

// resolveOrganizeSettings applies flags over the report settings over config
// and validates the result.
func resolveOrganizeSettings(cfg *config.Config, fromReport, fromFlags analysis.Settings) (analysis.Settings, error) {
	settings := configSettings(cfg).Merge(fromReport).Merge(fromFlags)
	if settings.Destination == "" {
		return settings, services.Wrap(services.ErrValidation, "organize", "destination",
			"no destination: pass --destination or set organize.destination", nil)
	}
	mode, err := planner.ParseMode(string(settings.Mode))
	if err != nil {
		return settings, services.Wrap(services.ErrValidation, "organize", "mode", "", err)
	}
	policy, err := planner.ParsePolicy(string(settings.DuplicatePolicy))
	if err != nil {
		return settings, services.Wrap(services.ErrValidation, "organize", "duplicate policy", "", err)
	}
	settings.Mode = mode
	settings.DuplicatePolicy = policy
	return settings, nil
}

func renderPlan(plan planner.Plan) string {
	rows := make([][]string, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		target := action.DestinationPath
		if action.Kind == planner.KindDelete {
			target = "(keeper " + action.KeeperPath + ")"
		}
		rows = append(rows, []string{
			string(action.Kind),
			action.SourcePath,
			target,
			humanize.IBytes(uint64(action.Size)),
			action.Reason,
		})
	}
	return renderTable(
		[]string{"Action", "Source", "Destination", "Size", "Reason"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderOrganizeResult(w io.Writer, result executor.Result) {
	type tally struct {
		succeeded, skipped, failed int
		bytes                      int64
	}
	byKind := make(map[planner.Kind]*tally)
	var failures [][]string
	for _, outcome := range result.Outcomes {
		t := byKind[outcome.Action.Kind]
		if t == nil {
			t = &tally{}
			byKind[outcome.Action.Kind] = t
		}
		switch outcome.Status {
		case executor.StatusSuccess:
			t.succeeded++
			if outcome.Action.Kind != planner.KindDelete {
				t.bytes += outcome.Action.Size
			}
		case executor.StatusSkipped:
			t.skipped++
		case executor.StatusFailed:
			t.failed++
			failures = append(failures, []string{string(outcome.Action.Kind), outcome.Action.SourcePath, outcome.Reason})
		}
	}

	rows := make([][]string, 0, len(kindOrder))
	for _, kind := range kindOrder {
		t := byKind[kind]
		if t == nil {
			continue
		}
		rows = append(rows, []string{
			string(kind),
			strconv.Itoa(t.succeeded),
			strconv.Itoa(t.skipped),
			strconv.Itoa(t.failed),
			humanize.IBytes(uint64(t.bytes)),
		})
	}
	s := result.Summary
	fmt.Fprintln(w, renderTable(
		[]string{"Action", "Succeeded", "Skipped", "Failed", "Transferred"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		"Total", strconv.Itoa(s.Succeeded), strconv.Itoa(s.Skipped), strconv.Itoa(s.Failed), humanize.IBytes(uint64(s.BytesTransferred)),
	))
	if len(failures) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"Action", "Source", "Failure"},
			failures,
			[]columnAlignment{alignLeft, alignLeft, alignLeft},
		))
	}
}
