package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magnolia/internal/catalog"
	"magnolia/internal/notifications"
	"magnolia/internal/preflight"
	"magnolia/internal/scanner"
	"magnolia/internal/services"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		depth   int
		exclude []string
		output  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "scan [directories...]",
		Short: "Walk directories and write a catalog",
		Long: "Walk the given directories (default $HOME) and write a JSON catalog of every\n" +
			"regular file to --output, or to stdout when --output is omitted.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := ctx.config
			logger := ctx.loggerValue()
			runCtx := ctx.runContext(cmd, "scan")
			started := time.Now()

			var result scanner.Result
			var roots []string
			defer func() {
				ctx.finishStage(runCtx, "scan", started, err, notifications.EventScanCompleted, notifications.Payload{
					"roots":    len(roots),
					"files":    len(result.Entries),
					"warnings": len(result.Warnings),
				})
			}()

			roots, err = scanRoots(args)
			if err != nil {
				return err
			}
			if err := preflight.Err("scan", preflight.RunAll(runCtx, cfg, preflight.Targets{Roots: roots})); err != nil {
				return err
			}

			opts := scanner.Options{
				Roots:             roots,
				MaxDepth:          cfg.Scan.MaxDepth,
				Exclude:           append(append([]string(nil), cfg.Scan.Exclude...), splitList(exclude)...),
				Workers:           cfg.ScanWorkers(),
				HashAlgorithm:     cfg.Scan.HashAlgorithm,
				MaxHashBytes:      cfg.Scan.MaxHashBytes,
				DetectContentType: cfg.Scan.DetectContentType,
				FileTimeout:       cfg.ScanFileTimeout(),
				Logger:            logger,
			}
			if cmd.Flags().Changed("depth") {
				opts.MaxDepth = depth
			}
			if cmd.Flags().Changed("workers") {
				if workers <= 0 {
					return services.Wrap(services.ErrValidation, "scan", "workers", "--workers must be positive", nil)
				}
				opts.Workers = workers
			}

			reporter, stop := ctx.startProgress(cmd.ErrOrStderr())
			opts.Progress = reporter
			result, err = scanner.Scan(runCtx, opts)
			stop()
			if err != nil {
				return err
			}

			var total int64
			for _, entry := range result.Entries {
				total += entry.Size
			}
			ctx.metrics.ObserveScan(len(result.Entries), len(result.Warnings), total)

			if strings.TrimSpace(output) == "" {
				return catalog.Encode(cmd.OutOrStdout(), result.Entries)
			}
			target, err := expandArg("output", output)
			if err != nil {
				return err
			}
			if err := catalog.Save(target, result.Entries); err != nil {
				return services.Wrap(services.ErrTransient, "scan", "write catalog", target, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cataloged %s (%s) to %s\n",
				pluralize(len(result.Entries), "file", "files"), humanize.IBytes(uint64(total)), target)
			if n := len(result.Warnings); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s logged; see the log for details\n", pluralize(n, "warning", "warnings"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum recursion depth (1 = top-level files only, 0 = unlimited)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns to skip (repeatable, comma-separated)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the catalog to this file instead of stdout")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent file workers (default from config)")
	return cmd
}

// scanRoots expands args, defaulting to the home directory.
func scanRoots(args []string) ([]string, error) {
	if len(args) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "scan", "roots", "no directories given and $HOME is unset", err)
		}
		return []string{home}, nil
	}
	roots := make([]string, 0, len(args))
	for _, arg := range args {
		root, err := expandArg("directory", arg)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, nil
}

func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
