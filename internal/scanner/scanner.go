// Package scanner walks directory trees and produces catalog entries.
//
// One walker goroutine per root feeds discovered regular files into a bounded
// worker pool that stats, sniffs and hashes them. A single collector keeps one
// entry per path, so overlapping roots are harmless. Per-file and
// per-directory problems become warnings; only invalid roots, invalid options
// and cancellation fail the scan.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"magnolia/internal/catalog"
	"magnolia/internal/fileutil"
	"magnolia/internal/logging"
	"magnolia/internal/progress"
	"magnolia/internal/services"
)

// Warning kinds.
const (
	WarningDirectory = "directory"
	WarningStat      = "stat"
	WarningHash      = "hash"
	WarningContent   = "content"
)

// Warning records a soft failure that degraded or dropped part of the catalog.
type Warning struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Options controls a scan.
type Options struct {
	Roots []string
	// MaxDepth limits recursion: 1 = files directly in a root, 0 = unlimited.
	MaxDepth          int
	Exclude           []string
	Workers           int
	HashAlgorithm     string
	MaxHashBytes      int64
	DetectContentType bool
	FileTimeout       time.Duration
	Logger            *slog.Logger
	Progress          *progress.Reporter
	Now               func() time.Time
}

// Result is the scan output. Entries and Warnings are sorted by path.
type Result struct {
	Entries  []catalog.Entry
	Warnings []Warning
}

type scanner struct {
	opts    Options
	exclude excludeMatcher
	logger  *slog.Logger
}

type fileResult struct {
	entry    catalog.Entry
	ok       bool
	warnings []Warning
}

// Scan walks every root and returns the catalog.
func Scan(ctx context.Context, opts Options) (Result, error) {
	s, roots, err := prepare(opts)
	if err != nil {
		return Result{}, err
	}
	ctx = services.WithStage(ctx, "scan")
	s.opts.Progress.Start(progress.PhaseScan, 0)

	group, gctx := errgroup.WithContext(ctx)
	paths := make(chan string, s.opts.Workers*4)
	results := make(chan fileResult, s.opts.Workers*4)
	dirWarnings := make(chan Warning, 16)

	walkers, wctx := errgroup.WithContext(gctx)
	for _, root := range roots {
		walkers.Go(func() error {
			return s.walk(wctx, root, paths, dirWarnings)
		})
	}
	group.Go(func() error {
		defer close(paths)
		defer close(dirWarnings)
		return walkers.Wait()
	})

	workers, kctx := errgroup.WithContext(gctx)
	for i := 0; i < s.opts.Workers; i++ {
		workers.Go(func() error {
			for path := range paths {
				entry, warnings, ok := s.inspect(kctx, path)
				select {
				case results <- fileResult{entry: entry, ok: ok, warnings: warnings}:
				case <-kctx.Done():
					return kctx.Err()
				}
				s.opts.Progress.Done(path)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer close(results)
		return workers.Wait()
	})

	byPath := make(map[string]catalog.Entry)
	var warnings []Warning
	for results != nil || dirWarnings != nil {
		select {
		case res, open := <-results:
			if !open {
				results = nil
				continue
			}
			for _, w := range res.warnings {
				warnings = append(warnings, s.warn(ctx, w))
			}
			if res.ok {
				if _, dup := byPath[res.entry.Path]; !dup {
					byPath[res.entry.Path] = res.entry
				}
			}
		case w, open := <-dirWarnings:
			if !open {
				dirWarnings = nil
				continue
			}
			warnings = append(warnings, s.warn(ctx, w))
		}
	}

	if err := group.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	entries := make([]catalog.Entry, 0, len(byPath))
	for _, entry := range byPath {
		entries = append(entries, entry)
	}
	catalog.SortByPath(entries)
	sort.SliceStable(warnings, func(i, j int) bool { return warnings[i].Path < warnings[j].Path })

	s.logger.Info("scan complete",
		logging.String(logging.FieldEventType, "scan_complete"),
		logging.Int("roots", len(roots)),
		logging.Int("files", len(entries)),
		logging.Int("warnings", len(warnings)),
	)
	return Result{Entries: entries, Warnings: warnings}, nil
}

func prepare(opts Options) (*scanner, []string, error) {
	if len(opts.Roots) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "scan", "roots", "no directories to scan", nil)
	}
	if opts.MaxDepth < 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "scan", "depth", "depth must be >= 0", nil)
	}
	if _, err := fileutil.NewHasher(opts.HashAlgorithm); err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "scan", "hash", "", err)
	}
	exclude, err := newExcludeMatcher(opts.Exclude)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "scan", "exclude", "", err)
	}

	seen := make(map[string]struct{}, len(opts.Roots))
	roots := make([]string, 0, len(opts.Roots))
	for _, raw := range opts.Roots {
		abs, err := filepath.Abs(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "scan", "roots", raw, err)
		}
		// WalkDir does not descend into a symlinked root, so walk its target.
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "scan", "roots", abs, err)
		}
		abs = resolved
		info, err := os.Stat(abs)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "scan", "roots", abs, err)
		}
		if !info.IsDir() {
			return nil, nil, services.Wrap(services.ErrValidation, "scan", "roots", abs+" is not a directory", nil)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		roots = append(roots, abs)
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HashAlgorithm == "" {
		opts.HashAlgorithm = fileutil.AlgorithmSHA256
	}
	return &scanner{
		opts:    opts,
		exclude: exclude,
		logger:  logging.NewComponentLogger(opts.Logger, "scanner"),
	}, roots, nil
}

// walk feeds the regular files under root into paths. Directory errors are
// reported on warnings and the walk continues with sibling subtrees.
func (s *scanner) walk(ctx context.Context, root string, paths chan<- string, warnings chan<- Warning) error {
	report := func(w Warning) error {
		select {
		case warnings <- w:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if reportErr := report(Warning{Path: path, Kind: WarningDirectory, Message: err.Error()}); reportErr != nil {
				return reportErr
			}
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if s.exclude.Match(rel, d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.opts.MaxDepth > 0 && strings.Count(rel, "/")+1 >= s.opts.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		s.opts.Progress.AddTotal(1)
		select {
		case paths <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *scanner) warn(ctx context.Context, w Warning) Warning {
	logger := logging.WithContext(services.WithPath(ctx, w.Path), s.logger)
	impact := "field omitted from catalog entry"
	hint := "check file permissions"
	switch w.Kind {
	case WarningDirectory:
		impact = "subtree skipped"
		hint = "check directory permissions"
	case WarningStat:
		impact = "file omitted from catalog"
		hint = "file may have been removed during the scan"
	case WarningHash:
		impact = "file excluded from duplicate detection"
		hint = "raise scan.max_hash_bytes to hash larger files"
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return w
	}
	logging.WarnWithContext(logger, "scan warning", "scan_"+w.Kind,
		logging.String("detail", w.Message),
		logging.String(logging.FieldImpact, impact),
		logging.String(logging.FieldErrorHint, hint),
	)
	return w
}
