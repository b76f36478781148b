// Package sink forwards enriched catalog entries to optional external
// stores. Sinks are best-effort: failures are logged and counted but never
// fail the command that ran them.
package sink

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"magnolia/internal/catalog"
	"magnolia/internal/logging"
)

// DefaultTimeout bounds a single Ingest call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Ingester accepts catalog entries.
type Ingester interface {
	Name() string
	Ingest(ctx context.Context, entry catalog.Entry) error
}

// Result summarizes one sink's run.
type Result struct {
	Name     string `json:"name"`
	Ingested int    `json:"ingested"`
	Failed   int    `json:"failed"`
}

// Options controls Dispatch.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatch sends every entry to every sink, one call at a time per sink, with
// a per-call timeout. It stops early only when ctx is done.
func Dispatch(ctx context.Context, sinks []Ingester, entries []catalog.Entry, opts Options) []Result {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := logging.NewComponentLogger(opts.Logger, "sink")
	results := make([]Result, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		res := Result{Name: s.Name()}
		var firstErr error
		for _, entry := range entries {
			if ctx.Err() != nil {
				break
			}
			callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			err := s.Ingest(callCtx, entry)
			cancel()
			if err != nil {
				res.Failed++
				if firstErr == nil {
					firstErr = err
				}
				logger.Debug("sink ingest failed",
					logging.String("sink", res.Name),
					logging.String(logging.FieldPath, entry.Path),
					logging.Error(err),
				)
				continue
			}
			res.Ingested++
		}
		if res.Failed > 0 {
			logging.WarnWithContext(logger, "sink ingest incomplete", "sink_failed",
				logging.String("sink", res.Name),
				logging.Int("failed", res.Failed),
				logging.Int("ingested", res.Ingested),
				logging.Error(firstErr),
				logging.String(logging.FieldErrorHint, "check the "+res.Name+" settings and connectivity"),
				logging.String(logging.FieldImpact, "external catalog copy is incomplete; local results are unaffected"),
			)
		} else {
			logger.Info("sink ingest complete",
				logging.String("sink", res.Name),
				logging.Int("ingested", res.Ingested),
			)
		}
		results = append(results, res)
	}
	return results
}

// FileType returns the short detected type for an entry: the canonical
// extension for its content type, else its own extension.
func FileType(entry catalog.Entry) string {
	if entry.ContentType != "" {
		if m := mimetype.Lookup(entry.ContentType); m != nil && m.Extension() != "" {
			return strings.TrimPrefix(m.Extension(), ".")
		}
	}
	return entry.Extension
}

// Recorder keeps every ingested entry in memory. Fail, when set, decides the
// error returned for an entry; failed entries are not recorded.
type Recorder struct {
	Fail func(catalog.Entry) error

	mu      sync.Mutex
	entries []catalog.Entry
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Ingest(ctx context.Context, entry catalog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Fail != nil {
		if err := r.Fail(entry); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []catalog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]catalog.Entry(nil), r.entries...)
}
