// Package executor applies an action plan to the filesystem.
//
// Transfers (MOVE, COPY, QUARANTINE) run first on a bounded pool; writes into
// the same directory are serialized. DELETE actions run afterwards and only
// when the keeper is verifiably in its final location. Every action gets its
// own outcome and failures never roll back earlier work.
//
// Once started, a file operation runs to completion on a context detached
// from the caller, bounded by FileTimeout. Cancelling the caller's context
// stops new actions from starting; those are recorded as failed:canceled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"magnolia/internal/fileutil"
	"magnolia/internal/logging"
	"magnolia/internal/planner"
	"magnolia/internal/progress"
	"magnolia/internal/services"
)

// maxReresolve bounds the suffix search when a destination appeared after
// planning.
const maxReresolve = 1000

// Options controls execution.
type Options struct {
	Workers     int
	FileTimeout time.Duration
	Logger      *slog.Logger
	Progress    *progress.Reporter
	// Oracle re-checks destinations that appeared after planning. Defaults to
	// the real filesystem.
	Oracle planner.Oracle
}

type executor struct {
	plan     planner.Plan
	opts     Options
	logger   *slog.Logger
	dirLocks *dirLocks
}

// Execute applies plan and returns one outcome per action in plan order. The
// error is nil when every action succeeded or was skipped; otherwise it wraps
// services.ErrActionsFailed. The Result is always populated.
func Execute(ctx context.Context, plan planner.Plan, opts Options) (Result, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Oracle == nil {
		opts.Oracle = planner.NewOSOracle()
	}
	e := &executor{
		plan:     plan,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "executor"),
		dirLocks: newDirLocks(),
	}
	ctx = services.WithStage(ctx, "organize")

	outcomes := make([]Outcome, len(plan.Actions))
	var transfers, deletes []int
	for i, action := range plan.Actions {
		if action.Kind == planner.KindDelete {
			deletes = append(deletes, i)
			continue
		}
		transfers = append(transfers, i)
	}

	opts.Progress.Start(progress.PhaseOrganize, int64(len(transfers)))
	e.runBatch(ctx, transfers, outcomes, e.transfer)

	finals := e.finalLocations(outcomes, transfers)
	opts.Progress.Start(progress.PhaseDelete, int64(len(deletes)))
	e.runBatch(ctx, deletes, outcomes, func(ctx context.Context, action planner.Action) Outcome {
		return e.remove(ctx, action, finals)
	})

	result := Result{Outcomes: outcomes, Summary: summarize(outcomes)}
	e.logger.Info("organize complete",
		logging.String(logging.FieldEventType, "organize_complete"),
		logging.Int("actions", len(outcomes)),
		logging.Int("succeeded", result.Summary.Succeeded),
		logging.Int("skipped", result.Summary.Skipped),
		logging.Int("failed", result.Summary.Failed),
		logging.Int64("bytes", result.Summary.BytesTransferred),
	)
	if result.Summary.Failed > 0 {
		return result, services.Wrap(services.ErrActionsFailed, "organize", "execute",
			fmt.Sprintf("%d of %d actions failed", result.Summary.Failed, len(outcomes)), nil)
	}
	return result, nil
}

// runBatch applies fn to the indexed actions with bounded concurrency. Actions
// that cannot start because ctx is done are marked canceled.
func (e *executor) runBatch(ctx context.Context, indexes []int, outcomes []Outcome, fn func(context.Context, planner.Action) Outcome) {
	sem := semaphore.NewWeighted(int64(e.opts.Workers))
	var wg sync.WaitGroup
	for pos, idx := range indexes {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			for _, rest := range indexes[pos:] {
				outcomes[rest] = e.record(ctx, Outcome{Action: e.plan.Actions[rest], Status: StatusFailed, Reason: ReasonCanceled})
			}
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			action := e.plan.Actions[idx]
			actx := services.WithAction(services.WithPath(ctx, action.SourcePath), string(action.Kind))
			opCtx, cancel := e.operationContext(actx)
			defer cancel()
			outcomes[idx] = e.record(actx, fn(opCtx, action))
		}(idx)
	}
	wg.Wait()
}

// operationContext detaches from caller cancellation so a started file
// operation is never interrupted midway, then applies the per-file timeout.
func (e *executor) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if e.opts.FileTimeout <= 0 {
		return detached, func() {}
	}
	return context.WithTimeout(detached, e.opts.FileTimeout)
}

func (e *executor) record(ctx context.Context, outcome Outcome) Outcome {
	logger := logging.WithContext(ctx, e.logger)
	switch outcome.Status {
	case StatusFailed:
		logging.WarnWithContext(logger, "action failed", "action_failed",
			logging.String(logging.FieldPath, outcome.Action.SourcePath),
			logging.String(logging.FieldAction, string(outcome.Action.Kind)),
			logging.String("reason", outcome.Reason),
			logging.String(logging.FieldErrorHint, failureHint(outcome.Reason)),
			logging.String(logging.FieldImpact, "source left in place"),
		)
	default:
		logger.Debug("action applied",
			logging.String(logging.FieldPath, outcome.Action.SourcePath),
			logging.String(logging.FieldAction, string(outcome.Action.Kind)),
			logging.String("outcome", outcome.String()),
			logging.String("final_path", outcome.FinalPath),
			logging.Bool("linked", outcome.Linked),
		)
	}
	e.opts.Progress.Done(outcome.Action.SourcePath)
	return outcome
}

func failureHint(reason string) string {
	switch reason {
	case ReasonSourceChanged, ReasonSourceMissing:
		return "rescan the source directories and analyze again"
	case ReasonKeeperUnavailable:
		return "check the kept copy before deleting duplicates"
	case ReasonCanceled:
		return "rerun organize to finish the remaining actions"
	case ReasonTimeout:
		return "raise organize.file_timeout_seconds or check the storage"
	default:
		return "check destination permissions and free space"
	}
}

// transfer applies a MOVE, COPY or QUARANTINE action. SKIP is recorded as is.
func (e *executor) transfer(ctx context.Context, action planner.Action) Outcome {
	out := Outcome{Action: action}
	switch action.Kind {
	case planner.KindSkip:
		out.Status = StatusSkipped
		out.Reason = action.Reason
		return out
	case planner.KindMove, planner.KindCopy, planner.KindQuarantine:
	default:
		return failed(out, fmt.Sprintf("unsupported action kind %q", action.Kind))
	}
	if action.DestinationPath == "" {
		return failed(out, "missing destination")
	}

	if reason := e.checkSource(ctx, action); reason != "" {
		return failed(out, reason)
	}

	dir := filepath.Dir(action.DestinationPath)
	unlock := e.dirLocks.lock(dir)
	defer unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failed(out, fmt.Sprintf("create directory: %v", err))
	}

	copyOnly := e.copyOnly(action)
	// Later attempts continue the planner's numbering: a planned "a (1).txt"
	// is followed by "a (2).txt".
	base, seq := planner.SplitSuffix(action.DestinationPath)
	for attempt := 0; attempt <= maxReresolve; attempt++ {
		target := action.DestinationPath
		if attempt > 0 {
			target = planner.SuffixedPath(base, seq+attempt)
			probe, err := e.opts.Oracle.Probe(ctx, target, action.Size, action.ContentHash)
			if err == nil && probe == planner.ProbeIdentical {
				out.Status = StatusSkipped
				out.Reason = "identical file already exists at " + target
				out.FinalPath = target
				return out
			}
			if err != nil || probe != planner.ProbeAbsent {
				continue
			}
		}

		var err error
		if copyOnly {
			err = fileutil.CopyFileVerified(ctx, action.SourcePath, target)
		} else {
			out.Linked, err = fileutil.MoveFile(ctx, action.SourcePath, target)
		}
		switch {
		case err == nil:
			out.Status = StatusSuccess
			out.FinalPath = target
			return out
		case errors.Is(err, fs.ErrExist):
			// Appeared after planning; identical content on the planned path
			// means the work is already done.
			if attempt == 0 {
				probe, probeErr := e.opts.Oracle.Probe(ctx, target, action.Size, action.ContentHash)
				if probeErr == nil && probe == planner.ProbeIdentical {
					out.Status = StatusSkipped
					out.Reason = "identical file already exists at " + target
					out.FinalPath = target
					return out
				}
			}
			continue
		case errors.Is(err, context.DeadlineExceeded):
			return failed(out, ReasonTimeout)
		default:
			return failed(out, err.Error())
		}
	}
	return failed(out, fmt.Sprintf("no free name for %s", action.DestinationPath))
}

// remove applies a DELETE action once the keeper is confirmed in place.
func (e *executor) remove(ctx context.Context, action planner.Action, finals map[string]string) Outcome {
	out := Outcome{Action: action}
	keeper := action.KeeperPath
	if final, ok := finals[keeper]; ok {
		keeper = final
	}
	if keeper == "" || keeper == action.SourcePath {
		return failed(out, ReasonKeeperUnavailable)
	}
	info, err := e.stat(ctx, keeper)
	if err != nil || !info.Mode().IsRegular() || info.Size() != action.Size {
		return failed(out, ReasonKeeperUnavailable)
	}
	if reason := e.checkSource(ctx, action); reason != "" {
		return failed(out, reason)
	}
	if err := os.Remove(action.SourcePath); err != nil {
		return failed(out, fmt.Sprintf("remove duplicate: %v", err))
	}
	out.Status = StatusSuccess
	return out
}

// checkSource re-stats the source and compares it with the catalog size.
func (e *executor) checkSource(ctx context.Context, action planner.Action) string {
	info, err := e.stat(ctx, action.SourcePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ReasonSourceMissing
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case err != nil:
		return fmt.Sprintf("stat source: %v", err)
	case !info.Mode().IsRegular() || info.Size() != action.Size:
		return ReasonSourceChanged
	}
	return ""
}

func (e *executor) stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return fileutil.WithTimeout(ctx, e.opts.FileTimeout, func() (fs.FileInfo, error) {
		return os.Lstat(path)
	})
}

func failed(out Outcome, reason string) Outcome {
	out.Status = StatusFailed
	out.Reason = reason
	return out
}

// finalLocations maps each transferred source to where its content ended up:
// the final path when a relocating transfer succeeded, the source path
// otherwise.
func (e *executor) finalLocations(outcomes []Outcome, indexes []int) map[string]string {
	finals := make(map[string]string, len(indexes))
	for _, idx := range indexes {
		outcome := outcomes[idx]
		source := outcome.Action.SourcePath
		finals[source] = source
		if outcome.Status == StatusSuccess && !e.copyOnly(outcome.Action) {
			finals[source] = outcome.FinalPath
		}
	}
	return finals
}

func (e *executor) copyOnly(action planner.Action) bool {
	return action.Kind == planner.KindCopy || e.plan.Mode == planner.ModeCopy
}

// dirLocks serializes writes into the same directory.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *dirLocks) lock(dir string) func() {
	d.mu.Lock()
	m, ok := d.locks[dir]
	if !ok {
		m = &sync.Mutex{}
		d.locks[dir] = m
	}
	d.mu.Unlock()
	m.Lock()
	return m.Unlock
}
