package executor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"magnolia/internal/catalog"
	"magnolia/internal/dedupe"
	"magnolia/internal/executor"
	"magnolia/internal/fileutil"
	"magnolia/internal/planner"
	"magnolia/internal/progress"
	"magnolia/internal/services"
	"magnolia/internal/testsupport"
)

type workspace struct {
	src  string
	dest string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	base := t.TempDir()
	return workspace{src: filepath.Join(base, "src"), dest: filepath.Join(base, "out")}
}

// entries writes files under src and returns catalog entries for them.
func (w workspace) entries(t *testing.T, files map[string]string) []catalog.Entry {
	t.Helper()
	var entries []catalog.Entry
	for name, content := range files {
		path := filepath.Join(w.src, name)
		testsupport.WriteFile(t, path, content)
		entries = append(entries, entryFor(t, path))
	}
	catalog.SortByPath(entries)
	return entries
}

func entryFor(t *testing.T, path string) catalog.Entry {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := fileutil.HashFile(context.Background(), path, fileutil.AlgorithmSHA256)
	if err != nil {
		t.Fatal(err)
	}
	return testsupport.Entry(path, info.Size(), hash, testsupport.Category("documents"))
}

func (w workspace) plan(t *testing.T, entries []catalog.Entry, mode planner.Mode, policy planner.Policy) planner.Plan {
	t.Helper()
	plan, err := planner.Build(context.Background(), planner.Input{
		Entries:     entries,
		Sets:        dedupe.Analyze(entries),
		Destination: w.dest,
		Mode:        mode,
		Policy:      policy,
	}, planner.NewOSOracle())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func execute(t *testing.T, plan planner.Plan) (executor.Result, error) {
	t.Helper()
	return executor.Execute(context.Background(), plan, executor.Options{Workers: 2})
}

func outcomeFor(t *testing.T, result executor.Result, source string) executor.Outcome {
	t.Helper()
	for _, o := range result.Outcomes {
		if o.Action.SourcePath == source {
			return o
		}
	}
	t.Fatalf("no outcome for %s", source)
	return executor.Outcome{}
}

func TestExecuteQuarantineScenario(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "same", "b.txt": "same"})

	result, err := execute(t, w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.dest, "documents", "a.txt")); got != "same" {
		t.Fatalf("unexpected keeper content %q", got)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.dest, "duplicates", "b.txt")); got != "same" {
		t.Fatalf("unexpected quarantined content %q", got)
	}
	testsupport.AssertMissing(t, filepath.Join(w.src, "a.txt"))
	testsupport.AssertMissing(t, filepath.Join(w.src, "b.txt"))
	if result.Summary.Succeeded != 2 || result.Summary.Failed != 0 || result.Summary.BytesTransferred != 8 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestExecuteCopyIsNonDestructive(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{
		"a.txt":       "same",
		"b.txt":       "same",
		"notes/c.txt": "unique",
	})

	result, err := execute(t, w.plan(t, entries, planner.ModeCopy, planner.PolicyDelete))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, before := range entries {
		after := entryFor(t, before.Path)
		if after.Size != before.Size || after.ContentHash != before.ContentHash {
			t.Fatalf("source %s changed: %+v", before.Path, after)
		}
	}
	if got := outcomeFor(t, result, filepath.Join(w.src, "b.txt")); got.String() != "skipped" {
		t.Fatalf("expected duplicate skipped in copy mode, got %s", got)
	}
	copied := filepath.Join(w.dest, "documents", "c.txt")
	srcInfo, _ := os.Stat(filepath.Join(w.src, "notes", "c.txt"))
	dstInfo, err := os.Stat(copied)
	if err != nil {
		t.Fatalf("expected copy at %s: %v", copied, err)
	}
	if !dstInfo.ModTime().Equal(srcInfo.ModTime()) {
		t.Fatalf("mtime not preserved: %v vs %v", dstInfo.ModTime(), srcInfo.ModTime())
	}
}

func TestExecuteSourceChangedSinceScan(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "original"})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine)
	testsupport.WriteFile(t, entries[0].Path, "original plus more")

	result, err := execute(t, plan)
	if !errors.Is(err, services.ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if got := result.Outcomes[0].String(); got != "failed:"+executor.ReasonSourceChanged {
		t.Fatalf("unexpected outcome %s", got)
	}
	if got := testsupport.ReadFile(t, entries[0].Path); got != "original plus more" {
		t.Fatalf("source touched: %q", got)
	}
	testsupport.AssertMissing(t, filepath.Join(w.dest, "documents", "a.txt"))
	if services.ExitCode(err) != services.ExitFailure {
		t.Fatalf("expected exit code 1, got %d", services.ExitCode(err))
	}
}

func TestExecuteDestinationAppearedAfterPlanning(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "incoming", "b.txt": "second"})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine)

	testsupport.WriteFile(t, filepath.Join(w.dest, "documents", "a.txt"), "squatter")
	testsupport.WriteFile(t, filepath.Join(w.dest, "documents", "b.txt"), "second")

	result, err := execute(t, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	a := outcomeFor(t, result, filepath.Join(w.src, "a.txt"))
	if a.Status != executor.StatusSuccess || a.FinalPath != filepath.Join(w.dest, "documents", "a (1).txt") {
		t.Fatalf("expected re-resolved suffix, got %+v", a)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.dest, "documents", "a.txt")); got != "squatter" {
		t.Fatalf("existing destination overwritten: %q", got)
	}
	b := outcomeFor(t, result, filepath.Join(w.src, "b.txt"))
	if b.Status != executor.StatusSkipped {
		t.Fatalf("expected identical destination skipped, got %+v", b)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.src, "b.txt")); got != "second" {
		t.Fatalf("skipped source touched: %q", got)
	}
}

func TestExecuteReresolveContinuesSuffixSequence(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "incoming"})
	testsupport.WriteFile(t, filepath.Join(w.dest, "documents", "a.txt"), "first")
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine)
	if got := plan.Actions[0].DestinationPath; got != filepath.Join(w.dest, "documents", "a (1).txt") {
		t.Fatalf("unexpected planned destination %s", got)
	}

	testsupport.WriteFile(t, filepath.Join(w.dest, "documents", "a (1).txt"), "late arrival")

	result, err := execute(t, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	a := outcomeFor(t, result, filepath.Join(w.src, "a.txt"))
	if a.Status != executor.StatusSuccess || a.FinalPath != filepath.Join(w.dest, "documents", "a (2).txt") {
		t.Fatalf("expected next suffix in sequence, got %+v", a)
	}
}

func TestExecuteSerializesWritesIntoSameDirectory(t *testing.T) {
	w := newWorkspace(t)
	target := filepath.Join(w.dest, "documents", "report.txt")
	const count = 40

	plan := planner.Plan{Destination: w.dest, Mode: planner.ModeMove, DuplicatePolicy: planner.PolicyQuarantine}
	for i := 0; i < count; i++ {
		path := filepath.Join(w.src, fmt.Sprintf("%02d", i), "report.txt")
		testsupport.WriteFile(t, path, fmt.Sprintf("report %02d", i))
		entry := entryFor(t, path)
		plan.Actions = append(plan.Actions, planner.Action{
			SourcePath:      path,
			DestinationPath: target,
			Kind:            planner.KindMove,
			Size:            entry.Size,
			ContentHash:     entry.ContentHash,
		})
	}

	result, err := executor.Execute(context.Background(), plan, executor.Options{Workers: 8})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	finals := make(map[string]string, count)
	for _, o := range result.Outcomes {
		if o.Status != executor.StatusSuccess {
			t.Fatalf("unexpected outcome %s for %s", o, o.Action.SourcePath)
		}
		if prev, dup := finals[o.FinalPath]; dup {
			t.Fatalf("%s and %s both landed on %s", prev, o.Action.SourcePath, o.FinalPath)
		}
		finals[o.FinalPath] = o.Action.SourcePath
		want := "report " + filepath.Base(filepath.Dir(o.Action.SourcePath))
		if got := testsupport.ReadFile(t, o.FinalPath); got != want {
			t.Fatalf("%s holds %q, want %q", o.FinalPath, got, want)
		}
	}
	if _, ok := finals[target]; !ok {
		t.Fatalf("no action landed on the planned path %s", target)
	}
	if _, ok := finals[filepath.Join(w.dest, "documents", fmt.Sprintf("report (%d).txt", count-1))]; !ok {
		t.Fatalf("expected suffixes up to %d, got %d distinct paths", count-1, len(finals))
	}
}

func TestExecuteFileTimeout(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": strings.Repeat("x", 4096)})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine)

	result, err := executor.Execute(context.Background(), plan, executor.Options{Workers: 1, FileTimeout: time.Nanosecond})
	if !errors.Is(err, services.ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if got := result.Outcomes[0].String(); got != "failed:"+executor.ReasonTimeout {
		t.Fatalf("unexpected outcome %s", got)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.src, "a.txt")); len(got) != 4096 {
		t.Fatalf("source damaged after timeout: %d bytes", len(got))
	}
	testsupport.AssertMissing(t, filepath.Join(w.dest, "documents", "a.txt"))
}

func TestExecuteDeleteAfterKeeperMoved(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "dup", "b.txt": "dup"})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyDelete)

	result, err := execute(t, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	testsupport.AssertMissing(t, filepath.Join(w.src, "b.txt"))
	if got := testsupport.ReadFile(t, filepath.Join(w.dest, "documents", "a.txt")); got != "dup" {
		t.Fatalf("keeper missing from destination: %q", got)
	}
	if result.Summary.Succeeded != 2 || result.Summary.BytesTransferred != 3 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestExecuteDeleteKeeperUnavailable(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "dup", "b.txt": "dup"})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyDelete)
	if err := os.Remove(filepath.Join(w.src, "a.txt")); err != nil {
		t.Fatal(err)
	}

	result, err := execute(t, plan)
	if !errors.Is(err, services.ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if got := outcomeFor(t, result, filepath.Join(w.src, "a.txt")).String(); got != "failed:"+executor.ReasonSourceMissing {
		t.Fatalf("unexpected keeper outcome %s", got)
	}
	if got := outcomeFor(t, result, filepath.Join(w.src, "b.txt")).String(); got != "failed:"+executor.ReasonKeeperUnavailable {
		t.Fatalf("unexpected delete outcome %s", got)
	}
	if got := testsupport.ReadFile(t, filepath.Join(w.src, "b.txt")); got != "dup" {
		t.Fatalf("last copy deleted: %q", got)
	}
}

func TestExecuteCanceledBeforeStart(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "x", "b.txt": "y"})
	plan := w.plan(t, entries, planner.ModeMove, planner.PolicyQuarantine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := executor.Execute(ctx, plan, executor.Options{Workers: 1})
	if !errors.Is(err, services.ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	for _, o := range result.Outcomes {
		if o.String() != "failed:"+executor.ReasonCanceled {
			t.Fatalf("expected canceled outcome, got %s", o)
		}
	}
	for _, e := range entries {
		if _, err := os.Stat(e.Path); err != nil {
			t.Fatalf("source %s touched: %v", e.Path, err)
		}
	}
}

func TestExecuteReportsProgress(t *testing.T) {
	w := newWorkspace(t)
	entries := w.entries(t, map[string]string{"a.txt": "1", "b.txt": "22", "c.txt": "333"})
	plan := w.plan(t, entries, planner.ModeCopy, planner.PolicyKeepAll)

	reporter := progress.NewReporter(16)
	_, err := executor.Execute(context.Background(), plan, executor.Options{Workers: 3, Progress: reporter})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	reporter.Close()
	var peak progress.Update
	for update := range reporter.Updates() {
		if update.Phase == progress.PhaseOrganize && update.Processed >= peak.Processed {
			peak = update
		}
	}
	if peak.Processed != 3 || peak.Total != 3 {
		t.Fatalf("unexpected organize progress %+v", peak)
	}
}

func TestLockDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	lock, err := executor.LockDestination(dest)
	if err != nil {
		t.Fatalf("LockDestination: %v", err)
	}
	if lock.Path() != filepath.Join(dest, executor.LockFileName) {
		t.Fatalf("unexpected lock path %s", lock.Path())
	}

	if _, err := executor.LockDestination(dest); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected held lock to fail validation, got %v", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	again, err := executor.LockDestination(dest)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = again.Unlock()
}
