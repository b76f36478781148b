package planner_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"magnolia/internal/catalog"
	"magnolia/internal/dedupe"
	"magnolia/internal/fileutil"
	"magnolia/internal/planner"
	"magnolia/internal/services"
	"magnolia/internal/testsupport"
)

func sha(t *testing.T, content string) string {
	t.Helper()
	sum, err := fileutil.HashReader(context.Background(), strings.NewReader(content), fileutil.AlgorithmSHA256)
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

type fixture struct {
	fs      afero.Fs
	entries []catalog.Entry
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs()}
	for path, content := range files {
		if err := afero.WriteFile(f.fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(path, "/in/") {
			f.entries = append(f.entries, testsupport.Entry(path, int64(len(content)), sha(t, content), testsupport.Category("documents")))
		}
	}
	return f
}

func (f *fixture) build(t *testing.T, mode planner.Mode, policy planner.Policy) planner.Plan {
	t.Helper()
	plan, err := planner.Build(context.Background(), planner.Input{
		Entries:     f.entries,
		Sets:        dedupe.Analyze(f.entries),
		Destination: "/out",
		Mode:        mode,
		Policy:      policy,
	}, &planner.FSOracle{Fs: f.fs})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func actionFor(t *testing.T, plan planner.Plan, source string) planner.Action {
	t.Helper()
	for _, action := range plan.Actions {
		if action.SourcePath == source {
			return action
		}
	}
	t.Fatalf("no action for %s in %+v", source, plan.Actions)
	return planner.Action{}
}

func TestBuildQuarantineScenario(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt": "same bytes",
		"/in/b.txt": "same bytes",
	})
	plan := f.build(t, planner.ModeMove, planner.PolicyQuarantine)

	a := actionFor(t, plan, "/in/a.txt")
	if a.Kind != planner.KindMove || a.DestinationPath != "/out/documents/a.txt" {
		t.Fatalf("unexpected keeper action %+v", a)
	}
	b := actionFor(t, plan, "/in/b.txt")
	if b.Kind != planner.KindQuarantine || b.DestinationPath != "/out/duplicates/b.txt" || b.KeeperPath != "/in/a.txt" {
		t.Fatalf("unexpected redundant action %+v", b)
	}
	if plan.Destination != "/out" || plan.Mode != planner.ModeMove || plan.DuplicatePolicy != planner.PolicyQuarantine {
		t.Fatalf("unexpected plan settings %+v", plan)
	}
}

func TestBuildSuffixesDifferentExistingFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt":                "incoming",
		"/out/documents/a.txt":     "something else",
		"/out/documents/a (1).txt": "yet another",
	})
	plan := f.build(t, planner.ModeMove, planner.PolicyQuarantine)

	a := actionFor(t, plan, "/in/a.txt")
	if a.Kind != planner.KindMove || a.DestinationPath != "/out/documents/a (2).txt" {
		t.Fatalf("expected suffixed destination, got %+v", a)
	}
}

func TestBuildSkipsIdenticalExistingFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt":            "same",
		"/out/documents/a.txt": "same",
	})
	plan := f.build(t, planner.ModeMove, planner.PolicyQuarantine)

	a := actionFor(t, plan, "/in/a.txt")
	if a.Kind != planner.KindSkip || !strings.Contains(a.Reason, "identical") {
		t.Fatalf("expected identical skip, got %+v", a)
	}
}

func TestBuildNeverTargetsDifferentExistingFile(t *testing.T) {
	existing := map[string]string{
		"/out/documents/report.txt":  "old report",
		"/out/duplicates/report.txt": "old duplicate",
	}
	files := map[string]string{
		"/in/x/report.txt": "new report",
		"/in/y/report.txt": "new report",
		"/in/z/report.txt": "third version",
	}
	for k, v := range existing {
		files[k] = v
	}
	f := newFixture(t, files)

	for _, policy := range []planner.Policy{planner.PolicyQuarantine, planner.PolicyKeepAll} {
		plan := f.build(t, planner.ModeCopy, policy)
		seen := map[string]bool{}
		for _, action := range plan.Actions {
			if action.Kind == planner.KindSkip || action.Kind == planner.KindDelete {
				continue
			}
			if _, clash := existing[action.DestinationPath]; clash {
				t.Fatalf("%s: action overwrites existing file: %+v", policy, action)
			}
			if seen[action.DestinationPath] {
				t.Fatalf("%s: destination claimed twice: %s", policy, action.DestinationPath)
			}
			seen[action.DestinationPath] = true
		}
	}
}

func TestBuildDeletePolicy(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt": "dup",
		"/in/b.txt": "dup",
		"/in/c.txt": "unique",
	})

	plan := f.build(t, planner.ModeMove, planner.PolicyDelete)
	last := plan.Actions[len(plan.Actions)-1]
	if last.Kind != planner.KindDelete || last.SourcePath != "/in/b.txt" || last.KeeperPath != "/in/a.txt" {
		t.Fatalf("expected DELETE ordered last with keeper, got %+v", plan.Actions)
	}
	if last.DestinationPath != "" {
		t.Fatalf("delete must not carry a destination: %+v", last)
	}
	if counts := plan.Counts(); counts[planner.KindMove] != 2 || counts[planner.KindDelete] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	copyPlan := f.build(t, planner.ModeCopy, planner.PolicyDelete)
	b := actionFor(t, copyPlan, "/in/b.txt")
	if b.Kind != planner.KindSkip || b.KeeperPath != "/in/a.txt" {
		t.Fatalf("expected delete to degrade to skip in copy mode, got %+v", b)
	}
}

func TestBuildKeepAllIgnoresDuplicates(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt": "dup",
		"/in/b.txt": "dup",
	})
	plan := f.build(t, planner.ModeCopy, planner.PolicyKeepAll)
	for _, action := range plan.Actions {
		if action.Kind != planner.KindCopy || !strings.HasPrefix(action.DestinationPath, "/out/documents/") {
			t.Fatalf("expected category copy for every entry, got %+v", action)
		}
	}
}

func TestBuildSameNameDifferentContentClaims(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/1/notes.md": "first",
		"/in/2/notes.md": "second",
		"/in/3/notes.md": "first",
	})
	f.entries = []catalog.Entry{
		testsupport.Entry("/in/1/notes.md", 5, sha(t, "first")),
		testsupport.Entry("/in/2/notes.md", 6, sha(t, "second")),
		testsupport.Entry("/in/3/notes.md", 5, sha(t, "first")),
	}
	plan, err := planner.Build(context.Background(), planner.Input{
		Entries:     f.entries,
		Categories:  map[string]string{"/in/1/notes.md": "docs", "/in/2/notes.md": "docs", "/in/3/notes.md": "docs"},
		Destination: "/out",
		Policy:      planner.PolicyKeepAll,
	}, &planner.FSOracle{Fs: f.fs})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		kind planner.Kind
		dest string
	}{
		{planner.KindMove, "/out/docs/notes.md"},
		{planner.KindMove, "/out/docs/notes (1).md"},
		{planner.KindSkip, "/out/docs/notes.md"},
	}
	for i, w := range want {
		got := plan.Actions[i]
		if got.Kind != w.kind || got.DestinationPath != w.dest {
			t.Fatalf("action %d = %+v, want %s %s", i, got, w.kind, w.dest)
		}
	}
}

func TestBuildSourceAlreadyInPlace(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/out/documents/a.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	plan, err := planner.Build(context.Background(), planner.Input{
		Entries:     []catalog.Entry{testsupport.Entry("/out/documents/a.txt", 1, sha(t, "x"), testsupport.Category("documents"))},
		Destination: "/out",
	}, &planner.FSOracle{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Actions[0].Kind != planner.KindSkip || plan.Actions[0].Reason != "already at destination" {
		t.Fatalf("expected in-place skip, got %+v", plan.Actions[0])
	}
}

func TestBuildIsPure(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/in/a.txt":            "dup",
		"/in/b.txt":            "dup",
		"/in/c.txt":            "c",
		"/in/d/c.txt":          "other c",
		"/in/e.txt":            "dup",
		"/out/documents/c.txt": "occupied",
	})
	want := f.build(t, planner.ModeMove, planner.PolicyDelete)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		rng.Shuffle(len(f.entries), func(a, b int) { f.entries[a], f.entries[b] = f.entries[b], f.entries[a] })
		if got := f.build(t, planner.ModeMove, planner.PolicyDelete); !reflect.DeepEqual(got, want) {
			t.Fatalf("plan changed with input order:\n got %+v\nwant %+v", got, want)
		}
	}
	for i := 1; i < len(want.Actions); i++ {
		prev, cur := want.Actions[i-1], want.Actions[i]
		if prev.Kind == planner.KindDelete && cur.Kind != planner.KindDelete {
			t.Fatalf("non-delete action after delete: %+v", want.Actions)
		}
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	oracle := &planner.FSOracle{Fs: afero.NewMemMapFs()}
	entries := []catalog.Entry{testsupport.Entry("/in/a.txt", 1, "")}
	tests := []struct {
		name string
		in   planner.Input
	}{
		{"missing destination", planner.Input{Entries: entries}},
		{"relative destination", planner.Input{Entries: entries, Destination: "out"}},
		{"bad mode", planner.Input{Entries: entries, Destination: "/out", Mode: "link"}},
		{"bad policy", planner.Input{Entries: entries, Destination: "/out", Policy: "shred"}},
		{"escaping category", planner.Input{Entries: entries, Destination: "/out", Categories: map[string]string{"/in/a.txt": "../etc"}}},
		{"duplicate paths", planner.Input{Entries: append(entries, entries...), Destination: "/out"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planner.Build(context.Background(), tt.in, oracle)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildKeepsTargetsInsideDestination(t *testing.T) {
	oracle := &planner.FSOracle{Fs: afero.NewMemMapFs()}
	tampered := testsupport.Entry("/src/a.txt", 1, "")
	tampered.Name = "../../../etc/evil.txt"

	plan, err := planner.Build(context.Background(), planner.Input{
		Entries:     []catalog.Entry{tampered},
		Destination: "/out",
	}, oracle)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for tampered name, got %v (plan %+v)", err, plan.Actions)
	}

	plan, err = planner.Build(context.Background(), planner.Input{
		Entries:     []catalog.Entry{testsupport.Entry("/src/a.txt", 1, "")},
		Destination: "/out",
	}, oracle)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 1 || plan.Actions[0].DestinationPath != "/out/uncategorized/a.txt" {
		t.Fatalf("unexpected plan %+v", plan.Actions)
	}
}

func TestParsePolicyAliases(t *testing.T) {
	for _, value := range []string{"keep-all", "KEEP_ALL", "keepall"} {
		got, err := planner.ParsePolicy(value)
		if err != nil || got != planner.PolicyKeepAll {
			t.Fatalf("ParsePolicy(%q) = %q, %v", value, got, err)
		}
	}
	if _, err := planner.ParseMode("COPY"); err != nil {
		t.Fatalf("ParseMode: %v", err)
	}
}

func TestSuffixedPath(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/out/docs/a.txt", 0, "/out/docs/a.txt"},
		{"/out/docs/a.txt", 1, "/out/docs/a (1).txt"},
		{"/out/docs/a.txt", 12, "/out/docs/a (12).txt"},
		{"/out/docs/archive.tar.gz", 1, "/out/docs/archive.tar (1).gz"},
		{"/out/misc/.bashrc", 1, "/out/misc/.bashrc (1)"},
		{"/out/misc/README", 2, "/out/misc/README (2)"},
	}
	for _, tt := range tests {
		if got := planner.SuffixedPath(tt.path, tt.n); got != tt.want {
			t.Errorf("SuffixedPath(%q, %d) = %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}

func TestSplitSuffix(t *testing.T) {
	tests := []struct {
		path string
		base string
		n    int
	}{
		{"/out/docs/a (1).txt", "/out/docs/a.txt", 1},
		{"/out/docs/a (12).txt", "/out/docs/a.txt", 12},
		{"/out/docs/archive.tar (1).gz", "/out/docs/archive.tar.gz", 1},
		{"/out/misc/.bashrc (1)", "/out/misc/.bashrc", 1},
		{"/out/misc/README (2)", "/out/misc/README", 2},
		{"/out/docs/a.txt", "/out/docs/a.txt", 0},
		{"/out/docs/draft (final).txt", "/out/docs/draft (final).txt", 0},
		{"/out/docs/ (3).txt", "/out/docs/ (3).txt", 0},
	}
	for _, tt := range tests {
		base, n := planner.SplitSuffix(tt.path)
		if base != tt.base || n != tt.n {
			t.Errorf("SplitSuffix(%q) = %q, %d, want %q, %d", tt.path, base, n, tt.base, tt.n)
		}
		if n > 0 && planner.SuffixedPath(base, n) != tt.path {
			t.Errorf("SuffixedPath does not invert SplitSuffix for %q", tt.path)
		}
	}
}
