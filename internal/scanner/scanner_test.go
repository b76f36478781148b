package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"magnolia/internal/fileutil"
	"magnolia/internal/progress"
	"magnolia/internal/scanner"
	"magnolia/internal/services"
	"magnolia/internal/testsupport"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "top.txt"), "top level")
	testsupport.WriteFile(t, filepath.Join(root, "docs", "report.txt"), "quarterly report")
	testsupport.WriteFile(t, filepath.Join(root, "docs", "deep", "notes.md"), "# notes")
	testsupport.WriteFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "module.exports = 1")
	testsupport.WriteFile(t, filepath.Join(root, "cache.tmp"), "temporary")
	return root
}

func scanPaths(t *testing.T, opts scanner.Options) []string {
	t.Helper()
	result, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	paths := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		paths = append(paths, entry.Path)
	}
	return paths
}

func relPaths(root string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, _ := filepath.Rel(root, p)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestScanDepthAndExcludes(t *testing.T) {
	root := buildTree(t)

	tests := []struct {
		name    string
		depth   int
		exclude []string
		want    []string
	}{
		{
			name:  "unlimited",
			depth: 0,
			want:  []string{"cache.tmp", "docs/deep/notes.md", "docs/report.txt", "node_modules/pkg/index.js", "top.txt"},
		},
		{
			name:  "root only",
			depth: 1,
			want:  []string{"cache.tmp", "top.txt"},
		},
		{
			name:  "two levels",
			depth: 2,
			want:  []string{"cache.tmp", "docs/report.txt", "top.txt"},
		},
		{
			name:    "element and glob excludes",
			exclude: []string{"node_modules", "*.tmp"},
			want:    []string{"docs/deep/notes.md", "docs/report.txt", "top.txt"},
		},
		{
			name:    "relative path exclude",
			exclude: []string{"docs/**"},
			want:    []string{"cache.tmp", "node_modules/pkg/index.js", "top.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relPaths(root, scanPaths(t, scanner.Options{
				Roots:    []string{root},
				MaxDepth: tt.depth,
				Exclude:  tt.exclude,
				Workers:  3,
			}))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestScanEntryMetadata(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Photo.PNG")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := scanner.Scan(context.Background(), scanner.Options{
		Roots:             []string{root},
		Workers:           1,
		DetectContentType: true,
		HashAlgorithm:     fileutil.AlgorithmXXH64,
		Now:               func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(result.Entries))
	}
	entry := result.Entries[0]
	want, err := fileutil.HashFile(context.Background(), path, fileutil.AlgorithmXXH64)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "Photo.PNG" || entry.Extension != "png" || entry.Size != int64(len(png)) {
		t.Fatalf("unexpected metadata %+v", entry)
	}
	if entry.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", entry.ContentType)
	}
	if entry.ContentHash != want {
		t.Fatalf("unexpected hash %q want %q", entry.ContentHash, want)
	}
	if !entry.ScanTimestamp.Equal(now) || entry.ModifiedAt.IsZero() || entry.CreatedAt.IsZero() {
		t.Fatalf("unexpected timestamps %+v", entry)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	root := buildTree(t)
	opts := scanner.Options{Roots: []string{root}, Workers: 4}

	first, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	key := func(res scanner.Result) string {
		parts := make([]string, 0, len(res.Entries))
		for _, e := range res.Entries {
			parts = append(parts, e.Path+"|"+e.ContentHash+"|"+strconv.FormatInt(e.Size, 10))
		}
		return strings.Join(parts, "\n")
	}
	if key(first) != key(second) {
		t.Fatalf("scans differ:\n%s\n---\n%s", key(first), key(second))
	}
}

func TestScanOverlappingRootsAndSymlinks(t *testing.T) {
	root := buildTree(t)
	if err := os.Symlink(filepath.Join(root, "top.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	paths := scanPaths(t, scanner.Options{
		Roots:   []string{root, filepath.Join(root, "docs"), root + "/"},
		Workers: 2,
	})
	got := relPaths(root, paths)
	want := []string{"cache.tmp", "docs/deep/notes.md", "docs/report.txt", "node_modules/pkg/index.js", "top.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestScanFollowsSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	testsupport.WriteFile(t, filepath.Join(real, "a.txt"), "alpha")
	testsupport.WriteFile(t, filepath.Join(real, "sub", "b.txt"), "beta")
	link := filepath.Join(base, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(real)
	if err != nil {
		t.Fatal(err)
	}

	result, err := scanner.Scan(context.Background(), scanner.Options{
		Roots:   []string{link, real},
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", result.Warnings)
	}
	var got []string
	for _, entry := range result.Entries {
		got = append(got, entry.Path)
	}
	want := []string{filepath.Join(resolved, "a.txt"), filepath.Join(resolved, "sub", "b.txt")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestScanMaxHashBytesDegradesToWarning(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "small.txt"), "ok")
	testsupport.WriteFile(t, filepath.Join(root, "large.txt"), strings.Repeat("x", 64))

	result, err := scanner.Scan(context.Background(), scanner.Options{
		Roots:        []string{root},
		Workers:      2,
		MaxHashBytes: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected both files catalogued, got %d", len(result.Entries))
	}
	for _, entry := range result.Entries {
		hashed := entry.ContentHash != ""
		if entry.Name == "large.txt" && hashed {
			t.Fatal("expected large file hash to be absent")
		}
		if entry.Name == "small.txt" && !strings.HasPrefix(entry.ContentHash, "sha256:") {
			t.Fatalf("expected sha256 hash for small file, got %q", entry.ContentHash)
		}
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != scanner.WarningHash {
		t.Fatalf("expected one hash warning, got %+v", result.Warnings)
	}
}

func TestScanFileTimeoutDegradesToWarning(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "a.txt"), strings.Repeat("a", 8192))
	testsupport.WriteFile(t, filepath.Join(root, "b.txt"), strings.Repeat("b", 8192))

	result, err := scanner.Scan(context.Background(), scanner.Options{
		Roots:       []string{root},
		Workers:     2,
		FileTimeout: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("a per-file timeout must not fail the scan: %v", err)
	}
	for _, entry := range result.Entries {
		if entry.ContentHash != "" {
			t.Fatalf("expected hash dropped after timeout for %s", entry.Path)
		}
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected one warning per file, got %+v", result.Warnings)
	}
	for _, w := range result.Warnings {
		if !strings.Contains(w.Message, "deadline exceeded") {
			t.Fatalf("expected timeout warning, got %+v", w)
		}
	}
}

func TestScanUnreadableDirectoryIsSoft(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}
	root := buildTree(t)
	locked := filepath.Join(root, "locked")
	testsupport.WriteFile(t, filepath.Join(locked, "secret.txt"), "hidden")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	result, err := scanner.Scan(context.Background(), scanner.Options{Roots: []string{root}, Workers: 2})
	if err != nil {
		t.Fatalf("expected soft failure, got %v", err)
	}
	if len(result.Entries) != 5 {
		t.Fatalf("expected sibling subtrees scanned, got %d entries", len(result.Entries))
	}
	found := false
	for _, w := range result.Warnings {
		if w.Kind == scanner.WarningDirectory && w.Path == locked {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected directory warning for %s, got %+v", locked, result.Warnings)
	}
}

func TestScanReportsProgress(t *testing.T) {
	root := buildTree(t)
	reporter := progress.NewReporter(64)
	if _, err := scanner.Scan(context.Background(), scanner.Options{Roots: []string{root}, Workers: 2, Progress: reporter}); err != nil {
		t.Fatal(err)
	}
	snap := reporter.Snapshot()
	if snap.Phase != progress.PhaseScan || snap.Processed != 5 || snap.Total != 5 {
		t.Fatalf("unexpected progress %+v", snap)
	}
}

func TestScanRejectsInvalidInput(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	testsupport.WriteFile(t, file, "x")

	tests := []struct {
		name string
		opts scanner.Options
	}{
		{"no roots", scanner.Options{}},
		{"missing root", scanner.Options{Roots: []string{filepath.Join(root, "missing")}}},
		{"file root", scanner.Options{Roots: []string{file}}},
		{"bad pattern", scanner.Options{Roots: []string{root}, Exclude: []string{"[abc"}}},
		{"bad algorithm", scanner.Options{Roots: []string{root}, HashAlgorithm: "md5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scanner.Scan(context.Background(), tt.opts)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestScanCanceled(t *testing.T) {
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := scanner.Scan(ctx, scanner.Options{Roots: []string{root}, Workers: 2}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
