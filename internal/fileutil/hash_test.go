package fileutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		algorithm string
		want      string
	}{
		{AlgorithmSHA256, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{AlgorithmXXH64, "xxh64:26c7827d889f6da3"},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			got, err := HashFile(context.Background(), path, tt.algorithm)
			if err != nil {
				t.Fatalf("HashFile: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
			if HashAlgorithm(got) != tt.algorithm {
				t.Fatalf("unexpected algorithm prefix for %q", got)
			}
		})
	}
}

func TestHashReaderMatchesHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	content := strings.Repeat("abc", 1<<19)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := HashFile(context.Background(), path, AlgorithmXXH64)
	if err != nil {
		t.Fatal(err)
	}
	fromReader, err := HashReader(context.Background(), strings.NewReader(content), AlgorithmXXH64)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != fromReader {
		t.Fatalf("hash mismatch: %q vs %q", fromFile, fromReader)
	}
}

func TestNewHasherRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := NewHasher("md5"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if HashAlgorithm("deadbeef") != "" {
		t.Fatal("expected empty algorithm for unqualified hash")
	}
}

func TestFileTimes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	times, err := FileTimes(path)
	if err != nil {
		t.Fatalf("FileTimes: %v", err)
	}
	if !times.Modified.Equal(mtime) {
		t.Fatalf("unexpected modified time %v", times.Modified)
	}
	if times.Created.IsZero() {
		t.Fatal("expected created time populated")
	}
	if !times.BirthKnown && !times.Created.Equal(times.Modified) {
		t.Fatal("expected created to fall back to modified when birth time is unknown")
	}
}

func TestWithTimeout(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("unexpected result %d err=%v", got, err)
	}

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeout(context.Background(), 10*time.Millisecond, func() (int, error) {
		<-release
		return 0, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
