// Package catalog defines the catalog entry exchanged between the scan,
// analyze and organize commands, plus its JSON persistence and validation.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"magnolia/internal/fileutil"
	"magnolia/internal/services"
)

// Uncategorized is the category assigned when no classification rule matches.
const Uncategorized = "uncategorized"

// Entry describes one discovered file. Optional fields are omitted from JSON
// when absent; a JSON null decodes to absent.
type Entry struct {
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	Extension     string    `json:"extension"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"createdAt"`
	ModifiedAt    time.Time `json:"modifiedAt"`
	AccessedAt    time.Time `json:"accessedAt"`
	ContentType   string    `json:"contentType,omitempty"`
	ContentHash   string    `json:"contentHash,omitempty"`
	Category      string    `json:"category,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ScanTimestamp time.Time `json:"scanTimestamp"`
}

// HasHash reports whether the entry participates in duplicate detection.
func (e Entry) HasHash() bool {
	return strings.TrimSpace(e.ContentHash) != ""
}

// ContentIdentical reports whether a and b are known to hold the same bytes:
// both hashed, equal qualified hash, equal size.
func ContentIdentical(a, b Entry) bool {
	return a.HasHash() && b.HasHash() && a.ContentHash == b.ContentHash && a.Size == b.Size
}

// Extension returns the lower-cased extension of name without the leading dot.
// Dotfiles without a further dot (".bashrc") have no extension.
func Extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// SortByPath orders entries by path in place.
func SortByPath(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// Validate rejects catalogs with empty, relative or duplicate paths, names
// that are not the base of their path, and negative sizes. The returned error
// is marked services.ErrValidation.
func Validate(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	var problems []error
	for i, entry := range entries {
		switch {
		case strings.TrimSpace(entry.Path) == "":
			problems = append(problems, fmt.Errorf("entry %d: empty path", i))
		case !filepath.IsAbs(entry.Path):
			problems = append(problems, fmt.Errorf("entry %d: path %q is not absolute", i, entry.Path))
		}
		switch {
		case entry.Name == "":
			problems = append(problems, fmt.Errorf("entry %d: empty name", i))
		case strings.ContainsAny(entry.Name, `/\`) || entry.Name != filepath.Base(entry.Path):
			problems = append(problems, fmt.Errorf("entry %d: name %q does not match path %q", i, entry.Name, entry.Path))
		}
		if entry.Size < 0 {
			problems = append(problems, fmt.Errorf("entry %d: negative size %d", i, entry.Size))
		}
		if entry.Path != "" {
			if _, dup := seen[entry.Path]; dup {
				problems = append(problems, fmt.Errorf("entry %d: duplicate path %q", i, entry.Path))
			}
			seen[entry.Path] = struct{}{}
		}
		if len(problems) >= 10 {
			break
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, "catalog", "validate", "invalid catalog", errors.Join(problems...))
}

// Decode reads a JSON array of entries and validates it.
func Decode(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)
	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "decode", "malformed catalog JSON", err)
	}
	if dec.More() {
		return nil, services.Wrap(services.ErrValidation, "catalog", "decode", "trailing data after catalog array", nil)
	}
	if entries == nil {
		entries = []Entry{}
	}
	if err := Validate(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Load reads and validates a catalog file.
func Load(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "catalog", "load", path, err)
		}
		return nil, services.Wrap(services.ErrValidation, "catalog", "load", path, err)
	}
	defer file.Close()
	return Decode(file)
}

// Encode writes entries as an indented JSON array.
func Encode(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Save writes entries to path atomically.
func Save(path string, entries []Entry) error {
	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return fileutil.AtomicWrite(path, buf.Bytes())
}
