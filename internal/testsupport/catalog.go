package testsupport

import (
	"path/filepath"
	"time"

	"magnolia/internal/catalog"
)

// EntryOption customizes an entry built by Entry.
type EntryOption func(*catalog.Entry)

// Entry builds a catalog entry for path with the given size and content
// hash. Timestamps default to a fixed instant so tests stay deterministic.
func Entry(path string, size int64, hash string, opts ...EntryOption) catalog.Entry {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	name := filepath.Base(path)
	entry := catalog.Entry{
		Path:          path,
		Name:          name,
		Extension:     catalog.Extension(name),
		Size:          size,
		CreatedAt:     ts,
		ModifiedAt:    ts,
		AccessedAt:    ts,
		ContentHash:   hash,
		ScanTimestamp: ts,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	return entry
}

// CreatedAt overrides the entry creation time.
func CreatedAt(ts time.Time) EntryOption {
	return func(e *catalog.Entry) { e.CreatedAt = ts }
}

// ContentType sets the entry content type.
func ContentType(value string) EntryOption {
	return func(e *catalog.Entry) { e.ContentType = value }
}

// Category sets the entry category.
func Category(value string) EntryOption {
	return func(e *catalog.Entry) { e.Category = value }
}
