package testsupport

import (
	"path/filepath"
	"testing"

	"magnolia/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Worker pools are kept small and deterministic.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Organize.Destination = filepath.Join(base, "out")
	cfgVal.Scan.Workers = 2
	cfgVal.Organize.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithDestination overrides the organize destination.
func WithDestination(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Organize.Destination = dir
	}
}

// WithPolicy overrides the duplicate policy.
func WithPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Organize.DuplicatePolicy = policy
	}
}

// WithCopyMode switches organize to copy mode.
func WithCopyMode() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Organize.Mode = config.ModeCopy
	}
}

// WithSQLiteDocstore enables the docstore sink backed by a temp SQLite file.
func WithSQLiteDocstore() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Docstore.Enabled = true
		b.cfg.Docstore.Driver = config.DocstoreDriverSQLite
		b.cfg.Docstore.DSN = filepath.Join(b.baseDir, "state", "catalog.db")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
