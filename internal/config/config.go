package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Scan contains configuration for directory traversal and fingerprinting.
type Scan struct {
	Workers            int      `toml:"workers"`
	MaxDepth           int      `toml:"max_depth"`
	Exclude            []string `toml:"exclude"`
	HashAlgorithm      string   `toml:"hash_algorithm"`
	MaxHashBytes       int64    `toml:"max_hash_bytes"`
	DetectContentType  bool     `toml:"detect_content_type"`
	FileTimeoutSeconds int      `toml:"file_timeout_seconds"`
}

// Classify contains configuration for category rules and path tags.
type Classify struct {
	RulesFile string `toml:"rules_file"`
	TagDepth  int    `toml:"tag_depth"`
}

// Organize contains configuration for plan building and execution.
type Organize struct {
	Destination        string `toml:"destination"`
	Mode               string `toml:"mode"`
	DuplicatePolicy    string `toml:"duplicate_policy"`
	DuplicatesDir      string `toml:"duplicates_dir"`
	Workers            int    `toml:"workers"`
	FileTimeoutSeconds int    `toml:"file_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Docstore contains configuration for the SQL document-store sink.
type Docstore struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
}

// Notion contains configuration for the content-API page sink.
type Notion struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	DatabaseID     string `toml:"database_id"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Scan           bool   `toml:"scan"`
	Organize       bool   `toml:"organize"`
	Errors         bool   `toml:"errors"`
}

// Metrics contains configuration for the Prometheus textfile export.
type Metrics struct {
	Textfile string `toml:"textfile"`
}

// Config encapsulates all configuration values for magnolia.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Scan: traversal depth, exclusions, hashing and worker pool
//   - Classify: category rule table and tag derivation
//   - Organize: destination layout, duplicate policy and executor pool
//   - Logging: log format, level, and retention
//   - Docstore / Notion: optional best-effort catalog sinks
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus textfile output
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scan          Scan          `toml:"scan"`
	Classify      Classify      `toml:"classify"`
	Organize      Organize      `toml:"organize"`
	Logging       Logging       `toml:"logging"`
	Docstore      Docstore      `toml:"docstore"`
	Notion        Notion        `toml:"notion"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("magnolia.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ScanWorkers resolves the scanner pool size; zero means one worker per CPU.
func (c *Config) ScanWorkers() int {
	return resolveWorkers(c.Scan.Workers)
}

// OrganizeWorkers resolves the executor pool size; zero means one worker per CPU.
func (c *Config) OrganizeWorkers() int {
	return resolveWorkers(c.Organize.Workers)
}

// ScanFileTimeout is the per-file bound applied to stat, hash and type detection.
func (c *Config) ScanFileTimeout() time.Duration {
	return time.Duration(c.Scan.FileTimeoutSeconds) * time.Second
}

// OrganizeFileTimeout is the per-action bound applied by the executor.
func (c *Config) OrganizeFileTimeout() time.Duration {
	return time.Duration(c.Organize.FileTimeoutSeconds) * time.Second
}

// DocstoreDSN returns the document-store connection string. For sqlite an
// empty DSN resolves to catalog.db inside the state directory.
func (c *Config) DocstoreDSN() string {
	dsn := strings.TrimSpace(c.Docstore.DSN)
	if dsn == "" && c.Docstore.Driver == DocstoreDriverSQLite {
		return filepath.Join(c.Paths.StateDir, "catalog.db")
	}
	return dsn
}

func resolveWorkers(n int) int {
	if n > 0 {
		return n
	}
	if cpus := runtime.NumCPU(); cpus > 0 {
		return cpus
	}
	return 1
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
