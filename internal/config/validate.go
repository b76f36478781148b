package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScan(); err != nil {
		return err
	}
	if err := c.validateClassify(); err != nil {
		return err
	}
	if err := c.validateOrganize(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateDocstore(); err != nil {
		return err
	}
	if err := c.validateNotion(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScan() error {
	if c.Scan.Workers < 0 {
		return errors.New("scan.workers must be >= 0")
	}
	if c.Scan.MaxDepth < 0 {
		return errors.New("scan.max_depth must be >= 0")
	}
	if c.Scan.MaxHashBytes < 0 {
		return errors.New("scan.max_hash_bytes must be >= 0")
	}
	if c.Scan.FileTimeoutSeconds < 0 {
		return errors.New("scan.file_timeout_seconds must be >= 0")
	}
	switch c.Scan.HashAlgorithm {
	case HashSHA256, HashXXH64:
	default:
		return fmt.Errorf("scan.hash_algorithm: unsupported value %q (use %s or %s)", c.Scan.HashAlgorithm, HashSHA256, HashXXH64)
	}
	for _, pattern := range c.Scan.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("scan.exclude: invalid pattern %q", pattern)
		}
	}
	return nil
}

func (c *Config) validateClassify() error {
	if c.Classify.TagDepth < 0 {
		return errors.New("classify.tag_depth must be >= 0")
	}
	return nil
}

func (c *Config) validateOrganize() error {
	switch c.Organize.Mode {
	case ModeMove, ModeCopy:
	default:
		return fmt.Errorf("organize.mode: unsupported value %q (use %s or %s)", c.Organize.Mode, ModeMove, ModeCopy)
	}
	if err := ValidatePolicy(c.Organize.DuplicatePolicy); err != nil {
		return fmt.Errorf("organize.duplicate_policy: %w", err)
	}
	if strings.Contains(c.Organize.DuplicatesDir, "..") {
		return errors.New("organize.duplicates_dir must not contain '..'")
	}
	if c.Organize.Workers < 0 {
		return errors.New("organize.workers must be >= 0")
	}
	if c.Organize.FileTimeoutSeconds < 0 {
		return errors.New("organize.file_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateDocstore() error {
	if !c.Docstore.Enabled {
		return nil
	}
	switch c.Docstore.Driver {
	case DocstoreDriverSQLite:
	case DocstoreDriverPostgres:
		if strings.TrimSpace(c.Docstore.DSN) == "" {
			return errors.New("docstore.dsn must be set when docstore.driver is postgres (or export MAGNOLIA_DOCSTORE_DSN)")
		}
	default:
		return fmt.Errorf("docstore.driver: unsupported value %q", c.Docstore.Driver)
	}
	return nil
}

func (c *Config) validateNotion() error {
	if !c.Notion.Enabled {
		return nil
	}
	if c.Notion.APIKey == "" {
		return errors.New("notion.api_key must be set when notion.enabled is true (or export NOTION_API_KEY)")
	}
	if c.Notion.DatabaseID == "" {
		return errors.New("notion.database_id must be set when notion.enabled is true (or export NOTION_DATABASE_ID)")
	}
	return nil
}

// ValidatePolicy reports whether value is a canonical duplicate policy.
func ValidatePolicy(value string) error {
	switch value {
	case PolicyQuarantine, PolicyDelete, PolicyKeepAll:
		return nil
	default:
		return fmt.Errorf("unsupported value %q (use %s, %s or %s)", value, PolicyQuarantine, PolicyDelete, PolicyKeepAll)
	}
}
