package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScan()
	if err := c.normalizeClassify(); err != nil {
		return err
	}
	if err := c.normalizeOrganize(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeDocstore()
	c.normalizeNotion()
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScan() {
	c.Scan.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.Scan.HashAlgorithm))
	if c.Scan.HashAlgorithm == "" {
		c.Scan.HashAlgorithm = defaultHashAlgorithm
	}
	if c.Scan.HashAlgorithm == "xxhash" {
		c.Scan.HashAlgorithm = HashXXH64
	}
	c.Scan.Exclude = cleanList(c.Scan.Exclude)
	if c.Scan.FileTimeoutSeconds == 0 {
		c.Scan.FileTimeoutSeconds = defaultScanFileTimeoutSeconds
	}
}

func (c *Config) normalizeClassify() error {
	rules := strings.TrimSpace(c.Classify.RulesFile)
	if rules != "" {
		expanded, err := expandPath(rules)
		if err != nil {
			return fmt.Errorf("classify.rules_file: %w", err)
		}
		rules = expanded
	}
	c.Classify.RulesFile = rules
	return nil
}

func (c *Config) normalizeOrganize() error {
	dest := strings.TrimSpace(c.Organize.Destination)
	if dest != "" {
		expanded, err := expandPath(dest)
		if err != nil {
			return fmt.Errorf("organize.destination: %w", err)
		}
		dest = expanded
	}
	c.Organize.Destination = dest
	c.Organize.Mode = strings.ToLower(strings.TrimSpace(c.Organize.Mode))
	if c.Organize.Mode == "" {
		c.Organize.Mode = defaultOrganizeMode
	}
	c.Organize.DuplicatePolicy = NormalizePolicy(c.Organize.DuplicatePolicy)
	if c.Organize.DuplicatePolicy == "" {
		c.Organize.DuplicatePolicy = defaultDuplicatePolicy
	}
	c.Organize.DuplicatesDir = strings.Trim(strings.TrimSpace(c.Organize.DuplicatesDir), "/")
	if c.Organize.DuplicatesDir == "" {
		c.Organize.DuplicatesDir = defaultDuplicatesDir
	}
	if c.Organize.FileTimeoutSeconds == 0 {
		c.Organize.FileTimeoutSeconds = defaultOrganizeTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeDocstore() {
	c.Docstore.Driver = strings.ToLower(strings.TrimSpace(c.Docstore.Driver))
	if c.Docstore.Driver == "" {
		c.Docstore.Driver = defaultDocstoreDriver
	}
	if c.Docstore.Driver == "postgresql" {
		c.Docstore.Driver = DocstoreDriverPostgres
	}
	if strings.TrimSpace(c.Docstore.DSN) == "" {
		if value, ok := os.LookupEnv("MAGNOLIA_DOCSTORE_DSN"); ok {
			c.Docstore.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotion() {
	if c.Notion.APIKey == "" {
		if value, ok := os.LookupEnv("NOTION_API_KEY"); ok {
			c.Notion.APIKey = value
		}
	}
	if c.Notion.DatabaseID == "" {
		if value, ok := os.LookupEnv("NOTION_DATABASE_ID"); ok {
			c.Notion.DatabaseID = value
		}
	}
	c.Notion.APIKey = strings.TrimSpace(c.Notion.APIKey)
	c.Notion.DatabaseID = strings.TrimSpace(c.Notion.DatabaseID)
	c.Notion.BaseURL = strings.TrimRight(strings.TrimSpace(c.Notion.BaseURL), "/")
	if c.Notion.BaseURL == "" {
		c.Notion.BaseURL = defaultNotionBaseURL
	}
	if c.Notion.TimeoutSeconds <= 0 {
		c.Notion.TimeoutSeconds = defaultNotionTimeoutSeconds
	}
}

func (c *Config) normalizeMetrics() error {
	textfile := strings.TrimSpace(c.Metrics.Textfile)
	if textfile == "" {
		c.Metrics.Textfile = ""
		return nil
	}
	expanded, err := expandPath(textfile)
	if err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	c.Metrics.Textfile = expanded
	return nil
}

// NormalizePolicy canonicalizes the spellings accepted for a duplicate policy
// (quarantine, delete, keep-all, keep_all, KEEP_ALL). Unknown values are
// returned lower-cased so validation can report them.
func NormalizePolicy(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "_", "-")
	if v == "keepall" {
		v = PolicyKeepAll
	}
	return v
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
