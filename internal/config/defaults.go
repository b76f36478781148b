package config

const (
	defaultConfigPath             = "~/.config/magnolia/config.toml"
	defaultStateDir               = "~/.local/share/magnolia"
	defaultLogDir                 = "~/.local/share/magnolia/logs"
	defaultLogRetentionDays       = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultHashAlgorithm          = HashSHA256
	defaultScanFileTimeoutSeconds = 60
	defaultOrganizeMode           = ModeMove
	defaultDuplicatePolicy        = PolicyQuarantine
	defaultDuplicatesDir          = "duplicates"
	defaultOrganizeTimeoutSeconds = 600
	defaultTagDepth               = 1
	defaultDocstoreDriver         = DocstoreDriverSQLite
	defaultNotionBaseURL          = "https://api.notion.com/v1"
	defaultNotionTimeoutSeconds   = 10
	defaultNotifyTimeoutSeconds   = 10
)

// Hash algorithms accepted by scan.hash_algorithm.
const (
	HashSHA256 = "sha256"
	HashXXH64  = "xxh64"
)

// Organize modes accepted by organize.mode.
const (
	ModeMove = "move"
	ModeCopy = "copy"
)

// Duplicate policies accepted by organize.duplicate_policy.
const (
	PolicyQuarantine = "quarantine"
	PolicyDelete     = "delete"
	PolicyKeepAll    = "keep-all"
)

// Document-store drivers accepted by docstore.driver.
const (
	DocstoreDriverSQLite   = "sqlite"
	DocstoreDriverPostgres = "postgres"
)

// LockFileName is created in the destination root while organize runs.
const LockFileName = ".magnolia.lock"

func defaultExcludes() []string {
	return []string{".git", "node_modules", ".DS_Store", "Thumbs.db", LockFileName}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Scan: Scan{
			Exclude:            defaultExcludes(),
			HashAlgorithm:      defaultHashAlgorithm,
			DetectContentType:  true,
			FileTimeoutSeconds: defaultScanFileTimeoutSeconds,
		},
		Classify: Classify{
			TagDepth: defaultTagDepth,
		},
		Organize: Organize{
			Mode:               defaultOrganizeMode,
			DuplicatePolicy:    defaultDuplicatePolicy,
			DuplicatesDir:      defaultDuplicatesDir,
			FileTimeoutSeconds: defaultOrganizeTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Docstore: Docstore{
			Driver: defaultDocstoreDriver,
		},
		Notion: Notion{
			BaseURL:        defaultNotionBaseURL,
			TimeoutSeconds: defaultNotionTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSeconds,
			Scan:           true,
			Organize:       true,
			Errors:         true,
		},
	}
}
