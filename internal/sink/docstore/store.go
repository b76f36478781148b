// Package docstore keeps one file_metadata row per cataloged path in a SQL
// database. SQLite (modernc.org/sqlite) is the default driver; PostgreSQL is
// reached through lib/pq. Both share the same schema and migrations.
package docstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"magnolia/internal/catalog"
	"magnolia/internal/config"
	"magnolia/internal/sink"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is a sink.Ingester backed by database/sql.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ sink.Ingester = (*Store)(nil)

// Open connects with the given driver ("sqlite" or "postgres") and applies
// migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case config.DocstoreDriverSQLite:
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create docstore directory: %w", err)
			}
		}
	case config.DocstoreDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported docstore driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("docstore dsn is empty")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s docstore: %w", driver, err)
	}
	if driver == config.DocstoreDriverSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s docstore: %w", driver, err)
	}

	store := &Store{db: db, driver: driver, now: time.Now}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenFromConfig opens the docstore described by cfg.
func OpenFromConfig(ctx context.Context, cfg *config.Config) (*Store, error) {
	return Open(ctx, cfg.Docstore.Driver, cfg.DocstoreDSN())
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Name implements sink.Ingester.
func (s *Store) Name() string { return "docstore" }

// Ingest upserts the entry keyed by path.
func (s *Store) Ingest(ctx context.Context, entry catalog.Entry) error {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(upsertSQL),
		entry.Path,
		entry.Name,
		entry.Extension,
		entry.Size,
		nullableTime(entry.CreatedAt),
		nullableTime(entry.ModifiedAt),
		nullableTime(entry.AccessedAt),
		nullableString(entry.ContentType),
		nullableString(sink.FileType(entry)),
		nullableString(entry.ContentHash),
		string(tagsJSON),
		nullableString(entry.Category),
		formatTime(entry.ScanTimestamp),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", entry.Path, err)
	}
	return nil
}

const upsertSQL = `INSERT INTO file_metadata (
        path, name, extension, size, created_at, modified_at, accessed_at,
        mime_type, file_type, hash, tags, category, scan_date, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (path) DO UPDATE SET
        name = excluded.name,
        extension = excluded.extension,
        size = excluded.size,
        created_at = excluded.created_at,
        modified_at = excluded.modified_at,
        accessed_at = excluded.accessed_at,
        mime_type = excluded.mime_type,
        file_type = excluded.file_type,
        hash = excluded.hash,
        tags = excluded.tags,
        category = excluded.category,
        scan_date = excluded.scan_date,
        updated_at = excluded.updated_at`

// Record is a stored row.
type Record struct {
	Path      string
	Name      string
	Extension string
	Size      int64
	MimeType  string
	FileType  string
	Hash      string
	Tags      []string
	Category  string
	ScanDate  time.Time
}

// Get returns the row for path, or nil when absent.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	rows, err := s.query(ctx, `WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindByHash returns rows sharing a content hash and size, ordered by path.
func (s *Store) FindByHash(ctx context.Context, hash string, size int64) ([]Record, error) {
	return s.query(ctx, `WHERE hash = ? AND size = ? ORDER BY path`, hash, size)
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM file_metadata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count file_metadata: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT path, name, extension, size, mime_type, file_type, hash, tags, category, scan_date
        FROM file_metadata `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("query file_metadata: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                                Record
			mimeType, fileType, hash, category sql.NullString
			tagsJSON, scanDate                 string
		)
		if err := rows.Scan(&rec.Path, &rec.Name, &rec.Extension, &rec.Size, &mimeType, &fileType, &hash, &tagsJSON, &category, &scanDate); err != nil {
			return nil, fmt.Errorf("scan file_metadata: %w", err)
		}
		rec.MimeType = mimeType.String
		rec.FileType = fileType.String
		rec.Hash = hash.String
		rec.Category = category.String
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", rec.Path, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, scanDate); err == nil {
			rec.ScanDate = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders as $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != config.DocstoreDriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type migration struct {
	version string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{version: strings.TrimSuffix(name, ".sql"), sql: string(data)})
	}
	return migrations, nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(1) FROM schema_migrations WHERE version = ?"), m.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}
