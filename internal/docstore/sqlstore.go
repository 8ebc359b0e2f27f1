package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"sermonpipe/internal/config"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

// sortableTime is fixed width so text timestamps order correctly.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// dialect holds the SQL that differs between SQLite and PostgreSQL.
type dialect struct {
	name         string
	driver       string
	gooseDialect string
	migrationDir string
	get          string
	put          string
	setTitle     string
	mergeStatus  string
	list         string
	textTime     bool
}

var sqliteDialect = dialect{
	name:         config.DocumentsSQLite,
	driver:       "sqlite",
	gooseDialect: "sqlite3",
	migrationDir: "migrations/sqlite",
	get:          `SELECT id, title, status, duration_seconds, updated_at FROM sermons WHERE id = ?`,
	put: `INSERT INTO sermons (id, title, status, duration_seconds, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET title = excluded.title, status = excluded.status,
            duration_seconds = excluded.duration_seconds, updated_at = excluded.updated_at`,
	setTitle: `INSERT INTO sermons (id, title, status, updated_at)
        VALUES (?, ?, '{}', ?)
        ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
	mergeStatus: `UPDATE sermons
        SET status = json_patch(status, ?), duration_seconds = COALESCE(?, duration_seconds), updated_at = ?
        WHERE id = ?`,
	list:     `SELECT id, title, status, duration_seconds, updated_at FROM sermons ORDER BY updated_at DESC, id LIMIT ?`,
	textTime: true,
}

var postgresDialect = dialect{
	name:         config.DocumentsPostgres,
	driver:       "pgx",
	gooseDialect: "postgres",
	migrationDir: "migrations/postgres",
	get:          `SELECT id, title, status, duration_seconds, updated_at FROM sermons WHERE id = $1`,
	put: `INSERT INTO sermons (id, title, status, duration_seconds, updated_at)
        VALUES ($1, $2, $3::jsonb, $4, $5)
        ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, status = EXCLUDED.status,
            duration_seconds = EXCLUDED.duration_seconds, updated_at = EXCLUDED.updated_at`,
	setTitle: `INSERT INTO sermons (id, title, status, updated_at)
        VALUES ($1, $2, '{}'::jsonb, $3)
        ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at`,
	mergeStatus: `UPDATE sermons
        SET status = status || $1::jsonb, duration_seconds = COALESCE($2, duration_seconds), updated_at = $3
        WHERE id = $4`,
	list: `SELECT id, title, status, duration_seconds, updated_at FROM sermons ORDER BY updated_at DESC, id LIMIT $1`,
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the document store selected by cfg.Documents and applies
// pending migrations.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SQLStore, error) {
	switch cfg.Documents.Driver {
	case config.DocumentsPostgres:
		return OpenPostgres(ctx, cfg.Documents.DSN, logger)
	case config.DocumentsSQLite, "":
		return OpenSQLite(ctx, cfg.Documents.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported document driver %q", cfg.Documents.Driver)
	}
}

// OpenSQLite opens or creates a SQLite document database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create document directory: %w", err)
		}
	}
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open(sqliteDialect.driver, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return newSQLStore(db, sqliteDialect, logger)
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect, logger)
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	logger = logging.NewComponentLogger(logger, "docstore")
	if err := migrate(db, d, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("document store ready", logging.String("driver", d.name))
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

func (s *SQLStore) timeArg(t time.Time) any {
	if s.dialect.textTime {
		return t.UTC().Format(sortableTime)
	}
	return t.UTC()
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.get, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *SQLStore) Put(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return services.Wrap(services.ErrInvalidArgument, "documents", "put", "document id is required", nil)
	}
	status := doc.Status
	if status == nil {
		status = map[string]any{}
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.put,
		doc.ID,
		doc.Title,
		string(statusJSON),
		nullableFloat(doc.DurationSeconds),
		s.timeArg(time.Now()),
	); err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLStore) SetTitle(ctx context.Context, id, title string) error {
	if strings.TrimSpace(id) == "" {
		return services.Wrap(services.ErrInvalidArgument, "documents", "set title", "document id is required", nil)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.setTitle, id, title, s.timeArg(time.Now())); err != nil {
		return fmt.Errorf("set title %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) MergeStatus(ctx context.Context, id string, update StatusUpdate) error {
	patchJSON, err := json.Marshal(update.patch())
	if err != nil {
		return fmt.Errorf("marshal status patch: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.mergeStatus,
		string(patchJSON),
		nullableFloat(update.DurationSeconds),
		s.timeArg(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("merge status %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge status %s: %w", id, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "documents", "merge status", "sermon "+id, nil)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.list, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		doc        Document
		statusRaw  []byte
		duration   sql.NullFloat64
		updatedRaw any
	)
	if err := scanner.Scan(&doc.ID, &doc.Title, &statusRaw, &duration, &updatedRaw); err != nil {
		return nil, err
	}
	doc.Status = map[string]any{}
	if len(statusRaw) > 0 {
		if err := json.Unmarshal(statusRaw, &doc.Status); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
	}
	if duration.Valid {
		v := duration.Float64
		doc.DurationSeconds = &v
	}
	doc.UpdatedAt = parseTime(updatedRaw)
	return &doc, nil
}

func parseTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	case []byte:
		if t, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
