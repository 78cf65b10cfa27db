package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested build does not exist.
var ErrNotFound = errors.New("build not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=busy_timeout(5000)"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const buildColumns = `id, config_dir, out_path, status, stage, fingerprint,
	source_count, error_count, warning_count, started_at, completed_at, error`

// RecordBuild inserts a build record.
func (s *SQLiteStore) RecordBuild(ctx context.Context, b *Build) error {
	query := `INSERT INTO builds (` + buildColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.ConfigDir,
		b.OutPath,
		b.Status,
		b.Stage,
		b.Fingerprint,
		b.SourceCount,
		b.ErrorCount,
		b.WarningCount,
		b.StartedAt.UTC(),
		b.CompletedAt.UTC(),
		b.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}

	return nil
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return b, nil
}

// ListBuilds lists the most recent builds, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit int) ([]*Build, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + buildColumns + ` FROM builds
		ORDER BY started_at DESC, id
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// LastSuccessful returns the newest succeeded build of configDir.
func (s *SQLiteStore) LastSuccessful(ctx context.Context, configDir string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE config_dir = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1`

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, configDir, BuildStatusSucceeded))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no successful build of %s", ErrNotFound, configDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful build: %w", err)
	}

	return b, nil
}

// PruneBuilds deletes all but the newest keep builds and reports how many
// were removed.
func (s *SQLiteStore) PruneBuilds(ctx context.Context, keep int) (int64, error) {
	query := `DELETE FROM builds WHERE id NOT IN (
		SELECT id FROM builds ORDER BY started_at DESC, id LIMIT ?
	)`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	b := &Build{}
	err := row.Scan(
		&b.ID,
		&b.ConfigDir,
		&b.OutPath,
		&b.Status,
		&b.Stage,
		&b.Fingerprint,
		&b.SourceCount,
		&b.ErrorCount,
		&b.WarningCount,
		&b.StartedAt,
		&b.CompletedAt,
		&b.Error,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
