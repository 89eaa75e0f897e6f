package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a lock written by an older fwrpc. Statements must be
// idempotent: fresh databases run them too.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations in version order. user_version holds the last one applied.
var migrations = []migration{
	{1, "unique handler per kind", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_endpoint_ids_handler
		ON endpoint_ids(domain, kind, handler_id)`},
	{2, "runs by domain", `
		CREATE INDEX IF NOT EXISTS idx_generation_runs_domain
		ON generation_runs(domain, seq)`},
}

// SchemaVersion is the user_version of a lock after Open.
var SchemaVersion = migrations[len(migrations)-1].version

// Store is the layout lock database. SQLite in WAL mode behind a single
// connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	busyTimeout time.Duration
}

// WithLogger sets the logger used for migrations.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBusyTimeout sets how long a writer waits for another process that
// holds the lock file.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// Open creates or opens the lock at path and brings its schema up to
// date. Opening the same path repeatedly is safe.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// One connection, so pragmas hold for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: o.logger}
	for _, p := range pragmas(o.busyTimeout) {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func pragmas(busy time.Duration) []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies the base schema, then every migration newer than the
// stored user_version, each in its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Debug("layout lock migrated", "version", m.version, "migration", m.name)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
