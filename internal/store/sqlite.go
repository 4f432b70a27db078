package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// SetDefaults sets reasonable default values for the config.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "retasync.db"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// SQLiteStore implements the store.Store interface on SQLite.
// It uses a single connection, so writes are serialized.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface compliance check
var _ storepkg.Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at cfg.Path and runs
// migrations.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	cfg.SetDefaults()

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &storepkg.StorageError{Op: "open", Err: err}
			}
		}
	}
	dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", cfg.BusyTimeout.Milliseconds())
	if cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &storepkg.StorageError{Op: "ping", Err: err}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, &storepkg.StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &storepkg.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storepkg.StorageError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &storepkg.StorageError{Op: op, Err: err}
	}
	return nil
}

// wrap leaves domain errors untouched and wraps everything else.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *storepkg.StorageError
	if errors.Is(err, storepkg.ErrNotFound) ||
		errors.Is(err, storepkg.ErrInvalidTransition) ||
		errors.Is(err, storepkg.ErrAclOverlap) ||
		errors.As(err, &serr) {
		return err
	}
	return &storepkg.StorageError{Op: op, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseOptionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
