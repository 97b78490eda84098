// Package db provides SQLite storage for phishbeads.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/daviddao/phishbeads/internal/types"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a queried row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an incident cannot move to the
	// requested report state.
	ErrInvalidTransition = errors.New("invalid report state transition")
)

// DB wraps a SQLite connection for phishbeads operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) a phishbeads database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_txlock=immediate"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// New wraps an already-open connection. The schema is not applied.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Now returns the current time in unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// DiscoverDB finds the phishbeads database by walking up from cwd.
// Returns the path to .phishbeads/phish.db or empty string if not found.
func DiscoverDB() string {
	return discover(filepath.Join(".phishbeads", "phish.db"))
}

// FindProjectRoot walks up from cwd looking for a .git directory.
func FindProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func discover(rel string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// withTx runs fn inside a transaction and commits if fn returns nil.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- Meta operations ---

// Meta keys for engine-owned timestamps (unix seconds).
const (
	MetaSyncLast       = "node_sync_last"
	MetaSyncLastTry    = "node_sync_last_try"
	MetaSyncFullTry    = "node_sync_full_last_try"
	MetaReportsLast    = "reports_last"
	MetaReportsLastTry = "reports_last_try"
)

// GetMeta returns the value stored under key, or "" if absent.
func (d *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := d.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetMeta stores value under key.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetMetaInt returns the integer stored under key, or 0.
func (d *DB) GetMetaInt(ctx context.Context, key string) (int64, error) {
	v, err := d.GetMeta(ctx, key)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

// SetMetaInt stores an integer under key.
func (d *DB) SetMetaInt(ctx context.Context, key string, n int64) error {
	return d.SetMeta(ctx, key, strconv.FormatInt(n, 10))
}

// --- Statistics ---

// Stats returns counts over all tables.
func (d *DB) Stats(ctx context.Context) (*types.Stats, error) {
	s := &types.Stats{}
	err := d.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM indicators WHERE kind != 0),
			(SELECT COUNT(*) FROM indicators WHERE kind = 0),
			(SELECT COUNT(*) FROM emails),
			(SELECT COUNT(*) FROM emails WHERE status = -1),
			(SELECT COUNT(*) FROM tags),
			(SELECT COUNT(*) FROM tags WHERE indicator_id IS NULL),
			(SELECT COUNT(*) FROM incidents WHERE reported = 0),
			(SELECT COUNT(*) FROM incidents WHERE reported = -1),
			(SELECT COUNT(*) FROM incidents WHERE reported = 1)`).Scan(
		&s.Indicators, &s.TestIndicators, &s.Emails, &s.Suspicious,
		&s.Tags, &s.Unresolved, &s.Pending, &s.InTransit, &s.Reported,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return s, nil
}

// Underlying returns the raw sql.DB connection.
func (d *DB) Underlying() *sql.DB {
	return d.conn
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
