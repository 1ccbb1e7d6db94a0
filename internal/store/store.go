// Package store owns the SQLite database underneath the state
// coordinator. It opens the project database (.gao-dev/state.db),
// applies versioned migrations with pre-migration backups, and exposes
// transaction plumbing. No entity logic lives here.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInTransaction reports a WithTx call made from inside an already
// open WithTx on the same goroutine. Without the check the nested call
// would deadlock on the writer lock.
var ErrInTransaction = errors.New("store: transaction already open on this goroutine")

// Store wraps an SQLite database connection.
type Store struct {
	conn    *sql.DB
	path    string
	mu      sync.RWMutex
	txOwner atomic.Int64
}

// DBPath returns the path to the project state database.
func DBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".gao-dev", "state.db")
}

// BackupDir returns the directory pre-migration backups are written to.
func BackupDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".gao-dev", "backups")
}

// Open opens the SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads and
// foreign keys are enforced.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// OpenProject opens the project-local state database.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(DBPath(projectRoot))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Exec executes a query that doesn't return rows.
func (s *Store) Exec(query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.QueryRow(query, args...)
}

// WithTx runs fn inside a transaction. The transaction commits only if
// fn returns nil; any error rolls everything back. The caller decides
// when to pair the commit with a git commit, so fn must not itself call
// WithTx: a nested call from the same goroutine fails with
// ErrInTransaction. Calls from other goroutines serialize as usual.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	gid := goid()
	if s.txOwner.Load() == gid {
		return ErrInTransaction
	}

	s.mu.Lock()
	s.txOwner.Store(gid)
	defer func() {
		s.txOwner.Store(0)
		s.mu.Unlock()
	}()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// goid extracts the current goroutine id from the runtime stack header
// ("goroutine 123 [running]:"). It is the only way to tell a nested
// WithTx apart from a concurrent one.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) >= 2 {
		if id, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			return id
		}
	}
	return -1
}

// FormatTime formats a time.Time for SQLite storage (RFC3339, UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a time string from SQLite.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// ParseNullTime parses a nullable time string from SQLite.
func ParseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
