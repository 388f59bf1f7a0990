// Package db provides SQLite-based persistence for the ticket queue.
//
// The database file is shared by many independent processes (agent
// containers, the supervisor, ad-hoc CLI invocations). Every connection
// runs in WAL mode with foreign keys on and a bounded busy timeout, and
// every transaction takes the write lock immediately so concurrent
// claimers serialize instead of deadlocking.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/arctek/swarm/ticket"
)

// busyTimeoutMS bounds how long a writer waits for the write lock before
// the operation fails with a retryable busy error.
const busyTimeoutMS = 10000

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// dsn builds the connection string. The pragmas ride on the DSN so every
// pooled connection gets them, not just the first.
func dsn(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		fmt.Sprintf("&_pragma=busy_timeout(%d)", busyTimeoutMS)
}

// Open opens the database at the given path and verifies that its recorded
// schema version matches the version this binary was built against. Any
// mismatch (missing, older, or newer) returns a *ticket.SchemaError.
func Open(path string) (*DB, error) {
	d, err := open(path)
	if err != nil {
		return nil, err
	}

	current, err := currentVersion(d.DB)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	expected := ExpectedVersion()
	switch {
	case current < 0:
		d.Close()
		return nil, &ticket.SchemaError{Expected: expected, Missing: true}
	case current != expected:
		d.Close()
		return nil, &ticket.SchemaError{Current: current, Expected: expected}
	}

	return d, nil
}

// open opens the database without the schema-version gate. Used by Open
// and by Migrate, which must be able to operate on any version.
func open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the filesystem path of the database file.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.DB.Close()
}

// currentVersion reads the highest recorded schema version. Returns -1 when
// the schema_version table does not exist yet (fresh or pre-migration file).
func currentVersion(sqlDB *sql.DB) (int, error) {
	var version int
	err := sqlDB.QueryRow(
		"SELECT version FROM schema_version ORDER BY version DESC LIMIT 1",
	).Scan(&version)
	switch {
	case err == nil:
		return version, nil
	case errors.Is(err, sql.ErrNoRows):
		return -1, nil
	case strings.Contains(err.Error(), "no such table"):
		return -1, nil
	default:
		return 0, err
	}
}

// IsBusy reports whether err is a write-lock timeout (retryable).
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsConstraint reports whether err is a constraint violation, such as
// inserting a duplicate blocker edge.
func IsConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT
}

// Classify maps low-level SQLite failures onto the shared error kinds so
// callers above the store never inspect driver errors directly.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsBusy(err):
		return fmt.Errorf("%w: %v", ticket.ErrBusy, err)
	case IsConstraint(err):
		return fmt.Errorf("%w: %v", ticket.ErrConflict, err)
	default:
		return err
	}
}
