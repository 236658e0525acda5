// Package storage provides SQLite database connectivity and data access.
//
// Each entity kind (users, calendars, events) lives in its own table and is
// owned by its own repository. Repositories never open transactions that span
// tables; multi-collection consistency is the job of the calendar registry and
// the event ledger.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for all connections.
const DriverName = "sqlite3"

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeoutMS is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY.
	BusyTimeoutMS int
	MaxOpenConns  int
	MaxIdleConns  int
}

func (o Options) withDefaults() Options {
	if o.BusyTimeoutMS <= 0 {
		o.BusyTimeoutMS = 5000
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 5
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 2
	}
	return o
}

// DB wraps the SQL database connection with application-specific methods.
type DB struct {
	*sqlx.DB
	path string
}

// NewDB creates a new database connection to the SQLite file at the given path.
// It creates the directory structure if it doesn't exist.
func NewDB(path string, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// - _foreign_keys=off: tables are independent collections, no cross-table constraints
	// - _journal_mode=WAL: concurrent readers alongside one writer
	// - _busy_timeout: wait before surfacing SQLITE_BUSY
	// - _synchronous=NORMAL: balance between safety and performance
	dsn := fmt.Sprintf("%s?_foreign_keys=off&_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		path, opts.BusyTimeoutMS)
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	return &DB{DB: db, path: path}, nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
