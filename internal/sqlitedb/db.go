// Package sqlitedb is the schema-and-ambient-transaction layer described in
// spec.md §4.1: it owns the single connection, the long-running transaction
// that every public chaindb operation commits at the end of, and typed
// accessors for the meta table. It knows nothing about blocks or tries —
// that belongs to the chaindb package, which drives this one through plain
// *sql.Tx queries.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	deadlock "github.com/sasha-s/go-deadlock"
	_ "modernc.org/sqlite"
)

// Config mirrors chaindb.Config; duplicated here to keep this package
// import-free of its parent.
type Config struct {
	Path        string
	InMemory    bool
	BusyTimeout time.Duration
}

// ErrMetaKeyNotFound is returned by GetBlob/GetNumber when the key is absent.
var ErrMetaKeyNotFound = errors.New("sqlitedb: meta key not found")

// DB wraps the single SQLite connection and its ambient transaction behind a
// mutex, per spec.md §5's single-writer, no-snapshot-isolation model.
type DB struct {
	mu   deadlock.Mutex
	conn *sql.DB
	tx   *sql.Tx
}

func dsn(cfg Config) string {
	if cfg.InMemory || cfg.Path == "" {
		// No cache=shared: this package keeps exactly one connection per
		// Database, so there is nothing to share, and sharing would leak
		// state between independently Open'd in-memory databases.
		return ":memory:"
	}
	return cfg.Path
}

// Open opens the connection, applies this rewrite's own PRAGMA tuning
// (SPEC_FULL.md §4), and reports whether a `blocks`
// table already existed (DatabaseOpen::Existing) or not (::Empty).
func Open(cfg Config) (db *DB, existing bool, err error) {
	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlitedb: open connection")
	}
	// A single physical connection: this store is single-writer and never
	// hands out concurrent access to the underlying file (spec.md §5).
	conn.SetMaxOpenConns(1)
	if cfg.BusyTimeout > 0 {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())); err != nil {
			return nil, false, errors.Wrap(err, "sqlitedb: set busy_timeout")
		}
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, false, errors.Wrapf(err, "sqlitedb: apply %q", pragma)
		}
	}

	existing, err = hasSchema(conn)
	if err != nil {
		return nil, false, err
	}

	d := &DB{conn: conn}
	if err := d.begin(); err != nil {
		return nil, false, err
	}
	return d, existing, nil
}

func hasSchema(conn *sql.DB) (bool, error) {
	var name string
	err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'blocks'`).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "sqlitedb: probe schema")
	default:
		return true, nil
	}
}

func (d *DB) begin() error {
	tx, err := d.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "sqlitedb: begin ambient transaction")
	}
	d.tx = tx
	return nil
}

// Lock/Unlock guard the single connection. Every chaindb public method holds
// the lock for its entire duration; callers must drain any caller-supplied
// iterator into an owned buffer *before* calling Lock (spec.md §5's
// "iterator-borne deadlock" contract) — go-deadlock will flag a violation
// that re-enters Lock from inside the critical section instead of hanging
// silently.
func (d *DB) Lock()   { d.mu.Lock() }
func (d *DB) Unlock() { d.mu.Unlock() }

// Tx returns the ambient transaction. Callers must hold the lock.
func (d *DB) Tx() *sql.Tx { return d.tx }

// CreateSchema executes the DDL. Called once, by Empty.Initialize.
func (d *DB) CreateSchema() error {
	if _, err := d.tx.Exec(schemaDDL); err != nil {
		return errors.Wrap(err, "sqlitedb: create schema")
	}
	return nil
}

// Commit commits the ambient transaction and immediately opens the next one,
// preserving the "always inside an open transaction" invariant.
func (d *DB) Commit() error {
	if err := d.tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlitedb: commit")
	}
	return d.begin()
}

// Rollback aborts the ambient transaction and opens a fresh one, leaving the
// store unchanged as a failed public operation must (spec.md §9).
func (d *DB) Rollback() error {
	rollbackErr := d.tx.Rollback()
	if err := d.begin(); err != nil {
		return err
	}
	if rollbackErr != nil {
		return errors.Wrap(rollbackErr, "sqlitedb: rollback")
	}
	return nil
}

// WithoutForeignKeys runs fn with foreign-key enforcement disabled, matching
// spec.md §4.2/§4.6's "defers foreign-key enforcement for the duration of
// the transaction" — SQLite can only toggle PRAGMA foreign_keys outside of
// an active transaction, so this commits first, flips the pragma, runs fn in
// a fresh transaction, and re-validates with PRAGMA foreign_key_check before
// allowing the final commit to stand.
func (d *DB) WithoutForeignKeys(fn func() error) (err error) {
	if err := d.tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlitedb: commit before disabling foreign keys")
	}
	if _, err := d.conn.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = d.begin()
		return errors.Wrap(err, "sqlitedb: disable foreign keys")
	}
	defer func() {
		if _, pragmaErr := d.conn.Exec("PRAGMA foreign_keys=ON"); pragmaErr != nil && err == nil {
			err = errors.Wrap(pragmaErr, "sqlitedb: re-enable foreign keys")
		}
	}()

	if err := d.begin(); err != nil {
		return err
	}

	if fnErr := fn(); fnErr != nil {
		_ = d.tx.Rollback()
		_ = d.begin()
		return fnErr
	}
	if err := checkForeignKeys(d.tx); err != nil {
		_ = d.tx.Rollback()
		_ = d.begin()
		return err
	}
	if err := d.tx.Commit(); err != nil {
		_ = d.begin()
		return errors.Wrap(err, "sqlitedb: commit deferred-fk transaction")
	}
	return d.begin()
}

func checkForeignKeys(tx *sql.Tx) error {
	rows, err := tx.Query("PRAGMA foreign_key_check")
	if err != nil {
		return errors.Wrap(err, "sqlitedb: foreign_key_check")
	}
	defer rows.Close()
	if rows.Next() {
		return errors.New("sqlitedb: foreign key constraint violated by deferred-check transaction")
	}
	return errors.Wrap(rows.Err(), "sqlitedb: foreign_key_check rows")
}

// Close commits, runs the original implementation's "optimize" hint
// (PRAGMA optimize, per SPEC_FULL.md §4), and releases the connection.
func (d *DB) Close() error {
	if err := d.tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlitedb: commit before close")
	}
	if _, err := d.conn.Exec("PRAGMA optimize"); err != nil {
		return errors.Wrap(err, "sqlitedb: optimize")
	}
	return errors.Wrap(d.conn.Close(), "sqlitedb: close connection")
}
