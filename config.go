package chaindb

import "time"

// Config selects the embedded store's location and tuning (SPEC_FULL.md
// §2.3). There is no CLI or environment-variable surface; callers construct
// this directly.
type Config struct {
	// Path is the SQLite file path. Ignored when InMemory is set.
	Path string
	// InMemory opens a private in-memory database (no shared cache) instead
	// of a file; used by this package's own tests.
	InMemory bool
	// BusyTimeout bounds how long SQLite waits on a locked file before
	// returning SQLITE_BUSY. Zero disables the timeout.
	BusyTimeout time.Duration
}
