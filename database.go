// Package chaindb is the persistent chain database for a blockchain full
// node: the block tree, the shared Merkle-Patricia trie, finality and
// best-chain bookkeeping, and the consensus metadata needed to resume a
// validated chain after restart. It assumes its caller has already verified
// every block handed to it; the database enforces storage invariants, not
// consensus rules.
package chaindb

import (
	"github.com/cockroachdb/errors"

	"github.com/ukint-vs/chaindb/internal/consensus"
	"github.com/ukint-vs/chaindb/internal/sqlitedb"
)

// Meta keys used across database.go, blocks.go and finality.go.
const (
	metaKeyBest                     = "best"
	metaKeyFinalized                = "finalized"
	metaKeyGrandpaSetID             = "grandpa_authorities_set_id"
	metaKeyGrandpaScheduledTarget   = "grandpa_scheduled_target"
	metaKeyAuraSlotDuration         = "aura_slot_duration"
	metaKeyBabeSlotsPerEpoch        = "babe_slots_per_epoch"
	metaKeyBabeFinalizedEpoch       = "babe_finalized_epoch"
	metaKeyBabeFinalizedNextEpoch   = "babe_finalized_next_epoch"
)

// Database is an opened chain database, ready for the operations in blocks.go,
// triestore.go, query.go, finality.go and prune.go.
type Database struct {
	sdb *sqlitedb.DB
}

// Empty is a freshly opened store with no schema yet; it must be Initialize'd
// before any other operation is valid.
type Empty struct {
	sdb *sqlitedb.DB
}

// DatabaseOpen is the result of Open: exactly one of Empty or Existing is set.
type DatabaseOpen struct {
	Empty    *Empty
	Existing *Database
}

// Open opens (and creates if absent) the backing SQLite file, matching
// spec.md §6's `open(config) → DatabaseOpen::{Empty, Existing}`.
func Open(cfg Config) (*DatabaseOpen, error) {
	sdb, existing, err := sqlitedb.Open(sqlitedb.Config{
		Path:        cfg.Path,
		InMemory:    cfg.InMemory,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "chaindb: open")
	}
	if existing {
		return &DatabaseOpen{Existing: &Database{sdb: sdb}}, nil
	}
	return &DatabaseOpen{Empty: &Empty{sdb: sdb}}, nil
}

// Initialize creates the schema and installs a single block as both best and
// finalized, per spec.md §6's `Empty::initialize(chain_info, body,
// justification) → Database`.
func (e *Empty) Initialize(info consensus.ChainInformation, body [][]byte, justification []byte) (db *Database, err error) {
	e.sdb.Lock()
	defer e.sdb.Unlock()
	defer func() {
		if err != nil {
			_ = e.sdb.Rollback()
		}
	}()

	if err = e.sdb.CreateSchema(); err != nil {
		return nil, err
	}
	db = &Database{sdb: e.sdb}
	if err = db.resetLocked(info, body, justification); err != nil {
		return nil, err
	}
	if err = e.sdb.Commit(); err != nil {
		return nil, errors.Wrap(err, "chaindb: commit initialize")
	}
	return db, nil
}

// Close commits any pending work and releases the connection.
func (db *Database) Close() error {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	return db.sdb.Close()
}

// Close releases an Empty database's connection without ever having been
// initialized (a caller that opened but decided not to proceed).
func (e *Empty) Close() error {
	e.sdb.Lock()
	defer e.sdb.Unlock()
	return e.sdb.Close()
}
