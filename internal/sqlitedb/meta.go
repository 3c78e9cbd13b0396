package sqlitedb

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// GetBlob reads a blob-valued meta key (e.g. "best").
func (d *DB) GetBlob(key string) ([]byte, error) {
	var v []byte
	err := d.tx.QueryRow(`SELECT value_blob FROM meta WHERE key = ?`, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrMetaKeyNotFound
	case err != nil:
		return nil, errors.Wrapf(err, "sqlitedb: get blob meta key %q", key)
	default:
		return v, nil
	}
}

// GetNumber reads a number-valued meta key (e.g. "finalized").
func (d *DB) GetNumber(key string) (int64, error) {
	var v sql.NullInt64
	err := d.tx.QueryRow(`SELECT value_number FROM meta WHERE key = ?`, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrMetaKeyNotFound
	case err != nil:
		return 0, errors.Wrapf(err, "sqlitedb: get number meta key %q", key)
	case !v.Valid:
		return 0, ErrMetaKeyNotFound
	default:
		return v.Int64, nil
	}
}

// SetBlob upserts key with a blob value, clearing any previous numeric value
// so the two representations never disagree about which is authoritative.
func (d *DB) SetBlob(key string, value []byte) error {
	_, err := d.tx.Exec(`
		INSERT INTO meta (key, value_blob, value_number) VALUES (?, ?, NULL)
		ON CONFLICT(key) DO UPDATE SET value_blob = excluded.value_blob, value_number = NULL
	`, key, value)
	return errors.Wrapf(err, "sqlitedb: set blob meta key %q", key)
}

// SetNumber upserts key with a numeric value, clearing any previous blob.
func (d *DB) SetNumber(key string, value int64) error {
	_, err := d.tx.Exec(`
		INSERT INTO meta (key, value_blob, value_number) VALUES (?, NULL, ?)
		ON CONFLICT(key) DO UPDATE SET value_blob = NULL, value_number = excluded.value_number
	`, key, value)
	return errors.Wrapf(err, "sqlitedb: set number meta key %q", key)
}

// Clear removes key entirely, used when a piece of optional chain
// information (e.g. a pending GRANDPA scheduled change) stops applying.
func (d *DB) Clear(key string) error {
	_, err := d.tx.Exec(`DELETE FROM meta WHERE key = ?`, key)
	return errors.Wrapf(err, "sqlitedb: clear meta key %q", key)
}
