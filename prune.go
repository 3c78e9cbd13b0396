package chaindb

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// PurgeFinalityOrphans deletes stale siblings of the finalized chain and any
// trie nodes no surviving block's state references, per spec.md §4.6.
//
// The reachability sweep below always walks trie_root_ref edges and
// correctly accounts for a node referenced more than once within the same
// trie; spec.md §9 notes this is one of two acceptable strategies (the
// other being eager reference counting, which the source uses and
// documents as under-pruning in rare multi-reference cases — this rewrite
// does not reproduce that limitation).
func (db *Database) PurgeFinalityOrphans() (err error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	defer func() {
		if err != nil {
			_ = db.sdb.Rollback()
		}
	}()

	err = db.sdb.WithoutForeignKeys(func() error {
		finalizedNum, err := db.finalizedNumberLocked()
		if err != nil {
			return err
		}

		rows, err := db.sdb.Tx().Query(
			`SELECT hash FROM blocks WHERE number <= ? AND is_best_chain = 0`, int64(finalizedNum))
		if err != nil {
			return corrupt(InternalStoreError, err)
		}
		var orphans [][32]byte
		for rows.Next() {
			var h []byte
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return corrupt(InternalStoreError, err)
			}
			hash, err := scanHash(h)
			if err != nil {
				rows.Close()
				return err
			}
			orphans = append(orphans, hash)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return corrupt(InternalStoreError, rowsErr)
		}

		for _, hash := range orphans {
			if _, err := db.sdb.Tx().Exec(
				`UPDATE blocks SET state_trie_root_hash = NULL WHERE hash = ?`, hash[:],
			); err != nil {
				return corrupt(InternalStoreError, err)
			}
		}

		live, err := db.reachableTrieNodesLocked()
		if err != nil {
			return err
		}
		if err := db.deleteUnreachableTrieNodesLocked(live); err != nil {
			return err
		}

		for _, hash := range orphans {
			if _, err := db.sdb.Tx().Exec(`DELETE FROM blocks_body WHERE hash = ?`, hash[:]); err != nil {
				return corrupt(InternalStoreError, err)
			}
			if _, err := db.sdb.Tx().Exec(`DELETE FROM blocks WHERE hash = ?`, hash[:]); err != nil {
				return corrupt(InternalStoreError, err)
			}
		}
		return nil
	})
	return err
}

func (db *Database) reachableTrieNodesLocked() (map[string]bool, error) {
	rows, err := db.sdb.Tx().Query(
		`SELECT DISTINCT state_trie_root_hash FROM blocks WHERE state_trie_root_hash IS NOT NULL`)
	if err != nil {
		return nil, corrupt(InternalStoreError, err)
	}
	var stack [][]byte
	for rows.Next() {
		var root []byte
		if err := rows.Scan(&root); err != nil {
			rows.Close()
			return nil, corrupt(InternalStoreError, err)
		}
		stack = append(stack, root)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, corrupt(InternalStoreError, rowsErr)
	}

	visited := map[string]bool{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		key := string(cur)
		if visited[key] {
			continue
		}
		visited[key] = true

		childRows, err := db.sdb.Tx().Query(`SELECT child_hash FROM trie_node_child WHERE hash = ?`, cur)
		if err != nil {
			return nil, corrupt(InternalStoreError, err)
		}
		for childRows.Next() {
			var child []byte
			if err := childRows.Scan(&child); err != nil {
				childRows.Close()
				return nil, corrupt(InternalStoreError, err)
			}
			stack = append(stack, child)
		}
		childErr := childRows.Err()
		childRows.Close()
		if childErr != nil {
			return nil, corrupt(InternalStoreError, childErr)
		}

		var ref []byte
		err = db.sdb.Tx().QueryRow(`SELECT trie_root_ref FROM trie_node_storage WHERE node_hash = ?`, cur).Scan(&ref)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, corrupt(InternalStoreError, err)
		}
		if ref != nil {
			stack = append(stack, ref)
		}
	}
	return visited, nil
}

func (db *Database) deleteUnreachableTrieNodesLocked(live map[string]bool) error {
	rows, err := db.sdb.Tx().Query(`SELECT hash FROM trie_node`)
	if err != nil {
		return corrupt(InternalStoreError, err)
	}
	var dead [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return corrupt(InternalStoreError, err)
		}
		if !live[string(h)] {
			dead = append(dead, h)
		}
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return corrupt(InternalStoreError, rowsErr)
	}

	for _, h := range dead {
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node_child WHERE hash = ? OR child_hash = ?`, h, h); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node_storage WHERE node_hash = ?`, h); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node WHERE hash = ?`, h); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}
	return nil
}
