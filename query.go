package chaindb

import (
	"bytes"
	"database/sql"
	"sort"

	"github.com/cockroachdb/errors"
)

func (db *Database) stateRootLocked(blockHash [32]byte) ([]byte, bool, error) {
	var root []byte
	err := db.sdb.Tx().QueryRow(`SELECT state_trie_root_hash FROM blocks WHERE hash = ?`, blockHash[:]).Scan(&root)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, corrupt(InternalStoreError, err)
	}
	return root, root != nil, nil
}

func (db *Database) getPartialKeyLocked(nodeHash []byte) ([]byte, error) {
	var partialKey []byte
	err := db.sdb.Tx().QueryRow(`SELECT partial_key FROM trie_node WHERE hash = ?`, nodeHash).Scan(&partialKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrIncompleteStorage
	case err != nil:
		return nil, corrupt(InternalStoreError, err)
	}
	return partialKey, nil
}

func (db *Database) getStorageValueLocked(nodeHash []byte) (value []byte, version byte, hasValue bool, err error) {
	var v sql.NullInt64
	var blob []byte
	dbErr := db.sdb.Tx().QueryRow(
		`SELECT value, trie_entry_version FROM trie_node_storage WHERE node_hash = ?`, nodeHash,
	).Scan(&blob, &v)
	switch {
	case errors.Is(dbErr, sql.ErrNoRows):
		return nil, 0, false, nil
	case dbErr != nil:
		return nil, 0, false, corrupt(InternalStoreError, dbErr)
	}
	if !v.Valid {
		return nil, 0, false, corruptf(InvalidTrieEntryVersion, "trie_node_storage row for %x has no entry version", nodeHash)
	}
	return blob, byte(v.Int64), blob != nil, nil
}

func (db *Database) getTrieRootRefLocked(nodeHash []byte) ([]byte, bool, error) {
	var ref []byte
	err := db.sdb.Tx().QueryRow(`SELECT trie_root_ref FROM trie_node_storage WHERE node_hash = ?`, nodeHash).Scan(&ref)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, corrupt(InternalStoreError, err)
	}
	return ref, ref != nil, nil
}

func (db *Database) getChildLocked(nodeHash []byte, nibble byte) ([]byte, bool, error) {
	var child []byte
	err := db.sdb.Tx().QueryRow(
		`SELECT child_hash FROM trie_node_child WHERE hash = ? AND child_num = ?`, nodeHash, []byte{nibble},
	).Scan(&child)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, corrupt(InternalStoreError, err)
	}
	return child, true, nil
}

type childEdge struct {
	nibble byte
	hash   []byte
}

func (db *Database) getChildrenSortedLocked(nodeHash []byte) ([]childEdge, error) {
	rows, err := db.sdb.Tx().Query(`SELECT child_num, child_hash FROM trie_node_child WHERE hash = ?`, nodeHash)
	if err != nil {
		return nil, corrupt(InternalStoreError, err)
	}
	defer rows.Close()
	var out []childEdge
	for rows.Next() {
		var num, hash []byte
		if err := rows.Scan(&num, &hash); err != nil {
			return nil, corrupt(InternalStoreError, err)
		}
		if len(num) != 1 {
			return nil, corruptf(InternalStoreError, "trie_node_child.child_num has length %d", len(num))
		}
		out = append(out, childEdge{nibble: num[0], hash: hash})
	}
	if err := rows.Err(); err != nil {
		return nil, corrupt(InternalStoreError, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].nibble < out[j].nibble })
	return out, nil
}

func (db *Database) getSmallestChildGreaterLocked(nodeHash []byte, than byte) (byte, []byte, bool, error) {
	children, err := db.getChildrenSortedLocked(nodeHash)
	if err != nil {
		return 0, nil, false, err
	}
	for _, c := range children {
		if c.nibble > than {
			return c.nibble, c.hash, true, nil
		}
	}
	return 0, nil, false, nil
}

func (db *Database) nodeAcceptableLocked(nodeHash []byte, branchNodesOK bool) (bool, error) {
	if branchNodesOK {
		return true, nil
	}
	_, _, hasValue, err := db.getStorageValueLocked(nodeHash)
	return hasValue, err
}

// BlockStorageGet is the point-lookup operation of spec.md §4.4.
func (db *Database) BlockStorageGet(blockHash [32]byte, parentTries [][]byte, key []byte) ([]byte, byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()

	root, ok, err := db.stateRootLocked(blockHash)
	if err != nil {
		return nil, 0, false, err
	}
	if !ok {
		var exists int
		err := db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, blockHash[:]).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, false, ErrUnknownBlock
		}
		// Block exists but has no state root recorded (the pruner clears
		// it on an orphan before deleting the row): no value reachable.
		return nil, 0, false, nil
	}

	searchKey := concatNibblePath(parentTries, key)
	return db.pointLookupLocked(root, searchKey)
}

func (db *Database) pointLookupLocked(nodeHash []byte, remaining []byte) ([]byte, byte, bool, error) {
	partialKey, err := db.getPartialKeyLocked(nodeHash)
	if err != nil {
		return nil, 0, false, err
	}
	if !bytes.HasPrefix(remaining, partialKey) {
		return nil, 0, false, nil
	}
	remaining = remaining[len(partialKey):]

	if len(remaining) == 0 {
		value, version, hasValue, err := db.getStorageValueLocked(nodeHash)
		if err != nil || !hasValue {
			return nil, 0, false, err
		}
		return value, version, true, nil
	}

	if remaining[0] == childTrieSentinel {
		ref, hasRef, err := db.getTrieRootRefLocked(nodeHash)
		if err != nil || !hasRef {
			return nil, 0, false, err
		}
		return db.pointLookupLocked(ref, remaining[1:])
	}

	child, hasChild, err := db.getChildLocked(nodeHash, remaining[0])
	if err != nil || !hasChild {
		return nil, 0, false, err
	}
	return db.pointLookupLocked(child, remaining[1:])
}

// diverge returns the first index where a and b differ, and the sign of
// a[idx]-b[idx] there (-1, 0 meaning one is a prefix of the other, or +1).
func diverge(a, b []byte) (idx int, rel int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return i, -1
			}
			return i, 1
		}
	}
	return n, 0
}

// BlockStorageNextKey is the next-key search of spec.md §4.4. The search is
// performed against the whole trie starting from key; the result is then
// required to start with prefix (a simplification of the spec's branch
// algorithm, documented in DESIGN.md) before its parent-trie prefix is
// stripped for the caller.
func (db *Database) BlockStorageNextKey(blockHash [32]byte, parentTries [][]byte, key, prefix []byte, branchNodesOK bool) ([]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()

	root, ok, err := db.stateRootLocked(blockHash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		var exists int
		err := db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, blockHash[:]).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrUnknownBlock
		}
		return nil, false, nil
	}

	searchKey := concatNibblePath(parentTries, key)
	requiredPrefix := concatNibblePath(parentTries, prefix)

	candidate, found, err := db.nextKeySearchLocked(root, nil, searchKey, branchNodesOK)
	if err != nil || !found {
		return nil, false, err
	}
	if !bytes.HasPrefix(candidate, requiredPrefix) {
		return nil, false, nil
	}
	parentTriesLen := len(requiredPrefix) - len(prefix)
	return candidate[parentTriesLen:], true, nil
}

func (db *Database) nextKeySearchLocked(nodeHash []byte, path []byte, remaining []byte, branchNodesOK bool) ([]byte, bool, error) {
	partialKey, err := db.getPartialKeyLocked(nodeHash)
	if err != nil {
		return nil, false, err
	}
	fullPath := append(append([]byte{}, path...), partialKey...)
	idx, rel := diverge(partialKey, remaining)

	switch {
	case rel == 1:
		return db.smallestKeyInSubtreeLocked(nodeHash, path, branchNodesOK)
	case rel == -1:
		return nil, false, nil
	case idx == len(partialKey) && idx < len(remaining):
		return db.branchLocked(nodeHash, fullPath, remaining[idx:], branchNodesOK)
	case idx < len(partialKey):
		// remaining exhausted strictly inside partialKey: this node's whole
		// subtree is a valid completion of the target.
		return db.smallestKeyInSubtreeLocked(nodeHash, path, branchNodesOK)
	default:
		// idx == len(partialKey) == len(remaining): exact match on this node.
		acceptable, err := db.nodeAcceptableLocked(nodeHash, branchNodesOK)
		if err != nil {
			return nil, false, err
		}
		if acceptable {
			return fullPath, true, nil
		}
		return db.smallestChildLocked(nodeHash, fullPath, branchNodesOK)
	}
}

func (db *Database) branchLocked(nodeHash []byte, fullPath []byte, rest []byte, branchNodesOK bool) ([]byte, bool, error) {
	target := rest[0]

	if target == childTrieSentinel {
		ref, hasRef, err := db.getTrieRootRefLocked(nodeHash)
		if err != nil || !hasRef {
			return nil, false, err
		}
		return db.nextKeySearchLocked(ref, fullPath, rest[1:], branchNodesOK)
	}

	var best []byte
	found := false

	if child, ok, err := db.getChildLocked(nodeHash, target); err != nil {
		return nil, false, err
	} else if ok {
		cand, ok2, err := db.nextKeySearchLocked(child, append(append([]byte{}, fullPath...), target), rest[1:], branchNodesOK)
		if err != nil {
			return nil, false, err
		}
		if ok2 {
			best, found = cand, true
		}
	}

	if nibble, child, ok, err := db.getSmallestChildGreaterLocked(nodeHash, target); err != nil {
		return nil, false, err
	} else if ok {
		cand, ok2, err := db.smallestKeyInSubtreeLocked(child, append(append([]byte{}, fullPath...), nibble), branchNodesOK)
		if err != nil {
			return nil, false, err
		}
		if ok2 && (!found || bytes.Compare(cand, best) < 0) {
			best, found = cand, true
		}
	}

	return best, found, nil
}

func (db *Database) smallestKeyInSubtreeLocked(nodeHash []byte, path []byte, branchNodesOK bool) ([]byte, bool, error) {
	partialKey, err := db.getPartialKeyLocked(nodeHash)
	if err != nil {
		return nil, false, err
	}
	fullPath := append(append([]byte{}, path...), partialKey...)
	acceptable, err := db.nodeAcceptableLocked(nodeHash, branchNodesOK)
	if err != nil {
		return nil, false, err
	}
	if acceptable {
		return fullPath, true, nil
	}
	return db.smallestChildLocked(nodeHash, fullPath, branchNodesOK)
}

func (db *Database) smallestChildLocked(nodeHash []byte, fullPath []byte, branchNodesOK bool) ([]byte, bool, error) {
	children, err := db.getChildrenSortedLocked(nodeHash)
	if err != nil {
		return nil, false, err
	}
	for _, c := range children {
		cand, ok, err := db.smallestKeyInSubtreeLocked(c.hash, append(append([]byte{}, fullPath...), c.nibble), branchNodesOK)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return cand, true, nil
		}
	}
	ref, hasRef, err := db.getTrieRootRefLocked(nodeHash)
	if err != nil {
		return nil, false, err
	}
	if hasRef {
		return db.smallestKeyInSubtreeLocked(ref, append(append([]byte{}, fullPath...), childTrieSentinel), branchNodesOK)
	}
	return nil, false, nil
}

// BlockStorageClosestDescendantMerkleValue is the closest-descendant search
// of spec.md §4.4.
func (db *Database) BlockStorageClosestDescendantMerkleValue(blockHash [32]byte, parentTries [][]byte, key []byte) ([]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()

	root, ok, err := db.stateRootLocked(blockHash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		var exists int
		err := db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, blockHash[:]).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrUnknownBlock
		}
		return nil, false, nil
	}

	searchKey := concatNibblePath(parentTries, key)
	return db.closestDescendantLocked(root, searchKey)
}

func (db *Database) closestDescendantLocked(nodeHash []byte, remaining []byte) ([]byte, bool, error) {
	if len(remaining) == 0 {
		// The search key is fully consumed at this node's edge: it is the
		// closest descendant even if it is itself absent from trie_node
		// (the Merkle value is known from the parent's child edge), so
		// this must not fetch the partial key before returning.
		return nodeHash, true, nil
	}

	partialKey, err := db.getPartialKeyLocked(nodeHash)
	if err != nil {
		return nil, false, err
	}

	switch {
	case bytes.HasPrefix(remaining, partialKey):
		remaining = remaining[len(partialKey):]
		if len(remaining) == 0 {
			return nodeHash, true, nil
		}
		if remaining[0] == childTrieSentinel {
			ref, hasRef, err := db.getTrieRootRefLocked(nodeHash)
			if err != nil || !hasRef {
				return nil, false, err
			}
			return db.closestDescendantLocked(ref, remaining[1:])
		}
		child, hasChild, err := db.getChildLocked(nodeHash, remaining[0])
		if err != nil || !hasChild {
			return nil, false, err
		}
		return db.closestDescendantLocked(child, remaining[1:])
	case bytes.HasPrefix(partialKey, remaining):
		// remaining is fully consumed inside this node's partial key: this
		// node is the closest descendant, even if it is itself absent
		// (its Merkle value is known from the parent's child edge).
		return nodeHash, true, nil
	default:
		return nil, false, nil
	}
}
