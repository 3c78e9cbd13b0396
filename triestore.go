package chaindb

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// TrieNodeInsert is one item of the batch accepted by InsertTrieNodes
// (spec.md §4.3). Children holds up to 16 entries; a nil entry means no
// child at that nibble.
type TrieNodeInsert struct {
	Hash       []byte // Merkle value, ≤32 bytes
	PartialKey []byte // nibbles, each < 16
	Children   [16][]byte
	Value      TrieStorageValue
}

// TrieStorageValue is the storage-value union of spec.md §3: NoValue, an
// inline blob, or a reference to the root of a nested (child) trie.
type TrieStorageValue struct {
	Present       bool
	Bytes         []byte // inline value, when Present && !IsTrieRootRef
	TrieRootRef   []byte // nested-trie root Merkle value, when Present && IsTrieRootRef
	IsTrieRootRef bool
}

// InsertTrieNodes bulk-inserts nodes with ignore-on-conflict semantics: a
// node already present is left untouched (spec.md §4.3, testable property
// 4 "trie idempotence"). version is the trie entry version stamped on every
// storage-value row in this batch.
func (db *Database) InsertTrieNodes(nodes []TrieNodeInsert, version byte) (err error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	defer func() {
		if err != nil {
			_ = db.sdb.Rollback()
		}
	}()

	for _, node := range nodes {
		validateNibbles(node.PartialKey)
		if len(node.Hash) == 0 || len(node.Hash) > 32 {
			return corruptf(InvalidTrieHashLen, "trie node hash has length %d", len(node.Hash))
		}

		if _, err := db.sdb.Tx().Exec(
			`INSERT OR IGNORE INTO trie_node (hash, partial_key) VALUES (?, ?)`,
			node.Hash, node.PartialKey,
		); err != nil {
			return corrupt(InternalStoreError, err)
		}

		var value, trieRootRef interface{}
		if node.Value.Present {
			if node.Value.IsTrieRootRef {
				trieRootRef = node.Value.TrieRootRef
			} else {
				value = node.Value.Bytes
			}
		}
		if _, err := db.sdb.Tx().Exec(
			`INSERT OR IGNORE INTO trie_node_storage (node_hash, value, trie_root_ref, trie_entry_version)
			 VALUES (?, ?, ?, ?)`,
			node.Hash, value, trieRootRef, int(version),
		); err != nil {
			return corrupt(InternalStoreError, err)
		}

		for nibble, child := range node.Children {
			if child == nil {
				continue
			}
			if _, err := db.sdb.Tx().Exec(
				`INSERT OR IGNORE INTO trie_node_child (hash, child_num, child_hash) VALUES (?, ?, ?)`,
				node.Hash, []byte{byte(nibble)}, child,
			); err != nil {
				return corrupt(InternalStoreError, err)
			}
		}
	}

	return errors.Wrap(db.sdb.Commit(), "chaindb: commit InsertTrieNodes")
}

// MissingTrieNodeBlock names one block whose state references a missing
// trie node, and the path used to reach it.
type MissingTrieNodeBlock struct {
	BlockHash            [32]byte
	BlockNumber          uint64
	ParentTriesPathsNibbles [][]byte
	TrieNodeKeyNibbles   []byte
}

// MissingTrieNode groups the blocks referencing a single absent trie node
// (spec.md §4.3).
type MissingTrieNode struct {
	Hash   []byte
	Blocks []MissingTrieNodeBlock
}

// FinalizedAndAboveMissingTrieNodesUnordered walks the state trie of every
// block at or above the finalized height and reports nodes its edges
// reference that are absent from trie_node. The recursion lives in Go code
// rather than in a single SQL statement, per spec.md §9's explicit license.
func (db *Database) FinalizedAndAboveMissingTrieNodesUnordered() ([]MissingTrieNode, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()

	finalizedNum, err := db.finalizedNumberLocked()
	if err != nil {
		return nil, err
	}

	rows, err := db.sdb.Tx().Query(
		`SELECT hash, number, state_trie_root_hash FROM blocks WHERE number >= ?`, int64(finalizedNum))
	if err != nil {
		return nil, corrupt(InternalStoreError, err)
	}
	type blockRoot struct {
		hash   [32]byte
		number uint64
		root   []byte
	}
	var blocks []blockRoot
	for rows.Next() {
		var h []byte
		var n int64
		var root []byte
		if err := rows.Scan(&h, &n, &root); err != nil {
			rows.Close()
			return nil, corrupt(InternalStoreError, err)
		}
		hash, err := scanHash(h)
		if err != nil {
			rows.Close()
			return nil, err
		}
		blocks = append(blocks, blockRoot{hash: hash, number: uint64(n), root: root})
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, corrupt(InternalStoreError, rowsErr)
	}

	missing := map[string]*MissingTrieNode{}
	for _, b := range blocks {
		if b.root == nil {
			continue
		}
		visited := map[string]bool{}
		if err := db.collectMissingLocked(b.root, nil, nil, b.hash, b.number, visited, missing); err != nil {
			return nil, err
		}
	}

	out := make([]MissingTrieNode, 0, len(missing))
	for _, m := range missing {
		out = append(out, *m)
	}
	return out, nil
}

func (db *Database) collectMissingLocked(
	hash []byte, parentTries [][]byte, pathInTrie []byte,
	blockHash [32]byte, blockNumber uint64,
	visited map[string]bool, missing map[string]*MissingTrieNode,
) error {
	key := string(hash)
	if visited[key] {
		return nil
	}
	visited[key] = true

	var partialKey []byte
	err := db.sdb.Tx().QueryRow(`SELECT partial_key FROM trie_node WHERE hash = ?`, hash).Scan(&partialKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		recordMissing(missing, hash, blockHash, blockNumber, parentTries, pathInTrie)
		return nil
	case err != nil:
		return corrupt(InternalStoreError, err)
	}

	fullPath := append(append([]byte{}, pathInTrie...), partialKey...)

	var trieRootRef []byte
	err = db.sdb.Tx().QueryRow(`SELECT trie_root_ref FROM trie_node_storage WHERE node_hash = ?`, hash).Scan(&trieRootRef)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return corrupt(InternalStoreError, err)
	}
	if trieRootRef != nil {
		newParentTries := append(append([][]byte{}, parentTries...), fullPath)
		if err := db.collectMissingLocked(trieRootRef, newParentTries, nil, blockHash, blockNumber, visited, missing); err != nil {
			return err
		}
	}

	rows, err := db.sdb.Tx().Query(`SELECT child_num, child_hash FROM trie_node_child WHERE hash = ?`, hash)
	if err != nil {
		return corrupt(InternalStoreError, err)
	}
	type childEdge struct {
		nibble byte
		hash   []byte
	}
	var children []childEdge
	for rows.Next() {
		var num, childHash []byte
		if err := rows.Scan(&num, &childHash); err != nil {
			rows.Close()
			return corrupt(InternalStoreError, err)
		}
		if len(num) != 1 {
			rows.Close()
			return corruptf(InternalStoreError, "trie_node_child.child_num has length %d", len(num))
		}
		children = append(children, childEdge{nibble: num[0], hash: childHash})
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return corrupt(InternalStoreError, rowsErr)
	}

	for _, c := range children {
		childPath := append(append([]byte{}, fullPath...), c.nibble)
		if err := db.collectMissingLocked(c.hash, parentTries, childPath, blockHash, blockNumber, visited, missing); err != nil {
			return err
		}
	}
	return nil
}

func recordMissing(missing map[string]*MissingTrieNode, hash []byte, blockHash [32]byte, blockNumber uint64, parentTries [][]byte, pathInTrie []byte) {
	key := string(hash)
	m, ok := missing[key]
	if !ok {
		m = &MissingTrieNode{Hash: append([]byte{}, hash...)}
		missing[key] = m
	}
	m.Blocks = append(m.Blocks, MissingTrieNodeBlock{
		BlockHash:               blockHash,
		BlockNumber:             blockNumber,
		ParentTriesPathsNibbles: parentTries,
		TrieNodeKeyNibbles:      pathInTrie,
	})
}
