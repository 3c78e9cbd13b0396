package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
	"github.com/ukint-vs/chaindb/internal/header"
)

// Testable property 4: trie idempotence. Inserting the same batch twice
// leaves storage unchanged.
func TestInsertTrieNodesIsIdempotent(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	root := [32]byte{0x7E}
	batch := []chaindb.TrieNodeInsert{
		{Hash: root[:], PartialKey: []byte{1, 2}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("once")}},
	}
	require.NoError(t, db.InsertTrieNodes(batch, 1))
	require.NoError(t, db.InsertTrieNodes(batch, 1))

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: root}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)

	value, version, present, err := db.BlockStorageGet(h0Hash, nil, []byte{1, 2})
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("once"), value)
	require.Equal(t, byte(1), version)
}

// Testable property 5: missing-node soundness. A hash reachable from a live
// block's state but absent from trie_node is reported exactly once, naming
// the referencing block. The block is finalized first so that genesis, whose
// state root is absent as well, falls below the finalized height.
func TestFinalizedAndAboveMissingTrieNodesUnorderedReportsGap(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	root := [32]byte{0x9D}
	missingChild := []byte{0x9E}

	var children [16][]byte
	children[0] = missingChild
	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{Hash: root[:], Children: children},
	}, 1))

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: root}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)
	require.NoError(t, db.SetFinalized(h0Hash))

	missing, err := db.FinalizedAndAboveMissingTrieNodesUnordered()
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, missingChild, missing[0].Hash)
	require.Len(t, missing[0].Blocks, 1)
	require.Equal(t, h0Hash, missing[0].Blocks[0].BlockHash)
	require.Equal(t, uint64(1), missing[0].Blocks[0].BlockNumber)
}
