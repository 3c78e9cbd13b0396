package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
	"github.com/ukint-vs/chaindb/internal/header"
)

// S4: after finalizing H1 and purging, the non-canonical sibling H1b is
// gone and only H1 remains at height 1.
func TestPurgeFinalityOrphansRemovesStaleSiblings(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	h1 := buildHeader(t, genesisHash, 1, 0x30)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)

	h1b := buildHeader(t, genesisHash, 1, 0x31)
	h1bHash, err := db.Insert(h1b, false, nil)
	require.NoError(t, err)

	h2 := buildHeader(t, h1Hash, 2, 0x32)
	_, err = db.Insert(h2, true, nil)
	require.NoError(t, err)

	require.NoError(t, db.SetFinalized(h1Hash))
	require.NoError(t, db.PurgeFinalityOrphans())

	hashesAt1, err := db.BlockHashByNumber(1)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{h1Hash}, hashesAt1)

	_, ok, err := db.BlockScaleEncodedHeader(h1bHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func headerWithStateRoot(t *testing.T, parent [32]byte, number uint64, root [32]byte) []byte {
	t.Helper()
	h := &header.Header{ParentHash: parent, Number: number, StateRoot: root}
	return header.Encode(h)
}

// A trie node exclusively referenced by a purged block's state root is
// reclaimed by the pruner; a node still reachable from a surviving block's
// state is not.
func TestPurgeFinalityOrphansReclaimsExclusiveTrieNodes(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	survivingRoot := [32]byte{0x01}
	orphanedRoot := [32]byte{0x02}

	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{Hash: survivingRoot[:], PartialKey: []byte{1, 2}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("kept")}},
		{Hash: orphanedRoot[:], PartialKey: []byte{3, 4}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("gone")}},
	}, 1))

	h1 := headerWithStateRoot(t, genesisHash, 1, survivingRoot)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)

	h1b := headerWithStateRoot(t, genesisHash, 1, orphanedRoot)
	_, err = db.Insert(h1b, false, nil)
	require.NoError(t, err)

	require.NoError(t, db.SetFinalized(h1Hash))
	require.NoError(t, db.PurgeFinalityOrphans())

	value, version, present, err := db.BlockStorageGet(h1Hash, nil, []byte{1, 2})
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("kept"), value)
	require.Equal(t, byte(1), version)

	missing, err := db.FinalizedAndAboveMissingTrieNodesUnordered()
	require.NoError(t, err)
	require.Empty(t, missing)

	// The orphaned root is gone: a new block naming it as its state root
	// sees it reported missing.
	h2 := headerWithStateRoot(t, h1Hash, 2, orphanedRoot)
	h2Hash, err := db.Insert(h2, true, nil)
	require.NoError(t, err)
	missing, err = db.FinalizedAndAboveMissingTrieNodesUnordered()
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, orphanedRoot[:], missing[0].Hash)
	require.Equal(t, h2Hash, missing[0].Blocks[0].BlockHash)
}
