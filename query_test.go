package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
	"github.com/ukint-vs/chaindb/internal/header"
)

// S6: a single-node trie answers point lookups and next-key search.
func TestBlockStorageSingleNodeTrie(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	root := [32]byte{0x5A}
	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{
			Hash:       root[:],
			PartialKey: []byte{0xa, 0xb},
			Value:      chaindb.TrieStorageValue{Present: true, Bytes: []byte("V")},
		},
	}, 1))

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: root}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)

	value, version, present, err := db.BlockStorageGet(h0Hash, nil, []byte{0xa, 0xb})
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("V"), value)
	require.Equal(t, byte(1), version)

	_, _, present, err = db.BlockStorageGet(h0Hash, nil, []byte{0xa, 0xc})
	require.NoError(t, err)
	require.False(t, present)

	next, found, err := db.BlockStorageNextKey(h0Hash, nil, nil, nil, true)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0xa, 0xb}, next)
}

// Testable property 6: point-lookup correctness against a known key-value
// map, exercised over a branch node with two leaf children.
func TestBlockStoragePointLookupAgainstKnownMap(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	rootHash := [32]byte{0xAA}
	child1 := []byte{0xBB}
	child2 := []byte{0xCC}

	want := map[string][]byte{
		string([]byte{1, 3, 4}): []byte("v1"),
		string([]byte{2, 5, 6}): []byte("v2"),
	}

	var children [16][]byte
	children[1] = child1
	children[2] = child2

	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{Hash: rootHash[:], Children: children},
		{Hash: child1, PartialKey: []byte{3, 4}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("v1")}},
		{Hash: child2, PartialKey: []byte{5, 6}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("v2")}},
	}, 1))

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: rootHash}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)

	for keyStr, wantValue := range want {
		value, _, present, err := db.BlockStorageGet(h0Hash, nil, []byte(keyStr))
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, wantValue, value)
	}

	_, _, present, err := db.BlockStorageGet(h0Hash, nil, []byte{1, 3, 5})
	require.NoError(t, err)
	require.False(t, present)
}

// BlockStorageClosestDescendantMerkleValue against an existing leaf: the key
// lands exactly on a present node.
func TestBlockStorageClosestDescendantMerkleValueExactNode(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	rootHash := [32]byte{0x11}
	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{Hash: rootHash[:], PartialKey: []byte{7, 8}, Value: chaindb.TrieStorageValue{Present: true, Bytes: []byte("leaf")}},
	}, 1))

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: rootHash}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)

	merkle, found, err := db.BlockStorageClosestDescendantMerkleValue(h0Hash, nil, []byte{7, 8})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rootHash[:], merkle)
}

// BlockStorageClosestDescendantMerkleValue must answer from a child edge
// alone, without requiring the referenced node itself to be present in
// trie_node: a referenced descendant that is absent is exactly this case.
func TestBlockStorageClosestDescendantMerkleValuePrunedNode(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	rootHash := [32]byte{0x22}
	prunedChild := []byte{0x23}

	var children [16][]byte
	children[5] = prunedChild
	require.NoError(t, db.InsertTrieNodes([]chaindb.TrieNodeInsert{
		{Hash: rootHash[:], Children: children},
	}, 1))
	// prunedChild is deliberately never inserted into trie_node: it names a
	// node reachable only through the parent's child edge, as in a state trie
	// that is only partly present.

	h0 := &header.Header{ParentHash: genesisHash, Number: 1, StateRoot: rootHash}
	h0Hash, err := db.Insert(header.Encode(h0), true, nil)
	require.NoError(t, err)

	merkle, found, err := db.BlockStorageClosestDescendantMerkleValue(h0Hash, nil, []byte{5})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, prunedChild, merkle)
}
