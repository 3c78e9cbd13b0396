package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
)

// Testable property 1: round-trip blocks.
func TestInsertRoundTripsHeaderAndBody(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	body := [][]byte{[]byte("extrinsic-0"), []byte("extrinsic-1")}
	blob := buildHeader(t, genesisHash, 1, 0xB1)
	hash, err := db.Insert(blob, false, body)
	require.NoError(t, err)

	got, ok, err := db.BlockScaleEncodedHeader(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blob, got)

	extrinsics, ok, err := db.BlockExtrinsics(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, body, extrinsics)
}

func TestInsertDuplicateFails(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)
	blob := buildHeader(t, genesisHash, 1, 0xB2)
	_, err := db.Insert(blob, false, nil)
	require.NoError(t, err)
	_, err = db.Insert(blob, false, nil)
	require.ErrorIs(t, err, chaindb.ErrDuplicate)
}

func TestInsertMissingParentFails(t *testing.T) {
	db, _, _ := genesisDatabase(t)
	orphanParent := [32]byte{0xFF}
	blob := buildHeader(t, orphanParent, 5, 0xB3)
	_, err := db.Insert(blob, false, nil)
	require.ErrorIs(t, err, chaindb.ErrMissingParent)
}

// S2: insert H1 (parent H0, number 1) as new best.
func TestInsertNewBestBecomesBestAtItsNumber(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)
	h1 := buildHeader(t, genesisHash, 1, 0xC1)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)

	best, ok, err := db.BestBlockHashByNumber(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h1Hash, best)
}

// S3 + testable property 2: a non-best sibling stays non-best while the
// extended chain through the real best block is marked best end-to-end.
func TestBestChainReassignmentAcrossSiblings(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	h1 := buildHeader(t, genesisHash, 1, 0xD1)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)

	h1b := buildHeader(t, genesisHash, 1, 0xD2)
	h1bHash, err := db.Insert(h1b, false, nil)
	require.NoError(t, err)

	h2 := buildHeader(t, h1Hash, 2, 0xD3)
	h2Hash, err := db.Insert(h2, true, nil)
	require.NoError(t, err)

	best, err := db.BestBlockHash()
	require.NoError(t, err)
	require.Equal(t, h2Hash, best)

	bestAt1, ok, err := db.BestBlockHashByNumber(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h1Hash, bestAt1)

	_, ok, err = db.BestBlockHashByNumber(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, h1bHash, bestAt1)
}

// S5: a competing chain that does not descend from the finalized block is
// rejected even though its number exceeds the finalized number.
func TestInsertRejectsBestNotDescendingFromFinalized(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	h1 := buildHeader(t, genesisHash, 1, 0xE1)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)

	h1b := buildHeader(t, genesisHash, 1, 0xE2)
	_, err = db.Insert(h1b, false, nil)
	require.NoError(t, err)

	h2 := buildHeader(t, h1Hash, 2, 0xE3)
	_, err = db.Insert(h2, true, nil)
	require.NoError(t, err)

	require.NoError(t, db.SetFinalized(h1Hash))

	h1bHashes, err := db.BlockHashByNumber(1)
	require.NoError(t, err)
	require.Len(t, h1bHashes, 2)

	var h1b32 [32]byte
	for _, h := range h1bHashes {
		if h != h1Hash {
			h1b32 = h
		}
	}
	h2prime := buildHeader(t, h1b32, 2, 0xE4)
	_, err = db.Insert(h2prime, true, nil)
	require.ErrorIs(t, err, chaindb.ErrBestNotInFinalizedChain)
}
