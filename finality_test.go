package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
)

func TestSetFinalizedUnknownBlockFails(t *testing.T) {
	db, _, _ := genesisDatabase(t)
	err := db.SetFinalized([32]byte{0xAA})
	require.ErrorIs(t, err, chaindb.ErrUnknownBlock)
}

// Testable property 3: finality only moves forward.
func TestSetFinalizedRevertForbidden(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)
	h1 := buildHeader(t, genesisHash, 1, 0x10)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)
	require.NoError(t, db.SetFinalized(h1Hash))

	err = db.SetFinalized(genesisHash)
	require.ErrorIs(t, err, chaindb.ErrRevertForbidden)
}

func TestSetFinalizedSameBlockIsNoop(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)
	require.NoError(t, db.SetFinalized(genesisHash))
	finalized, err := db.FinalizedBlockHash()
	require.NoError(t, err)
	require.Equal(t, genesisHash, finalized)
}

func TestSetFinalizedAdvancesThroughIntermediateHeights(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)
	h1 := buildHeader(t, genesisHash, 1, 0x20)
	h1Hash, err := db.Insert(h1, true, nil)
	require.NoError(t, err)
	h2 := buildHeader(t, h1Hash, 2, 0x21)
	h2Hash, err := db.Insert(h2, true, nil)
	require.NoError(t, err)

	require.NoError(t, db.SetFinalized(h2Hash))
	finalized, err := db.FinalizedBlockHash()
	require.NoError(t, err)
	require.Equal(t, h2Hash, finalized)
}
