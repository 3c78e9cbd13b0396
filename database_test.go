package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S1: open empty, initialize with genesis header, best and finalized both
// name the genesis block.
func TestInitializeGenesis(t *testing.T) {
	db, genesisHash, _ := genesisDatabase(t)

	best, err := db.BestBlockHash()
	require.NoError(t, err)
	require.Equal(t, genesisHash, best)

	finalized, err := db.FinalizedBlockHash()
	require.NoError(t, err)
	require.Equal(t, genesisHash, finalized)
}
