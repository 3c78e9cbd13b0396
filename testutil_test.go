package chaindb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ukint-vs/chaindb"
	"github.com/ukint-vs/chaindb/internal/consensus"
	"github.com/ukint-vs/chaindb/internal/header"
)

func buildHeader(t *testing.T, parent [32]byte, number uint64, salt byte, digest ...header.DigestItem) []byte {
	t.Helper()
	h := &header.Header{
		ParentHash: parent,
		Number:     number,
		Digest:     digest,
	}
	h.StateRoot[0] = salt
	h.ExtrinsicsRoot[0] = salt
	return header.Encode(h)
}

func headerHash(t *testing.T, blob []byte) [32]byte {
	t.Helper()
	return header.Hash(blob)
}

func openEmpty(t *testing.T) *chaindb.Empty {
	t.Helper()
	opened, err := chaindb.Open(chaindb.Config{InMemory: true})
	require.NoError(t, err)
	require.NotNil(t, opened.Empty)
	return opened.Empty
}

func genesisDatabase(t *testing.T) (*chaindb.Database, [32]byte, []byte) {
	t.Helper()
	empty := openEmpty(t)
	genesisBlob := buildHeader(t, [32]byte{}, 0, 0xA0)
	info := consensus.ChainInformation{FinalizedBlockHeader: genesisBlob}
	db, err := empty.Initialize(info, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, headerHash(t, genesisBlob), genesisBlob
}
