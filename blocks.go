package chaindb

import (
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/ukint-vs/chaindb/internal/consensus"
	"github.com/ukint-vs/chaindb/internal/header"
)

func scanHash(b []byte) ([32]byte, error) {
	var h [32]byte
	if len(b) != 32 {
		return h, corruptf(InvalidBlockHashLen, "stored hash has length %d, want 32", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Insert decodes headerBlob, hashes it, and records a new block with the
// given body, per spec.md §4.2. Callers must drain body into a slice before
// calling (spec.md §5's iterator-borne-deadlock contract); that is already
// this signature's shape.
func (db *Database) Insert(headerBlob []byte, isNewBest bool, body [][]byte) (result [32]byte, err error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	defer func() {
		if err != nil {
			_ = db.sdb.Rollback()
		}
	}()

	var zero [32]byte

	h, err := header.Decode(headerBlob)
	if err != nil {
		return zero, ErrBadHeader
	}
	hash := header.Hash(headerBlob)

	var exists int
	err = db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, hash[:]).Scan(&exists)
	switch {
	case err == nil:
		return zero, ErrDuplicate
	case errors.Is(err, sql.ErrNoRows):
	default:
		return zero, corrupt(InternalStoreError, err)
	}

	err = db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, h.ParentHash[:]).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, ErrMissingParent
	case err != nil:
		return zero, corrupt(InternalStoreError, err)
	}

	if isNewBest {
		finalizedNum, err := db.finalizedNumberLocked()
		if err != nil {
			return zero, err
		}
		if h.Number <= finalizedNum {
			return zero, ErrBestNotInFinalizedChain
		}
		if err := db.ensureDescendsFromFinalizedLocked(h.ParentHash, h.Number-1); err != nil {
			return zero, err
		}
	}

	if _, err := db.sdb.Tx().Exec(
		`INSERT INTO blocks (hash, parent_hash, state_trie_root_hash, number, header, is_best_chain, justification)
		 VALUES (?, ?, ?, ?, ?, 0, NULL)`,
		hash[:], h.ParentHash[:], h.StateRoot[:], int64(h.Number), headerBlob,
	); err != nil {
		return zero, corrupt(InternalStoreError, err)
	}

	for idx, extrinsic := range body {
		if _, err := db.sdb.Tx().Exec(
			`INSERT INTO blocks_body (hash, idx, extrinsic) VALUES (?, ?, ?)`,
			hash[:], idx, extrinsic,
		); err != nil {
			return zero, corrupt(InternalStoreError, err)
		}
	}

	if isNewBest {
		if err := db.reassignBestChainLocked(hash); err != nil {
			return zero, err
		}
	}

	if err := db.sdb.Commit(); err != nil {
		return zero, errors.Wrap(err, "chaindb: commit insert")
	}
	return hash, nil
}

// ensureDescendsFromFinalizedLocked walks up from (parentHash, parentNumber)
// to the height of the currently finalized block and checks the ancestor
// found there is in fact the finalized block. The original implementation
// only compares block numbers (see SPEC_FULL.md / DESIGN.md for why that is
// not enough to satisfy this package's documented BestNotInFinalizedChain
// scenario); this walk is the stronger check this rewrite performs instead.
func (db *Database) ensureDescendsFromFinalizedLocked(fromHash [32]byte, fromNumber uint64) error {
	finalizedHash, err := db.finalizedBlockHashLocked()
	if err != nil {
		return err
	}
	finalizedNum, err := db.finalizedNumberLocked()
	if err != nil {
		return err
	}

	cursor := fromHash
	cursorNum := fromNumber
	for cursorNum > finalizedNum {
		parent, err := db.parentLocked(cursor)
		if err != nil {
			return err
		}
		if parent == nil {
			return ErrBestNotInFinalizedChain
		}
		cursor = *parent
		cursorNum--
	}
	if cursor != finalizedHash {
		return ErrBestNotInFinalizedChain
	}
	return nil
}

// reassignBestChainLocked implements the best-chain reassignment protocol of
// spec.md §4.2: walk the current best (C) and the new best (N) upward in
// lockstep by height until the pointers meet, marking the N path best and
// unmarking the C path.
func (db *Database) reassignBestChainLocked(newBest [32]byte) error {
	currentBestBlob, err := db.sdb.GetBlob(metaKeyBest)
	if err != nil {
		return corrupt(MissingMetaKey, err)
	}
	currentBest, err := scanHash(currentBestBlob)
	if err != nil {
		return err
	}

	c, n := currentBest, newBest
	cn, err := db.blockNumberLocked(c)
	if err != nil {
		return err
	}
	nn, err := db.blockNumberLocked(n)
	if err != nil {
		return err
	}

	var oldPath, newPath [][32]byte
	for c != n {
		switch {
		case cn > nn:
			oldPath = append(oldPath, c)
			p, err := db.parentLocked(c)
			if err != nil {
				return err
			}
			if p == nil {
				return corrupt(BrokenChain, errors.New("reassignBestChain: old-best path ran out of ancestors"))
			}
			c, cn = *p, cn-1
		case nn > cn:
			newPath = append(newPath, n)
			p, err := db.parentLocked(n)
			if err != nil {
				return err
			}
			if p == nil {
				return corrupt(BrokenChain, errors.New("reassignBestChain: new-best path ran out of ancestors"))
			}
			n, nn = *p, nn-1
		default:
			oldPath = append(oldPath, c)
			newPath = append(newPath, n)
			pc, err := db.parentLocked(c)
			if err != nil {
				return err
			}
			pn, err := db.parentLocked(n)
			if err != nil {
				return err
			}
			if pc == nil || pn == nil {
				return corrupt(BrokenChain, errors.New("reassignBestChain: common ancestor search ran past genesis"))
			}
			c, cn = *pc, cn-1
			n, nn = *pn, nn-1
		}
	}

	for _, hash := range newPath {
		if _, err := db.sdb.Tx().Exec(`UPDATE blocks SET is_best_chain = 1 WHERE hash = ?`, hash[:]); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}
	for _, hash := range oldPath {
		if _, err := db.sdb.Tx().Exec(`UPDATE blocks SET is_best_chain = 0 WHERE hash = ?`, hash[:]); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}
	if err := db.sdb.SetBlob(metaKeyBest, newBest[:]); err != nil {
		return corrupt(InternalStoreError, err)
	}
	return nil
}

func (db *Database) parentLocked(hash [32]byte) (*[32]byte, error) {
	var parent []byte
	err := db.sdb.Tx().QueryRow(`SELECT parent_hash FROM blocks WHERE hash = ?`, hash[:]).Scan(&parent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, corruptf(BrokenChain, "parentLocked: block %x not found", hash)
	case err != nil:
		return nil, corrupt(InternalStoreError, err)
	case parent == nil:
		return nil, nil
	}
	p, err := scanHash(parent)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *Database) blockNumberLocked(hash [32]byte) (uint64, error) {
	var n int64
	err := db.sdb.Tx().QueryRow(`SELECT number FROM blocks WHERE hash = ?`, hash[:]).Scan(&n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, corruptf(BrokenChain, "blockNumberLocked: block %x not found", hash)
	case err != nil:
		return 0, corrupt(InternalStoreError, err)
	default:
		return uint64(n), nil
	}
}

func (db *Database) finalizedNumberLocked() (uint64, error) {
	n, err := db.sdb.GetNumber(metaKeyFinalized)
	if err != nil {
		return 0, corrupt(MissingMetaKey, err)
	}
	return uint64(n), nil
}

func (db *Database) finalizedBlockHashLocked() ([32]byte, error) {
	var zero [32]byte
	n, err := db.finalizedNumberLocked()
	if err != nil {
		return zero, err
	}
	var h []byte
	err = db.sdb.Tx().QueryRow(`SELECT hash FROM blocks WHERE number = ? AND is_best_chain = 1`, int64(n)).Scan(&h)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, corruptf(MissingBlockHeader, "no block at finalized number %d", n)
	case err != nil:
		return zero, corrupt(InternalStoreError, err)
	}
	return scanHash(h)
}

// BlockScaleEncodedHeader returns the raw header blob stored for hash.
func (db *Database) BlockScaleEncodedHeader(hash [32]byte) ([]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	var blob []byte
	err := db.sdb.Tx().QueryRow(`SELECT header FROM blocks WHERE hash = ?`, hash[:]).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, corrupt(InternalStoreError, err)
	}
	return blob, true, nil
}

// BlockParent returns hash's parent, or (zero, false, nil) for the root block.
func (db *Database) BlockParent(hash [32]byte) ([32]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	var zero [32]byte
	var parent []byte
	err := db.sdb.Tx().QueryRow(`SELECT parent_hash FROM blocks WHERE hash = ?`, hash[:]).Scan(&parent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, false, nil
	case err != nil:
		return zero, false, corrupt(InternalStoreError, err)
	case parent == nil:
		return zero, false, nil
	}
	p, err := scanHash(parent)
	if err != nil {
		return zero, false, err
	}
	return p, true, nil
}

// BlockExtrinsics returns hash's body in index order.
func (db *Database) BlockExtrinsics(hash [32]byte) ([][]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()

	var present int
	err := db.sdb.Tx().QueryRow(`SELECT 1 FROM blocks WHERE hash = ?`, hash[:]).Scan(&present)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, corrupt(InternalStoreError, err)
	}

	rows, err := db.sdb.Tx().Query(`SELECT extrinsic FROM blocks_body WHERE hash = ? ORDER BY idx ASC`, hash[:])
	if err != nil {
		return nil, false, corrupt(InternalStoreError, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var extrinsic []byte
		if err := rows.Scan(&extrinsic); err != nil {
			return nil, false, corrupt(InternalStoreError, err)
		}
		out = append(out, extrinsic)
	}
	if err := rows.Err(); err != nil {
		return nil, false, corrupt(InternalStoreError, err)
	}
	return out, true, nil
}

// BlockHashByNumber returns every block at number, in unspecified order.
func (db *Database) BlockHashByNumber(number uint64) ([][32]byte, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	rows, err := db.sdb.Tx().Query(`SELECT hash FROM blocks WHERE number = ?`, int64(number))
	if err != nil {
		return nil, corrupt(InternalStoreError, err)
	}
	defer rows.Close()
	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, corrupt(InternalStoreError, err)
		}
		h, err := scanHash(b)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "chaindb: BlockHashByNumber")
}

// BestBlockHashByNumber returns the best-chain block at number, if any.
func (db *Database) BestBlockHashByNumber(number uint64) ([32]byte, bool, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	var zero [32]byte
	var b []byte
	err := db.sdb.Tx().QueryRow(
		`SELECT hash FROM blocks WHERE number = ? AND is_best_chain = 1`, int64(number),
	).Scan(&b)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, false, nil
	case err != nil:
		return zero, false, corrupt(InternalStoreError, err)
	}
	h, err := scanHash(b)
	return h, err == nil, err
}

// BestBlockHash returns the current best block.
func (db *Database) BestBlockHash() ([32]byte, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	blob, err := db.sdb.GetBlob(metaKeyBest)
	if err != nil {
		return [32]byte{}, corrupt(MissingMetaKey, err)
	}
	return scanHash(blob)
}

// FinalizedBlockHash returns the best-chain block at the finalized height.
// Stale siblings at that height stay in the store until PurgeFinalityOrphans
// runs and are not considered.
func (db *Database) FinalizedBlockHash() ([32]byte, error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	return db.finalizedBlockHashLocked()
}

// Reset installs a single block as both best and finalized, discarding
// whatever was there, per spec.md §4.2.
func (db *Database) Reset(info consensus.ChainInformation, body [][]byte, justification []byte) (err error) {
	db.sdb.Lock()
	defer db.sdb.Unlock()
	defer func() {
		if err != nil {
			_ = db.sdb.Rollback()
		}
	}()

	if err = db.resetLocked(info, body, justification); err != nil {
		return err
	}
	return errors.Wrap(db.sdb.Commit(), "chaindb: commit reset")
}

func (db *Database) resetLocked(info consensus.ChainInformation, body [][]byte, justification []byte) error {
	h, err := header.Decode(info.FinalizedBlockHeader)
	if err != nil {
		return corrupt(InvalidChainInformation, errors.Wrap(err, "reset: decode header"))
	}
	hash := header.Hash(info.FinalizedBlockHeader)

	return db.sdb.WithoutForeignKeys(func() error {
		if _, err := db.sdb.Tx().Exec(`DELETE FROM blocks_body`); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM blocks`); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node_storage`); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node_child`); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if _, err := db.sdb.Tx().Exec(`DELETE FROM trie_node`); err != nil {
			return corrupt(InternalStoreError, err)
		}

		var parentHash interface{}
		if h.Number != 0 {
			parentHash = h.ParentHash[:]
		}
		if _, err := db.sdb.Tx().Exec(
			`INSERT INTO blocks (hash, parent_hash, state_trie_root_hash, number, header, is_best_chain, justification)
			 VALUES (?, ?, ?, ?, ?, 1, ?)`,
			hash[:], parentHash, h.StateRoot[:], int64(h.Number), info.FinalizedBlockHeader, justification,
		); err != nil {
			return corrupt(InternalStoreError, err)
		}
		for idx, extrinsic := range body {
			if _, err := db.sdb.Tx().Exec(
				`INSERT INTO blocks_body (hash, idx, extrinsic) VALUES (?, ?, ?)`, hash[:], idx, extrinsic,
			); err != nil {
				return corrupt(InternalStoreError, err)
			}
		}

		if err := db.sdb.SetBlob(metaKeyBest, hash[:]); err != nil {
			return corrupt(InternalStoreError, err)
		}
		if err := db.sdb.SetNumber(metaKeyFinalized, int64(h.Number)); err != nil {
			return corrupt(InternalStoreError, err)
		}

		return db.writeConsensusInformationLocked(info)
	})
}

// writeConsensusInformationLocked rewrites the consensus meta keys and
// side-tables from info, per spec.md §4.2's reset() contract.
func (db *Database) writeConsensusInformationLocked(info consensus.ChainInformation) error {
	if _, err := db.sdb.Tx().Exec(`DELETE FROM grandpa_triggered_authorities`); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if _, err := db.sdb.Tx().Exec(`DELETE FROM grandpa_scheduled_authorities`); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if _, err := db.sdb.Tx().Exec(`DELETE FROM aura_finalized_authorities`); err != nil {
		return corrupt(InternalStoreError, err)
	}

	for idx, a := range info.GrandpaTriggeredAuthorities {
		if _, err := db.sdb.Tx().Exec(
			`INSERT INTO grandpa_triggered_authorities (idx, public_key, weight) VALUES (?, ?, ?)`,
			idx, a.PublicKey[:], int64(a.Weight),
		); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}
	for idx, a := range info.GrandpaScheduledAuthorities {
		if _, err := db.sdb.Tx().Exec(
			`INSERT INTO grandpa_scheduled_authorities (idx, public_key, weight) VALUES (?, ?, ?)`,
			idx, a.PublicKey[:], int64(a.Weight),
		); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}
	for idx, a := range info.AuraAuthorities {
		if _, err := db.sdb.Tx().Exec(
			`INSERT INTO aura_finalized_authorities (idx, public_key) VALUES (?, ?)`, idx, a.PublicKey[:],
		); err != nil {
			return corrupt(InternalStoreError, err)
		}
	}

	if err := db.sdb.SetNumber(metaKeyGrandpaSetID, int64(info.GrandpaAuthoritiesSetID)); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if info.GrandpaScheduledTarget != nil {
		if err := db.sdb.SetNumber(metaKeyGrandpaScheduledTarget, int64(*info.GrandpaScheduledTarget)); err != nil {
			return corrupt(InternalStoreError, err)
		}
	} else if err := db.sdb.Clear(metaKeyGrandpaScheduledTarget); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if err := db.sdb.SetNumber(metaKeyAuraSlotDuration, int64(info.AuraSlotDuration)); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if err := db.sdb.SetNumber(metaKeyBabeSlotsPerEpoch, int64(info.BabeSlotsPerEpoch)); err != nil {
		return corrupt(InternalStoreError, err)
	}

	if info.BabeFinalizedEpoch != nil {
		if err := db.sdb.SetBlob(metaKeyBabeFinalizedEpoch, consensus.EncodeBabeEpochInformation(info.BabeFinalizedEpoch)); err != nil {
			return corrupt(InternalStoreError, err)
		}
	} else if err := db.sdb.Clear(metaKeyBabeFinalizedEpoch); err != nil {
		return corrupt(InternalStoreError, err)
	}
	if info.BabeFinalizedNextEpoch != nil {
		if err := db.sdb.SetBlob(metaKeyBabeFinalizedNextEpoch, consensus.EncodeBabeEpochInformation(info.BabeFinalizedNextEpoch)); err != nil {
			return corrupt(InternalStoreError, err)
		}
	} else if err := db.sdb.Clear(metaKeyBabeFinalizedNextEpoch); err != nil {
		return corrupt(InternalStoreError, err)
	}
	return nil
}
