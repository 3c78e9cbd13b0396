// Package consensus holds the wire structs chaindb round-trips: BABE epoch
// metadata, GRANDPA authority sets, and Aura parameters (spec.md §3
// "Consensus side-tables", §6 "BABE epoch information encoding"). Decoding
// checks the wire format, including the allowed_slots range; no other
// consensus rule is checked.
package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/ukint-vs/chaindb/internal/header"
)

// AllowedSlots mirrors BABE's slot-claiming policy enum.
type AllowedSlots byte

const (
	PrimarySlots AllowedSlots = iota
	PrimaryAndSecondaryPlain
	PrimaryAndSecondaryVrf
)

func (a AllowedSlots) Valid() bool { return a <= PrimaryAndSecondaryVrf }

// Authority is the (public key, weight) pair shared by BABE and GRANDPA
// authority lists.
type Authority struct {
	PublicKey [32]byte
	Weight    uint64
}

// AuraAuthority has no weight; Aura authorities take turns strictly in
// list order.
type AuraAuthority struct {
	PublicKey [32]byte
}

// BabeEpochInformation is encoded exactly per spec.md §6:
//
//	le_u64 epoch_index
//	u8 has_start_slot; if 1: le_u64 start_slot_number
//	SCALE-compact-usize n
//	n × { 32 bytes public_key ; le_u64 weight }
//	32 bytes randomness
//	le_u64 c_num ; le_u64 c_den
//	u8 allowed_slots ∈ {0: PrimarySlots, 1: PrimaryAndSecondaryPlain, 2: PrimaryAndSecondaryVrf}
type BabeEpochInformation struct {
	EpochIndex      uint64
	StartSlotNumber *uint64
	Authorities     []Authority
	Randomness      [32]byte
	CNum, CDen      uint64
	AllowedSlots    AllowedSlots
}

// EncodeBabeEpochInformation serializes e per the wire format above.
func EncodeBabeEpochInformation(e *BabeEpochInformation) []byte {
	var tmp [8]byte
	buf := make([]byte, 0, 64+40*len(e.Authorities))

	binary.LittleEndian.PutUint64(tmp[:], e.EpochIndex)
	buf = append(buf, tmp[:]...)

	if e.StartSlotNumber != nil {
		buf = append(buf, 1)
		binary.LittleEndian.PutUint64(tmp[:], *e.StartSlotNumber)
		buf = append(buf, tmp[:]...)
	} else {
		buf = append(buf, 0)
	}

	buf = header.WriteCompactUint(buf, uint64(len(e.Authorities)))
	for _, a := range e.Authorities {
		buf = append(buf, a.PublicKey[:]...)
		binary.LittleEndian.PutUint64(tmp[:], a.Weight)
		buf = append(buf, tmp[:]...)
	}

	buf = append(buf, e.Randomness[:]...)
	binary.LittleEndian.PutUint64(tmp[:], e.CNum)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], e.CDen)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(e.AllowedSlots))
	return buf
}

// DecodeBabeEpochInformation parses the wire format written by
// EncodeBabeEpochInformation. Returns an error (mapped by callers to
// chaindb's InvalidBabeEpochInformation corruption kind) on malformed input.
func DecodeBabeEpochInformation(buf []byte) (*BabeEpochInformation, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("consensus: truncated babe epoch information")
	}
	e := &BabeEpochInformation{}
	e.EpochIndex = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]

	hasStart := buf[0]
	buf = buf[1:]
	switch hasStart {
	case 0:
	case 1:
		if len(buf) < 8 {
			return nil, fmt.Errorf("consensus: truncated start_slot_number")
		}
		v := binary.LittleEndian.Uint64(buf[:8])
		e.StartSlotNumber = &v
		buf = buf[8:]
	default:
		return nil, fmt.Errorf("consensus: invalid has_start_slot byte %d", hasStart)
	}

	count, n, err := header.ReadCompactUint(buf)
	if err != nil {
		return nil, fmt.Errorf("consensus: decode authority count: %w", err)
	}
	buf = buf[n:]
	for i := uint64(0); i < count; i++ {
		if len(buf) < 40 {
			return nil, fmt.Errorf("consensus: truncated authority entry %d", i)
		}
		var a Authority
		copy(a.PublicKey[:], buf[:32])
		a.Weight = binary.LittleEndian.Uint64(buf[32:40])
		buf = buf[40:]
		e.Authorities = append(e.Authorities, a)
	}

	if len(buf) < 32+8+8+1 {
		return nil, fmt.Errorf("consensus: truncated babe epoch information tail")
	}
	copy(e.Randomness[:], buf[:32])
	buf = buf[32:]
	e.CNum = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	e.CDen = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]

	allowed := AllowedSlots(buf[0])
	if !allowed.Valid() {
		return nil, fmt.Errorf("consensus: invalid allowed_slots value %d", buf[0])
	}
	e.AllowedSlots = allowed
	return e, nil
}
