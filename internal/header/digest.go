package header

import (
	"encoding/binary"
	"fmt"
)

// Engine IDs for the two digest-producing consensus engines chaindb's
// finality engine understands (spec.md §4.5).
var (
	EngineIDBabe    = [4]byte{'B', 'A', 'B', 'E'}
	EngineIDGrandpa = [4]byte{'F', 'R', 'N', 'K'}
)

// Sub-kinds of BABE Consensus digest payloads.
const (
	BabeLogNextEpochData  byte = 1
	BabeLogNextConfigData byte = 2
)

// GrandpaLogScheduledChange is the sub-kind of a GRANDPA Consensus payload
// carrying a new authority set (spec.md §4.5 point 3).
const GrandpaLogScheduledChange byte = 1

// AuthorityEntry is the common (public key, weight) shape shared by BABE and
// GRANDPA authority lists.
type AuthorityEntry struct {
	PublicKey [32]byte
	Weight    uint64
}

func decodeAuthorityList(buf []byte) ([]AuthorityEntry, []byte, error) {
	count, n, err := ReadCompactUint(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("header: decode authority count: %w", err)
	}
	buf = buf[n:]
	out := make([]AuthorityEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(buf) < 40 {
			return nil, nil, fmt.Errorf("header: truncated authority entry %d", i)
		}
		var a AuthorityEntry
		copy(a.PublicKey[:], buf[:32])
		a.Weight = binary.LittleEndian.Uint64(buf[32:40])
		buf = buf[40:]
		out = append(out, a)
	}
	return out, buf, nil
}

// BabeNextEpochData is the decoded BABE Consensus digest item that announces
// the authorities and randomness of the next epoch.
type BabeNextEpochData struct {
	Authorities []AuthorityEntry
	Randomness  [32]byte
}

func DecodeBabeNextEpochData(payload []byte) (*BabeNextEpochData, error) {
	if len(payload) < 1 || payload[0] != BabeLogNextEpochData {
		return nil, fmt.Errorf("header: payload is not a BABE NextEpochData item")
	}
	authorities, buf, err := decodeAuthorityList(payload[1:])
	if err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, fmt.Errorf("header: truncated BABE randomness")
	}
	out := &BabeNextEpochData{Authorities: authorities}
	copy(out.Randomness[:], buf[:32])
	return out, nil
}

// BabeNextConfigData is the optional BABE Consensus digest item carrying an
// updated `c` fork-choice parameter and allowed-slots policy.
type BabeNextConfigData struct {
	CNum, CDen   uint64
	AllowedSlots byte
}

func DecodeBabeNextConfigData(payload []byte) (*BabeNextConfigData, error) {
	if len(payload) < 1 || payload[0] != BabeLogNextConfigData {
		return nil, fmt.Errorf("header: payload is not a BABE NextConfigData item")
	}
	buf := payload[1:]
	if len(buf) < 17 {
		return nil, fmt.Errorf("header: truncated BABE NextConfigData")
	}
	return &BabeNextConfigData{
		CNum:         binary.LittleEndian.Uint64(buf[0:8]),
		CDen:         binary.LittleEndian.Uint64(buf[8:16]),
		AllowedSlots: buf[16],
	}, nil
}

// GrandpaScheduledChange is the decoded GRANDPA Consensus digest item that
// schedules a new authority set after `Delay` blocks.
type GrandpaScheduledChange struct {
	Delay       uint64
	Authorities []AuthorityEntry
}

func DecodeGrandpaScheduledChange(payload []byte) (*GrandpaScheduledChange, error) {
	if len(payload) < 1 || payload[0] != GrandpaLogScheduledChange {
		return nil, fmt.Errorf("header: payload is not a GRANDPA ScheduledChange item")
	}
	delay, n, err := ReadCompactUint(payload[1:])
	if err != nil {
		return nil, fmt.Errorf("header: decode GRANDPA delay: %w", err)
	}
	authorities, _, err := decodeAuthorityList(payload[1+n:])
	if err != nil {
		return nil, err
	}
	return &GrandpaScheduledChange{Delay: delay, Authorities: authorities}, nil
}

// EncodeBabeNextEpochData and the sibling Encode* helpers below are the
// inverse of the Decode* functions above; used by tests and by callers that
// assemble synthetic headers.
func EncodeBabeNextEpochData(d *BabeNextEpochData) []byte {
	buf := []byte{BabeLogNextEpochData}
	buf = WriteCompactUint(buf, uint64(len(d.Authorities)))
	var w [8]byte
	for _, a := range d.Authorities {
		buf = append(buf, a.PublicKey[:]...)
		binary.LittleEndian.PutUint64(w[:], a.Weight)
		buf = append(buf, w[:]...)
	}
	buf = append(buf, d.Randomness[:]...)
	return buf
}

func EncodeBabeNextConfigData(d *BabeNextConfigData) []byte {
	buf := []byte{BabeLogNextConfigData}
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], d.CNum)
	buf = append(buf, w[:]...)
	binary.LittleEndian.PutUint64(w[:], d.CDen)
	buf = append(buf, w[:]...)
	buf = append(buf, d.AllowedSlots)
	return buf
}

func EncodeGrandpaScheduledChange(d *GrandpaScheduledChange) []byte {
	buf := []byte{GrandpaLogScheduledChange}
	buf = WriteCompactUint(buf, d.Delay)
	buf = WriteCompactUint(buf, uint64(len(d.Authorities)))
	var w [8]byte
	for _, a := range d.Authorities {
		buf = append(buf, a.PublicKey[:]...)
		binary.LittleEndian.PutUint64(w[:], a.Weight)
		buf = append(buf, w[:]...)
	}
	return buf
}

func EncodePreRuntimeSlot(slot uint64) []byte {
	return WriteCompactUint(nil, slot)
}
