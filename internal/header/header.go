package header

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DigestItemKind mirrors the handful of Substrate-style digest item
// discriminants chaindb needs to distinguish (spec.md §6's "Digest").
type DigestItemKind byte

const (
	DigestOther DigestItemKind = iota
	DigestPreRuntime
	DigestConsensus
	DigestSeal
)

// DigestItem is one entry of a header's digest log. Other carries a raw
// payload; PreRuntime/Consensus/Seal additionally carry a 4-byte engine ID.
type DigestItem struct {
	Kind     DigestItemKind
	EngineID [4]byte
	Payload  []byte
}

// Header is the decoded subset of a block header chaindb actually consumes.
type Header struct {
	ParentHash     [32]byte
	Number         uint64
	StateRoot      [32]byte
	ExtrinsicsRoot [32]byte
	Digest         []DigestItem
}

// Hash returns the 32-byte Merkle value identifying a block, matching the
// width required by the blocks.hash column (spec.md §3/§6).
func Hash(scaleEncoded []byte) [32]byte {
	return blake2b.Sum256(scaleEncoded)
}

// Decode parses a SCALE-encoded header blob. It returns an error — never a
// panic — on malformed input; callers map that to chaindb.ErrBadHeader.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < 32 {
		return nil, fmt.Errorf("header: truncated before parent hash")
	}
	var h Header
	copy(h.ParentHash[:], buf[:32])
	buf = buf[32:]

	number, n, err := ReadCompactUint(buf)
	if err != nil {
		return nil, fmt.Errorf("header: decode number: %w", err)
	}
	h.Number = number
	buf = buf[n:]

	if len(buf) < 64 {
		return nil, fmt.Errorf("header: truncated before state/extrinsics root")
	}
	copy(h.StateRoot[:], buf[:32])
	copy(h.ExtrinsicsRoot[:], buf[32:64])
	buf = buf[64:]

	count, n, err := ReadCompactUint(buf)
	if err != nil {
		return nil, fmt.Errorf("header: decode digest count: %w", err)
	}
	buf = buf[n:]
	if count > uint64(len(buf)) {
		return nil, fmt.Errorf("header: digest count %d exceeds remaining input", count)
	}

	h.Digest = make([]DigestItem, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(buf) < 1 {
			return nil, fmt.Errorf("header: truncated digest item %d", i)
		}
		kind := DigestItemKind(buf[0])
		buf = buf[1:]
		item := DigestItem{Kind: kind}

		switch kind {
		case DigestOther:
			l, n, err := ReadCompactUint(buf)
			if err != nil {
				return nil, fmt.Errorf("header: digest item %d: %w", i, err)
			}
			buf = buf[n:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("header: digest item %d: truncated payload", i)
			}
			item.Payload = append([]byte(nil), buf[:l]...)
			buf = buf[l:]
		case DigestPreRuntime, DigestConsensus, DigestSeal:
			if len(buf) < 4 {
				return nil, fmt.Errorf("header: digest item %d: truncated engine id", i)
			}
			copy(item.EngineID[:], buf[:4])
			buf = buf[4:]
			l, n, err := ReadCompactUint(buf)
			if err != nil {
				return nil, fmt.Errorf("header: digest item %d: %w", i, err)
			}
			buf = buf[n:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("header: digest item %d: truncated payload", i)
			}
			item.Payload = append([]byte(nil), buf[:l]...)
			buf = buf[l:]
		default:
			return nil, fmt.Errorf("header: digest item %d: unknown kind %d", i, kind)
		}
		h.Digest = append(h.Digest, item)
	}
	return &h, nil
}

// Encode serializes a Header back to its SCALE wire form. Used by tests and
// by callers constructing headers to insert.
func Encode(h *Header) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, h.ParentHash[:]...)
	buf = WriteCompactUint(buf, h.Number)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.ExtrinsicsRoot[:]...)
	buf = WriteCompactUint(buf, uint64(len(h.Digest)))
	for _, item := range h.Digest {
		buf = append(buf, byte(item.Kind))
		if item.Kind != DigestOther {
			buf = append(buf, item.EngineID[:]...)
		}
		buf = WriteCompactUint(buf, uint64(len(item.Payload)))
		buf = append(buf, item.Payload...)
	}
	return buf
}

// PreRuntimeSlot decodes the BABE PreRuntime digest payload, which in this
// module is simply a compact-encoded slot number.
func PreRuntimeSlot(payload []byte) (uint64, error) {
	v, _, err := ReadCompactUint(payload)
	return v, err
}

// FindDigest returns the first digest item of the given kind and engine,
// or ok=false if none is present.
func (h *Header) FindDigest(kind DigestItemKind, engineID [4]byte) (DigestItem, bool) {
	for _, item := range h.Digest {
		if item.Kind == kind && item.EngineID == engineID {
			return item, true
		}
	}
	return DigestItem{}, false
}
