// Package header decodes and hashes the SCALE-encoded block headers the
// chaindb package treats as opaque blobs handed in by the caller. Full SCALE
// decoding and header validation are out of scope for chaindb itself (see
// spec.md §1); this package implements only the minimal subset — compact
// integers, fixed-size hashes, and a digest-item list — needed to pull a
// block number, parent hash, state root, and consensus digest out of a
// header blob.
package header

import (
	"encoding/binary"
	"fmt"
)

// WriteCompactUint appends v to buf using the SCALE compact-integer encoding:
// the two low bits of the first byte select a single/two/four-byte mode for
// small values, or a big-integer mode whose first byte encodes how many
// little-endian bytes follow.
func WriteCompactUint(buf []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(buf, byte(v)<<2)
	case v < 1<<14:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v)<<2|0b01)
		return append(buf, b[:]...)
	case v < 1<<30:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v)<<2|0b10)
		return append(buf, b[:]...)
	default:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		n := 8
		for n > 4 && tmp[n-1] == 0 {
			n--
		}
		buf = append(buf, byte((n-4)<<2|0b11))
		return append(buf, tmp[:n]...)
	}
}

// ReadCompactUint decodes a SCALE compact integer from the front of buf,
// returning the value and the number of bytes consumed.
func ReadCompactUint(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("header: empty compact integer")
	}
	switch buf[0] & 0b11 {
	case 0b00:
		return uint64(buf[0] >> 2), 1, nil
	case 0b01:
		if len(buf) < 2 {
			return 0, 0, fmt.Errorf("header: truncated two-byte compact integer")
		}
		return uint64(binary.LittleEndian.Uint16(buf[:2]) >> 2), 2, nil
	case 0b10:
		if len(buf) < 4 {
			return 0, 0, fmt.Errorf("header: truncated four-byte compact integer")
		}
		return uint64(binary.LittleEndian.Uint32(buf[:4]) >> 2), 4, nil
	default:
		n := int(buf[0]>>2) + 4
		if len(buf) < 1+n {
			return 0, 0, fmt.Errorf("header: truncated big-integer compact value")
		}
		var tmp [8]byte
		copy(tmp[:], buf[1:1+n])
		return binary.LittleEndian.Uint64(tmp[:]), 1 + n, nil
	}
}
