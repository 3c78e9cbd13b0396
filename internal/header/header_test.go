package header

import (
	"bytes"
	"testing"
)

func sampleHeader() *Header {
	var h Header
	h.ParentHash[3] = 0xAB
	h.Number = 42
	h.StateRoot[0] = 0x01
	h.ExtrinsicsRoot[0] = 0x02
	h.Digest = []DigestItem{
		{Kind: DigestOther, Payload: []byte("hello")},
		{Kind: DigestPreRuntime, EngineID: EngineIDBabe, Payload: EncodePreRuntimeSlot(7)},
	}
	return &h
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleHeader()
	encoded := Encode(h)

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ParentHash != h.ParentHash || got.Number != h.Number ||
		got.StateRoot != h.StateRoot || got.ExtrinsicsRoot != h.ExtrinsicsRoot {
		t.Fatalf("decoded fields mismatch: %+v", got)
	}
	if len(got.Digest) != len(h.Digest) {
		t.Fatalf("digest length mismatch: got %d want %d", len(got.Digest), len(h.Digest))
	}
	if !bytes.Equal(got.Digest[0].Payload, h.Digest[0].Payload) {
		t.Fatalf("digest[0] payload mismatch")
	}
	slot, err := PreRuntimeSlot(got.Digest[1].Payload)
	if err != nil || slot != 7 {
		t.Fatalf("PreRuntimeSlot: got %d, %v", slot, err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding truncated header")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	h := sampleHeader()
	encoded := Encode(h)
	if Hash(encoded) != Hash(encoded) {
		t.Fatal("Hash is not deterministic")
	}
	if Hash(encoded) == Hash(append(encoded, 0)) {
		t.Fatal("Hash did not change for different input")
	}
}

func TestFindDigest(t *testing.T) {
	h := sampleHeader()
	item, ok := h.FindDigest(DigestPreRuntime, EngineIDBabe)
	if !ok {
		t.Fatal("expected to find BABE pre-runtime digest")
	}
	slot, err := PreRuntimeSlot(item.Payload)
	if err != nil || slot != 7 {
		t.Fatalf("unexpected payload: %d, %v", slot, err)
	}
	if _, ok := h.FindDigest(DigestConsensus, EngineIDGrandpa); ok {
		t.Fatal("did not expect a GRANDPA consensus digest")
	}
}
