package header

import (
	"bytes"
	"testing"
)

func TestBabeNextEpochDataRoundTrip(t *testing.T) {
	want := &BabeNextEpochData{
		Authorities: []AuthorityEntry{{PublicKey: [32]byte{1}, Weight: 5}, {PublicKey: [32]byte{2}, Weight: 7}},
		Randomness:  [32]byte{9, 9, 9},
	}
	payload := EncodeBabeNextEpochData(want)
	got, err := DecodeBabeNextEpochData(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Randomness != want.Randomness || len(got.Authorities) != len(want.Authorities) {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Authorities[1].Weight != 7 {
		t.Fatalf("authority weight mismatch: %+v", got.Authorities)
	}
}

func TestBabeNextConfigDataRoundTrip(t *testing.T) {
	want := &BabeNextConfigData{CNum: 1, CDen: 4, AllowedSlots: 2}
	got, err := DecodeBabeNextConfigData(EncodeBabeNextConfigData(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestGrandpaScheduledChangeRoundTrip(t *testing.T) {
	want := &GrandpaScheduledChange{
		Delay:       0,
		Authorities: []AuthorityEntry{{PublicKey: [32]byte{3}, Weight: 1}},
	}
	got, err := DecodeGrandpaScheduledChange(EncodeGrandpaScheduledChange(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Delay != want.Delay || !bytes.Equal(got.Authorities[0].PublicKey[:], want.Authorities[0].PublicKey[:]) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestDecodeBabeNextEpochDataRejectsWrongTag(t *testing.T) {
	if _, err := DecodeBabeNextEpochData([]byte{BabeLogNextConfigData}); err == nil {
		t.Fatal("expected tag mismatch error")
	}
}
