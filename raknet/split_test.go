package raknet

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestSplitAssemblerPermutation(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated many times to force multiple fragments")
	const n = 5
	frags := make([][]byte, n)
	chunk := (len(original) + n - 1) / n
	for i := 0; i < n; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(original) {
			end = len(original)
		}
		frags[i] = original[start:end]
	}

	order := rand.Perm(n)
	a := newSplitAssembler()
	var result []byte
	var done bool
	for _, idx := range order {
		e := &EncapsulatedPacket{
			SplitID:    1,
			SplitIndex: uint32(idx),
			SplitCount: uint32(n),
			Payload:    frags[idx],
		}
		out, ok, err := a.Add(e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			result, done = out, true
		}
	}
	if !done {
		t.Fatalf("assembler never completed")
	}
	if !bytes.Equal(result, original) {
		t.Fatalf("reassembled payload mismatch: got %q want %q", result, original)
	}
}

func TestSplitAssemblerIgnoresExtraFragment(t *testing.T) {
	a := newSplitAssembler()
	for i := 0; i < 2; i++ {
		_, _, _ = a.Add(&EncapsulatedPacket{SplitID: 9, SplitIndex: uint32(i), SplitCount: 2, Payload: []byte{byte(i)}})
	}
	// A duplicate/late fragment with the same split id after completion starts a fresh entry
	// (the id has been recycled); re-adding the same index again must not error or panic.
	_, _, err := a.Add(&EncapsulatedPacket{SplitID: 9, SplitIndex: 0, SplitCount: 2, Payload: []byte{0}})
	if err != nil {
		t.Fatalf("unexpected error re-adding recycled split id: %v", err)
	}
}
