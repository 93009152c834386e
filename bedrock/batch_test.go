package bedrock

import (
	"bytes"
	"testing"
)

func TestBatchRoundTripNone(t *testing.T) {
	packets := [][]byte{[]byte("hello"), []byte("world")}
	frame := EncodeBatch(packets, true, CompressionNone, DefaultCompressionThreshold, DefaultCompressionLevel)
	got, err := DecodeBatch(frame, true, DefaultMaxDecompressedSize)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(packets) {
		t.Fatalf("got %d packets, want %d", len(got), len(packets))
	}
	for i := range packets {
		if !bytes.Equal(got[i], packets[i]) {
			t.Fatalf("packet %d mismatch: got %q want %q", i, got[i], packets[i])
		}
	}
}

func TestBatchRoundTripZlib(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 1024)
	packets := [][]byte{big}
	frame := EncodeBatch(packets, true, CompressionZlib, 1, DefaultCompressionLevel)
	if frame[1] != byte(CompressionZlib) {
		t.Fatalf("expected zlib compression byte, got %#x", frame[1])
	}
	got, err := DecodeBatch(frame, true, DefaultMaxDecompressedSize)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got[0], big) {
		t.Fatalf("payload mismatch after zlib round trip")
	}
}

func TestBatchRoundTripSnappy(t *testing.T) {
	big := bytes.Repeat([]byte("y"), 1024)
	frame := EncodeBatch([][]byte{big}, false, CompressionSnappy, 1, DefaultCompressionLevel)
	got, err := DecodeBatch(frame, false, DefaultMaxDecompressedSize)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got[0], big) {
		t.Fatalf("payload mismatch after snappy round trip")
	}
}

func TestBatchDecompressionGuardRejectsOversized(t *testing.T) {
	big := bytes.Repeat([]byte("z"), 4096)
	frame := EncodeBatch([][]byte{big}, true, CompressionZlib, 1, DefaultCompressionLevel)
	if _, err := DecodeBatch(frame, true, 16); err == nil {
		t.Fatalf("expected decompression guard to reject oversized batch")
	}
}

func TestBatchBelowThresholdStaysUncompressed(t *testing.T) {
	frame := EncodeBatch([][]byte{[]byte("tiny")}, true, CompressionZlib, 256, DefaultCompressionLevel)
	if frame[1] != byte(CompressionNone) {
		t.Fatalf("expected batch below threshold to skip compression, got byte %#x", frame[1])
	}
}

func TestBatchRejectsTruncatedLength(t *testing.T) {
	frame := []byte{batchPrefix, byte(CompressionNone), 0x05, 'a', 'b'}
	if _, err := DecodeBatch(frame, true, DefaultMaxDecompressedSize); err == nil {
		t.Fatalf("expected malformed batch error for truncated packet length")
	}
}
