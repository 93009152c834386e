package bedrock

import "fmt"

// maxVarIntBytes/maxVarLongBytes bound how many continuation bytes a
// VarInt/VarLong may use before it is rejected as malformed (spec.md §8
// property 4: "VarInt/VarLong round-trip and reject overlong encodings").
const (
	maxVarIntBytes  = 5
	maxVarLongBytes = 10
)

// WriteVarInt appends v to dst as an unsigned LEB128 VarInt, the
// continuation-bit encoding Bedrock's batch framing uses for packet
// lengths and packet ids (spec.md §4.3). Byte-at-a-time shape is
// grounded on dmitrymodder-minewire/protocol.go's WriteVarInt, adapted
// from an io.Writer sink to an append-to-slice one since batch.go
// builds whole frames in memory rather than streaming them.
func WriteVarInt(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// ReadVarInt reads an unsigned VarInt from src, returning the value and
// the number of bytes consumed.
func ReadVarInt(src []byte) (uint32, int, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		if i >= len(src) {
			return 0, 0, fmt.Errorf("bedrock: varint truncated")
		}
		b := src[i]
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("bedrock: varint is too big")
}

// WriteVarLong appends v to dst as an unsigned LEB128 VarLong.
func WriteVarLong(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// ReadVarLong reads an unsigned VarLong from src, returning the value
// and the number of bytes consumed.
func ReadVarLong(src []byte) (uint64, int, error) {
	var result uint64
	for i := 0; i < maxVarLongBytes; i++ {
		if i >= len(src) {
			return 0, 0, fmt.Errorf("bedrock: varlong truncated")
		}
		b := src[i]
		result |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("bedrock: varlong is too big")
}

// WriteString appends a VarInt-length-prefixed UTF-8 string, the shape
// every string field in the handshake packets below uses.
func WriteString(dst []byte, s string) []byte {
	dst = WriteVarInt(dst, uint32(len(s)))
	return append(dst, s...)
}

// ReadString reads a VarInt-length-prefixed UTF-8 string.
func ReadString(src []byte) (string, int, error) {
	l, n, err := ReadVarInt(src)
	if err != nil {
		return "", 0, fmt.Errorf("bedrock: read string length: %w", err)
	}
	end := n + int(l)
	if end > len(src) || end < n {
		return "", 0, fmt.Errorf("bedrock: string truncated")
	}
	return string(src[n:end]), end, nil
}
