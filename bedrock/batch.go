package bedrock

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
)

// Compression identifies the batch compression algorithm selected by
// the byte immediately following the optional 0xFE RakNet prefix
// (spec.md §4.3 "Compression byte").
type Compression byte

const (
	CompressionZlib   Compression = 0x00
	CompressionSnappy Compression = 0x01
	CompressionNone   Compression = 0xFF
)

// batchPrefix is the RakNet-only framing byte (spec.md §4.3 "Framing
// rule"). NetherNet transports carry no such prefix.
const batchPrefix = 0xFE

// DefaultCompressionThreshold and DefaultMaxDecompressedSize mirror the
// listener configuration defaults (spec.md §6 "Listener configuration").
const (
	DefaultCompressionThreshold = 256
	DefaultCompressionLevel     = 7
	DefaultMaxDecompressedSize  = 8 * 1024 * 1024
)

// Batch is one or more game packets concatenated, each prefixed by its
// VarInt length, optionally compressed (spec.md §3 "Batch", §4.3).
type Batch struct {
	Packets [][]byte
}

// EncodeBatch renders packets into a batch frame. withPrefix selects
// RakNet framing (leading 0xFE); threshold/level/compression pick
// whether and how to compress. Grounded on the teacher's
// Conn.Flush/packet.Encoder split (conn.go calls
// conn.encoder.Encode(conn.bufferedSend)), reimplemented here as an
// explicit encode function since the teacher's packet.Encoder source
// itself isn't in the retrieval pack.
func EncodeBatch(packets [][]byte, withPrefix bool, comp Compression, threshold int, level int) []byte {
	var payload []byte
	for _, p := range packets {
		payload = WriteVarInt(payload, uint32(len(p)))
		payload = append(payload, p...)
	}

	useComp := comp
	if len(payload) < threshold {
		useComp = CompressionNone
	}

	var body []byte
	switch useComp {
	case CompressionZlib:
		body = deflateCompress(payload, level)
	case CompressionSnappy:
		body = snappy.Encode(nil, payload)
	default:
		useComp = CompressionNone
		body = payload
	}

	out := make([]byte, 0, len(body)+2)
	if withPrefix {
		out = append(out, batchPrefix)
	}
	out = append(out, byte(useComp))
	return append(out, body...)
}

// DecodeBatch parses a frame produced by EncodeBatch, stripping the
// optional RakNet prefix, decompressing per the compression byte
// (bounded by maxDecompressed), and splitting the VarInt-framed packet
// list (spec.md §4.3 "Decompression guard", "Per-batch packet
// extraction").
func DecodeBatch(frame []byte, withPrefix bool, maxDecompressed int) ([][]byte, error) {
	if withPrefix {
		if len(frame) == 0 || frame[0] != batchPrefix {
			return nil, protoErr(MalformedBatch, nil)
		}
		frame = frame[1:]
	}
	if len(frame) == 0 {
		return nil, protoErr(MalformedBatch, nil)
	}
	comp := Compression(frame[0])
	body := frame[1:]

	var payload []byte
	var err error
	switch comp {
	case CompressionZlib:
		payload, err = deflateDecompress(body, maxDecompressed)
	case CompressionSnappy:
		payload, err = snappyDecompress(body, maxDecompressed)
	case CompressionNone:
		if len(body) > maxDecompressed {
			return nil, protoErr(DecompressionFailed, nil)
		}
		payload = body
	default:
		return nil, protoErr(MalformedBatch, nil)
	}
	if err != nil {
		return nil, err
	}

	var packets [][]byte
	for len(payload) > 0 {
		l, n, verr := ReadVarInt(payload)
		if verr != nil {
			return nil, protoErr(MalformedBatch, verr)
		}
		payload = payload[n:]
		if int(l) > len(payload) {
			return nil, protoErr(MalformedBatch, nil)
		}
		packets = append(packets, payload[:l])
		payload = payload[l:]
	}
	return packets, nil
}

func deflateCompress(data []byte, level int) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, level)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func deflateDecompress(data []byte, maxSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	limited := io.LimitReader(r, int64(maxSize)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, protoErr(DecompressionFailed, err)
	}
	if len(out) > maxSize {
		return nil, protoErr(DecompressionFailed, nil)
	}
	return out, nil
}

func snappyDecompress(data []byte, maxSize int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, protoErr(DecompressionFailed, err)
	}
	if n > maxSize {
		return nil, protoErr(DecompressionFailed, nil)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, protoErr(DecompressionFailed, err)
	}
	return out, nil
}
