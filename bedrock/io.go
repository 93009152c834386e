package bedrock

import (
	"context"
	"fmt"
)

// sessionIO is the shared send/recv plumbing every handshake-phase
// session type embeds: batch framing, compression, and (once installed)
// encryption. It is not exported — callers only ever see the
// phase-specific Session types that embed it (spec.md §9 "Typestate
// phases").
type sessionIO struct {
	transport Transport

	compression Compression
	threshold   int
	level       int
	maxDecomp   int

	// enc is installed the moment this side's outbound packets must be
	// encrypted (spec.md §4.4 step 5). recvEncrypted is set independently
	// once this side's inbound packets must be decrypted (step 6): the
	// handshake ack that flips it crosses the wire in plaintext itself.
	enc           *EncryptionContext
	recvEncrypted bool
}

func newSessionIO(t Transport, cfg ServerConfig) *sessionIO {
	return &sessionIO{
		transport:   t,
		compression: CompressionNone,
		threshold:   int(cfg.CompressionThreshold),
		level:       cfg.CompressionLevel,
		maxDecomp:   cfg.maxDecompressed(),
	}
}

// newClientSessionIO starts a client-role sessionIO uncompressed; the
// algorithm/threshold the server announces in NetworkSettings is
// installed once request_settings completes (spec.md §4.5
// "request_settings ... installs compression").
func newClientSessionIO(t Transport, cfg ClientConfig) *sessionIO {
	return &sessionIO{
		transport:   t,
		compression: CompressionNone,
		level:       DefaultCompressionLevel,
		maxDecomp:   cfg.maxDecompressed(),
	}
}

// sendPacket frames a single packet as its own batch and transmits it.
// Every handshake packet is sent this way; Play-phase packets go
// through router.go's coalescing batch buffer instead.
func (io *sessionIO) sendPacket(id uint32, payload []byte) error {
	frame := EncodePacket(id, payload)
	return io.sendBatch([][]byte{frame})
}

func (io *sessionIO) sendBatch(packets [][]byte) error {
	batch := EncodeBatch(packets, io.transport.WithPrefix(), io.compression, io.threshold, io.level)
	if io.enc != nil {
		batch = io.enc.Encrypt(batch)
	}
	return io.transport.Send(batch)
}

// recvBatch blocks for the next inbound frame and decodes it into its
// constituent packets, decrypting first if encryption is installed.
func (io *sessionIO) recvBatch(ctx context.Context) ([][]byte, error) {
	frame, err := io.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if io.enc != nil && io.recvEncrypted {
		frame, err = io.enc.Decrypt(frame)
		if err != nil {
			return nil, err
		}
	}
	packets, err := DecodeBatch(frame, io.transport.WithPrefix(), io.maxDecomp)
	if err != nil {
		return nil, protoErr(MalformedBatch, err)
	}
	return packets, nil
}

// recvOne blocks for the next inbound frame and requires it to decode
// to exactly one packet with the given id, as every handshake exchange
// in spec.md §4.4's state table does.
func (io *sessionIO) recvOne(ctx context.Context, wantID uint32) (RawPacket, error) {
	packets, err := io.recvBatch(ctx)
	if err != nil {
		return RawPacket{}, err
	}
	if len(packets) != 1 {
		return RawPacket{}, protoErr(UnexpectedHandshake, fmt.Errorf("expected a single handshake packet, got %d", len(packets)))
	}
	pk, err := DecodeRawPacket(packets[0])
	if err != nil {
		return RawPacket{}, protoErr(MalformedBatch, err)
	}
	if pk.ID != wantID {
		return RawPacket{}, protoErr(UnexpectedHandshake, fmt.Errorf("expected packet id %d, got %d", wantID, pk.ID))
	}
	return pk, nil
}

// recvOneOf is recvOne without a fixed expected id, for phases where more
// than one packet type is legal next (spec.md §6 "handle_client_cache_status").
func (io *sessionIO) recvOneOf(ctx context.Context, wantIDs ...uint32) (RawPacket, error) {
	packets, err := io.recvBatch(ctx)
	if err != nil {
		return RawPacket{}, err
	}
	if len(packets) != 1 {
		return RawPacket{}, protoErr(UnexpectedHandshake, fmt.Errorf("expected a single handshake packet, got %d", len(packets)))
	}
	pk, err := DecodeRawPacket(packets[0])
	if err != nil {
		return RawPacket{}, protoErr(MalformedBatch, err)
	}
	for _, id := range wantIDs {
		if pk.ID == id {
			return pk, nil
		}
	}
	return RawPacket{}, protoErr(UnexpectedHandshake, fmt.Errorf("expected one of packet ids %v, got %d", wantIDs, pk.ID))
}

// failLogin sends PlayStatus(status) followed by a Disconnect-equivalent
// close, the user-visible surface spec.md §7 requires on fatal login
// failures: "no server stack traces cross the wire".
func (io *sessionIO) failLogin(status PlayStatus) {
	_ = io.sendPacket(IDPlayStatus, PlayStatusPacket{Status: status}.Encode())
	_ = io.transport.Close()
}
