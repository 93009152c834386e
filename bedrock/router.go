package bedrock

import (
	"context"
	"errors"
	"sync"
)

var errOutboxFull = errors.New("bedrock: outbox full")

// outboxCapacity bounds the Play-phase send buffer; a full outbox
// signals the game layer to slow this session (spec.md §5
// "Backpressure": "the outbox channel is bounded (recommended 256
// packets)").
const outboxCapacity = 256

// RecommendedTickRate is the flush cadence spec.md §4.6 recommends
// ("no minimum rate but recommends 20 Hz (50 ms)").
const RecommendedTickRate = 20

// PlaySession is the terminal handshake phase: a packet router that
// coalesces SendPacket calls into batches emitted on Flush, and decodes
// inbound batches lazily, one packet at a time, on RecvPacket (spec.md
// §4.6 "Packet Router / Batching"). Grounded on the teacher's
// Conn.Write/Conn.Flush buffering, generalized from a single bufferedSend
// mutex-guarded slice to the same shape with compression/encryption
// folded in via sessionIO. PlaySession runs no flush ticker of its own:
// batches go out only when the caller invokes Flush.
type PlaySession struct {
	*sessionIO

	sendMu  sync.Mutex
	outbox  chan []byte
	pending [][]byte

	recvMu    sync.Mutex
	recvQueue [][]byte
}

func newPlaySession(io *sessionIO) *PlaySession {
	return &PlaySession{sessionIO: io, outbox: make(chan []byte, outboxCapacity)}
}

func (s *PlaySession) Phase() string { return "play" }

// SendPacket encodes pk and appends it to the in-memory batch buffer
// without transmitting it (spec.md §4.6 "Outbound"). It never blocks: a
// full outbox is reported as an error so the game layer can back off,
// rather than stalling the caller.
func (s *PlaySession) SendPacket(id uint32, payload []byte) error {
	frame := EncodePacket(id, payload)
	select {
	case s.outbox <- frame:
		return nil
	default:
		return transportErr(ConnectionClosed, errOutboxFull)
	}
}

// Flush drains the outbox, emits exactly one batch (one compression
// pass, one encryption pass, one transport send), and resets the
// buffer (spec.md §4.6 "flush emits one batch ... and resets the
// buffer"). Flush is a no-op if nothing is pending.
func (s *PlaySession) Flush() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	draining := true
	for draining {
		select {
		case frame := <-s.outbox:
			s.pending = append(s.pending, frame)
		default:
			draining = false
		}
	}
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = nil
	if err := s.sendBatch(batch); err != nil {
		return transportErr(ConnectionClosed, err)
	}
	return nil
}

// RecvPacket returns the next decoded packet, reading and decompressing
// a fresh batch from the transport when the current one is exhausted
// (spec.md §4.6 "Inbound").
func (s *PlaySession) RecvPacket(ctx context.Context) (RawPacket, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	for len(s.recvQueue) == 0 {
		packets, err := s.recvBatch(ctx)
		if err != nil {
			return RawPacket{}, err
		}
		s.recvQueue = packets
	}
	raw := s.recvQueue[0]
	s.recvQueue = s.recvQueue[1:]
	pk, err := DecodeRawPacket(raw)
	if err != nil {
		// A single malformed packet in an established Play stream closes
		// the session rather than being skipped (spec.md §7: "a malformed
		// packet on an encrypted stream indicates either key desync or an
		// attack").
		_ = s.transport.Close()
		return RawPacket{}, protoErr(MalformedBatch, err)
	}
	return pk, nil
}

// Close tears down the underlying transport (spec.md §5
// "Cancellation").
func (s *PlaySession) Close() error {
	return s.transport.Close()
}
