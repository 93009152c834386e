package raknet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/df-mc/atomic"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ackFlushInterval is how often pending ACKs are flushed if nothing else
// triggers an earlier flush (spec.md §4.1 "ACK scheduling").
const ackFlushInterval = 10 * time.Millisecond

// sessionTimeout is the silence duration after which a Session is torn
// down (spec.md §3 "destroyed on timeout").
const sessionTimeout = 10 * time.Second

// maxResends is the number of RTO cycles a reliable datagram may be
// retransmitted before the session is closed as unrecoverable (spec.md
// §4.1 "excessive resends (default 10) are fatal").
const maxResends = 10

// recentReliableRingSize bounds the per-session dedup ring (spec.md §3,
// §4.1 "a ring of size ~2048 per session").
const recentReliableRingSize = 2048

// outboxCapacity bounds the per-session Inbound channel of delivered
// payloads (spec.md §5 "Backpressure").
const outboxCapacity = 256

// Sender writes one raw datagram to the peer. Bound per-session by a
// Listener/Dialer's socket demultiplexer.
type Sender func(b []byte) error

// retransmitEntry records the encapsulated packets sent in one datagram,
// so that it can be resent in full if NAK'd or if its RTO elapses.
type retransmitEntry struct {
	packets []*EncapsulatedPacket
	sentAt  time.Time
	rto     time.Duration
	resends int
}

// Session is one peer's RakNet reliability/ordering state (spec.md §3
// "Peer / Session"). Structured after ventosilenzioso-go-raknet's
// Session type but reworked for per-channel (0-31) ordering/sequencing
// and true Seq24 circular comparison throughout, per spec.md §9.
type Session struct {
	RemoteAddr net.Addr
	GUID       uint64
	mtu        int
	send       Sender

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(reason error)

	mu       sync.Mutex
	lastSeen time.Time
	rtt      rttEstimator

	nextReliable    atomic.Uint32
	nextOrder       [NumChannels]Seq24
	nextSeqIdx      [NumChannels]Seq24
	nextDatagramSeq Seq24
	nextSplitID     uint16

	sendQueue  []*EncapsulatedPacket
	retransmit map[uint32]*retransmitEntry

	highestSeq     Seq24
	haveHighestSeq bool
	ackQueue       rangeQueue
	nackQueue      rangeQueue
	ackDirty       bool

	splitAsm       *splitAssembler
	recentReliable *lru.Cache[uint32, struct{}]
	orderBuffer    [NumChannels]map[uint32]*EncapsulatedPacket
	orderExpected  [NumChannels]Seq24
	seqHighest     [NumChannels]Seq24
	seqHighestSet  [NumChannels]bool

	metrics *Metrics

	Inbound chan []byte
}

// NewSession constructs a Session for a freshly-completed offline
// handshake (spec.md §4.1 "Connection upgrade").
func NewSession(addr net.Addr, guid uint64, mtu int, send Sender) *Session {
	return NewSessionWithMetrics(addr, guid, mtu, send, nil)
}

// NewSessionWithMetrics is NewSession with an optional Metrics sink; pass
// nil for the same zero-overhead behavior as NewSession.
func NewSessionWithMetrics(addr net.Addr, guid uint64, mtu int, send Sender, metrics *Metrics) *Session {
	ring, _ := lru.New[uint32, struct{}](recentReliableRingSize)
	s := &Session{
		RemoteAddr:     addr,
		GUID:           guid,
		mtu:            mtu,
		send:           send,
		closed:         make(chan struct{}),
		lastSeen:       time.Now(),
		retransmit:     make(map[uint32]*retransmitEntry),
		splitAsm:       newSplitAssembler(),
		recentReliable: ring,
		metrics:        metrics,
		Inbound:        make(chan []byte, outboxCapacity),
	}
	for c := range s.orderBuffer {
		s.orderBuffer[c] = make(map[uint32]*EncapsulatedPacket)
	}
	metrics.sessionOpened()
	return s
}

// MTU returns the session's negotiated MTU.
func (s *Session) MTU() int { return s.mtu }

// payloadBudget returns how many payload bytes fit in a single datagram.
func (s *Session) payloadBudget() int {
	const datagramHeader = 4 // flag byte + 3 byte sequence
	return s.mtu - datagramHeader
}

// Send queues payload for delivery under the given reliability mode on
// the given ordering/sequencing channel, splitting into fragments first
// if it would not fit in one datagram (spec.md §4.1 "Sending a logical
// message").
func (s *Session) Send(payload []byte, reliability Reliability, channel uint8) error {
	if channel >= NumChannels {
		return fmt.Errorf("raknet: channel %d out of range", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	maxFragment := s.payloadBudget() - 25 // headroom for the largest encapsulation header
	if maxFragment < 1 {
		return fmt.Errorf("raknet: mtu too small to send any payload")
	}

	if len(payload) <= maxFragment {
		s.enqueueLocked(s.buildPacket(payload, reliability, channel, false, 0, 0, 0))
		return nil
	}

	splitID := s.nextSplitID
	s.nextSplitID++
	count := (len(payload) + maxFragment - 1) / maxFragment
	for i := 0; i < count; i++ {
		start := i * maxFragment
		end := start + maxFragment
		if end > len(payload) {
			end = len(payload)
		}
		s.enqueueLocked(s.buildPacket(payload[start:end], reliability, channel, true, splitID, uint32(i), uint32(count)))
	}
	return nil
}

func (s *Session) buildPacket(payload []byte, reliability Reliability, channel uint8, split bool, splitID uint16, splitIndex, splitCount uint32) *EncapsulatedPacket {
	e := &EncapsulatedPacket{
		Reliability: reliability,
		HasSplit:    split,
		SplitID:     splitID,
		SplitIndex:  splitIndex,
		SplitCount:  splitCount,
		Payload:     append([]byte(nil), payload...),
	}
	if reliability.reliable() {
		e.ReliableIndex = NewSeq24(s.nextReliable.Add(1) - 1)
	}
	if reliability.ordered() {
		e.OrderIndex = s.nextOrder[channel]
		s.nextOrder[channel] = s.nextOrder[channel].Next()
		e.OrderChannel = channel
	}
	if reliability.sequenced() {
		e.SequenceIndex = s.nextSeqIdx[channel]
		s.nextSeqIdx[channel] = s.nextSeqIdx[channel].Next()
		e.OrderChannel = channel
	}
	return e
}

func (s *Session) enqueueLocked(e *EncapsulatedPacket) {
	s.sendQueue = append(s.sendQueue, e)
}

// Flush bins queued outgoing packets into MTU-sized datagrams, assigns
// datagram sequence numbers, records reliable ones for retransmission,
// and writes any pending ACK/NACK datagrams (spec.md §4.1 "flush loop").
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if err := s.flushACKsLocked(); err != nil {
		return err
	}
	budget := s.payloadBudget()
	for len(s.sendQueue) > 0 {
		batch := make([]*EncapsulatedPacket, 0, 16)
		size := 0
		for len(s.sendQueue) > 0 {
			next := s.sendQueue[0]
			n := next.Size()
			if size+n > budget && len(batch) > 0 {
				break
			}
			batch = append(batch, next)
			size += n
			s.sendQueue = s.sendQueue[1:]
		}
		if err := s.sendDatagramLocked(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendDatagramLocked(batch []*EncapsulatedPacket) error {
	seq := s.nextDatagramSeq
	s.nextDatagramSeq = s.nextDatagramSeq.Next()

	buf := make([]byte, 0, s.mtu)
	buf = append(buf, datagramFlagValid)
	var seqBytes [3]byte
	writeUint24(seqBytes[:], seq)
	buf = append(buf, seqBytes[:]...)
	hasReliable := false
	for _, e := range batch {
		buf = e.Write(buf)
		if e.Reliability.reliable() {
			hasReliable = true
		}
	}
	if hasReliable {
		s.retransmit[seq.Uint32()] = &retransmitEntry{packets: batch, sentAt: time.Now(), rto: s.rtt.RTO()}
	}
	return s.send(buf)
}

// flushACKsLocked drains the pending ACK queue and then the NACK queue,
// sending as many datagrams as needed, each packed to fit the MTU via
// PopForMTU (spec.md §4.1 "pop_for_mtu"). Empty queues send nothing.
func (s *Session) flushACKsLocked() error {
	budget := s.payloadBudget() - 3
	for !s.ackQueue.Empty() {
		ranges, _ := s.ackQueue.PopForMTU(budget)
		if len(ranges) == 0 {
			break
		}
		buf := append([]byte{datagramFlagValid | datagramFlagACK}, encodeRanges(ranges)...)
		if err := s.send(buf); err != nil {
			return err
		}
	}
	for !s.nackQueue.Empty() {
		ranges, _ := s.nackQueue.PopForMTU(budget)
		if len(ranges) == 0 {
			break
		}
		buf := append([]byte{datagramFlagValid | datagramFlagNAK}, encodeRanges(ranges)...)
		if err := s.send(buf); err != nil {
			return err
		}
	}
	s.ackDirty = false
	return nil
}

// HandleDatagram processes one raw UDP payload received from the peer
// (spec.md §4.1 "Receiving a datagram").
func (s *Session) HandleDatagram(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("raknet: empty datagram")
	}
	flags := data[0]
	if flags&datagramFlagValid == 0 {
		s.metrics.decodeError()
		return fmt.Errorf("raknet: datagram missing valid bit")
	}

	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()

	switch {
	case flags&datagramFlagACK != 0:
		return s.handleACK(data[1:])
	case flags&datagramFlagNAK != 0:
		return s.handleNAK(data[1:])
	default:
		return s.handleData(data)
	}
}

func (s *Session) handleACK(body []byte) error {
	ranges, err := decodeRanges(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranges {
		for v := r.Start.Uint32(); ; v = (v + 1) & seq24Mask {
			if e, ok := s.retransmit[v]; ok {
				s.rtt.Sample(time.Since(e.sentAt))
				delete(s.retransmit, v)
			}
			if v == r.End.Uint32() {
				break
			}
		}
	}
	return nil
}

func (s *Session) handleNAK(body []byte) error {
	ranges, err := decodeRanges(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	var resend []*retransmitEntry
	for _, r := range ranges {
		for v := r.Start.Uint32(); ; v = (v + 1) & seq24Mask {
			if e, ok := s.retransmit[v]; ok {
				resend = append(resend, e)
				delete(s.retransmit, v)
			}
			if v == r.End.Uint32() {
				break
			}
		}
	}
	for _, e := range resend {
		s.sendQueue = append(s.sendQueue, e.packets...)
	}
	s.metrics.retransmit(len(resend))
	err = s.flushLocked()
	s.mu.Unlock()
	return err
}

func (s *Session) handleData(data []byte) error {
	if len(data) < 4 {
		s.metrics.decodeError()
		return fmt.Errorf("raknet: data datagram truncated")
	}
	seq := readUint24(data[1:4])

	s.mu.Lock()
	s.ackQueue.Push(seq, seq)
	if !s.haveHighestSeq {
		s.highestSeq = seq
		s.haveHighestSeq = true
	} else if s.highestSeq.Less(seq) {
		expectedNext := s.highestSeq.Next()
		if expectedNext != seq {
			s.nackQueue.Push(expectedNext, seq.Add(^uint32(0)))
		}
		s.highestSeq = seq
	}
	s.mu.Unlock()

	off := 4
	var deliveries [][]byte
	for off < len(data) {
		e, n, err := ReadEncapsulated(data[off:])
		if err != nil {
			return err
		}
		off += n

		s.mu.Lock()
		out, releaseOK := s.processEncapsulatedLocked(e)
		s.mu.Unlock()
		if releaseOK {
			deliveries = append(deliveries, out...)
		}
	}
	for _, p := range deliveries {
		select {
		case s.Inbound <- p:
		default:
			// Inbound channel backpressure: drop rather than block the receive
			// loop (spec.md §5 "a full channel signals the game layer to slow
			// that session" — the signal here is the drop itself).
		}
	}
	return nil
}

// processEncapsulatedLocked applies dedup, split reassembly, and
// ordering/sequencing to one encapsulated packet, returning zero or more
// payloads now ready for delivery in order.
func (s *Session) processEncapsulatedLocked(e *EncapsulatedPacket) ([][]byte, bool) {
	if e.HasSplit {
		full, done, err := s.splitAsm.Add(e)
		if err != nil || !done {
			return nil, false
		}
		e = &EncapsulatedPacket{Reliability: e.Reliability, OrderIndex: e.OrderIndex, OrderChannel: e.OrderChannel, SequenceIndex: e.SequenceIndex, ReliableIndex: e.ReliableIndex, Payload: full}
	}

	if e.Reliability.reliable() {
		if _, dup := s.recentReliable.Get(e.ReliableIndex.Uint32()); dup {
			return nil, false
		}
		s.recentReliable.Add(e.ReliableIndex.Uint32(), struct{}{})
	}

	if e.Reliability.sequenced() {
		ch := e.OrderChannel
		if s.seqHighestSet[ch] && !s.seqHighest[ch].Less(e.SequenceIndex) {
			// Superseded by a sequence index already delivered on this channel.
			return nil, false
		}
		s.seqHighest[ch] = e.SequenceIndex
		s.seqHighestSet[ch] = true
		return [][]byte{e.Payload}, true
	}

	if e.Reliability.ordered() {
		return s.releaseOrderedLocked(e), true
	}
	return [][]byte{e.Payload}, true
}

// releaseOrderedLocked inserts e into its channel's ordering buffer and
// releases every contiguous-from-expected packet (spec.md §4.1 "insert
// into the per-channel ordering buffer; release all contiguous-from-
// expected packets").
func (s *Session) releaseOrderedLocked(e *EncapsulatedPacket) [][]byte {
	ch := e.OrderChannel
	expected := s.orderExpected[ch]
	if e.OrderIndex.Less(expected) {
		return nil // already delivered, duplicate
	}
	s.orderBuffer[ch][e.OrderIndex.Uint32()] = e

	var out [][]byte
	for {
		next, ok := s.orderBuffer[ch][expected.Uint32()]
		if !ok {
			break
		}
		out = append(out, next.Payload)
		delete(s.orderBuffer[ch], expected.Uint32())
		expected = expected.Next()
	}
	s.orderExpected[ch] = expected
	return out
}

// Tick drives periodic session maintenance: ACK flushing, RTO-based
// retransmission, and timeout detection. Called by the owning
// Listener/Dialer on a shared timer per spec.md §5 "Timers".
func (s *Session) Tick() error {
	s.mu.Lock()
	if time.Since(s.lastSeen) > sessionTimeout {
		s.mu.Unlock()
		s.Close(fmt.Errorf("raknet: session timed out"))
		return nil
	}
	now := time.Now()
	var toResend []*retransmitEntry
	for seq, e := range s.retransmit {
		if now.Sub(e.sentAt) <= e.rto {
			continue
		}
		e.resends++
		if e.resends > maxResends {
			delete(s.retransmit, seq)
			s.mu.Unlock()
			s.Close(fmt.Errorf("raknet: exceeded max resends"))
			return nil
		}
		e.sentAt = now
		e.rto *= 2
		if e.rto > rtoMax {
			e.rto = rtoMax
		}
		toResend = append(toResend, e)
		delete(s.retransmit, seq)
	}
	s.metrics.retransmit(len(toResend))
	for _, e := range toResend {
		// Each expired datagram goes out again as one new datagram whose
		// entry keeps the resend count and backed-off RTO.
		seq := s.nextDatagramSeq
		if err := s.sendDatagramLocked(e.packets); err != nil {
			s.mu.Unlock()
			return err
		}
		if r, ok := s.retransmit[seq.Uint32()]; ok {
			r.resends, r.rto = e.resends, e.rto
		}
	}
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

// Close tears the session down: it closes the Closed channel and
// notifies the owning listener/dialer through the OnClose callback
// (spec.md §5 "Cancellation").
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.metrics.sessionClosed()
		if s.onClose != nil {
			s.onClose(reason)
		}
	})
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// OnClose registers a callback invoked exactly once when the session
// closes.
func (s *Session) OnClose(fn func(reason error)) { s.onClose = fn }
