package raknet

import (
	"encoding/binary"
	"fmt"
)

// EncapsulatedPacket is one logical RakNet message carried inside a data
// datagram, per spec.md §3 "EncapsulatedPacket". Layout is modelled on
// ventosilenzioso-go-raknet's EncapsulatedPacket/DataPacket encode-decode
// pair, adjusted from that SA-MP source's 24-bit little-endian single
// channel assumption to Bedrock's 0-31 channel ordering/sequencing.
type EncapsulatedPacket struct {
	Reliability Reliability

	HasSplit bool
	// ReliableIndex is set when Reliability.reliable() is true.
	ReliableIndex Seq24
	// SequenceIndex is set when Reliability.sequenced() is true.
	SequenceIndex Seq24
	// OrderIndex/OrderChannel are set when Reliability.ordered() or
	// Reliability.sequenced() is true.
	OrderIndex   Seq24
	OrderChannel uint8

	SplitID    uint16
	SplitIndex uint32
	SplitCount uint32

	Payload []byte
}

// headerByte packs (reliability<<5) | (split?0x10:0) | (needsBAS?0x04:0)
// per spec.md §6 "Encapsulated header".
func (e *EncapsulatedPacket) headerByte() byte {
	b := byte(e.Reliability) << 5
	if e.HasSplit {
		b |= 0x10
	}
	if e.Reliability.withAckReceipt() {
		b |= 0x04
	}
	return b
}

// Size returns the encoded byte length of the packet, used when binning
// packets into MTU-sized datagrams.
func (e *EncapsulatedPacket) Size() int {
	n := 1 + 2 // header byte + bit-length uint16
	if e.Reliability.reliable() {
		n += 3
	}
	if e.Reliability.sequenced() {
		n += 3
	}
	if e.Reliability.ordered() || e.Reliability.sequenced() {
		n += 4
	}
	if e.HasSplit {
		n += 10
	}
	return n + len(e.Payload)
}

func writeUint24(dst []byte, v Seq24) {
	x := v.Uint32()
	dst[0] = byte(x)
	dst[1] = byte(x >> 8)
	dst[2] = byte(x >> 16)
}

func readUint24(src []byte) Seq24 {
	return NewSeq24(uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16)
}

// Write appends the encoded packet to dst and returns the result.
func (e *EncapsulatedPacket) Write(dst []byte) []byte {
	dst = append(dst, e.headerByte())
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.Payload))*8)
	dst = append(dst, lenBuf[:]...)

	if e.Reliability.reliable() {
		var b [3]byte
		writeUint24(b[:], e.ReliableIndex)
		dst = append(dst, b[:]...)
	}
	if e.Reliability.sequenced() {
		var b [3]byte
		writeUint24(b[:], e.SequenceIndex)
		dst = append(dst, b[:]...)
	}
	if e.Reliability.ordered() || e.Reliability.sequenced() {
		var b [3]byte
		writeUint24(b[:], e.OrderIndex)
		dst = append(dst, b[:]...)
		dst = append(dst, e.OrderChannel)
	}
	if e.HasSplit {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e.SplitCount)
		dst = append(dst, b[:]...)
		var id [2]byte
		binary.BigEndian.PutUint16(id[:], e.SplitID)
		dst = append(dst, id[:]...)
		binary.BigEndian.PutUint32(b[:], e.SplitIndex)
		dst = append(dst, b[:]...)
	}
	return append(dst, e.Payload...)
}

// ReadEncapsulated parses one EncapsulatedPacket from src, returning the
// packet and the number of bytes consumed.
func ReadEncapsulated(src []byte) (*EncapsulatedPacket, int, error) {
	if len(src) < 3 {
		return nil, 0, fmt.Errorf("raknet: encapsulated header truncated")
	}
	e := &EncapsulatedPacket{}
	flags := src[0]
	e.Reliability = Reliability((flags >> 5) & 0x07)
	e.HasSplit = flags&0x10 != 0

	bitLen := binary.BigEndian.Uint16(src[1:3])
	byteLen := int((bitLen + 7) / 8)
	off := 3

	need := func(n int) error {
		if off+n > len(src) {
			return fmt.Errorf("raknet: encapsulated packet truncated")
		}
		return nil
	}

	if e.Reliability.reliable() {
		if err := need(3); err != nil {
			return nil, 0, err
		}
		e.ReliableIndex = readUint24(src[off:])
		off += 3
	}
	if e.Reliability.sequenced() {
		if err := need(3); err != nil {
			return nil, 0, err
		}
		e.SequenceIndex = readUint24(src[off:])
		off += 3
	}
	if e.Reliability.ordered() || e.Reliability.sequenced() {
		if err := need(4); err != nil {
			return nil, 0, err
		}
		e.OrderIndex = readUint24(src[off:])
		off += 3
		e.OrderChannel = src[off]
		off++
	}
	if e.HasSplit {
		if err := need(10); err != nil {
			return nil, 0, err
		}
		e.SplitCount = binary.BigEndian.Uint32(src[off:])
		off += 4
		e.SplitID = binary.BigEndian.Uint16(src[off:])
		off += 2
		e.SplitIndex = binary.BigEndian.Uint32(src[off:])
		off += 4
	}
	if err := need(byteLen); err != nil {
		return nil, 0, err
	}
	e.Payload = append([]byte(nil), src[off:off+byteLen]...)
	off += byteLen
	return e, off, nil
}
