package raknet

import (
	"encoding/binary"
	"sort"
)

// seqRange is an inclusive [Start, End] range of Seq24 values.
type seqRange struct {
	Start, End Seq24
}

// rangeQueue is a set of sequence numbers represented as merged ranges,
// used for both the outgoing ACK queue and the outgoing NACK queue.
// Grounded on ventosilenzioso-go-raknet's Session.ACKQueue dedup-set,
// generalized into true merged ranges: spec.md §4.1 requires ACK/NACK
// datagrams to carry compressed ranges, not per-sequence records.
type rangeQueue struct {
	ranges []seqRange
}

// Push adds the inclusive range [start, end] to the queue, merging it
// with any adjacent or overlapping existing ranges.
func (q *rangeQueue) Push(start, end Seq24) {
	q.ranges = append(q.ranges, seqRange{start, end})
	q.normalize()
}

// normalize sorts and merges overlapping/adjacent ranges in place.
// Assumes no wraparound within any ranges being merged together (valid
// within one session's lifetime window).
func (q *rangeQueue) normalize() {
	if len(q.ranges) < 2 {
		return
	}
	sort.Slice(q.ranges, func(i, j int) bool { return q.ranges[i].Start.Uint32() < q.ranges[j].Start.Uint32() })
	merged := q.ranges[:1]
	for _, r := range q.ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start.Uint32() <= last.End.Uint32()+1 {
			if r.End.Uint32() > last.End.Uint32() {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	q.ranges = merged
}

// Empty reports whether the queue has no pending ranges.
func (q *rangeQueue) Empty() bool { return len(q.ranges) == 0 }

// PopForMTU greedily packs the smallest-sequence ranges into at most
// budget bytes (mtu - overhead), appending each packed range to out, and
// returns the number of bytes used. Packed ranges are removed from the
// queue.
func (q *rangeQueue) PopForMTU(budget int) (out []seqRange, used int) {
	const perRange = 7 // 1 byte max-equals-min flag + 3 bytes start + (3 bytes end, omitted when singleton)
	i := 0
	for i < len(q.ranges) {
		r := q.ranges[i]
		size := 4 // flag + start
		if r.Start != r.End {
			size = perRange
		}
		if used+size > budget {
			break
		}
		out = append(out, r)
		used += size
		i++
	}
	q.ranges = q.ranges[i:]
	return out, used
}

// All returns every pending range and empties the queue, used when the
// caller wants to flush everything regardless of budget.
func (q *rangeQueue) All() []seqRange {
	out := append([]seqRange(nil), q.ranges...)
	q.ranges = nil
	return out
}

// encodeRanges writes a RakNet ACK/NACK body: a uint16 record count
// followed by, per record, a max-equals-min flag byte and either one or
// two 24-bit sequence numbers (spec.md §4.1 "ACKs and NAKs carry
// compressed sequence ranges").
func encodeRanges(ranges []seqRange) []byte {
	buf := make([]byte, 2, 2+len(ranges)*7)
	binary.BigEndian.PutUint16(buf, uint16(len(ranges)))
	for _, r := range ranges {
		if r.Start == r.End {
			buf = append(buf, 1)
			var b [3]byte
			writeUint24(b[:], r.Start)
			buf = append(buf, b[:]...)
			continue
		}
		buf = append(buf, 0)
		var b [3]byte
		writeUint24(b[:], r.Start)
		buf = append(buf, b[:]...)
		writeUint24(b[:], r.End)
		buf = append(buf, b[:]...)
	}
	return buf
}

// decodeRanges parses the body written by encodeRanges.
func decodeRanges(data []byte) ([]seqRange, error) {
	if len(data) < 2 {
		return nil, errShortACK
	}
	count := binary.BigEndian.Uint16(data)
	off := 2
	out := make([]seqRange, 0, count)
	for i := uint16(0); i < count; i++ {
		if off+1+3 > len(data) {
			return nil, errShortACK
		}
		maxEqualsMin := data[off] != 0
		off++
		start := readUint24(data[off:])
		off += 3
		end := start
		if !maxEqualsMin {
			if off+3 > len(data) {
				return nil, errShortACK
			}
			end = readUint24(data[off:])
			off += 3
		}
		out = append(out, seqRange{start, end})
	}
	return out, nil
}
