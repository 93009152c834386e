package raknet

// Seq24 is a 24-bit wrapping counter used for datagram sequence numbers,
// reliable message indices, ordering indices and sequence indices.
// Comparisons are circular: a value is considered "less than" another if
// advancing from it by up to half of the counter space reaches the other.
// Never compare two Seq24 values with the native <, <= operators directly;
// always go through Less/LessEqual so wraparound at 2^24-1 -> 0 is handled.
type Seq24 uint32

// seq24Mask masks a value down to the 24-bit counter space.
const seq24Mask = 1<<24 - 1

// seq24Half is the midpoint of the counter space used to decide which
// direction around the circle is "forward".
const seq24Half = 1 << 23

// NewSeq24 wraps v into the 24-bit counter space.
func NewSeq24(v uint32) Seq24 { return Seq24(v & seq24Mask) }

// Add returns s advanced by delta, wrapping modulo 2^24.
func (s Seq24) Add(delta uint32) Seq24 { return Seq24((uint32(s) + delta) & seq24Mask) }

// Next returns s+1 (mod 2^24).
func (s Seq24) Next() Seq24 { return s.Add(1) }

// Less reports whether s precedes o in circular order: true iff
// ((o - s) mod 2^24) lies in [1, 2^23).
func (s Seq24) Less(o Seq24) bool {
	diff := (uint32(o) - uint32(s)) & seq24Mask
	return diff != 0 && diff < seq24Half
}

// LessEqual reports whether s precedes or equals o in circular order.
func (s Seq24) LessEqual(o Seq24) bool { return s == o || s.Less(o) }

// Greater reports whether s follows o in circular order.
func (s Seq24) Greater(o Seq24) bool { return o.Less(s) }

// Distance returns the forward circular distance from s to o, i.e. the
// number of Next() calls needed to reach o from s.
func (s Seq24) Distance(o Seq24) uint32 { return (uint32(o) - uint32(s)) & seq24Mask }

// Uint32 returns the underlying counter value.
func (s Seq24) Uint32() uint32 { return uint32(s) }
