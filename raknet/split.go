package raknet

import (
	"fmt"
	"time"
)

// maxConcurrentSplits and maxSplitBytes bound the per-peer split
// assembler against the attack spec.md §9 calls out: "send one fragment
// with split_count=65535". Grounded on original_source/tokio-raknet's
// per-session (not listener-wide) SplitPacketChannel bound.
const (
	maxConcurrentSplits = 4
	maxSplitBytes       = 4 * 1024 * 1024
	splitTTL            = 10 * time.Second
)

type splitEntry struct {
	count    uint32
	received map[uint32][]byte
	bytes    int
	arrived  time.Time
}

// splitAssembler reassembles fragmented EncapsulatedPackets for one peer.
// Not safe for concurrent use; callers serialize access through the
// owning Session's receive loop.
type splitAssembler struct {
	entries   map[uint16]*splitEntry
	totalBytes int
}

func newSplitAssembler() *splitAssembler {
	return &splitAssembler{entries: make(map[uint16]*splitEntry)}
}

// Add feeds one fragment into the assembler. It returns the reassembled
// payload and true once the final fragment of a split id arrives; it
// returns (nil, false) while more fragments are still expected.
func (a *splitAssembler) Add(e *EncapsulatedPacket) ([]byte, bool, error) {
	a.prune()

	entry, ok := a.entries[e.SplitID]
	if !ok {
		if len(a.entries) >= maxConcurrentSplits {
			return nil, false, fmt.Errorf("raknet: too many concurrent split messages")
		}
		entry = &splitEntry{count: e.SplitCount, received: make(map[uint32][]byte), arrived: time.Now()}
		a.entries[e.SplitID] = entry
	}
	if e.SplitCount != entry.count {
		return nil, false, fmt.Errorf("raknet: split count mismatch for split id %d", e.SplitID)
	}
	if _, dup := entry.received[e.SplitIndex]; dup {
		// Arrival of a duplicate fragment of an already-tracked split id is ignored.
		return nil, false, nil
	}
	if entry.bytes+len(e.Payload) > maxSplitBytes || a.totalBytes+len(e.Payload) > maxSplitBytes {
		delete(a.entries, e.SplitID)
		return nil, false, fmt.Errorf("raknet: split message exceeds byte budget")
	}
	entry.received[e.SplitIndex] = e.Payload
	entry.bytes += len(e.Payload)
	a.totalBytes += len(e.Payload)

	if uint32(len(entry.received)) < entry.count {
		return nil, false, nil
	}
	out := make([]byte, 0, entry.bytes)
	for i := uint32(0); i < entry.count; i++ {
		out = append(out, entry.received[i]...)
	}
	a.totalBytes -= entry.bytes
	delete(a.entries, e.SplitID)
	return out, true, nil
}

// prune drops split entries that have been incomplete for longer than
// splitTTL, lazily, on every Add call (spec.md §3 "Expired entries are
// pruned lazily").
func (a *splitAssembler) prune() {
	now := time.Now()
	for id, entry := range a.entries {
		if now.Sub(entry.arrived) > splitTTL {
			a.totalBytes -= entry.bytes
			delete(a.entries, id)
		}
	}
}
