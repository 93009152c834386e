package nethernet

import "context"

// SignalKind identifies the purpose of a Signal envelope (spec.md §3
// "Signal").
type SignalKind uint8

const (
	SignalConnectionRequest SignalKind = iota
	SignalConnectionResponse
	SignalCandidateAdd
	SignalCandidateRemove
	SignalError
)

// Signal is one out-of-band handshake message exchanged through a
// Signaling capability (spec.md §3 "Signal", §4.2 "Signaling").
type Signal struct {
	Kind      SignalKind
	NetworkID uint64
	Payload   string
}

// Signaling is the out-of-band channel NetherNet uses to exchange SDP
// offers/answers and trickled ICE candidates. Implementations may be
// backed by a WebSocket (Xbox Live) or UDP broadcast (LAN discovery,
// see discovery.go) — the transport itself makes no I/O assumption
// (spec.md §4.2 "No transport-layer I/O assumptions").
//
// Modelled on backkem-matter's exchange.Manager: a Send/Recv pair keyed
// by a correlation id (here, NetworkID) rather than Matter's exchange
// id, since NetherNet signals are already addressed by network id.
type Signaling interface {
	// Send delivers s to the peer identified by s.NetworkID.
	Send(ctx context.Context, s Signal) error
	// Signals returns the channel of signals pushed by the hosting
	// environment, addressed to the local network id.
	Signals() <-chan Signal
}
