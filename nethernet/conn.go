package nethernet

import "context"

// Conn adapts a PeerConnection's two data channels to the same
// Send/Inbound/Close shape raknet.Session exposes, so bedrock/transport.go
// can adapt either transport without a type switch (spec.md §1(b): "data
// channels must present the same Sink/Stream contract as RakNet").
//
// Grounded on wilsonzlin-aero's webrtcpeer/datachannels.go pairing of a
// reliable and unreliable channel behind one handle.
type Conn struct {
	peer *PeerConnection
}

// NewConn wraps an already-negotiated PeerConnection.
func NewConn(p *PeerConnection) *Conn { return &Conn{peer: p} }

// Send routes payload to the reliable or unreliable data channel
// (spec.md §3 "NetherNetMessage").
func (c *Conn) Send(payload []byte, reliable bool) error {
	return c.peer.Send(payload, reliable)
}

// Inbound exposes the channel of messages received from either data
// channel, tagged with the channel they arrived on.
func (c *Conn) Inbound() <-chan NetherNetMessage { return c.peer.Inbound }

// Close closes both data channels and the underlying PeerConnection.
// Per spec.md §5 "Cancellation", NetherNet sessions close their data
// channels rather than send a best-effort disconnection notification
// (that's RakNet's mechanism; DTLS/SCTP teardown is NetherNet's).
func (c *Conn) Close() error {
	c.peer.Close(newError(ConnectionClosed, context.Canceled))
	return nil
}

// Closed reports when the connection has torn down.
func (c *Conn) Closed() <-chan struct{} { return c.peer.Closed() }
