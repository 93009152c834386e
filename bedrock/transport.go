package bedrock

import (
	"context"
	"fmt"

	"github.com/sandertv/gophertunnel/nethernet"
	"github.com/sandertv/gophertunnel/raknet"
)

// Transport is the uniform Sink/Stream contract a Bedrock session drives
// regardless of which wire carries it: RakNet's reliable-ordered channel
// 0, or NetherNet's reliable data channel (spec.md §4.6, §5 "Within the
// Bedrock Play stream, packet delivery order ... = RakNet channel-0
// delivery order (or SCTP ordered DC order for NetherNet)").
type Transport interface {
	// Send transmits one already-framed batch over the transport's
	// reliable ordered channel.
	Send(frame []byte) error
	// Recv blocks for the next inbound frame, or returns ctx.Err() /
	// a *TransportError when the transport closes first.
	Recv(ctx context.Context) ([]byte, error)
	// Close tears the transport down (spec.md §5 "Cancellation").
	Close() error
	// WithPrefix reports whether batches on this transport carry the
	// leading 0xFE marker (spec.md §4.3 "Framing rule").
	WithPrefix() bool
	// HeaderLen is the plaintext prefix length per encryption frame
	// (spec.md §4.4 step 7): 1 for RakNet, 0 for NetherNet.
	HeaderLen() int
}

const raknetReliableChannel = 0

// raknetTransport adapts a raknet.Session to Transport, always sending
// on ReliableOrdered channel 0, the channel the Bedrock Play stream
// requires for its single ordering guarantee.
type raknetTransport struct {
	session *raknet.Session
}

// NewRakNetTransport wraps an established RakNet session.
func NewRakNetTransport(session *raknet.Session) Transport {
	return &raknetTransport{session: session}
}

func (t *raknetTransport) Send(frame []byte) error {
	return t.session.Send(frame, raknet.ReliableOrdered, raknetReliableChannel)
}

func (t *raknetTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.session.Inbound:
		if !ok {
			return nil, transportErr(ConnectionClosed, fmt.Errorf("raknet session closed"))
		}
		return frame, nil
	case <-t.session.Closed():
		return nil, transportErr(ConnectionClosed, fmt.Errorf("raknet session closed"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *raknetTransport) Close() error {
	t.session.Close(nil)
	return nil
}

func (t *raknetTransport) WithPrefix() bool { return true }
func (t *raknetTransport) HeaderLen() int   { return 1 }

// netherNetTransport adapts a nethernet.Conn to Transport, always
// sending reliable=true. The transport does not itself turn Bedrock
// encryption off; that is decided by ServerConfig.EncryptionEnabled (DTLS
// already provides confidentiality, spec.md §8 scenario S6). The Bedrock
// batch framing and ordering contract is identical.
type netherNetTransport struct {
	conn *nethernet.Conn
}

// NewNetherNetTransport wraps an already-negotiated NetherNet connection.
func NewNetherNetTransport(conn *nethernet.Conn) Transport {
	return &netherNetTransport{conn: conn}
}

func (t *netherNetTransport) Send(frame []byte) error {
	return t.conn.Send(frame, true)
}

func (t *netherNetTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-t.conn.Inbound():
		if !ok {
			return nil, transportErr(DataChannelClosed, fmt.Errorf("nethernet connection closed"))
		}
		return msg.Payload, nil
	case <-t.conn.Closed():
		return nil, transportErr(DataChannelClosed, fmt.Errorf("nethernet connection closed"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *netherNetTransport) Close() error {
	return t.conn.Close()
}

func (t *netherNetTransport) WithPrefix() bool { return false }
func (t *netherNetTransport) HeaderLen() int   { return 0 }
