package nethernet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// NegotiationTimeoutDefault bounds how long a Dial/Accept sequence may
// take before the offer is abandoned (spec.md §4.2 "default 15 s").
const NegotiationTimeoutDefault = 15 * time.Second

const (
	reliableLabel   = "ReliableDataChannel"
	unreliableLabel = "UnreliableDataChannel"
)

// Config carries the ICE server list and negotiation timeout for a
// PeerConnection (spec.md §4.2 "configured ICE servers (STUN/TURN)").
type Config struct {
	ICEServers         []webrtc.ICEServer
	NegotiationTimeout time.Duration

	// LoggerFactory routes Pion's internal ICE/DTLS/SCTP logs through the
	// caller's logger. Defaults to Pion's own logger when nil.
	LoggerFactory logging.LoggerFactory
}

func (c Config) timeout() time.Duration {
	if c.NegotiationTimeout > 0 {
		return c.NegotiationTimeout
	}
	return NegotiationTimeoutDefault
}

// PeerConnection pairs a Pion WebRTC connection with its reliable and
// unreliable data channels, presenting the same inbound-message channel
// contract raknet.Session exposes via Inbound so the Bedrock session
// layer can treat either transport uniformly (spec.md §4.2 point 5
// "When both data channels open, the stream is ready").
//
// Structured after n0remac-robot-webrtc's webrtc/sfu.go PeerConnection
// lifecycle (ICE candidate forwarding callback, OnDataChannel
// registration) composed with backkem-matter's handler-registration
// idiom for correlating signaling messages to a single negotiation.
type PeerConnection struct {
	NetworkID uint64

	pc           *webrtc.PeerConnection
	reliableDC   *webrtc.DataChannel
	unreliableDC *webrtc.DataChannel

	// rawReliable/rawUnreliable are the detached raw readers/writers
	// backing each data channel (spec.md §3 "NetherNetMessage" delivery),
	// obtained via webrtc.DataChannel.Detach once each channel opens.
	rawReliable   datachannel.ReadWriteCloser
	rawUnreliable datachannel.ReadWriteCloser

	Inbound chan NetherNetMessage

	readyOnce sync.Once
	ready     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NetherNetMessage is one payload delivered over either data channel
// (spec.md §3 "NetherNetMessage").
type NetherNetMessage struct {
	Payload  []byte
	Reliable bool
}

func newPeerConnection(networkID uint64, cfg Config) (*PeerConnection, error) {
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}
	// Detach hands each data channel to us as a plain
	// datachannel.ReadWriteCloser instead of an OnMessage callback, so
	// NetherNetMessage delivery reads off the wire the same way
	// raknet.Session's Inbound pump does (a blocking Read loop per peer)
	// rather than Pion's own callback dispatch.
	se.DetachDataChannels()
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	raw, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, newError(ICEFailure, err)
	}
	p := &PeerConnection{
		NetworkID: networkID,
		pc:        raw,
		Inbound:   make(chan NetherNetMessage, 256),
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
	raw.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			p.Close(newError(ICEFailure, fmt.Errorf("ice connection failed")))
		}
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateDisconnected {
			p.Close(newError(ConnectionClosed, nil))
		}
	})
	return p, nil
}

func (p *PeerConnection) bindDataChannel(dc *webrtc.DataChannel, reliable bool) {
	if reliable {
		p.reliableDC = dc
	} else {
		p.unreliableDC = dc
	}
	dc.OnClose(func() {
		p.Close(newError(ConnectionClosed, fmt.Errorf("%s closed", dc.Label())))
	})
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			p.Close(newError(ICEFailure, fmt.Errorf("detach %s: %w", dc.Label(), err)))
			return
		}
		if reliable {
			p.rawReliable = raw
		} else {
			p.rawUnreliable = raw
		}
		go p.readLoop(raw, reliable)

		if p.reliableDC != nil && p.unreliableDC != nil &&
			p.reliableDC.ReadyState() == webrtc.DataChannelStateOpen &&
			p.unreliableDC.ReadyState() == webrtc.DataChannelStateOpen {
			p.readyOnce.Do(func() { close(p.ready) })
		}
	})
}

// readLoop pumps messages off a detached data channel into Inbound until
// it errors (remote close) or the PeerConnection itself closes.
func (p *PeerConnection) readLoop(raw datachannel.ReadWriteCloser, reliable bool) {
	buf := make([]byte, MaxMessageSize)
	for {
		n, err := raw.Read(buf)
		if err != nil {
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		select {
		case p.Inbound <- NetherNetMessage{Payload: payload, Reliable: reliable}:
		case <-p.closed:
			return
		}
	}
}

// MaxMessageSize bounds a single NetherNetMessage read off a detached
// data channel (SCTP's own chunking handles anything larger on the wire).
const MaxMessageSize = 64 * 1024

// Send writes payload to the reliable-ordered channel when reliable is
// true, otherwise the unreliable channel (spec.md §3 "Maps to either
// the reliable-ordered or unreliable data channel").
func (p *PeerConnection) Send(payload []byte, reliable bool) error {
	raw := p.rawUnreliable
	if reliable {
		raw = p.rawReliable
	}
	if raw == nil {
		return fmt.Errorf("nethernet: data channel not yet open")
	}
	_, err := raw.Write(payload)
	return err
}

// Ready blocks until both data channels are open or ctx is done.
func (p *PeerConnection) Ready(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return newError(NegotiationTimeout, ctx.Err())
	case <-p.closed:
		return p.closeErr
	}
}

// Close tears down the PeerConnection and both data channels.
func (p *PeerConnection) Close(reason error) {
	p.closeOnce.Do(func() {
		p.closeErr = reason
		close(p.closed)
		_ = p.pc.Close()
	})
}

// Closed reports when the peer connection has been torn down.
func (p *PeerConnection) Closed() <-chan struct{} { return p.closed }

// Dial performs the offerer sequence: open the reliable+unreliable data
// channels, create an SDP offer, exchange it and trickled ICE candidates
// over sig, and wait for both channels to open (spec.md §4.2 "Dial
// sequence").
func Dial(ctx context.Context, sig Signaling, networkID uint64, cfg Config) (*PeerConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	p, err := newPeerConnection(networkID, cfg)
	if err != nil {
		return nil, err
	}

	ordered := true
	reliableDC, err := p.pc.CreateDataChannel(reliableLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	p.bindDataChannel(reliableDC, true)

	unordered := false
	maxRetransmits := uint16(0)
	unreliableDC, err := p.pc.CreateDataChannel(unreliableLabel, &webrtc.DataChannelInit{Ordered: &unordered, MaxRetransmits: &maxRetransmits})
	if err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	p.bindDataChannel(unreliableDC, false)

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		_ = sig.Send(ctx, Signal{Kind: SignalCandidateAdd, NetworkID: networkID, Payload: string(b)})
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}

	sdpBytes, _ := json.Marshal(offer)
	if err := sig.Send(ctx, Signal{Kind: SignalConnectionRequest, NetworkID: networkID, Payload: string(sdpBytes)}); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}

	if err := pumpSignalsUntilReady(ctx, p, sig, networkID); err != nil {
		p.Close(err)
		return nil, err
	}
	return p, nil
}

// Accept performs the answerer sequence: on a ConnectionRequest signal,
// create a PeerConnection, register the remote's forthcoming data
// channels, set the remote description, answer, and forward local
// candidates until both channels open (spec.md §4.2 "Accept sequence").
func Accept(ctx context.Context, sig Signaling, req Signal, cfg Config) (*PeerConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	p, err := newPeerConnection(req.NetworkID, cfg)
	if err != nil {
		return nil, err
	}

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.bindDataChannel(dc, dc.Label() == reliableLabel)
	})
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		_ = sig.Send(ctx, Signal{Kind: SignalCandidateAdd, NetworkID: req.NetworkID, Payload: string(b)})
	})

	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(req.Payload), &offer); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	if err := validateSDP(offer.SDP); err != nil {
		p.Close(err)
		return nil, err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}
	sdpBytes, _ := json.Marshal(answer)
	if err := sig.Send(ctx, Signal{Kind: SignalConnectionResponse, NetworkID: req.NetworkID, Payload: string(sdpBytes)}); err != nil {
		p.Close(err)
		return nil, newError(SignalingError, err)
	}

	if err := pumpSignalsUntilReady(ctx, p, sig, req.NetworkID); err != nil {
		p.Close(err)
		return nil, err
	}
	return p, nil
}

// validateSDP parses raw with pion/sdp to reject a malformed offer/answer
// before it reaches Pion's own SetRemoteDescription, which otherwise
// fails with a less specific error deep inside the SDP/ICE stack.
func validateSDP(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return newError(SignalingError, fmt.Errorf("parse sdp: %w", err))
	}
	if len(desc.MediaDescriptions) == 0 {
		return newError(SignalingError, fmt.Errorf("sdp carries no media descriptions"))
	}
	return nil
}

// pumpSignalsUntilReady drains sig.Signals() for candidates/response
// addressed to networkID until either both data channels report open or
// ctx expires.
func pumpSignalsUntilReady(ctx context.Context, p *PeerConnection, sig Signaling, networkID uint64) error {
	for {
		select {
		case <-p.ready:
			return nil
		case <-ctx.Done():
			return newError(NegotiationTimeout, ctx.Err())
		case s, ok := <-sig.Signals():
			if !ok || s.NetworkID != networkID {
				continue
			}
			switch s.Kind {
			case SignalConnectionResponse:
				var answer webrtc.SessionDescription
				if err := json.Unmarshal([]byte(s.Payload), &answer); err != nil {
					return newError(SignalingError, err)
				}
				if err := validateSDP(answer.SDP); err != nil {
					return err
				}
				if err := p.pc.SetRemoteDescription(answer); err != nil {
					return newError(SignalingError, err)
				}
			case SignalCandidateAdd:
				var c webrtc.ICECandidateInit
				if err := json.Unmarshal([]byte(s.Payload), &c); err != nil {
					return newError(SignalingError, err)
				}
				if _, err := ice.UnmarshalCandidate(c.Candidate); err != nil {
					return newError(ICEFailure, err)
				}
				if err := p.pc.AddICECandidate(c); err != nil {
					return newError(ICEFailure, err)
				}
			case SignalError:
				return newError(SignalingError, fmt.Errorf("%s", s.Payload))
			}
		}
	}
}
