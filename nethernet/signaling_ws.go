package nethernet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// wsEnvelope is the wire shape of one Signal crossing the WebSocket,
// mirroring Signal's fields directly since the signaling service itself
// does no interpretation of Payload (spec.md §4.2 "Signaling").
type wsEnvelope struct {
	Kind      SignalKind `json:"kind"`
	NetworkID uint64     `json:"networkId"`
	Payload   string     `json:"payload"`
}

// WebSocketSignaling implements Signaling over a single WebSocket
// connection to an Xbox-Live-style signaling service, the transport
// gophertunnel's NetherNet dial path uses outside of LAN discovery
// (spec.md §4.2 "Signaling", "may be backed by a WebSocket").
//
// Grounded on gosuda-portal's use of github.com/coder/websocket as its
// WebSocket client for exactly this kind of lightweight bidirectional
// signaling channel.
type WebSocketSignaling struct {
	conn *websocket.Conn

	signals chan Signal

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWebSocketSignaling connects to a signaling service at url and
// starts pumping inbound signals into Signals(). The caller must call
// Close when done.
func DialWebSocketSignaling(ctx context.Context, url string) (*WebSocketSignaling, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, newError(SignalingError, err)
	}
	s := &WebSocketSignaling{
		conn:    c,
		signals: make(chan Signal, 64),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WebSocketSignaling) readLoop() {
	defer close(s.signals)
	ctx := context.Background()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case s.signals <- Signal{Kind: env.Kind, NetworkID: env.NetworkID, Payload: env.Payload}:
		case <-s.closed:
			return
		}
	}
}

// Send implements Signaling.
func (s *WebSocketSignaling) Send(ctx context.Context, sig Signal) error {
	b, err := json.Marshal(wsEnvelope{Kind: sig.Kind, NetworkID: sig.NetworkID, Payload: sig.Payload})
	if err != nil {
		return newError(SignalingError, err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return newError(SignalingError, err)
	}
	return nil
}

// Signals implements Signaling.
func (s *WebSocketSignaling) Signals() <-chan Signal { return s.signals }

// Close tears down the underlying WebSocket connection.
func (s *WebSocketSignaling) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	if err != nil {
		return fmt.Errorf("nethernet: close signaling websocket: %w", err)
	}
	return nil
}
