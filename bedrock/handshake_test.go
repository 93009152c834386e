package bedrock

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

var errUnexpectedPhase = errors.New("unexpected handshake phase")

// pipeTransport is an in-memory Transport backed by a pair of buffered
// channels, standing in for a raknet.Session or nethernet.Conn so the
// handshake state machine can be driven end-to-end without a socket.
type pipeTransport struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

func newPipeTransports() (a, b *pipeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a = &pipeTransport{out: ab, in: ba, closed: make(chan struct{})}
	b = &pipeTransport{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (p *pipeTransport) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case p.out <- cp:
		return nil
	case <-p.closed:
		return transportErr(ConnectionClosed, nil)
	}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.closed:
		return nil, transportErr(ConnectionClosed, nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error {
	close(p.closed)
	return nil
}

func (p *pipeTransport) WithPrefix() bool { return false }
func (p *pipeTransport) HeaderLen() int   { return 0 }

func newP384Key(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestHandshakeUnencryptedToPlay(t *testing.T) {
	serverT, clientT := newPipeTransports()

	serverCfg := DefaultServerConfig()
	serverCfg.OnlineMode = false
	serverCfg.EncryptionEnabled = false

	clientCfg := ClientConfig{
		ClientProtocol: SupportedProtocol,
		IdentityKey:    newP384Key(t),
		DisplayName:    "Steve",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	var serverPlay *PlaySession
	go func() {
		hs := NewHandshakeSession(serverT, serverCfg)
		login, err := hs.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		next, _, err := login.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		rp, ok := next.(*ResourcePacksSession)
		if !ok {
			serverErr <- errUnexpectedPhase
			return
		}
		sg, err := rp.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		play, err := sg.Advance(ctx, GameData{WorldSeed: 42, Dimension: 0, GameMode: 1, PlayerEntityID: 7}, RegistryData{})
		if err != nil {
			serverErr <- err
			return
		}
		serverPlay = play
		serverErr <- nil
	}()

	clientHS := NewClientHandshakeSession(clientT, clientCfg)
	clientLogin, err := clientHS.Advance(ctx)
	if err != nil {
		t.Fatalf("client request_settings: %v", err)
	}
	next, err := clientLogin.Advance(ctx)
	if err != nil {
		t.Fatalf("client send_login: %v", err)
	}
	clientRP, ok := next.(*ClientResourcePacksSession)
	if !ok {
		t.Fatalf("expected ClientResourcePacksSession, got %T", next)
	}
	clientSG, err := clientRP.Advance(ctx)
	if err != nil {
		t.Fatalf("client resource packs: %v", err)
	}
	clientPlay, gd, _, err := clientSG.Advance(ctx)
	if err != nil {
		t.Fatalf("client await_start_game: %v", err)
	}
	if gd.WorldSeed != 42 || gd.PlayerEntityID != 7 {
		t.Fatalf("unexpected game data: %+v", gd)
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if serverPlay == nil || clientPlay == nil {
		t.Fatal("expected both sides to reach the play phase")
	}
}

func TestHandshakeEncryptedToPlay(t *testing.T) {
	serverT, clientT := newPipeTransports()

	serverCfg := DefaultServerConfig()
	serverCfg.OnlineMode = false
	serverCfg.EncryptionEnabled = true
	serverCfg.ServerKey = newP384Key(t)

	clientCfg := ClientConfig{
		ClientProtocol: SupportedProtocol,
		IdentityKey:    newP384Key(t),
		DisplayName:    "Alex",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		hs := NewHandshakeSession(serverT, serverCfg)
		login, err := hs.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		next, _, err := login.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		sp, ok := next.(*SecurePendingSession)
		if !ok {
			serverErr <- errUnexpectedPhase
			return
		}
		rp, err := sp.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		sg, err := rp.Advance(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		if _, err := sg.Advance(ctx, GameData{}, RegistryData{}); err != nil {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	clientHS := NewClientHandshakeSession(clientT, clientCfg)
	clientLogin, err := clientHS.Advance(ctx)
	if err != nil {
		t.Fatalf("client request_settings: %v", err)
	}
	next, err := clientLogin.Advance(ctx)
	if err != nil {
		t.Fatalf("client send_login: %v", err)
	}
	csp, ok := next.(*ClientSecurePendingSession)
	if !ok {
		t.Fatalf("expected ClientSecurePendingSession, got %T", next)
	}
	crp, err := csp.Advance(ctx)
	if err != nil {
		t.Fatalf("client await_handshake: %v", err)
	}
	csg, err := crp.Advance(ctx)
	if err != nil {
		t.Fatalf("client handle_packs: %v", err)
	}
	if _, _, _, err := csg.Advance(ctx); err != nil {
		t.Fatalf("client await_start_game: %v", err)
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}
