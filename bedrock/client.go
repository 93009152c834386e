package bedrock

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"

	"github.com/sandertv/gophertunnel/bedrock/login/jwt"
)

// ClientHandshakeSession is the client role's mirror of HandshakeSession
// (spec.md §4.5 "request_settings").
type ClientHandshakeSession struct {
	*sessionIO
	cfg ClientConfig
}

// NewClientHandshakeSession begins a client-role handshake over an
// already connected Transport.
func NewClientHandshakeSession(t Transport, cfg ClientConfig) *ClientHandshakeSession {
	return &ClientHandshakeSession{sessionIO: newClientSessionIO(t, cfg), cfg: cfg}
}

func (s *ClientHandshakeSession) Phase() string { return "handshake" }

// Advance sends RequestNetworkSettings, waits for NetworkSettings, and
// installs the negotiated compression.
func (s *ClientHandshakeSession) Advance(ctx context.Context) (*ClientLoginSession, error) {
	req := RequestNetworkSettings{ClientProtocol: s.cfg.ClientProtocol}
	if err := s.sendPacket(IDRequestNetworkSettings, req.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	pk, err := s.recvOne(ctx, IDNetworkSettings)
	if err != nil {
		return nil, err
	}
	ns, err := DecodeNetworkSettings(pk.Payload)
	if err != nil {
		return nil, protoErr(MalformedBatch, err)
	}
	s.threshold = int(ns.CompressionThreshold)
	s.compression = ns.CompressionAlgorithm
	return &ClientLoginSession{sessionIO: s.sessionIO, cfg: s.cfg}, nil
}

// ClientLoginSession assembles and sends the login chain, then branches
// on whatever the server replies with: ServerToClientHandshake if
// encryption is enabled, or ResourcePacksInfo otherwise (spec.md §4.5
// "send_login").
type ClientLoginSession struct {
	*sessionIO
	cfg ClientConfig
}

func (s *ClientLoginSession) Phase() string { return "login" }

// Advance sends Login and returns the next phase, which depends on
// whether the server requires encryption.
func (s *ClientLoginSession) Advance(ctx context.Context) (Session, error) {
	chain, err := s.assembleChain()
	if err != nil {
		return nil, fmt.Errorf("bedrock: assemble login chain: %w", err)
	}
	lp := LoginPacket{ClientProtocol: s.cfg.ClientProtocol, ConnectionRequest: chain}
	if err := s.sendPacket(IDLogin, lp.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}

	packets, err := s.recvBatch(ctx)
	if err != nil {
		return nil, err
	}
	if len(packets) != 1 {
		return nil, protoErr(UnexpectedHandshake, fmt.Errorf("expected a single handshake packet, got %d", len(packets)))
	}
	pk, err := DecodeRawPacket(packets[0])
	if err != nil {
		return nil, protoErr(MalformedBatch, err)
	}
	switch pk.ID {
	case IDServerToClientHandshake:
		return newClientSecurePendingSession(s.sessionIO, s.cfg, pk.Payload)
	case IDResourcePacksInfo:
		return newClientResourcePacksSession(ctx, s.sessionIO, s.cfg, pk)
	case IDPlayStatus:
		return nil, protoErr(UnexpectedHandshake, fmt.Errorf("login rejected"))
	default:
		return nil, protoErr(UnexpectedHandshake, fmt.Errorf("unexpected packet id %d after Login", pk.ID))
	}
}

// chainPayload/extraData mirror login package's unexported wire shapes
// (bedrock/login/chain.go) so the client can assemble a structurally
// identical envelope without importing login's unexported types.
type clientChainPayload struct {
	IdentityPublicKey string          `json:"identityPublicKey"`
	ExtraData         clientExtraData `json:"extraData"`
	NotBefore         int64           `json:"nbf"`
	ExpirationTime    int64           `json:"exp"`
}

type clientExtraData struct {
	XUID        string `json:"XUID"`
	DisplayName string `json:"displayName"`
	Identity    string `json:"identity"`
}

// assembleChain builds the login envelope: a caller-supplied
// Mojang-signed chain via ChainProvider, or a minimal self-signed chain
// (spec.md §4.5 "assembles a self-signed chain (or, with an Xbox Live
// token, a full chain)").
func (s *ClientLoginSession) assembleChain() ([]byte, error) {
	if s.cfg.ChainProvider != nil {
		return s.cfg.ChainProvider()
	}
	if s.cfg.IdentityKey == nil {
		return nil, fmt.Errorf("no IdentityKey and no ChainProvider configured")
	}
	keyStr, err := jwt.MarshalPublicKey(&s.cfg.IdentityKey.PublicKey)
	if err != nil {
		return nil, err
	}
	identity := s.cfg.Identity
	if identity == "" {
		identity = uuid.New().String()
	}
	now := time.Now()
	payload := clientChainPayload{
		IdentityPublicKey: keyStr,
		ExtraData: clientExtraData{
			XUID:        s.cfg.XUID,
			DisplayName: s.cfg.DisplayName,
			Identity:    identity,
		},
		NotBefore:      now.Add(-time.Minute).Unix(),
		ExpirationTime: now.Add(6 * time.Hour).Unix(),
	}
	tok, err := jwt.New(jose.ES384, s.cfg.IdentityKey, payload, map[jose.HeaderKey]interface{}{"x5u": keyStr})
	if err != nil {
		return nil, err
	}
	env := struct {
		Chain []string `json:"chain"`
	}{Chain: []string{tok}}
	return json.Marshal(env)
}

// ClientSecurePendingSession derives the shared encryption context from
// the server's ServerToClientHandshake JWT and replies with an empty
// ClientToServerHandshake (spec.md §4.5 "await_handshake").
type ClientSecurePendingSession struct {
	*sessionIO
	cfg ClientConfig
}

func newClientSecurePendingSession(io *sessionIO, cfg ClientConfig, payload []byte) (*ClientSecurePendingSession, error) {
	handshake, err := DecodeServerToClientHandshake(payload)
	if err != nil {
		return nil, protoErr(MalformedBatch, err)
	}
	header, err := jwt.ParseHeader(handshake.JWT)
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	serverKey, err := jwt.PublicKeyFromX5U(header.X5U)
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	serverECKey, ok := serverKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, protoErr(EncryptionFailed, fmt.Errorf("server handshake key is not P-384"))
	}
	rawClaims, err := jwt.Verify(handshake.JWT, serverKey)
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	var claims handshakeClaims
	if err := json.Unmarshal(rawClaims, &claims); err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	salt, err := base64.StdEncoding.DecodeString(claims.Salt)
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	if cfg.IdentityKey == nil {
		return nil, fmt.Errorf("bedrock: encryption requires a ClientConfig.IdentityKey")
	}
	enc, err := NewEncryptionContext(cfg.IdentityKey, serverECKey, salt, io.transport.HeaderLen())
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}

	s := &ClientSecurePendingSession{sessionIO: io, cfg: cfg}
	if err := s.sendPacket(IDClientToServerHandshake, ClientToServerHandshake{}.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	// This side's outbound is encrypted from here on; inbound becomes
	// encrypted the instant the server acts on our ack (spec.md §4.4
	// step 6).
	s.sessionIO.enc = enc
	s.sessionIO.recvEncrypted = true
	return s, nil
}

func (s *ClientSecurePendingSession) Phase() string { return "secure_pending" }

// Advance receives the first post-handshake packet (ResourcePacksInfo)
// and transitions to resource-pack negotiation.
func (s *ClientSecurePendingSession) Advance(ctx context.Context) (*ClientResourcePacksSession, error) {
	pk, err := s.recvOne(ctx, IDResourcePacksInfo)
	if err != nil {
		return nil, err
	}
	return newClientResourcePacksSession(ctx, s.sessionIO, s.cfg, pk)
}

// ClientResourcePacksSession auto-accepts whatever pack list the server
// offers (spec.md §4.5 "handle_packs auto-accepts").
type ClientResourcePacksSession struct {
	*sessionIO
	cfg ClientConfig
}

func newClientResourcePacksSession(ctx context.Context, io *sessionIO, cfg ClientConfig, info RawPacket) (*ClientResourcePacksSession, error) {
	if info.ID != IDResourcePacksInfo {
		return nil, protoErr(UnexpectedHandshake, fmt.Errorf("expected ResourcePacksInfo, got packet id %d", info.ID))
	}
	s := &ClientResourcePacksSession{sessionIO: io, cfg: cfg}
	if _, err := s.recvOne(ctx, IDResourcePackStack); err != nil {
		return nil, err
	}
	resp := ResourcePackClientResponse{Status: ResponseCompleted}
	if err := s.sendPacket(IDResourcePackClientResponse, []byte{byte(resp.Status)}); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	return s, nil
}

func (s *ClientResourcePacksSession) Phase() string { return "resource_packs" }

// Advance simply transitions to the StartGame phase; the pack handshake
// already completed during construction.
func (s *ClientResourcePacksSession) Advance(_ context.Context) (*ClientStartGameSession, error) {
	return &ClientStartGameSession{sessionIO: s.sessionIO}, nil
}

// ClientStartGameSession collects StartGame and its registry companions
// into a GameData/RegistryData pair and returns the Play stream
// (spec.md §4.5 "await_start_game").
type ClientStartGameSession struct {
	*sessionIO
}

func (s *ClientStartGameSession) Phase() string { return "start_game" }

func (s *ClientStartGameSession) Advance(ctx context.Context) (*PlaySession, GameData, RegistryData, error) {
	packets, err := s.recvBatch(ctx)
	if err != nil {
		return nil, GameData{}, RegistryData{}, err
	}
	var data GameData
	var registries RegistryData
	sawSpawn := false
	for _, raw := range packets {
		pk, err := DecodeRawPacket(raw)
		if err != nil {
			return nil, GameData{}, RegistryData{}, protoErr(MalformedBatch, err)
		}
		switch pk.ID {
		case IDStartGame:
			data, err = DecodeGameData(pk.Payload)
			if err != nil {
				return nil, GameData{}, RegistryData{}, protoErr(MalformedBatch, err)
			}
		case IDItemRegistry:
			registries.ItemRegistry = pk.Payload
		case IDCreativeContent:
			registries.CreativeContent = pk.Payload
		case IDBiomeDefinitionList:
			registries.BiomeDefinitionList = pk.Payload
		case IDAvailableEntityIdentifiers:
			registries.AvailableEntityIdentifiers = pk.Payload
		case IDUpdateBlockProperties:
			// Present only when the server's send_block_palette is set
			// (spec.md §6); this core advertises no block palette of its
			// own, so the payload is received and discarded.
		case IDPlayStatus:
			sawSpawn = true
		default:
			return nil, GameData{}, RegistryData{}, protoErr(UnexpectedHandshake, fmt.Errorf("unexpected packet id %d during StartGame", pk.ID))
		}
	}
	if !sawSpawn {
		return nil, GameData{}, RegistryData{}, protoErr(UnexpectedHandshake, fmt.Errorf("StartGame batch missing PlayStatus"))
	}
	return newPlaySession(s.sessionIO), data, registries, nil
}
