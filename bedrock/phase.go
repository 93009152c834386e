// Package bedrock implements the Bedrock Edition session core: batch
// framing/compression, the server and client handshake state machines,
// login-chain validation, the ECDH/AES-GCM encryption handshake, and the
// Play-phase packet router. It is transport-agnostic, driving either a
// raknet.Session or a nethernet.Conn through the Transport interface.
//
// The handshake is encoded as a sum type of phase-specific structs
// rather than one struct with a runtime phase field: each phase's
// Advance method consumes the previous phase's value and returns the
// next, so an out-of-phase call (e.g. accepting a Login packet on a
// *ResourcePacksSession) is a compile error rather than a runtime one
// (spec.md §9 "Typestate phases").
package bedrock

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/sandertv/gophertunnel/bedrock/login"
	"github.com/sandertv/gophertunnel/bedrock/login/jwt"
)

// SupportedProtocol is the client_protocol value this core accepts
// (spec.md §8 scenario S3's "client_protocol=712").
const SupportedProtocol int32 = 712

// Session is the common marker every phase-specific session type
// implements. It carries no methods beyond the marker: callers always
// hold a concrete *XSession type and call its own Advance.
type Session interface {
	// Phase names the current handshake phase, for logging only.
	Phase() string
}

// HandshakeSession is the entry phase: it accepts RequestNetworkSettings
// and emits NetworkSettings, installing compression for every packet
// after it (spec.md §4.4 state table, row "Handshake").
type HandshakeSession struct {
	*sessionIO
	cfg ServerConfig
}

// NewHandshakeSession begins a server-role handshake over an already
// connected Transport (a RakNet session past NewIncomingConnection, or a
// ready NetherNet Conn).
func NewHandshakeSession(t Transport, cfg ServerConfig) *HandshakeSession {
	return &HandshakeSession{sessionIO: newSessionIO(t, cfg), cfg: cfg}
}

func (s *HandshakeSession) Phase() string { return "handshake" }

// Advance drives the Handshake phase to completion and returns the
// following Login phase.
func (s *HandshakeSession) Advance(ctx context.Context) (*LoginSession, error) {
	pk, err := s.recvOne(ctx, IDRequestNetworkSettings)
	if err != nil {
		return nil, err
	}
	req, err := DecodeRequestNetworkSettings(pk.Payload)
	if err != nil {
		return nil, protoErr(MalformedBatch, err)
	}
	if req.ClientProtocol != SupportedProtocol {
		s.failLogin(PlayStatusLoginFailedClient)
		return nil, protoErr(IncompatibleProtocol, fmt.Errorf("client protocol %d, want %d", req.ClientProtocol, SupportedProtocol))
	}

	ns := NetworkSettings{CompressionThreshold: s.cfg.CompressionThreshold, CompressionAlgorithm: CompressionZlib}
	if err := s.sendPacket(IDNetworkSettings, ns.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	// Compression takes effect immediately, including for the Login
	// packet the client sends next.
	s.compression = ns.CompressionAlgorithm

	return &LoginSession{sessionIO: s.sessionIO, cfg: s.cfg}, nil
}

// LoginSession accepts the Login packet and validates its chain,
// branching to encryption setup or straight to resource-pack
// negotiation depending on ServerConfig.EncryptionEnabled (spec.md §4.4
// state table, row "Login").
type LoginSession struct {
	*sessionIO
	cfg ServerConfig
}

func (s *LoginSession) Phase() string { return "login" }

// Advance validates the login chain, then transitions either to
// SecurePending (encryption configured) or directly to ResourcePacks.
// The client_data token of the login request is neither parsed nor
// verified.
func (s *LoginSession) Advance(ctx context.Context) (Session, *login.Identity, error) {
	pk, err := s.recvOne(ctx, IDLogin)
	if err != nil {
		return nil, nil, err
	}
	lp, err := DecodeLoginPacket(pk.Payload)
	if err != nil {
		return nil, nil, protoErr(MalformedBatch, err)
	}
	if lp.ClientProtocol != SupportedProtocol {
		s.failLogin(PlayStatusLoginFailedClient)
		return nil, nil, protoErr(IncompatibleProtocol, fmt.Errorf("login client protocol %d, want %d", lp.ClientProtocol, SupportedProtocol))
	}

	// The legacy-auth branch is driven by the client's own declared
	// AuthenticationType (read from its login envelope inside
	// ValidateChain), not synthesized from server config.
	identity, err := login.ValidateChain(lp.ConnectionRequest, s.cfg.OnlineMode, s.cfg.AllowLegacyAuth, s.cfg.MojangRoot)
	if err != nil {
		s.failLogin(PlayStatusLoginFailedClient)
		return nil, nil, err
	}

	if s.cfg.EncryptionEnabled {
		sp, err := newSecurePendingSession(s.sessionIO, s.cfg, identity)
		if err != nil {
			s.failLogin(PlayStatusLoginFailedServer)
			return nil, nil, err
		}
		return sp, identity, nil
	}
	rp, err := newResourcePacksSession(s.sessionIO, s.cfg)
	if err != nil {
		return nil, nil, transportErr(ConnectionClosed, err)
	}
	return rp, identity, nil
}

// SecurePendingSession emits ServerToClientHandshake on construction and
// encrypts every outbound packet from then on with AES-256-GCM. It
// accepts the empty ClientToServerHandshake acknowledgement in plaintext,
// after which inbound packets are decrypted too (spec.md §4.4 state
// table, row "SecurePending"; §4.4 "Encryption handshake").
type SecurePendingSession struct {
	*sessionIO
	cfg      ServerConfig
	identity *login.Identity
	enc      *EncryptionContext
}

func newSecurePendingSession(io *sessionIO, cfg ServerConfig, identity *login.Identity) (*SecurePendingSession, error) {
	remoteKey, ok := identity.IdentityPublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, protoErr(EncryptionFailed, fmt.Errorf("login identity has no usable P-384 public key"))
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	enc, err := NewEncryptionContext(cfg.ServerKey, remoteKey, salt, io.transport.HeaderLen())
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}

	pubDER, err := jwt.MarshalPublicKey(&cfg.ServerKey.PublicKey)
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}
	handshakeJWT, err := jwt.New(jose.ES384, cfg.ServerKey, handshakeClaims{Salt: base64.StdEncoding.EncodeToString(salt)}, map[jose.HeaderKey]interface{}{"x5u": pubDER})
	if err != nil {
		return nil, protoErr(EncryptionFailed, err)
	}

	s := &SecurePendingSession{sessionIO: io, cfg: cfg, identity: identity, enc: enc}
	if err := s.sendPacket(IDServerToClientHandshake, ServerToClientHandshake{JWT: handshakeJWT}.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	// Outbound packets from this point on are encrypted (spec.md §4.4
	// step 5 "From this moment, outbound Bedrock packets are encrypted").
	s.sessionIO.enc = enc
	return s, nil
}

func (s *SecurePendingSession) Phase() string { return "secure_pending" }

// Advance waits for ClientToServerHandshake, after which inbound
// packets are decrypted too, and returns the ResourcePacks phase.
func (s *SecurePendingSession) Advance(ctx context.Context) (*ResourcePacksSession, error) {
	if _, err := s.recvOne(ctx, IDClientToServerHandshake); err != nil {
		return nil, err
	}
	// The ack itself crossed in plaintext; every packet after it is
	// decrypted (spec.md §4.4 step 6).
	s.sessionIO.recvEncrypted = true
	return newResourcePacksSession(s.sessionIO, s.cfg)
}

// handshakeClaims is the ServerToClientHandshake JWT payload (spec.md
// §4.4 step 5 "payload { salt: <b64> }").
type handshakeClaims struct {
	Salt string `json:"salt"`
}

// ResourcePacksSession emits ResourcePacksInfo/ResourcePackStack on
// construction and waits for the client's ResourcePackClientResponse
// (spec.md §4.4 state table, row "ResourcePacks"; "Resource-pack
// negotiation").
type ResourcePacksSession struct {
	*sessionIO
	cfg ServerConfig
}

func newResourcePacksSession(io *sessionIO, cfg ServerConfig) (*ResourcePacksSession, error) {
	info := ResourcePacksInfo{MustAccept: cfg.RequireResourcePacks, Packs: cfg.ResourcePacks}
	if err := io.sendPacket(IDResourcePacksInfo, info.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	stack := ResourcePackStack{MustAccept: cfg.RequireResourcePacks, Packs: cfg.ResourcePacks}
	if err := io.sendPacket(IDResourcePackStack, stack.Encode()); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	return &ResourcePacksSession{sessionIO: io, cfg: cfg}, nil
}

func (s *ResourcePacksSession) Phase() string { return "resource_packs" }

// Advance decides on the first ResourcePackClientResponse: HaveAllPacks,
// Completed, or Refused while packs are not required move on to
// StartGame; Refused while packs are required, SendPacks, or an unknown
// status terminate the session. ClientCacheStatus packets may arrive
// before the response; each is accepted or rejected wholesale per
// ServerConfig.HandleClientCacheStatus
// (spec.md §6 "handle_client_cache_status").
func (s *ResourcePacksSession) Advance(ctx context.Context) (*StartGameSession, error) {
	for {
		pk, err := s.recvOneOf(ctx, IDResourcePackClientResponse, IDClientCacheStatus)
		if err != nil {
			return nil, err
		}
		if pk.ID == IDClientCacheStatus {
			if !s.cfg.HandleClientCacheStatus {
				return nil, protoErr(UnexpectedHandshake, fmt.Errorf("client sent ClientCacheStatus while handle_client_cache_status is disabled"))
			}
			if _, err := DecodeClientCacheStatus(pk.Payload); err != nil {
				return nil, protoErr(MalformedBatch, err)
			}
			continue
		}
		resp, err := DecodeResourcePackClientResponse(pk.Payload)
		if err != nil {
			return nil, protoErr(MalformedBatch, err)
		}
		switch resp.Status {
		case ResponseRefused:
			if s.cfg.RequireResourcePacks {
				s.failLogin(PlayStatusLoginFailedClient)
				return nil, protoErr(UnexpectedHandshake, fmt.Errorf("client refused required resource packs"))
			}
			return newStartGameSession(s.sessionIO, s.cfg), nil
		case ResponseHaveAllPacks, ResponseCompleted:
			return newStartGameSession(s.sessionIO, s.cfg), nil
		case ResponseSendPacks:
			// Streaming pack bytes on a SendPacks request is outside
			// this core's scope (resource/pack.go's package doc): it
			// advertises pack identity/metadata but never serves
			// downloads, so the only well-formed replies are
			// HaveAllPacks, Completed, or Refused.
			return nil, protoErr(UnexpectedHandshake, fmt.Errorf("client requested pack download, which this core does not serve"))
		default:
			return nil, protoErr(UnexpectedHandshake, fmt.Errorf("unknown resource pack response status %d", resp.Status))
		}
	}
}

// GameData is the caller-supplied world/player state the StartGame
// packet carries (spec.md §4.4 "StartGame emission"). Constructing its
// contents (chunk generation, block palettes) is out of this core's
// scope; the core only sequences and frames it.
type GameData struct {
	WorldSeed                int64
	Dimension                int32
	GameMode                 int32
	PlayerEntityID           int64
	BlockPaletteHash         uint64
	ItemRegistryHash         uint64
	BlockNetworkIDsAreHashes bool
}

func (g GameData) Encode() []byte {
	buf := make([]byte, 0, 40)
	buf = WriteVarLong(buf, uint64(g.WorldSeed))
	buf = WriteVarInt(buf, uint32(g.Dimension))
	buf = WriteVarInt(buf, uint32(g.GameMode))
	buf = WriteVarLong(buf, uint64(g.PlayerEntityID))
	buf = WriteVarLong(buf, g.BlockPaletteHash)
	buf = WriteVarLong(buf, g.ItemRegistryHash)
	if g.BlockNetworkIDsAreHashes {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeGameData reverses Encode, used by the client role to recover the
// fields the server packed into StartGame.
func DecodeGameData(b []byte) (GameData, error) {
	seed, n, err := ReadVarLong(b)
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	dim, n2, err := ReadVarInt(b[n:])
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	n += n2
	mode, n2, err := ReadVarInt(b[n:])
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	n += n2
	entityID, n2, err := ReadVarLong(b[n:])
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	n += n2
	blockHash, n2, err := ReadVarLong(b[n:])
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	n += n2
	itemHash, n2, err := ReadVarLong(b[n:])
	if err != nil {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: %w", err)
	}
	n += n2
	if n >= len(b) {
		return GameData{}, fmt.Errorf("bedrock: decode GameData: truncated")
	}
	return GameData{
		WorldSeed:                int64(seed),
		Dimension:                int32(dim),
		GameMode:                 int32(mode),
		PlayerEntityID:           int64(entityID),
		BlockPaletteHash:         blockHash,
		ItemRegistryHash:         itemHash,
		BlockNetworkIDsAreHashes: b[n] != 0,
	}, nil
}

// RegistryData holds the raw, already-encoded registry packets sent
// alongside StartGame (spec.md §4.4 "the registries (items, creative
// content, biomes, entity identifiers) are sent in a fixed order"). Their
// content is game data owned by the caller, not this protocol core.
type RegistryData struct {
	ItemRegistry               []byte
	CreativeContent            []byte
	BiomeDefinitionList        []byte
	AvailableEntityIdentifiers []byte
}

// StartGameSession emits StartGame and its registry companions, then
// PlayStatus(PlayerSpawn), transitioning to the terminal Play phase
// (spec.md §4.4 state table, row "StartGame").
type StartGameSession struct {
	*sessionIO
	cfg ServerConfig
}

func newStartGameSession(io *sessionIO, cfg ServerConfig) *StartGameSession {
	return &StartGameSession{sessionIO: io, cfg: cfg}
}

func (s *StartGameSession) Phase() string { return "start_game" }

// Advance sends StartGame, the fixed-order registries, and
// PlayStatus(PlayerSpawn) as one batch, then returns the Play-phase
// router. When ServerConfig.SendBlockPalette is set, an empty
// UpdateBlockProperties is inserted immediately after StartGame (spec.md
// §9 Open Questions: "default false; when true, send an empty
// UpdateBlockProperties exactly once, immediately after StartGame").
func (s *StartGameSession) Advance(_ context.Context, data GameData, registries RegistryData) (*PlaySession, error) {
	packets := [][]byte{EncodePacket(IDStartGame, data.Encode())}
	if s.cfg.SendBlockPalette {
		packets = append(packets, EncodePacket(IDUpdateBlockProperties, UpdateBlockProperties{}.Encode()))
	}
	packets = append(packets,
		EncodePacket(IDItemRegistry, registries.ItemRegistry),
		EncodePacket(IDCreativeContent, registries.CreativeContent),
		EncodePacket(IDBiomeDefinitionList, registries.BiomeDefinitionList),
		EncodePacket(IDAvailableEntityIdentifiers, registries.AvailableEntityIdentifiers),
		EncodePacket(IDPlayStatus, PlayStatusPacket{Status: PlayStatusPlayerSpawn}.Encode()),
	)
	if err := s.sendBatch(packets); err != nil {
		return nil, transportErr(ConnectionClosed, err)
	}
	return newPlaySession(s.sessionIO), nil
}
