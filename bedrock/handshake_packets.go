package bedrock

import (
	"fmt"

	"github.com/sandertv/gophertunnel/bedrock/resource"
)

// RequestNetworkSettings is the first packet a client sends, naming its
// protocol version so the server can reject incompatible clients before
// any further state is allocated (spec.md §4.4 state table).
type RequestNetworkSettings struct {
	ClientProtocol int32
}

func (p RequestNetworkSettings) Encode() []byte {
	return WriteVarInt(nil, uint32(p.ClientProtocol))
}

func DecodeRequestNetworkSettings(b []byte) (RequestNetworkSettings, error) {
	v, _, err := ReadVarInt(b)
	if err != nil {
		return RequestNetworkSettings{}, fmt.Errorf("bedrock: decode RequestNetworkSettings: %w", err)
	}
	return RequestNetworkSettings{ClientProtocol: int32(v)}, nil
}

// NetworkSettings answers RequestNetworkSettings, installing the
// compression algorithm and threshold every batch from here on uses
// (spec.md §4.4 state table, §4.3 "Compression byte").
type NetworkSettings struct {
	CompressionThreshold uint16
	CompressionAlgorithm Compression
}

func (p NetworkSettings) Encode() []byte {
	buf := make([]byte, 0, 3)
	buf = append(buf, byte(p.CompressionThreshold), byte(p.CompressionThreshold>>8))
	buf = append(buf, byte(p.CompressionAlgorithm))
	return buf
}

func DecodeNetworkSettings(b []byte) (NetworkSettings, error) {
	if len(b) < 3 {
		return NetworkSettings{}, fmt.Errorf("bedrock: decode NetworkSettings: truncated")
	}
	return NetworkSettings{
		CompressionThreshold: uint16(b[0]) | uint16(b[1])<<8,
		CompressionAlgorithm: Compression(b[2]),
	}, nil
}

// LoginPacket carries the raw chain/client-data envelope unparsed; the
// handshake state machine hands its ConnectionRequest bytes to
// login.ValidateChain rather than decoding structure here (spec.md §4.4
// "Login packet processing").
type LoginPacket struct {
	ClientProtocol    int32
	ConnectionRequest []byte
}

func (p LoginPacket) Encode() []byte {
	buf := WriteVarInt(nil, uint32(p.ClientProtocol))
	buf = WriteVarInt(buf, uint32(len(p.ConnectionRequest)))
	return append(buf, p.ConnectionRequest...)
}

func DecodeLoginPacket(b []byte) (LoginPacket, error) {
	proto, n, err := ReadVarInt(b)
	if err != nil {
		return LoginPacket{}, fmt.Errorf("bedrock: decode Login: %w", err)
	}
	l, n2, err := ReadVarInt(b[n:])
	if err != nil {
		return LoginPacket{}, fmt.Errorf("bedrock: decode Login: %w", err)
	}
	start := n + n2
	end := start + int(l)
	if end > len(b) || end < start {
		return LoginPacket{}, fmt.Errorf("bedrock: decode Login: connection request truncated")
	}
	return LoginPacket{ClientProtocol: int32(proto), ConnectionRequest: b[start:end]}, nil
}

// ServerToClientHandshake carries the server's encryption-handshake JWT
// (spec.md §4.4 "Encryption handshake" step 5).
type ServerToClientHandshake struct {
	JWT string
}

func (p ServerToClientHandshake) Encode() []byte { return WriteString(nil, p.JWT) }

func DecodeServerToClientHandshake(b []byte) (ServerToClientHandshake, error) {
	s, _, err := ReadString(b)
	if err != nil {
		return ServerToClientHandshake{}, fmt.Errorf("bedrock: decode ServerToClientHandshake: %w", err)
	}
	return ServerToClientHandshake{JWT: s}, nil
}

// ClientToServerHandshake is an empty-payload acknowledgement (spec.md
// §4.4 step 6).
type ClientToServerHandshake struct{}

func (ClientToServerHandshake) Encode() []byte { return nil }

// ResourcePacksInfo announces the pack list the client must negotiate
// (spec.md §4.4 "Resource-pack negotiation"). Entries carry only the
// identity/metadata fields the handshake itself needs; serving the
// packs' bytes on a SendPacks response is outside this core's scope
// (resource/pack.go's package doc).
type ResourcePacksInfo struct {
	MustAccept bool
	Packs      []*resource.Pack
}

func (p ResourcePacksInfo) Encode() []byte {
	buf := make([]byte, 0, 3)
	if p.MustAccept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(p.Packs)), byte(len(p.Packs)>>8))
	for _, pk := range p.Packs {
		buf = WriteString(buf, pk.UUID().String())
		buf = WriteString(buf, pk.Version())
		buf = WriteVarLong(buf, uint64(pk.Len()))
		if pk.HasScripts() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// ResourcePackStack follows ResourcePacksInfo with the pack application
// order, naming each pack by id and version (spec.md §4.4 state table,
// row "ResourcePacks").
type ResourcePackStack struct {
	MustAccept bool
	Packs      []*resource.Pack
}

func (p ResourcePackStack) Encode() []byte {
	buf := make([]byte, 0, 1)
	if p.MustAccept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(p.Packs)), byte(len(p.Packs)>>8))
	for _, pk := range p.Packs {
		buf = WriteString(buf, pk.UUID().String())
		buf = WriteString(buf, pk.Version())
	}
	return buf
}

// ResourcePackResponseStatus mirrors the client's four possible
// responses during negotiation (spec.md §4.4 "Resource-pack
// negotiation").
type ResourcePackResponseStatus uint8

const (
	ResponseRefused ResourcePackResponseStatus = iota
	ResponseSendPacks
	ResponseHaveAllPacks
	ResponseCompleted
)

// ResourcePackClientResponse is the client's reply to the offered pack
// list (spec.md §4.4 state table).
type ResourcePackClientResponse struct {
	Status ResourcePackResponseStatus
}

func DecodeResourcePackClientResponse(b []byte) (ResourcePackClientResponse, error) {
	if len(b) < 1 {
		return ResourcePackClientResponse{}, fmt.Errorf("bedrock: decode ResourcePackClientResponse: empty")
	}
	return ResourcePackClientResponse{Status: ResourcePackResponseStatus(b[0])}, nil
}

// PlayStatusPacket carries one PlayStatus code (spec.md §4.4, playstatus.go).
type PlayStatusPacket struct {
	Status PlayStatus
}

func (p PlayStatusPacket) Encode() []byte {
	v := uint32(p.Status)
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ClientCacheStatus is the client's declaration of whether it supports
// blob/hash caching of chunk and entity data, sent during resource-pack
// negotiation (spec.md §6 "handle_client_cache_status"). This core never
// originates cache blobs either way; the flag is only ever recorded or
// rejected, never acted on.
type ClientCacheStatus struct {
	Enabled bool
}

func (p ClientCacheStatus) Encode() []byte {
	if p.Enabled {
		return []byte{1}
	}
	return []byte{0}
}

func DecodeClientCacheStatus(b []byte) (ClientCacheStatus, error) {
	if len(b) < 1 {
		return ClientCacheStatus{}, fmt.Errorf("bedrock: decode ClientCacheStatus: empty")
	}
	return ClientCacheStatus{Enabled: b[0] != 0}, nil
}

// UpdateBlockProperties is sent empty, exactly once immediately after
// StartGame, when ServerConfig.SendBlockPalette is set (spec.md §6
// "send_block_palette", §9 Open Questions). This core advertises no block
// palette of its own, so the payload carries zero entries.
type UpdateBlockProperties struct{}

func (UpdateBlockProperties) Encode() []byte { return WriteVarInt(nil, 0) }
