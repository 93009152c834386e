package bedrock

import "fmt"

// Packet IDs for the handshake-phase packets named in the state table
// (spec.md §4.4). Game packets beyond StartGame's companion registries
// are out of this core's scope and travel as RawPacket.
const (
	IDLogin                      uint32 = 1
	IDPlayStatus                 uint32 = 2
	IDServerToClientHandshake    uint32 = 3
	IDClientToServerHandshake    uint32 = 4
	IDDisconnect                 uint32 = 5
	IDResourcePacksInfo          uint32 = 6
	IDResourcePackStack          uint32 = 7
	IDResourcePackClientResponse uint32 = 8
	IDStartGame                  uint32 = 9
	IDItemRegistry               uint32 = 10
	IDCreativeContent            uint32 = 11
	IDBiomeDefinitionList        uint32 = 12
	IDAvailableEntityIdentifiers uint32 = 13
	IDUpdateBlockProperties      uint32 = 94
	IDRequestNetworkSettings     uint32 = 193
	IDNetworkSettings            uint32 = 143
	IDClientCacheStatus          uint32 = 129
)

// Header is the 1-5 byte VarInt-encoded packet ID each packet inside a
// batch is prefixed with (spec.md §4.3's "packet1" in the per-batch
// length-prefixed layout carries its own Header internally, matching
// the teacher's packet.Header convention).
type Header struct {
	PacketID uint32
}

func (h Header) Write(dst []byte) []byte {
	return WriteVarInt(dst, h.PacketID)
}

func ReadHeader(src []byte) (Header, int, error) {
	id, n, err := ReadVarInt(src)
	if err != nil {
		return Header{}, 0, fmt.Errorf("bedrock: read packet header: %w", err)
	}
	return Header{PacketID: id}, n, nil
}

// RawPacket is an undecoded packet, the shape every packet not given a
// typed struct in this core takes (e.g. StartGame's registry
// companions, and any gameplay packet once in the Play phase).
type RawPacket struct {
	ID      uint32
	Payload []byte
}

func EncodePacket(id uint32, payload []byte) []byte {
	buf := WriteVarInt(make([]byte, 0, 5+len(payload)), id)
	return append(buf, payload...)
}

func DecodeRawPacket(b []byte) (RawPacket, error) {
	id, n, err := ReadVarInt(b)
	if err != nil {
		return RawPacket{}, fmt.Errorf("bedrock: decode packet: %w", err)
	}
	return RawPacket{ID: id, Payload: b[n:]}, nil
}
