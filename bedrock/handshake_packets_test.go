package bedrock

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/sandertv/gophertunnel/bedrock/resource"
)

func TestRequestNetworkSettingsRoundTrip(t *testing.T) {
	want := RequestNetworkSettings{ClientProtocol: SupportedProtocol}
	got, err := DecodeRequestNetworkSettings(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNetworkSettingsRoundTrip(t *testing.T) {
	want := NetworkSettings{CompressionThreshold: 512, CompressionAlgorithm: CompressionSnappy}
	got, err := DecodeNetworkSettings(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoginPacketRoundTrip(t *testing.T) {
	want := LoginPacket{ClientProtocol: SupportedProtocol, ConnectionRequest: []byte(`{"chain":[]}`)}
	got, err := DecodeLoginPacket(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClientProtocol != want.ClientProtocol || !bytes.Equal(got.ConnectionRequest, want.ConnectionRequest) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestServerToClientHandshakeRoundTrip(t *testing.T) {
	want := ServerToClientHandshake{JWT: "header.payload.signature"}
	got, err := DecodeServerToClientHandshake(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResourcePackClientResponseRoundTrip(t *testing.T) {
	got, err := DecodeResourcePackClientResponse([]byte{byte(ResponseHaveAllPacks)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != ResponseHaveAllPacks {
		t.Fatalf("got status %v, want %v", got.Status, ResponseHaveAllPacks)
	}
}

func TestResourcePackClientResponseRejectsEmpty(t *testing.T) {
	if _, err := DecodeResourcePackClientResponse(nil); err == nil {
		t.Fatal("expected an error decoding an empty response")
	}
}

func testPack(t *testing.T) *resource.Pack {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := w.Write([]byte(`{"header":{"uuid":"2e645c2a-88fc-4a88-bdcc-c0676a4ac845","version":[1,0,0]},"modules":[{"type":"data"}]}`)); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	ra := bytes.NewReader(buf.Bytes())
	p, err := resource.ReadPack(ra, ra.Size())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	return p
}

func TestResourcePacksInfoEncodesPackMetadata(t *testing.T) {
	pk := testPack(t)
	info := ResourcePacksInfo{MustAccept: true, Packs: []*resource.Pack{pk}}
	encoded := info.Encode()
	if encoded[0] != 1 {
		t.Fatalf("expected MustAccept byte 1, got %d", encoded[0])
	}
	if int(encoded[1])|int(encoded[2])<<8 != 1 {
		t.Fatalf("expected pack count 1 in header")
	}
}

func TestResourcePackStackEncodesPackMetadata(t *testing.T) {
	pk := testPack(t)
	stack := ResourcePackStack{Packs: []*resource.Pack{pk}}
	encoded := stack.Encode()
	if int(encoded[1])|int(encoded[2])<<8 != 1 {
		t.Fatalf("expected pack count 1 in header")
	}
}

func TestPlayStatusPacketEncode(t *testing.T) {
	pk := PlayStatusPacket{Status: PlayStatusPlayerSpawn}
	encoded := pk.Encode()
	if len(encoded) != 4 {
		t.Fatalf("expected a 4-byte big-endian status code, got %d bytes", len(encoded))
	}
}
