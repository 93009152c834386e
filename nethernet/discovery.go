package nethernet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// DiscoveryPort is the default LAN broadcast port (spec.md §4.2 "LAN
// discovery", §6 "UDP wire").
const DiscoveryPort = 7551

// discoveryAppID is the 2-byte application id carried on the wire
// (spec.md §6 "u16_be(app_id=0xBEEF)").
const discoveryAppID = 0xBEEF

// discoveryEntryTTL is how long a discovered server stays in the
// listener's map without a fresh broadcast (spec.md §4.2 "expiring
// entries after ~5 s").
const discoveryEntryTTL = 5 * time.Second

// discoveryKey derives the shared AES/HMAC key as
// SHA-256(0xdeadbeef as a little-endian u64), matching
// tokio-nethernet's discovery/crypto.rs key() function exactly
// (SPEC_FULL.md §C.4).
func discoveryKey() [32]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 0xdeadbeef)
	return sha256.Sum256(buf[:])
}

// pkcs7Pad pads data to a multiple of blockSize per PKCS#7.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("nethernet: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > 16 || padLen > len(data) {
		return nil, fmt.Errorf("nethernet: invalid PKCS7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("nethernet: invalid PKCS7 padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}

// ecbEncrypt encrypts data (already a multiple of the block size) one
// block at a time under AES-256 in ECB mode. Go's standard library
// deliberately omits an ECB cipher.BlockMode, so the block chaining
// here is written by hand, matching the low-level-crypto idiom already
// used in bedrock/encryption.go.
func ecbEncrypt(block cipher.Block, data []byte) []byte {
	out := make([]byte, len(data))
	bs := block.BlockSize()
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return out
}

func ecbDecrypt(block cipher.Block, data []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(data)%bs != 0 || len(data) == 0 {
		return nil, fmt.Errorf("nethernet: ciphertext not a multiple of the block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

// encodeDiscoveryFrame builds one LAN discovery datagram: 2-byte length
// of everything that follows, 2-byte app id, 8-byte sender network id,
// 32-byte HMAC-SHA256 over (appID || networkID || ciphertext), and the
// AES-256-ECB+PKCS7 ciphertext of payload (spec.md §4.2, §6).
func encodeDiscoveryFrame(networkID uint64, payload []byte) ([]byte, error) {
	key := discoveryKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := ecbEncrypt(block, pkcs7Pad(payload, block.BlockSize()))

	body := make([]byte, 0, 2+8+len(ciphertext))
	var appID [2]byte
	binary.BigEndian.PutUint16(appID[:], discoveryAppID)
	body = append(body, appID[:]...)
	var netID [8]byte
	binary.BigEndian.PutUint64(netID[:], networkID)
	body = append(body, netID[:]...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	sum := mac.Sum(nil)

	frame := make([]byte, 0, 2+len(body)+len(sum))
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(body)+len(sum)))
	frame = append(frame, length[:]...)
	frame = append(frame, appID[:]...)
	frame = append(frame, netID[:]...)
	frame = append(frame, sum...)
	frame = append(frame, ciphertext...)
	return frame, nil
}

// decodeDiscoveryFrame verifies the HMAC and decrypts a frame produced
// by encodeDiscoveryFrame, returning the sender's network id and the
// decrypted payload.
func decodeDiscoveryFrame(frame []byte) (networkID uint64, payload []byte, err error) {
	if len(frame) < 2+2+8+32 {
		return 0, nil, fmt.Errorf("nethernet: discovery frame too short")
	}
	length := binary.BigEndian.Uint16(frame[0:2])
	if int(length) != len(frame)-2 {
		return 0, nil, fmt.Errorf("nethernet: discovery frame length mismatch")
	}
	appID := binary.BigEndian.Uint16(frame[2:4])
	if appID != discoveryAppID {
		return 0, nil, fmt.Errorf("nethernet: unexpected discovery app id %#x", appID)
	}
	networkID = binary.BigEndian.Uint64(frame[4:12])
	sum := frame[12:44]
	ciphertext := frame[44:]

	key := discoveryKey()
	mac := hmac.New(sha256.New, key[:])
	mac.Write(frame[2:12])
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), sum) {
		return 0, nil, fmt.Errorf("nethernet: discovery HMAC mismatch")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return 0, nil, err
	}
	padded, err := ecbDecrypt(block, ciphertext)
	if err != nil {
		return 0, nil, err
	}
	payload, err = pkcs7Unpad(padded)
	if err != nil {
		return 0, nil, err
	}
	return networkID, payload, nil
}

// ServerInfo is the decoded pipe-delimited discovery payload (spec.md
// §4.2 "MCPE;motd;protocol;version;players;max;network_id;level;gamemode;…").
type ServerInfo struct {
	MOTD       string
	Protocol   int
	Version    string
	Players    int
	MaxPlayers int
	NetworkID  uint64
	Level      string
	GameMode   string
}

// encodeServerInfo renders s as the pipe-delimited payload discovery
// frames carry.
func encodeServerInfo(s ServerInfo) string {
	return fmt.Sprintf("MCPE;%s;%d;%s;%d;%d;%d;%s;%s;", s.MOTD, s.Protocol, s.Version, s.Players, s.MaxPlayers, s.NetworkID, s.Level, s.GameMode)
}

func parseServerInfo(payload string) (ServerInfo, error) {
	fields := strings.Split(payload, ";")
	if len(fields) < 9 || fields[0] != "MCPE" {
		return ServerInfo{}, fmt.Errorf("nethernet: malformed server info payload")
	}
	var s ServerInfo
	s.MOTD = fields[1]
	fmt.Sscanf(fields[2], "%d", &s.Protocol)
	s.Version = fields[3]
	fmt.Sscanf(fields[4], "%d", &s.Players)
	fmt.Sscanf(fields[5], "%d", &s.MaxPlayers)
	fmt.Sscanf(fields[6], "%d", &s.NetworkID)
	s.Level = fields[7]
	s.GameMode = fields[8]
	return s, nil
}

// Advertiser periodically broadcasts an encrypted discovery frame
// advertising a local server (spec.md §4.2 "An optional discovery layer
// broadcasts a server-info payload").
type Advertiser struct {
	conn      net.PacketConn
	broadcast net.Addr
	networkID uint64

	mu   sync.Mutex
	info ServerInfo

	stop chan struct{}
}

// NewAdvertiser binds a UDP socket and starts broadcasting info every
// interval to broadcastAddr (default "255.255.255.255:7551").
func NewAdvertiser(networkID uint64, broadcastAddr string, interval time.Duration, info ServerInfo) (*Advertiser, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a := &Advertiser{conn: conn, broadcast: raddr, networkID: networkID, info: info, stop: make(chan struct{})}
	go a.loop(interval)
	return a, nil
}

// SetServerInfo updates the payload broadcast on the next tick.
func (a *Advertiser) SetServerInfo(info ServerInfo) {
	a.mu.Lock()
	a.info = info
	a.mu.Unlock()
}

func (a *Advertiser) loop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.mu.Lock()
			info := a.info
			a.mu.Unlock()
			info.NetworkID = a.networkID
			frame, err := encodeDiscoveryFrame(a.networkID, []byte(encodeServerInfo(info)))
			if err != nil {
				continue
			}
			_, _ = a.conn.WriteTo(frame, a.broadcast)
		case <-a.stop:
			return
		}
	}
}

// Close stops broadcasting and releases the socket.
func (a *Advertiser) Close() error {
	close(a.stop)
	return a.conn.Close()
}

// DiscoveryClient listens for broadcast discovery frames and maintains a
// map of recently-seen servers, expiring entries after
// discoveryEntryTTL (spec.md §4.2 "receivers maintain a map
// network_id -> last_seen_payload").
type DiscoveryClient struct {
	conn net.PacketConn

	mu      sync.Mutex
	servers map[uint64]discoveredServer
}

type discoveredServer struct {
	info ServerInfo
	seen time.Time
}

// ListenDiscovery binds a UDP socket on addr (typically "0.0.0.0:7551")
// to receive broadcast discovery frames.
func ListenDiscovery(addr string) (*DiscoveryClient, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, err
	}
	c := &DiscoveryClient{conn: conn, servers: make(map[uint64]discoveredServer)}
	go c.readLoop()
	return c, nil
}

func (c *DiscoveryClient) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		networkID, payload, err := decodeDiscoveryFrame(buf[:n])
		if err != nil {
			continue
		}
		info, err := parseServerInfo(string(payload))
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.servers[networkID] = discoveredServer{info: info, seen: time.Now()}
		c.mu.Unlock()
	}
}

// Servers returns every server seen within the last discoveryEntryTTL.
func (c *DiscoveryClient) Servers() map[uint64]ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]ServerInfo)
	now := time.Now()
	for id, s := range c.servers {
		if now.Sub(s.seen) > discoveryEntryTTL {
			delete(c.servers, id)
			continue
		}
		out[id] = s.info
	}
	return out
}

// Close releases the listening socket.
func (c *DiscoveryClient) Close() error { return c.conn.Close() }
