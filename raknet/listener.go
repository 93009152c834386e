package raknet

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cookieRotation is how often the listener's cookie secret is replaced.
// Cookies issued under the previous secret remain valid for one
// rotation period to tolerate handshakes spanning a rotation boundary
// (spec.md §9 "Cookie-based anti-amplification", SPEC_FULL.md §C.2).
const cookieRotation = time.Minute

// defaultPingRate is the per-IP UnconnectedPing budget (spec.md §4.1
// "default 10 pings/sec/IP").
const defaultPingRate = 10

// tickInterval drives per-session Flush/retransmission/timeout checks;
// pending ACKs go out on every tick.
const tickInterval = ackFlushInterval

// Listener accepts incoming RakNet connections on a UDP socket,
// performing the offline handshake before handing a Session off to
// Accept. Structured after the offline-handshake dispatch style of
// ventosilenzioso-go-raknet's packet-ID switch, reworked around a
// cookie handshake and per-session goroutine-free Tick scheduling
// rather than a listener-wide single loop per connection.
type Listener struct {
	conn net.PacketConn

	ServerGUID uint64
	MaxMTU     int

	// Motd is called for every UnconnectedPing to build the pong payload.
	// Defaults to a static "MCPE;Dedicated Server;..." style string if nil.
	Motd func(remote net.Addr) string

	// Metrics, when set before a Session is created, reports session and
	// datagram counters to Prometheus. Nil disables reporting.
	Metrics *Metrics

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	cookieMu     sync.Mutex
	cookieSecret [32]byte
	prevSecret   [32]byte
	cookieStamp  time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingHandshake

	incoming chan *Session
	closed   chan struct{}
	closeErr error
}

// pendingHandshake tracks a half-completed offline handshake so that a
// retried OpenConnectionRequest2 can be answered idempotently (spec.md
// §4.1 "Idempotent OCR2").
type pendingHandshake struct {
	mtu      int
	cookie   uint32
	guid     uint64
	reply2   []byte
	complete bool
}

// Listen opens a UDP socket and starts the listener's read and tick
// loops.
func Listen(address string) (*Listener, error) {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, fmt.Errorf("raknet: listen: %w", err)
	}
	var guidBuf [8]byte
	_, _ = rand.Read(guidBuf[:])

	l := &Listener{
		conn:       conn,
		ServerGUID: binary.BigEndian.Uint64(guidBuf[:]),
		MaxMTU:     MaxMTU,
		sessions:   make(map[string]*Session),
		pending:    make(map[string]*pendingHandshake),
		limiters:   make(map[string]*rate.Limiter),
		incoming:   make(chan *Session, 64),
		closed:     make(chan struct{}),
	}
	_, _ = rand.Read(l.cookieSecret[:])
	l.cookieStamp = time.Now()

	go l.readLoop()
	go l.tickLoop()
	return l, nil
}

// Addr returns the listener's local UDP address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Accept blocks until a Session has completed its offline handshake.
func (l *Listener) Accept() (*Session, error) {
	select {
	case s, ok := <-l.incoming:
		if !ok {
			return nil, l.closeErr
		}
		return s, nil
	case <-l.closed:
		return nil, l.closeErr
	}
}

// Close shuts down the socket and every active session.
func (l *Listener) Close() error {
	l.closeErr = net.ErrClosed
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	l.mu.Lock()
	for _, s := range l.sessions {
		s.Close(fmt.Errorf("raknet: listener closed"))
	}
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Listener) readLoop() {
	buf := make([]byte, MaxMTU+64)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		l.handlePacket(data, addr)
	}
}

func (l *Listener) tickLoop() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.mu.Lock()
			sessions := make([]*Session, 0, len(l.sessions))
			for _, s := range l.sessions {
				sessions = append(sessions, s)
			}
			l.mu.Unlock()
			for _, s := range sessions {
				select {
				case <-s.Closed():
					l.mu.Lock()
					delete(l.sessions, s.RemoteAddr.String())
					l.mu.Unlock()
					continue
				default:
				}
				_ = s.Tick()
			}
			l.rotateCookieIfDue()
		case <-l.closed:
			return
		}
	}
}

func (l *Listener) handlePacket(data []byte, addr net.Addr) {
	if len(data) == 0 {
		return
	}
	l.mu.Lock()
	session, hasSession := l.sessions[addr.String()]
	l.mu.Unlock()
	// Connected datagrams carry the valid bit; anything else from a known
	// address (such as a retried OpenConnectionRequest2) is an offline
	// message.
	if hasSession && data[0]&datagramFlagValid != 0 {
		_ = session.HandleDatagram(data)
		return
	}

	switch data[0] {
	case IDUnconnectedPing:
		l.handleUnconnectedPing(data, addr)
	case IDOpenConnectionRequest1:
		l.handleOpenConnectionRequest1(data, addr)
	case IDOpenConnectionRequest2:
		l.handleOpenConnectionRequest2(data, addr)
	}
}

func (l *Listener) limiterFor(addr net.Addr) *rate.Limiter {
	host, _, _ := net.SplitHostPort(addr.String())
	l.limitersMu.Lock()
	defer l.limitersMu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(defaultPingRate, defaultPingRate)
		l.limiters[host] = lim
	}
	return lim
}

func (l *Listener) handleUnconnectedPing(data []byte, addr net.Addr) {
	if !l.limiterFor(addr).Allow() {
		return
	}
	if len(data) < 9 {
		return
	}
	pingID := binary.BigEndian.Uint64(data[1:9])

	motd := "MCPE;Dedicated Server;649;1.21.0;0;10;0;Bedrock level;Survival;1;19132;19133;"
	if l.Motd != nil {
		motd = l.Motd(addr)
	}

	buf := make([]byte, 0, 64+len(motd))
	buf = append(buf, IDUnconnectedPong)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], pingID)
	buf = append(buf, id[:]...)
	var guid [8]byte
	binary.BigEndian.PutUint64(guid[:], l.ServerGUID)
	buf = append(buf, guid[:]...)
	buf = append(buf, Magic[:]...)
	var mlen [2]byte
	binary.BigEndian.PutUint16(mlen[:], uint16(len(motd)))
	buf = append(buf, mlen[:]...)
	buf = append(buf, motd...)
	_, _ = l.conn.WriteTo(buf, addr)
}

// cookieFor derives the anti-amplification cookie for addr under the
// given secret as HMAC-SHA256 truncated to 4 bytes (SPEC_FULL.md §C.2).
func cookieFor(secret [32]byte, addr net.Addr) uint32 {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(addr.String()))
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

func (l *Listener) rotateCookieIfDue() {
	l.cookieMu.Lock()
	defer l.cookieMu.Unlock()
	if time.Since(l.cookieStamp) < cookieRotation {
		return
	}
	l.prevSecret = l.cookieSecret
	_, _ = rand.Read(l.cookieSecret[:])
	l.cookieStamp = time.Now()
}

func (l *Listener) validCookie(addr net.Addr, cookie uint32) bool {
	l.cookieMu.Lock()
	cur, prev := l.cookieSecret, l.prevSecret
	l.cookieMu.Unlock()
	return cookie == cookieFor(cur, addr) || cookie == cookieFor(prev, addr)
}

func (l *Listener) handleOpenConnectionRequest1(data []byte, addr net.Addr) {
	if len(data) < 1+16+1 || !bytes.Equal(data[1:17], Magic[:]) {
		return
	}
	requestedMTU := len(data)
	mtu := requestedMTU
	if mtu > l.MaxMTU {
		mtu = l.MaxMTU
	}
	if mtu < MinMTU {
		mtu = MinMTU
	}

	l.cookieMu.Lock()
	secret := l.cookieSecret
	l.cookieMu.Unlock()
	cookie := cookieFor(secret, addr)

	buf := make([]byte, 0, 28)
	buf = append(buf, IDOpenConnectionReply1)
	buf = append(buf, Magic[:]...)
	var guid [8]byte
	binary.BigEndian.PutUint64(guid[:], l.ServerGUID)
	buf = append(buf, guid[:]...)
	buf = append(buf, 0) // not using security/incompatible-protocol signalling
	var mtuBuf [2]byte
	binary.BigEndian.PutUint16(mtuBuf[:], uint16(mtu))
	buf = append(buf, mtuBuf[:]...)
	var cookieBuf [4]byte
	binary.BigEndian.PutUint32(cookieBuf[:], cookie)
	buf = append(buf, cookieBuf[:]...)
	_, _ = l.conn.WriteTo(buf, addr)
}

func (l *Listener) handleOpenConnectionRequest2(data []byte, addr net.Addr) {
	if len(data) < 1+16+4 || !bytes.Equal(data[1:17], Magic[:]) {
		return
	}
	cookie := binary.BigEndian.Uint32(data[17:21])
	off := 21

	key := addr.String()
	l.mu.Lock()
	if pending, ok := l.pending[key]; ok && pending.complete {
		reply := pending.reply2
		l.mu.Unlock()
		_, _ = l.conn.WriteTo(reply, addr)
		return
	}
	l.mu.Unlock()

	if !l.validCookie(addr, cookie) {
		return
	}
	if off+2 > len(data) {
		return
	}
	mtu := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if off+8 > len(data) {
		return
	}
	clientGUID := binary.BigEndian.Uint64(data[off:])

	if mtu > l.MaxMTU {
		mtu = l.MaxMTU
	}
	if mtu < MinMTU {
		mtu = MinMTU
	}

	buf := make([]byte, 0, 32)
	buf = append(buf, IDOpenConnectionReply2)
	buf = append(buf, Magic[:]...)
	var guid [8]byte
	binary.BigEndian.PutUint64(guid[:], l.ServerGUID)
	buf = append(buf, guid[:]...)
	buf = appendAddr(buf, addr)
	var mtuBuf [2]byte
	binary.BigEndian.PutUint16(mtuBuf[:], uint16(mtu))
	buf = append(buf, mtuBuf[:]...)
	buf = append(buf, 0) // encryption-enabled flag, unused at the RakNet layer

	l.mu.Lock()
	l.pending[key] = &pendingHandshake{mtu: mtu, cookie: cookie, guid: clientGUID, reply2: buf, complete: true}
	l.mu.Unlock()

	_, _ = l.conn.WriteTo(buf, addr)

	session := NewSessionWithMetrics(addr, clientGUID, mtu, func(b []byte) error {
		_, err := l.conn.WriteTo(b, addr)
		return err
	}, l.Metrics)
	session.OnClose(func(error) {
		l.mu.Lock()
		delete(l.sessions, key)
		delete(l.pending, key)
		l.mu.Unlock()
	})

	l.mu.Lock()
	l.sessions[key] = session
	l.mu.Unlock()

	select {
	case l.incoming <- session:
	case <-l.closed:
		session.Close(fmt.Errorf("raknet: listener closed"))
	}
}

// appendAddr encodes a net.Addr the way RakNet's reply packets embed
// the observed client address: a 1-byte IP version followed by 4 (v4)
// or 16 (v6) address bytes and a big-endian port.
func appendAddr(dst []byte, addr net.Addr) []byte {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return append(dst, 4, 0, 0, 0, 0, 0, 0)
	}
	ip := net.ParseIP(host)
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	if ip4 := ip.To4(); ip4 != nil {
		dst = append(dst, 4)
		dst = append(dst, ip4...)
	} else {
		dst = append(dst, 6)
		dst = append(dst, ip.To16()...)
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], port)
	return append(dst, p[:]...)
}
