package raknet

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds the whole offline handshake plus connected
// handshake (ConnectionRequest/Accepted/NewIncomingConnection).
const DialTimeout = 10 * time.Second

// handshakeRetry is how long the dialer waits for each offline-handshake
// reply before resending the preceding request.
const handshakeRetry = 500 * time.Millisecond

// Dial performs the full RakNet connection sequence against address:
// the offline handshake (OpenConnectionRequest/Reply 1/2) followed by
// the connected handshake (ConnectionRequest/Accepted,
// NewIncomingConnection), per spec.md §4.1 "Offline handshake" and the
// S1 scenario. It returns a Session ready for application traffic.
func Dial(address string) (*Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("raknet: resolve: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("raknet: dial: %w", err)
	}

	var clientGUIDBuf [8]byte
	_, _ = rand.Read(clientGUIDBuf[:])
	clientGUID := binary.BigEndian.Uint64(clientGUIDBuf[:])

	deadline := time.Now().Add(DialTimeout)
	conn.SetReadBuffer(MaxMTU * 4)

	serverGUID, mtu, cookie, err := offlineHandshake(conn, clientGUID, deadline)
	if err != nil {
		conn.Close()
		return nil, err
	}

	session := NewSession(raddr, serverGUID, mtu, func(b []byte) error {
		_, err := conn.Write(b)
		return err
	})
	go dialerReadLoop(conn, session)
	go dialerTickLoop(session)

	if err := connectedHandshake(session, clientGUID, raddr, deadline); err != nil {
		session.Close(err)
		conn.Close()
		return nil, err
	}
	_ = cookie // retained for symmetry with the listener's pendingHandshake bookkeeping
	return session, nil
}

func dialerReadLoop(conn *net.UDPConn, s *Session) {
	buf := make([]byte, MaxMTU+64)
	for {
		select {
		case <-s.Closed():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.Close(err)
			return
		}
		_ = s.HandleDatagram(append([]byte(nil), buf[:n]...))
	}
}

// dialerTickLoop drives the session's periodic Flush/retransmission/
// timeout maintenance, mirroring the Listener's tickLoop.
func dialerTickLoop(s *Session) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = s.Tick()
		case <-s.Closed():
			return
		}
	}
}

// offlineHandshake drives OpenConnectionRequest1/2 against conn, reusing
// the RTO-driven retry style of the Session's own retransmission loop
// but pre-Session since no reliability layer exists yet.
func offlineHandshake(conn *net.UDPConn, clientGUID uint64, deadline time.Time) (serverGUID uint64, mtu int, cookie uint32, err error) {
	req1 := make([]byte, 0, defaultMTU)
	req1 = append(req1, IDOpenConnectionRequest1)
	req1 = append(req1, Magic[:]...)
	req1 = append(req1, byte(ProtocolVersion))
	for len(req1) < defaultMTU {
		req1 = append(req1, 0)
	}

	reply1, err := requestReply(conn, req1, deadline, func(b []byte) bool { return len(b) > 0 && b[0] == IDOpenConnectionReply1 })
	if err != nil {
		return 0, 0, 0, fmt.Errorf("raknet: OpenConnectionRequest1: %w", err)
	}
	if len(reply1) < 1+16+8+1+2+4 || !bytes.Equal(reply1[1:17], Magic[:]) {
		return 0, 0, 0, fmt.Errorf("raknet: malformed OpenConnectionReply1")
	}
	off := 17
	serverGUID = binary.BigEndian.Uint64(reply1[off:])
	off += 8 + 1 // skip security-flag byte
	mtu = int(binary.BigEndian.Uint16(reply1[off:]))
	off += 2
	cookie = binary.BigEndian.Uint32(reply1[off:])

	req2 := make([]byte, 0, 32)
	req2 = append(req2, IDOpenConnectionRequest2)
	req2 = append(req2, Magic[:]...)
	var cookieBuf [4]byte
	binary.BigEndian.PutUint32(cookieBuf[:], cookie)
	req2 = append(req2, cookieBuf[:]...)
	var mtuBuf [2]byte
	binary.BigEndian.PutUint16(mtuBuf[:], uint16(mtu))
	req2 = append(req2, mtuBuf[:]...)
	var guidBuf [8]byte
	binary.BigEndian.PutUint64(guidBuf[:], clientGUID)
	req2 = append(req2, guidBuf[:]...)

	reply2, err := requestReply(conn, req2, deadline, func(b []byte) bool { return len(b) > 0 && b[0] == IDOpenConnectionReply2 })
	if err != nil {
		return 0, 0, 0, fmt.Errorf("raknet: OpenConnectionRequest2: %w", err)
	}
	_ = reply2
	return serverGUID, mtu, cookie, nil
}

// requestReply sends req and waits for a response satisfying match,
// resending every handshakeRetry until deadline.
func requestReply(conn *net.UDPConn, req []byte, deadline time.Time, match func([]byte) bool) ([]byte, error) {
	buf := make([]byte, MaxMTU+64)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("raknet: handshake timed out")
		}
		if _, err := conn.Write(req); err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(handshakeRetry))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		if match(buf[:n]) {
			return append([]byte(nil), buf[:n]...), nil
		}
	}
}

// connectedHandshake exchanges ConnectionRequest/ConnectionRequestAccepted
// and NewIncomingConnection over the now-reliable session (spec.md §6
// packet ID table).
func connectedHandshake(s *Session, clientGUID uint64, serverAddr net.Addr, deadline time.Time) error {
	reqTime := time.Now().UnixMilli()
	req := make([]byte, 0, 17)
	req = append(req, IDConnectionRequest)
	var guidBuf [8]byte
	binary.BigEndian.PutUint64(guidBuf[:], clientGUID)
	req = append(req, guidBuf[:]...)
	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], uint64(reqTime))
	req = append(req, timeBuf[:]...)
	req = append(req, 0) // not requesting security

	if err := s.Send(req, ReliableOrdered, 0); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}

	for {
		select {
		case payload, ok := <-s.Inbound:
			if !ok {
				return fmt.Errorf("raknet: session closed during handshake")
			}
			if len(payload) > 0 && payload[0] == IDConnectionRequestAccepted {
				return sendNewIncomingConnection(s, serverAddr)
			}
		case <-time.After(time.Until(deadline)):
			return fmt.Errorf("raknet: connected handshake timed out")
		}
	}
}

func sendNewIncomingConnection(s *Session, serverAddr net.Addr) error {
	buf := make([]byte, 0, 16)
	buf = append(buf, IDNewIncomingConnection)
	buf = appendAddr(buf, serverAddr)
	now := uint64(time.Now().UnixMilli())
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], now)
	buf = append(buf, t[:]...)
	buf = append(buf, t[:]...)
	if err := s.Send(buf, ReliableOrdered, 0); err != nil {
		return err
	}
	return s.Flush()
}
