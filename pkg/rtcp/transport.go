package rtcp

import (
	"fmt"
	"net"
	"sync"
)

// UDPChannel is the default DatagramChannel: a borrowed *net.UDPConn the
// session sends compound packets over. Grounded on the teacher's
// RTCPTransport/TransportPair in pkg/rtp/rtcp_transport.go and transport.go,
// trimmed to the narrow surface spec §6 actually names.
type UDPChannel struct {
	mu     sync.RWMutex
	conn   *net.UDPConn
	remote net.Addr
	open   bool
}

// NewUDPChannel wraps an already-bound UDP socket.
func NewUDPChannel(conn *net.UDPConn, remote net.Addr) *UDPChannel {
	return &UDPChannel{conn: conn, remote: remote, open: conn != nil}
}

func (u *UDPChannel) IsOpen() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.open
}

func (u *UDPChannel) IsConnected() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.open && u.remote != nil
}

func (u *UDPChannel) RemoteAddr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.remote
}

func (u *UDPChannel) Send(buf []byte, remote net.Addr) error {
	u.mu.RLock()
	conn, open := u.conn, u.open
	u.mu.RUnlock()
	if !open || conn == nil {
		return newError(ErrTransportFailure, "Send", fmt.Errorf("channel not open"))
	}
	addr, ok := remote.(*net.UDPAddr)
	if !ok {
		var err error
		addr, err = net.ResolveUDPAddr("udp", remote.String())
		if err != nil {
			return newError(ErrTransportFailure, "Send", err)
		}
	}
	if _, err := conn.WriteToUDP(buf, addr); err != nil {
		return newError(ErrTransportFailure, "Send", err)
	}
	return nil
}

// Disconnect drops the association with the remote peer without closing
// the underlying socket, mirroring spec §4.6's leave-path ordering
// ("channel disconnected then closed").
func (u *UDPChannel) Disconnect() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remote = nil
	return nil
}

func (u *UDPChannel) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.open {
		return nil
	}
	u.open = false
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
