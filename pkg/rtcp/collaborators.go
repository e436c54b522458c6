package rtcp

import (
	"net"
	"time"
)

// RtpStatistics is the RFC 3550 §6.3 bookkeeping the scheduler reads and
// writes on every expiry, send and receive. *Statistics implements it; it
// is pulled out as an interface so the scheduler can be exercised against a
// fake in tests (the dispatcher takes *Statistics directly).
type RtpStatistics interface {
	// RtcpInterval computes the randomized RFC 3550 App. A.7 interval.
	RtcpInterval(initial bool) time.Duration
	// OnRtcpReceive folds an inbound compound packet into the member table
	// and the avg_rtcp_size EWMA.
	OnRtcpReceive(pkt InboundCompound)
	// OnRtcpSent folds an outbound compound packet's size into the EWMA.
	OnRtcpSent(sizeBytes int)
	SetRtcpAvgSize(bytes int)
	SetRtcpPacketType(kind TaskKind)
	GetMembers() int
	GetPmembers() int
	ConfirmMembers()
	ResetMembers()
	ClearSenders()
	IsSenderTimeout(ssrc uint32, now time.Time) bool
}

// DtlsHandler is the handshake-gated crypto boundary consumed by the
// dispatcher; the outbound path in Session.transmit calls *CryptoBoundary
// directly. It is satisfied by *CryptoBoundary in this
// package but kept as an interface so the DTLS stack itself stays an
// external collaborator, as spec'd.
type DtlsHandler interface {
	IsHandshakeComplete() bool
	EncodeRTCP(plaintext []byte) ([]byte, error)
	DecodeRTCP(ciphertext []byte) ([]byte, error)
}

// DatagramChannel is the borrowed transport the session sends compound
// packets over and disconnects/closes on BYE. Never owned: the session
// never dials or listens itself.
type DatagramChannel interface {
	IsOpen() bool
	IsConnected() bool
	Send(buf []byte, remote net.Addr) error
	Disconnect() error
	Close() error
	RemoteAddr() net.Addr
}

// PacketHandler is the interface this package exposes upward into a
// multiplexed dispatch pipeline shared with the RTP media handler.
type PacketHandler interface {
	// CanHandle classifies a datagram without decoding it.
	CanHandle(buf []byte, offset, length int) bool
	// Handle processes an already-classified datagram. RTCP never replies
	// in-band, so the returned slice is always nil on success.
	Handle(buf []byte, offset, length int, local, remote net.Addr) ([]byte, error)
	// PipelinePriority ranks this handler against others sharing the same
	// 5-tuple; higher wins dispatch.
	PipelinePriority() int
	// CompareTo orders this handler against another by priority.
	CompareTo(other PacketHandler) int
}
