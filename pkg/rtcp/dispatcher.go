package rtcp

import (
	"net"
	"sync"
)

// dispatcherPriority is high: RTCP classification must win dispatch over a
// generic catch-all RTP handler sharing the same 5-tuple.
const dispatcherPriority = 100

// Dispatcher implements PacketHandler (spec §4.4/§6): it classifies
// inbound datagrams, decrypts when secure, decodes, folds the result into
// statistics, and triggers reverse reconsideration on BYE. It never itself
// owns the scheduler or the crypto boundary; those are wired in by Session.
type Dispatcher struct {
	stats *Statistics
	log   StructuredLogger

	// cryptoMu guards crypto/secure: EnableSecurity/DisableSecurity are
	// called under the session's lock from Session.EnableSecurity,
	// Session.DisableSecurity and Session.Reset, while
	// Handle is invoked from the inbound I/O goroutine (spec §5's three
	// concurrent actors) — these two need their own serialization.
	cryptoMu sync.Mutex
	crypto   DtlsHandler // nil when the session is not secured
	secure   bool

	onBye         func(members, pmembers int)
	requireJoined func() bool
}

// NewDispatcher constructs a plaintext dispatcher bound to stats, with no
// crypto handler; EnableSecurity/DisableSecurity later set the handler and
// the secure flag together so the dispatcher reflects
// CryptoBoundary.Enable/Disable ordering exactly.
func NewDispatcher(stats *Statistics, log StructuredLogger, onBye func(members, pmembers int), requireJoined func() bool) *Dispatcher {
	return &Dispatcher{stats: stats, log: log.WithComponent("dispatcher"), onBye: onBye, requireJoined: requireJoined}
}

// EnableSecurity switches the dispatcher into secure mode: inbound
// datagrams now require the handshake to be complete before decoding.
func (d *Dispatcher) EnableSecurity(h DtlsHandler) {
	d.cryptoMu.Lock()
	defer d.cryptoMu.Unlock()
	d.crypto = h
	d.secure = true
}

// DisableSecurity restores plaintext dispatch.
func (d *Dispatcher) DisableSecurity() {
	d.cryptoMu.Lock()
	defer d.cryptoMu.Unlock()
	d.crypto = nil
	d.secure = false
}

// cryptoSnapshot returns the current secure flag and handler together,
// consistent with one another (spec §5: reads must not tear).
func (d *Dispatcher) cryptoSnapshot() (bool, DtlsHandler) {
	d.cryptoMu.Lock()
	defer d.cryptoMu.Unlock()
	return d.secure, d.crypto
}

// CanHandle implements PacketHandler (spec §4.4 classification rule).
func (d *Dispatcher) CanHandle(buf []byte, offset, length int) bool {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return false
	}
	return canHandle(buf[offset : offset+length])
}

// PipelinePriority implements PacketHandler.
func (d *Dispatcher) PipelinePriority() int { return dispatcherPriority }

// CompareTo implements PacketHandler.
func (d *Dispatcher) CompareTo(other PacketHandler) int {
	return d.PipelinePriority() - other.PipelinePriority()
}

// Handle implements PacketHandler. RTCP never replies in-band, so the
// returned slice is always nil on success (spec §4.4/§6).
func (d *Dispatcher) Handle(buf []byte, offset, length int, local, remote net.Addr) ([]byte, error) {
	if d.requireJoined != nil && !d.requireJoined() {
		return nil, newError(ErrInvalidState, "Handle", nil)
	}

	datagram := buf[offset : offset+length]

	if !canHandle(datagram) {
		return nil, newError(ErrUnsupported, "Handle", nil)
	}

	secure, crypto := d.cryptoSnapshot()
	if secure {
		if crypto == nil || !crypto.IsHandshakeComplete() {
			return nil, nil // CryptoPending: drop silently
		}
		plain, err := crypto.DecodeRTCP(datagram)
		if err != nil || len(plain) == 0 {
			d.log.Warn("srtcp decode failed", Err(err))
			return nil, nil
		}
		datagram = plain
	}

	compound, err := decodeCompound(datagram)
	if err != nil {
		if IsKind(err, ErrMalformed) {
			d.log.Warn("malformed rtcp compound", Err(err))
			return nil, nil
		}
		return nil, err
	}

	membersBefore := d.stats.GetPmembers()
	d.stats.OnRtcpReceive(compound)

	if compound.HasBye {
		members := d.stats.GetMembers()
		if members < membersBefore && d.onBye != nil {
			d.onBye(members, membersBefore)
		}
	}

	return nil, nil
}
