package rtcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
)

// Session is the orchestrator of spec §4.6: join/leave/reset lifecycle,
// timer ownership, and the wiring between the statistics table, the
// FSM-driven scheduler, the crypto boundary and the borrowed transport.
// Grounded on the teacher's Session type in pkg/rtp/session.go, which
// coordinates RTPSession/RTCPSession/SourceManager the same way this one
// coordinates the statistics table, the scheduler and the crypto boundary.
type Session struct {
	mu sync.Mutex

	id      string
	cfg     Config
	clock   Clock
	log     StructuredLogger
	metrics *Metrics

	channel DatagramChannel
	crypto  *CryptoBoundary
	// secure is read by transmit() from the scheduler's timer goroutine and
	// written by EnableSecurity/DisableSecurity under s.mu (spec §5's three
	// concurrent actors) — atomic so that cross-goroutine read is race-free
	// without dragging transmit() under the session lock.
	secure atomic.Bool

	localSSRC  uint32
	stats      *Statistics
	scheduler  *Scheduler
	dispatcher *Dispatcher

	joined    bool
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewSession constructs a Session bound to channel, not yet joined. metrics
// may be nil (metrics become no-ops); log may be nil (defaults to a stderr
// zerolog sink).
func NewSession(cfg Config, clock Clock, log StructuredLogger, channel DatagramChannel, metrics *Metrics) *Session {
	cfg.setDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = NewLogger(nil)
	}

	localSSRC := resolveLocalSSRC(cfg.LocalSSRC, nil)
	sessionID := uuid.NewString()
	sessionLog := log.WithComponent("session")

	s := &Session{
		id:      sessionID,
		cfg:     cfg,
		clock:   clock,
		log:     sessionLog,
		metrics: metrics,
		channel: channel,
		crypto:  NewCryptoBoundary(),

		localSSRC: localSSRC,
		stats:     NewStatistics(localSSRC, cfg.rtcpBandwidth()),
	}

	s.scheduler = NewScheduler(clock, s.stats, sessionLog, s.transmit, s.onExpiryFailure)
	s.dispatcher = NewDispatcher(s.stats, sessionLog, s.onBye, s.IsJoined)

	return s
}

// ID returns the session's identity, used as the Prometheus series label.
func (s *Session) ID() string { return s.id }

// LocalSSRC returns the local participant's synchronization source.
func (s *Session) LocalSSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSSRC
}

// IsJoined reports whether the session is currently in the running state.
func (s *Session) IsJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Handler exposes the PacketHandler this session dispatches inbound
// datagrams through.
func (s *Session) Handler() PacketHandler { return s.dispatcher }

// MarkSent flips we_sent: the RTP media handler (an out-of-scope
// collaborator, spec §1) calls this whenever it transmits local RTP.
func (s *Session) MarkSent() { s.stats.SetWeSent(true) }

// Join installs the tx timer and the SSRC-timeout sweep and schedules the
// first REPORT (spec §4.6). Idempotent on an already-joined session.
func (s *Session) Join() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return nil
	}

	s.startSweepLocked()
	if err := s.scheduler.ScheduleFirstReport(); err != nil {
		s.stopSweepLocked()
		return err
	}
	s.joined = true
	s.log.Info("session joined", Uint32("ssrc", s.localSSRC))
	return nil
}

// Leave cancels the SSRC sweep, resets the per-leave statistics, and
// schedules the single BYE the scheduler will eventually emit (spec §4.6).
// Idempotent on a session that is not joined.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return nil
	}

	s.stopSweepLocked()
	s.stats.ResetMembers()
	s.stats.ClearSenders()

	byeSize, err := s.byeSizeLocked()
	if err == nil {
		s.stats.SetRtcpAvgSize(byeSize)
	}

	s.joined = false
	if err := s.scheduler.ScheduleBye(); err != nil {
		return err
	}
	s.log.Info("session leaving", Uint32("ssrc", s.localSSRC))
	return nil
}

// Reset tears the session down to construction defaults. Forbidden while
// joined (spec §4.6).
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return newError(ErrInvalidState, "Reset", fmt.Errorf("reset called while joined"))
	}

	s.stopSweepLocked()
	s.scheduler.Reset()
	s.stats = NewStatistics(s.localSSRC, s.cfg.rtcpBandwidth())
	s.dispatcher.stats = s.stats
	s.scheduler.Rebind(s.stats)

	if s.secure.Load() {
		_ = s.crypto.Disable()
		s.dispatcher.DisableSecurity()
		s.secure.Store(false)
	}
	s.log.Info("session reset", Uint32("ssrc", s.localSSRC))
	return nil
}

// EnableSecurity starts the DTLS-SRTP handshake as server over conn (spec
// §4.5). Inbound and outbound RTCP are dropped until the handshake
// completes.
func (s *Session) EnableSecurity(ctx context.Context, conn net.Conn, cryptoCfg CryptoConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secure.Store(true)
	s.dispatcher.EnableSecurity(s.crypto)
	return s.crypto.Enable(ctx, conn, cryptoCfg, s.log)
}

// DisableSecurity restores plaintext RTCP. Must not be called while
// handshaking.
func (s *Session) DisableSecurity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.crypto.Disable(); err != nil {
		return err
	}
	s.dispatcher.DisableSecurity()
	s.secure.Store(false)
	return nil
}

func (s *Session) onExpiryFailure(err error) {
	s.log.Error("expiry failure, resetting session", Err(err))
	go func() {
		if s.IsJoined() {
			// leave path is the only legal way out of joined; an expiry
			// failure while joined still requires that ordering.
			_ = s.Leave()
		}
		_ = s.Reset()
	}()
}

// onBye is the dispatcher's reverse-reconsideration trigger (spec §4.4
// step 5).
func (s *Session) onBye(members, pmembers int) {
	if s.metrics != nil {
		s.metrics.byeEvents.WithLabelValues(s.id).Inc()
	}
	if err := s.scheduler.ReverseReconsider(members, pmembers); err != nil {
		s.log.Warn("reverse reconsideration failed", Err(err))
		return
	}
	if s.metrics != nil {
		s.metrics.reconsiderations.WithLabelValues(s.id).Inc()
	}
}

// transmit builds, optionally encrypts and sends the compound packet for
// kind; it is the scheduler's TransmitFunc.
func (s *Session) transmit(kind TaskKind) (int, error) {
	var plain []byte
	var err error

	if kind == TaskBye {
		plain, err = s.buildBye()
	} else {
		plain, err = s.buildReport()
	}
	if err != nil {
		return 0, err
	}

	payload := plain
	if s.secure.Load() {
		payload, err = s.crypto.EncodeRTCP(plain)
		if err != nil {
			return 0, err
		}
	}

	remote := s.channel.RemoteAddr()
	if err := s.channel.Send(payload, remote); err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.packetsSent.WithLabelValues(s.id, kind.String()).Inc()
	}

	if kind == TaskReport {
		// we_sent covers RTP sent since the previous report.
		s.stats.SetWeSent(false)
	}

	if kind == TaskBye {
		_ = s.channel.Disconnect()
		_ = s.channel.Close()
	}

	return len(plain), nil
}

func (s *Session) buildReport() ([]byte, error) {
	now := s.clock.Now()
	weSent := s.stats.WeSent()
	reports := s.stats.ReceptionReports(now)

	var sr rtcp.SenderReport
	var rr rtcp.ReceiverReport
	if weSent {
		sr = rtcp.SenderReport{NTPTime: ntpTimestamp(now), Reports: reports}
	} else {
		rr = rtcp.ReceiverReport{Reports: reports}
	}

	cp, err := buildReport(weSent, s.localSSRC, sr, rr, s.cfg.Description)
	if err != nil {
		return nil, err
	}
	return marshalCompound(cp)
}

func (s *Session) buildBye() ([]byte, error) {
	cp, err := buildBye(s.localSSRC, rtcp.ReceiverReport{}, s.cfg.Description, "")
	if err != nil {
		return nil, err
	}
	return marshalCompound(cp)
}

// byeSizeLocked precomputes the eventual BYE compound's size so Leave can
// seed avg_rtcp_size with it immediately (spec §4.6: "avg_rtcp_size =
// size_of(compound_bye)"). The BYE this builds carries no reception
// reports, same as the one transmit() sends, so the size matches exactly.
func (s *Session) byeSizeLocked() (int, error) {
	buf, err := s.buildBye()
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (s *Session) startSweepLocked() {
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	stop, done := s.sweepStop, s.sweepDone
	interval := s.cfg.SweepInterval
	go s.sweepLoop(stop, done, interval)
}

func (s *Session) stopSweepLocked() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	<-s.sweepDone
	s.sweepStop = nil
	s.sweepDone = nil
}

// sweepLoop is the 7s periodic SSRC-timeout sweep (spec §4.6): it evicts
// members unseen for five of the last drawn (randomized) report intervals
// and unmarks senders silent for two.
func (s *Session) sweepLoop(stop, done chan struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := s.clock.Now()
			s.stats.SweepSenderTimeouts(now)
			evicted := s.stats.PruneStale(now, 5)
			for _, ssrc := range evicted {
				s.log.Debug("member evicted", Uint32("ssrc", ssrc))
			}
			if s.metrics != nil {
				s.metrics.membersGauge.WithLabelValues(s.id).Set(float64(s.stats.GetMembers()))
				current := s.scheduler.State()
				for _, st := range []string{stateIdle, stateReportScheduled, stateByeScheduled, stateTerminated} {
					v := 0.0
					if st == current {
						v = 1
					}
					s.metrics.schedulerState.WithLabelValues(s.id, st).Set(v)
				}
			}
		}
	}
}
