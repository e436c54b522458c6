package rtcp

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtcp"
)

const (
	rtcpMinTime        = 5 * time.Second / 2 // 2.5s steady state
	rtcpMinTimeInitial = 500 * time.Millisecond
	compensationFactor = 1.21828 // e - 1.5, RFC 3550 App. A.7
)

// Statistics implements RtpStatistics: the member table and the RFC 3550
// §6.3 bookkeeping (members, senders, we_sent, avg_rtcp_size) the
// transmission scheduler drives its interval algorithm from. Grounded on
// the statistics bookkeeping in rtcp_session.go and the jitter/loss helpers
// in rtcp.go, generalized to operate over pion/rtcp report blocks.
type Statistics struct {
	mu sync.Mutex

	localSSRC    uint32
	rtcpBw       float64
	weSent       bool
	initial      bool
	avgRTCPSize  float64
	pendingKind  TaskKind
	lastInterval time.Duration

	members  map[uint32]*MemberEntry
	pmembers int
}

// NewStatistics creates the statistics table for a freshly constructed
// session. The local SSRC is always present in the member table (spec §3
// invariant members ≥ 1).
func NewStatistics(localSSRC uint32, rtcpBandwidth float64) *Statistics {
	s := &Statistics{
		localSSRC:   localSSRC,
		rtcpBw:      rtcpBandwidth,
		initial:     true,
		avgRTCPSize: 128, // plausible seed so the first interval isn't absurd
		members:     make(map[uint32]*MemberEntry),
	}
	s.members[localSSRC] = &MemberEntry{SSRC: localSSRC, LastSeen: time.Time{}}
	return s
}

// SetWeSent flips we_sent; the orchestrator calls this whenever local RTP
// is sent, and the scheduler reads it at expiry time to pick SR vs RR.
func (s *Statistics) SetWeSent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weSent = v
	if v {
		if m, ok := s.members[s.localSSRC]; ok {
			m.IsSender = true
		}
	}
}

func (s *Statistics) WeSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weSent
}

// RtcpInterval implements the full RFC 3550 App. A.7 algorithm: the
// deterministic interval T scaled by a uniform [0.5, 1.5] draw and, while
// initial, divided by e-1.5. This replaces the teacher's
// RTCPIntervalCalculation, which hard-coded the random factor to a constant
// 1.5 regardless of `initial` — a known bug, corrected here (see
// REDESIGN FLAGS in SPEC_FULL.md).
func (s *Statistics) RtcpInterval(initial bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := len(s.members)
	senders := s.countSenders()

	n := members
	bwEff := s.rtcpBw
	if senders > 0 && float64(senders) < float64(members)*0.25 {
		if s.weSent {
			n = senders
			bwEff = s.rtcpBw * 0.25
		} else {
			n = members - senders
			bwEff = s.rtcpBw * 0.75
		}
	}
	if n < 1 {
		n = 1
	}
	if bwEff <= 0 {
		bwEff = s.rtcpBw
	}

	tmin := rtcpMinTime
	if initial {
		tmin = rtcpMinTimeInitial
	}

	t := time.Duration(float64(n) * s.avgRTCPSize * 8 / bwEff * float64(time.Second))
	if t < tmin {
		t = tmin
	}

	u := 0.5 + rand.Float64() // uniform [0.5, 1.5)
	randomized := time.Duration(float64(t) * u)
	if initial {
		randomized = time.Duration(float64(randomized) / compensationFactor)
	}

	s.lastInterval = randomized
	return randomized
}

func (s *Statistics) countSenders() int {
	n := 0
	for _, m := range s.members {
		if m.IsSender {
			n++
		}
	}
	return n
}

// OnRtcpReceive folds an inbound compound packet into the member table and
// the avg_rtcp_size EWMA (spec §4.2/§4.4).
func (s *Statistics) OnRtcpReceive(pkt InboundCompound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.updateAvg(pkt.SizeBytes)

	for _, p := range pkt.Packets {
		switch v := p.(type) {
		case *rtcp.SenderReport:
			s.touch(v.SSRC, now, true)
			if m := s.members[v.SSRC]; m != nil {
				m.LastSRNTP = (v.NTPTime >> 16) & 0xFFFFFFFF
				m.LastSRRecvTime = now
			}
			s.absorbReports(v.SSRC, v.Reports)
		case *rtcp.ReceiverReport:
			s.touch(v.SSRC, now, false)
			s.absorbReports(v.SSRC, v.Reports)
		case *rtcp.SourceDescription:
			for _, chunk := range v.Chunks {
				s.touch(chunk.Source, now, false)
			}
		case *rtcp.Goodbye:
			for _, ssrc := range v.Sources {
				if ssrc == s.localSSRC {
					continue
				}
				delete(s.members, ssrc)
			}
		}
	}
}

// absorbReports records, on the reporting member's entry, the feedback that
// member gave about the local SSRC's reception (jitter/loss as observed by
// them) — the "reports about the local SSRC" refresh spec §4.4 calls for.
func (s *Statistics) absorbReports(reporter uint32, reports []rtcp.ReceptionReport) {
	m := s.members[reporter]
	if m == nil {
		return
	}
	for _, r := range reports {
		if r.SSRC != s.localSSRC {
			continue
		}
		m.Jitter = float64(r.Jitter)
		m.CumulativeLoss = int32(r.TotalLost)
	}
}

func (s *Statistics) touch(ssrc uint32, now time.Time, isSender bool) {
	m, ok := s.members[ssrc]
	if !ok {
		m = &MemberEntry{SSRC: ssrc}
		s.members[ssrc] = m
	}
	m.LastSeen = now
	if isSender {
		m.IsSender = true
	}
}

// OnRtcpSent folds an outbound compound packet's wire size into the EWMA.
func (s *Statistics) OnRtcpSent(sizeBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateAvg(sizeBytes)
}

// ReceptionReports builds one rtcp.ReceptionReport per remote sender from
// which an SR has been received, for inclusion in an outbound SR/RR.
// LSR/DLSR come from that SR's timestamps. Jitter and TotalLost are copied
// from the member entry, whose Jitter field is written both by
// ObserveRTPArrival's running estimate and by absorbReports (that member's
// own report about the local SSRC); whichever wrote last is reported.
// FractionLost is always 0.
func (s *Statistics) ReceptionReports(now time.Time) []rtcp.ReceptionReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reports []rtcp.ReceptionReport
	for ssrc, m := range s.members {
		if ssrc == s.localSSRC || !m.IsSender || m.LastSRNTP == 0 {
			continue
		}
		var dlsr uint32
		if !m.LastSRRecvTime.IsZero() {
			dlsr = uint32(now.Sub(m.LastSRRecvTime).Seconds() * 65536)
		}
		reports = append(reports, rtcp.ReceptionReport{
			SSRC:             ssrc,
			FractionLost:     0,
			TotalLost:        uint32(m.CumulativeLoss),
			Jitter:           uint32(m.Jitter),
			LastSenderReport: uint32(m.LastSRNTP),
			Delay:            dlsr,
		})
	}
	return reports
}

// updateAvg applies the RFC 3550 EWMA with weight 1/16. Caller holds mu.
func (s *Statistics) updateAvg(sizeBytes int) {
	s.avgRTCPSize = (15.0/16.0)*s.avgRTCPSize + (1.0/16.0)*float64(sizeBytes)
}

func (s *Statistics) SetRtcpAvgSize(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avgRTCPSize = float64(bytes)
}

func (s *Statistics) SetRtcpPacketType(kind TaskKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingKind = kind
}

func (s *Statistics) GetMembers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *Statistics) GetPmembers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pmembers
}

// ConfirmMembers snapshots members into pmembers, done after every report
// transmission (spec §4.3 step 3).
func (s *Statistics) ConfirmMembers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pmembers = len(s.members)
}

// ResetMembers restores the table to just the local SSRC (spec §4.6 leave
// path: members = pmembers = 1).
func (s *Statistics) ResetMembers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ssrc := range s.members {
		if ssrc != s.localSSRC {
			delete(s.members, ssrc)
		}
	}
	s.pmembers = 1
	s.initial = true
}

// ClearSenders marks every member as a non-sender (spec §4.6 leave path:
// senders = 0).
func (s *Statistics) ClearSenders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.IsSender = false
	}
	s.weSent = false
}

// IsSenderTimeout reports whether a sender has gone silent for two report
// intervals (spec §3: "Senders time out independently after two report
// intervals").
func (s *Statistics) IsSenderTimeout(ssrc uint32, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[ssrc]
	if !ok || !m.IsSender {
		return false
	}
	return now.Sub(m.LastSeen) > 2*s.lastInterval
}

// SweepSenderTimeouts unmarks senders that have gone silent for two report
// intervals (spec §3), called by the session's periodic SSRC-timeout
// sweep.
func (s *Statistics) SweepSenderTimeouts(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastInterval == 0 {
		return
	}
	deadline := 2 * s.lastInterval
	for ssrc, m := range s.members {
		if ssrc == s.localSSRC || !m.IsSender {
			continue
		}
		if now.Sub(m.LastSeen) > deadline {
			m.IsSender = false
		}
	}
}

// PruneStale evicts members not seen within `multiplier` times the last
// interval RtcpInterval returned, decrementing members. That interval is
// the randomized draw, not the deterministic T. The local SSRC is never
// evicted. Returns the evicted SSRCs.
func (s *Statistics) PruneStale(now time.Time, multiplier int) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastInterval == 0 {
		return nil
	}
	deadline := time.Duration(multiplier) * s.lastInterval
	var evicted []uint32
	for ssrc, m := range s.members {
		if ssrc == s.localSSRC {
			continue
		}
		if m.LastSeen.IsZero() {
			continue
		}
		if now.Sub(m.LastSeen) > deadline {
			evicted = append(evicted, ssrc)
			delete(s.members, ssrc)
		}
	}
	return evicted
}

// CalculateJitter applies the RFC 3550 Appendix A.8 running estimate:
// J(i) = J(i-1) + (|D(i-1,i)| - J(i-1)) / 16. Grounded directly on the
// teacher's CalculateJitter in pkg/rtp/rtcp.go.
func CalculateJitter(prevJitter float64, transitDiff int64) float64 {
	d := math.Abs(float64(transitDiff))
	return prevJitter + (d-prevJitter)/16.0
}
