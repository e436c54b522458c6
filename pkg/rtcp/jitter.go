package rtcp

import "github.com/pion/rtp"

// ObserveRTPArrival feeds a single inbound RTP packet's timing into the
// jitter estimate kept for its SSRC (RFC 3550 Appendix A.8). The RTP media
// handler is an out-of-scope collaborator (spec §1) that owns the actual
// receive path; this is the one seam it uses to keep this package's member
// table holding a genuine running jitter instead of the report-derived
// approximation ReceptionReports otherwise falls back to.
//
// arrivalTimestamp is the packet's arrival time already expressed in the
// media's RTP clock units, the same conversion the teacher's
// source_manager.updateJitter performs before calling CalculateJitter.
func (s *Statistics) ObserveRTPArrival(pkt *rtp.Packet, arrivalTimestamp uint32) {
	if pkt == nil {
		return
	}
	ssrc := pkt.SSRC
	transit := int64(arrivalTimestamp) - int64(pkt.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[ssrc]
	if !ok {
		m = &MemberEntry{SSRC: ssrc}
		s.members[ssrc] = m
	}
	if m.haveTransit {
		m.Jitter = CalculateJitter(m.Jitter, transit-m.lastTransit)
	}
	m.lastTransit = transit
	m.haveTransit = true
}
