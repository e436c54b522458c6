package rtcp

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
)

func TestStatisticsMembersInvariant(t *testing.T) {
	s := NewStatistics(1, 3200)
	if s.GetMembers() != 1 {
		t.Fatalf("expected a fresh table to contain only the local SSRC, got %d", s.GetMembers())
	}
}

func TestStatisticsAvgSizeConvergesGeometrically(t *testing.T) {
	s := NewStatistics(1, 3200)
	s.avgRTCPSize = 0
	const size = 200
	for i := 0; i < 200; i++ {
		s.OnRtcpSent(size)
	}
	if got := s.avgRTCPSize; got < size*0.99 || got > size*1.01 {
		t.Fatalf("avg_rtcp_size did not converge to %d, got %f", size, got)
	}
}

func TestStatisticsOnRtcpReceiveAddsMember(t *testing.T) {
	s := NewStatistics(1, 3200)
	pkt := InboundCompound{
		Packets: []rtcp.Packet{
			&rtcp.ReceiverReport{SSRC: 42},
			&rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{
				{Source: 42, Items: []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "peer"}}},
			}},
		},
		SizeBytes: 64,
	}
	s.OnRtcpReceive(pkt)
	if s.GetMembers() != 2 {
		t.Fatalf("expected members to grow to 2, got %d", s.GetMembers())
	}
}

func TestStatisticsGoodbyeRemovesMember(t *testing.T) {
	s := NewStatistics(1, 3200)
	s.OnRtcpReceive(InboundCompound{Packets: []rtcp.Packet{&rtcp.ReceiverReport{SSRC: 7}}}, )
	if s.GetMembers() != 2 {
		t.Fatalf("setup: expected 2 members, got %d", s.GetMembers())
	}
	s.OnRtcpReceive(InboundCompound{Packets: []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{7}}}})
	if s.GetMembers() != 1 {
		t.Fatalf("expected BYE to remove the member, got %d members", s.GetMembers())
	}
}

func TestRtcpIntervalRespectsInitialTmin(t *testing.T) {
	s := NewStatistics(1, 3200) // 64000 bps * 5%
	d := s.RtcpInterval(true)
	// Tmin floors the deterministic T; the returned value is then scaled by
	// U >= 0.5 and divided by e-1.5 while initial.
	floor := time.Duration(float64(500*time.Millisecond) * 0.5 / compensationFactor)
	if d < floor {
		t.Fatalf("initial interval must never fall below the 0.5s Tmin scaled by U=0.5 and e-1.5 (%v), got %v", floor, d)
	}
}

func TestRtcpIntervalRespectsSteadyTmin(t *testing.T) {
	s := NewStatistics(1, 3200)
	d := s.RtcpInterval(false)
	// Tmin floors the deterministic T; the returned value is then scaled by
	// U >= 0.5.
	if d < 1250*time.Millisecond {
		t.Fatalf("steady-state interval must never fall below the 2.5s Tmin scaled by U=0.5, got %v", d)
	}
}

func TestIsSenderTimeout(t *testing.T) {
	s := NewStatistics(1, 3200)
	s.OnRtcpReceive(InboundCompound{Packets: []rtcp.Packet{&rtcp.SenderReport{SSRC: 9}}})
	s.lastInterval = 100 * time.Millisecond
	now := time.Now()
	s.members[9].LastSeen = now.Add(-300 * time.Millisecond)
	if !s.IsSenderTimeout(9, now) {
		t.Fatalf("expected sender silent for 3x the interval to be timed out")
	}
}

func TestCalculateJitter(t *testing.T) {
	j := CalculateJitter(0, 160)
	if j <= 0 {
		t.Fatalf("expected jitter to move toward the new transit diff, got %f", j)
	}
}
