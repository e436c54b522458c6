package rtcp

import (
	"testing"

	"github.com/pion/rtcp"
)

func buildDatagram(t *testing.T, packets ...rtcp.Packet) []byte {
	t.Helper()
	buf, err := rtcp.Marshal(packets)
	if err != nil {
		t.Fatalf("marshal test datagram: %v", err)
	}
	return buf
}

func TestDispatcherHandleRejectsBeforeJoin(t *testing.T) {
	stats := NewStatistics(1, 3200)
	d := NewDispatcher(stats, testLogger{}, nil, func() bool { return false })
	datagram := buildDatagram(t, &rtcp.ReceiverReport{SSRC: 2}, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{Source: 2, Items: []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "x"}}}},
	})
	_, err := d.Handle(datagram, 0, len(datagram), nil, nil)
	if !IsKind(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState before join, got %v", err)
	}
}

func TestDispatcherHandleUpdatesStatistics(t *testing.T) {
	stats := NewStatistics(1, 3200)
	d := NewDispatcher(stats, testLogger{}, nil, func() bool { return true })
	datagram := buildDatagram(t, &rtcp.ReceiverReport{SSRC: 2}, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{Source: 2, Items: []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "x"}}}},
	})
	reply, err := d.Handle(datagram, 0, len(datagram), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != nil {
		t.Fatalf("RTCP must never reply in-band, got %v", reply)
	}
	if stats.GetMembers() != 2 {
		t.Fatalf("expected the new SSRC to be added, got %d members", stats.GetMembers())
	}
}

func TestDispatcherHandleDropsWhileCryptoPending(t *testing.T) {
	stats := NewStatistics(1, 3200)
	d := NewDispatcher(stats, testLogger{}, nil, func() bool { return true })
	d.EnableSecurity(&mockDtlsHandler{complete: false})

	datagram := buildDatagram(t, &rtcp.ReceiverReport{SSRC: 2})
	reply, err := d.Handle(datagram, 0, len(datagram), nil, nil)
	if err != nil {
		t.Fatalf("crypto-pending must drop silently, not error: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected no reply while crypto pending")
	}
	if stats.GetMembers() != 1 {
		t.Fatalf("expected no statistics mutation while crypto pending, got %d members", stats.GetMembers())
	}
}

func TestDispatcherHandleDecryptsWhenSecureAndComplete(t *testing.T) {
	stats := NewStatistics(1, 3200)
	var byeCalled bool
	d := NewDispatcher(stats, testLogger{}, func(members, pmembers int) { byeCalled = true }, func() bool { return true })
	d.EnableSecurity(&mockDtlsHandler{complete: true})

	datagram := buildDatagram(t, &rtcp.ReceiverReport{SSRC: 2})
	_, err := d.Handle(datagram, 0, len(datagram), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error with completed handshake: %v", err)
	}
	if stats.GetMembers() != 2 {
		t.Fatalf("expected statistics to update once the handshake is complete")
	}
	_ = byeCalled
}

func TestDispatcherCanHandleRejectsRTP(t *testing.T) {
	stats := NewStatistics(1, 3200)
	d := NewDispatcher(stats, testLogger{}, nil, func() bool { return true })
	rtpLike := []byte{0x80, 0, 0, 0}
	if d.CanHandle(rtpLike, 0, len(rtpLike)) {
		t.Fatalf("expected an RTP-shaped datagram to be rejected")
	}
}
