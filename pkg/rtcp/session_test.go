package rtcp

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T) (*Session, *mockChannel) {
	t.Helper()
	ch := newMockChannel()
	cfg := DefaultConfig()
	cfg.LocalSSRC = 42
	cfg.SweepInterval = time.Hour // never fires during these tests
	cfg.Description = SourceDescription{CNAME: "session@example"}
	s := NewSession(cfg, newMockClock(), testLogger{}, ch, nil)
	t.Cleanup(func() {
		_ = s.Leave()
		_ = s.Reset()
	})
	return s, ch
}

func TestSessionJoinIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !s.IsJoined() {
		t.Fatalf("expected session to be joined")
	}
	if err := s.Join(); err != nil {
		t.Fatalf("second Join must be a no-op, got %v", err)
	}
}

func TestSessionLeaveIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if s.IsJoined() {
		t.Fatalf("expected session to no longer be joined")
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("second Leave must be a no-op, got %v", err)
	}
}

func TestSessionLeaveWithoutJoinIsNoop(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Leave(); err != nil {
		t.Fatalf("Leave on a fresh session must be a no-op, got %v", err)
	}
}

func TestSessionResetRejectedWhileJoined(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Reset(); !IsKind(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState resetting a joined session, got %v", err)
	}
}

func TestSessionResetAfterLeaveSucceeds(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset after leave: %v", err)
	}
	if s.scheduler.State() != stateIdle {
		t.Fatalf("expected scheduler back to idle after reset, got %q", s.scheduler.State())
	}
}

func TestSessionLeaveSendsExactlyOneBye(t *testing.T) {
	s, ch := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// drive the armed BYE timer by hand, as scheduler_test.go does, rather
	// than sleeping for a real RTCP interval.
	s.scheduler.Cancel()
	s.scheduler.mu.Lock()
	s.scheduler.tp = s.scheduler.clock.Now().Add(-time.Hour)
	s.scheduler.mu.Unlock()
	s.scheduler.fire()

	if ch.sentCount() != 1 {
		t.Fatalf("expected exactly one BYE datagram sent, got %d", ch.sentCount())
	}
	if ch.open {
		t.Fatalf("expected the channel to be closed once the BYE is sent")
	}
}

func TestSessionMarkSentFlipsWeSent(t *testing.T) {
	s, _ := newTestSession(t)
	if s.stats.WeSent() {
		t.Fatalf("expected we_sent to start false")
	}
	s.MarkSent()
	if !s.stats.WeSent() {
		t.Fatalf("expected we_sent to flip true after MarkSent")
	}
}

// TestSessionSecureExpiryCryptoPendingSurvives drives a REPORT expiry all
// the way through Session.transmit while secure is set but the handshake
// has not completed (spec §4.5: silently dropped, never an expiry
// failure). The first scheduled REPORT (initial Tmin 0.5s, drawn to roughly
// 0.2-0.6s) routinely fires
// before a real DTLS handshake finishes, so this path must not tear the
// session down.
func TestSessionSecureExpiryCryptoPendingSurvives(t *testing.T) {
	s, ch := newTestSession(t)
	s.secure.Store(true) // crypto boundary stays fresh/un-handshaked

	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}

	s.scheduler.Cancel()
	s.scheduler.mu.Lock()
	s.scheduler.tp = s.scheduler.clock.Now().Add(-time.Hour)
	s.scheduler.mu.Unlock()
	s.scheduler.fire()

	if ch.sentCount() != 0 {
		t.Fatalf("expected no datagram on the wire while crypto pending, got %d", ch.sentCount())
	}
	if !s.IsJoined() {
		t.Fatalf("expected the session to remain joined through a crypto-pending expiry")
	}
	if s.scheduler.State() != stateReportScheduled {
		t.Fatalf("expected the scheduler to still be scheduled, got %q", s.scheduler.State())
	}
}

// TestSessionResetRebindsSchedulerStats covers a Join->Leave->Reset->Join
// cycle: Reset() replaces the session's *Statistics, and the scheduler
// must follow along rather than keep reading/writing the stale pre-reset
// table (spec §4.6 reusability).
func TestSessionResetRebindsSchedulerStats(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// drive the BYE to completion so the scheduler terminates before Reset.
	s.scheduler.Cancel()
	s.scheduler.mu.Lock()
	s.scheduler.tp = s.scheduler.clock.Now().Add(-time.Hour)
	s.scheduler.mu.Unlock()
	s.scheduler.fire()

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	s.scheduler.mu.Lock()
	bound := s.scheduler.stats
	s.scheduler.mu.Unlock()
	if bound != RtpStatistics(s.stats) {
		t.Fatalf("expected Reset to rebind the scheduler to the post-reset statistics table")
	}

	if err := s.Join(); err != nil {
		t.Fatalf("Join after reset: %v", err)
	}
	if s.scheduler.State() != stateReportScheduled {
		t.Fatalf("expected the rejoined session to schedule a fresh report, got %q", s.scheduler.State())
	}
}
