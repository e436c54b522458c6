package rtcp

import "testing"

func TestCryptoBoundaryPendingBeforeHandshake(t *testing.T) {
	c := NewCryptoBoundary()
	if c.IsHandshakeComplete() {
		t.Fatalf("a fresh crypto boundary must not report handshake complete")
	}
	if _, err := c.EncodeRTCP([]byte("x")); !IsKind(err, ErrCryptoPending) {
		t.Fatalf("expected ErrCryptoPending before the handshake completes, got %v", err)
	}
	if _, err := c.DecodeRTCP([]byte("x")); !IsKind(err, ErrCryptoPending) {
		t.Fatalf("expected ErrCryptoPending before the handshake completes, got %v", err)
	}
}

func TestCryptoBoundaryDisableWhileHandshakingFails(t *testing.T) {
	c := NewCryptoBoundary()
	c.handshaking = true
	if err := c.Disable(); !IsKind(err, ErrInvalidState) {
		t.Fatalf("expected Disable to refuse while handshaking, got %v", err)
	}
}

func TestCryptoBoundaryDisableResetsTransforms(t *testing.T) {
	c := NewCryptoBoundary()
	c.complete.Store(true)
	if err := c.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if c.IsHandshakeComplete() {
		t.Fatalf("expected Disable to clear handshake_complete")
	}
}
