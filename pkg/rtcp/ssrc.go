package rtcp

import (
	"crypto/rand"
	"encoding/binary"
)

// generateSSRC draws a random 32-bit SSRC the way the teacher's
// generateSSRC in pkg/rtp/session.go does (crypto/rand, not math/rand, so
// collisions across independently started sessions stay unlikely).
func generateSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// resolveLocalSSRC returns want if non-zero, otherwise a random SSRC that
// does not collide with any SSRC already present in members — the RFC 3550
// §8.2 collision check the teacher's single-shot generateSSRC skips
// (SPEC_FULL.md SUPPLEMENTED FEATURES).
func resolveLocalSSRC(want uint32, taken map[uint32]struct{}) uint32 {
	if want != 0 {
		if _, collide := taken[want]; !collide {
			return want
		}
	}
	for {
		candidate := generateSSRC()
		if candidate == 0 {
			continue
		}
		if _, collide := taken[candidate]; !collide {
			return candidate
		}
	}
}
