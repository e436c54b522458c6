// Package rtcp implements the RTCP session controller: the part of a real
// time media server that schedules, emits, receives and reacts to RTP
// Control Protocol compound packets for the lifetime of one RTP session.
//
// It drives the RFC 3550 §6.3 transmission interval algorithm (including
// reconsideration and reverse reconsideration on BYE), decodes and encodes
// SR/RR/SDES/BYE compound packets, maintains the per-session member table
// and statistics the algorithm depends on, and gates RTCP I/O behind an
// optional DTLS-SRTP handshake for SRTCP.
//
// The RTP media path, the UDP/ICE transport bootstrap, SDP negotiation and
// the jitter buffer are not part of this package; they are consumed through
// the narrow collaborator interfaces in collaborators.go.
package rtcp
