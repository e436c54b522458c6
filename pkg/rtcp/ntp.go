package rtcp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// ntpTimestamp converts t to a 64-bit NTP timestamp (32-bit seconds, 32-bit
// fraction), as carried in an SR's NTP field. Grounded on the teacher's
// NTPTimestamp helper in pkg/rtp/rtcp.go.
func ntpTimestamp(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | frac
}
