// Package daycode implements the forward-secure, reverse-chained day-code
// sequence a device derives once from its long-term shared secret.
package daycode

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"
)

// MaxDays bounds the day-code table: days since Epoch must satisfy
// 0 <= d < MaxDays.
const MaxDays = 3650

// Epoch is the reference instant DayIndex 0 corresponds to: 2020-01-01 UTC.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// DayIndex is a non-negative count of days since Epoch.
type DayIndex int

// DayCode is a 63-bit non-negative integer, one element of the
// reverse-chained hash sequence derived from a SharedSecret.
type DayCode uint64

// modulus is 2^63 - 1, the fixed digest-to-integer modulus shared with the
// server (spec.md §4.1).
var modulus = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))

// DigestToInt63 interprets a 32-byte digest as a big-endian non-negative
// integer and reduces it modulo 2^63-1. This rule is fixed and must be
// reproduced bit-for-bit on the server.
func DigestToInt63(digest [32]byte) uint64 {
	n := new(big.Int).SetBytes(digest[:])
	n.Mod(n, modulus)
	return n.Uint64()
}

// Schedule holds the precomputed table of day codes for one SharedSecret.
// It is the sole reader of the secret after construction; the secret is
// never retained.
type Schedule struct {
	codes [MaxDays]DayCode
}

// ErrOutOfRange is returned when a DayIndex falls outside [0, MaxDays).
var ErrOutOfRange = fmt.Errorf("daycode: day index out of range [0, %d)", MaxDays)

// NewSchedule derives the full MaxDays-entry table from sharedSecret by
// reverse-chained hashing: h[MaxDays-1] = H(secret); h[i-1] = H(h[i]).
// DayCode[i] = DigestToInt63(h[i]). Because each entry only derives
// backwards through H, and H is preimage-resistant, knowledge of
// DayCode[d] (and later) does not reveal DayCode[d-1].
func NewSchedule(sharedSecret []byte) *Schedule {
	s := &Schedule{}
	h := sha256.Sum256(sharedSecret)
	s.codes[MaxDays-1] = DayCode(DigestToInt63(h))
	for i := MaxDays - 1; i > 0; i-- {
		h = sha256.Sum256(h[:])
		s.codes[i-1] = DayCode(DigestToInt63(h))
	}
	return s
}

// DayCode returns the day code for d. It is total over [0, MaxDays).
func (s *Schedule) DayCode(d DayIndex) (DayCode, error) {
	if d < 0 || int(d) >= MaxDays {
		return 0, ErrOutOfRange
	}
	return s.codes[d], nil
}

// Today returns floor((effectiveTime - Epoch) / 24h) as a DayIndex. It
// fails with ErrOutOfRange if the result is negative or >= MaxDays.
func Today(effectiveTime time.Time) (DayIndex, error) {
	secs := effectiveTime.UTC().Unix() - Epoch.Unix()
	if secs < 0 {
		return 0, ErrOutOfRange
	}
	d := DayIndex(secs / 86400)
	if int(d) >= MaxDays {
		return 0, ErrOutOfRange
	}
	return d, nil
}
