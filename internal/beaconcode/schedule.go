// Package beaconcode expands a single day-code into the day's set of
// short-lived beacon identifiers, plus the seed published to the server.
package beaconcode

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/c19x/tracer/internal/daycode"
)

// N is the number of beacon codes derived from one day's seed.
const N = 240

// Seed is the 256-bit value published to the server for a given day; it is
// the DayCode run through H in reverse byte order, so disclosing it never
// discloses the DayCode itself.
type Seed [32]byte

// Code is a 63-bit non-negative beacon identifier.
type Code uint64

// ErrScheduleUnavailable indicates the requested day is outside the
// day-code schedule's range.
var ErrScheduleUnavailable = fmt.Errorf("beaconcode: schedule unavailable for requested day")

// DeriveSeed computes seed(d) = H(reverse_bytes(little_endian_64(d))).
func DeriveSeed(d daycode.DayCode) Seed {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(d))
	rev := reverse(le)
	return sha256.Sum256(rev[:])
}

func reverse(b [8]byte) [8]byte {
	var out [8]byte
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// Codes deterministically expands a seed into its N-element beacon code
// chain: s_{N-1} = H(seed); s_{i-1} = H(s_i); c_i = lower63(s_i), using the
// same digest->integer rule as the day-code schedule.
func Codes(seed Seed) [N]Code {
	var out [N]Code
	h := sha256.Sum256(seed[:])
	out[N-1] = Code(daycode.DigestToInt63(h))
	for i := N - 1; i > 0; i-- {
		h = sha256.Sum256(h[:])
		out[i-1] = Code(daycode.DigestToInt63(h))
	}
	return out
}

// ForDay is the deterministic codes-for-a-day helper:
// for_day(d) = Codes(DeriveSeed(d)). The risk analyser does not call it; it
// matches encounters against the lookup bitset instead.
func ForDay(d daycode.DayCode) [N]Code {
	return Codes(DeriveSeed(d))
}

// Schedule caches the current day's beacon code table and hands out a
// fresh random element on each call to Current, regenerating the table
// whenever the day changes.
type Schedule struct {
	days     *daycode.Schedule
	cachedOn daycode.DayIndex
	hasCache bool
	table    [N]Code
}

// NewSchedule wraps a day-code schedule.
func NewSchedule(days *daycode.Schedule) *Schedule {
	return &Schedule{days: days}
}

// Current returns a uniformly random element of beacon_codes(seed(day_code(today))),
// regenerating the table when the day changes.
func (s *Schedule) Current(today daycode.DayIndex) (Code, error) {
	if !s.hasCache || s.cachedOn != today {
		dc, err := s.days.DayCode(today)
		if err != nil {
			return 0, ErrScheduleUnavailable
		}
		s.table = Codes(DeriveSeed(dc))
		s.cachedOn = today
		s.hasCache = true
	}
	idx, err := randIndex(N)
	if err != nil {
		return 0, err
	}
	return s.table[idx], nil
}

func randIndex(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("beaconcode: reading randomness: %w", err)
	}
	return int(v.Int64()), nil
}
