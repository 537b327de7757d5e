// Package risk implements the pure, I/O-free on-device risk analyser: it
// matches the recorded encounter log against the server-published
// InfectionLookup bitset without ever disclosing which encounters were
// examined. It does not expand infectious seeds into beacon codes; only
// bitset membership is tested.
package risk

import (
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter"
)

// Status mirrors the user's self-reported health status.
type Status int

const (
	// StatusNormal is the default, unreported status.
	StatusNormal Status = iota
	// StatusSymptomatic and StatusConfirmed are non-Normal self-reported
	// states; either forces SelfIsolate advice regardless of exposure.
	StatusSymptomatic
	StatusConfirmed
)

// ContactStatus summarises whether any exposure was found.
type ContactStatus int

const (
	ContactOK ContactStatus = iota
	ContactInfectious
)

// Advice is the recommendation surfaced to the UI.
type Advice int

const (
	AdviceGovernmentDefault Advice = iota
	AdviceSelfIsolate
)

// Lookup is the compressed InfectionLookup membership oracle: a bitset
// indexed by beaconCode mod (8*len(bits)).
type Lookup struct {
	bits []byte
}

// ErrLookupCorrupt indicates the bitset is too short to index at all.
var ErrLookupCorrupt = errBitsetTooShort{}

type errBitsetTooShort struct{}

func (errBitsetTooShort) Error() string { return "risk: infection lookup bitset is empty" }

// NewLookup wraps a raw bitset. An empty bitset is rejected with
// ErrLookupCorrupt; callers should fall back to treating all encounters as
// non-infectious (spec.md §7 LookupCorrupt policy) rather than propagate
// the error into the analyser.
func NewLookup(bits []byte) (Lookup, error) {
	if len(bits) == 0 {
		return Lookup{}, ErrLookupCorrupt
	}
	return Lookup{bits: bits}, nil
}

// EmptyLookup returns a zero-length lookup that treats every code as
// non-infectious; used while no valid lookup has been downloaded yet.
func EmptyLookup() Lookup {
	return Lookup{}
}

// index computes |code| mod (8*len(bits)).
func (l Lookup) index(code beaconcode.Code) (int, bool) {
	if len(l.bits) == 0 {
		return 0, false
	}
	n := uint64(8 * len(l.bits))
	return int(uint64(code) % n), true
}

// Member reports whether code's bit is set in the lookup.
func (l Lookup) Member(code beaconcode.Code) bool {
	idx, ok := l.index(code)
	if !ok {
		return false
	}
	byteIdx := idx / 8
	bitIdx := uint(idx % 8)
	return l.bits[byteIdx]&(1<<bitIdx) != 0
}

// Result is the analyser's output for one run.
type Result struct {
	ContactCount  int
	ExposureCount int
	ContactStatus ContactStatus
	Advice        Advice
}

// Analyse computes contact_count, exposure_count, contact_status and
// advice from a read-only encounter snapshot and the current lookup. It is
// pure: given the same snapshot and lookup it returns the same counts
// regardless of snapshot ordering. rssiThreshold, when non-nil, excludes
// encounters at or below the threshold from the membership test.
func Analyse(snapshot []encounter.Encounter, lookup Lookup, rssiThreshold *int32, selfStatus Status, governmentDefault Advice) Result {
	res := Result{ContactCount: len(snapshot)}

	for _, e := range snapshot {
		if rssiThreshold != nil && e.RSSI <= *rssiThreshold {
			continue
		}
		if lookup.Member(e.Code) {
			res.ExposureCount++
		}
	}

	if res.ExposureCount == 0 {
		res.ContactStatus = ContactOK
	} else {
		res.ContactStatus = ContactInfectious
	}

	switch {
	case selfStatus != StatusNormal:
		res.Advice = AdviceSelfIsolate
	case res.ExposureCount > 0:
		res.Advice = AdviceSelfIsolate
	default:
		res.Advice = governmentDefault
	}

	return res
}
