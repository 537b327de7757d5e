package radio

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"

	"github.com/c19x/tracer/internal/beaconcode"
)

// ConnState is the per-peer state machine from spec.md §4.5:
//
//	New -> ConnectPending -> ReadingRSSI -> DiscoveringServices ->
//	DiscoveringCharacteristics -> Detected -> Disconnecting -> Idle
//
// with a timeout/failure edge from any state to Disconnecting, and a
// periodic-scan/reconnect edge from Idle back to ConnectPending.
type ConnState int

const (
	StateNew ConnState = iota
	StateConnectPending
	StateReadingRSSI
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateDetected
	StateDisconnecting
	StateIdle
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnectPending:
		return "connect-pending"
	case StateReadingRSSI:
		return "reading-rssi"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateDiscoveringCharacteristics:
		return "discovering-characteristics"
	case StateDetected:
		return "detected"
	case StateDisconnecting:
		return "disconnecting"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// peerEntry is the Receiver's private bookkeeping for one PeerState. Only
// the radio queue goroutine touches it, so it carries no lock of its own.
type peerEntry struct {
	handle PeerHandle
	state  ConnState

	lastRSSI       *int32
	lastCode       *beaconcode.Code
	codeAcquiredAt int64 // UnixNano; zero means "no code yet"

	connected bool
	inFlight  bool

	timeout clockwork.Timer
}

// peerTable is a bounded, LRU-evicted table of peerEntry keyed by
// PeerHandle: "pruned when the wireless layer forgets peer" (spec.md §3)
// read as an eviction policy on a resource that must not grow unbounded
// across a long-running process.
type peerTable struct {
	cache *lru.Cache
}

func newPeerTable(size int, onEvict func(PeerHandle, *peerEntry)) *peerTable {
	c, _ := lru.NewWithEvict(size, func(key, value interface{}) {
		if onEvict != nil {
			onEvict(key.(PeerHandle), value.(*peerEntry))
		}
	})
	return &peerTable{cache: c}
}

func (t *peerTable) get(h PeerHandle) (*peerEntry, bool) {
	v, ok := t.cache.Get(h)
	if !ok {
		return nil, false
	}
	return v.(*peerEntry), true
}

func (t *peerTable) getOrCreate(h PeerHandle) *peerEntry {
	if e, ok := t.get(h); ok {
		return e
	}
	e := &peerEntry{handle: h, state: StateNew}
	t.cache.Add(h, e)
	return e
}

func (t *peerTable) remove(h PeerHandle) {
	t.cache.Remove(h)
}

func (t *peerTable) keys() []PeerHandle {
	ks := t.cache.Keys()
	out := make([]PeerHandle, len(ks))
	for i, k := range ks {
		out[i] = k.(PeerHandle)
	}
	return out
}
