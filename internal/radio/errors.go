package radio

import "errors"

// Error kinds from spec.md §7. Each is a sentinel so callers can use
// errors.Is; policies are enforced by the Transmitter/Receiver, not by
// these values themselves.
var (
	// ErrRadioOff: the radio adapter is not powered on. Policy: defer the
	// operation and resume on the power-on callback.
	ErrRadioOff = errors.New("radio: adapter not powered on")

	// ErrScheduleUnavailable: the day is outside [0, MaxDays). Policy: log
	// and skip rotation; never crash.
	ErrScheduleUnavailable = errors.New("radio: beacon schedule unavailable")

	// ErrProtocolMismatch: a discovered service/characteristic does not
	// match the expected shape. Policy: disconnect the peer, keep scanning.
	ErrProtocolMismatch = errors.New("radio: discovered service does not match expected shape")

	// ErrPeerTimeout: no response within the per-peer timeout. Policy:
	// disconnect; reconnect on the next cycle.
	ErrPeerTimeout = errors.New("radio: peer operation timed out")

	// ErrInvalidPeer: the platform indicates a peer is permanently
	// unreachable. Policy: drop the PeerState.
	ErrInvalidPeer = errors.New("radio: peer is permanently unreachable")

	// ErrStore: a persistence write failed. Policy: retain the in-memory
	// row and retry on the next append; never silently drop data.
	ErrStore = errors.New("radio: persistence write failed")
)
