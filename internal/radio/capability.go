// Package radio implements the Transmitter/Receiver wireless state machine
// (spec.md §4.4-§4.5) against an abstract platform radio Capability,
// serialised on a single radio work queue (spec.md §5).
package radio

import (
	"context"
	"time"

	"github.com/c19x/tracer/internal/identifier"
)

// PeerHandle is an opaque, platform-assigned identifier for a
// physically-observed peer. It carries no identity beyond letting the
// radio layer address a specific connection.
type PeerHandle string

// EventKind tags the asynchronous events a Capability delivers. Modelled
// as a tagged enumeration with per-subscriber dispatch rather than a
// delegate class hierarchy, per spec.md §9.
type EventKind int

const (
	EventRadioPowerChanged EventKind = iota
	EventPeerDiscovered
	EventPeerConnected
	EventRSSIRead
	EventServicesDiscovered
	EventCharacteristicsDiscovered
	EventWriteComplete
	EventWriteReceived
	EventDisconnected
	EventOperationFailed
)

// Event is the single event type delivered on a Capability's Events
// channel; Kind selects which fields are meaningful.
type Event struct {
	Kind    EventKind
	Peer    PeerHandle
	Service identifier.ID

	PoweredOn      bool
	RSSI           int32
	Characteristic identifier.ID
	Payload        []byte

	// Err is set for EventOperationFailed and EventWriteComplete (on
	// failure). Invalid reports whether the platform indicates the peer
	// is permanently unreachable (spec.md §7 InvalidPeer).
	Err     error
	Invalid bool
}

// Capability is the platform wireless radio surface this package depends
// on: {advertise, scan, connect, discoverServices, discoverCharacteristics,
// readRSSI, writeValue}, plus connection teardown and power state. It is
// treated as an external collaborator per spec.md §1; this package only
// consumes it.
type Capability interface {
	// Events returns the channel every asynchronous callback is delivered
	// on, in arrival order.
	Events() <-chan Event

	// PoweredOn reports the radio's current power state.
	PoweredOn() bool

	// Advertise registers a service whose single characteristic carries
	// characteristic and starts advertising service. Implementations must
	// make this atomic: stop any prior advertisement, replace the service
	// registration entirely, then (re)start advertising.
	Advertise(ctx context.Context, service, characteristic identifier.ID) error
	StopAdvertising(ctx context.Context) error

	// StartScan begins continuous discovery for service. Idempotent.
	StartScan(ctx context.Context, service identifier.ID) error

	// Connect requests a connection to peer. delay is a non-negative lower
	// bound on when the attempt is actually made (spec.md §4.5 policy 1);
	// implementations may honour it loosely.
	Connect(ctx context.Context, peer PeerHandle, delay time.Duration) error
	DiscoverServices(ctx context.Context, peer PeerHandle) error
	DiscoverCharacteristics(ctx context.Context, peer PeerHandle, service identifier.ID) error
	ReadRSSI(ctx context.Context, peer PeerHandle) error
	WriteValue(ctx context.Context, peer PeerHandle, payload []byte) error
	Disconnect(ctx context.Context, peer PeerHandle) error
}
