// Package loopback is an in-process radio.Capability used by unit tests:
// two or more Devices share a Medium and see each other's advertisements
// without any real wireless transport.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c19x/tracer/internal/identifier"
	"github.com/c19x/tracer/internal/radio"
)

// Medium is the shared "air" two or more loopback Devices advertise into
// and scan from.
type Medium struct {
	mu      sync.Mutex
	devices map[radio.PeerHandle]*Device
}

// NewMedium creates an empty shared medium.
func NewMedium() *Medium {
	return &Medium{devices: make(map[radio.PeerHandle]*Device)}
}

func (m *Medium) join(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.handle] = d
}

func (m *Medium) peers(except radio.PeerHandle) []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Device
	for h, d := range m.devices {
		if h != except {
			out = append(out, d)
		}
	}
	return out
}

func (m *Medium) find(h radio.PeerHandle) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[h]
	return d, ok
}

// Device is a loopback radio.Capability for one simulated peer.
type Device struct {
	handle radio.PeerHandle
	medium *Medium

	mu          sync.Mutex
	poweredOn   bool
	haveService bool
	serviceID   identifier.ID
	charLower   uint64

	scanning bool

	// SimulatedRSSI is returned from ReadRSSI for every peer; tests can
	// mutate it to exercise different signal conditions.
	SimulatedRSSI int32
	// InvalidPeers marks handles that should fail as permanently
	// unreachable rather than transiently failing.
	InvalidPeers map[radio.PeerHandle]bool
	// OnWrite, when set, is invoked with the payload of any WriteValue a
	// peer addresses to this device — wire it to a Transmitter.OnWrite to
	// exercise the receive-only reciprocal path.
	OnWrite func([]byte)

	// DisconnectCount counts calls to Disconnect; tests use it to assert a
	// peer was actually torn down rather than just locally forgotten.
	DisconnectCount int32

	events chan radio.Event
}

// NewDevice creates a powered-on Device identified by handle and joins it
// to medium.
func NewDevice(medium *Medium, handle radio.PeerHandle) *Device {
	d := &Device{
		handle:        handle,
		medium:        medium,
		poweredOn:     true,
		SimulatedRSSI: -55,
		InvalidPeers:  map[radio.PeerHandle]bool{},
		events:        make(chan radio.Event, 64),
	}
	medium.join(d)
	return d
}

// Events implements radio.Capability.
func (d *Device) Events() <-chan radio.Event { return d.events }

// PoweredOn implements radio.Capability.
func (d *Device) PoweredOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poweredOn
}

// SetPoweredOn simulates a radio power state transition and notifies the
// owning Receiver/Transmitter.
func (d *Device) SetPoweredOn(on bool) {
	d.mu.Lock()
	d.poweredOn = on
	d.mu.Unlock()
	d.events <- radio.Event{Kind: radio.EventRadioPowerChanged, PoweredOn: on}
}

// Advertise implements radio.Capability.
func (d *Device) Advertise(_ context.Context, service, characteristic identifier.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.poweredOn {
		return radio.ErrRadioOff
	}
	d.haveService = true
	d.serviceID = service
	d.charLower = characteristic.Lower
	return nil
}

// StopAdvertising implements radio.Capability.
func (d *Device) StopAdvertising(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.haveService = false
	return nil
}

// StartScan implements radio.Capability: it immediately reports every peer
// in the medium currently advertising the requested service, mimicking the
// "already-connected peers are re-reported" behaviour of a real scan.
func (d *Device) StartScan(_ context.Context, service identifier.ID) error {
	d.mu.Lock()
	on := d.poweredOn
	d.scanning = true
	d.mu.Unlock()
	if !on {
		return radio.ErrRadioOff
	}
	for _, peer := range d.medium.peers(d.handle) {
		peer.mu.Lock()
		advertising := peer.haveService && peer.serviceID == service
		peer.mu.Unlock()
		if advertising {
			d.events <- radio.Event{Kind: radio.EventPeerDiscovered, Peer: peer.handle}
		}
	}
	return nil
}

// Connect implements radio.Capability.
func (d *Device) Connect(_ context.Context, peer radio.PeerHandle, delay time.Duration) error {
	if d.InvalidPeers[peer] {
		d.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	if _, ok := d.medium.find(peer); !ok {
		d.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	go func() {
		if delay > 0 {
			time.Sleep(time.Millisecond) // loopback honours delay only nominally
		}
		d.events <- radio.Event{Kind: radio.EventPeerConnected, Peer: peer}
	}()
	return nil
}

// ReadRSSI implements radio.Capability.
func (d *Device) ReadRSSI(_ context.Context, peer radio.PeerHandle) error {
	d.events <- radio.Event{Kind: radio.EventRSSIRead, Peer: peer, RSSI: d.SimulatedRSSI}
	return nil
}

// DiscoverServices implements radio.Capability.
func (d *Device) DiscoverServices(_ context.Context, peer radio.PeerHandle) error {
	d.events <- radio.Event{Kind: radio.EventServicesDiscovered, Peer: peer}
	return nil
}

// DiscoverCharacteristics implements radio.Capability.
func (d *Device) DiscoverCharacteristics(_ context.Context, peer radio.PeerHandle, _ identifier.ID) error {
	target, ok := d.medium.find(peer)
	if !ok {
		d.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	target.mu.Lock()
	characteristic := identifier.ID{Upper: target.serviceID.Upper, Lower: target.charLower}
	target.mu.Unlock()
	d.events <- radio.Event{Kind: radio.EventCharacteristicsDiscovered, Peer: peer, Characteristic: characteristic}
	return nil
}

// WriteValue implements radio.Capability: the payload is forwarded to the
// target device's OnWrite hook, if any, then acknowledged.
func (d *Device) WriteValue(_ context.Context, peer radio.PeerHandle, payload []byte) error {
	if target, ok := d.medium.find(peer); ok && target.OnWrite != nil {
		target.OnWrite(payload)
	}
	d.events <- radio.Event{Kind: radio.EventWriteComplete, Peer: peer}
	return nil
}

// Disconnect implements radio.Capability.
func (d *Device) Disconnect(_ context.Context, peer radio.PeerHandle) error {
	atomic.AddInt32(&d.DisconnectCount, 1)
	d.events <- radio.Event{Kind: radio.EventDisconnected, Peer: peer}
	return nil
}
