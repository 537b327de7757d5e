package radio

import (
	"context"
	"encoding/binary"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/identifier"
)

// TransmitterState mirrors spec.md §4.4's {Idle, Advertising, Advertising'}
// machine; rotation never attempts an incremental update, it always
// replaces the entire service registration.
type TransmitterState int

const (
	TxIdle TransmitterState = iota
	TxAdvertising
)

// CodeSource supplies the current beacon code to advertise.
type CodeSource interface {
	Current() (beaconcode.Code, error)
}

// Detector receives synthetic Detection events reported by receive-only
// peers that cannot themselves advertise (spec.md §4.4 on_write).
type Detector interface {
	OnPeerReportedDetection(Detection)
}

// Transmitter publishes the current beacon code and answers writes from
// receive-only peers (spec.md §4.4).
type Transmitter struct {
	cap    Capability
	queue  *Queue
	codes  CodeSource
	log    log.Logger
	det    Detector
	state  TransmitterState
}

// NewTransmitter constructs a Transmitter. queue must be the same Queue
// the owning Receiver/Controller uses, so advertise/write-response
// commands are serialised with all other radio work.
func NewTransmitter(cap Capability, queue *Queue, codes CodeSource, det Detector, l log.Logger) *Transmitter {
	return &Transmitter{cap: cap, queue: queue, codes: codes, det: det, log: l, state: TxIdle}
}

// UpdateBeaconCode atomically replaces the advertised service registration
// with one carrying the current beacon code. Failures are logged and left
// for the next rotation tick to retry (spec.md §4.4 failure semantics).
func (t *Transmitter) UpdateBeaconCode(ctx context.Context) error {
	code, err := t.codes.Current()
	if err != nil {
		t.log.Warnw("beacon schedule unavailable, skipping rotation", "err", err)
		return ErrScheduleUnavailable
	}
	if !t.cap.PoweredOn() {
		t.log.Debugw("radio off, deferring rotation")
		return ErrRadioOff
	}

	if t.state == TxAdvertising {
		if err := t.cap.StopAdvertising(ctx); err != nil {
			t.log.Warnw("stopping advertisement before rotation", "err", err)
		}
	}

	characteristic := identifier.Characteristic(code)
	if err := t.cap.Advertise(ctx, identifier.Service, characteristic); err != nil {
		t.log.Warnw("rotation failed, will retry next tick", "err", err)
		return err
	}
	t.state = TxAdvertising
	return nil
}

// OnRadioRestored reacts to the platform notifying that the radio powered
// back on: if powered on, resume advertising immediately.
func (t *Transmitter) OnRadioRestored(ctx context.Context) {
	if t.cap.PoweredOn() {
		if err := t.UpdateBeaconCode(ctx); err != nil {
			t.log.Warnw("re-advertising after radio restore", "err", err)
		}
	} else {
		t.state = TxIdle
	}
}

// detectionPayloadLen is the fixed wire length of a receive-only peer's
// self-report: an i64 beacon code followed by an i32 RSSI (spec.md §6).
const detectionPayloadLen = 12

// OnWrite handles an inbound characteristic write. A 12-byte payload is
// parsed as {int64 beaconCode, int32 rssi} and reported as a synthetic
// Detection; any other length is accepted as a liveness ping used only to
// resume this process's runtime from suspension, and otherwise discarded.
func (t *Transmitter) OnWrite(payload []byte) error {
	if len(payload) != detectionPayloadLen {
		// Any other well-formed length is accepted and ignored.
		return nil
	}
	code := int64(binary.LittleEndian.Uint64(payload[0:8]))
	rssi := int32(binary.LittleEndian.Uint32(payload[8:12]))
	if t.det != nil {
		t.det.OnPeerReportedDetection(Detection{Code: beaconcode.Code(code), RSSI: rssi})
	}
	return nil
}

// State reports the transmitter's current advertising state.
func (t *Transmitter) State() TransmitterState {
	return t.state
}
