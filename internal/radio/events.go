package radio

import "github.com/c19x/tracer/internal/beaconcode"

// Detection is the event the Receiver emits on a successful
// fresh-RSSI/known-unexpired-code cycle (spec.md §4.5 emission rule), and
// the event a receive-only peer self-reports via a characteristic write
// (spec.md §4.4 on_write).
type Detection struct {
	Code beaconcode.Code
	RSSI int32
}

// Delegate receives Detection events from a Receiver. BaseDelegate gives
// embedders a no-op default so they only need to implement the callbacks
// they care about (spec.md §9 "abstract base observers").
type Delegate interface {
	OnDetection(Detection)
}

// BaseDelegate is a no-op Delegate meant to be embedded.
type BaseDelegate struct{}

// OnDetection implements Delegate as a no-op.
func (BaseDelegate) OnDetection(Detection) {}
