package radio_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/radio"
	"github.com/c19x/tracer/internal/radio/loopback"
)

type fixedCodeSource struct {
	code beaconcode.Code
	err  error
}

func (f fixedCodeSource) Current() (beaconcode.Code, error) { return f.code, f.err }

type recordingDetector struct {
	got []radio.Detection
}

func (r *recordingDetector) OnPeerReportedDetection(d radio.Detection) {
	r.got = append(r.got, d)
}

func TestUpdateBeaconCodeAdvertises(t *testing.T) {
	ctx := context.Background()
	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "tx")
	queue := radio.NewQueue()
	defer queue.Stop()

	tx := radio.NewTransmitter(dev, queue, fixedCodeSource{code: 42}, nil, log.DefaultLogger())
	require.NoError(t, tx.UpdateBeaconCode(ctx))
	require.Equal(t, radio.TxAdvertising, tx.State())
}

func TestUpdateBeaconCodeRadioOff(t *testing.T) {
	ctx := context.Background()
	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "tx")
	dev.SetPoweredOn(false)
	queue := radio.NewQueue()
	defer queue.Stop()

	tx := radio.NewTransmitter(dev, queue, fixedCodeSource{code: 42}, nil, log.DefaultLogger())
	err := tx.UpdateBeaconCode(ctx)
	require.ErrorIs(t, err, radio.ErrRadioOff)
}

func TestUpdateBeaconCodeScheduleUnavailable(t *testing.T) {
	ctx := context.Background()
	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "tx")
	queue := radio.NewQueue()
	defer queue.Stop()

	tx := radio.NewTransmitter(dev, queue, fixedCodeSource{err: beaconcode.ErrScheduleUnavailable}, nil, log.DefaultLogger())
	err := tx.UpdateBeaconCode(ctx)
	require.ErrorIs(t, err, radio.ErrScheduleUnavailable)
}

func TestOnWriteParsesDetectionPayload(t *testing.T) {
	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "tx")
	queue := radio.NewQueue()
	defer queue.Stop()

	det := &recordingDetector{}
	tx := radio.NewTransmitter(dev, queue, fixedCodeSource{code: 1}, det, log.DefaultLogger())

	payload := make([]byte, 12)
	binary.LittleEndian.PutUint64(payload[0:8], 7)
	binary.LittleEndian.PutUint32(payload[8:12], uint32(int32(-60)))

	require.NoError(t, tx.OnWrite(payload))
	require.Len(t, det.got, 1)
	require.Equal(t, beaconcode.Code(7), det.got[0].Code)
	require.Equal(t, int32(-60), det.got[0].RSSI)
}

func TestOnWriteOtherLengthIsLivenessPing(t *testing.T) {
	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "tx")
	queue := radio.NewQueue()
	defer queue.Stop()

	det := &recordingDetector{}
	tx := radio.NewTransmitter(dev, queue, fixedCodeSource{code: 1}, det, log.DefaultLogger())

	require.NoError(t, tx.OnWrite(nil))
	require.NoError(t, tx.OnWrite([]byte{1, 2, 3}))
	require.Empty(t, det.got)
}
