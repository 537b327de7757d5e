package controller_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/controller"
	"github.com/c19x/tracer/internal/daycode"
	"github.com/c19x/tracer/internal/encounter"
	"github.com/c19x/tracer/internal/encounter/memstore"
	"github.com/c19x/tracer/internal/lookup"
	"github.com/c19x/tracer/internal/radio"
	"github.com/c19x/tracer/internal/radio/loopback"
	"github.com/c19x/tracer/internal/risk"
)

type fakeSettings struct {
	rotation  time.Duration
	retention time.Duration
}

func (f fakeSettings) RotationInterval() time.Duration    { return f.rotation }
func (f fakeSettings) RetentionWindow() time.Duration     { return f.retention }
func (f fakeSettings) RSSIThreshold() *int32              { return nil }
func (f fakeSettings) SelfStatus() risk.Status            { return risk.StatusNormal }
func (f fakeSettings) AdviceDefault() risk.Advice         { return risk.AdviceGovernmentDefault }
func (f fakeSettings) MarkContactUpdate(time.Time) error  { return nil }
func (f fakeSettings) MarkAdviceUpdate(time.Time) error   { return nil }

type fakeFetcher struct{ bits []byte }

func (f fakeFetcher) Fetch(context.Context) ([]byte, error) { return f.bits, nil }

type recordingDelegate struct {
	results chan risk.Result
	failed  chan error
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{results: make(chan risk.Result, 4), failed: make(chan error, 4)}
}
func (d *recordingDelegate) OnRiskUpdated(r risk.Result)    { d.results <- r }
func (d *recordingDelegate) OnLookupRefreshFailed(err error) { d.failed <- err }

func TestRotationTickRotatesAndSweeps(t *testing.T) {
	ctx := context.Background()
	secret := []byte("shared-secret")
	days := daycode.NewSchedule(secret)
	bsched := beaconcode.NewSchedule(days)

	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "self")
	queue := radio.NewQueue()
	defer queue.Stop()

	clock := clockwork.NewFakeClockAt(daycode.Epoch.Add(24 * time.Hour))
	tx := radio.NewTransmitter(dev, queue, controller.NewBeaconCodeSource(clock, bsched), nil, log.DefaultLogger())

	store := memstore.New()
	logStore := encounter.NewLog(store)
	require.NoError(t, logStore.Append(ctx, clock.Now().Add(-20*24*time.Hour), 1, -50))
	require.NoError(t, logStore.Append(ctx, clock.Now().Add(-1*time.Hour), 2, -50))

	cache, err := lookup.NewCache(t.TempDir())
	require.NoError(t, err)

	delegate := newRecordingDelegate()
	settings := fakeSettings{rotation: 30 * time.Minute, retention: 14 * 24 * time.Hour}

	ctrl := controller.New(clock, queue, settings, tx, logStore, cache, fakeFetcher{bits: []byte{0x00}}, delegate, log.DefaultLogger())
	ctrl.RotationTick(ctx)

	require.Eventually(t, func() bool {
		return tx.State() == radio.TxAdvertising
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := logStore.Snapshot(ctx)
		require.NoError(t, err)
		return len(snap) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSyncLookupRunsAnalyser(t *testing.T) {
	ctx := context.Background()
	secret := []byte("shared-secret")
	days := daycode.NewSchedule(secret)
	bsched := beaconcode.NewSchedule(days)

	medium := loopback.NewMedium()
	dev := loopback.NewDevice(medium, "self")
	queue := radio.NewQueue()
	defer queue.Stop()

	clock := clockwork.NewFakeClockAt(daycode.Epoch.Add(24 * time.Hour))
	tx := radio.NewTransmitter(dev, queue, controller.NewBeaconCodeSource(clock, bsched), nil, log.DefaultLogger())

	store := memstore.New()
	logStore := encounter.NewLog(store)
	require.NoError(t, logStore.Append(ctx, clock.Now(), 5, -50))

	cache, err := lookup.NewCache(t.TempDir())
	require.NoError(t, err)

	delegate := newRecordingDelegate()
	settings := fakeSettings{rotation: 30 * time.Minute, retention: 14 * 24 * time.Hour}

	bits := make([]byte, 1)
	bits[0] = 1 << uint(5%8)
	ctrl := controller.New(clock, queue, settings, tx, logStore, cache, fakeFetcher{bits: bits}, delegate, log.DefaultLogger())
	ctrl.SyncLookup(ctx)

	select {
	case r := <-delegate.results:
		require.Equal(t, 1, r.ExposureCount)
		require.Equal(t, risk.ContactInfectious, r.ContactStatus)
		require.Equal(t, risk.AdviceSelfIsolate, r.Advice)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for risk result")
	}
}
