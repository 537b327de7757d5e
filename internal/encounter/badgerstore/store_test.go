package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter"
)

func TestBadgerStoreAppendSnapshotDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close(ctx)

	now := time.Now().UTC()
	require.NoError(t, s.Append(ctx, encounter.Encounter{Timestamp: now.Add(-20 * 24 * time.Hour), Code: beaconcode.Code(1), RSSI: -50}))
	require.NoError(t, s.Append(ctx, encounter.Encounter{Timestamp: now, Code: beaconcode.Code(2), RSSI: -50}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)

	require.NoError(t, s.DeleteBefore(ctx, now.Add(-14*24*time.Hour)))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, beaconcode.Code(2), snap[0].Code)
}

// TestBadgerStoreRecoversSequenceAcrossRestart guards against the sequence
// counter resetting to 0 on reopen: without recovery, the second process's
// first Append would reuse key 1 and silently overwrite the row written by
// the first process.
func TestBadgerStoreRecoversSequenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.Append(ctx, encounter.Encounter{Timestamp: now, Code: beaconcode.Code(1), RSSI: -50}))
	require.NoError(t, s.Close(ctx))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close(ctx)
	require.EqualValues(t, 1, reopened.seq)

	require.NoError(t, reopened.Append(ctx, encounter.Encounter{Timestamp: now, Code: beaconcode.Code(2), RSSI: -60}))

	snap, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
}
