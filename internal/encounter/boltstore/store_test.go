package boltstore

import (
	"context"
	"testing"
	"time"

	"github.com/c19x/tracer/common/log"
	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter"
)

func TestBoltStoreAppendSnapshotDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(log.DefaultLogger(), t.TempDir())
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
