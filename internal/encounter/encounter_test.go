package encounter

import (
	"context"
	"testing"
	"time"

	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter/memstore"
	"github.com/stretchr/testify/require"
)

func TestRetentionLawS5(t *testing.T) {
	ctx := context.Background()
	l := NewLog(memstore.New())

	T := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, T.Add(-20*24*time.Hour), 1, -50))
	require.NoError(t, l.Append(ctx, T.Add(-10*24*time.Hour), 2, -50))
	require.NoError(t, l.Append(ctx, T.Add(-1*24*time.Hour), 3, -50))

	require.NoError(t, l.DeleteBefore(ctx, T.Add(-14*24*time.Hour)))

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	for _, e := range snap {
		require.False(t, e.Timestamp.Before(T.Add(-14*24*time.Hour)))
	}
}

func TestMonotonicAppendOrderPreserved(t *testing.T) {
	ctx := context.Background()
	l := NewLog(memstore.New())
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, base.Add(time.Duration(i)*time.Second), beaconcode.Code(i), -40))
	}

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 5)
	for i, e := range snap {
		require.Equal(t, beaconcode.Code(i), e.Code)
	}
}

func TestCountToday(t *testing.T) {
	ctx := context.Background()
	l := NewLog(memstore.New())
	now := time.Now().UTC()

	require.NoError(t, l.Append(ctx, now, 1, -40))
	require.NoError(t, l.Append(ctx, now, 2, -90))
	require.NoError(t, l.Append(ctx, now.Add(-48*time.Hour), 3, -40))

	count, err := l.CountToday(ctx, now, nil)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	threshold := int32(-70)
	count, err = l.CountToday(ctx, now, &threshold)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
