package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/metrics"
)

func TestCollectorsAreRegistered(t *testing.T) {
	// Collectors are bound to Registry by the first Start call.
	if lis := metrics.Start(log.DefaultLogger(), "127.0.0.1:0"); lis != nil {
		defer lis.Close()
	}

	metrics.RotationCounter.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RotationCounter))

	metrics.PeerTableSize.Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.PeerTableSize))

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
