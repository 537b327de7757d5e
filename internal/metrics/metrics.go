// Package metrics exposes the device's Prometheus collectors. Grounded on
// the teacher's metrics package: one process-wide Registry, a var block of
// collectors bound once via sync.Once, served over /metrics.
package metrics

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c19x/tracer/common/log"
)

var (
	// Registry is the process-wide collector registry.
	Registry = prometheus.NewRegistry()

	// RotationCounter counts successful beacon code rotations.
	RotationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "c19x_rotation_total",
		Help: "Number of successful beacon code rotations",
	})
	// RotationFailures counts rotation attempts left for the next tick.
	RotationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "c19x_rotation_failures_total",
		Help: "Number of rotation attempts that failed",
	})
	// DetectionCounter counts Detection events delivered to delegates.
	DetectionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "c19x_detections_total",
		Help: "Number of peer detections recorded",
	})
	// PeerTableSize tracks the number of peers currently tracked.
	PeerTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "c19x_peer_table_size",
		Help: "Number of peers currently tracked by the receiver",
	})
	// EncounterLogSize tracks the retained encounter count after the last
	// retention sweep.
	EncounterLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "c19x_encounter_log_size",
		Help: "Number of encounters retained after the last retention sweep",
	})
	// ExposureCount tracks the last risk analyser run's exposure count.
	ExposureCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "c19x_exposure_count",
		Help: "Exposure count from the last risk analyser run",
	})
	// ContactCount tracks the last risk analyser run's total contact count.
	ContactCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "c19x_contact_count",
		Help: "Contact count from the last risk analyser run",
	})
	// LookupRefreshFailures counts failed InfectionLookup refresh attempts.
	LookupRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "c19x_lookup_refresh_failures_total",
		Help: "Number of failed InfectionLookup refresh attempts",
	})
	// ProcessStartTimestamp records process start time in seconds since epoch.
	ProcessStartTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "c19x_start_timestamp",
		Help: "Timestamp when the process started, in seconds since the Epoch",
	})

	// HTTPCallCounter counts requests served by the local control plane.
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "c19x_http_call_counter",
		Help: "Number of control-plane HTTP calls received",
	}, []string{"code", "method", "handler"})
	// HTTPLatency tracks control-plane request handling latency.
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "c19x_http_response_duration",
		Help:    "Histogram of control-plane request latencies",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	bound sync.Once
)

func bind(l log.Logger) {
	collectorsList := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RotationCounter,
		RotationFailures,
		DetectionCounter,
		PeerTableSize,
		EncounterLogSize,
		ExposureCount,
		ContactCount,
		LookupRefreshFailures,
		ProcessStartTimestamp,
		HTTPCallCounter,
		HTTPLatency,
	}
	for _, c := range collectorsList {
		if err := Registry.Register(c); err != nil {
			l.Errorw("binding metrics collector failed", "err", err)
			return
		}
	}
}

// Start binds the collector set once and serves /metrics on bind,
// returning the listener so the caller can close it on shutdown. A
// metricsBind with no ":" is treated as a loopback port, matching the
// teacher's Start.
func Start(logger log.Logger, metricsBind string) net.Listener {
	bound.Do(func() { bind(logger) })

	if !strings.Contains(metricsBind, ":") {
		metricsBind = "127.0.0.1:" + metricsBind
	}
	lis, err := net.Listen("tcp", metricsBind)
	if err != nil {
		logger.Warnw("metrics listener failed", "err", err)
		return nil
	}
	logger.Infow("metrics listener started", "addr", lis.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	s := http.Server{Addr: lis.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Infow("metrics server stopped", "err", s.Serve(lis))
	}()
	return lis
}
