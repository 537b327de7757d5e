// Package control exposes the local HTTP status/debug surface spec.md §4.8
// and §6 call for: a read-only status view for the UI, a liveness probe,
// two debug hooks that let an operator force a rotation tick or a lookup
// sync outside their normal timers, and a debug hook that records the
// user's self-reported status. Grounded on the teacher's
// http/server.go: a chi.Mux, one handler per route, common headers applied
// uniformly, instrumented with the same promhttp wrappers the teacher uses
// for its public API.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/kabukky/httpscerts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/metrics"
	"github.com/c19x/tracer/internal/risk"
)

// Status is the read-only snapshot surfaced at GET /status.
type Status struct {
	ContactCount      int        `json:"contact_count"`
	ExposureCount     int        `json:"exposure_count"`
	ContactStatus     string     `json:"contact_status"`
	Advice            string     `json:"advice"`
	SelfStatus        string     `json:"self_status"`
	LastStatusUpdate  *time.Time `json:"last_status_update,omitempty"`
	LastContactUpdate *time.Time `json:"last_contact_update,omitempty"`
	LastAdviceUpdate  *time.Time `json:"last_advice_update,omitempty"`
}

// StatusProvider is satisfied by the daemon's in-memory delegate: it holds
// the most recent risk.Result and settings timestamps, updated whenever
// the controller's RiskAnalyser re-runs.
type StatusProvider interface {
	Status() Status
}

// Rotator triggers an out-of-band rotation tick; satisfied by
// *controller.Controller.
type Rotator interface {
	RotationTick(ctx context.Context)
}

// Syncer triggers an out-of-band lookup sync; satisfied by
// *controller.Controller.
type Syncer interface {
	SyncLookup(ctx context.Context)
}

// SelfStatusSetter persists the user's self-reported health status;
// satisfied by *settings.Store.
type SelfStatusSetter interface {
	SetSelfStatus(risk.Status) error
}

// Server is the local control/status HTTP surface. It never touches the
// radio or controller queues directly: the rotate and sync hooks post work
// through Rotator/Syncer, exactly as the timers would, and the self-status
// hook writes through SelfStatusSetter.
type Server struct {
	router     chi.Router
	status     StatusProvider
	rotator    Rotator
	syncer     Syncer
	selfStatus SelfStatusSetter
	logger     log.Logger
}

// New builds a Server. provider, rotator and syncer may be the same
// underlying *controller.Controller plus a small adapter; they are kept
// separate here so tests can substitute fakes independently.
func New(provider StatusProvider, rotator Rotator, syncer Syncer, selfStatus SelfStatusSetter, logger log.Logger) *Server {
	s := &Server{status: provider, rotator: rotator, syncer: syncer, selfStatus: selfStatus, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewMux()

	instrument := func(name string, h http.HandlerFunc) http.HandlerFunc {
		counter := metrics.HTTPCallCounter.MustCurryWith(prometheus.Labels{"handler": name})
		duration := metrics.HTTPLatency.MustCurryWith(prometheus.Labels{"handler": name})
		wrapped := promhttp.InstrumentHandlerDuration(duration,
			promhttp.InstrumentHandlerCounter(counter, h))
		return withCommonHeaders(wrapped.ServeHTTP)
	}

	r.Get("/healthz", instrument("healthz", s.handleHealthz))
	r.Get("/status", instrument("status", s.handleStatus))
	r.Post("/debug/rotate", instrument("debug_rotate", s.handleDebugRotate))
	r.Post("/debug/sync", instrument("debug_sync", s.handleDebugSync))
	r.Post("/debug/self-status", instrument("debug_self_status", s.handleDebugSelfStatus))

	return r
}

// Handler wraps the router with combined access logging, matching the
// teacher's preference for wrapping its outermost mux rather than
// instrumenting every handler by hand.
func (s *Server) Handler() http.Handler {
	return handlers.CombinedLoggingHandler(combinedLogWriter{s.logger}, s.router)
}

func withCommonHeaders(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", uuid.NewString())
		h(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		s.logger.Warnw("encoding status response failed", "err", err)
	}
}

func (s *Server) handleDebugRotate(w http.ResponseWriter, r *http.Request) {
	s.rotator.RotationTick(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDebugSync(w http.ResponseWriter, r *http.Request) {
	s.syncer.SyncLookup(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// selfStatusRequest is the body POST /debug/self-status expects.
type selfStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleDebugSelfStatus(w http.ResponseWriter, r *http.Request) {
	var req selfStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "c19xctl: decoding self-status request: "+err.Error(), http.StatusBadRequest)
		return
	}
	status, ok := parseSelfStatus(req.Status)
	if !ok {
		http.Error(w, "c19xctl: unknown status "+req.Status, http.StatusBadRequest)
		return
	}
	if err := s.selfStatus.SetSelfStatus(status); err != nil {
		s.logger.Warnw("persisting self-reported status failed", "err", err)
		http.Error(w, "c19xctl: persisting status failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseSelfStatus(s string) (risk.Status, bool) {
	switch s {
	case "normal":
		return risk.StatusNormal, true
	case "symptomatic":
		return risk.StatusSymptomatic, true
	case "confirmed":
		return risk.StatusConfirmed, true
	default:
		return 0, false
	}
}

// combinedLogWriter adapts log.Logger to the io.Writer CombinedLoggingHandler
// wants for its Apache-style access log line.
type combinedLogWriter struct {
	l log.Logger
}

func (w combinedLogWriter) Write(p []byte) (int, error) {
	w.l.Infow("control access", "line", string(p))
	return len(p), nil
}

// ListenAndServeTLS ensures a self-signed certificate exists at
// certPath/keyPath (generating one for host if missing, matching the
// teacher's test-harness httpscerts.Check/Generate pairing) and serves
// srv.Handler() over HTTPS on addr until ctx is cancelled.
func ListenAndServeTLS(ctx context.Context, addr, host, certPath, keyPath string, srv *Server) error {
	if err := httpscerts.Check(certPath, keyPath); err != nil {
		if err := httpscerts.Generate(certPath, keyPath, host); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	return httpServer.ServeTLS(lis, certPath, keyPath)
}

// RiskStatusAdapter turns a risk.Result plus the timestamps settings.Store
// tracks into the Status the /status route serves.
func RiskStatusAdapter(result risk.Result, selfStatus risk.Status, statusAt, contactAt, adviceAt *time.Time) Status {
	return Status{
		ContactCount:      result.ContactCount,
		ExposureCount:     result.ExposureCount,
		ContactStatus:     contactStatusString(result.ContactStatus),
		Advice:            adviceString(result.Advice),
		SelfStatus:        selfStatusString(selfStatus),
		LastStatusUpdate:  statusAt,
		LastContactUpdate: contactAt,
		LastAdviceUpdate:  adviceAt,
	}
}

func contactStatusString(c risk.ContactStatus) string {
	if c == risk.ContactInfectious {
		return "infectious"
	}
	return "ok"
}

func adviceString(a risk.Advice) string {
	if a == risk.AdviceSelfIsolate {
		return "self_isolate"
	}
	return "government_default"
}

func selfStatusString(s risk.Status) string {
	switch s {
	case risk.StatusSymptomatic:
		return "symptomatic"
	case risk.StatusConfirmed:
		return "confirmed"
	default:
		return "normal"
	}
}
