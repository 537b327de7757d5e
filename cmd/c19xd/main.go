// c19xd is the composition root: it builds every component exactly once
// and wires the references explicitly, with no package-level singletons
// (spec.md §9 "composition root"), mirroring the teacher's own main.go /
// core.NewDrandDaemon style of explicit construction.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/control"
	"github.com/c19x/tracer/internal/controller"
	"github.com/c19x/tracer/internal/daycode"
	"github.com/c19x/tracer/internal/encounter"
	"github.com/c19x/tracer/internal/encounter/badgerstore"
	"github.com/c19x/tracer/internal/encounter/boltstore"
	"github.com/c19x/tracer/internal/identifier"
	"github.com/c19x/tracer/internal/lookup"
	"github.com/c19x/tracer/internal/metrics"
	"github.com/c19x/tracer/internal/radio"
	"github.com/c19x/tracer/internal/radio/lp2pradio"
	"github.com/c19x/tracer/internal/risk"
	"github.com/c19x/tracer/internal/secure"
	"github.com/c19x/tracer/internal/settings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "c19xd",
		Usage:   "C19X proximity engine daemon",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Value: defaultHome(), Usage: "data directory for settings, lookup cache and encounter log"},
			&cli.StringFlag{Name: "listen", Value: "/ip4/0.0.0.0/tcp/0", Usage: "libp2p listen multiaddr"},
			&cli.StringFlag{Name: "control-addr", Value: "127.0.0.1:8645", Usage: "local HTTPS control/status plane listen address"},
			&cli.StringFlag{Name: "control-host", Value: "localhost", Usage: "host name the control-plane self-signed certificate is issued for"},
			&cli.StringFlag{Name: "metrics-bind", Value: "127.0.0.1:8646", Usage: "Prometheus /metrics listen address"},
			&cli.StringFlag{Name: "lookup-url", Value: "", Usage: "URL the InfectionLookup bitset is fetched from"},
			&cli.StringFlag{Name: "encounter-backend", Value: "bolt", Usage: "encounter store backend: bolt or badger"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug-level logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".c19x"
	}
	return filepath.Join(dir, ".c19x")
}

func run(c *cli.Context) error {
	level := log.InfoLevel
	if c.Bool("verbose") {
		level = log.DebugLevel
	}
	logger := log.New(nil, level, false)

	home := c.String("home")
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("c19xd: creating home directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutting down on signal")
		cancel()
	}()

	var shutdown shutdownList
	defer func() {
		if err := shutdown.close(); err != nil {
			logger.Warnw("error during shutdown", "err", err)
		}
	}()

	secureStore, err := openSecureStore(home, logger)
	if err != nil {
		return err
	}
	shutdown.add("secure store", secureStore.Close)

	sharedSecret, err := secureStore.SharedSecret()
	if err != nil {
		sharedSecret = make([]byte, 32)
		if _, genErr := rand.Read(sharedSecret); genErr != nil {
			return fmt.Errorf("c19xd: generating shared secret: %w", genErr)
		}
		if err := secureStore.PutSharedSecret(sharedSecret); err != nil {
			return fmt.Errorf("c19xd: persisting shared secret: %w", err)
		}
		logger.Infow("provisioned a fresh shared secret", "home", home)
	}

	settingsStore, err := settings.Open(filepath.Join(home, "settings.toml"))
	if err != nil {
		return fmt.Errorf("c19xd: opening settings: %w", err)
	}

	lookupCache, err := lookup.NewCache(home)
	if err != nil {
		return fmt.Errorf("c19xd: opening lookup cache: %w", err)
	}

	store, err := openEncounterStore(c.String("encounter-backend"), home, logger)
	if err != nil {
		return err
	}
	shutdown.add("encounter store", func() error { return store.Close(ctx) })
	encounterLog := encounter.NewLog(store)

	host, err := lp2pradio.New(ctx, c.String("listen"), logger.Named("lp2p"))
	if err != nil {
		return fmt.Errorf("c19xd: starting libp2p host: %w", err)
	}
	shutdown.add("libp2p host", host.Close)

	clock := clockwork.NewRealClock()
	days := daycode.NewSchedule(sharedSecret)
	bsched := beaconcode.NewSchedule(days)
	codes := controller.NewBeaconCodeSource(clock, bsched)

	radioQueue := radio.NewQueue()
	defer radioQueue.Stop()

	rec := &recorder{clock: clock, log: encounterLog, logger: logger}
	tx := radio.NewTransmitter(host, radioQueue, codes, rec, logger.Named("tx"))
	host.OnWrite(func(_ radio.PeerHandle, payload []byte) {
		if err := tx.OnWrite(payload); err != nil {
			logger.Warnw("on_write failed", "err", err)
		}
	})

	rx := radio.NewReceiver(host, radioQueue, clock, radio.DefaultConfig(), logger.Named("rx"))
	rx.RegisterDelegate(rec)
	rx.RegisterRadioRestoreObserver(tx)
	go rx.Run(ctx)

	fetcher := fetcherFor(c.String("lookup-url"))

	delegate := statusDelegate{settings: settingsStore}
	ctrl := controller.New(clock, radioQueue, settingsStore, tx, encounterLog, lookupCache, fetcher, &delegate, logger.Named("controller"))
	rec.onAppend = func() { ctrl.RunAnalyser(ctx) }
	ctrl.Run(ctx)

	if err := rx.StartScan(ctx); err != nil {
		logger.Warnw("initial scan start failed, will retry on radio restore", "err", err)
	}
	ctrl.RotationTick(ctx)
	ctrl.SyncLookup(ctx)

	lis := metrics.Start(logger.Named("metrics"), c.String("metrics-bind"))
	if lis != nil {
		shutdown.add("metrics listener", lis.Close)
	}

	controlServer := control.New(&delegate, ctrl, ctrl, settingsStore, logger.Named("control"))
	go func() {
		certPath := filepath.Join(home, "control.crt")
		keyPath := filepath.Join(home, "control.key")
		err := control.ListenAndServeTLS(ctx, c.String("control-addr"), c.String("control-host"), certPath, keyPath, controlServer)
		if err != nil && ctx.Err() == nil {
			logger.Errorw("control plane stopped", "err", err)
		}
	}()

	serviceBytes := identifier.Service.Bytes()
	logger.Infow("c19xd ready",
		"home", home,
		"service", hex.EncodeToString(serviceBytes[:]),
		"control-addr", c.String("control-addr"),
	)

	<-ctx.Done()
	ctrl.Stop()
	return nil
}

// openEncounterStore opens the on-device encounter.Store, selecting between
// the bbolt and badger backends (internal/encounter/boltstore,
// internal/encounter/badgerstore both implement encounter.Store).
func openEncounterStore(backend, home string, logger log.Logger) (encounter.Store, error) {
	switch backend {
	case "badger":
		store, err := badgerstore.Open(filepath.Join(home, "encounters-badger"), nil)
		if err != nil {
			return nil, fmt.Errorf("c19xd: opening badger encounter store: %w", err)
		}
		return store, nil
	case "bolt", "":
		store, err := boltstore.Open(logger.Named("encounters"), home)
		if err != nil {
			return nil, fmt.Errorf("c19xd: opening bolt encounter store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("c19xd: unknown encounter backend %q", backend)
	}
}

func openSecureStore(home string, logger log.Logger) (*secure.Store, error) {
	keyPath := filepath.Join(home, "master.key")
	raw, err := os.ReadFile(keyPath)
	var key [32]byte
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("c19xd: reading master key: %w", err)
		}
		if _, genErr := rand.Read(key[:]); genErr != nil {
			return nil, fmt.Errorf("c19xd: generating master key: %w", genErr)
		}
		if writeErr := os.WriteFile(keyPath, key[:], 0o600); writeErr != nil {
			return nil, fmt.Errorf("c19xd: persisting master key: %w", writeErr)
		}
		logger.Infow("provisioned a fresh device master key", "path", keyPath)
	} else {
		if len(raw) != len(key) {
			return nil, fmt.Errorf("c19xd: master key at %s has wrong length %d", keyPath, len(raw))
		}
		copy(key[:], raw)
	}
	return secure.Open(filepath.Join(home, "secure.db"), key)
}

// shutdownList runs a set of named Close funcs in reverse registration
// order, collecting every failure instead of stopping at the first one
// (the daemon owns several independent stores and listeners that should
// each get a chance to close cleanly).
type shutdownList struct {
	names []string
	fns   []func() error
}

func (s *shutdownList) add(name string, fn func() error) {
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

func (s *shutdownList) close() error {
	var result *multierror.Error
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.names[i], err))
		}
	}
	return result.ErrorOrNil()
}

func fetcherFor(url string) lookup.Fetcher {
	if url == "" {
		return nullFetcher{}
	}
	return lookup.NewHTTPFetcher(url)
}

// nullFetcher is used when no lookup server is configured: every sync
// leaves the cache untouched rather than erroring the controller loop.
type nullFetcher struct{}

func (nullFetcher) Fetch(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("c19xd: no --lookup-url configured")
}

// recorder bridges Receiver detections and Transmitter self-reports into
// the EncounterLog, then asks the controller to re-run the risk analyser
// (spec.md §4.6/§4.7 wiring is the daemon's responsibility, not a named
// module).
type recorder struct {
	clock    clockwork.Clock
	log      *encounter.Log
	logger   log.Logger
	onAppend func()

	mu      sync.Mutex
	pending []radio.Detection
}

func (r *recorder) OnDetection(d radio.Detection) {
	r.append(d)
}

func (r *recorder) OnPeerReportedDetection(d radio.Detection) {
	r.append(d)
}

// append persists d, first retrying anything a previous persistence failure
// left buffered. Rows that fail again are retained rather than dropped
// (radio.ErrStore's documented policy: retain the in-memory row and retry
// on the next append, never silently drop data).
func (r *recorder) append(d radio.Detection) {
	metrics.DetectionCounter.Inc()

	r.mu.Lock()
	backlog := append(r.pending, d)
	r.pending = nil
	r.mu.Unlock()

	var retry []radio.Detection
	for _, p := range backlog {
		if err := r.log.Append(context.Background(), r.clock.Now(), p.Code, p.RSSI); err != nil {
			r.logger.Warnw("appending encounter failed, retaining for retry", "err", fmt.Errorf("%w: %v", radio.ErrStore, err))
			retry = append(retry, p)
			continue
		}
		if r.onAppend != nil {
			r.onAppend()
		}
	}

	if len(retry) > 0 {
		r.mu.Lock()
		r.pending = append(retry, r.pending...)
		r.mu.Unlock()
	}
}

// statusDelegate holds the most recent risk.Result for the control plane's
// /status route, updated by the controller's risk analyser callback. The
// three "last updated" timestamps it reports come from settingsStore,
// which the controller stamps whenever the underlying value actually
// changes (spec.md §6), not from a single fabricated instant.
type statusDelegate struct {
	settings *settings.Store

	mu     sync.Mutex
	result risk.Result
}

// OnRiskUpdated implements controller.Delegate.
func (d *statusDelegate) OnRiskUpdated(r risk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result = r
}

// OnLookupRefreshFailed implements controller.Delegate.
func (d *statusDelegate) OnLookupRefreshFailed(err error) {
	metrics.LookupRefreshFailures.Inc()
}

// Status implements control.StatusProvider.
func (d *statusDelegate) Status() control.Status {
	d.mu.Lock()
	result := d.result
	d.mu.Unlock()
	statusAt, contactAt, adviceAt := d.settings.LastUpdates()
	return control.RiskStatusAdapter(result, d.settings.SelfStatus(), statusAt, contactAt, adviceAt)
}
