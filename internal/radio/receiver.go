package radio

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/identifier"
)

// Config tunes the Receiver's timing policies (spec.md §4.5).
type Config struct {
	// ConnectionDelayMin/Max bound the non-negative delay attached to a
	// connection request (spec.md §4.5 policy 1). Default 4s-60s.
	ConnectionDelayMin time.Duration
	ConnectionDelayMax time.Duration

	// ScanShiftDelay is how long after a discovery callback a fresh
	// start_scan is scheduled (spec.md §4.5 policy 2). Default 8s.
	ScanShiftDelay time.Duration
	// ScanShiftEnabled gates the scan-shift trick; platforms without
	// CoreBluetooth-style background suspension quirks may disable it and
	// rely on a single long-lived scan (spec.md §9).
	ScanShiftEnabled bool

	// PeerTimeout bounds any single in-flight radio operation per peer
	// (spec.md §4.5 / §7 PeerTimeout). Default 8s.
	PeerTimeout time.Duration

	// FreshnessWindow is how long an acquired beacon code stays usable
	// without rediscovery (spec.md §4.5 policy 3). Default 30m.
	FreshnessWindow time.Duration

	// PeerTableSize bounds the number of concurrently tracked peers.
	PeerTableSize int
}

// DefaultConfig returns the spec's default policy values.
func DefaultConfig() Config {
	return Config{
		ConnectionDelayMin: 4 * time.Second,
		ConnectionDelayMax: 60 * time.Second,
		ScanShiftDelay:     8 * time.Second,
		ScanShiftEnabled:   true,
		PeerTimeout:        8 * time.Second,
		FreshnessWindow:    30 * time.Minute,
		PeerTableSize:      256,
	}
}

// Receiver discovers peers advertising identifier.Service, extracts their
// beacon code and a fresh RSSI, and emits Detection events (spec.md §4.5).
type Receiver struct {
	cap   Capability
	queue *Queue
	clock clockwork.Clock
	cfg   Config
	log   log.Logger

	peers     *peerTable
	delegates []Delegate

	restoreObservers []RadioRestoreObserver

	scanning       bool
	scanShiftTimer clockwork.Timer
}

// RadioRestoreObserver is notified once the Receiver has resumed scanning
// after the platform reports the radio powering back on (spec.md §4.4's
// OnRadioRestored contract); *Transmitter satisfies this so rotation/
// advertising resumes on the same event the Receiver reacts to.
type RadioRestoreObserver interface {
	OnRadioRestored(context.Context)
}

// NewReceiver constructs a Receiver. queue must be shared with the
// Transmitter so all radio commands are serialised on one goroutine.
func NewReceiver(cap Capability, queue *Queue, clock clockwork.Clock, cfg Config, l log.Logger) *Receiver {
	r := &Receiver{cap: cap, queue: queue, clock: clock, cfg: cfg, log: l}
	r.peers = newPeerTable(cfg.PeerTableSize, r.onPeerEvicted)
	return r
}

// RegisterDelegate adds d to the set notified of Detection events.
func (r *Receiver) RegisterDelegate(d Delegate) {
	r.delegates = append(r.delegates, d)
}

// RegisterRadioRestoreObserver adds o to the set notified after the radio
// powers back on and scanning has resumed.
func (r *Receiver) RegisterRadioRestoreObserver(o RadioRestoreObserver) {
	r.restoreObservers = append(r.restoreObservers, o)
}

func (r *Receiver) emit(d Detection) {
	for _, dg := range r.delegates {
		dg.OnDetection(d)
	}
}

// Run forwards the Capability's event stream onto the radio queue until
// ctx is cancelled. Every event handler therefore executes serialised with
// every command the Receiver/Transmitter post to the same queue.
func (r *Receiver) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case ev, ok := <-r.cap.Events():
				if !ok {
					return
				}
				r.queue.Post(func() { r.handleEvent(ctx, ev) })
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartScan begins continuous discovery for identifier.Service. Idempotent.
// Already-connected peers matching the service are treated as rediscovered
// by the Capability implementation surfacing them as ordinary
// EventPeerDiscovered events.
func (r *Receiver) StartScan(ctx context.Context) error {
	if r.scanning {
		return nil
	}
	if !r.cap.PoweredOn() {
		return ErrRadioOff
	}
	if err := r.cap.StartScan(ctx, identifier.Service); err != nil {
		return err
	}
	r.scanning = true
	return nil
}

// Reconnect re-issues a connection request for every known peer not
// connected, or a fresh RSSI read for every connected peer.
func (r *Receiver) Reconnect(ctx context.Context) {
	for _, h := range r.peers.keys() {
		e, ok := r.peers.get(h)
		if !ok || e.inFlight {
			continue
		}
		if e.connected {
			r.issueReadRSSI(ctx, e)
		} else {
			r.issueConnect(ctx, e)
		}
	}
}

// onRadioRestored reacts to a radio power-on notification.
func (r *Receiver) onRadioRestored(ctx context.Context) {
	r.scanning = false
	_ = r.StartScan(ctx)
}

func (r *Receiver) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventRadioPowerChanged:
		if ev.PoweredOn {
			r.onRadioRestored(ctx)
			for _, o := range r.restoreObservers {
				o.OnRadioRestored(ctx)
			}
		} else {
			// Fail closed: in-flight connections are lost, state retained.
			for _, h := range r.peers.keys() {
				if e, ok := r.peers.get(h); ok {
					r.cancelTimeout(e)
					e.connected = false
					e.inFlight = false
					e.state = StateIdle
				}
			}
			r.scanning = false
		}
		return
	case EventPeerDiscovered:
		r.onDiscovered(ctx, ev.Peer)
		r.scheduleScanShift(ctx)
		return
	}

	e, ok := r.peers.get(ev.Peer)
	if !ok {
		return
	}
	r.cancelTimeout(e)
	e.inFlight = false

	switch ev.Kind {
	case EventPeerConnected:
		e.connected = true
		e.state = StateReadingRSSI
		r.issueReadRSSI(ctx, e)

	case EventRSSIRead:
		rssi := ev.RSSI
		e.lastRSSI = &rssi
		if r.codeFresh(e) {
			r.maybeEmit(ctx, e)
		} else {
			e.state = StateDiscoveringServices
			r.issueDiscoverServices(ctx, e)
		}

	case EventServicesDiscovered:
		e.state = StateDiscoveringCharacteristics
		r.issueDiscoverCharacteristics(ctx, e)

	case EventCharacteristicsDiscovered:
		if ev.Characteristic.Upper != identifier.Service.Upper {
			r.log.Warnw("protocol mismatch, disconnecting", "peer", ev.Peer)
			r.disconnect(ctx, e)
			return
		}
		code := identifier.DecodeCode(ev.Characteristic)
		e.lastCode = &code
		e.codeAcquiredAt = r.clock.Now().UnixNano()
		e.state = StateDetected
		r.maybeEmit(ctx, e)

	case EventWriteComplete:
		// The liveness write succeeded; sever the connection explicitly
		// rather than leaving it open, matching the Detected -> Disconnecting
		// -> Idle transition.
		r.disconnect(ctx, e)

	case EventDisconnected:
		// The capability already tore the connection down; just reconcile
		// local state, no further Disconnect call is needed.
		e.connected = false
		e.state = StateIdle

	case EventOperationFailed:
		if ev.Invalid {
			r.log.Debugw("peer permanently unreachable, pruning", "peer", ev.Peer)
			r.peers.remove(ev.Peer)
			return
		}
		r.log.Debugw("peer operation failed, will reconnect", "peer", ev.Peer, "err", ev.Err)
		e.connected = false
		e.state = StateIdle
	}
}

// onDiscovered handles a scan/rediscovery callback for peer: a brand new
// peer is queued for a delayed connect; an already-known, connected peer
// is left alone (it is driven by its own in-flight operation).
func (r *Receiver) onDiscovered(ctx context.Context, peer PeerHandle) {
	e := r.peers.getOrCreate(peer)
	if e.connected || e.inFlight {
		return
	}
	r.issueConnect(ctx, e)
}

func (r *Receiver) issueConnect(ctx context.Context, e *peerEntry) {
	delay := r.connectionDelay()
	e.inFlight = true
	e.state = StateConnectPending
	r.armTimeout(ctx, e)
	if err := r.cap.Connect(ctx, e.handle, delay); err != nil {
		r.log.Debugw("connect request failed", "peer", e.handle, "err", err)
		e.inFlight = false
		e.state = StateIdle
	}
}

func (r *Receiver) issueReadRSSI(ctx context.Context, e *peerEntry) {
	e.inFlight = true
	e.state = StateReadingRSSI
	r.armTimeout(ctx, e)
	if err := r.cap.ReadRSSI(ctx, e.handle); err != nil {
		e.inFlight = false
		e.state = StateIdle
	}
}

func (r *Receiver) issueDiscoverServices(ctx context.Context, e *peerEntry) {
	e.inFlight = true
	r.armTimeout(ctx, e)
	if err := r.cap.DiscoverServices(ctx, e.handle); err != nil {
		e.inFlight = false
		e.state = StateIdle
	}
}

func (r *Receiver) issueDiscoverCharacteristics(ctx context.Context, e *peerEntry) {
	e.inFlight = true
	r.armTimeout(ctx, e)
	if err := r.cap.DiscoverCharacteristics(ctx, e.handle, identifier.Service); err != nil {
		e.inFlight = false
		e.state = StateIdle
	}
}

// maybeEmit implements the emission rule (spec.md §4.5 policy 4): exactly
// one Detection per cycle that has both a fresh RSSI and a known,
// unexpired code.
func (r *Receiver) maybeEmit(ctx context.Context, e *peerEntry) {
	if e.lastRSSI == nil || e.lastCode == nil || !r.codeFresh(e) {
		return
	}
	d := Detection{Code: *e.lastCode, RSSI: *e.lastRSSI}
	r.emit(d)
	// Emitting invalidates the cached RSSI, forcing a re-read next cycle,
	// but retains the code until it expires.
	e.lastRSSI = nil
	e.state = StateDetected
	r.triggerWrite(ctx, e)
}

// triggerWrite implements policy 5: immediately after emission, write a
// zero-length payload to the peer as a liveness ping, then disconnect.
func (r *Receiver) triggerWrite(ctx context.Context, e *peerEntry) {
	e.state = StateDisconnecting
	e.inFlight = true
	r.armTimeout(ctx, e)
	if err := r.cap.WriteValue(ctx, e.handle, nil); err != nil {
		e.inFlight = false
		r.disconnect(ctx, e)
	}
}

func (r *Receiver) disconnect(ctx context.Context, e *peerEntry) {
	e.state = StateDisconnecting
	_ = r.cap.Disconnect(ctx, e.handle)
	e.connected = false
	e.inFlight = false
	e.state = StateIdle
}

// codeFresh implements policy 3: a code expires when its acquisition day
// differs from today (UTC) or 30 minutes have elapsed.
func (r *Receiver) codeFresh(e *peerEntry) bool {
	if e.lastCode == nil || e.codeAcquiredAt == 0 {
		return false
	}
	acquired := time.Unix(0, e.codeAcquiredAt).UTC()
	now := r.clock.Now().UTC()
	if acquired.Year() != now.Year() || acquired.YearDay() != now.YearDay() {
		return false
	}
	return now.Sub(acquired) < r.cfg.FreshnessWindow
}

func (r *Receiver) connectionDelay() time.Duration {
	lo, hi := r.cfg.ConnectionDelayMin, r.cfg.ConnectionDelayMax
	if hi <= lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(rand.Int63n(int64(span)))
}

// armTimeout starts (or restarts) the per-peer 8s operation timeout
// (spec.md §4.5 / §7). Only one in-flight operation per peer is ever
// permitted, so arming always replaces any previous timer for that peer.
func (r *Receiver) armTimeout(ctx context.Context, e *peerEntry) {
	r.cancelTimeout(e)
	e.timeout = r.clock.AfterFunc(r.cfg.PeerTimeout, func() {
		r.queue.Post(func() {
			r.log.Debugw("peer operation timed out", "peer", e.handle)
			e.inFlight = false
			r.disconnect(ctx, e)
		})
	})
}

func (r *Receiver) cancelTimeout(e *peerEntry) {
	if e.timeout != nil {
		e.timeout.Stop()
		e.timeout = nil
	}
}

// scheduleScanShift implements policy 2: after any discovery callback,
// schedule a fresh start_scan 8s later, cancelling any previously
// scheduled shift. Repeat start_scan calls re-report already-known peers
// even while the host process is backgrounded, which is how the receiver
// stays alive under suspension.
func (r *Receiver) scheduleScanShift(ctx context.Context) {
	if !r.cfg.ScanShiftEnabled {
		return
	}
	if r.scanShiftTimer != nil {
		r.scanShiftTimer.Stop()
	}
	r.scanShiftTimer = r.clock.AfterFunc(r.cfg.ScanShiftDelay, func() {
		r.queue.Post(func() {
			r.scanning = false
			_ = r.StartScan(ctx)
		})
	})
}

func (r *Receiver) onPeerEvicted(h PeerHandle, e *peerEntry) {
	r.cancelTimeout(e)
	r.log.Debugw("peer table evicted entry", "peer", h)
}
