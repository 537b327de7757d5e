// Package controller implements the thin rotation/retention/sync
// scheduler of spec.md §4.8, running on its own controller queue separate
// from the radio work queue (spec.md §5). Grounded on the teacher's
// chain/beacon/ticker.go single-goroutine, channel-driven scheduler,
// generalised here to a single jittered tick that fans out both a
// beacon-code rotation (posted to the radio queue) and a retention sweep
// (posted to the controller queue), plus an independently triggerable
// daily sync and risk re-analysis.
package controller

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/daycode"
	"github.com/c19x/tracer/internal/encounter"
	"github.com/c19x/tracer/internal/lookup"
	"github.com/c19x/tracer/internal/radio"
	"github.com/c19x/tracer/internal/risk"
)

// RotationJitter bounds the ±2 minute jitter spec.md §4.8 applies to the
// rotation tick.
const RotationJitter = 2 * time.Minute

// Settings is everything the controller needs to read from the small
// key-value settings surface; satisfied by *settings.Store.
type Settings interface {
	RotationInterval() time.Duration
	RetentionWindow() time.Duration
	RSSIThreshold() *int32
	SelfStatus() risk.Status
	AdviceDefault() risk.Advice

	// MarkContactUpdate/MarkAdviceUpdate record the moment the risk
	// analyser last changed ContactStatus/Advice, for the UI's "last
	// updated" timestamps (spec.md §6).
	MarkContactUpdate(now time.Time) error
	MarkAdviceUpdate(now time.Time) error
}

// Delegate is notified of controller-driven state changes the UI cares
// about.
type Delegate interface {
	OnRiskUpdated(risk.Result)
	OnLookupRefreshFailed(error)
}

// EncounterLog is the subset of *encounter.Log the controller needs: a
// retention sweep and a read snapshot for the risk analyser.
type EncounterLog interface {
	DeleteBefore(ctx context.Context, t time.Time) error
	Snapshot(ctx context.Context) ([]encounter.Encounter, error)
}

// beaconCodeSource adapts a beaconcode.Schedule (which needs "today") into
// the radio.CodeSource the Transmitter expects (which carries no clock of
// its own).
type beaconCodeSource struct {
	clock clockwork.Clock
	sched *beaconcode.Schedule
}

func (b beaconCodeSource) Current() (beaconcode.Code, error) {
	today, err := daycode.Today(b.clock.Now())
	if err != nil {
		return 0, err
	}
	return b.sched.Current(today)
}

// NewBeaconCodeSource wraps sched as a radio.CodeSource driven by clock.
func NewBeaconCodeSource(clock clockwork.Clock, sched *beaconcode.Schedule) radio.CodeSource {
	return beaconCodeSource{clock: clock, sched: sched}
}

// Controller owns the rotation, retention and daily-sync timers. It never
// touches the Capability directly: every radio-directed action is posted
// onto the radio queue so all radio commands remain totally ordered with
// the Transmitter/Receiver's own work (spec.md §5).
type Controller struct {
	clock      clockwork.Clock
	radioQueue *radio.Queue
	ctrlQueue  *radio.Queue

	settings    Settings
	tx          *radio.Transmitter
	encounters  EncounterLog
	lookupCache *lookup.Cache
	fetcher     lookup.Fetcher
	delegate    Delegate
	logger      log.Logger

	haveResult bool
	lastResult risk.Result

	stop chan struct{}
}

// New constructs a Controller. radioQueue must be the same Queue the
// Transmitter/Receiver post their own work on; the controller starts its
// own independent queue for the timers themselves.
func New(
	clock clockwork.Clock,
	radioQueue *radio.Queue,
	settings Settings,
	tx *radio.Transmitter,
	encounters EncounterLog,
	lookupCache *lookup.Cache,
	fetcher lookup.Fetcher,
	delegate Delegate,
	logger log.Logger,
) *Controller {
	return &Controller{
		clock:       clock,
		radioQueue:  radioQueue,
		ctrlQueue:   radio.NewQueue(),
		settings:    settings,
		tx:          tx,
		encounters:  encounters,
		lookupCache: lookupCache,
		fetcher:     fetcher,
		delegate:    delegate,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Run starts the rotation timer and the daily lookup-sync timer. It returns
// immediately; both timers run until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	go c.rotationLoop(ctx)
	go func() {
		ticker := c.clock.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				c.SyncLookup(ctx)
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the rotation timer and the controller's own queue. It does
// not affect the radio queue, which outlives the controller.
func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.ctrlQueue.Stop()
}

// jitter returns d plus a uniformly random offset in [-RotationJitter,
// +RotationJitter), matching spec.md §4.8's "±2 min jitter".
func jitter(d time.Duration) time.Duration {
	offset := time.Duration(rand.Int63n(int64(2*RotationJitter))) - RotationJitter
	return d + offset
}

// rotationLoop fires RotationTick on an interval read fresh from Settings
// every cycle (so a live settings change takes effect on the next tick
// without restarting the controller), jittered by ±2 minutes.
func (c *Controller) rotationLoop(ctx context.Context) {
	for {
		interval := jitter(c.settings.RotationInterval())
		select {
		case <-c.clock.After(interval):
			c.RotationTick(ctx)
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

// RotationTick invokes Transmitter.UpdateBeaconCode (posted onto the radio
// queue) and EncounterLog.DeleteBefore (posted onto the controller queue),
// matching spec.md §4.8's combined rotation tick. Exported so tests and a
// manual /debug/rotate control-plane hook can trigger it outside the
// timer.
func (c *Controller) RotationTick(ctx context.Context) {
	c.radioQueue.Post(func() {
		if err := c.tx.UpdateBeaconCode(ctx); err != nil {
			c.logger.Warnw("rotation tick failed, will retry next cycle", "err", err)
		}
	})
	c.ctrlQueue.Post(func() {
		cutoff := c.clock.Now().Add(-c.settings.RetentionWindow())
		if err := c.encounters.DeleteBefore(ctx, cutoff); err != nil {
			c.logger.Warnw("retention sweep failed", "err", err)
		}
	})
}

// SyncLookup downloads the current InfectionLookup bitset, replaces the
// cache atomically, and re-runs the risk analyser against the current
// encounter log snapshot (spec.md §4.8 "Daily sync"). It runs entirely on
// the controller queue; RiskAnalyser never touches the radio queue.
func (c *Controller) SyncLookup(ctx context.Context) {
	c.ctrlQueue.Post(func() {
		if err := c.lookupCache.Refresh(ctx, c.fetcher); err != nil {
			c.logger.Warnw("lookup refresh failed", "err", err)
			if c.delegate != nil {
				c.delegate.OnLookupRefreshFailed(err)
			}
		}
		c.runAnalyser(ctx)
	})
}

// RunAnalyser re-runs the risk analyser against the current log snapshot
// without refreshing the lookup cache; used after encounter log changes
// (spec.md §4.7 "invoked after lookup download and after encounter log
// changes").
func (c *Controller) RunAnalyser(ctx context.Context) {
	c.ctrlQueue.Post(func() { c.runAnalyser(ctx) })
}

func (c *Controller) runAnalyser(ctx context.Context) {
	snapshot, err := c.encounters.Snapshot(ctx)
	if err != nil {
		c.logger.Warnw("reading encounter snapshot for risk analysis failed", "err", err)
		return
	}
	result := risk.Analyse(
		snapshot,
		c.lookupCache.Current(),
		c.settings.RSSIThreshold(),
		c.settings.SelfStatus(),
		c.settings.AdviceDefault(),
	)

	now := c.clock.Now()
	if !c.haveResult || result.ContactStatus != c.lastResult.ContactStatus {
		if err := c.settings.MarkContactUpdate(now); err != nil {
			c.logger.Warnw("recording contact update timestamp failed", "err", err)
		}
	}
	if !c.haveResult || result.Advice != c.lastResult.Advice {
		if err := c.settings.MarkAdviceUpdate(now); err != nil {
			c.logger.Warnw("recording advice update timestamp failed", "err", err)
		}
	}
	c.lastResult = result
	c.haveResult = true

	if c.delegate != nil {
		c.delegate.OnRiskUpdated(result)
	}
}
