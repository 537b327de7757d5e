// Package encounter defines the append-only, time-ordered log of observed
// beacon codes and the storage contract its backends must satisfy.
package encounter

import (
	"context"
	"time"

	"github.com/c19x/tracer/internal/beaconcode"
)

// Encounter is a single timestamped detection: a peer's beacon code and
// the RSSI measured when it was read. No identity beyond these attributes
// is ever assigned.
type Encounter struct {
	Timestamp time.Time
	Code      beaconcode.Code
	RSSI      int32
}

// Store is the persistence contract an EncounterLog backend must satisfy:
// atomic append, range-delete by timestamp, and a consistent read
// snapshot. Any store satisfying this suffices per spec.md §9
// ("Persistence coupling") — boltstore, badgerstore and memstore in this
// repository are three such implementations.
type Store interface {
	// Append adds one encounter. It is atomic and safe for concurrent use.
	Append(ctx context.Context, e Encounter) error
	// DeleteBefore removes every encounter with Timestamp < cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) error
	// Snapshot returns a consistent, point-in-time copy of all encounters.
	// Only the append order is guaranteed monotonic; no other ordering is
	// promised.
	Snapshot(ctx context.Context) ([]Encounter, error)
	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Log is the store-backed EncounterLog. It keeps no in-memory index of its
// own: every call goes straight to the underlying Store, and whether reads
// block concurrent appends is decided by that Store's own locking.
type Log struct {
	store Store
}

// NewLog wraps a Store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Append appends one encounter. Total, atomic and thread-safe, delegating
// to the backing Store.
func (l *Log) Append(ctx context.Context, ts time.Time, code beaconcode.Code, rssi int32) error {
	return l.store.Append(ctx, Encounter{Timestamp: ts, Code: code, RSSI: rssi})
}

// DeleteBefore enforces a retention cutoff: every encounter older than t is
// removed.
func (l *Log) DeleteBefore(ctx context.Context, t time.Time) error {
	return l.store.DeleteBefore(ctx, t)
}

// Snapshot yields a consistent view of every currently-retained encounter.
func (l *Log) Snapshot(ctx context.Context) ([]Encounter, error) {
	return l.store.Snapshot(ctx)
}

// CountToday counts encounters whose timestamp falls within the current
// UTC day relative to now, optionally filtered to RSSI values strictly
// above threshold when threshold is non-nil.
func (l *Log) CountToday(ctx context.Context, now time.Time, threshold *int32) (int, error) {
	all, err := l.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	count := 0
	for _, e := range all {
		if e.Timestamp.Before(dayStart) || !e.Timestamp.Before(dayEnd) {
			continue
		}
		if threshold != nil && e.RSSI <= *threshold {
			continue
		}
		count++
	}
	return count, nil
}

// Close releases the backing store.
func (l *Log) Close(ctx context.Context) error {
	return l.store.Close(ctx)
}
