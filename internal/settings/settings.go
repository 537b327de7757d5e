// Package settings persists the small key-value configuration surface
// spec.md §6 calls out: retention window, rotation interval, RSSI
// threshold, advice default, self-reported status, and last-update
// timestamps. It is TOML-backed, following the group/key-file encoding
// style the teacher uses for its own config structures (BurntSushi/toml).
package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/c19x/tracer/internal/risk"
)

// defaults mirror spec.md §4.8 and §6: 30 minute rotation with no jitter
// baked into the persisted value (jitter is applied at the controller),
// 14 day retention, no RSSI floor, government-default advice.
const (
	DefaultRotationInterval = 30 * time.Minute
	DefaultRetentionWindow  = 14 * 24 * time.Hour
)

// doc is the on-disk TOML representation. The rotation interval is stored
// in minutes (the retention window in whole days) since spec.md §11 fixes rotation-interval units at the settings boundary
// (source files disagreed between minutes and milliseconds).
type doc struct {
	RotationIntervalMinutes int        `toml:"rotation_interval_minutes"`
	RetentionDays           int        `toml:"retention_days"`
	RSSIThreshold           *int32     `toml:"rssi_threshold,omitempty"`
	AdviceDefault           int        `toml:"advice_default"`
	SelfStatus              int        `toml:"self_status"`
	LastStatusUpdate        *time.Time `toml:"last_status_update,omitempty"`
	LastContactUpdate       *time.Time `toml:"last_contact_update,omitempty"`
	LastAdviceUpdate        *time.Time `toml:"last_advice_update,omitempty"`
}

func defaultDoc() doc {
	return doc{
		RotationIntervalMinutes: int(DefaultRotationInterval / time.Minute),
		RetentionDays:           int(DefaultRetentionWindow / (24 * time.Hour)),
		AdviceDefault:           int(risk.AdviceGovernmentDefault),
		SelfStatus:              int(risk.StatusNormal),
	}
}

// Store is the mutex-guarded, file-backed settings KV. Every Set call
// rewrites the whole file atomically; the surface is small enough that
// there is no benefit to a partial-update format.
type Store struct {
	path string

	mu  sync.Mutex
	cur doc
}

// Open loads path if it exists, or seeds it with defaults.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cur: defaultDoc()}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("settings: reading %s: %w", path, err)
	}
	if _, err := toml.Decode(string(raw), &s.cur); err != nil {
		return nil, fmt.Errorf("settings: decoding %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) persist() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s.cur); err != nil {
		return fmt.Errorf("settings: encoding: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings: creating dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// RotationInterval returns the currently configured rotation period.
func (s *Store) RotationInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.cur.RotationIntervalMinutes) * time.Minute
}

// SetRotationInterval updates and persists the rotation period.
func (s *Store) SetRotationInterval(d time.Duration) error {
	s.mu.Lock()
	s.cur.RotationIntervalMinutes = int(d / time.Minute)
	s.mu.Unlock()
	return s.persist()
}

// RetentionWindow returns the currently configured encounter retention
// window.
func (s *Store) RetentionWindow() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.cur.RetentionDays) * 24 * time.Hour
}

// SetRetentionWindow updates and persists the retention window.
func (s *Store) SetRetentionWindow(d time.Duration) error {
	s.mu.Lock()
	s.cur.RetentionDays = int(d / (24 * time.Hour))
	s.mu.Unlock()
	return s.persist()
}

// RSSIThreshold returns the configured RSSI floor, or nil if unset.
func (s *Store) RSSIThreshold() *int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.RSSIThreshold == nil {
		return nil
	}
	v := *s.cur.RSSIThreshold
	return &v
}

// SetRSSIThreshold updates and persists the RSSI floor.
func (s *Store) SetRSSIThreshold(v *int32) error {
	s.mu.Lock()
	s.cur.RSSIThreshold = v
	s.mu.Unlock()
	return s.persist()
}

// AdviceDefault returns the government-default advice shown absent any
// exposure or self-reported status.
func (s *Store) AdviceDefault() risk.Advice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return risk.Advice(s.cur.AdviceDefault)
}

// SelfStatus returns the user's self-reported health status.
func (s *Store) SelfStatus() risk.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return risk.Status(s.cur.SelfStatus)
}

// SetSelfStatus updates and persists the user's self-reported status, and
// records the change via MarkStatusUpdate.
func (s *Store) SetSelfStatus(v risk.Status) error {
	s.mu.Lock()
	s.cur.SelfStatus = int(v)
	s.mu.Unlock()
	if err := s.persist(); err != nil {
		return err
	}
	return s.MarkStatusUpdate(time.Now().UTC())
}

// MarkContactUpdate records that now is a synchronisation point for the
// "last contact update" timestamp exposed to the UI.
func (s *Store) MarkContactUpdate(now time.Time) error {
	s.mu.Lock()
	s.cur.LastContactUpdate = &now
	s.mu.Unlock()
	return s.persist()
}

// MarkAdviceUpdate records the last time Advice changed.
func (s *Store) MarkAdviceUpdate(now time.Time) error {
	s.mu.Lock()
	s.cur.LastAdviceUpdate = &now
	s.mu.Unlock()
	return s.persist()
}

// MarkStatusUpdate records the last time SelfStatus changed.
func (s *Store) MarkStatusUpdate(now time.Time) error {
	s.mu.Lock()
	s.cur.LastStatusUpdate = &now
	s.mu.Unlock()
	return s.persist()
}

// LastUpdates reports the three UI-facing timestamps, any of which may be
// nil if never set.
func (s *Store) LastUpdates() (status, contact, advice *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.LastStatusUpdate, s.cur.LastContactUpdate, s.cur.LastAdviceUpdate
}
