// Package boltstore implements encounter.Store over go.etcd.io/bbolt, the
// default on-device backend. Rows are JSON-encoded exactly as the teacher
// repository's BoltStore encodes beacon rows.
package boltstore

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"time"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter"
)

var encounterBucket = []byte("encounters")

// FileName is the name of the file the store writes to within its folder.
const FileName = "encounters.db"

// OpenPerm is the permission used when creating the database file.
const OpenPerm = 0o600

// Store is a bbolt-backed encounter.Store. Rows are keyed by a
// monotonically increasing sequence number so append order is preserved
// even when two encounters share a timestamp.
type Store struct {
	mu  sync.Mutex
	db  *bolt.DB
	log log.Logger
}

// row is the on-disk JSON representation of one encounter.
type row struct {
	TimeUnixNano int64  `json:"t"`
	Code         uint64 `json:"c"`
	RSSI         int32  `json:"r"`
}

// Open opens (creating if absent) a bbolt database under folder.
func Open(l log.Logger, folder string) (*Store, error) {
	dbPath := filepath.Join(folder, FileName)
	db, err := bolt.Open(dbPath, OpenPerm, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(encounterBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: l}, nil
}

// Append implements encounter.Store.
func (s *Store) Append(_ context.Context, e encounter.Encounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(encounterBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		r := row{TimeUnixNano: e.Timestamp.UnixNano(), Code: uint64(e.Code), RSSI: e.RSSI}
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, buf); err != nil {
			s.log.Debugw("appending encounter", "err", err)
			return err
		}
		return nil
	})
}

// DeleteBefore implements encounter.Store.
func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(encounterBucket)
		c := bucket.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if time.Unix(0, r.TimeUnixNano).Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot implements encounter.Store.
func (s *Store) Snapshot(_ context.Context) ([]encounter.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []encounter.Encounter
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(encounterBucket)
		return bucket.ForEach(func(_, v []byte) error {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, encounter.Encounter{
				Timestamp: time.Unix(0, r.TimeUnixNano).UTC(),
				Code:      beaconcode.Code(r.Code),
				RSSI:      r.RSSI,
			})
			return nil
		})
	})
	return out, err
}

// Close implements encounter.Store.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}
