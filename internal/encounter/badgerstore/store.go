// Package badgerstore implements encounter.Store over
// github.com/ipfs/go-ds-badger2, an alternate backend for deployments that
// already run badger for their other on-device stores (the teacher
// repository ships more than one Store backend side by side — boltdb,
// postgres, memdb — so a second real backend alongside boltstore follows
// the same pattern).
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	badger "github.com/ipfs/go-ds-badger2"

	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/c19x/tracer/internal/encounter"
)

const namespace = "/encounters/"

// Store is a badger-backed encounter.Store.
type Store struct {
	ds  *badger.Datastore
	seq uint64
}

// row is the JSON representation of one stored encounter.
type row struct {
	TimeUnixNano int64  `json:"t"`
	Code         uint64 `json:"c"`
	RSSI         int32  `json:"r"`
}

// Open opens (creating if absent) a badger datastore at dir, recovering the
// append sequence counter from any rows already present so a restart never
// reuses a key and silently overwrites a previously stored encounter.
func Open(dir string, opts *badger.Options) (*Store, error) {
	ds, err := badger.NewDatastore(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: opening datastore: %w", err)
	}
	seq, err := recoverSeq(context.Background(), ds)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("badgerstore: recovering sequence: %w", err)
	}
	return &Store{ds: ds, seq: seq}, nil
}

// recoverSeq scans existing keys under namespace and returns the highest
// encoded sequence number found, 0 if the store is empty.
func recoverSeq(ctx context.Context, ds *badger.Datastore) (uint64, error) {
	results, err := ds.Query(ctx, query.Query{Prefix: namespace, KeysOnly: true})
	if err != nil {
		return 0, err
	}
	defer results.Close()

	var max uint64
	for entry := range results.Next() {
		if entry.Error != nil {
			return 0, entry.Error
		}
		seq, err := parseSeq(entry.Key)
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func parseSeq(key string) (uint64, error) {
	trimmed := strings.TrimPrefix(key, namespace)
	return strconv.ParseUint(trimmed, 10, 64)
}

func (s *Store) key(seq uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%s%020d", namespace, seq))
}

// Append implements encounter.Store.
func (s *Store) Append(ctx context.Context, e encounter.Encounter) error {
	seq := atomic.AddUint64(&s.seq, 1)
	buf, err := json.Marshal(row{TimeUnixNano: e.Timestamp.UnixNano(), Code: uint64(e.Code), RSSI: e.RSSI})
	if err != nil {
		return err
	}
	return s.ds.Put(ctx, s.key(seq), buf)
}

// DeleteBefore implements encounter.Store.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	results, err := s.ds.Query(ctx, query.Query{Prefix: namespace})
	if err != nil {
		return err
	}
	defer results.Close()

	for entry := range results.Next() {
		if entry.Error != nil {
			return entry.Error
		}
		var r row
		if err := json.Unmarshal(entry.Value, &r); err != nil {
			continue
		}
		if time.Unix(0, r.TimeUnixNano).Before(cutoff) {
			if err := s.ds.Delete(ctx, datastore.NewKey(entry.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot implements encounter.Store.
func (s *Store) Snapshot(ctx context.Context) ([]encounter.Encounter, error) {
	results, err := s.ds.Query(ctx, query.Query{Prefix: namespace})
	if err != nil {
		return nil, err
	}
	defer results.Close()

	var out []encounter.Encounter
	for entry := range results.Next() {
		if entry.Error != nil {
			return nil, entry.Error
		}
		var r row
		if err := json.Unmarshal(entry.Value, &r); err != nil {
			return nil, err
		}
		out = append(out, encounter.Encounter{
			Timestamp: time.Unix(0, r.TimeUnixNano).UTC(),
			Code:      beaconcode.Code(r.Code),
			RSSI:      r.RSSI,
		})
	}
	return out, nil
}

// Close implements encounter.Store.
func (s *Store) Close(context.Context) error {
	return s.ds.Close()
}
