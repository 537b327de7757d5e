// Package lookup caches the server-published InfectionLookup bitset on
// disk and hands out an in-memory risk.Lookup view of the current cache.
// Refresh replaces the cache atomically (write-rename), grounded on the
// teacher's createSecureFile/files helpers in file.go.
package lookup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/c19x/tracer/internal/risk"
)

// Fetcher downloads the current InfectionLookup bitset from the server.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Cache is the single-file, atomically-replaced InfectionLookup cache
// (spec.md §6 "Persisted state layout": single file `lookup` in the
// per-app cache directory; writes atomic write-rename).
type Cache struct {
	path string

	mu      sync.RWMutex
	current risk.Lookup
}

// NewCache opens (or creates) the cache file at dir/lookup, loading any
// bitset already on disk. A missing or empty file is not an error: the
// cache starts out empty, matching risk.EmptyLookup's "treat everything as
// non-infectious" default.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("lookup: creating cache dir: %w", err)
	}
	c := &Cache{path: filepath.Join(dir, "lookup"), current: risk.EmptyLookup()}
	bits, err := os.ReadFile(c.path)
	switch {
	case os.IsNotExist(err):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("lookup: reading cache file: %w", err)
	}
	if len(bits) > 0 {
		l, err := risk.NewLookup(bits)
		if err == nil {
			c.current = l
		}
	}
	return c, nil
}

// Current returns the cached lookup view. Safe for concurrent use with
// Refresh.
func (c *Cache) Current() risk.Lookup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Refresh fetches a fresh bitset and atomically replaces both the on-disk
// file and the in-memory view. A fetch or parse failure leaves the
// existing cache untouched (spec.md §7 "LookupCorrupt" policy: fall back
// to treating all encounters as non-infectious only when there has never
// been a valid cache).
func (c *Cache) Refresh(ctx context.Context, fetcher Fetcher) error {
	bits, err := fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("lookup: fetching: %w", err)
	}
	parsed, err := risk.NewLookup(bits)
	if err != nil {
		return fmt.Errorf("lookup: parsing fetched bitset: %w", err)
	}
	if err := writeAtomic(c.path, bits); err != nil {
		return fmt.Errorf("lookup: persisting cache: %w", err)
	}
	c.mu.Lock()
	c.current = parsed
	c.mu.Unlock()
	return nil
}

// writeAtomic writes contents to path by creating a sibling temp file,
// fsyncing it, then renaming over the destination, so a process crash or
// suspension mid-write never leaves a partially written cache visible.
func writeAtomic(path string, contents []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lookup-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
