package lookup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/lookup"
)

type fakeFetcher struct {
	bits []byte
	err  error
}

func (f fakeFetcher) Fetch(context.Context) ([]byte, error) { return f.bits, f.err }

func TestNewCacheStartsEmpty(t *testing.T) {
	c, err := lookup.NewCache(t.TempDir())
	require.NoError(t, err)
	require.False(t, c.Current().Member(123))
}

func TestRefreshReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	c, err := lookup.NewCache(dir)
	require.NoError(t, err)

	bits := make([]byte, 4)
	bits[0] = 0x01 // bit 0 set
	require.NoError(t, c.Refresh(context.Background(), fakeFetcher{bits: bits}))
	require.True(t, c.Current().Member(0))

	raw, err := os.ReadFile(filepath.Join(dir, "lookup"))
	require.NoError(t, err)
	require.Equal(t, bits, raw)

	var leftover []string
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() != "lookup" {
			leftover = append(leftover, e.Name())
		}
	}
	require.Empty(t, leftover, "temp file must not survive a successful refresh")
}

func TestRefreshFetchErrorLeavesCacheUntouched(t *testing.T) {
	dir := t.TempDir()
	c, err := lookup.NewCache(dir)
	require.NoError(t, err)

	bits := []byte{0xFF}
	require.NoError(t, c.Refresh(context.Background(), fakeFetcher{bits: bits}))
	require.True(t, c.Current().Member(0))

	err = c.Refresh(context.Background(), fakeFetcher{err: errors.New("network down")})
	require.Error(t, err)
	require.True(t, c.Current().Member(0), "prior cache must survive a failed refresh")
}

func TestNewCacheLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lookup"), []byte{0x02}, 0o600))

	c, err := lookup.NewCache(dir)
	require.NoError(t, err)
	require.True(t, c.Current().Member(1))
}
