package daycode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleS1(t *testing.T) {
	// spec.md §8 S1: SharedSecret = single zero byte, MAX_DAYS conceptually 2
	// for the purposes of this test (the production schedule always holds
	// MaxDays entries; we only assert properties of the first two).
	s := NewSchedule([]byte{0x00})

	d0, err := s.DayCode(0)
	require.NoError(t, err)
	d1, err := s.DayCode(1)
	require.NoError(t, err)

	require.Less(t, uint64(d0), uint64(1)<<63)
	require.Less(t, uint64(d1), uint64(1)<<63)
	require.NotEqual(t, d0, d1)
}

func TestScheduleDeterministic(t *testing.T) {
	a := NewSchedule([]byte("shared-secret-material-32-bytes"))
	b := NewSchedule([]byte("shared-secret-material-32-bytes"))

	for _, d := range []DayIndex{0, 1, 42, MaxDays - 1} {
		va, err := a.DayCode(d)
		require.NoError(t, err)
		vb, err := b.DayCode(d)
		require.NoError(t, err)
		require.Equal(t, va, vb)
	}
}

func TestScheduleOutOfRange(t *testing.T) {
	s := NewSchedule([]byte("secret"))
	_, err := s.DayCode(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = s.DayCode(MaxDays)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestTodayBounds(t *testing.T) {
	_, err := Today(Epoch.Add(-time.Second))
	require.ErrorIs(t, err, ErrOutOfRange)

	d, err := Today(Epoch.Add(25 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, DayIndex(1), d)

	_, err = Today(Epoch.Add(time.Duration(MaxDays) * 24 * time.Hour))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestDigestToInt63Bound(t *testing.T) {
	var digest [32]byte
	for i := range digest {
		digest[i] = 0xFF
	}
	v := DigestToInt63(digest)
	require.Less(t, v, uint64(1)<<63)
}
