package identifier

import (
	"testing"

	"github.com/c19x/tracer/internal/beaconcode"
	"github.com/stretchr/testify/require"
)

func TestRoundTripS2(t *testing.T) {
	// spec.md §8 S2.
	code := beaconcode.Code(42)
	c := Characteristic(code)
	require.Equal(t, Service.Upper, c.Upper)
	require.Equal(t, code, DecodeCode(c))
}

func TestRoundTripAll63BitRange(t *testing.T) {
	samples := []uint64{0, 1, 7, 1<<62 - 1, 1<<63 - 1}
	for _, v := range samples {
		code := beaconcode.Code(v)
		got := DecodeCode(Characteristic(code))
		require.Equal(t, code, got)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	id := Characteristic(beaconcode.Code(7))
	b := id.Bytes()
	require.Equal(t, id, FromBytes(b))
}
