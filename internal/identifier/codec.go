// Package identifier implements the bidirectional mapping between a 64-bit
// beacon code and the 128-bit service/characteristic identifiers exposed by
// the wireless radio layer.
package identifier

import (
	"encoding/binary"

	"github.com/c19x/tracer/internal/beaconcode"
)

// ID is a 128-bit wireless identifier, stored as big-endian {Upper, Lower}.
type ID struct {
	Upper uint64
	Lower uint64
}

// Service is the fixed, publicly known 128-bit service identifier
// advertised by every instance. The value matches the literal used in
// spec.md §8 scenario S2 (0022D481-83FE-1F13-0000-000000000000).
var Service = ID{Upper: 0x0022D48183FE1F13, Lower: 0x0000000000000000}

// Characteristic computes the characteristic identifier that encodes the
// given beacon code: upper = upper64(Service), lower = code zero-extended
// to 64 bits.
func Characteristic(code beaconcode.Code) ID {
	return ID{Upper: Service.Upper, Lower: uint64(code)}
}

// DecodeCode recovers the beacon code a peer is advertising from its
// characteristic identifier: lower64(characteristic_id).
func DecodeCode(c ID) beaconcode.Code {
	return beaconcode.Code(c.Lower)
}

// Bytes renders an ID as its 16-byte big-endian wire form.
func (id ID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], id.Upper)
	binary.BigEndian.PutUint64(b[8:16], id.Lower)
	return b
}

// FromBytes parses a 16-byte big-endian wire form into an ID.
func FromBytes(b [16]byte) ID {
	return ID{
		Upper: binary.BigEndian.Uint64(b[0:8]),
		Lower: binary.BigEndian.Uint64(b[8:16]),
	}
}
