package format

import "encoding/binary"

// Every on-disk field of a pool is little-endian regardless of the host byte
// order, so a pool file can be moved between machines.
var le = binary.LittleEndian

// Fixed-width accessors. Offsets are relative to b; callers bounds-check.

func PutU8(b []byte, off int, v uint8)   { b[off] = v }
func PutU16(b []byte, off int, v uint16) { le.PutUint16(b[off:], v) }
func PutU32(b []byte, off int, v uint32) { le.PutUint32(b[off:], v) }
func PutU64(b []byte, off int, v uint64) { le.PutUint64(b[off:], v) }
func PutI32(b []byte, off int, v int32)  { le.PutUint32(b[off:], uint32(v)) }
func PutI64(b []byte, off int, v int64)  { le.PutUint64(b[off:], uint64(v)) }

func ReadU8(b []byte, off int) uint8   { return b[off] }
func ReadU16(b []byte, off int) uint16 { return le.Uint16(b[off:]) }
func ReadU32(b []byte, off int) uint32 { return le.Uint32(b[off:]) }
func ReadU64(b []byte, off int) uint64 { return le.Uint64(b[off:]) }
func ReadI32(b []byte, off int) int32  { return int32(le.Uint32(b[off:])) }
func ReadI64(b []byte, off int) int64  { return int64(le.Uint64(b[off:])) }

// PutUint writes the low width bytes of v at off. Width must be 1, 2, 4 or 8.
func PutUint(b []byte, off int, width int, v uint64) bool {
	switch width {
	case 1:
		b[off] = uint8(v)
	case 2:
		PutU16(b, off, uint16(v))
	case 4:
		PutU32(b, off, uint32(v))
	case 8:
		PutU64(b, off, v)
	default:
		return false
	}
	return true
}

// ReadUint reads a width-byte unsigned integer at off. Width must be 1, 2, 4 or 8.
func ReadUint(b []byte, off int, width int) (uint64, bool) {
	switch width {
	case 1:
		return uint64(b[off]), true
	case 2:
		return uint64(ReadU16(b, off)), true
	case 4:
		return uint64(ReadU32(b, off)), true
	case 8:
		return ReadU64(b, off), true
	}
	return 0, false
}
