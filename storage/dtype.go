package storage

import (
	"encoding/binary"
	"fmt"
)

// DType tags the on-disk width and signedness of a column's elements.
// The compiler's write path (BuildIntColumn and friends) picks the
// narrowest DType for a column; the loader reads that choice back from
// the manifest's dtype tag.
type DType uint8

const (
	DTypeInt8 DType = iota
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
)

// Size returns the on-disk width in bytes of one element of d.
func (d DType) Size() int {
	switch d {
	case DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32:
		return 4
	case DTypeInt64, DTypeUint64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeInt8:
		return "i8"
	case DTypeInt16:
		return "i16"
	case DTypeInt32:
		return "i32"
	case DTypeInt64:
		return "i64"
	case DTypeUint8:
		return "u8"
	case DTypeUint16:
		return "u16"
	case DTypeUint32:
		return "u32"
	case DTypeUint64:
		return "u64"
	default:
		return "unknown"
	}
}

// ParseDType parses the file-extension tag used in the cache directory
// layout (spec.md §6) back into a DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "i8":
		return DTypeInt8, nil
	case "i16":
		return DTypeInt16, nil
	case "i32":
		return DTypeInt32, nil
	case "i64":
		return DTypeInt64, nil
	case "u8":
		return DTypeUint8, nil
	case "u16":
		return DTypeUint16, nil
	case "u32":
		return DTypeUint32, nil
	case "u64":
		return DTypeUint64, nil
	default:
		return 0, fmt.Errorf("storage: unknown dtype tag %q", s)
	}
}

// NarrowestSigned returns the narrowest signed DType whose range covers
// [lo, hi] plus room for one sentinel value immediately below lo (the
// sentinel convention used by IntColumn).
func NarrowestSigned(lo, hi int64) DType {
	fits := func(bits int) bool {
		min := -(int64(1) << uint(bits-1))
		max := int64(1)<<uint(bits-1) - 1
		// Reserve min as the sentinel, so real values must fit in (min, max].
		return lo > min && hi <= max
	}
	switch {
	case fits(8):
		return DTypeInt8
	case fits(16):
		return DTypeInt16
	case fits(32):
		return DTypeInt32
	default:
		return DTypeInt64
	}
}

// get reads the DType-sized element at byte offset idx*d.Size() from b
// and returns it widened to int64. Callers are responsible for bounds
// checking; get itself trusts len(b) >= (idx+1)*d.Size().
func (d DType) get(b []byte, idx int) int64 {
	off := idx * d.Size()
	switch d {
	case DTypeInt8:
		return int64(int8(b[off]))
	case DTypeUint8:
		return int64(b[off])
	case DTypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(b[off:])))
	case DTypeUint16:
		return int64(binary.LittleEndian.Uint16(b[off:]))
	case DTypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(b[off:])))
	case DTypeUint32:
		return int64(binary.LittleEndian.Uint32(b[off:]))
	case DTypeInt64:
		return int64(binary.LittleEndian.Uint64(b[off:]))
	case DTypeUint64:
		return int64(binary.LittleEndian.Uint64(b[off:]))
	default:
		panic(fmt.Sprintf("storage: unhandled dtype %d", d))
	}
}

// put writes v (already known to fit) at byte offset idx*d.Size() in b.
func (d DType) put(b []byte, idx int, v int64) {
	off := idx * d.Size()
	switch d {
	case DTypeInt8, DTypeUint8:
		b[off] = byte(v)
	case DTypeInt16, DTypeUint16:
		binary.LittleEndian.PutUint16(b[off:], uint16(v))
	case DTypeInt32, DTypeUint32:
		binary.LittleEndian.PutUint32(b[off:], uint32(v))
	case DTypeInt64, DTypeUint64:
		binary.LittleEndian.PutUint64(b[off:], uint64(v))
	default:
		panic(fmt.Sprintf("storage: unhandled dtype %d", d))
	}
}
