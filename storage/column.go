package storage

import (
	"fmt"

	"github.com/codykingham/context-fabric/cferr"
)

// NodeID identifies a node (slot or non-slot) in [1, maxNode]. It is
// the same width across every array the cache stores a node-indexed
// value in, so a CSR's Data entries can be compared directly against
// node ids without widening.
type NodeID uint32

// IntColumn is a flat, memory-mapped array of DType-sized signed
// integers, one entry per node id in [0, maxNode], where index 0 is
// always the reserved "no such node" slot and Sentinel marks "node is
// in range but has no value" for indices [1, maxNode].
type IntColumn struct {
	mapping  *Mapping
	dtype    DType
	sentinel int64
	maxNode  NodeID
}

// NewIntColumn wraps mapping as an IntColumn of the given dtype and
// sentinel, validating that the mapped length matches maxNode+1
// entries. A length mismatch is ErrCorruptCache (spec.md §4.1).
func NewIntColumn(mapping *Mapping, dtype DType, sentinel int64, maxNode NodeID) (*IntColumn, error) {
	want := int(maxNode+1) * dtype.Size()
	if mapping.Len() != want {
		return nil, fmt.Errorf("%w: int column length %d, want %d", cferr.ErrCorruptCache, mapping.Len(), want)
	}
	return &IntColumn{mapping: mapping, dtype: dtype, sentinel: sentinel, maxNode: maxNode}, nil
}

// Get returns the value at n and true, or (0, false) — ABSENT — when n
// is out of range or unset. It never panics on any n.
func (c *IntColumn) Get(n NodeID) (int64, bool) {
	if n == 0 || n > c.maxNode {
		return 0, false
	}
	v := c.dtype.get(c.mapping.Bytes(), int(n))
	if v == c.sentinel {
		return 0, false
	}
	return v, true
}

// FilterByValue returns the subset of nodes whose column value equals v.
func (c *IntColumn) FilterByValue(nodes []NodeID, v int64) []NodeID {
	return c.filter(nodes, func(got int64, ok bool) bool { return ok && got == v })
}

// FilterByValues returns the subset of nodes whose column value is a
// member of values.
func (c *IntColumn) FilterByValues(nodes []NodeID, values map[int64]struct{}) []NodeID {
	if len(values) == 0 {
		return nil
	}
	return c.filter(nodes, func(got int64, ok bool) bool {
		if !ok {
			return false
		}
		_, in := values[got]
		return in
	})
}

// FilterLessThan returns the subset of nodes with a present value < t.
func (c *IntColumn) FilterLessThan(nodes []NodeID, t int64) []NodeID {
	return c.filter(nodes, func(got int64, ok bool) bool { return ok && got < t })
}

// FilterGreaterThan returns the subset of nodes with a present value > t.
func (c *IntColumn) FilterGreaterThan(nodes []NodeID, t int64) []NodeID {
	return c.filter(nodes, func(got int64, ok bool) bool { return ok && got > t })
}

// FilterHasValue returns the subset of nodes with any present value.
func (c *IntColumn) FilterHasValue(nodes []NodeID) []NodeID {
	return c.filter(nodes, func(_ int64, ok bool) bool { return ok })
}

// FilterMissingValue returns the subset of nodes with no present value.
func (c *IntColumn) FilterMissingValue(nodes []NodeID) []NodeID {
	return c.filter(nodes, func(_ int64, ok bool) bool { return !ok })
}

func (c *IntColumn) filter(nodes []NodeID, pred func(v int64, ok bool) bool) []NodeID {
	out := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		v, ok := c.Get(n)
		if pred(v, ok) {
			out = append(out, n)
		}
	}
	return out
}

// MaxNode returns the highest node id this column covers.
func (c *IntColumn) MaxNode() NodeID { return c.maxNode }

// DType returns the column's on-disk element type.
func (c *IntColumn) DType() DType { return c.dtype }

// BuildIntColumn encodes data (a partial node->value map) into a flat
// byte slice of maxNode+1 entries at the narrowest dtype that covers
// data's value range, for the compiler's write path. It returns the
// encoded bytes, the chosen dtype, and the sentinel used.
func BuildIntColumn(data map[NodeID]int64, maxNode NodeID) ([]byte, DType, int64) {
	var lo, hi int64
	first := true
	for _, v := range data {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if first {
		// No values at all: degrade to the narrowest type (i8, sentinel
		// -128), every entry absent.
		lo, hi = 0, 0
	}
	dtype := NarrowestSigned(lo, hi)
	sentinel := minOf(dtype)
	buf := make([]byte, int(maxNode+1)*dtype.Size())
	for i := NodeID(0); i <= maxNode; i++ {
		dtype.put(buf, int(i), sentinel)
	}
	for n, v := range data {
		if n >= 1 && n <= maxNode {
			dtype.put(buf, int(n), v)
		}
	}
	return buf, dtype, sentinel
}

func minOf(d DType) int64 {
	switch d {
	case DTypeInt8:
		return -1 << 7
	case DTypeInt16:
		return -1 << 15
	case DTypeInt32:
		return -1 << 31
	default:
		return -1 << 63
	}
}
