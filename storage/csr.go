package storage

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/codykingham/context-fabric/cferr"
)

// CSR is a compressed-sparse-row adjacency structure: row i (0-indexed)
// holds Data[Offsets[i]:Offsets[i+1]]. By the spec's node-id convention,
// row i corresponds to source node id i+1 (node ids are 1-indexed; see
// DESIGN.md's grounding on test_csr.py::test_get_all_targets_simple).
type CSR struct {
	offsets *Mapping // []uint64, len = numRows+1
	data    *Mapping // []uint32, len = offsets[numRows]
	numRows int
	cached  bool
}

// NewCSR wraps already-mapped offsets/data arrays. It validates that
// Offsets is monotone non-decreasing and has numRows+1 entries.
func NewCSR(offsets, data *Mapping, numRows int) (*CSR, error) {
	if offsets.Len() != (numRows+1)*8 {
		return nil, fmt.Errorf("%w: csr offsets length %d, want %d", cferr.ErrCorruptCache, offsets.Len(), (numRows+1)*8)
	}
	c := &CSR{offsets: offsets, data: data, numRows: numRows}
	prev := c.offsetAt(0)
	for i := 1; i <= numRows; i++ {
		cur := c.offsetAt(i)
		if cur < prev {
			return nil, fmt.Errorf("%w: csr offsets not monotone at row %d", cferr.ErrCorruptCache, i)
		}
		prev = cur
	}
	if data.Len() != int(c.offsetAt(numRows))*4 {
		return nil, fmt.Errorf("%w: csr data length %d, want %d", cferr.ErrCorruptCache, data.Len(), int(c.offsetAt(numRows))*4)
	}
	return c, nil
}

func (c *CSR) offsetAt(i int) uint64 {
	return uint64(DTypeUint64.get(c.offsets.Bytes(), i))
}

// Len returns the number of rows.
func (c *CSR) Len() int { return c.numRows }

// Row returns a freshly allocated copy of row i's targets (0-indexed). Returns
// nil for an out-of-bounds i, never panics.
func (c *CSR) Row(i int) []uint32 {
	if i < 0 || i >= c.numRows {
		return nil
	}
	start := c.offsetAt(i)
	end := c.offsetAt(i + 1)
	if start == end {
		return nil
	}
	raw := c.data.Bytes()
	out := make([]uint32, end-start)
	for k := range out {
		off := (int(start) + k) * 4
		out[k] = uint32FromLE(raw[off:])
	}
	return out
}

// RowForNode returns the row for source node id n (n is 1-indexed; row
// n-1). Out-of-range n yields an empty row.
func (c *CSR) RowForNode(n NodeID) []uint32 {
	if n == 0 {
		return nil
	}
	return c.Row(int(n) - 1)
}

// GetAsTuple is an alias for Row kept for API parity with the
// original's get_as_tuple; it returns an owned copy so callers can hold
// onto it past the CSR's lifetime.
func (c *CSR) GetAsTuple(i int) []uint32 {
	return c.Row(i)
}

// GetAllTargets returns the union of Row(n-1) over every source node id
// n in sources. Out-of-range source ids are silently ignored.
func (c *CSR) GetAllTargets(sources map[NodeID]struct{}) map[uint32]struct{} {
	bm := roaring.New()
	for n := range sources {
		for _, t := range c.RowForNode(n) {
			bm.Add(t)
		}
	}
	out := make(map[uint32]struct{}, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out[it.Next()] = struct{}{}
	}
	return out
}

// FilterSourcesWithTargetsIn streams each source's row and checks
// intersection with targets. A source is added to matchedSources on its
// first hit in a row; the row is still scanned to completion so every
// target value it hits is recorded, since callers need the full
// matched-target set as often as they need the matched-source set.
func (c *CSR) FilterSourcesWithTargetsIn(sources map[NodeID]struct{}, targets map[uint32]struct{}) (map[NodeID]struct{}, map[uint32]struct{}) {
	wantedTargets := roaring.New()
	for t := range targets {
		wantedTargets.Add(t)
	}
	matchedSources := make(map[NodeID]struct{})
	matchedTargets := make(map[uint32]struct{})
	for n := range sources {
		hit := false
		for _, t := range c.RowForNode(n) {
			if !wantedTargets.Contains(t) {
				continue
			}
			if !hit {
				matchedSources[n] = struct{}{}
				hit = true
			}
			matchedTargets[t] = struct{}{}
		}
	}
	return matchedSources, matchedTargets
}

// IsCached reports whether PreloadToRAM has run since the last
// ReleaseCache.
func (c *CSR) IsCached() bool { return c.cached }

// MemoryUsageBytes returns the RAM-preload footprint, or 0 when IsCached
// is false (preload is a pure optimization; mapped and preloaded CSRs
// answer every query identically).
func (c *CSR) MemoryUsageBytes() int {
	if !c.cached {
		return 0
	}
	return c.offsets.Len() + c.data.Len()
}

// PreloadToRAM copies Offsets/Data into anonymous memory so hot loops
// bypass the mmap. Idempotent.
func (c *CSR) PreloadToRAM() {
	if c.cached {
		return
	}
	c.offsets = c.offsets.Preload()
	c.data = c.data.Preload()
	c.cached = true
}

// ReleaseCache clears the cached state, so IsCached reports false and
// MemoryUsageBytes reports 0. The arrays stay on the RAM copy that
// PreloadToRAM made; the original memory mapping is not restored. It is
// the caller's responsibility to not overlap this with in-flight queries
// (spec.md §5).
func (c *CSR) ReleaseCache() {
	c.cached = false
}

// BuildCSR encodes sequences (one per row, in row order) into flat
// Offsets/Data byte slices, sorting each row ascending and removing
// duplicates when sorted is true (used for embeddings and valueless
// edges; ordered edges such as reading-order children pass sorted=false
// to preserve insertion order).
func BuildCSR(sequences [][]uint32, sorted bool) (offsets []byte, data []byte) {
	offsetVals := make([]uint64, len(sequences)+1)
	var flat []uint32
	for i, row := range sequences {
		r := row
		if sorted {
			r = append([]uint32(nil), row...)
			sort.Slice(r, func(a, b int) bool { return r[a] < r[b] })
			r = dedupSorted(r)
		}
		flat = append(flat, r...)
		offsetVals[i+1] = offsetVals[i] + uint64(len(r))
	}
	offsets = make([]byte, len(offsetVals)*8)
	for i, v := range offsetVals {
		DTypeUint64.put(offsets, i, int64(v))
	}
	data = make([]byte, len(flat)*4)
	for i, v := range flat {
		putUint32LE(data[i*4:], v)
	}
	return offsets, data
}

func dedupSorted(s []uint32) []uint32 {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func uint32FromLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
