package storage

import (
	"fmt"
	"sort"
)

// EdgeValueKind distinguishes whether a CSRWithValues' parallel Values
// array holds integer codes or string-pool codes.
type EdgeValueKind uint8

const (
	EdgeValueInt EdgeValueKind = iota
	EdgeValueString
)

// CSRWithValues adds a parallel Values array to CSR, one entry per
// Data entry, carrying either an integer or a string-pool code per
// edge. Valueless edge features use a plain CSR instead — the manifest
// decides which, and the two are never mixed at runtime (spec.md §9).
type CSRWithValues struct {
	*CSR
	values       *Mapping
	valuesCached bool
	valueKind    EdgeValueKind
	intDType     DType    // valid when valueKind == EdgeValueInt
	intSent      int64    // sentinel for missing int value, if any
	strings      []string // valid when valueKind == EdgeValueString
}

// NewCSRWithValuesInt wraps a CSR plus an integer Values column.
func NewCSRWithValuesInt(base *CSR, values *Mapping, dtype DType, sentinel int64) (*CSRWithValues, error) {
	wantLen := int(base.offsetAt(base.numRows)) * dtype.Size()
	if values.Len() != wantLen {
		return nil, fmt.Errorf("csr values length %d, want %d", values.Len(), wantLen)
	}
	return &CSRWithValues{CSR: base, values: values, valueKind: EdgeValueInt, intDType: dtype, intSent: sentinel}, nil
}

// NewCSRWithValuesString wraps a CSR plus a string-pool-coded Values
// column (dtype is the narrow unsigned width of the code array).
func NewCSRWithValuesString(base *CSR, values *Mapping, dtype DType, strings []string) (*CSRWithValues, error) {
	wantLen := int(base.offsetAt(base.numRows)) * dtype.Size()
	if values.Len() != wantLen {
		return nil, fmt.Errorf("csr values length %d, want %d", values.Len(), wantLen)
	}
	return &CSRWithValues{CSR: base, values: values, valueKind: EdgeValueString, intDType: dtype, strings: strings}, nil
}

// RowValuesRaw returns the (targets, values-as-int64) pair for source node
// n. For string-valued edges, values are the raw pool codes; use
// ValueAt/GetAsDict for resolved strings.
func (c *CSRWithValues) RowValuesRaw(n NodeID) ([]uint32, []int64) {
	if n == 0 {
		return nil, nil
	}
	row := n - 1
	if int(row) >= c.numRows {
		return nil, nil
	}
	start := int(c.offsetAt(int(row)))
	end := int(c.offsetAt(int(row) + 1))
	targets := c.Row(int(row))
	vals := make([]int64, end-start)
	for i := range vals {
		vals[i] = c.intDType.get(c.values.Bytes(), start+i)
	}
	return targets, vals
}

// GetAsDict materializes {target: value} for node n, resolving string
// values through the pool. Values are ABSENT (nil interface) when the
// int sentinel or the string missing-code is hit.
func (c *CSRWithValues) GetAsDict(n NodeID) map[uint32]interface{} {
	targets, raw := c.RowValuesRaw(n)
	out := make(map[uint32]interface{}, len(targets))
	for i, t := range targets {
		switch c.valueKind {
		case EdgeValueInt:
			if raw[i] == c.intSent {
				out[t] = nil
			} else {
				out[t] = raw[i]
			}
		case EdgeValueString:
			if raw[i] == MissingStrIndex || int(raw[i]) >= len(c.strings) {
				out[t] = nil
			} else {
				out[t] = c.strings[raw[i]]
			}
		}
	}
	return out
}

// IsCached reports whether PreloadToRAM has run for Offsets/Data and
// for Values since the last ReleaseCache. It overrides the
// embedded CSR's IsCached, which knows nothing about the separate
// Values mapping.
func (c *CSRWithValues) IsCached() bool { return c.CSR.IsCached() && c.valuesCached }

// MemoryUsageBytes returns the RAM-preload footprint of Offsets, Data,
// and Values together, or 0 when neither is preloaded.
func (c *CSRWithValues) MemoryUsageBytes() int {
	n := c.CSR.MemoryUsageBytes()
	if c.valuesCached {
		n += c.values.Len()
	}
	return n
}

// PreloadToRAM copies Offsets/Data (via the embedded CSR) and Values
// into anonymous memory so hot loops bypass the mmap. Idempotent.
func (c *CSRWithValues) PreloadToRAM() {
	c.CSR.PreloadToRAM()
	if c.valuesCached {
		return
	}
	c.values = c.values.Preload()
	c.valuesCached = true
}

// ReleaseCache clears the cached state of Offsets/Data/Values, so
// IsCached reports false and MemoryUsageBytes reports 0. As with
// CSR.ReleaseCache, the arrays stay on their RAM copies; the original
// memory mappings are not restored. It is the
// caller's responsibility to not overlap this with in-flight queries
// (spec.md §5).
func (c *CSRWithValues) ReleaseCache() {
	c.CSR.ReleaseCache()
	c.valuesCached = false
}

// BuildCSRWithValuesInt encodes data (source -> {target: value}) into
// CSR offsets/data plus a parallel int Values array, sorted ascending
// by target within each row, for the compiler's write path.
func BuildCSRWithValuesInt(data map[NodeID]map[uint32]int64, numRows int) (offsets, csrData, values []byte, dtype DType, sentinel int64) {
	seqs := make([][]uint32, numRows)
	var lo, hi int64
	first := true
	for n, row := range data {
		if n == 0 || int(n) > numRows {
			continue
		}
		for _, v := range row {
			if first {
				lo, hi = v, v
				first = false
			} else {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
		}
	}
	if first {
		lo, hi = 0, 0
	}
	dtype = NarrowestSigned(lo, hi)
	sentinel = minOf(dtype)

	for n, row := range data {
		if n == 0 || int(n) > numRows {
			continue
		}
		targets := make([]uint32, 0, len(row))
		for t := range row {
			targets = append(targets, t)
		}
		sort.Slice(targets, func(a, b int) bool { return targets[a] < targets[b] })
		seqs[int(n)-1] = targets
	}
	offsets, csrData = BuildCSR(seqs, false)

	var flatVals []int64
	for i := 0; i < numRows; i++ {
		n := NodeID(i + 1)
		row := data[n]
		for _, t := range seqs[i] {
			flatVals = append(flatVals, row[t])
		}
	}
	values = make([]byte, len(flatVals)*dtype.Size())
	for i, v := range flatVals {
		dtype.put(values, i, v)
	}
	return offsets, csrData, values, dtype, sentinel
}

// BuildCSRWithValuesString encodes data (source -> {target: value}) into
// CSR offsets/data plus a parallel string-pool-coded Values array,
// sorted ascending by target within each row. The returned strings table
// is deduplicated in first-seen order (rows in node order, targets
// ascending) and, as in BuildStringPool, "" maps to the missing code 0.
// The table is local to this call, i.e. to one edge feature: identical
// strings across that feature's edges intern to the same code.
func BuildCSRWithValuesString(data map[NodeID]map[uint32]string, numRows int) (offsets, csrData, values []byte, dtype DType, strings []string) {
	seqs := make([][]uint32, numRows)
	for n, row := range data {
		if n == 0 || int(n) > numRows {
			continue
		}
		targets := make([]uint32, 0, len(row))
		for t := range row {
			targets = append(targets, t)
		}
		sort.Slice(targets, func(a, b int) bool { return targets[a] < targets[b] })
		seqs[int(n)-1] = targets
	}
	offsets, csrData = BuildCSR(seqs, false)

	strings = []string{""}
	codeOf := map[string]int{"": MissingStrIndex}
	intern := func(s string) int {
		if i, ok := codeOf[s]; ok {
			return i
		}
		i := len(strings)
		strings = append(strings, s)
		codeOf[s] = i
		return i
	}

	var flatVals []int64
	for i := 0; i < numRows; i++ {
		n := NodeID(i + 1)
		row := data[n]
		for _, t := range seqs[i] {
			flatVals = append(flatVals, int64(intern(row[t])))
		}
	}
	dtype = narrowestUnsigned(int64(len(strings) - 1))
	values = make([]byte, len(flatVals)*dtype.Size())
	for i, v := range flatVals {
		dtype.put(values, i, v)
	}
	return offsets, csrData, values, dtype, strings
}
