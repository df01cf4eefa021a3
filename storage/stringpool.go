package storage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/codykingham/context-fabric/cferr"
)

// MissingStrIndex is the reserved pool code meaning "no value" (spec.md
// §4.2: index[n] == 0 means absent; strings[0] is the empty sentinel).
const MissingStrIndex = 0

// StringPool is a deduplicated string table plus a per-node index
// column mapping node ids to table entries. Strings[0] is always "".
type StringPool struct {
	strings []string
	byValue map[string]int64
	index   *Mapping
	idxType DType
	maxNode NodeID
}

// NewStringPool wraps an already-decoded strings table and a mapped
// index column. idxType must be one of the unsigned DTypes.
func NewStringPool(strings []string, index *Mapping, idxType DType, maxNode NodeID) (*StringPool, error) {
	want := int(maxNode+1) * idxType.Size()
	if index.Len() != want {
		return nil, fmt.Errorf("%w: string pool index length %d, want %d", cferr.ErrCorruptCache, index.Len(), want)
	}
	if len(strings) == 0 || strings[0] != "" {
		return nil, fmt.Errorf("%w: string pool missing empty sentinel at index 0", cferr.ErrCorruptCache)
	}
	byValue := make(map[string]int64, len(strings))
	for i, s := range strings {
		if i == 0 {
			continue
		}
		byValue[s] = int64(i)
	}
	return &StringPool{strings: strings, byValue: byValue, index: index, idxType: idxType, maxNode: maxNode}, nil
}

// Get returns the string value of n and true, or ("", false) — ABSENT —
// for an out-of-range or unset node. Never panics.
func (p *StringPool) Get(n NodeID) (string, bool) {
	if n == 0 || n > p.maxNode {
		return "", false
	}
	idx := p.idxType.get(p.index.Bytes(), int(n))
	if idx == MissingStrIndex {
		return "", false
	}
	if int(idx) >= len(p.strings) {
		return "", false
	}
	return p.strings[idx], true
}

// GetValueIndex resolves s to its pool code, or (0, false) if s was
// never stored. Predicates use this to resolve a query string once and
// then scan the index column as an ordinary integer column.
func (p *StringPool) GetValueIndex(s string) (int64, bool) {
	idx, ok := p.byValue[s]
	return idx, ok
}

// FilterByValue returns the subset of nodes whose string value equals s.
func (p *StringPool) FilterByValue(nodes []NodeID, s string) []NodeID {
	idx, ok := p.GetValueIndex(s)
	if !ok {
		return nil
	}
	return p.filterByIndex(nodes, idx)
}

// FilterByValues returns the subset of nodes whose string value is a
// member of values.
func (p *StringPool) FilterByValues(nodes []NodeID, values map[string]struct{}) []NodeID {
	if len(values) == 0 {
		return nil
	}
	resolved := make(map[int64]struct{}, len(values))
	for s := range values {
		if idx, ok := p.GetValueIndex(s); ok {
			resolved[idx] = struct{}{}
		}
	}
	if len(resolved) == 0 {
		return nil
	}
	out := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		if n == 0 || n > p.maxNode {
			continue
		}
		idx := p.idxType.get(p.index.Bytes(), int(n))
		if idx == MissingStrIndex {
			continue
		}
		if _, in := resolved[idx]; in {
			out = append(out, n)
		}
	}
	return out
}

func (p *StringPool) filterByIndex(nodes []NodeID, idx int64) []NodeID {
	out := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		if n == 0 || n > p.maxNode {
			continue
		}
		if p.idxType.get(p.index.Bytes(), int(n)) == idx {
			out = append(out, n)
		}
	}
	return out
}

// Strings returns the deduplicated string table (index 0 is always "").
func (p *StringPool) Strings() []string { return p.strings }

// BuildStringPool encodes data (a partial node->string map) into a
// deduplicated string table, in first-seen order by ascending node id,
// plus a narrow unsigned
// index column, for the compiler's write path. Dedup uses xxhash.Sum64
// to bucket candidates before an exact compare, giving expected O(1)
// lookup without assuming the hash is collision-free.
func BuildStringPool(data map[NodeID]string, maxNode NodeID) (strings []string, indexBytes []byte, idxType DType) {
	strings = []string{""}
	seen := make(map[uint64][]int, len(data))
	seen[xxhash.Sum64String("")] = []int{0}
	lookup := func(s string) (int, bool) {
		h := xxhash.Sum64String(s)
		for _, i := range seen[h] {
			if strings[i] == s {
				return i, true
			}
		}
		return 0, false
	}
	intern := func(s string) int {
		if i, ok := lookup(s); ok {
			return i
		}
		i := len(strings)
		strings = append(strings, s)
		seen[xxhash.Sum64String(s)] = append(seen[xxhash.Sum64String(s)], i)
		return i
	}

	// Walk nodes in ascending id order so first-seen order, and with it
	// the encoded output, does not depend on map iteration order.
	codes := make(map[NodeID]int, len(data))
	for n := NodeID(1); n <= maxNode; n++ {
		if s, ok := data[n]; ok {
			codes[n] = intern(s)
		}
	}

	idxType = narrowestUnsigned(int64(len(strings) - 1))
	indexBytes = make([]byte, int(maxNode+1)*idxType.Size())
	for n, code := range codes {
		idxType.put(indexBytes, int(n), int64(code))
	}
	return strings, indexBytes, idxType
}

// narrowestUnsigned returns the narrowest unsigned DType that can
// represent every value in [0, maxValue].
func narrowestUnsigned(maxValue int64) DType {
	switch {
	case maxValue <= 0xFF:
		return DTypeUint8
	case maxValue <= 0xFFFF:
		return DTypeUint16
	case maxValue <= 0xFFFFFFFF:
		return DTypeUint32
	default:
		return DTypeUint64
	}
}
