// Package schema holds the per-node type/level and span tables that
// sit underneath both the embedding index and locality navigation:
// otype[n], level(type), and (minSlot(n), maxSlot(n)).
package schema

import (
	"fmt"
	"sort"

	"github.com/codykingham/context-fabric/cferr"
	"github.com/codykingham/context-fabric/storage"
)

// SlotType is the reserved otype name shared by every slot id.
const SlotType = "slot"

// TypeRange describes one non-slot type's dense, contiguous id range
// and its level. Types that share a level are not ordered by name;
// locality's level-ordered results break such ties on node id.
type TypeRange struct {
	Name    string
	Level   int
	FirstID storage.NodeID
	LastID  storage.NodeID // inclusive
}

// TypeTable maps node ids to otype names and types to their level and
// range, plus the level every slot is assigned (always the deepest,
// i.e. the highest level index, by convention).
type TypeTable struct {
	MaxSlot storage.NodeID
	MaxNode storage.NodeID
	// Ranges is sorted by FirstID ascending; non-slot type ranges are
	// contiguous and exhaustive over (maxSlot, maxNode].
	Ranges []TypeRange
	// SlotLevel is one past the deepest non-slot level, so slots sort
	// last in level order as spec.md §3 requires.
	SlotLevel int
}

// NewTypeTable validates that ranges are contiguous, non-overlapping,
// and exhaustive over (maxSlot, maxNode], and that levels are monotone
// with range order (spec.md §3: "type→range is monotone in level").
func NewTypeTable(maxSlot, maxNode storage.NodeID, ranges []TypeRange) (*TypeTable, error) {
	sorted := append([]TypeRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FirstID < sorted[j].FirstID })

	expect := maxSlot + 1
	maxLevel := 0
	dir := 0 // sign of the level changes seen so far along range order
	for i, r := range sorted {
		if r.FirstID != expect {
			return nil, fmt.Errorf("%w: type %q starts at %d, want %d", cferr.ErrCorruptCache, r.Name, r.FirstID, expect)
		}
		if r.LastID < r.FirstID {
			return nil, fmt.Errorf("%w: type %q has empty range", cferr.ErrCorruptCache, r.Name)
		}
		if i > 0 && r.Level != sorted[i-1].Level {
			d := 1
			if r.Level < sorted[i-1].Level {
				d = -1
			}
			if dir != 0 && d != dir {
				return nil, fmt.Errorf("%w: type %q level %d is not monotone with range order", cferr.ErrCorruptCache, r.Name, r.Level)
			}
			dir = d
		}
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
		expect = r.LastID + 1
	}
	if expect != maxNode+1 {
		return nil, fmt.Errorf("%w: type ranges cover up to %d, want %d", cferr.ErrCorruptCache, expect-1, maxNode)
	}
	return &TypeTable{
		MaxSlot:   maxSlot,
		MaxNode:   maxNode,
		Ranges:    sorted,
		SlotLevel: maxLevel + 1,
	}, nil
}

// OType returns the otype name of n, or ("", false) for an out-of-range
// node id.
func (t *TypeTable) OType(n storage.NodeID) (string, bool) {
	if n == 0 || n > t.MaxNode {
		return "", false
	}
	if n <= t.MaxSlot {
		return SlotType, true
	}
	// Ranges are sorted and contiguous: binary search for the range
	// whose FirstID <= n <= LastID.
	i := sort.Search(len(t.Ranges), func(i int) bool { return t.Ranges[i].LastID >= n })
	if i < len(t.Ranges) && t.Ranges[i].FirstID <= n {
		return t.Ranges[i].Name, true
	}
	return "", false
}

// Level returns the level of n's type, or (-1, false) for out-of-range.
func (t *TypeTable) Level(n storage.NodeID) (int, bool) {
	if n == 0 || n > t.MaxNode {
		return -1, false
	}
	if n <= t.MaxSlot {
		return t.SlotLevel, true
	}
	i := sort.Search(len(t.Ranges), func(i int) bool { return t.Ranges[i].LastID >= n })
	if i < len(t.Ranges) && t.Ranges[i].FirstID <= n {
		return t.Ranges[i].Level, true
	}
	return -1, false
}

// RangeForType returns the TypeRange named typ, if declared.
func (t *TypeTable) RangeForType(typ string) (TypeRange, bool) {
	for _, r := range t.Ranges {
		if r.Name == typ {
			return r, true
		}
	}
	return TypeRange{}, false
}

// SpanTable holds the precomputed (minSlot, maxSlot) locality filter
// for every node.
type SpanTable struct {
	min *storage.IntColumn
	max *storage.IntColumn
}

// NewSpanTable wraps already-loaded min/max columns.
func NewSpanTable(min, max *storage.IntColumn) *SpanTable {
	return &SpanTable{min: min, max: max}
}

// Span returns (minSlot, maxSlot) for n, or (0,0,false) out of range.
func (s *SpanTable) Span(n storage.NodeID) (storage.NodeID, storage.NodeID, bool) {
	mn, ok := s.min.Get(n)
	if !ok {
		return 0, 0, false
	}
	mx, ok := s.max.Get(n)
	if !ok {
		return 0, 0, false
	}
	return storage.NodeID(mn), storage.NodeID(mx), true
}

// BuildSpans computes (minSlot, maxSlot) for every node from an
// explicit node->slots mapping (slots themselves span only themselves).
// It is the compiler's job to supply this from the authored source; the
// spec allows non-contiguous spans, so the full slot set, not just
// (min,max), must be known elsewhere (e.g. a containment edge) — this
// function only derives the conservative (min,max) filter.
func BuildSpans(maxSlot, maxNode storage.NodeID, nodeSlots map[storage.NodeID][]storage.NodeID) (minData, maxData map[storage.NodeID]int64) {
	minData = make(map[storage.NodeID]int64, maxNode)
	maxData = make(map[storage.NodeID]int64, maxNode)
	for s := storage.NodeID(1); s <= maxSlot; s++ {
		minData[s] = int64(s)
		maxData[s] = int64(s)
	}
	for n, slots := range nodeSlots {
		if len(slots) == 0 {
			continue
		}
		mn, mx := slots[0], slots[0]
		for _, s := range slots[1:] {
			if s < mn {
				mn = s
			}
			if s > mx {
				mx = s
			}
		}
		minData[n] = int64(mn)
		maxData[n] = int64(mx)
	}
	return minData, maxData
}
