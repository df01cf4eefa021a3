// Package locality implements the L navigation API: containers (u),
// contained nodes (d), and ordered siblings (n, p) over the containment
// and ordering structure built by embed and schema.
package locality

import (
	"sort"

	"github.com/tidwall/btree"

	"github.com/codykingham/context-fabric/embed"
	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// L is the locality navigation handle. It is stateless beyond its
// wrapped dependencies and safe for concurrent read-only use within one
// process (no locks needed — spec.md §5).
type L struct {
	types *schema.TypeTable
	spans *schema.SpanTable
	index *embed.Index

	// typesByFirstID orders type ranges by FirstID so resolving the
	// otype of an arbitrary node id (used when a caller passes no type
	// filter to N/P and the pivot's own type must be found) is a
	// Descend-from-pivot lookup rather than a linear scan of Ranges.
	typesByFirstID *btree.BTreeG[schema.TypeRange]
}

// New builds an L over already-loaded types/spans/embedding index.
func New(types *schema.TypeTable, spans *schema.SpanTable, index *embed.Index) *L {
	bt := btree.NewBTreeG(func(a, b schema.TypeRange) bool { return a.FirstID < b.FirstID })
	for _, r := range types.Ranges {
		bt.Set(r)
	}
	return &L{types: types, spans: spans, index: index, typesByFirstID: bt}
}

// rangeContaining finds the TypeRange whose [FirstID, LastID] contains
// n, via a Descend from the pivot (the range with the largest FirstID
// not greater than n) rather than scanning every declared type.
func (l *L) rangeContaining(n storage.NodeID) (schema.TypeRange, bool) {
	var found schema.TypeRange
	ok := false
	l.typesByFirstID.Descend(schema.TypeRange{FirstID: n}, func(r schema.TypeRange) bool {
		found = r
		ok = true
		return false // first hit (largest FirstID <= n) is the only candidate
	})
	if !ok || n < found.FirstID || n > found.LastID {
		return schema.TypeRange{}, false
	}
	return found, true
}

// U returns the containers of n: every ancestor at every higher level,
// not just the adjacent one (spec.md §4.5 "at each higher level"),
// found by walking levUp breadth-first. Without a type filter every
// ancestor is returned, in ascending level order. With a type filter
// only ancestors of that type are kept, sorted by node id.
func (l *L) U(n storage.NodeID, t string) []storage.NodeID {
	out := l.walkLevels(n, t, l.index.LevUpRow)
	if t == "" {
		sortByLevelAscending(out, l.types)
		return out
	}
	sortByNodeID(out)
	return out
}

// D returns the contained nodes of n: every descendant at every lower
// level, found by walking levDown breadth-first since the type (or, with
// no filter, the deepest reachable level) may be more than one level
// below n. Without a type filter every descendant is returned, in
// descending level order. With a type filter only descendants of that
// type are kept, in slot order, tie-broken on node id.
func (l *L) D(n storage.NodeID, t string) []storage.NodeID {
	out := l.walkLevels(n, t, l.index.LevDownRow)
	if t == "" {
		sortByLevelDescending(out, l.types)
		return out
	}
	sortBySlotThenNodeID(out, l.spans)
	return out
}

// walkLevels walks rowFn (LevUpRow or LevDownRow) breadth-first from n,
// collecting every reachable node — optionally restricted to type t —
// across every level the walk passes through, not just the first hop.
func (l *L) walkLevels(n storage.NodeID, t string, rowFn func(storage.NodeID) []uint32) []storage.NodeID {
	var out []storage.NodeID
	seen := map[storage.NodeID]struct{}{n: {}}
	frontier := []storage.NodeID{n}
	for len(frontier) > 0 {
		var next []storage.NodeID
		for _, cur := range frontier {
			for _, m32 := range rowFn(cur) {
				m := storage.NodeID(m32)
				if _, dup := seen[m]; dup {
					continue
				}
				seen[m] = struct{}{}
				if t == "" {
					out = append(out, m)
				} else if otype, ok := l.types.OType(m); ok && otype == t {
					out = append(out, m)
				}
				next = append(next, m)
			}
		}
		frontier = next
	}
	return out
}

// N returns the next sibling(s): nodes of the same type as n (or of
// type t) whose minSlot is strictly greater than maxSlot(n) and minimal
// among such. Empty at the end of the corpus.
func (l *L) N(n storage.NodeID, t string) []storage.NodeID {
	return l.sibling(n, t, true)
}

// P returns the previous sibling(s), the mirror of N.
func (l *L) P(n storage.NodeID, t string) []storage.NodeID {
	return l.sibling(n, t, false)
}

func (l *L) sibling(n storage.NodeID, t string, next bool) []storage.NodeID {
	typ := t
	if typ == "" {
		switch {
		case n >= 1 && n <= l.types.MaxSlot:
			typ = schema.SlotType
		default:
			r, ok := l.rangeContaining(n)
			if !ok {
				return nil
			}
			typ = r.Name
		}
	}
	minSlot, maxSlot, ok := l.spans.Span(n)
	if !ok {
		return nil
	}

	var first, last storage.NodeID
	if typ == schema.SlotType {
		first, last = 1, l.types.MaxSlot
	} else {
		r, ok := l.types.RangeForType(typ)
		if !ok {
			return nil
		}
		first, last = r.FirstID, r.LastID
	}

	return l.siblingScan(first, last, n, minSlot, maxSlot, next)
}

// siblingScan finds, among [first,last] excluding n, the node(s) minimal
// (for next) or maximal (for previous) in minSlot/maxSlot among those
// qualifying relative to n's own (pivotMinSlot, pivotMaxSlot).
func (l *L) siblingScan(first, last, n, pivotMinSlot, pivotMaxSlot storage.NodeID, next bool) []storage.NodeID {
	type cand struct {
		id  storage.NodeID
		key storage.NodeID
	}
	var best *cand
	for id := first; id <= last; id++ {
		if id == n {
			continue
		}
		mn, mx, ok := l.spans.Span(id)
		if !ok {
			continue
		}
		if next {
			if mn <= pivotMaxSlot {
				continue
			}
			if best == nil || mn < best.key {
				best = &cand{id, mn}
			}
		} else {
			if mx >= pivotMinSlot {
				continue
			}
			if best == nil || mx > best.key {
				best = &cand{id, mx}
			}
		}
	}
	if best == nil {
		return nil
	}
	// Collect every node sharing best's key, per spec's "minimal among
	// such" (plural) — ties on the boundary slot are possible when
	// multiple nodes of the same type start/end at the same slot.
	var out []storage.NodeID
	for id := first; id <= last; id++ {
		if id == n {
			continue
		}
		mn, mx, ok := l.spans.Span(id)
		if !ok {
			continue
		}
		if next && mn == best.key {
			out = append(out, id)
		}
		if !next && mx == best.key {
			out = append(out, id)
		}
	}
	sortByNodeID(out)
	return out
}

func sortByNodeID(nodes []storage.NodeID) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
}

func sortByLevelAscending(nodes []storage.NodeID, types *schema.TypeTable) {
	sort.Slice(nodes, func(i, j int) bool {
		li, _ := types.Level(nodes[i])
		lj, _ := types.Level(nodes[j])
		if li != lj {
			return li < lj
		}
		return nodes[i] < nodes[j]
	})
}

func sortByLevelDescending(nodes []storage.NodeID, types *schema.TypeTable) {
	sort.Slice(nodes, func(i, j int) bool {
		li, _ := types.Level(nodes[i])
		lj, _ := types.Level(nodes[j])
		if li != lj {
			return li > lj
		}
		return nodes[i] < nodes[j]
	})
}

func sortBySlotThenNodeID(nodes []storage.NodeID, spans *schema.SpanTable) {
	sort.Slice(nodes, func(i, j int) bool {
		mi, _, _ := spans.Span(nodes[i])
		mj, _, _ := spans.Span(nodes[j])
		if mi != mj {
			return mi < mj
		}
		return nodes[i] < nodes[j]
	})
}
