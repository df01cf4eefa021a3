// Package embed derives and serves the levUp/levDown embedding index:
// for every node, its immediate containers (levUp) and immediate
// contained nodes (levDown) at the adjacent level, stored as CSRs.
package embed

import (
	"sync"

	"github.com/codykingham/context-fabric/config"
	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// Index wraps the levUp/levDown CSRs and applies the process-wide
// preload policy (spec.md §4.4).
type Index struct {
	LevUp   *storage.CSR
	LevDown *storage.CSR

	mode config.EmbeddingCacheMode
	once sync.Once
}

// NewIndex wires levUp/levDown and applies mode (the caller passes the
// already-normalized result of Config.PreloadMode): EmbeddingCacheOn
// preloads both immediately; EmbeddingCacheOff never auto-preloads;
// EmbeddingCacheLazy defers the RAM copy until the first LevUpRow or
// LevDownRow call. Manual PreloadAll/ReleaseAll always work regardless
// of mode.
func NewIndex(levUp, levDown *storage.CSR, mode config.EmbeddingCacheMode) *Index {
	idx := &Index{LevUp: levUp, LevDown: levDown, mode: mode}
	if idx.mode == config.EmbeddingCacheOn {
		idx.PreloadAll()
		idx.once.Do(func() {}) // mark as already "used" so lazy logic never re-fires
	}
	return idx
}

// PreloadAll copies both CSRs' arrays into RAM. Idempotent.
func (idx *Index) PreloadAll() {
	idx.LevUp.PreloadToRAM()
	idx.LevDown.PreloadToRAM()
}

// ReleaseAll calls ReleaseCache on both CSRs. Callers must not overlap this
// with in-flight queries (spec.md §5).
func (idx *Index) ReleaseAll() {
	idx.LevUp.ReleaseCache()
	idx.LevDown.ReleaseCache()
}

func (idx *Index) ensureLazyPreload() {
	if idx.mode != config.EmbeddingCacheLazy {
		return
	}
	idx.once.Do(idx.PreloadAll)
}

// LevUpRow returns the levUp row for node n (1-indexed), triggering a
// lazy preload first if the index is in EmbeddingCacheLazy mode.
func (idx *Index) LevUpRow(n storage.NodeID) []uint32 {
	idx.ensureLazyPreload()
	return idx.LevUp.RowForNode(n)
}

// LevDownRow returns the levDown row for node n, triggering a lazy
// preload first if the index is in EmbeddingCacheLazy mode.
func (idx *Index) LevDownRow(n storage.NodeID) []uint32 {
	idx.ensureLazyPreload()
	return idx.LevDown.RowForNode(n)
}

// MemoryUsageBytes sums the RAM-preload footprint of both CSRs.
func (idx *Index) MemoryUsageBytes() int {
	return idx.LevUp.MemoryUsageBytes() + idx.LevDown.MemoryUsageBytes()
}

// BuildLevUpLevDown derives levUp/levDown sequences (one per node id,
// 1-indexed) from containment: n's levUp is the set of nodes at
// level(n)-1 that contain it; n's levDown is the set of nodes at
// level(n)+1 that it contains. containers supplies, for each non-slot
// node or slot n, the full set of ids that directly or transitively
// contain it (as derived by the compiler from spans/slot-sets); this
// function filters that to the adjacent level in each direction.
func BuildLevUpLevDown(types *schema.TypeTable, containers func(storage.NodeID) []storage.NodeID) (levUpSeqs, levDownSeqs [][]uint32) {
	maxNode := types.MaxNode
	levUpSeqs = make([][]uint32, int(maxNode))
	levDownSeqs = make([][]uint32, int(maxNode))

	for n := storage.NodeID(1); n <= maxNode; n++ {
		level, ok := types.Level(n)
		if !ok {
			continue
		}
		for _, c := range containers(n) {
			cLevel, ok := types.Level(c)
			if !ok {
				continue
			}
			// containers(n) yields only ancestors, always shallower than
			// n, so the direct (adjacent-level) container is the one
			// edge both directions share: n's levUp entry is c, and
			// symmetrically c's levDown entry gains n.
			if cLevel == level-1 {
				levUpSeqs[int(n)-1] = append(levUpSeqs[int(n)-1], uint32(c))
				levDownSeqs[int(c)-1] = append(levDownSeqs[int(c)-1], uint32(n))
			}
		}
	}
	return levUpSeqs, levDownSeqs
}
