package compile

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// buildContainers returns a function suitable for embed.BuildLevUpLevDown:
// given a node id, the full set of node ids that properly contain it,
// derived from slot-set inclusion. A node A contains n iff A's slot set
// is a proper superset of n's slot set. Bitmaps make the O(types) scan
// per node a cheap cardinality-and compare instead of a set-difference
// walk; this runs once at compile time, never on the read path.
func buildContainers(corpus *SourceCorpus, types *schema.TypeTable) func(storage.NodeID) []storage.NodeID {
	slotBitmaps := make(map[storage.NodeID]*roaring.Bitmap, int(corpus.MaxNode))
	for n := storage.NodeID(1); n <= corpus.MaxNode; n++ {
		bm := roaring.New()
		for _, s := range corpus.slotSet(n) {
			bm.Add(uint32(s))
		}
		slotBitmaps[n] = bm
	}

	// Group candidate containers by level so a node only checks
	// candidates at levels it could plausibly sit under.
	byLevel := make(map[int][]storage.NodeID)
	for n := storage.NodeID(1); n <= corpus.MaxNode; n++ {
		lvl, ok := types.Level(n)
		if !ok {
			continue
		}
		byLevel[lvl] = append(byLevel[lvl], n)
	}

	return func(n storage.NodeID) []storage.NodeID {
		nBm := slotBitmaps[n]
		nCard := nBm.GetCardinality()
		if nCard == 0 {
			return nil
		}
		var out []storage.NodeID
		for candLevel, candidates := range byLevel {
			nLevel, _ := types.Level(n)
			if candLevel >= nLevel {
				continue
			}
			for _, a := range candidates {
				if a == n {
					continue
				}
				aBm := slotBitmaps[a]
				if aBm.GetCardinality() <= nCard {
					continue
				}
				if aBm.AndCardinality(nBm) == nCard {
					out = append(out, a)
				}
			}
		}
		return out
	}
}
