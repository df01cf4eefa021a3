package embed_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/config"
	"github.com/codykingham/context-fabric/embed"
	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// buildTestIndex builds a 3-level corpus (slots 1-4, words 5-6, clause
// 7) with word 5 containing slots 1,2; word 6 containing slots 3,4; and
// clause 7 containing words 5,6. containers(n) returns every node that
// directly or transitively contains n, mirroring what the compiler's
// buildContainers derives from slot-set inclusion.
func buildTestIndex(t *testing.T, mode config.EmbeddingCacheMode) (*embed.Index, *schema.TypeTable) {
	t.Helper()
	// Level numbers increase with depth (spec.md §3): clause is shallower
	// than word, which sits directly above the slots.
	ranges := []schema.TypeRange{
		{Name: "clause", Level: 1, FirstID: 7, LastID: 7},
		{Name: "word", Level: 2, FirstID: 5, LastID: 6},
	}
	types, err := schema.NewTypeTable(4, 7, ranges)
	require.NoError(t, err)

	containerOf := map[storage.NodeID][]storage.NodeID{
		1: {5, 7},
		2: {5, 7},
		3: {6, 7},
		4: {6, 7},
		5: {7},
		6: {7},
	}
	containers := func(n storage.NodeID) []storage.NodeID { return containerOf[n] }

	levUpSeqs, levDownSeqs := embed.BuildLevUpLevDown(types, containers)
	upOff, upData := storage.BuildCSR(levUpSeqs, true)
	downOff, downData := storage.BuildCSR(levDownSeqs, true)

	levUp, err := storage.NewCSR(storage.NewOwnedMapping(upOff), storage.NewOwnedMapping(upData), int(types.MaxNode))
	require.NoError(t, err)
	levDown, err := storage.NewCSR(storage.NewOwnedMapping(downOff), storage.NewOwnedMapping(downData), int(types.MaxNode))
	require.NoError(t, err)

	return embed.NewIndex(levUp, levDown, mode), types
}

func TestBuildLevUpLevDownAdjacentLevelOnly(t *testing.T) {
	idx, _ := buildTestIndex(t, config.EmbeddingCacheOff)

	// Slot 1's levUp is word 5, not clause 7 (not adjacent level).
	require.Equal(t, []uint32{5}, idx.LevUpRow(1))
	// Word 5's levUp is clause 7.
	require.Equal(t, []uint32{7}, idx.LevUpRow(5))
	// Clause 7's levDown is both words.
	require.Equal(t, []uint32{5, 6}, idx.LevDownRow(7))
	// Word 5's levDown is its two slots.
	require.Equal(t, []uint32{1, 2}, idx.LevDownRow(5))
}

func TestPreloadModeOnPreloadsImmediately(t *testing.T) {
	idx, _ := buildTestIndex(t, config.EmbeddingCacheOn)
	require.True(t, idx.LevUp.IsCached())
	require.True(t, idx.LevDown.IsCached())
}

func TestPreloadModeOffNeverAutoPreloads(t *testing.T) {
	idx, _ := buildTestIndex(t, config.EmbeddingCacheOff)
	require.False(t, idx.LevUp.IsCached())
	require.False(t, idx.LevDown.IsCached())

	// Rows still resolve correctly without a preload.
	require.Equal(t, []uint32{5}, idx.LevUpRow(1))
	require.False(t, idx.LevUp.IsCached())
}

func TestPreloadModeLazyDefersUntilFirstAccess(t *testing.T) {
	idx, _ := buildTestIndex(t, config.EmbeddingCacheLazy)
	require.False(t, idx.LevUp.IsCached())

	idx.LevUpRow(1)
	require.True(t, idx.LevUp.IsCached())
	require.True(t, idx.LevDown.IsCached())
}

func TestManualPreloadReleaseAlwaysWork(t *testing.T) {
	idx, _ := buildTestIndex(t, config.EmbeddingCacheOff)
	idx.PreloadAll()
	require.True(t, idx.LevUp.IsCached())
	require.Positive(t, idx.MemoryUsageBytes())

	idx.ReleaseAll()
	require.False(t, idx.LevUp.IsCached())
}
