package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

func newTestTable(t *testing.T) *schema.TypeTable {
	t.Helper()
	// Slots 1..5, words 6..8 (level 1), clauses 9..10 (level 2).
	ranges := []schema.TypeRange{
		{Name: "word", Level: 1, FirstID: 6, LastID: 8},
		{Name: "clause", Level: 2, FirstID: 9, LastID: 10},
	}
	tt, err := schema.NewTypeTable(5, 10, ranges)
	require.NoError(t, err)
	return tt
}

func TestTypeTableOTypeAndLevel(t *testing.T) {
	tt := newTestTable(t)

	for n := storage.NodeID(1); n <= 5; n++ {
		name, ok := tt.OType(n)
		require.True(t, ok)
		require.Equal(t, schema.SlotType, name)
		lvl, ok := tt.Level(n)
		require.True(t, ok)
		require.Equal(t, tt.SlotLevel, lvl)
	}

	name, ok := tt.OType(7)
	require.True(t, ok)
	require.Equal(t, "word", name)
	lvl, ok := tt.Level(7)
	require.True(t, ok)
	require.Equal(t, 1, lvl)

	name, ok = tt.OType(10)
	require.True(t, ok)
	require.Equal(t, "clause", name)

	// Slots are deepest: SlotLevel is strictly greater than every
	// declared non-slot level.
	require.Greater(t, tt.SlotLevel, 2)
}

func TestTypeTableOutOfRangeNeverErrors(t *testing.T) {
	tt := newTestTable(t)
	_, ok := tt.OType(0)
	require.False(t, ok)
	_, ok = tt.OType(11)
	require.False(t, ok)
	_, ok = tt.Level(11)
	require.False(t, ok)
}

func TestTypeTableRangeForType(t *testing.T) {
	tt := newTestTable(t)
	r, ok := tt.RangeForType("word")
	require.True(t, ok)
	require.Equal(t, storage.NodeID(6), r.FirstID)
	require.Equal(t, storage.NodeID(8), r.LastID)

	_, ok = tt.RangeForType("nonexistent")
	require.False(t, ok)
}

func TestTypeTableRejectsGapInRanges(t *testing.T) {
	// Gap: after slots (1..5), word starts at 7 instead of 6.
	_, err := schema.NewTypeTable(5, 10, []schema.TypeRange{
		{Name: "word", Level: 1, FirstID: 7, LastID: 8},
		{Name: "clause", Level: 2, FirstID: 9, LastID: 10},
	})
	require.Error(t, err)
}

func TestTypeTableRejectsRangesNotCoveringMaxNode(t *testing.T) {
	_, err := schema.NewTypeTable(5, 10, []schema.TypeRange{
		{Name: "word", Level: 1, FirstID: 6, LastID: 8},
		// Stops at 8, but maxNode is 10: not exhaustive.
	})
	require.Error(t, err)
}

func TestSpanTableRoundTrip(t *testing.T) {
	nodeSlots := map[storage.NodeID][]storage.NodeID{
		7:  {1, 2, 3}, // word spanning slots 1..3
		10: {3, 4, 5}, // clause spanning slots 3..5
	}
	minData, maxData := schema.BuildSpans(5, 10, nodeSlots)

	minBuf, minType, minSentinel := storage.BuildIntColumn(minData, 10)
	maxBuf, maxType, maxSentinel := storage.BuildIntColumn(maxData, 10)

	minCol, err := storage.NewIntColumn(storage.NewOwnedMapping(minBuf), minType, minSentinel, 10)
	require.NoError(t, err)
	maxCol, err := storage.NewIntColumn(storage.NewOwnedMapping(maxBuf), maxType, maxSentinel, 10)
	require.NoError(t, err)

	spans := schema.NewSpanTable(minCol, maxCol)

	// Slots span only themselves.
	mn, mx, ok := spans.Span(3)
	require.True(t, ok)
	require.Equal(t, storage.NodeID(3), mn)
	require.Equal(t, storage.NodeID(3), mx)

	mn, mx, ok = spans.Span(7)
	require.True(t, ok)
	require.Equal(t, storage.NodeID(1), mn)
	require.Equal(t, storage.NodeID(3), mx)

	mn, mx, ok = spans.Span(10)
	require.True(t, ok)
	require.Equal(t, storage.NodeID(3), mn)
	require.Equal(t, storage.NodeID(5), mx)

	// Node 8 and 9 were never given a slot set: no span data.
	_, _, ok = spans.Span(8)
	require.False(t, ok)
}
