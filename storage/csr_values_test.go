package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/storage"
)

func TestCSRWithValuesIntRoundTrip(t *testing.T) {
	data := map[storage.NodeID]map[uint32]int64{
		1: {10: 100, 20: 200},
		2: {30: -5},
	}
	offsets, csrData, values, dtype, sentinel := storage.BuildCSRWithValuesInt(data, 2)

	base, err := storage.NewCSR(storage.NewOwnedMapping(offsets), storage.NewOwnedMapping(csrData), 2)
	require.NoError(t, err)
	csr, err := storage.NewCSRWithValuesInt(base, storage.NewOwnedMapping(values), dtype, sentinel)
	require.NoError(t, err)

	got := csr.GetAsDict(1)
	require.Equal(t, map[uint32]interface{}{10: int64(100), 20: int64(200)}, got)

	got2 := csr.GetAsDict(2)
	require.Equal(t, map[uint32]interface{}{30: int64(-5)}, got2)
}

func TestCSRWithValuesStringRoundTrip(t *testing.T) {
	data := map[storage.NodeID]map[uint32]string{
		1: {10: "alpha", 20: "beta"},
		2: {30: "alpha"},
	}
	offsets, csrData, values, dtype, strs := storage.BuildCSRWithValuesString(data, 2)

	base, err := storage.NewCSR(storage.NewOwnedMapping(offsets), storage.NewOwnedMapping(csrData), 2)
	require.NoError(t, err)
	csr, err := storage.NewCSRWithValuesString(base, storage.NewOwnedMapping(values), dtype, strs)
	require.NoError(t, err)

	got := csr.GetAsDict(1)
	require.Equal(t, map[uint32]interface{}{10: "alpha", 20: "beta"}, got)

	got2 := csr.GetAsDict(2)
	require.Equal(t, map[uint32]interface{}{30: "alpha"}, got2)

	// "alpha" must have interned to a single shared code, not one per
	// occurrence: the pool holds exactly the sentinel plus two distinct
	// strings.
	require.ElementsMatch(t, []string{"", "alpha", "beta"}, strs)
}

func TestCSRWithValuesPreloadCoversValues(t *testing.T) {
	data := map[storage.NodeID]map[uint32]int64{
		1: {10: 100, 20: 200},
		2: {30: -5},
	}
	offsets, csrData, values, dtype, sentinel := storage.BuildCSRWithValuesInt(data, 2)
	base, err := storage.NewCSR(storage.NewOwnedMapping(offsets), storage.NewOwnedMapping(csrData), 2)
	require.NoError(t, err)
	csr, err := storage.NewCSRWithValuesInt(base, storage.NewOwnedMapping(values), dtype, sentinel)
	require.NoError(t, err)

	require.False(t, csr.IsCached())
	require.Zero(t, csr.MemoryUsageBytes())

	csr.PreloadToRAM()
	require.True(t, csr.IsCached())
	require.Equal(t, len(offsets)+len(csrData)+len(values), csr.MemoryUsageBytes())

	// Still answers queries identically after preload.
	got := csr.GetAsDict(1)
	require.Equal(t, map[uint32]interface{}{10: int64(100), 20: int64(200)}, got)

	csr.ReleaseCache()
	require.False(t, csr.IsCached())
	require.Zero(t, csr.MemoryUsageBytes())
}

func TestCSRWithValuesLengthMismatch(t *testing.T) {
	offsets, csrData := storage.BuildCSR([][]uint32{{1}}, true)
	base, err := storage.NewCSR(storage.NewOwnedMapping(offsets), storage.NewOwnedMapping(csrData), 1)
	require.NoError(t, err)

	_, err = storage.NewCSRWithValuesInt(base, storage.NewOwnedMapping([]byte{1, 2, 3}), storage.DTypeInt64, -1<<63)
	require.Error(t, err)
}
