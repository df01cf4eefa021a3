package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/storage"
)

func TestOpenMappingReadsFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	want := []byte{1, 2, 3, 4, 5}
	require.NoError(t, os.WriteFile(path, want, 0o644))

	m, err := storage.OpenMapping(path)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, want, m.Bytes())
	require.Equal(t, len(want), m.Len())
	require.True(t, m.IsMapped())
}

func TestOpenMappingMissingFile(t *testing.T) {
	_, err := storage.OpenMapping(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestOwnedMappingIsNotMapped(t *testing.T) {
	m := storage.NewOwnedMapping([]byte{9, 9})
	require.False(t, m.IsMapped())
	require.Equal(t, []byte{9, 9}, m.Bytes())
	require.NoError(t, m.Close())
}

func TestMappingPreloadIsIndependentCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	m, err := storage.OpenMapping(path)
	require.NoError(t, err)
	defer m.Close()

	preloaded := m.Preload()
	require.False(t, preloaded.IsMapped())
	require.Equal(t, m.Bytes(), preloaded.Bytes())

	require.NoError(t, m.Close())
	// The preloaded copy must not depend on the original mapping's
	// lifetime.
	require.Equal(t, []byte{1, 2, 3}, preloaded.Bytes())
}
