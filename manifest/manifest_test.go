package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/cferr"
	"github.com/codykingham/context-fabric/manifest"
)

func sampleManifest() *manifest.Manifest {
	types := []manifest.TypeRangeEntry{
		{Name: "word", Level: 1, FirstID: 6, LastID: 10},
	}
	features := []manifest.FeatureEntry{
		{Name: "otype", Kind: manifest.FeatureInt, DType: "u8", Files: map[string]string{"column": "otype.u8"}},
		{Name: "mother", Kind: manifest.FeatureEdge, Files: map[string]string{"offsets": "edges/mother.offsets", "data": "edges/mother.data"}},
	}
	return manifest.New(5, 10, types, features, 0xDEADBEEF)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleManifest()
	b, err := manifest.Encode(m)
	require.NoError(t, err)

	got, err := manifest.Decode(b)
	require.NoError(t, err)

	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("manifest round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCorruptBytes(t *testing.T) {
	_, err := manifest.Decode([]byte("not valid toml {{{"))
	require.ErrorIs(t, err, cferr.ErrCorruptCache)
}

func TestDecodeOldFormatVersionIsVersionMismatch(t *testing.T) {
	b := []byte("format_version = 0\nmax_slot = 1\nmax_node = 1\n")
	_, err := manifest.Decode(b)
	require.ErrorIs(t, err, cferr.ErrVersionMismatch)
}

func TestLoadMissingFileIsVersionMismatch(t *testing.T) {
	_, err := manifest.Load(t.TempDir())
	require.ErrorIs(t, err, cferr.ErrVersionMismatch)
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := sampleManifest()
	b, err := manifest.Encode(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), b, 0o644))

	got, err := manifest.Load(dir)
	require.NoError(t, err)
	require.Equal(t, m.MaxNode, got.MaxNode)
	require.Equal(t, m.SourceHash, got.SourceHash)
}

func TestFeatureByName(t *testing.T) {
	m := sampleManifest()
	f, ok := m.FeatureByName("mother")
	require.True(t, ok)
	require.Equal(t, manifest.FeatureEdge, f.Kind)

	_, ok = m.FeatureByName("nonexistent")
	require.False(t, ok)
}

func TestNewSortsTypesAndFeatures(t *testing.T) {
	types := []manifest.TypeRangeEntry{
		{Name: "clause", Level: 0, FirstID: 20, LastID: 25},
		{Name: "word", Level: 1, FirstID: 6, LastID: 19},
	}
	features := []manifest.FeatureEntry{
		{Name: "zeta", Kind: manifest.FeatureInt},
		{Name: "alpha", Kind: manifest.FeatureInt},
	}
	m := manifest.New(5, 25, types, features, 1)

	require.Equal(t, "word", m.Types[0].Name)
	require.Equal(t, "clause", m.Types[1].Name)
	require.Equal(t, "alpha", m.Features[0].Name)
	require.Equal(t, "zeta", m.Features[1].Name)
}
