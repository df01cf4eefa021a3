package fabric_test

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codykingham/context-fabric/compile"
	"github.com/codykingham/context-fabric/config"
	"github.com/codykingham/context-fabric/fabric"
	"github.com/codykingham/context-fabric/storage"
)

const fixtureSource = `
TYPE word 2 5 6
TYPE clause 1 7 7
SPAN 5 1 2
SPAN 6 3 4
SPAN 7 1 2 3 4
SLOT 1 the
SLOT 2 cat
SLOT 3 sat
SLOT 4 down
FEAT 5 pos noun
FEAT 6 pos verb
EDGE mother 1 5
EDGE mother 2 5
EDGE mother 3 6
EDGE mother 4 6
EDGE mother 5 7
EDGE mother 6 7
EDGE dep 1 2 subj
`

func logger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func compileFixture(t *testing.T) string {
	t.Helper()
	corpus, err := compile.ParseSource(fixtureSource, 4, 7)
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "cache")
	_, err = compile.Compile(corpus, afero.NewOsFs(), dir, logger())
	require.NoError(t, err)
	return dir
}

func nodeIDs(vs ...uint32) []storage.NodeID {
	out := make([]storage.NodeID, len(vs))
	for i, v := range vs {
		out[i] = storage.NodeID(v)
	}
	return out
}

func TestCompileThenLoadQueryFacades(t *testing.T) {
	dir := compileFixture(t)

	api, err := fabric.Load(dir, config.Default(), logger())
	require.NoError(t, err)
	defer api.Close()

	_, textFeat, err := api.F.F("text")
	require.NoError(t, err)
	v, ok := textFeat.V(1)
	require.True(t, ok)
	require.Equal(t, "the", v)

	_, posStr, err := api.F.F("pos")
	require.NoError(t, err)
	v, ok = posStr.V(5)
	require.True(t, ok)
	require.Equal(t, "noun", v)

	mother, _, err := api.F.E("mother")
	require.NoError(t, err)
	require.Equal(t, []uint32{5}, mother.RowForNode(1))

	_, dep, err := api.F.E("dep")
	require.NoError(t, err)
	require.Equal(t, map[uint32]interface{}{2: "subj"}, dep.GetAsDict(1))

	levUp, err := api.F.C("levUp")
	require.NoError(t, err)
	require.Equal(t, []uint32{5}, levUp.RowForNode(1))
}

func TestCompileThenLoadLocalityNavigation(t *testing.T) {
	dir := compileFixture(t)
	api, err := fabric.Load(dir, config.Default(), logger())
	require.NoError(t, err)
	defer api.Close()

	// Slot 1 sits under both word 5 and, two levels up, clause 7;
	// ascending level order puts the shallower clause first.
	require.Equal(t, nodeIDs(7, 5), api.L.U(1, ""))
	require.Equal(t, nodeIDs(1, 2), api.L.D(5, ""))
}

func TestLoadOrCompileSkipsRecompileOnUnchangedSource(t *testing.T) {
	corpus, err := compile.ParseSource(fixtureSource, 4, 7)
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "cache")
	fs := afero.NewOsFs()

	api, err := fabric.LoadOrCompile(corpus, fs, dir, config.Default(), logger())
	require.NoError(t, err)
	require.NoError(t, api.Close())

	api2, err := fabric.LoadOrCompile(corpus, fs, dir, config.Default(), logger())
	require.NoError(t, err)
	defer api2.Close()
	require.Equal(t, uint32(7), api2.Manifest.MaxNode)
}

func TestMemoryUsageBytesReflectsPreloadMode(t *testing.T) {
	dir := compileFixture(t)

	onAPI, err := fabric.Load(dir, config.Config{EmbeddingCache: "on", CacheDirName: ".cfm"}, logger())
	require.NoError(t, err)
	defer onAPI.Close()
	require.Positive(t, onAPI.MemoryUsageBytes())

	offAPI, err := fabric.Load(dir, config.Config{EmbeddingCache: "off", CacheDirName: ".cfm"}, logger())
	require.NoError(t, err)
	defer offAPI.Close()
	require.Zero(t, offAPI.MemoryUsageBytes())
}
