package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/config"
)

func TestDefaultConfig(t *testing.T) {
	c := config.Default()
	require.Equal(t, config.EmbeddingCacheOn, c.EmbeddingCache)
	require.Equal(t, ".cfm", c.CacheDir())
	require.Equal(t, config.SilenceNormal, c.Silence)
}

func TestCacheDirFallsBackWhenUnset(t *testing.T) {
	c := config.Config{}
	require.Equal(t, ".cfm", c.CacheDir())

	c.CacheDirName = "custom-dir"
	require.Equal(t, "custom-dir", c.CacheDir())
}

// TestPreloadModeCaseSensitivity pins the exact-lowercase "off" quirk
// carried over from the original source: anything other than the exact
// token "off" behaves as "on", including differently-cased spellings.
func TestPreloadModeCaseSensitivity(t *testing.T) {
	cases := []struct {
		in   config.EmbeddingCacheMode
		want config.EmbeddingCacheMode
	}{
		{config.EmbeddingCacheOn, config.EmbeddingCacheOn},
		{config.EmbeddingCacheOff, config.EmbeddingCacheOff},
		{config.EmbeddingCacheLazy, config.EmbeddingCacheLazy},
		{"OFF", config.EmbeddingCacheOn},
		{"Off", config.EmbeddingCacheOn},
		{"", config.EmbeddingCacheOn},
		{"bogus", config.EmbeddingCacheOn},
	}
	for _, tc := range cases {
		c := config.Config{EmbeddingCache: tc.in}
		require.Equal(t, tc.want, c.PreloadMode(), "input %q", tc.in)
	}
}
