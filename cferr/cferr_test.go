package cferr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codykingham/context-fabric/cferr"
)

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		cferr.ErrUnknownFeature,
		cferr.ErrCorruptCache,
		cferr.ErrVersionMismatch,
		cferr.ErrCompilerFailure,
		cferr.ErrConcurrentWrite,
	}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "%v should not be errors.Is %v", a, b)
		}
	}
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	wrapped := fmt.Errorf("loading feature %q: %w", "foo", cferr.ErrUnknownFeature)
	require.ErrorIs(t, wrapped, cferr.ErrUnknownFeature)
	require.False(t, errors.Is(wrapped, cferr.ErrCorruptCache))
}
