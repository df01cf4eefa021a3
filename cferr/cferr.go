// Package cferr names the error taxonomy shared across context-fabric:
// failures a caller can usefully branch on, as opposed to the total,
// never-erroring lookups exposed by storage and facade.
package cferr

import "errors"

var (
	// ErrUnknownFeature is returned when a feature name is not present
	// in the manifest's feature table. Unlike a missing value for a
	// known feature (which is ABSENT, not an error), an unlisted name
	// fails loudly at first access.
	ErrUnknownFeature = errors.New("context-fabric: unknown feature")

	// ErrCorruptCache is returned when a column, pool, or CSR file's
	// length, dtype, or declared shape disagrees with the manifest.
	ErrCorruptCache = errors.New("context-fabric: corrupt cache")

	// ErrVersionMismatch is returned when a cache's format version is
	// below the loader's minimum supported version.
	ErrVersionMismatch = errors.New("context-fabric: cache format version mismatch")

	// ErrCompilerFailure is returned when the input source is
	// malformed and cannot be compiled into a cache.
	ErrCompilerFailure = errors.New("context-fabric: compiler failure")

	// ErrConcurrentWrite is returned when a second compile into the
	// same cache directory loses the race to acquire the compile lock.
	ErrConcurrentWrite = errors.New("context-fabric: concurrent write to cache directory")
)
