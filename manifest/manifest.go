// Package manifest defines the versioned, TOML-encoded cache
// descriptor that is the single source of truth for a compiled corpus:
// format version, node/slot bounds, type ranges, and the feature table.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/codykingham/context-fabric/cferr"
)

// FormatVersion is the version this build of the loader writes.
const FormatVersion = 1

// MinSupportedVersion is the oldest manifest format this loader will
// read without forcing a recompile.
const MinSupportedVersion = 1

// FileName is the manifest's name at the cache root.
const FileName = "manifest"

// FeatureKind tags how a feature's files should be interpreted,
// replacing runtime probing of the underlying structure (spec.md §9).
type FeatureKind string

const (
	FeatureInt           FeatureKind = "int"
	FeatureStr           FeatureKind = "str"
	FeatureEdge          FeatureKind = "edge"
	FeatureEdgeWithValue FeatureKind = "edge-with-value"
	FeatureComputed      FeatureKind = "computed"
)

// TypeRangeEntry is a single declared otype's dense id range and level.
type TypeRangeEntry struct {
	Name    string `toml:"name"`
	Level   int    `toml:"level"`
	FirstID uint32 `toml:"first_id"`
	LastID  uint32 `toml:"last_id"`
}

// FeatureEntry describes one feature's on-disk representation.
type FeatureEntry struct {
	Name     string      `toml:"name"`
	Kind     FeatureKind `toml:"kind"`
	DType    string      `toml:"dtype,omitempty"`
	Sentinel int64       `toml:"sentinel,omitempty"`
	// ValueKind disambiguates FeatureEdgeWithValue's Values array: "int"
	// or "str". Unused by every other Kind.
	ValueKind string `toml:"value_kind,omitempty"`
	// Files holds the feature's file paths relative to the cache root,
	// keyed by role: "column", "pool", "idx", "offsets", "data", "values".
	Files map[string]string `toml:"files"`
}

// Manifest is the full cache descriptor, encoded at <cacheDir>/manifest.
type Manifest struct {
	FormatVersion int              `toml:"format_version"`
	MaxSlot       uint32           `toml:"max_slot"`
	MaxNode       uint32           `toml:"max_node"`
	Types         []TypeRangeEntry `toml:"types"`
	Features      []FeatureEntry   `toml:"features"`
	// SourceHash is xxhash.Sum64 over the canonical encoding of the
	// compiled SourceCorpus, used for idempotent recompile detection.
	SourceHash uint64 `toml:"source_hash"`
}

// New builds a Manifest at the current FormatVersion.
func New(maxSlot, maxNode uint32, types []TypeRangeEntry, features []FeatureEntry, sourceHash uint64) *Manifest {
	sorted := append([]TypeRangeEntry(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FirstID < sorted[j].FirstID })
	sortedFeatures := append([]FeatureEntry(nil), features...)
	sort.Slice(sortedFeatures, func(i, j int) bool { return sortedFeatures[i].Name < sortedFeatures[j].Name })
	return &Manifest{
		FormatVersion: FormatVersion,
		MaxSlot:       maxSlot,
		MaxNode:       maxNode,
		Types:         sorted,
		Features:      sortedFeatures,
		SourceHash:    sourceHash,
	}
}

// Encode marshals m to TOML.
func Encode(m *Manifest) ([]byte, error) {
	b, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest.Encode: %w", err)
	}
	return b, nil
}

// Decode parses TOML bytes into a Manifest and validates its format
// version against MinSupportedVersion.
func Decode(b []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest.Decode: %v", cferr.ErrCorruptCache, err)
	}
	if m.FormatVersion < MinSupportedVersion {
		return nil, fmt.Errorf("%w: manifest format version %d, need >= %d", cferr.ErrVersionMismatch, m.FormatVersion, MinSupportedVersion)
	}
	return &m, nil
}

// Load reads and decodes the manifest file at cacheDir/FileName.
func Load(cacheDir string) (*Manifest, error) {
	path := filepath.Join(cacheDir, FileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: manifest.Load(%s): %v", cferr.ErrVersionMismatch, path, err)
		}
		return nil, fmt.Errorf("manifest.Load(%s): %w", path, err)
	}
	return Decode(b)
}

// FeatureByName looks up a feature entry by name.
func (m *Manifest) FeatureByName(name string) (FeatureEntry, bool) {
	for _, f := range m.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureEntry{}, false
}
