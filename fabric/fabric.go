// Package fabric provides the top-level corpus handle: Fabric/API wire
// a compiled cache directory's manifest into memory-mapped storage,
// the embedding index, locality navigation, and the feature façades.
//
// Deployment pattern (doc only — this package performs no forking
// itself; process management is a CLI/server concern): a primary
// process calls Load once, which populates the OS page cache and any
// RAM-preloaded embeddings, then forks worker processes. Workers share
// both the mmapped file pages and the primary's copy-on-write heap
// pages until a worker writes. Since no read-path call in storage,
// embed, locality, or facade ever writes to a mapped region, that
// sharing survives the whole worker lifetime; a worker's resident set
// stays proportional to its own query-transient allocations (spec.md
// §5).
package fabric

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/codykingham/context-fabric/cferr"
	"github.com/codykingham/context-fabric/compile"
	"github.com/codykingham/context-fabric/config"
	"github.com/codykingham/context-fabric/embed"
	"github.com/codykingham/context-fabric/facade"
	"github.com/codykingham/context-fabric/locality"
	"github.com/codykingham/context-fabric/manifest"
	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// API is the live, loaded corpus handle: the feature registry (F/E/C),
// locality navigation (L), and resource accounting.
type API struct {
	Manifest *manifest.Manifest
	F        *facade.Registry
	L        *locality.L
	index    *embed.Index
	mappings []*storage.Mapping
}

// MemoryUsageBytes sums the RAM-preload footprint of the embedding
// index and every preloaded edge feature, supplementing
// spec.md §5's resident-set claim with a number a caller can assert on
// (grounded on original_source/benchmarks/compare_performance.py's USS
// accounting).
func (a *API) MemoryUsageBytes() int {
	n := a.index.MemoryUsageBytes()
	for _, name := range a.F.Names() {
		edge, withVal, err := a.F.E(name)
		switch {
		case err != nil:
		case edge.CSR != nil:
			n += edge.MemoryUsageBytes()
		default:
			n += withVal.MemoryUsageBytes()
		}
	}
	return n
}

// Close unmaps every backing file. A loaded API must not be used after
// Close.
func (a *API) Close() error {
	var firstErr error
	for _, m := range a.mappings {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fabric is a corpus reference: a cache directory plus the config to
// open it with. It holds no resources itself; Open/Load does the work.
type Fabric struct {
	CacheDir string
	Config   config.Config
}

// New returns a Fabric pointed at cacheDir with cfg.
func New(cacheDir string, cfg config.Config) *Fabric {
	return &Fabric{CacheDir: cacheDir, Config: cfg}
}

// Open loads f's cache directory. See Load for the full contract.
func (f *Fabric) Open(logger *zap.SugaredLogger) (*API, error) {
	return Load(f.CacheDir, f.Config, logger)
}

// Load opens an already-compiled cache directory: reads the manifest,
// memory-maps every listed array, and builds the façades. It does not
// compile; callers with a parsed source should use LoadOrCompile.
func Load(cacheDir string, cfg config.Config, logger *zap.SugaredLogger) (*API, error) {
	m, err := manifest.Load(cacheDir)
	if err != nil {
		return nil, err
	}
	return loadFromManifest(m, cacheDir, cfg, logger)
}

// LoadOrCompile loads cacheDir, compiling corpus into it first whenever
// Load fails: no cache is present, its format version is below the
// loader's minimum (spec.md §7: VersionMismatch "triggers a full
// recompile"), or any other load error. A cache that loads is returned
// as is; its source hash is not compared against corpus.
func LoadOrCompile(corpus *compile.SourceCorpus, fs afero.Fs, cacheDir string, cfg config.Config, logger *zap.SugaredLogger) (*API, error) {
	if api, err := Load(cacheDir, cfg, logger); err == nil {
		return api, nil
	}
	if _, err := compile.Compile(corpus, fs, cacheDir, logger); err != nil {
		return nil, fmt.Errorf("fabric.LoadOrCompile: %w", err)
	}
	return Load(cacheDir, cfg, logger)
}

func loadFromManifest(m *manifest.Manifest, cacheDir string, cfg config.Config, logger *zap.SugaredLogger) (api *API, err error) {
	api = &API{Manifest: m, F: facade.NewRegistry()}
	defer func() {
		if err != nil {
			_ = api.Close()
		}
	}()

	open := func(rel string) (*storage.Mapping, error) {
		mp, err := storage.OpenMapping(filepath.Join(cacheDir, rel))
		if err != nil {
			return nil, err
		}
		api.mappings = append(api.mappings, mp)
		return mp, nil
	}

	maxSlot := storage.NodeID(m.MaxSlot)
	maxNode := storage.NodeID(m.MaxNode)

	typeRanges := make([]schema.TypeRange, 0, len(m.Types))
	for _, t := range m.Types {
		typeRanges = append(typeRanges, schema.TypeRange{
			Name: t.Name, Level: t.Level,
			FirstID: storage.NodeID(t.FirstID), LastID: storage.NodeID(t.LastID),
		})
	}
	types, err := schema.NewTypeTable(maxSlot, maxNode, typeRanges)
	if err != nil {
		return nil, err
	}

	var minCol, maxCol *storage.IntColumn
	var levUp, levDown *storage.CSR

	for _, feat := range m.Features {
		switch feat.Name {
		case "otype":
			if err := validateOType(feat, open, maxNode, types); err != nil {
				return nil, err
			}
			continue
		case "minSlot", "maxSlot":
			dtype, derr := storage.ParseDType(feat.DType)
			if derr != nil {
				return nil, derr
			}
			mp, oerr := open(feat.Files["column"])
			if oerr != nil {
				return nil, oerr
			}
			col, cerr := storage.NewIntColumn(mp, dtype, minOf(dtype), maxNode)
			if cerr != nil {
				return nil, cerr
			}
			if feat.Name == "minSlot" {
				minCol = col
			} else {
				maxCol = col
			}
			continue
		case "levUp", "levDown":
			offMp, oerr := open(feat.Files["offsets"])
			if oerr != nil {
				return nil, oerr
			}
			dataMp, derr := open(feat.Files["data"])
			if derr != nil {
				return nil, derr
			}
			csr, cerr := storage.NewCSR(offMp, dataMp, int(maxNode))
			if cerr != nil {
				return nil, cerr
			}
			if feat.Name == "levUp" {
				levUp = csr
			} else {
				levDown = csr
			}
			continue
		}

		if err := registerFeature(api.F, feat, open, maxNode, cacheDir); err != nil {
			return nil, err
		}
	}

	if levUp == nil || levDown == nil {
		return nil, fmt.Errorf("fabric: manifest missing levUp/levDown computed features")
	}
	if minCol == nil || maxCol == nil {
		return nil, fmt.Errorf("fabric: manifest missing minSlot/maxSlot computed features")
	}

	api.index = embed.NewIndex(levUp, levDown, cfg.PreloadMode())
	spans := schema.NewSpanTable(minCol, maxCol)
	api.L = locality.New(types, spans, api.index)
	api.F.RegisterComputed("levUp", levUp)
	api.F.RegisterComputed("levDown", levDown)

	if cfg.Silence != config.SilenceDeep {
		logger.Infow("loaded corpus", "cacheDir", cacheDir, "maxNode", m.MaxNode, "maxSlot", m.MaxSlot, "features", len(m.Features))
	}
	return api, nil
}

func registerFeature(reg *facade.Registry, feat manifest.FeatureEntry, open func(string) (*storage.Mapping, error), maxNode storage.NodeID, cacheDir string) error {
	switch feat.Kind {
	case manifest.FeatureInt:
		dtype, err := storage.ParseDType(feat.DType)
		if err != nil {
			return err
		}
		mp, err := open(feat.Files["column"])
		if err != nil {
			return err
		}
		col, err := storage.NewIntColumn(mp, dtype, feat.Sentinel, maxNode)
		if err != nil {
			return err
		}
		reg.RegisterInt(feat.Name, col)

	case manifest.FeatureStr:
		idxType, err := storage.ParseDType(feat.DType)
		if err != nil {
			return err
		}
		idxMp, err := open(feat.Files["idx"])
		if err != nil {
			return err
		}
		strs, err := readPoolFile(filepath.Join(cacheDir, feat.Files["pool"]))
		if err != nil {
			return err
		}
		pool, err := storage.NewStringPool(strs, idxMp, idxType, maxNode)
		if err != nil {
			return err
		}
		reg.RegisterStr(feat.Name, pool)

	case manifest.FeatureEdge:
		offMp, err := open(feat.Files["offsets"])
		if err != nil {
			return err
		}
		dataMp, err := open(feat.Files["data"])
		if err != nil {
			return err
		}
		csr, err := storage.NewCSR(offMp, dataMp, int(maxNode))
		if err != nil {
			return err
		}
		reg.RegisterEdge(feat.Name, csr)

	case manifest.FeatureEdgeWithValue:
		offMp, err := open(feat.Files["offsets"])
		if err != nil {
			return err
		}
		dataMp, err := open(feat.Files["data"])
		if err != nil {
			return err
		}
		base, err := storage.NewCSR(offMp, dataMp, int(maxNode))
		if err != nil {
			return err
		}
		valMp, err := open(feat.Files["values"])
		if err != nil {
			return err
		}
		valType, err := storage.ParseDType(feat.DType)
		if err != nil {
			return err
		}
		if feat.ValueKind == "str" {
			strs, err := readPoolFile(filepath.Join(cacheDir, feat.Files["pool"]))
			if err != nil {
				return err
			}
			csr, err := storage.NewCSRWithValuesString(base, valMp, valType, strs)
			if err != nil {
				return err
			}
			reg.RegisterEdgeWithValue(feat.Name, csr)
		} else {
			csr, err := storage.NewCSRWithValuesInt(base, valMp, valType, feat.Sentinel)
			if err != nil {
				return err
			}
			reg.RegisterEdgeWithValue(feat.Name, csr)
		}

	case manifest.FeatureComputed:
		// levUp/levDown/minSlot/maxSlot are handled by name above; no
		// other computed features are defined by this port.
	}
	return nil
}

// validateOType opens the materialized per-node type-code column and
// cross-checks it against the range-based TypeTable derived from the
// manifest: the two must agree on every node's type index. A
// disagreement means the cache's otype array and its type-range table
// were written from different inputs, which NewTypeTable's own
// range-shape checks cannot catch on their own.
func validateOType(feat manifest.FeatureEntry, open func(string) (*storage.Mapping, error), maxNode storage.NodeID, types *schema.TypeTable) error {
	dtype, err := storage.ParseDType(feat.DType)
	if err != nil {
		return err
	}
	mp, err := open(feat.Files["column"])
	if err != nil {
		return err
	}
	col, err := storage.NewIntColumn(mp, dtype, feat.Sentinel, maxNode)
	if err != nil {
		return err
	}
	rangeIdx := 0
	for n := storage.NodeID(1); n <= maxNode; n++ {
		code, ok := col.Get(n)
		if !ok {
			return fmt.Errorf("%w: otype column missing a value for node %d", cferr.ErrCorruptCache, n)
		}
		// The compiler writes code 0 for slots and i+1 for the i-th type
		// range by FirstID, the same order as types.Ranges.
		want := int64(0)
		if n > types.MaxSlot {
			for rangeIdx < len(types.Ranges)-1 && n > types.Ranges[rangeIdx].LastID {
				rangeIdx++
			}
			want = int64(rangeIdx + 1)
		}
		if code != want {
			return fmt.Errorf("%w: otype code %d for node %d disagrees with type ranges", cferr.ErrCorruptCache, code, n)
		}
	}
	return nil
}

func readPoolFile(path string) ([]string, error) {
	mp, err := storage.OpenMapping(path)
	if err != nil {
		return nil, err
	}
	defer mp.Close()
	return splitLines(string(mp.Bytes())), nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func minOf(d storage.DType) int64 {
	switch d {
	case storage.DTypeInt8:
		return -1 << 7
	case storage.DTypeInt16:
		return -1 << 15
	case storage.DTypeInt32:
		return -1 << 31
	default:
		return -1 << 63
	}
}
