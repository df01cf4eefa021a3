// Package facade implements the F/E/C feature surfaces: explicit
// tagged-variant lookups into a registry built once from the manifest's
// feature table, replacing the deep-inheritance/attribute-overload
// dispatch of the original (spec.md §9).
package facade

import (
	"fmt"

	"github.com/codykingham/context-fabric/cferr"
	"github.com/codykingham/context-fabric/storage"
)

// IntFeature is the F.<feat> surface over an integer column: v(n) plus
// the vectorized predicates of storage.IntColumn.
type IntFeature struct {
	*storage.IntColumn
}

// V returns the single-node value, mirroring the original's F.<feat>.v(n).
func (f IntFeature) V(n storage.NodeID) (int64, bool) { return f.Get(n) }

// StrFeature is the F.<feat> surface over a string pool.
type StrFeature struct {
	*storage.StringPool
}

// V returns the single-node string value.
func (f StrFeature) V(n storage.NodeID) (string, bool) { return f.Get(n) }

// EdgeFeature is the E.<feat> surface over a valueless CSR.
type EdgeFeature struct {
	*storage.CSR
}

// GetAsDict materializes {target: ABSENT} for node n, mirroring
// storage.CSRWithValues.GetAsDict but with no value array to resolve —
// a valueless edge feature carries no per-edge value at all, so every
// target maps to the ABSENT sentinel (spec.md §8 scenario 2).
func (f EdgeFeature) GetAsDict(n storage.NodeID) map[uint32]interface{} {
	targets := f.RowForNode(n)
	out := make(map[uint32]interface{}, len(targets))
	for _, t := range targets {
		out[t] = nil
	}
	return out
}

// EdgeWithValueFeature is the E.<feat> surface over a CSR with a
// parallel int-or-string values array.
type EdgeWithValueFeature struct {
	*storage.CSRWithValues
}

// ComputedFeature is the C.<computed> surface over a derived CSR, at
// minimum C.levUp and C.levDown.
type ComputedFeature struct {
	*storage.CSR
}

// Registry holds every feature the manifest declared, keyed by name. It
// is built once at load time; accessing a name not present here is
// cferr.ErrUnknownFeature.
type Registry struct {
	ints     map[string]IntFeature
	strs     map[string]StrFeature
	edges    map[string]EdgeFeature
	edgesVal map[string]EdgeWithValueFeature
	computed map[string]ComputedFeature
}

// NewRegistry builds an empty registry; callers populate it with
// RegisterInt/RegisterStr/RegisterEdge/RegisterEdgeWithValue/
// RegisterComputed as each feature file is opened.
func NewRegistry() *Registry {
	return &Registry{
		ints:     make(map[string]IntFeature),
		strs:     make(map[string]StrFeature),
		edges:    make(map[string]EdgeFeature),
		edgesVal: make(map[string]EdgeWithValueFeature),
		computed: make(map[string]ComputedFeature),
	}
}

func (r *Registry) RegisterInt(name string, col *storage.IntColumn) {
	r.ints[name] = IntFeature{col}
}

func (r *Registry) RegisterStr(name string, pool *storage.StringPool) {
	r.strs[name] = StrFeature{pool}
}

func (r *Registry) RegisterEdge(name string, csr *storage.CSR) {
	r.edges[name] = EdgeFeature{csr}
}

func (r *Registry) RegisterEdgeWithValue(name string, csr *storage.CSRWithValues) {
	r.edgesVal[name] = EdgeWithValueFeature{csr}
}

func (r *Registry) RegisterComputed(name string, csr *storage.CSR) {
	r.computed[name] = ComputedFeature{csr}
}

// F resolves name as an int or string node feature. Exactly one of the
// two feature returns is populated, determined by which map held the
// name; when neither holds it the error is cferr.ErrUnknownFeature.
func (r *Registry) F(name string) (IntFeature, StrFeature, error) {
	if f, ok := r.ints[name]; ok {
		return f, StrFeature{}, nil
	}
	if f, ok := r.strs[name]; ok {
		return IntFeature{}, f, nil
	}
	return IntFeature{}, StrFeature{}, fmt.Errorf("facade.F(%s): %w", name, cferr.ErrUnknownFeature)
}

// E resolves name as an edge feature, with or without a values array.
func (r *Registry) E(name string) (EdgeFeature, EdgeWithValueFeature, error) {
	if f, ok := r.edges[name]; ok {
		return f, EdgeWithValueFeature{}, nil
	}
	if f, ok := r.edgesVal[name]; ok {
		return EdgeFeature{}, f, nil
	}
	return EdgeFeature{}, EdgeWithValueFeature{}, fmt.Errorf("facade.E(%s): %w", name, cferr.ErrUnknownFeature)
}

// C resolves name as a computed feature (e.g. "levUp", "levDown").
func (r *Registry) C(name string) (ComputedFeature, error) {
	if f, ok := r.computed[name]; ok {
		return f, nil
	}
	return ComputedFeature{}, fmt.Errorf("facade.C(%s): %w", name, cferr.ErrUnknownFeature)
}

// Names returns every declared feature name across all five kinds, for
// callers enumerating the manifest (spec.md §4.6: "the set of valid
// feature names is fixed at load time").
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ints)+len(r.strs)+len(r.edges)+len(r.edgesVal)+len(r.computed))
	for name := range r.ints {
		out = append(out, name)
	}
	for name := range r.strs {
		out = append(out, name)
	}
	for name := range r.edges {
		out = append(out, name)
	}
	for name := range r.edgesVal {
		out = append(out, name)
	}
	for name := range r.computed {
		out = append(out, name)
	}
	return out
}
