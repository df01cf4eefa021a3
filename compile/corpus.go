// Package compile turns a parsed SourceCorpus into a cache directory:
// manifest plus every column/pool/CSR array the facades read. It is the
// only package in this module that writes to disk.
package compile

import (
	"github.com/codykingham/context-fabric/storage"
)

// SourceCorpus is the parsed intermediate the compiler accepts. The
// authored textual format's tokenizer is out of scope; ParseSource is
// this package's own minimal front-end used to exercise Compile in
// tests.
type SourceCorpus struct {
	MaxSlot storage.NodeID
	MaxNode storage.NodeID
	Types   []TypeDecl

	// NodeSlots maps every non-slot node to the full, possibly
	// non-contiguous set of slots it directly covers. Slots are not
	// keyed here; a slot's own slot-set is itself.
	NodeSlots map[storage.NodeID][]storage.NodeID

	// IntFeatures/StrFeatures are per-node feature values, keyed by
	// feature name then node id. A node absent from the inner map has
	// no value (ABSENT).
	IntFeatures map[string]map[storage.NodeID]int64
	StrFeatures map[string]map[storage.NodeID]string

	// Edges holds valueless edge features: name -> source -> targets.
	Edges map[string]map[storage.NodeID][]uint32
	// EdgeIntValues/EdgeStrValues hold value-carrying edge features:
	// name -> source -> target -> value.
	EdgeIntValues map[string]map[storage.NodeID]map[uint32]int64
	EdgeStrValues map[string]map[storage.NodeID]map[uint32]string
}

// TypeDecl is one authored TYPE declaration.
type TypeDecl struct {
	Name    string
	Level   int
	FirstID storage.NodeID
	LastID  storage.NodeID
}

// NewSourceCorpus returns an empty corpus ready for incremental
// population by ParseSource or a caller building one programmatically.
func NewSourceCorpus(maxSlot, maxNode storage.NodeID) *SourceCorpus {
	return &SourceCorpus{
		MaxSlot:       maxSlot,
		MaxNode:       maxNode,
		NodeSlots:     make(map[storage.NodeID][]storage.NodeID),
		IntFeatures:   make(map[string]map[storage.NodeID]int64),
		StrFeatures:   make(map[string]map[storage.NodeID]string),
		Edges:         make(map[string]map[storage.NodeID][]uint32),
		EdgeIntValues: make(map[string]map[storage.NodeID]map[uint32]int64),
		EdgeStrValues: make(map[string]map[storage.NodeID]map[uint32]string),
	}
}

// slotSet returns the set of slots directly or transitively covered by
// n: itself if n is a slot, else NodeSlots[n].
func (s *SourceCorpus) slotSet(n storage.NodeID) []storage.NodeID {
	if n >= 1 && n <= s.MaxSlot {
		return []storage.NodeID{n}
	}
	return s.NodeSlots[n]
}
