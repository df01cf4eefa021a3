package storage

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapping owns either a shared read-only memory mapping of an on-disk
// array file, or (after a RAM preload) an owned anonymous byte slice.
// It never holds a pointer into Go-managed memory from mmap'd bytes;
// callers read through Bytes().
type Mapping struct {
	file   *os.File
	mapped mmap.MMap
	owned  []byte
}

// OpenMapping memory-maps path read-only. The returned Mapping keeps
// the underlying *os.File open for the lifetime of the mapping; Close
// unmaps and closes it.
func OpenMapping(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s: %w", path, err)
	}
	return &Mapping{file: f, mapped: m}, nil
}

// NewOwnedMapping wraps an already-owned byte slice (e.g. a RAM preload
// copy or an in-memory test fixture) as a Mapping. It never opens or
// maps a file.
func NewOwnedMapping(b []byte) *Mapping {
	return &Mapping{owned: b}
}

// Bytes returns the mapping's contents, mapped or owned alike.
func (m *Mapping) Bytes() []byte {
	if m.owned != nil {
		return m.owned
	}
	return m.mapped
}

// Len returns len(m.Bytes()).
func (m *Mapping) Len() int {
	return len(m.Bytes())
}

// IsMapped reports whether this Mapping is backed by a real memory map
// (as opposed to an owned RAM copy).
func (m *Mapping) IsMapped() bool {
	return m.mapped != nil
}

// Close unmaps and closes the underlying file, if any. Owned mappings
// are simply dropped.
func (m *Mapping) Close() error {
	if m.mapped != nil {
		if err := m.mapped.Unmap(); err != nil {
			return fmt.Errorf("storage: unmap: %w", err)
		}
		m.mapped = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("storage: close: %w", err)
		}
		m.file = nil
	}
	return nil
}

// Preload returns a new Mapping that owns an independent RAM copy of
// this mapping's bytes, bypassing the page cache for hot iteration.
func (m *Mapping) Preload() *Mapping {
	b := make([]byte, m.Len())
	copy(b, m.Bytes())
	return NewOwnedMapping(b)
}
