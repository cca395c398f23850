package module

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

// Module 已加载的模块
type Module struct {
	Name     string // base name, like "libc.so.6"
	Path     string
	Base     uint64
	Size     uint64
	Sections []Section
}

// Contains reports whether addr lies in [Base, Base+Size).
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.Base+m.Size
}

// Section returns the section called name, compared after truncation.
func (m *Module) Section(name string) (Section, bool) {
	name = truncName(name)
	for _, s := range m.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Table is an in-memory module database. It is safe for concurrent use; the
// module list is replaced wholesale by Reset when the memory map changes.
type Table struct {
	mu      sync.RWMutex
	modules []*Module // sorted by Base
}

// NewTable returns a table holding mods.
func NewTable(mods ...*Module) *Table {
	t := &Table{}
	t.Reset(mods)
	return t
}

// Reset replaces the module list.
func (t *Table) Reset(mods []*Module) {
	sorted := make([]*Module, len(mods))
	copy(sorted, mods)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	for _, m := range sorted {
		for i := range m.Sections {
			m.Sections[i].Name = truncName(m.Sections[i].Name)
		}
	}

	t.mu.Lock()
	t.modules = sorted
	t.mu.Unlock()
}

// Add inserts a module.
func (t *Table) Add(m *Module) {
	t.mu.RLock()
	mods := append([]*Module{}, t.modules...)
	t.mu.RUnlock()

	t.Reset(append(mods, m))
}

// Modules returns a snapshot of the modules ordered by base address.
func (t *Table) Modules() []*Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Module{}, t.modules...)
}

// FromAddr returns the module containing addr.
func (t *Table) FromAddr(addr uint64) (*Module, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.modules {
		if m.Contains(addr) {
			return m, true
		}
	}
	return nil, false
}

// FromName returns the module whose name matches, ignoring case and an
// optional path prefix.
func (t *Table) FromName(name string) (*Module, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	name = strings.ToLower(filepath.Base(name))
	for _, m := range t.modules {
		if strings.ToLower(m.Name) == name {
			return m, true
		}
	}
	// allow the name without extension, like "libc" for "libc.so.6"
	for _, m := range t.modules {
		if strings.HasPrefix(strings.ToLower(m.Name), name+".") {
			return m, true
		}
	}
	return nil, false
}

func (t *Table) SectionsContaining(addr uint64) []Section {
	m, ok := t.FromAddr(addr)
	if !ok {
		return nil
	}
	return append([]Section{}, m.Sections...)
}

// NameFromAddr returns the name of the module containing addr.
func (t *Table) NameFromAddr(addr uint64) (string, bool) {
	m, ok := t.FromAddr(addr)
	if !ok {
		return "", false
	}
	return m.Name, true
}

// BaseFromAddr returns the base of the module containing addr, 0 if none.
func (t *Table) BaseFromAddr(addr uint64) uint64 {
	m, ok := t.FromAddr(addr)
	if !ok {
		return 0
	}
	return m.Base
}

// SizeFromAddr returns the size of the module containing addr, 0 if none.
func (t *Table) SizeFromAddr(addr uint64) uint64 {
	m, ok := t.FromAddr(addr)
	if !ok {
		return 0
	}
	return m.Size
}

// BaseFromName returns the base of the named module, 0 if none.
func (t *Table) BaseFromName(name string) uint64 {
	m, ok := t.FromName(name)
	if !ok {
		return 0
	}
	return m.Base
}

// PathFromAddr returns the file path of the module containing addr.
func (t *Table) PathFromAddr(addr uint64) (string, bool) {
	m, ok := t.FromAddr(addr)
	if !ok {
		return "", false
	}
	return m.Path, true
}

// PathFromName returns the file path of the named module.
func (t *Table) PathFromName(name string) (string, bool) {
	m, ok := t.FromName(name)
	if !ok {
		return "", false
	}
	return m.Path, true
}

// FromRegions groups file backed regions by path into modules. A module
// spans from its lowest to its highest mapping; sections are left empty.
func FromRegions(regions []memory.Region) []*Module {
	byPath := map[string]*Module{}
	var order []string

	for _, r := range regions {
		if r.Path == "" || strings.HasPrefix(r.Path, "[") {
			continue
		}
		m, ok := byPath[r.Path]
		if !ok {
			m = &Module{Name: filepath.Base(r.Path), Path: r.Path, Base: r.Start}
			byPath[r.Path] = m
			order = append(order, r.Path)
		}
		if r.Start < m.Base {
			m.Size += m.Base - r.Start
			m.Base = r.Start
		}
		if end := r.End; end > m.Base+m.Size {
			m.Size = end - m.Base
		}
	}

	mods := make([]*Module, 0, len(order))
	for _, p := range order {
		mods = append(mods, byPath[p])
	}
	return mods
}
