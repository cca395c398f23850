// Package module is the module database: loaded modules, their sections and
// lookups from an address to the module or section holding it.
package module

import (
	"github.com/hitzhangjie/dbgfuncs/pkg/addrrange"
)

// MaxSectionName bounds section names, including the terminator slot kept by
// the capability table's fixed-size name buffer.
const MaxSectionName = 10

// Section 模块内的一个节
type Section struct {
	Name string
	Base uint64
	Size uint64
}

// Contains reports whether addr falls in the section once its size is
// rounded up to the page granularity.
func (s Section) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.Base+addrrange.AlignUp(s.Size, addrrange.PageSize)
}

// Range returns the page aligned range the section covers, clamped at the top
// of the address space. The section must not be empty.
func (s Section) Range() addrrange.Range {
	r, _ := addrrange.FromLength(s.Base, int(addrrange.AlignUp(s.Size, addrrange.PageSize)))
	return r
}

// truncName bounds a section name to MaxSectionName-1 bytes.
func truncName(name string) string {
	if len(name) >= MaxSectionName {
		return name[:MaxSectionName-1]
	}
	return name
}

// Database is the source of module sections.
type Database interface {
	// SectionsContaining returns the sections of the module holding addr, in
	// the module's section order.
	SectionsContaining(addr uint64) []Section
}

// SectionFromAddr returns the first section, in enumeration order, whose page
// aligned range holds addr. Overlapping sections resolve to the first one.
func SectionFromAddr(db Database, addr uint64) (Section, bool) {
	for _, s := range db.SectionsContaining(addr) {
		if s.Contains(addr) {
			return s, true
		}
	}
	return Section{}, false
}
