package module

import (
	"debug/elf"
	"fmt"

	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

// LoadSections reads the allocated sections of the ELF file at path and
// relocates them to the module mapped at base. For ET_EXEC images the link
// addresses are absolute and base is ignored.
func LoadSections(path string, base uint64) ([]Section, error) {
	file, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer file.Close()

	bias := imageBias(file, base)

	var sections []Section
	for _, sec := range file.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Size == 0 || sec.Addr == 0 {
			continue
		}
		sections = append(sections, Section{
			Name: truncName(sec.Name),
			Base: sec.Addr + bias,
			Size: sec.Size,
		})
	}
	return sections, nil
}

// LoadBias returns the difference between the run-time and link-time
// addresses of the ELF image at path mapped at base.
func LoadBias(path string, base uint64) (uint64, error) {
	file, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer file.Close()
	return imageBias(file, base), nil
}

// imageBias is base minus the lowest PT_LOAD vaddr for ET_DYN images.
func imageBias(file *elf.File, base uint64) uint64 {
	if file.Type != elf.ET_DYN {
		return 0
	}
	low := ^uint64(0)
	for _, prog := range file.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < low {
			low = prog.Vaddr
		}
	}
	if low == ^uint64(0) {
		return 0
	}
	return base - (low &^ 0xfff)
}

// LoadModules builds modules from the memory map of mapper, filling sections
// from each module's ELF file. Files that cannot be parsed keep an empty
// section list.
func LoadModules(mapper memory.Mapper) ([]*Module, error) {
	regions, err := mapper.Regions()
	if err != nil {
		return nil, err
	}

	mods := FromRegions(regions)
	for _, m := range mods {
		sections, err := LoadSections(m.Path, m.Base)
		if err != nil {
			continue
		}
		m.Sections = sections
	}
	return mods, nil
}
