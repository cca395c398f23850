package module

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

func newTestTable() *Table {
	return NewTable(
		&Module{
			Name: "libfoo.so.1",
			Path: "/usr/lib/libfoo.so.1",
			Base: 0x7f0000000000,
			Size: 0x10000,
			Sections: []Section{
				{Name: ".text", Base: 0x7f0000001000, Size: 0x1234},
				{Name: ".rodata", Base: 0x7f0000003000, Size: 0x100},
				{Name: ".data.rel.ro.local", Base: 0x7f0000005000, Size: 0x10},
			},
		},
		&Module{
			Name: "app",
			Path: "/opt/app",
			Base: 0x400000,
			Size: 0x5000,
			Sections: []Section{
				{Name: ".text", Base: 0x401000, Size: 0x2000},
				// overlaps .text, must never win
				{Name: ".fake", Base: 0x401000, Size: 0x3000},
			},
		},
	)
}

func TestSectionFromAddr(t *testing.T) {
	type arg struct {
		addr uint64
		name string
		ok   bool
	}

	tbl := newTestTable()
	args := []arg{
		{0x7f0000001000, ".text", true},
		{0x7f0000002233, ".text", true},
		// size 0x1234 rounds up to 0x2000
		{0x7f0000002fff, ".text", true},
		{0x7f0000003000, ".rodata", true},
		{0x7f0000003fff, ".rodata", true},
		{0x7f0000004000, "", false},
		{0x7f0000005008, ".data.rel", true},
		{0x401000, ".text", true},
		{0x403fff, ".fake", true},
		{0x300000, "", false},
	}

	for _, a := range args {
		s, ok := SectionFromAddr(tbl, a.addr)
		assert.Equal(t, a.ok, ok, "addr %#x", a.addr)
		assert.Equal(t, a.name, s.Name, "addr %#x", a.addr)
	}
}

func TestSectionNameBound(t *testing.T) {
	assert.Equal(t, ".data.rel", truncName(".data.rel.ro.local"))
	assert.Equal(t, ".text", truncName(".text"))
	assert.Len(t, truncName("0123456789abc"), MaxSectionName-1)
}

func TestTableLookups(t *testing.T) {
	tbl := newTestTable()

	mods := tbl.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "app", mods[0].Name)

	name, ok := tbl.NameFromAddr(0x7f0000000010)
	assert.True(t, ok)
	assert.Equal(t, "libfoo.so.1", name)

	assert.Equal(t, uint64(0x400000), tbl.BaseFromAddr(0x402000))
	assert.Equal(t, uint64(0x5000), tbl.SizeFromAddr(0x402000))
	assert.Equal(t, uint64(0), tbl.BaseFromAddr(0x10))
	assert.Equal(t, uint64(0x7f0000000000), tbl.BaseFromName("LIBFOO.SO.1"))
	assert.Equal(t, uint64(0x7f0000000000), tbl.BaseFromName("libfoo"))
	assert.Equal(t, uint64(0), tbl.BaseFromName("libbar"))

	path, ok := tbl.PathFromAddr(0x400000)
	assert.True(t, ok)
	assert.Equal(t, "/opt/app", path)
	path, ok = tbl.PathFromName("/somewhere/else/app")
	assert.True(t, ok)
	assert.Equal(t, "/opt/app", path)
	_, ok = tbl.PathFromName("nope")
	assert.False(t, ok)

	tbl.Add(&Module{Name: "vdso", Base: 0x1000, Size: 0x1000})
	assert.Equal(t, "vdso", tbl.Modules()[0].Name)
}

func TestFromRegions(t *testing.T) {
	regions := []memory.Region{
		{Start: 0x400000, End: 0x401000, Perms: "r--p", Path: "/opt/app"},
		{Start: 0x401000, End: 0x403000, Perms: "r-xp", Path: "/opt/app"},
		{Start: 0x600000, End: 0x601000, Perms: "rw-p", Path: "/opt/app"},
		{Start: 0x601000, End: 0x700000, Perms: "rw-p", Path: "[heap]"},
		{Start: 0x7f0000000000, End: 0x7f0000002000, Perms: "r-xp", Path: "/lib/libc.so.6"},
		{Start: 0x7ff000000000, End: 0x7ff000001000, Perms: "rw-p"},
	}

	mods := FromRegions(regions)
	require.Len(t, mods, 2)
	assert.Equal(t, "app", mods[0].Name)
	assert.Equal(t, uint64(0x400000), mods[0].Base)
	assert.Equal(t, uint64(0x201000), mods[0].Size)
	assert.Equal(t, "libc.so.6", mods[1].Name)
	assert.Equal(t, uint64(0x2000), mods[1].Size)
}

func TestLoadSections(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	sections, err := LoadSections(exe, 0x400000)
	if err != nil {
		t.Skipf("test binary is not ELF: %v", err)
	}
	require.NotEmpty(t, sections)

	found := false
	for _, s := range sections {
		assert.Less(t, len(s.Name), MaxSectionName)
		if s.Name == ".text" {
			found = true
		}
	}
	assert.True(t, found)

	_, err = LoadSections("/nonexistent/binary", 0)
	assert.Error(t, err)
}

func TestModuleSection(t *testing.T) {
	m := &Module{Name: "app", Sections: []Section{
		{Name: ".text", Base: 0x401000, Size: 0x100},
		{Name: ".data.rel", Base: 0x600000, Size: 0x10},
	}}

	s, ok := m.Section(".text")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x401000), s.Base)

	// compared after truncation
	s, ok = m.Section(".data.rel.ro")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x600000), s.Base)

	_, ok = m.Section(".bss")
	assert.False(t, ok)
}

func TestLoadBias(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	bias, err := LoadBias(exe, 0x400000)
	if err != nil {
		t.Skipf("test binary is not ELF: %v", err)
	}
	// a non-PIE test binary is linked at its load address
	if bias != 0 {
		assert.Equal(t, uint64(0), bias&0xfff)
	}
}
