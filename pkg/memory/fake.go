package memory

import (
	"sort"
	"sync"

	"github.com/hitzhangjie/dbgfuncs/pkg/addrrange"
)

type fakePage struct {
	data  [addrrange.PageSize]byte
	perms string
}

// Fake is a sparse, page granular in-memory address space. It implements
// Accessor, Mapper and ExecChecker and backs the tests and the demo session.
type Fake struct {
	mu    sync.RWMutex
	pages map[uint64]*fakePage // key=page base

	reads  int
	writes int
}

// NewFake returns an empty address space.
func NewFake() *Fake {
	return &Fake{pages: map[uint64]*fakePage{}}
}

func pageBase(addr uint64) uint64 {
	return addr &^ (addrrange.PageSize - 1)
}

// Map maps the pages covering [addr, addr+size) with perms ("rwx" style).
// Already mapped pages keep their contents and get the new perms.
func (f *Fake) Map(addr, size uint64, perms string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.eachPage(addr, size, func(base uint64) {
		p, ok := f.pages[base]
		if !ok {
			p = &fakePage{}
			f.pages[base] = p
		}
		p.perms = perms
	})
}

// Unmap removes the pages covering [addr, addr+size).
func (f *Fake) Unmap(addr, size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.eachPage(addr, size, func(base uint64) {
		delete(f.pages, base)
	})
}

// Protect changes the perms of the pages covering [addr, addr+size). Every
// page must be mapped, otherwise nothing changes.
func (f *Fake) Protect(addr, size uint64, perms string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	f.eachPage(addr, size, func(base uint64) {
		if _, ok := f.pages[base]; !ok && err == nil {
			err = &AccessError{Op: "protect", Addr: base, Len: int(size), Err: ErrUnmapped}
		}
	})
	if err != nil {
		return err
	}
	f.eachPage(addr, size, func(base uint64) {
		f.pages[base].perms = perms
	})
	return nil
}

// eachPage calls fn for the base of every page covering [addr, addr+size),
// including the last page of the address space.
func (f *Fake) eachPage(addr, size uint64, fn func(base uint64)) {
	if size == 0 {
		return
	}
	last := pageBase(addr + size - 1)
	for base := pageBase(addr); ; base += addrrange.PageSize {
		fn(base)
		if base == last {
			return
		}
	}
}

// Poke writes data ignoring page protections, the pages must be mapped.
func (f *Fake) Poke(addr uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, b := range data {
		a := addr + uint64(i)
		p, ok := f.pages[pageBase(a)]
		if !ok {
			panic("poke unmapped memory")
		}
		p.data[a-pageBase(a)] = b
	}
}

// PokePointer writes a little endian pointer ignoring page protections.
func (f *Fake) PokePointer(addr, v uint64, ptrSize int) {
	f.Poke(addr, EncodePointer(v, ptrSize))
}

// check verifies every byte of [addr, addr+n) is mapped with perm.
func (f *Fake) check(addr uint64, n int, perm byte) error {
	for i := 0; i < n; i++ {
		a := addr + uint64(i)
		p, ok := f.pages[pageBase(a)]
		if !ok {
			return ErrUnmapped
		}
		var idx int
		switch perm {
		case 'r':
			idx = 0
		case 'w':
			idx = 1
		}
		if len(p.perms) <= idx || p.perms[idx] != perm {
			return ErrProtected
		}
	}
	return nil
}

func (f *Fake) ReadMemory(addr uint64, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if err := f.check(addr, n, 'r'); err != nil {
		return nil, &AccessError{Op: "read", Addr: addr, Len: n, Err: err}
	}

	buf := make([]byte, n)
	for i := range buf {
		a := addr + uint64(i)
		buf[i] = f.pages[pageBase(a)].data[a-pageBase(a)]
	}
	return buf, nil
}

func (f *Fake) WriteMemory(addr uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++
	if err := f.check(addr, len(data), 'w'); err != nil {
		return &AccessError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}

	for i, b := range data {
		a := addr + uint64(i)
		f.pages[pageBase(a)].data[a-pageBase(a)] = b
	}
	return nil
}

// Regions merges adjacent pages with equal perms into regions.
func (f *Fake) Regions() ([]Region, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bases := make([]uint64, 0, len(f.pages))
	for base := range f.pages {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	var regions []Region
	for _, base := range bases {
		perms := f.pages[base].perms
		if n := len(regions); n > 0 && regions[n-1].End == base && regions[n-1].Perms == perms {
			regions[n-1].End += addrrange.PageSize
			continue
		}
		regions = append(regions, Region{Start: base, End: base + addrrange.PageSize, Perms: perms})
	}
	return regions, nil
}

func (f *Fake) IsExecutable(addr uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pages[pageBase(addr)]
	return ok && len(p.perms) > 2 && p.perms[2] == 'x'
}

// Stats returns the number of ReadMemory and WriteMemory calls served.
func (f *Fake) Stats() (reads, writes int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reads, f.writes
}
