// Package addrrange provides the inclusive address interval shared by the
// patch store and the module section classifier.
package addrrange

import "fmt"

// PageSize 内存页大小，section大小按页对齐后再判断是否包含某个地址
const PageSize = 0x1000

// Range is an inclusive address interval [Start, End]. A Range built by New
// always satisfies Start <= End.
type Range struct {
	Start uint64
	End   uint64
}

// New returns the range covering start and end, swapping them if reversed.
func New(start, end uint64) Range {
	if start > end {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

// FromLength returns the range of n bytes starting at addr. ok is false when
// n <= 0 or the range would run past the top of the address space.
func FromLength(addr uint64, n int) (r Range, ok bool) {
	if n <= 0 {
		return Range{Start: addr, End: addr}, false
	}
	end := addr + uint64(n) - 1
	if end < addr {
		return Range{Start: addr, End: ^uint64(0)}, false
	}
	return Range{Start: addr, End: end}, true
}

// Contains reports whether addr lies within the range.
func (r Range) Contains(addr uint64) bool {
	return r.Start <= addr && addr <= r.End
}

// Len returns the number of addresses in the range. The full 64-bit address
// space saturates at the maximum uint64.
func (r Range) Len() uint64 {
	n := r.End - r.Start
	if n == ^uint64(0) {
		return n
	}
	return n + 1
}

// Each calls fn for every address from Start to End, stopping early when fn
// returns false. It does not wrap around when End is the last address.
func (r Range) Each(fn func(addr uint64) bool) {
	for addr := r.Start; ; addr++ {
		if !fn(addr) || addr == r.End {
			return
		}
	}
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x]", r.Start, r.End)
}

// AlignUp rounds size up to a multiple of align, align must be a power of two.
func AlignUp(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}
