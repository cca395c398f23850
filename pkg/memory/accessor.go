// Package memory defines the port through which debugger components read and
// write debuggee memory, plus the memory-map model used to validate addresses.
package memory

import "encoding/binary"

// Accessor reads and writes debuggee memory.
//
// Implementations must not perform partial writes: WriteMemory either writes
// all of data or returns an error with nothing written.
type Accessor interface {
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// Mapper enumerates the mapped regions of the debuggee.
type Mapper interface {
	Regions() ([]Region, error)
}

// Protector changes the protection of mapped pages. perms uses the
// /proc/pid/maps notation, like "r-xp".
type Protector interface {
	Protect(addr, size uint64, perms string) error
}

// ExecChecker reports whether an address is mapped executable code.
type ExecChecker interface {
	IsExecutable(addr uint64) bool
}

// ReadPointer reads a little endian pointer of ptrSize (4 or 8) bytes at addr.
func ReadPointer(mem Accessor, addr uint64, ptrSize int) (uint64, error) {
	buf, err := mem.ReadMemory(addr, ptrSize)
	if err != nil {
		return 0, err
	}
	return DecodePointer(buf, ptrSize), nil
}

// DecodePointer decodes a little endian pointer from buf.
func DecodePointer(buf []byte, ptrSize int) uint64 {
	if ptrSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return binary.LittleEndian.Uint64(buf)
}

// EncodePointer encodes v as a little endian pointer of ptrSize bytes.
func EncodePointer(v uint64, ptrSize int) []byte {
	buf := make([]byte, ptrSize)
	if ptrSize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf
	}
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// PointerMask returns the all-bits-set value for a pointer of ptrSize bytes.
func PointerMask(ptrSize int) uint64 {
	if ptrSize == 4 {
		return 0xffffffff
	}
	return ^uint64(0)
}
