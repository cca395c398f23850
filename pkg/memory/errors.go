package memory

import (
	"errors"
	"fmt"
)

var (
	ErrUnmapped  = errors.New("memory not mapped")
	ErrProtected = errors.New("memory protected")
)

// AccessError records a failed read or write and the address it was issued at.
type AccessError struct {
	Op   string // "read" or "write"
	Addr uint64
	Len  int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %d bytes at %#x: %v", e.Op, e.Len, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}
