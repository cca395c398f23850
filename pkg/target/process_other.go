//go:build !(linux && amd64)

package target

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("ptrace backend unsupported on %s/%s", runtime.GOOS, runtime.GOARCH)

var detachThread = func(tid int) error {
	return errUnsupported
}

// Attach is only implemented on linux/amd64.
func Attach(pid, ptrSize int) (*Process, error) {
	return nil, errUnsupported
}

func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	return nil, errUnsupported
}

func (p *Process) WriteMemory(addr uint64, data []byte) error {
	return errUnsupported
}

func (p *Process) ThreadContext(tid int) (Context, error) {
	return Context{}, errUnsupported
}

func (p *Process) SEHHead(tid int) (uint64, error) {
	return 0, errUnsupported
}

func (p *Process) String() string {
	return fmt.Sprintf("%d(%s)", p.Pid, p.Command)
}
