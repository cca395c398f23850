package target

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

var detachThread = unix.PtraceDetach

// Attach trace一个目标进程的所有线程，ptrSize为被调试程序的指针大小(4或8)
func Attach(pid, ptrSize int) (*Process, error) {
	if err := checkPtrSize(ptrSize); err != nil {
		return nil, err
	}

	p := newProcess(pid)
	p.PtrSize = ptrSize

	var err error
	p.ExecPtrace(func() {
		// attach to running process (thread)
		err = p.attach(pid)
	})
	if err != nil {
		p.StopPtrace()
		return nil, err
	}

	err = p.setup(
		func() (err error) {
			p.Command, err = readProcComm(pid)
			return
		},
		func() (err error) {
			p.Args, err = readProcCommArgs(pid)
			return
		},
		func() (err error) {
			// attach to other threads, and prepare to trace newly created thread
			p.ExecPtrace(func() {
				err = p.updateThreadList()
			})
			return
		},
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// attach attach to process pid
func (p *Process) attach(pid int) error {
	if err := unix.Kill(pid, 0); err != nil {
		return fmt.Errorf("process %d not existed: %v", pid, err)
	}

	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("process %d attached error: %v", pid, err)
	}
	p.log.Debugf("process %d attached succ", pid)

	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, unix.WALL, nil); err != nil {
		return fmt.Errorf("process %d waited error: %v", pid, err)
	}
	p.log.Debugf("process %d stopped: %v", pid, status.Stopped())

	p.Threads[pid] = &Thread{Tid: pid, Process: p}
	return nil
}

func (p *Process) updateThreadList() error {
	tids, err := readProcTasks(p.Pid)
	if err != nil {
		return fmt.Errorf("load threads err: %v", err)
	}

	for _, tid := range tids {
		if _, ok := p.Threads[tid]; !ok {
			err = unix.PtraceAttach(tid)
			if err != nil && err != unix.EPERM {
				// Maybe we have traced tid via PTRACE_O_TRACECLONE.
				// If we try to attach to it again, it will fail.
				// We should ignore this kind of error.
				return fmt.Errorf("attach err: %v", err)
			}

			var status unix.WaitStatus
			if _, err = unix.Wait4(tid, &status, unix.WALL, nil); err != nil {
				return fmt.Errorf("wait err: %v", err)
			}
			if status.Exited() {
				p.log.Debugf("thread:%d already exited", tid)
				continue
			}
			p.Threads[tid] = &Thread{Tid: tid, Process: p}
		}

		if err = unix.PtraceSetOptions(tid, unix.PTRACE_O_TRACECLONE); err != nil {
			return fmt.Errorf("set PTRACE_O_TRACECLONE err: %v", err)
		}
	}
	return nil
}

// ReadMemory 读取内存地址addr处的n个字节
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	var (
		buf   = make([]byte, n)
		count int
		err   error
	)
	p.ExecPtrace(func() {
		count, err = unix.PtracePeekData(p.Pid, uintptr(addr), buf)
	})
	if err == nil && count != n {
		err = memory.ErrUnmapped
	}
	if err != nil {
		return nil, &memory.AccessError{Op: "read", Addr: addr, Len: n, Err: err}
	}
	return buf, nil
}

// WriteMemory 将data写入内存地址addr处
//
// PTRACE_POKEDATA writes word by word, so the whole range is peeked first:
// an unmapped tail fails the write before anything is modified.
func (p *Process) WriteMemory(addr uint64, data []byte) error {
	if _, err := p.ReadMemory(addr, len(data)); err != nil {
		return &memory.AccessError{Op: "write", Addr: addr, Len: len(data), Err: memory.ErrUnmapped}
	}

	var (
		count int
		err   error
	)
	p.ExecPtrace(func() {
		count, err = unix.PtracePokeData(p.Pid, uintptr(addr), data)
	})
	if err == nil && count != len(data) {
		err = memory.ErrProtected
	}
	if err != nil {
		return &memory.AccessError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

func (p *Process) getRegs(tid int) (*unix.PtraceRegs, error) {
	if _, ok := p.Threads[tid]; !ok {
		return nil, fmt.Errorf("thread %d: %w", tid, ErrThreadNotExisted)
	}

	var (
		regs unix.PtraceRegs
		err  error
	)
	p.ExecPtrace(func() {
		err = unix.PtraceGetRegs(tid, &regs)
	})
	if err != nil {
		return nil, fmt.Errorf("get regs error: %v", err)
	}
	return &regs, nil
}

// ThreadContext 读取线程tid的寄存器
func (p *Process) ThreadContext(tid int) (Context, error) {
	regs, err := p.getRegs(tid)
	if err != nil {
		return Context{}, err
	}

	ctx := Context{
		TID: tid,
		PC:  regs.Rip,
		SP:  regs.Rsp,
		BP:  regs.Rbp,
		Regs: map[string]uint64{
			"rax": regs.Rax, "rbx": regs.Rbx, "rcx": regs.Rcx, "rdx": regs.Rdx,
			"rsi": regs.Rsi, "rdi": regs.Rdi, "r8": regs.R8, "r9": regs.R9,
			"r10": regs.R10, "r11": regs.R11, "r12": regs.R12, "r13": regs.R13,
			"r14": regs.R14, "r15": regs.R15, "eflags": regs.Eflags,
			"fs_base": regs.Fs_base, "gs_base": regs.Gs_base,
		},
	}
	p.stackBounds(&ctx)
	return ctx, nil
}

// SEHHead reads NT_TIB.ExceptionList, the first field of the thread
// information block. Windows binaries running under Wine keep the TIB at the
// fs base (32-bit) or gs base (64-bit).
func (p *Process) SEHHead(tid int) (uint64, error) {
	regs, err := p.getRegs(tid)
	if err != nil {
		return 0, err
	}

	tib := p.tibAddr(regs.Fs_base, regs.Gs_base)
	if tib == 0 {
		return 0, fmt.Errorf("thread %d: %w", tid, ErrNoTIB)
	}
	return memory.ReadPointer(p, tib, p.PtrSize)
}

// String describes the process for the shell prompt.
func (p *Process) String() string {
	return fmt.Sprintf("%d(%s %s)", p.Pid, p.Command, strings.Join(p.Args, " "))
}
