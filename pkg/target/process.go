package target

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

// Process 被调试进程信息
//
// Process implements memory.Accessor, memory.Mapper and ContextProvider for a
// ptrace-attached process. Callers must only use it while the tracee is
// stopped.
type Process struct {
	Pid     int             // 进程ID
	Command string          // 进程名
	Args    []string        // 进程启动参数
	Threads map[int]*Thread // 包含的线程列表,k=tid,v=thread
	PtrSize int             // 被调试进程的指针大小

	once       *sync.Once
	stopOnce   *sync.Once
	ptraceCh   chan func() // ptrace请求统一发送到这里，由专门协程处理
	ptraceDone chan int    // ptrace请求完成
	stopCh     chan int    // 通知需要停止调试

	detach func(tid int) error // PTRACE_DETACH a single thread

	log *logrus.Entry
}

var (
	_ memory.Accessor  = (*Process)(nil)
	_ memory.Mapper    = (*Process)(nil)
	_ memory.Protector = (*Process)(nil)
	_ ContextProvider  = (*Process)(nil)
)

func newProcess(pid int) *Process {
	return &Process{
		Pid:        pid,
		Threads:    map[int]*Thread{},
		PtrSize:    8,
		once:       &sync.Once{},
		stopOnce:   &sync.Once{},
		ptraceCh:   make(chan func()),
		ptraceDone: make(chan int),
		stopCh:     make(chan int),
		detach:     detachThread,
		log:        logflags.TargetLogger().WithField("pid", pid),
	}
}

func checkPtrSize(n int) error {
	if n != 4 && n != 8 {
		return fmt.Errorf("invalid pointer size %d, want 4 or 8", n)
	}
	return nil
}

// setup runs the steps that follow the first PTRACE_ATTACH. When a step
// fails every thread traced so far is detached again, so the tracee is not
// left stopped.
func (p *Process) setup(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			if derr := p.Detach(); derr != nil {
				p.log.Debugf("release threads after failed attach: %v", derr)
			}
			return err
		}
	}
	if logflags.Target() {
		p.log.Debugf("attached, threads %v", p.ThreadIDs())
	}
	return nil
}

// Detach detaches all threads, the process keeps running.
func (p *Process) Detach() error {
	var lastErr error
	for _, tid := range p.ThreadIDs() {
		var err error
		p.ExecPtrace(func() {
			err = p.detach(tid)
		})
		if err != nil {
			p.log.Debugf("thread %d detached error: %v", tid, err)
			lastErr = err
			continue
		}
		delete(p.Threads, tid)
	}
	p.StopPtrace()
	return lastErr
}

// Protect always fails: a tracer can't change the tracee's page protection
// without running mprotect inside the tracee.
func (p *Process) Protect(addr, size uint64, perms string) error {
	return fmt.Errorf("protect %#x+%#x %s: %w", addr, size, perms, ErrProtectTracee)
}

// tibAddr picks the thread information block base: fs for 32-bit and gs for
// 64-bit debuggees.
func (p *Process) tibAddr(fsBase, gsBase uint64) uint64 {
	if p.PtrSize == 4 {
		return fsBase
	}
	return gsBase
}

// ExecPtrace runs fn on the tracer thread.
func (p *Process) ExecPtrace(fn func()) {
	p.once.Do(func() {
		go func() {
			// ensure all ptrace requests goes via the same tracer (thread)
			//
			// issue: https://github.com/golang/go/issues/7699
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-p.ptraceCh:
					reqFn()
					p.ptraceDone <- 1
				case <-p.stopCh:
					return
				}
			}
		}()
	})
	p.ptraceCh <- fn
	<-p.ptraceDone
}

// StopPtrace stops the tracer thread, later calls are no-ops.
func (p *Process) StopPtrace() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Regions loads the memory map from /proc/pid/maps.
func (p *Process) Regions() ([]memory.Region, error) {
	return readProcMaps(p.Pid)
}

// ThreadIDs returns the traced thread ids.
func (p *Process) ThreadIDs() []int {
	tids := make([]int, 0, len(p.Threads))
	for tid := range p.Threads {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids
}

// stackBounds fills the stack limits of ctx from the mapping holding SP.
func (p *Process) stackBounds(ctx *Context) {
	regions, err := p.Regions()
	if err != nil {
		p.log.Debugf("read maps: %v", err)
		return
	}
	if r, ok := memory.FindRegion(regions, ctx.SP); ok {
		ctx.StackLimit = r.Start
		ctx.StackBase = r.End
	}
}
