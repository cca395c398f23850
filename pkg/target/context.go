package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrThreadNotExisted = errors.New("thread not existed")
	ErrNoTIB            = errors.New("thread has no thread information block")
	ErrProtectTracee    = errors.New("changing page protection of a traced process needs an mprotect syscall injected into the tracee, which the ptrace backend does not do")
)

// Context 线程上下文（寄存器快照）
//
// StackLimit and StackBase bound the thread's stack as [StackLimit, StackBase);
// both are zero when unknown.
type Context struct {
	TID        int
	PC         uint64
	SP         uint64
	BP         uint64
	StackBase  uint64
	StackLimit uint64
	Regs       map[string]uint64
}

// Register returns the value of a register by case-insensitive name.
func (c Context) Register(name string) (uint64, bool) {
	switch strings.ToLower(name) {
	case "pc", "rip", "eip", "ip":
		return c.PC, true
	case "sp", "rsp", "esp":
		return c.SP, true
	case "bp", "rbp", "ebp":
		return c.BP, true
	}
	v, ok := c.Regs[strings.ToLower(name)]
	return v, ok
}

// ContextProvider gives the register state and the exception registration
// head of a specific, stopped thread.
type ContextProvider interface {
	ThreadContext(tid int) (Context, error)
	SEHHead(tid int) (uint64, error)
}

// StaticProvider serves fixed thread contexts, used by tests and the demo
// session.
type StaticProvider struct {
	mu       sync.RWMutex
	contexts map[int]Context
	sehHeads map[int]uint64
}

// NewStaticProvider returns an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		contexts: map[int]Context{},
		sehHeads: map[int]uint64{},
	}
}

// SetContext stores ctx under ctx.TID.
func (p *StaticProvider) SetContext(ctx Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts[ctx.TID] = ctx
}

// SetSEHHead stores the exception registration head of tid.
func (p *StaticProvider) SetSEHHead(tid int, head uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sehHeads[tid] = head
}

func (p *StaticProvider) ThreadContext(tid int) (Context, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ctx, ok := p.contexts[tid]
	if !ok {
		return Context{}, fmt.Errorf("thread %d: %w", tid, ErrThreadNotExisted)
	}
	return ctx, nil
}

func (p *StaticProvider) SEHHead(tid int) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.contexts[tid]; !ok {
		return 0, fmt.Errorf("thread %d: %w", tid, ErrThreadNotExisted)
	}
	head, ok := p.sehHeads[tid]
	if !ok {
		return 0, fmt.Errorf("thread %d: %w", tid, ErrNoTIB)
	}
	return head, nil
}

// ThreadIDs returns the known thread ids in ascending order.
func (p *StaticProvider) ThreadIDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tids := make([]int, 0, len(p.contexts))
	for tid := range p.contexts {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids
}
