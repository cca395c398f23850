// Package seh walks the structured exception handler chain of a thread.
//
// Each registration record is {next *record, handler uintptr}; the head is
// read from the thread information block and the chain ends with a record
// whose next pointer has all bits set.
package seh

import (
	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

// DefaultMaxHops is the longest chain walked before it is treated as corrupt.
const DefaultMaxHops = 256

// Record SEH链上的一项
type Record struct {
	Addr    uint64 // address of the registration record
	Handler uint64 // exception handler
}

// StopReason tells why a walk ended.
type StopReason int

const (
	StopEndOfChain StopReason = iota
	StopReadFailed
	StopCycle
	StopMaxHops
	StopNoHead
)

func (r StopReason) String() string {
	switch r {
	case StopEndOfChain:
		return "end of chain"
	case StopReadFailed:
		return "read failed"
	case StopCycle:
		return "cycle"
	case StopMaxHops:
		return "max hops"
	case StopNoHead:
		return "no head"
	}
	return "unknown"
}

// Chain is the handler chain of a thread, head (innermost handler) first.
type Chain struct {
	TID     int
	Records []Record
	Stop    StopReason
}

// Truncated reports whether the chain ended on corruption instead of the
// end-of-chain sentinel.
func (c Chain) Truncated() bool {
	return c.Stop != StopEndOfChain
}

// Walker walks SEH chains through a memory port.
type Walker struct {
	mem     memory.Accessor
	threads target.ContextProvider
	ptrSize int
	maxHops int

	log *logrus.Entry
}

// Option configures a Walker.
type Option func(*Walker)

// WithPtrSize sets the debuggee pointer size, 4 or 8.
func WithPtrSize(n int) Option {
	return func(w *Walker) {
		if n == 4 || n == 8 {
			w.ptrSize = n
		}
	}
}

// WithMaxHops sets the hop limit, non-positive values keep the default.
func WithMaxHops(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.maxHops = n
		}
	}
}

// NewWalker creates a walker.
func NewWalker(mem memory.Accessor, threads target.ContextProvider, opts ...Option) *Walker {
	w := &Walker{
		mem:     mem,
		threads: threads,
		ptrSize: 4,
		maxHops: DefaultMaxHops,
		log:     logflags.SEHLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk returns the chain of thread tid. An error is only returned when the
// chain head cannot be located; a damaged chain yields the records read so
// far.
func (w *Walker) Walk(tid int) (Chain, error) {
	head, err := w.threads.SEHHead(tid)
	if err != nil {
		return Chain{TID: tid, Stop: StopNoHead}, err
	}

	chain := w.WalkFrom(head)
	chain.TID = tid
	return chain, nil
}

// WalkFrom walks the chain starting at the record at head.
func (w *Walker) WalkFrom(head uint64) Chain {
	var (
		chain    Chain
		sentinel = memory.PointerMask(w.ptrSize)
		visited  = map[uint64]bool{}
	)

	for cur := head; ; {
		if cur == sentinel {
			chain.Stop = StopEndOfChain
			break
		}
		if visited[cur] {
			chain.Stop = StopCycle
			break
		}
		if len(chain.Records) >= w.maxHops {
			chain.Stop = StopMaxHops
			break
		}
		visited[cur] = true

		buf, err := w.mem.ReadMemory(cur, 2*w.ptrSize)
		if err != nil {
			w.log.Debugf("read record %#x: %v", cur, err)
			chain.Stop = StopReadFailed
			break
		}
		next := memory.DecodePointer(buf[:w.ptrSize], w.ptrSize)
		handler := memory.DecodePointer(buf[w.ptrSize:], w.ptrSize)

		chain.Records = append(chain.Records, Record{Addr: cur, Handler: handler})
		cur = next
	}

	if logflags.SEH() {
		w.log.Debugf("chain at %#x: %d records, stop: %s", head, len(chain.Records), chain.Stop)
		for i, r := range chain.Records {
			w.log.Debugf("  #%d %#x handler %#x", i, r.Addr, r.Handler)
		}
	}
	return chain
}
