// Package stack reconstructs the call stack of a stopped thread from raw
// debuggee memory.
package stack

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

// DefaultMaxFrames bounds a walk when no limit is configured.
const DefaultMaxFrames = 512

// Mode selects how return addresses are discovered.
type Mode int

const (
	// ModeScan reads consecutive pointer sized words upward from SP.
	ModeScan Mode = iota
	// ModeFramePointer follows the saved frame pointer chain from BP.
	ModeFramePointer
)

func (m Mode) String() string {
	switch m {
	case ModeScan:
		return "scan"
	case ModeFramePointer:
		return "framepointer"
	default:
		return "unknown"
	}
}

// ParseMode parses "scan" or "framepointer" ("fp").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "scan", "":
		return ModeScan, nil
	case "framepointer", "fp":
		return ModeFramePointer, nil
	}
	return ModeScan, fmt.Errorf("invalid walk mode: %s", s)
}

// StopReason tells why a walk ended.
type StopReason int

const (
	StopInvalidAddr StopReason = iota // candidate is not executable code
	StopEndOfChain                    // frame pointer chain ended with 0
	StopStackBase                     // reached the top of the stack mapping
	StopReadFailed                    // memory read failed
	StopMaxFrames                     // frame limit reached
	StopCorrupt                       // frame pointer chain did not move upward
)

var stopReasons = map[StopReason]string{
	StopInvalidAddr: "invalid address",
	StopEndOfChain:  "end of chain",
	StopStackBase:   "stack base",
	StopReadFailed:  "read failed",
	StopMaxFrames:   "max frames",
	StopCorrupt:     "corrupt chain",
}

func (r StopReason) String() string {
	return stopReasons[r]
}

// Frame 调用栈中的一帧
type Frame struct {
	StackAddr uint64 // where the return address is stored
	Addr      uint64 // return address
}

// Result is a finished walk. Frames are innermost first and owned by the
// caller.
type Result struct {
	TID    int
	Frames []Frame
	Stop   StopReason
}

// Truncated reports whether the walk was cut short by corruption or limits
// rather than by reaching a natural end.
func (r Result) Truncated() bool {
	switch r.Stop {
	case StopReadFailed, StopMaxFrames, StopCorrupt:
		return true
	}
	return false
}

// Walker walks the stack of a thread. A Walker holds no debuggee state and
// every Walk reads memory afresh.
type Walker struct {
	mem        memory.Accessor
	exec       memory.ExecChecker
	ptrSize    int
	maxFrames  int
	mode       Mode
	verifyCall bool

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

// WithMaxFrames sets the frame limit, non-positive values keep the default.
func WithMaxFrames(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.maxFrames = n
		}
	}
}

// WithMode sets the unwinding mode.
func WithMode(m Mode) Option {
	return func(w *Walker) {
		w.mode = m
	}
}

// WithVerifyCall requires every return address to follow a CALL instruction.
func WithVerifyCall(v bool) Option {
	return func(w *Walker) {
		w.verifyCall = v
	}
}

// NewWalker creates a walker reading through mem and validating candidates
// with exec.
func NewWalker(mem memory.Accessor, exec memory.ExecChecker, opts ...Option) *Walker {
	w := &Walker{
		mem:       mem,
		exec:      exec,
		ptrSize:   8,
		maxFrames: DefaultMaxFrames,
		mode:      ModeScan,
		log:       logflags.StackLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WalkThread fetches the context of tid from p and walks its stack.
func (w *Walker) WalkThread(p target.ContextProvider, tid int) (Result, error) {
	ctx, err := p.ThreadContext(tid)
	if err != nil {
		return Result{TID: tid}, err
	}
	return w.Walk(ctx), nil
}

// Walk reconstructs the return address chain of the thread described by ctx.
func (w *Walker) Walk(ctx target.Context) Result {
	var res Result
	switch w.mode {
	case ModeFramePointer:
		res = w.walkFramePointer(ctx)
	default:
		res = w.walkScan(ctx)
	}
	res.TID = ctx.TID
	if logflags.Stack() {
		w.log.Debugf("thread %d: %d frames, stop: %s", ctx.TID, len(res.Frames), res.Stop)
		for i, f := range res.Frames {
			w.log.Debugf("  #%d [%#x] %#x", i, f.StackAddr, f.Addr)
		}
	}
	return res
}

func (w *Walker) walkScan(ctx target.Context) Result {
	res := Result{}
	ptr := uint64(w.ptrSize)

	for slot := ctx.SP; ; slot += ptr {
		if len(res.Frames) >= w.maxFrames {
			res.Stop = StopMaxFrames
			return res
		}
		if w.beyondStack(ctx, slot) {
			res.Stop = StopStackBase
			return res
		}

		ret, err := memory.ReadPointer(w.mem, slot, w.ptrSize)
		if err != nil {
			w.log.Debugf("read stack slot %#x: %v", slot, err)
			res.Stop = StopReadFailed
			return res
		}
		if !w.isReturnAddress(ret) {
			res.Stop = StopInvalidAddr
			return res
		}
		res.Frames = append(res.Frames, Frame{StackAddr: slot, Addr: ret})
	}
}

// walkFramePointer follows [bp] (caller's bp) and [bp+ptr] (return address),
// the chain must strictly move toward the stack base.
func (w *Walker) walkFramePointer(ctx target.Context) Result {
	res := Result{}
	ptr := uint64(w.ptrSize)

	bp := ctx.BP
	for {
		if bp == 0 {
			res.Stop = StopEndOfChain
			return res
		}
		if len(res.Frames) >= w.maxFrames {
			res.Stop = StopMaxFrames
			return res
		}
		if w.beyondStack(ctx, bp+ptr) || (ctx.StackLimit != 0 && bp < ctx.StackLimit) {
			res.Stop = StopStackBase
			return res
		}

		buf, err := w.mem.ReadMemory(bp, 2*w.ptrSize)
		if err != nil {
			w.log.Debugf("read frame at %#x: %v", bp, err)
			res.Stop = StopReadFailed
			return res
		}
		next := memory.DecodePointer(buf[:w.ptrSize], w.ptrSize)
		ret := memory.DecodePointer(buf[w.ptrSize:], w.ptrSize)

		if !w.isReturnAddress(ret) {
			res.Stop = StopInvalidAddr
			return res
		}
		res.Frames = append(res.Frames, Frame{StackAddr: bp + ptr, Addr: ret})

		if next != 0 && next <= bp {
			res.Stop = StopCorrupt
			return res
		}
		bp = next
	}
}

// beyondStack reports whether a pointer sized read at addr crosses the stack
// base or wraps the address space.
func (w *Walker) beyondStack(ctx target.Context, addr uint64) bool {
	end := addr + uint64(w.ptrSize)
	if end < addr {
		return true
	}
	return ctx.StackBase != 0 && end > ctx.StackBase
}

func (w *Walker) isReturnAddress(addr uint64) bool {
	if addr == 0 || !w.exec.IsExecutable(addr) {
		return false
	}
	if !w.verifyCall {
		return true
	}
	return w.precededByCall(addr)
}

// callLengths are the encodings of near CALL, most common first:
// e8 rel32 (5), ff /2 with modrm variants (2, 3, 6, 7), ff /2 with SIB (4).
var callLengths = []int{5, 6, 2, 3, 7, 4}

// precededByCall reports whether the instruction that ends at ret is a CALL.
func (w *Walker) precededByCall(ret uint64) bool {
	mode := 64
	if w.ptrSize == 4 {
		mode = 32
	}

	for _, n := range callLengths {
		if ret < uint64(n) {
			continue
		}
		code, err := w.mem.ReadMemory(ret-uint64(n), n)
		if err != nil {
			continue
		}
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			continue
		}
		if inst.Len == n && inst.Op == x86asm.CALL {
			return true
		}
	}
	return false
}
