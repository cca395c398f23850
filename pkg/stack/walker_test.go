package stack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

const (
	codeBase  = 0x400000
	stackBase = 0x7000
	stackTop  = 0x8000
)

func newTestMemory() *memory.Fake {
	mem := memory.NewFake()
	mem.Map(codeBase, 0x1000, "r-x")
	mem.Map(stackBase, 0x1000, "rw-")
	return mem
}

func TestScanStopsAtGarbage(t *testing.T) {
	mem := newTestMemory()

	rets := []uint64{0x400105, 0x400210, 0x400333}
	sp := uint64(0x7f00)
	for i, ret := range rets {
		mem.PokePointer(sp+uint64(i*8), ret, 8)
	}
	mem.PokePointer(sp+24, 0x4141414141414141, 8)
	mem.PokePointer(sp+32, 0x400444, 8) // valid, but after the garbage

	res := NewWalker(mem, mem).Walk(target.Context{TID: 1, SP: sp})
	require.Len(t, res.Frames, 3)
	for i, ret := range rets {
		assert.Equal(t, ret, res.Frames[i].Addr)
		assert.Equal(t, sp+uint64(i*8), res.Frames[i].StackAddr)
	}
	assert.Equal(t, StopInvalidAddr, res.Stop)
	assert.False(t, res.Truncated())
	assert.Equal(t, 1, res.TID)
}

func TestScanBounds(t *testing.T) {
	type arg struct {
		name   string
		ctx    target.Context
		opts   []Option
		frames int
		stop   StopReason
	}

	mem := newTestMemory()
	for slot := uint64(stackBase); slot < stackTop; slot += 8 {
		mem.PokePointer(slot, codeBase+0x10, 8)
	}

	args := []arg{
		{"max frames", target.Context{SP: 0x7000}, []Option{WithMaxFrames(10)}, 10, StopMaxFrames},
		{"default max frames", target.Context{SP: 0x7000}, nil, DefaultMaxFrames, StopMaxFrames},
		{"stack base", target.Context{SP: 0x7f00, StackBase: 0x7f18}, nil, 3, StopStackBase},
		{"read fails past mapping", target.Context{SP: 0x7ff0}, nil, 2, StopReadFailed},
	}

	for _, a := range args {
		t.Run(a.name, func(t *testing.T) {
			res := NewWalker(mem, mem, a.opts...).Walk(a.ctx)
			assert.Len(t, res.Frames, a.frames)
			assert.Equal(t, a.stop, res.Stop)
		})
	}
}

func TestScan32(t *testing.T) {
	mem := newTestMemory()
	mem.PokePointer(0x7f00, 0x400010, 4)
	mem.PokePointer(0x7f04, 0x400020, 4)
	mem.PokePointer(0x7f08, 0x12345678, 4)

	res := NewWalker(mem, mem, WithPtrSize(4)).Walk(target.Context{SP: 0x7f00})
	require.Len(t, res.Frames, 2)
	assert.Equal(t, uint64(0x400020), res.Frames[1].Addr)
	assert.Equal(t, uint64(0x7f04), res.Frames[1].StackAddr)
}

func TestVerifyCall(t *testing.T) {
	mem := newTestMemory()
	mem.Poke(0x400100, []byte{0xe8, 0x00, 0x00, 0x00, 0x00}) // call rel32
	mem.Poke(0x400180, []byte{0xff, 0xd0})                   // call rax

	mem.PokePointer(0x7f00, 0x400105, 8)
	mem.PokePointer(0x7f08, 0x400182, 8)
	mem.PokePointer(0x7f10, 0x400200, 8) // executable, but not after a call

	res := NewWalker(mem, mem).Walk(target.Context{SP: 0x7f00})
	assert.Len(t, res.Frames, 3)

	res = NewWalker(mem, mem, WithVerifyCall(true)).Walk(target.Context{SP: 0x7f00})
	require.Len(t, res.Frames, 2)
	assert.Equal(t, uint64(0x400182), res.Frames[1].Addr)
	assert.Equal(t, StopInvalidAddr, res.Stop)
}

func TestFramePointer(t *testing.T) {
	mem := newTestMemory()
	frame := func(bp, next, ret uint64) {
		mem.PokePointer(bp, next, 8)
		mem.PokePointer(bp+8, ret, 8)
	}
	frame(0x7e00, 0x7e40, 0x400100)
	frame(0x7e40, 0x7e80, 0x400200)
	frame(0x7e80, 0, 0x400300)

	w := NewWalker(mem, mem, WithMode(ModeFramePointer))
	res := w.Walk(target.Context{BP: 0x7e00, SP: 0x7df0})
	require.Len(t, res.Frames, 3)
	assert.Equal(t, []Frame{
		{StackAddr: 0x7e08, Addr: 0x400100},
		{StackAddr: 0x7e48, Addr: 0x400200},
		{StackAddr: 0x7e88, Addr: 0x400300},
	}, res.Frames)
	assert.Equal(t, StopEndOfChain, res.Stop)

	// chain pointing back down is corrupt
	frame(0x7e80, 0x7e00, 0x400300)
	res = w.Walk(target.Context{BP: 0x7e00})
	assert.Len(t, res.Frames, 3)
	assert.Equal(t, StopCorrupt, res.Stop)
	assert.True(t, res.Truncated())

	// bp outside the known stack
	res = w.Walk(target.Context{BP: 0x7e00, StackLimit: 0x7f00, StackBase: stackTop})
	assert.Len(t, res.Frames, 0)
	assert.Equal(t, StopStackBase, res.Stop)

	// invalid return address
	frame(0x7e40, 0x7e80, 0x4141)
	res = w.Walk(target.Context{BP: 0x7e00})
	assert.Len(t, res.Frames, 1)
	assert.Equal(t, StopInvalidAddr, res.Stop)
}

func TestWalkThread(t *testing.T) {
	mem := newTestMemory()
	mem.PokePointer(0x7f00, 0x400100, 8)

	p := target.NewStaticProvider()
	p.SetContext(target.Context{TID: 9, SP: 0x7f00})

	w := NewWalker(mem, mem)
	res, err := w.WalkThread(p, 9)
	require.NoError(t, err)
	assert.Len(t, res.Frames, 1)
	assert.Equal(t, 9, res.TID)

	_, err = w.WalkThread(p, 10)
	assert.ErrorIs(t, err, target.ErrThreadNotExisted)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("fp")
	require.NoError(t, err)
	assert.Equal(t, ModeFramePointer, m)
	assert.Equal(t, "framepointer", m.String())

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeScan, m)

	_, err = ParseMode("dwarf")
	assert.Error(t, err)
}

func TestWalkLogsFrames(t *testing.T) {
	mem := newTestMemory()
	mem.PokePointer(0x7f00, 0x400105, 8)

	for _, enabled := range []bool{false, true} {
		logflags.Reset()
		if enabled {
			require.NoError(t, logflags.Setup(true, "stack"))
		}
		buf := &bytes.Buffer{}
		w := NewWalker(mem, mem)
		w.log.Logger.SetOutput(buf)

		res := w.Walk(target.Context{TID: 1, SP: 0x7f00})
		require.Len(t, res.Frames, 1)
		if enabled {
			assert.Contains(t, buf.String(), "#0 [0x7f00] 0x400105")
		} else {
			assert.Empty(t, buf.String())
		}
	}
	logflags.Reset()
}
