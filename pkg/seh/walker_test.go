package seh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

const tid = 100

func setup(t *testing.T, ptrSize int) (*memory.Fake, *target.StaticProvider) {
	t.Helper()

	mem := memory.NewFake()
	mem.Map(0x6000, 0x1000, "rw-")

	p := target.NewStaticProvider()
	p.SetContext(target.Context{TID: tid})
	return mem, p
}

func record(mem *memory.Fake, addr, next, handler uint64, ptrSize int) {
	mem.PokePointer(addr, next, ptrSize)
	mem.PokePointer(addr+uint64(ptrSize), handler, ptrSize)
}

func TestWalkThreeRecords(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		mem, p := setup(t, ptrSize)
		end := memory.PointerMask(ptrSize)
		record(mem, 0x6100, 0x6200, 0x401000, ptrSize)
		record(mem, 0x6200, 0x6300, 0x402000, ptrSize)
		record(mem, 0x6300, end, 0x403000, ptrSize)
		p.SetSEHHead(tid, 0x6100)

		chain, err := NewWalker(mem, p, WithPtrSize(ptrSize)).Walk(tid)
		require.NoError(t, err)
		assert.Equal(t, []Record{
			{Addr: 0x6100, Handler: 0x401000},
			{Addr: 0x6200, Handler: 0x402000},
			{Addr: 0x6300, Handler: 0x403000},
		}, chain.Records)
		assert.Equal(t, StopEndOfChain, chain.Stop)
		assert.False(t, chain.Truncated())
		assert.Equal(t, tid, chain.TID)
	}
}

func TestWalkCycle(t *testing.T) {
	mem, p := setup(t, 4)
	record(mem, 0x6100, 0x6200, 0x401000, 4)
	record(mem, 0x6200, 0x6100, 0x402000, 4) // back to record 1
	p.SetSEHHead(tid, 0x6100)

	chain, err := NewWalker(mem, p).Walk(tid)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chain.Records), 2)
	assert.Equal(t, StopCycle, chain.Stop)
	assert.True(t, chain.Truncated())
}

func TestWalkMaxHops(t *testing.T) {
	mem, p := setup(t, 4)
	for i := uint64(0); i < 16; i++ {
		addr := 0x6000 + i*8
		record(mem, addr, addr+8, 0x401000+i, 4)
	}
	p.SetSEHHead(tid, 0x6000)

	chain, err := NewWalker(mem, p, WithMaxHops(5)).Walk(tid)
	require.NoError(t, err)
	assert.Len(t, chain.Records, 5)
	assert.Equal(t, StopMaxHops, chain.Stop)
}

func TestWalkReadFailure(t *testing.T) {
	mem, p := setup(t, 4)
	record(mem, 0x6100, 0x9000, 0x401000, 4) // next is unmapped
	p.SetSEHHead(tid, 0x6100)

	chain, err := NewWalker(mem, p).Walk(tid)
	require.NoError(t, err)
	assert.Len(t, chain.Records, 1)
	assert.Equal(t, StopReadFailed, chain.Stop)
}

func TestWalkEmptyAndNoHead(t *testing.T) {
	mem, p := setup(t, 4)
	p.SetSEHHead(tid, 0xffffffff)

	w := NewWalker(mem, p)
	chain, err := w.Walk(tid)
	require.NoError(t, err)
	assert.Empty(t, chain.Records)
	assert.Equal(t, StopEndOfChain, chain.Stop)

	_, err = w.Walk(tid + 1)
	assert.ErrorIs(t, err, target.ErrThreadNotExisted)
}

func TestWalkLogsRecords(t *testing.T) {
	require.NoError(t, logflags.Setup(true, "seh"))
	defer logflags.Reset()

	mem, p := setup(t, 8)
	record(mem, 0x6100, memory.PointerMask(8), 0x401000, 8)
	p.SetSEHHead(tid, 0x6100)

	buf := &bytes.Buffer{}
	w := NewWalker(mem, p, WithPtrSize(8))
	w.log.Logger.SetOutput(buf)

	chain, err := w.Walk(tid)
	require.NoError(t, err)
	assert.Len(t, chain.Records, 1)
	assert.Contains(t, buf.String(), "#0 0x6100 handler 0x401000")
}
