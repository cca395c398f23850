package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgfuncs/pkg/bridge"
	"github.com/hitzhangjie/dbgfuncs/pkg/config"
	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/stack"
)

func TestDemoTarget(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		c := config.Default()
		c.PtrSize = ptrSize
		c.VerifyCall = true

		b := bridge.New(newDemoTarget(ptrSize), bridge.WithConfig(c), bridge.WithModules(demoModules...))
		fns := b.Functions()
		assert.Equal(t, demoTID, b.SelectedThread())

		res, err := fns.GetCallStack()
		require.NoError(t, err)
		require.Len(t, res.Frames, 2, "ptr size %d", ptrSize)
		assert.Equal(t, uint64(demoCodeBase+0x105), res.Frames[0].Addr)
		assert.Equal(t, uint64(demoCodeBase+0x205), res.Frames[1].Addr)
		assert.Equal(t, stack.StopInvalidAddr, res.Stop)

		chain, err := fns.GetSEHChain()
		require.NoError(t, err)
		require.Len(t, chain.Records, 2, "ptr size %d", ptrSize)
		assert.Equal(t, uint64(demoCodeBase+0x300), chain.Records[0].Handler)
		assert.False(t, chain.Truncated())

		sec, ok := fns.SectionFromAddr(demoCodeBase + 0x105)
		assert.True(t, ok)
		assert.Equal(t, ".text", sec)

		v, ok := fns.ValFromString("demo.exe!.data+rax")
		assert.True(t, ok)
		assert.Equal(t, uint64(2*demoDataBase), v)
	}
}

func TestLogFlagNamesInErrors(t *testing.T) {
	defer logflags.Reset()

	for _, name := range []string{config.KeyLog, config.KeyLogOutput} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
	err := logflags.Setup(false, "patch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--"+config.KeyLogOutput+" ")
	assert.Contains(t, err.Error(), "--"+config.KeyLog)
}
