package symbol

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeSelf(t *testing.T) *LineTable {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	tab, err := Analyze(exe, 0, 16)
	if err != nil {
		t.Skipf("test binary has no usable DWARF: %v", err)
	}
	return tab
}

// built with -trimpath the recorded paths are not on disk
func skipWithoutSource(t *testing.T, file string) {
	t.Helper()
	if _, err := os.Stat(file); err != nil {
		t.Skipf("source %s not on disk", file)
	}
}

func TestSourceFromAddr(t *testing.T) {
	tab := analyzeSelf(t)

	pc, file, line, ok := runtime.Caller(0)
	require.True(t, ok)
	skipWithoutSource(t, file)

	// pc is a return address, pc-1 belongs to the call
	got, gotLine, ok := tab.SourceFromAddr(uint64(pc - 1))
	require.True(t, ok)
	assert.Equal(t, filepath.ToSlash(file), filepath.ToSlash(got))
	assert.Equal(t, line, gotLine)

	// cached answer is the same
	got2, gotLine2, ok := tab.SourceFromAddr(uint64(pc - 1))
	assert.True(t, ok)
	assert.Equal(t, got, got2)
	assert.Equal(t, gotLine, gotLine2)

	_, _, ok = tab.SourceFromAddr(0)
	assert.False(t, ok)

	fn, ok := tab.PCToFunction(uint64(pc))
	require.True(t, ok)
	assert.Equal(t, "github.com/hitzhangjie/dbgfuncs/pkg/symbol.TestSourceFromAddr", fn.Name())
}

func TestAddrFromLine(t *testing.T) {
	tab := analyzeSelf(t)

	_, file, line, ok := runtime.Caller(0)
	require.True(t, ok)
	skipWithoutSource(t, file)

	addr, ok := tab.AddrFromLine(file, line)
	require.True(t, ok)

	got, gotLine, ok := tab.SourceFromAddr(addr)
	require.True(t, ok)
	assert.Equal(t, filepath.ToSlash(file), filepath.ToSlash(got))
	assert.Equal(t, line, gotLine)

	// suffix lookup
	addr2, ok := tab.AddrFromLine("symbol/binary_test.go", line)
	assert.True(t, ok)
	assert.Equal(t, addr, addr2)

	_, ok = tab.AddrFromLine("no_such_file.go", 1)
	assert.False(t, ok)
}

func TestMissingSourceFile(t *testing.T) {
	tab := analyzeSelf(t)
	tab.fileExists = func(string) bool { return false }

	pc, _, _, _ := runtime.Caller(0)
	file, _, ok := tab.SourceFromAddr(uint64(pc - 1))
	assert.False(t, ok)
	assert.NotEmpty(t, file)
}
