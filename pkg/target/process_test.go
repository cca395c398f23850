package target

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
)

func TestCheckPtrSize(t *testing.T) {
	tests := []struct {
		size int
		ok   bool
	}{
		{4, true},
		{8, true},
		{0, false},
		{2, false},
		{16, false},
	}
	for _, tt := range tests {
		err := checkPtrSize(tt.size)
		assert.Equal(t, tt.ok, err == nil, "size %d", tt.size)
	}
}

func TestTIBAddr(t *testing.T) {
	tests := []struct {
		ptrSize int
		want    uint64
	}{
		{4, 0x7ffdf000},
		{8, 0x7fff0000},
	}
	for _, tt := range tests {
		p := newProcess(100)
		p.PtrSize = tt.ptrSize
		assert.Equal(t, tt.want, p.tibAddr(0x7ffdf000, 0x7fff0000), "ptr size %d", tt.ptrSize)
	}
}

func TestSetupReleasesThreadsOnError(t *testing.T) {
	p := newProcess(100)
	p.Threads[100] = &Thread{Tid: 100, Process: p}
	p.Threads[101] = &Thread{Tid: 101, Process: p}

	var detached []int
	p.detach = func(tid int) error {
		detached = append(detached, tid)
		return nil
	}

	boom := errors.New("read comm failed")
	ran := 0
	err := p.setup(
		func() error { ran++; return nil },
		func() error { ran++; return boom },
		func() error { ran++; return nil },
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)
	assert.Equal(t, []int{100, 101}, detached)
	assert.Empty(t, p.Threads)

	// the tracer goroutine is stopped, stopping again must not panic
	assert.NotPanics(t, p.StopPtrace)
}

func TestSetupKeepsThreadsOnSuccess(t *testing.T) {
	require.NoError(t, logflags.Setup(true, "target"))
	defer logflags.Reset()

	p := newProcess(100)
	buf := &bytes.Buffer{}
	p.log.Logger.SetOutput(buf)
	p.Threads[100] = &Thread{Tid: 100, Process: p}
	p.detach = func(tid int) error {
		t.Fatalf("unexpected detach of %d", tid)
		return nil
	}

	require.NoError(t, p.setup(func() error { return nil }))
	assert.Equal(t, []int{100}, p.ThreadIDs())
	assert.Contains(t, buf.String(), "attached, threads [100]")
}

func TestDetachKeepsFailedThreads(t *testing.T) {
	p := newProcess(100)
	p.Threads[100] = &Thread{Tid: 100, Process: p}
	p.Threads[101] = &Thread{Tid: 101, Process: p}
	p.detach = func(tid int) error {
		if tid == 101 {
			return errors.New("no such process")
		}
		return nil
	}

	assert.Error(t, p.Detach())
	assert.Equal(t, []int{101}, p.ThreadIDs())
}

func TestProcessProtect(t *testing.T) {
	p := newProcess(100)
	err := p.Protect(0x1000, 0x1000, "r-x")
	assert.ErrorIs(t, err, ErrProtectTracee)
}

func TestCapEffHasPtrace(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"no caps", "Name:\tbash\nCapEff:\t0000000000000000\n", false},
		{"full caps", "Name:\tbash\nCapEff:\t000001ffffffffff\n", true},
		{"only ptrace", "CapInh:\t0000000000000000\nCapEff:\t0000000000080000\n", true},
		{"other bits", "CapEff:\t0000000000040000\n", false},
		{"missing", "Name:\tbash\n", false},
		{"garbage", "CapEff:\tzz\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, capEffHasPtrace(strings.NewReader(tt.status)))
		})
	}
}
