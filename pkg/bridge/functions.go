package bridge

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hitzhangjie/dbgfuncs/pkg/addrrange"
	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/module"
	"github.com/hitzhangjie/dbgfuncs/pkg/patch"
	"github.com/hitzhangjie/dbgfuncs/pkg/seh"
	"github.com/hitzhangjie/dbgfuncs/pkg/stack"
	"github.com/hitzhangjie/dbgfuncs/pkg/symbol"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

// Functions 调试器能力表
//
// Every entry is safe to call from the goroutine driving the debugger.
// Variable length results are owned by the caller.
type Functions struct {
	SectionFromAddr    func(addr uint64) (string, bool)
	ModNameFromAddr    func(addr uint64, extension bool) (string, bool)
	ModBaseFromAddr    func(addr uint64) uint64
	ModBaseFromName    func(name string) uint64
	ModSizeFromAddr    func(addr uint64) uint64
	ModPathFromAddr    func(addr uint64) (string, bool)
	ModPathFromName    func(name string) (string, bool)
	PatchGet           func(addr uint64) bool
	PatchGetEx         func(addr uint64) (patch.Record, bool)
	PatchInRange       func(start, end uint64) bool
	MemPatch           func(addr uint64, src []byte) bool
	PatchRestoreRange  func(start, end uint64) int
	PatchEnum          func() []patch.Record
	PatchRestore       func(addr uint64) bool
	PatchFile          func(path string) error
	PatchLoad          func(path string) (patch.ImportResult, error)
	MemUpdateMap       func() error
	GetCallStack       func() (stack.Result, error)
	GetSEHChain        func() (seh.Chain, error)
	GetProcessList     func() ([]target.ProcessInfo, error)
	GetPageRights      func(addr uint64) (string, bool)
	PageRightsToString func(perms string) string
	SetPageRights      func(addr uint64, rights string) bool
	IsProcessElevated  func() bool
	GetAddrFromLine    func(file string, line int) uint64
	GetSourceFromAddr  func(addr uint64) (string, int, bool)
	ValFromString      func(s string) (uint64, bool)
}

// Functions returns the capability table bound to b.
func (b *Bridge) Functions() *Functions {
	return &Functions{
		SectionFromAddr:    b.SectionFromAddr,
		ModNameFromAddr:    b.ModNameFromAddr,
		ModBaseFromAddr:    b.modules.BaseFromAddr,
		ModBaseFromName:    b.modules.BaseFromName,
		ModSizeFromAddr:    b.modules.SizeFromAddr,
		ModPathFromAddr:    b.modules.PathFromAddr,
		ModPathFromName:    b.modules.PathFromName,
		PatchGet:           b.patches.IsPatched,
		PatchGetEx:         b.patches.Get,
		PatchInRange:       b.PatchInRange,
		MemPatch:           b.patches.MemPatch,
		PatchRestoreRange:  b.PatchRestoreRange,
		PatchEnum:          b.patches.Enumerate,
		PatchRestore:       b.patches.Restore,
		PatchFile:          b.PatchFile,
		PatchLoad:          b.PatchLoad,
		MemUpdateMap:       b.MemUpdateMap,
		GetCallStack:       b.GetCallStack,
		GetSEHChain:        b.GetSEHChain,
		GetProcessList:     b.GetProcessList,
		GetPageRights:      b.GetPageRights,
		PageRightsToString: memory.RightsToString,
		SetPageRights:      b.SetPageRights,
		IsProcessElevated:  b.IsProcessElevated,
		GetAddrFromLine:    b.GetAddrFromLine,
		GetSourceFromAddr:  b.GetSourceFromAddr,
		ValFromString:      b.ValFromString,
	}
}

// SectionFromAddr returns the name of the section holding addr.
func (b *Bridge) SectionFromAddr(addr uint64) (string, bool) {
	s, ok := module.SectionFromAddr(b.modules, addr)
	if !ok {
		return "", false
	}
	return s.Name, true
}

// ModNameFromAddr returns the name of the module holding addr. Without
// extension the name is cut at its first dot, "libc.so.6" becomes "libc".
func (b *Bridge) ModNameFromAddr(addr uint64, extension bool) (string, bool) {
	name, ok := b.modules.NameFromAddr(addr)
	if !ok {
		return "", false
	}
	if !extension {
		if idx := strings.Index(name, "."); idx > 0 {
			name = name[:idx]
		}
	}
	return name, true
}

// PatchInRange reports whether any address in [start, end] is patched, the
// bounds may be given in either order.
func (b *Bridge) PatchInRange(start, end uint64) bool {
	return b.patches.IsRangePatched(addrrange.New(start, end))
}

// PatchRestoreRange restores every patched address in [start, end].
func (b *Bridge) PatchRestoreRange(start, end uint64) int {
	n := b.patches.RestoreRange(addrrange.New(start, end))
	b.log.Debugf("restored %d patches in [%#x, %#x]", n, start, end)
	return n
}

// PatchFile writes the patch set to path.
func (b *Bridge) PatchFile(path string) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := b.patches.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PatchLoad re-applies a patch set written by PatchFile.
func (b *Bridge) PatchLoad(path string) (patch.ImportResult, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return patch.ImportResult{}, err
	}
	defer f.Close()
	return b.patches.Import(f)
}

// MemUpdateMap reloads the module database from the target's memory map.
func (b *Bridge) MemUpdateMap() error {
	mods, err := b.loadModules(b.target)
	if err != nil {
		b.log.Errorf("update memory map: %v", err)
		return err
	}
	b.modules.Reset(mods)
	if logflags.Bridge() {
		b.log.Debugf("memory map updated, %d modules", len(mods))
		for _, m := range mods {
			b.log.Debugf("  %s [%#x, %#x) %s", m.Name, m.Base, m.Base+m.Size, m.Path)
		}
	}
	b.notifier.OnMemoryMapChanged()
	return nil
}

// GetCallStack walks the stack of the selected thread. The memory map is
// sampled once per call.
func (b *Bridge) GetCallStack() (stack.Result, error) {
	tid, err := b.selectedThread()
	if err != nil {
		return stack.Result{}, err
	}

	exec, err := memory.NewRegionChecker(b.target)
	if err != nil {
		return stack.Result{}, err
	}
	mode, err := stack.ParseMode(b.cfg.WalkMode)
	if err != nil {
		return stack.Result{}, err
	}

	w := stack.NewWalker(b.target, exec,
		stack.WithPtrSize(b.cfg.PtrSize),
		stack.WithMaxFrames(b.cfg.MaxFrames),
		stack.WithMode(mode),
		stack.WithVerifyCall(b.cfg.VerifyCall))
	return w.WalkThread(b.target, tid)
}

// GetSEHChain walks the exception handler chain of the selected thread.
func (b *Bridge) GetSEHChain() (seh.Chain, error) {
	tid, err := b.selectedThread()
	if err != nil {
		return seh.Chain{}, err
	}

	w := seh.NewWalker(b.target, b.target,
		seh.WithPtrSize(b.cfg.PtrSize),
		seh.WithMaxHops(b.cfg.MaxSEHHops))
	return w.Walk(tid)
}

// GetProcessList lists the processes of the system, newest first.
func (b *Bridge) GetProcessList() ([]target.ProcessInfo, error) {
	return b.listProcesses()
}

// GetPageRights returns the "ERWC" rights of the page holding addr.
func (b *Bridge) GetPageRights(addr uint64) (string, bool) {
	regions, err := b.target.Regions()
	if err != nil {
		return "", false
	}
	return memory.PageRights(regions, addr)
}

// SetPageRights changes the protection of the page holding addr to the
// "ERWC" rights. It fails when the target can't change page protections.
func (b *Bridge) SetPageRights(addr uint64, rights string) bool {
	perms, err := memory.StringToRights(rights)
	if err != nil {
		b.log.Debugf("set page rights: %v", err)
		return false
	}
	prot, ok := b.target.(memory.Protector)
	if !ok {
		b.log.Debugf("set page rights: target can't change page protection")
		return false
	}

	page := addr &^ (addrrange.PageSize - 1)
	if err := prot.Protect(page, addrrange.PageSize, perms); err != nil {
		b.log.Errorf("set page rights %#x %s: %v", page, rights, err)
		return false
	}
	b.notifier.OnMemoryMapChanged()
	return true
}

// IsProcessElevated reports whether the debugger runs with the privileges
// needed to trace other users' processes.
func (b *Bridge) IsProcessElevated() bool {
	return b.isElevated()
}

// GetAddrFromLine returns the address of file:line, 0 when unknown.
func (b *Bridge) GetAddrFromLine(file string, line int) uint64 {
	if b.lines == nil {
		return 0
	}
	addr, ok := b.lines.AddrFromLine(file, line)
	if !ok {
		return 0
	}
	return addr
}

// GetSourceFromAddr returns the source position of addr.
func (b *Bridge) GetSourceFromAddr(addr uint64) (string, int, bool) {
	if b.lines == nil {
		return "", 0, false
	}
	return b.lines.SourceFromAddr(addr)
}

// funcResolver is a LineResolver that also knows function ranges.
type funcResolver interface {
	PCToFunction(pc uint64) (*symbol.Function, bool)
}

// FunctionFromAddr returns the name of the function holding addr, when the
// line resolver carries function ranges.
func (b *Bridge) FunctionFromAddr(addr uint64) (string, bool) {
	fr, ok := b.lines.(funcResolver)
	if !ok {
		return "", false
	}
	fn, ok := fr.PCToFunction(addr)
	if !ok {
		return "", false
	}
	return fn.Name(), true
}
