// Package bridge exposes the debugger capabilities as one table of
// functions, so a presentation or plugin layer can use patching, stack
// walking, module lookup and symbol mapping without importing the debugger
// internals.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgfuncs/pkg/config"
	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/module"
	"github.com/hitzhangjie/dbgfuncs/pkg/patch"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

var (
	ErrNoThreadSelected = errors.New("no thread selected")
)

// Target is the debuggee as seen by the bridge: its memory, its memory map
// and its threads.
type Target interface {
	memory.Accessor
	memory.Mapper
	target.ContextProvider
	ThreadIDs() []int
}

// LineResolver maps source lines to addresses and back.
type LineResolver interface {
	AddrFromLine(file string, line int) (uint64, bool)
	SourceFromAddr(addr uint64) (string, int, bool)
}

// Notifier receives change events. Calls are fire-and-forget and happen on
// the goroutine that made the change.
type Notifier interface {
	OnPatchSetChanged()
	OnMemoryMapChanged()
}

type nopNotifier struct{}

func (nopNotifier) OnPatchSetChanged()  {}
func (nopNotifier) OnMemoryMapChanged() {}

// Bridge wires the debugger components together and holds the selected
// thread, the only piece of ambient state at this layer.
type Bridge struct {
	id       string
	target   Target
	patches  *patch.Store
	modules  *module.Table
	lines    LineResolver
	notifier Notifier
	cfg      config.Config

	listProcesses func() ([]target.ProcessInfo, error)
	loadModules   func(memory.Mapper) ([]*module.Module, error)
	isElevated    func() bool

	mu       sync.RWMutex
	selected int

	log *logrus.Entry
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfig sets the walker limits and modes.
func WithConfig(cfg config.Config) Option {
	return func(b *Bridge) {
		b.cfg = cfg
	}
}

// WithNotifier sets the receiver of change events.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) {
		if n != nil {
			b.notifier = n
		}
	}
}

// WithLineResolver sets the source line mapping.
func WithLineResolver(r LineResolver) Option {
	return func(b *Bridge) {
		b.lines = r
	}
}

// WithModules sets the initial module database. Without it the modules are
// loaded from the target's memory map.
func WithModules(mods ...*module.Module) Option {
	return func(b *Bridge) {
		b.modules.Reset(mods)
	}
}

// WithModuleLoader replaces the ELF based module loader used by MemUpdateMap.
func WithModuleLoader(fn func(memory.Mapper) ([]*module.Module, error)) Option {
	return func(b *Bridge) {
		b.loadModules = fn
	}
}

// WithProcessLister replaces the /proc based process listing.
func WithProcessLister(fn func() ([]target.ProcessInfo, error)) Option {
	return func(b *Bridge) {
		b.listProcesses = fn
	}
}

// WithElevationCheck replaces the euid/capability check of IsProcessElevated.
func WithElevationCheck(fn func() bool) Option {
	return func(b *Bridge) {
		b.isElevated = fn
	}
}

// New creates a bridge over t. The first thread of t, if any, is selected.
func New(t Target, opts ...Option) *Bridge {
	id := uuid.New().String()
	b := &Bridge{
		id:            id,
		target:        t,
		modules:       module.NewTable(),
		notifier:      nopNotifier{},
		cfg:           config.Default(),
		listProcesses: target.ListProcesses,
		loadModules:   module.LoadModules,
		isElevated:    target.IsElevated,
		log:           logflags.BridgeLogger().WithField("session", id),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.patches = patch.NewStore(t, patch.WithNotifier(patch.NotifierFunc(b.notifier.OnPatchSetChanged)))
	if tids := t.ThreadIDs(); len(tids) != 0 {
		b.selected = tids[0]
	}
	b.log.Debugf("bridge created, selected thread %d", b.selected)
	return b
}

// ID returns the session id.
func (b *Bridge) ID() string {
	return b.id
}

// Patches returns the patch store.
func (b *Bridge) Patches() *patch.Store {
	return b.patches
}

// Modules returns the module database.
func (b *Bridge) Modules() *module.Table {
	return b.modules
}

// Config returns the active configuration.
func (b *Bridge) Config() config.Config {
	return b.cfg
}

// SelectThread makes tid the thread used by GetCallStack, GetSEHChain and
// register names in ValFromString.
func (b *Bridge) SelectThread(tid int) error {
	if _, err := b.target.ThreadContext(tid); err != nil {
		return fmt.Errorf("select thread: %w", err)
	}

	b.mu.Lock()
	b.selected = tid
	b.mu.Unlock()
	return nil
}

// SelectedThread returns the selected thread id, 0 when none.
func (b *Bridge) SelectedThread() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selected
}

// Threads returns the thread ids of the target.
func (b *Bridge) Threads() []int {
	return b.target.ThreadIDs()
}

func (b *Bridge) selectedThread() (int, error) {
	tid := b.SelectedThread()
	if tid == 0 {
		return 0, ErrNoThreadSelected
	}
	return tid, nil
}
