// Package patch keeps track of byte patches applied to debuggee memory so each
// patched address can be restored to the byte it held before the first patch.
package patch

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgfuncs/pkg/addrrange"
	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

var (
	ErrPatchNotExisted = errors.New("patch not existed")
)

// Notifier is told when the patch set changed after a bulk operation.
// It is fire-and-forget and must not call back into the Store synchronously
// while holding its own locks.
type Notifier interface {
	OnPatchSetChanged()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) OnPatchSetChanged() { f() }

// Store maps patched addresses to their records. Mutations are expected from
// the command dispatcher; Enumerate and the query methods may run concurrently
// from a presentation goroutine.
type Store struct {
	mu      sync.RWMutex
	mem     memory.Accessor
	records map[uint64]*Record

	notifier Notifier
	log      *logrus.Entry
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the sink told about bulk changes.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// NewStore creates an empty patch store writing through mem.
func NewStore(mem memory.Accessor, opts ...Option) *Store {
	s := &Store{
		mem:     mem,
		records: map[uint64]*Record{},
		log:     logflags.PatchLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) notify() {
	if s.notifier != nil {
		s.notifier.OnPatchSetChanged()
	}
}

// Patch writes b at addr. The byte present before the first patch of addr is
// kept as the original; later patches only replace the live byte. A failed
// read or write leaves the store untouched.
//
// Writing the original byte back through Patch drops the record, the address
// is no longer patched.
func (s *Store) Patch(addr uint64, b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.patchLocked(addr, b)
}

func (s *Store) patchLocked(addr uint64, b byte) bool {
	cur, err := s.mem.ReadMemory(addr, 1)
	if err != nil {
		s.log.Debugf("patch %#x: %v", addr, err)
		return false
	}

	rec, patched := s.records[addr]
	orig := cur[0]
	if patched {
		orig = rec.Orig
	}

	if cur[0] != b {
		if err := s.mem.WriteMemory(addr, []byte{b}); err != nil {
			s.log.Debugf("patch %#x: %v", addr, err)
			return false
		}
	}

	switch {
	case b == orig:
		delete(s.records, addr)
	case patched:
		rec.New = b
	default:
		s.records[addr] = newRecord(addr, orig, b)
	}
	if logflags.Patch() {
		s.log.Debugf("patch %#x: 0x%02x -> 0x%02x (orig 0x%02x)", addr, cur[0], b, orig)
	}
	return true
}

// PatchRange patches r.Start+i with src[i]. It keeps going after a failed
// address and returns how many bytes were patched. Only min(len(src), r.Len())
// bytes are considered.
func (s *Store) PatchRange(r addrrange.Range, src []byte) int {
	n := 0
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		i := 0
		r.Each(func(addr uint64) bool {
			if i >= len(src) {
				return false
			}
			if s.patchLocked(addr, src[i]) {
				n++
			}
			i++
			return true
		})
	}()

	if n > 0 {
		s.notify()
	}
	return n
}

// MemPatch patches len(src) bytes at addr and reports whether all of them
// were written. A span running past the top of the address space is
// rejected without writing anything.
func (s *Store) MemPatch(addr uint64, src []byte) bool {
	r, ok := addrrange.FromLength(addr, len(src))
	if !ok {
		s.log.Debugf("mem patch %#x: %d bytes do not fit below the top of memory", addr, len(src))
		return false
	}
	return s.PatchRange(r, src) == len(src)
}

// IsPatched reports whether addr has an active patch.
func (s *Store) IsPatched(addr uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[addr]
	return ok
}

// Get returns the record of addr.
func (s *Store) Get(addr uint64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[addr]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsRangePatched reports whether any address of r is patched. The cost is
// proportional to the range size, not to the number of patches.
func (s *Store) IsRangePatched(r addrrange.Range) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	r.Each(func(addr uint64) bool {
		_, found = s.records[addr]
		return !found
	})
	return found
}

// Restore writes the original byte back to addr and drops its record. It
// returns false if addr is not patched or the write failed, in which case the
// record is kept.
func (s *Store) Restore(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restoreLocked(addr) == nil
}

func (s *Store) restoreLocked(addr uint64) error {
	rec, ok := s.records[addr]
	if !ok {
		return ErrPatchNotExisted
	}
	if err := s.mem.WriteMemory(addr, []byte{rec.Orig}); err != nil {
		s.log.Debugf("restore %#x: %v", addr, err)
		return err
	}
	delete(s.records, addr)
	s.log.Debugf("restore %#x: 0x%02x", addr, rec.Orig)
	return nil
}

// RestoreRange restores every patched address of r, unpatched addresses are
// skipped. The notifier is told once, after the whole range.
func (s *Store) RestoreRange(r addrrange.Range) int {
	n := 0
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if uint64(len(s.records)) < r.Len() {
			// fewer patches than addresses, walk the patches instead
			for addr := range s.records {
				if r.Contains(addr) && s.restoreLocked(addr) == nil {
					n++
				}
			}
			return
		}
		r.Each(func(addr uint64) bool {
			if s.restoreLocked(addr) == nil {
				n++
			}
			return true
		})
	}()

	s.notify()
	return n
}

// RestoreAll restores every patch and returns the number restored.
func (s *Store) RestoreAll() int {
	n := 0
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for addr := range s.records {
			if s.restoreLocked(addr) == nil {
				n++
			}
		}
	}()

	s.notify()
	return n
}

// Enumerate returns a snapshot of all records ordered by address.
func (s *Store) Enumerate() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make(Records, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, *rec)
	}
	sort.Sort(recs)
	return recs
}

// Len returns the number of patched addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
