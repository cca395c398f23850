package bridge

import (
	"strconv"
	"strings"
)

// ValFromString evaluates an address expression:
//
//	expr := term { ("+" | "-") term }
//	term := number | register | module | module "!" section
//
// Numbers are hex, with or without 0x, unless prefixed by 0n for decimal.
// Registers are read from the selected thread. A module name yields its base,
// module!section the base of the section. A bare word is looked up as a
// register, then as a module, and only then read as hex, so a module named
// "cafe" shadows 0xcafe. Module names may contain '-' or '+', so every split
// point is tried and the first complete parse wins.
func (b *Bridge) ValFromString(s string) (uint64, bool) {
	e := &evaluator{b: b, memo: map[string]result{}}
	return e.expr(strings.TrimSpace(s))
}

type result struct {
	val uint64
	ok  bool
}

type evaluator struct {
	b    *Bridge
	memo map[string]result
}

func (e *evaluator) expr(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	if r, ok := e.memo[s]; ok {
		return r.val, r.ok
	}

	val, ok := e.term(s)
	for i := len(s) - 1; !ok && i > 0; i-- {
		op := s[i]
		if op != '+' && op != '-' {
			continue
		}
		l, lok := e.expr(strings.TrimSpace(s[:i]))
		if !lok {
			continue
		}
		r, rok := e.term(strings.TrimSpace(s[i+1:]))
		if !rok {
			continue
		}
		if op == '+' {
			val = l + r
		} else {
			val = l - r
		}
		ok = true
	}

	e.memo[s] = result{val, ok}
	return val, ok
}

func (e *evaluator) term(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	if v, ok := prefixedNumber(s); ok {
		return v, true
	}
	if v, ok := e.register(s); ok {
		return v, true
	}

	if idx := strings.LastIndex(s, "!"); idx > 0 {
		m, ok := e.b.modules.FromName(s[:idx])
		if !ok {
			return 0, false
		}
		sec, ok := m.Section(s[idx+1:])
		if !ok {
			return 0, false
		}
		return sec.Base, true
	}

	if m, ok := e.b.modules.FromName(s); ok {
		return m.Base, true
	}
	if v, err := strconv.ParseUint(s, 16, 64); err == nil {
		return v, true
	}
	return 0, false
}

func prefixedNumber(s string) (uint64, bool) {
	if len(s) < 3 || s[0] != '0' {
		return 0, false
	}
	base := 0
	switch s[1] {
	case 'x', 'X':
		base = 16
	case 'n', 'N':
		base = 10
	default:
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], base, 64)
	return v, err == nil
}

func (e *evaluator) register(name string) (uint64, bool) {
	tid := e.b.SelectedThread()
	if tid == 0 {
		return 0, false
	}
	ctx, err := e.b.target.ThreadContext(tid)
	if err != nil {
		return 0, false
	}
	return ctx.Register(strings.TrimPrefix(name, "$"))
}
