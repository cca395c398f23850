package debug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hitzhangjie/dbgfuncs/pkg/bridge"
)

// parseAddr evaluates an address expression, see bridge.ValFromString
func parseAddr(fns *bridge.Functions, s string) (uint64, error) {
	v, ok := fns.ValFromString(s)
	if !ok {
		return 0, fmt.Errorf("invalid address expression: %s", s)
	}
	return v, nil
}

// parseByte accepts "0x90", "90" (hex) forms
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte value: %s", s)
	}
	return byte(v), nil
}

// describeAddr renders addr as module!section, empty when addr is outside
// every module
func describeAddr(fns *bridge.Functions, addr uint64) string {
	mod, ok := fns.ModNameFromAddr(addr, true)
	if !ok {
		return ""
	}
	if sec, ok := fns.SectionFromAddr(addr); ok {
		return mod + "!" + sec
	}
	return mod
}
