package symbol

import (
	"debug/dwarf"
)

// Function function
//
// see DWARFv4 3.3 subroutine and entry point entries
type Function struct {
	name   string
	lowpc  uint64
	highpc uint64
}

func (f *Function) Name() string {
	return f.name
}

// parseFrom fills f from a TagSubprogram entry, it returns false for
// declarations without code.
func (f *Function) parseFrom(curEntry *dwarf.Entry) bool {
	var (
		highpc    uint64
		highpcOff bool
	)

	for _, field := range curEntry.Field {
		switch field.Attr {
		case dwarf.AttrName:
			if val, ok := field.Val.(string); ok {
				f.name = val
			}
		case dwarf.AttrLowpc:
			if val, ok := field.Val.(uint64); ok {
				f.lowpc = val
			}
		case dwarf.AttrHighpc:
			switch val := field.Val.(type) {
			case uint64:
				highpc = val
			case int64:
				// DWARF 4: high_pc of class constant is an offset from low_pc
				highpc = uint64(val)
				highpcOff = true
			}
		}
	}

	if highpcOff {
		highpc += f.lowpc
	}
	f.highpc = highpc
	return f.lowpc != 0 && f.highpc > f.lowpc
}
