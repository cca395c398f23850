package symbol

import (
	"debug/dwarf"
	"io"
)

// parseLineSection parse .(z)debug_line of one compile unit
//
// note: one compile unit may contains more than one source files.
func (t *LineTable) parseLineSection(lineReader *dwarf.LineReader) error {
	entry := dwarf.LineEntry{}

	for {
		// scan next entry
		err := lineReader.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if entry.File == nil {
			continue
		}

		file := entry.File.Name
		t.rows = append(t.rows, lineAddr{
			addr:   entry.Address,
			file:   file,
			line:   entry.Line,
			endSeq: entry.EndSequence,
		})
		if entry.EndSequence || !entry.IsStmt {
			continue
		}

		// append line entries
		lines, ok := t.Sources[file]
		if !ok {
			lines = make(map[int][]uint64)
			t.Sources[file] = lines
		}
		lines[entry.Line] = append(lines[entry.Line], entry.Address)
	}

	return nil
}
