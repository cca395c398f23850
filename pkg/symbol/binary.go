// Package symbol maps addresses to source lines and back using the DWARF
// line table of a module.
package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of address lookups kept by a LineTable.
const DefaultCacheSize = 1024

var errNoLineInfo = errors.New("no line info")

// lineAddr is one row of the line table.
type lineAddr struct {
	addr   uint64
	file   string
	line   int
	endSeq bool
}

type sourceLine struct {
	file string
	line int
	ok   bool
}

// LineTable symbol-to-source-line mapping of one module
type LineTable struct {
	Sources   map[string]map[int][]uint64 // key=filename, val=map[lineno]addresses
	Functions []*Function
	Bias      uint64 // load bias added to every link-time address

	rows  []lineAddr // sorted by address
	cache *lru.Cache // key=addr, val=sourceLine

	fileExists func(string) bool
}

// Analyze loads the line table of the ELF file execFile. bias is the load
// bias of the module (0 for non-PIE executables).
func Analyze(execFile string, bias uint64, cacheSize int) (*LineTable, error) {
	file, err := elf.Open(execFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dwarfData, err := file.DWARF()
	if err != nil {
		return nil, fmt.Errorf("load dwarf: %w", err)
	}
	return NewLineTable(dwarfData, bias, cacheSize)
}

// NewLineTable parses .(z)debug_line and the subprograms of .(z)debug_info.
func NewLineTable(dwarfData *dwarf.Data, bias uint64, cacheSize int) (*LineTable, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}

	t := &LineTable{
		Sources:    map[string]map[int][]uint64{},
		Bias:       bias,
		cache:      cache,
		fileExists: fileExists,
	}
	if err := t.parse(dwarfData); err != nil {
		return nil, err
	}
	sort.SliceStable(t.rows, func(i, j int) bool { return t.rows[i].addr < t.rows[j].addr })
	return t, nil
}

// parse walks the compile units, see DWARF v4 chapter 3.1.1 and 6.2
func (t *LineTable) parse(dwarfData *dwarf.Data) error {
	reader := dwarfData.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return err
		}
		if entry == nil { // reaches the end
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			rd, err := dwarfData.LineReader(entry)
			if err != nil {
				return err
			}
			if rd == nil {
				continue
			}
			if err := t.parseLineSection(rd); err != nil {
				return err
			}
		case dwarf.TagSubprogram:
			fn := &Function{}
			if fn.parseFrom(entry) {
				t.Functions = append(t.Functions, fn)
			}
		}
	}
	return nil
}

// PCToFunction returns the function whose range covers pc
//
// note: not considered inline function
func (t *LineTable) PCToFunction(pc uint64) (*Function, bool) {
	pc -= t.Bias
	for _, f := range t.Functions {
		if f.lowpc <= pc && pc < f.highpc {
			return f, true
		}
	}
	return nil, false
}

// AddrFromLine returns the lowest address generated for file:line. file may
// be a path suffix, like "main.go" or "cmd/main.go".
func (t *LineTable) AddrFromLine(file string, line int) (uint64, bool) {
	name, lines, ok := t.findFile(file)
	if !ok || len(lines[line]) == 0 {
		return 0, false
	}

	addrs := append([]uint64{}, lines[line]...)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	// a row may be shadowed by a later row at the same address
	for _, addr := range addrs {
		f, l, err := t.pcToFileLine(addr)
		if err == nil && f == name && l == line {
			return addr + t.Bias, true
		}
	}
	return addrs[0] + t.Bias, true
}

func (t *LineTable) findFile(file string) (string, map[int][]uint64, bool) {
	if lines, ok := t.Sources[file]; ok {
		return file, lines, true
	}

	suffix := "/" + strings.TrimPrefix(filepath.ToSlash(file), "/")
	for name, lines := range t.Sources {
		if strings.HasSuffix(filepath.ToSlash(name), suffix) {
			return name, lines, true
		}
	}
	return "", nil, false
}

// SourceFromAddr returns the source position of addr. Like a debugger's
// source view it fails when the file is not present on disk.
func (t *LineTable) SourceFromAddr(addr uint64) (string, int, bool) {
	if v, ok := t.cache.Get(addr); ok {
		sl := v.(sourceLine)
		return sl.file, sl.line, sl.ok
	}

	file, line, err := t.pcToFileLine(addr - t.Bias)
	sl := sourceLine{file: file, line: line, ok: err == nil && t.fileExists(file)}
	t.cache.Add(addr, sl)
	return sl.file, sl.line, sl.ok
}

// pcToFileLine finds the row with the greatest address <= pc, the row must
// not close a sequence.
func (t *LineTable) pcToFileLine(pc uint64) (string, int, error) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].addr > pc })
	if i == 0 {
		return "", 0, errNoLineInfo
	}
	row := t.rows[i-1]
	if row.endSeq {
		return "", 0, errNoLineInfo
	}
	return row.file, row.line, nil
}

func fileExists(name string) bool {
	st, err := os.Stat(name)
	return err == nil && !st.IsDir()
}
