package memory

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Region is one mapping of the debuggee's address space, [Start, End).
type Region struct {
	Start  uint64
	End    uint64
	Perms  string // like "r-xp"
	Offset uint64
	Path   string
}

func (r Region) Readable() bool   { return len(r.Perms) > 0 && r.Perms[0] == 'r' }
func (r Region) Writable() bool   { return len(r.Perms) > 1 && r.Perms[1] == 'w' }
func (r Region) Executable() bool { return len(r.Perms) > 2 && r.Perms[2] == 'x' }

// Contains reports whether addr lies in the region.
func (r Region) Contains(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

// Size returns the region size in bytes.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// FindRegion returns the region containing addr. regions must be sorted by Start.
func FindRegion(regions []Region, addr uint64) (Region, bool) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End > addr })
	if i < len(regions) && regions[i].Contains(addr) {
		return regions[i], true
	}
	return Region{}, false
}

// ParseMaps parses the /proc/<pid>/maps format, e.g.
//
//	00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
func ParseMaps(r io.Reader) ([]Region, error) {
	var regions []Region

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("invalid maps line: %q", line)
		}

		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid maps range: %q", fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid maps start: %v", err)
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid maps end: %v", err)
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid maps offset: %v", err)
		}

		region := Region{
			Start:  start,
			End:    end,
			Perms:  fields[1],
			Offset: offset,
		}
		if len(fields) >= 6 {
			region.Path = strings.Join(fields[5:], " ")
		}
		regions = append(regions, region)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	return regions, nil
}

// RegionChecker answers IsExecutable from one snapshot of the memory map.
type RegionChecker struct {
	regions []Region
}

// NewRegionChecker snapshots the regions of m.
func NewRegionChecker(m Mapper) (*RegionChecker, error) {
	regions, err := m.Regions()
	if err != nil {
		return nil, err
	}
	return &RegionChecker{regions: regions}, nil
}

// IsExecutable reports whether addr lies in an executable region.
func (c *RegionChecker) IsExecutable(addr uint64) bool {
	r, ok := FindRegion(c.regions, addr)
	return ok && r.Executable()
}

// PageRights renders the rights of the page containing addr in the
// protection-flag notation used by the capability table, e.g. "ERW-".
func PageRights(regions []Region, addr uint64) (string, bool) {
	r, ok := FindRegion(regions, addr)
	if !ok {
		return "", false
	}
	return RightsToString(r.Perms), true
}

// RightsToString converts "rwxp"-style permissions to "ERWC"-style rights:
// E executable, R readable, W writable, C copy-on-write (private+writable).
func RightsToString(perms string) string {
	rights := []byte("----")
	r := Region{Perms: perms}
	if r.Executable() {
		rights[0] = 'E'
	}
	if r.Readable() {
		rights[1] = 'R'
	}
	if r.Writable() {
		rights[2] = 'W'
		if len(perms) > 3 && perms[3] == 'p' {
			rights[3] = 'C'
		}
	}
	return string(rights)
}

// StringToRights is the inverse of RightsToString: "ER--" becomes "r-xp",
// "-RWC" becomes "rw-p" and "-RW-" (shared writable) becomes "rw-s".
func StringToRights(rights string) (string, error) {
	if len(rights) != 4 {
		return "", fmt.Errorf("invalid page rights %q, want 4 flags like ERWC", rights)
	}

	perms := []byte("---p")
	for i, want := range []byte("ERWC") {
		switch rights[i] {
		case want:
		case '-':
			continue
		default:
			return "", fmt.Errorf("invalid page rights %q, flag %d must be %c or -", rights, i, want)
		}
		switch want {
		case 'E':
			perms[2] = 'x'
		case 'R':
			perms[0] = 'r'
		case 'W':
			perms[1] = 'w'
		}
	}

	switch {
	case rights[3] == 'C' && rights[2] != 'W':
		return "", fmt.Errorf("invalid page rights %q, copy-on-write needs W", rights)
	case rights[2] == 'W' && rights[3] != 'C':
		perms[3] = 's'
	}
	return string(perms), nil
}
