package patch

import (
	"fmt"
	"io"
	"io/ioutil"
	"strconv"

	"gopkg.in/yaml.v2"
)

// fileEntry is one patched byte in a patch file, values are hex strings so
// the file stays readable.
type fileEntry struct {
	Addr string `yaml:"addr"`
	Orig string `yaml:"orig"`
	New  string `yaml:"new"`
}

type patchFile struct {
	Version int         `yaml:"version"`
	Patches []fileEntry `yaml:"patches"`
}

const patchFileVersion = 1

// Export writes the current patch set to w as a YAML document.
func (s *Store) Export(w io.Writer) error {
	recs := s.Enumerate()

	pf := patchFile{Version: patchFileVersion}
	for _, rec := range recs {
		pf.Patches = append(pf.Patches, fileEntry{
			Addr: fmt.Sprintf("%#x", rec.Addr),
			Orig: fmt.Sprintf("0x%02x", rec.Orig),
			New:  fmt.Sprintf("0x%02x", rec.New),
		})
	}

	data, err := yaml.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("marshal patch file: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Applied  int      // patches written
	Skipped  []uint64 // live byte matched neither the recorded original nor the new byte
	Failed   []uint64 // memory access failed
	Existing int      // address already carried the recorded new byte
}

// Import re-applies a patch file written by Export. An entry is only applied
// when the live byte still equals the recorded original, so a file made for a
// different image does not corrupt memory.
func (s *Store) Import(r io.Reader) (ImportResult, error) {
	var res ImportResult

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return res, fmt.Errorf("read patch file: %w", err)
	}

	var pf patchFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return res, fmt.Errorf("unmarshal patch file: %w", err)
	}
	if pf.Version != patchFileVersion {
		return res, fmt.Errorf("unsupported patch file version: %d", pf.Version)
	}

	type entry struct {
		addr      uint64
		orig, new byte
	}
	entries := make([]entry, 0, len(pf.Patches))
	for i, p := range pf.Patches {
		addr, err := strconv.ParseUint(p.Addr, 0, 64)
		if err != nil {
			return res, fmt.Errorf("patch #%d: invalid addr %q", i, p.Addr)
		}
		orig, err := strconv.ParseUint(p.Orig, 0, 8)
		if err != nil {
			return res, fmt.Errorf("patch #%d: invalid orig %q", i, p.Orig)
		}
		b, err := strconv.ParseUint(p.New, 0, 8)
		if err != nil {
			return res, fmt.Errorf("patch #%d: invalid new %q", i, p.New)
		}
		entries = append(entries, entry{addr, byte(orig), byte(b)})
	}

	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, e := range entries {
			cur, err := s.mem.ReadMemory(e.addr, 1)
			if err != nil {
				res.Failed = append(res.Failed, e.addr)
				continue
			}
			rec, patched := s.records[e.addr]
			switch {
			case patched && rec.Orig == e.orig && rec.New == e.new:
				res.Existing++
				continue
			case !patched && cur[0] == e.new:
				res.Existing++
				continue
			case !patched && cur[0] != e.orig, patched && rec.Orig != e.orig:
				s.log.Warnf("import %#x: live byte 0x%02x, expected 0x%02x", e.addr, cur[0], e.orig)
				res.Skipped = append(res.Skipped, e.addr)
				continue
			}
			if !s.patchLocked(e.addr, e.new) {
				res.Failed = append(res.Failed, e.addr)
				continue
			}
			res.Applied++
		}
	}()

	if res.Applied > 0 {
		s.notify()
	}
	return res, nil
}
