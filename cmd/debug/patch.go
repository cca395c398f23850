package debug

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgfuncs/pkg/addrrange"
)

// maxFillSize bounds the bytes written by one patchrange
const maxFillSize = 1 << 20

var patchCmd = &cobra.Command{
	Use:   "patch <addr> <byte>...",
	Short: "修改内存并记录补丁",
	Long:  "修改内存并记录补丁，地址和字节都按十六进制解析，如 patch 401000 90 90",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return errors.New("usage: patch <addr> <byte>...")
		}
		s, err := session()
		if err != nil {
			return err
		}

		addr, err := parseAddr(s.fns, args[0])
		if err != nil {
			return err
		}
		data := make([]byte, 0, len(args)-1)
		for _, v := range args[1:] {
			b, err := parseByte(v)
			if err != nil {
				return err
			}
			data = append(data, b)
		}

		if !s.fns.MemPatch(addr, data) {
			return fmt.Errorf("patch %#x: not all %d bytes written", addr, len(data))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "patched %d bytes at %#x\n", len(data), addr)
		return nil
	},
}

var patchRangeCmd = &cobra.Command{
	Use:   "patchrange <start> <end> <byte>",
	Short: "用同一字节填充地址区间[start, end]",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 3 {
			return errors.New("usage: patchrange <start> <end> <byte>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		r, err := parseRange(s, args[0], args[1])
		if err != nil {
			return err
		}
		if r.Len() > maxFillSize {
			return fmt.Errorf("range %s too large, max %#x bytes", r, maxFillSize)
		}
		b, err := parseByte(args[2])
		if err != nil {
			return err
		}

		n := s.bridge.Patches().PatchRange(r, bytes.Repeat([]byte{b}, int(r.Len())))
		fmt.Fprintf(cmd.OutOrStdout(), "patched %d of %d bytes in %s\n", n, r.Len(), r)
		return nil
	},
}

func parseRange(s *DebugSession, start, end string) (addrrange.Range, error) {
	from, err := parseAddr(s.fns, start)
	if err != nil {
		return addrrange.Range{}, err
	}
	to, err := parseAddr(s.fns, end)
	if err != nil {
		return addrrange.Range{}, err
	}
	return addrrange.New(from, to), nil
}

func init() {
	debugRootCmd.AddCommand(patchCmd)
	debugRootCmd.AddCommand(patchRangeCmd)
}
