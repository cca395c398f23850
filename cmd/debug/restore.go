package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <addr|all>",
	Short: "恢复指定地址的原始数据",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: restore <addr|all>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		if args[0] == "all" {
			n := s.bridge.Patches().RestoreAll()
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d patches\n", n)
			return nil
		}

		addr, err := parseAddr(s.fns, args[0])
		if err != nil {
			return err
		}
		if !s.fns.PatchRestore(addr) {
			return fmt.Errorf("restore %#x failed: not patched or not writable", addr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %#x\n", addr)
		return nil
	},
}

var restoreRangeCmd = &cobra.Command{
	Use:   "restorerange <start> <end>",
	Short: "恢复地址区间[start, end]内的所有补丁",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: restorerange <start> <end>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		r, err := parseRange(s, args[0], args[1])
		if err != nil {
			return err
		}
		n := s.fns.PatchRestoreRange(r.Start, r.End)
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d patches in %s\n", n, r)
		return nil
	},
}

var inRangeCmd = &cobra.Command{
	Use:   "inrange <start> <end>",
	Short: "检查地址区间[start, end]内是否有补丁",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: inrange <start> <end>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		r, err := parseRange(s, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s patched: %v\n", r, s.fns.PatchInRange(r.Start, r.End))
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(restoreCmd)
	debugRootCmd.AddCommand(restoreRangeCmd)
	debugRootCmd.AddCommand(inRangeCmd)
}
