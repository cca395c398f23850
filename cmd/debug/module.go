package debug

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgfuncs/pkg/module"
)

var sectionCmd = &cobra.Command{
	Use:   "section <addr>",
	Short: "查看地址所在的节",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupModule,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: section <addr>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		addr, err := parseAddr(s.fns, args[0])
		if err != nil {
			return err
		}
		sec, ok := module.SectionFromAddr(s.bridge.Modules(), addr)
		if !ok {
			return fmt.Errorf("no section at %#x", addr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x in %s %s\n", addr, sec.Name, sec.Range())
		return nil
	},
}

var modCmd = &cobra.Command{
	Use:   "mod [addr|name]",
	Short: "列出模块，或查看地址、名称对应的模块",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupModule,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			for _, m := range s.bridge.Modules().Modules() {
				fmt.Fprintf(out, "%#016x %#010x %-24s %s\n", m.Base, m.Size, m.Name, m.Path)
			}
			return nil
		}

		fns := s.fns
		base := fns.ModBaseFromName(args[0])
		if base == 0 {
			addr, err := parseAddr(fns, args[0])
			if err != nil {
				return err
			}
			if base = fns.ModBaseFromAddr(addr); base == 0 {
				return fmt.Errorf("no module at %#x", addr)
			}
		}

		name, _ := fns.ModNameFromAddr(base, true)
		path, _ := fns.ModPathFromAddr(base)
		fmt.Fprintf(out, "name: %s\npath: %s\nbase: %#x\nsize: %#x\n", name, path, base, fns.ModSizeFromAddr(base))
		return nil
	},
}

var mmapCmd = &cobra.Command{
	Use:   "mmap",
	Short: "重新加载内存映射和模块信息",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupModule,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}
		if err := s.fns.MemUpdateMap(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d modules loaded\n", len(s.bridge.Modules().Modules()))
		return nil
	},
}

var rightsCmd = &cobra.Command{
	Use:   "rights <addr>",
	Short: "查看地址所在内存页的权限",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupModule,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: rights <addr>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		addr, err := parseAddr(s.fns, args[0])
		if err != nil {
			return err
		}
		rights, ok := s.fns.GetPageRights(addr)
		if !ok {
			return fmt.Errorf("%#x is not mapped", addr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x %s\n", addr, rights)
		return nil
	},
}

var setRightsCmd = &cobra.Command{
	Use:   "setrights <addr> <ERWC>",
	Short: "修改地址所在内存页的权限，如 -RW-",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupModule,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: setrights <addr> <ERWC>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		addr, err := parseAddr(s.fns, args[0])
		if err != nil {
			return err
		}
		rights := strings.ToUpper(args[1])
		if !s.fns.SetPageRights(addr, rights) {
			return fmt.Errorf("set rights of %#x to %s failed", addr, rights)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x %s\n", addr, rights)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(sectionCmd)
	debugRootCmd.AddCommand(modCmd)
	debugRootCmd.AddCommand(mmapCmd)
	debugRootCmd.AddCommand(rightsCmd)
	debugRootCmd.AddCommand(setRightsCmd)
}
