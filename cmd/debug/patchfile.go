package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "导出补丁到文件",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: export <file>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		if err := s.fns.PatchFile(args[0]); err != nil {
			return fmt.Errorf("export patches: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d patches to %s\n", len(s.fns.PatchEnum()), args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "从文件导入并应用补丁",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: import <file>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		res, err := s.fns.PatchLoad(args[0])
		if err != nil {
			return fmt.Errorf("import patches: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "applied %d, existing %d, skipped %d, failed %d\n",
			res.Applied, res.Existing, len(res.Skipped), len(res.Failed))
		for _, addr := range res.Skipped {
			fmt.Fprintf(out, "  skipped %#x: memory differs from recorded original\n", addr)
		}
		for _, addr := range res.Failed {
			fmt.Fprintf(out, "  failed %#x\n", addr)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(exportCmd)
	debugRootCmd.AddCommand(importCmd)
}
