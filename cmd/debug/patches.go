package debug

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgfuncs/pkg/patch"
)

var patchesCmd = &cobra.Command{
	Use:     "patches",
	Short:   "列出所有补丁",
	Aliases: []string{"lp"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupPatch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		recs := s.fns.PatchEnum()
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no patches")
			return nil
		}

		// 按补丁编号展示
		sort.Sort(patch.ByID(recs))
		out := cmd.OutOrStdout()
		for _, r := range recs {
			fmt.Fprintf(out, "patch[%d] %#x 0x%02x -> 0x%02x %s\n", r.ID, r.Addr, r.Orig, r.New, describeAddr(s.fns, r.Addr))
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(patchesCmd)
}
