package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sehCmd = &cobra.Command{
	Use:   "seh",
	Short: "打印当前线程的SEH链",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupStack,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		chain, err := s.fns.GetSEHChain()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "thread %d:\n", chain.TID)
		for idx, r := range chain.Records {
			fmt.Fprintf(out, "#%d record %#x handler %#x %s\n", idx, r.Addr, r.Handler, describeAddr(s.fns, r.Handler))
		}
		if chain.Truncated() {
			fmt.Fprintf(out, "(truncated: %s)\n", chain.Stop)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(sehCmd)
}
