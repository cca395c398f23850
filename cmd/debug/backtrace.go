package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backtraceCmd = &cobra.Command{
	Use:     "bt",
	Short:   "打印当前线程的调用栈",
	Aliases: []string{"backtrace"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupStack,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		res, err := s.fns.GetCallStack()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "thread %d:\n", res.TID)
		for idx, f := range res.Frames {
			fmt.Fprintf(out, "#%d [%#x] %#x %s", idx, f.StackAddr, f.Addr, describeAddr(s.fns, f.Addr))
			if name, ok := s.bridge.FunctionFromAddr(f.Addr - 1); ok {
				fmt.Fprintf(out, " in %s", name)
			}

			// ret指向call的下一条指令，减1后对应call所在的源码行
			if file, line, ok := s.fns.GetSourceFromAddr(f.Addr - 1); ok {
				fmt.Fprintf(out, " %s:%d", file, line)
			}
			fmt.Fprintln(out)
		}
		if res.Truncated() {
			fmt.Fprintf(out, "(truncated: %s)\n", res.Stop)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(backtraceCmd)
}
