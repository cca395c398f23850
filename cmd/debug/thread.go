package debug

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var threadCmd = &cobra.Command{
	Use:   "thread [tid]",
	Short: "列出线程，或切换当前线程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			selected := s.bridge.SelectedThread()
			for _, tid := range s.bridge.Threads() {
				mark := " "
				if tid == selected {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %d\n", mark, tid)
			}
			return nil
		}

		tid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid thread id: %s", args[0])
		}
		if err := s.bridge.SelectThread(tid); err != nil {
			return err
		}
		fmt.Fprintf(out, "switched to thread %d\n", tid)
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:     "eval <expr>",
	Short:   "计算地址表达式，数字默认十六进制(0n前缀为十进制)，如 rsp+8, libc!.text",
	Aliases: []string{"e"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("usage: eval <expr>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		expr := strings.Join(args, " ")
		v, err := parseAddr(s.fns, expr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %#x (%d)\n", expr, v, v)
		return nil
	},
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "列出系统进程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		procs, err := s.fns.GetProcessList()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range procs {
			fmt.Fprintf(out, "%-8d %s\n", p.Pid, p.Exe)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(threadCmd)
	debugRootCmd.AddCommand(evalCmd)
	debugRootCmd.AddCommand(psCmd)
}
