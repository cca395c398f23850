package debug

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var lineCmd = &cobra.Command{
	Use:   "line <file:lineno>",
	Short: "查看源码行对应的地址",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: line <file:lineno>")
		}
		s, err := session()
		if err != nil {
			return err
		}

		file, lineno, err := parseFileLineno(args[0])
		if err != nil {
			return err
		}
		addr := s.fns.GetAddrFromLine(file, lineno)
		if addr == 0 {
			return fmt.Errorf("no code at %s:%d", file, lineno)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d => %#x %s\n", file, lineno, addr, describeAddr(s.fns, addr))
		return nil
	},
}

var srcCmd = &cobra.Command{
	Use:     "src [addr]",
	Short:   "查看地址对应的源码，默认为当前线程的pc",
	Aliases: []string{"list", "l"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}

		expr := "pc"
		if len(args) != 0 {
			expr = args[0]
		}
		addr, err := parseAddr(s.fns, expr)
		if err != nil {
			return err
		}

		file, lineno, ok := s.fns.GetSourceFromAddr(addr)
		if !ok {
			return fmt.Errorf("no source for %#x", addr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x => %s:%d\n", addr, file, lineno)

		// print lines
		return listFileLines(cmd.OutOrStdout(), file, lineno, 5)
	},
}

// list file lines, lineno is 1-based
func listFileLines(out io.Writer, file string, lineno, rng int) error {

	lines, offset, err := listFile(file, lineno, rng)
	if err != nil {
		return fmt.Errorf("list file err: %v", err)
	}

	// use 1-based counter
	idx := offset + 1
	for _, ln := range lines {
		if idx != lineno {
			fmt.Fprintf(out, "%-4s\t%d\t%s\n", "", idx, ln)
		} else {
			fmt.Fprintf(out, "%-4s\t%d\t%s\n", "=>", idx, ln)
		}
		idx++
	}

	return nil
}

func init() {
	debugRootCmd.AddCommand(lineCmd)
	debugRootCmd.AddCommand(srcCmd)
}

// must be form file:lineno, like main.go:100
func parseFileLineno(s string) (file string, lineno int, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}

	file = s[:idx]
	v, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil || v <= 0 {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}
	lineno = int(v)
	return
}

// return value `offset` is zero-based counter
func listFile(file string, lineno, rng int) (lines []string, offset int, err error) {
	dat, err := ioutil.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("read file err: %v", err)
		return
	}

	raw := strings.Split(string(dat), "\n")
	count := len(raw)

	begin := lineno - rng
	if begin < 0 {
		begin = 0
	}
	if begin > count {
		return
	}

	end := lineno + rng
	if end > count {
		end = count
	}

	return raw[begin:end], begin, nil
}
