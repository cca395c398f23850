/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgfuncs/cmd/debug"
	"github.com/hitzhangjie/dbgfuncs/pkg/bridge"
	"github.com/hitzhangjie/dbgfuncs/pkg/module"
	"github.com/hitzhangjie/dbgfuncs/pkg/symbol"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

// attached is the process of the running attach session, nil otherwise
var attached *target.Process

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <traceePID>",
	Short: "调试运行中进程",
	Long:  `调试运行中进程，退出时恢复所有补丁并detach，被调试进程继续运行`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if len(args) != 1 {
			return errors.New("参数错误")
		}

		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s invalid traceePID", args[0])
		}

		p, err := target.Attach(pid, cfg.PtrSize)
		if err != nil {
			if !target.IsElevated() {
				return fmt.Errorf("%v (not root and no CAP_SYS_PTRACE, check /proc/sys/kernel/yama/ptrace_scope)", err)
			}
			return err
		}
		attached = p

		opts := []bridge.Option{bridge.WithConfig(cfg)}
		if lines, err := loadLineTable(p); err != nil {
			fmt.Fprintf(os.Stderr, "no source line info: %v\n", err)
		} else {
			opts = append(opts, bridge.WithLineResolver(lines))
		}

		b := bridge.New(p, opts...)
		if err := b.MemUpdateMap(); err != nil {
			fmt.Fprintf(os.Stderr, "load modules: %v\n", err)
		}

		debug.CurrentSession = debug.NewDebugSession(b).AtExit(Cleanup)
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		debug.CurrentSession.Start()
	},
}

// loadLineTable loads the line table of the main executable of p, relocated
// to where the executable is mapped.
func loadLineTable(p *target.Process) (*symbol.LineTable, error) {
	exe, err := filepath.EvalSymlinks(fmt.Sprintf("/proc/%d/exe", p.Pid))
	if err != nil {
		return nil, err
	}
	regions, err := p.Regions()
	if err != nil {
		return nil, err
	}

	var base uint64
	for _, m := range module.FromRegions(regions) {
		if m.Path == exe {
			base = m.Base
			break
		}
	}
	bias, err := module.LoadBias(exe, base)
	if err != nil {
		return nil, err
	}
	return symbol.Analyze(exe, bias, cfg.SymbolCacheSize)
}

// Cleanup restores every patch and detaches from the tracee, the tracee keeps
// running.
func Cleanup() {
	if debug.CurrentSession != nil {
		n := debug.CurrentSession.Bridge().Patches().RestoreAll()
		fmt.Fprintf(os.Stdout, "restored %d patches\n", n)
	}
	if attached == nil {
		return
	}
	if err := attached.Detach(); err != nil {
		fmt.Fprintf(os.Stderr, "detach tracee: %d, err: %v\n", attached.Pid, err)
		return
	}
	fmt.Fprintf(os.Stdout, "tracee is an attached process, leave it running: %d\n", attached.Pid)
	attached = nil
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
