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
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgfuncs/cmd/debug"
	"github.com/hitzhangjie/dbgfuncs/pkg/bridge"
	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
	"github.com/hitzhangjie/dbgfuncs/pkg/module"
	"github.com/hitzhangjie/dbgfuncs/pkg/target"
)

// demo address space layout
const (
	demoTID       = 1000
	demoImageBase = 0x400000
	demoCodeBase  = 0x401000
	demoDataBase  = 0x402000
	demoTIBBase   = 0x7ffde000
	demoStackTop  = 0x7fffe000
	demoStackBase = 0x80000000
)

// demoTarget is a debuggee simulated in memory
type demoTarget struct {
	*memory.Fake
	*target.StaticProvider
}

// newDemoTarget builds a small image: two call sites in .text, a stack
// holding their return addresses and a two record SEH chain.
func newDemoTarget(ptrSize int) *demoTarget {
	mem := memory.NewFake()
	mem.Map(demoImageBase, 0x1000, "r--p")
	mem.Map(demoCodeBase, 0x1000, "r-xp")
	mem.Map(demoDataBase, 0x1000, "rw-p")
	mem.Map(demoTIBBase, 0x1000, "rw-p")
	mem.Map(demoStackTop, demoStackBase-demoStackTop, "rw-p")

	// call rel32 at 0x401100 and 0x401200, returning to 0x401105 and 0x401205
	mem.Poke(demoCodeBase+0x100, []byte{0xe8, 0x00, 0x01, 0x00, 0x00, 0x90})
	mem.Poke(demoCodeBase+0x200, []byte{0xe8, 0xf6, 0xfe, 0xff, 0xff, 0xc3})
	mem.Poke(demoDataBase, []byte("dbgfuncs demo data\x00"))

	sp := uint64(demoStackBase - 0x100)
	ptr := uint64(ptrSize)
	mem.PokePointer(sp, demoCodeBase+0x105, ptrSize)
	mem.PokePointer(sp+ptr, demoCodeBase+0x205, ptrSize)

	// exception registration records live on the stack, the head is kept in
	// the TIB at offset 0
	rec1, rec2 := sp+0x40, sp+0x80
	mem.PokePointer(demoTIBBase, rec1, ptrSize)
	mem.PokePointer(rec1, rec2, ptrSize)
	mem.PokePointer(rec1+ptr, demoCodeBase+0x300, ptrSize)
	mem.PokePointer(rec2, memory.PointerMask(ptrSize), ptrSize)
	mem.PokePointer(rec2+ptr, demoCodeBase+0x380, ptrSize)

	threads := target.NewStaticProvider()
	threads.SetContext(target.Context{
		TID:        demoTID,
		PC:         demoCodeBase + 0x10,
		SP:         sp,
		StackBase:  demoStackBase,
		StackLimit: demoStackTop,
		Regs:       map[string]uint64{"rax": demoDataBase},
	})
	head, _ := memory.ReadPointer(mem, demoTIBBase, ptrSize)
	threads.SetSEHHead(demoTID, head)

	return &demoTarget{Fake: mem, StaticProvider: threads}
}

var demoModules = []*module.Module{
	{
		Name: "demo.exe",
		Path: "/opt/demo/demo.exe",
		Base: demoImageBase,
		Size: 0x3000,
		Sections: []module.Section{
			{Name: ".text", Base: demoCodeBase, Size: 0x400},
			{Name: ".data", Base: demoDataBase, Size: 0x20},
		},
	},
}

// demoCmd represents the demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "在模拟的被调试进程上运行交互式调试会话",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := newDemoTarget(cfg.PtrSize)
		b := bridge.New(t,
			bridge.WithConfig(cfg),
			bridge.WithModules(demoModules...),
			bridge.WithModuleLoader(func(memory.Mapper) ([]*module.Module, error) {
				return demoModules, nil
			}))
		debug.CurrentSession = debug.NewDebugSession(b)
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		debug.CurrentSession.Start()
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
